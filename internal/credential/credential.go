// Package credential resolves the two API secrets once at startup.
//
// Secrets are looked up by variable name in an ordered list of [Source]
// values: the process environment (after dotenv files were loaded into it)
// and then key files of KEY = "value" lines. A missing primary secret blocks
// every session; [Resolve] then asks a [Prompter] to collect it, and fails
// with [ErrCredentialMissing] when none is available or the player gives up.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// ErrCredentialMissing is returned when no primary secret could be obtained.
var ErrCredentialMissing = errors.New("credential: primary key missing")

// Set holds the resolved secrets. Secondary may be empty.
type Set struct {
	Primary   string
	Secondary string
}

// Get returns the secret for ref ("primary" or "secondary").
func (s Set) Get(ref string) string {
	switch ref {
	case "primary":
		return s.Primary
	case "secondary":
		return s.Secondary
	}
	return ""
}

// String masks both secrets so a Set can be logged safely.
func (s Set) String() string {
	return fmt.Sprintf("credential.Set{primary:%s secondary:%s}", mask(s.Primary), mask(s.Secondary))
}

func mask(v string) string {
	if v == "" {
		return "unset"
	}
	return "set"
}

// Source looks a secret up by variable name.
type Source interface {
	Lookup(name string) (string, bool)
}

// EnvSource reads the process environment.
type EnvSource struct{}

// Lookup implements Source.
func (EnvSource) Lookup(name string) (string, bool) { return os.LookupEnv(name) }

// MapSource serves secrets from a map, such as a parsed key file.
type MapSource map[string]string

// Lookup implements Source.
func (m MapSource) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Options configures [Resolve].
type Options struct {
	// PrimaryEnv and SecondaryEnv are the variable names looked up.
	PrimaryEnv   string
	SecondaryEnv string

	// EnvFiles are dotenv files loaded into the process environment.
	// Variables that are already set win. Missing files are skipped.
	EnvFiles []string

	// KeyFiles are parsed with the dotenv grammar, which also accepts the
	// spaced KEY = "value" form. Missing files are skipped.
	KeyFiles []string
}

// Sources loads the dotenv files and returns the lookup order for opts.
func Sources(opts Options) ([]Source, error) {
	for _, path := range opts.EnvFiles {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Debug("credential: env file not found", "path", path)
				continue
			}
			return nil, fmt.Errorf("credential: load env file %q: %w", path, err)
		}
	}

	sources := []Source{EnvSource{}}
	for _, path := range opts.KeyFiles {
		m, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Debug("credential: key file not found", "path", path)
				continue
			}
			return nil, fmt.Errorf("credential: read key file %q: %w", path, err)
		}
		sources = append(sources, MapSource(m))
	}
	return sources, nil
}

// Lookup returns the first non-empty value of each name across sources.
func Lookup(sources []Source, primaryName, secondaryName string) Set {
	return Set{
		Primary:   first(sources, primaryName),
		Secondary: first(sources, secondaryName),
	}
}

func first(sources []Source, name string) string {
	if name == "" {
		return ""
	}
	for _, s := range sources {
		if v, ok := s.Lookup(name); ok && v != "" {
			return v
		}
	}
	return ""
}

// Prompter collects secrets interactively. current holds what was found so
// far; the returned Set replaces it. Implementations must not return a Set
// with an empty Primary without an error.
type Prompter interface {
	Prompt(ctx context.Context, current Set) (Set, error)
}

// Resolve looks both secrets up and falls back to prompter when the primary
// one is missing. prompter may be nil.
func Resolve(ctx context.Context, opts Options, prompter Prompter) (Set, error) {
	sources, err := Sources(opts)
	if err != nil {
		return Set{}, err
	}
	set := Lookup(sources, opts.PrimaryEnv, opts.SecondaryEnv)
	if set.Primary != "" {
		slog.Debug("credential: resolved", "credentials", set.String())
		return set, nil
	}
	if prompter == nil {
		return Set{}, fmt.Errorf("%w: set %s", ErrCredentialMissing, opts.PrimaryEnv)
	}

	slog.Info("credential: primary key missing, prompting", "env", opts.PrimaryEnv)
	got, err := prompter.Prompt(ctx, set)
	if err != nil {
		return Set{}, err
	}
	if got.Primary == "" {
		return Set{}, ErrCredentialMissing
	}
	if got.Secondary == "" {
		got.Secondary = set.Secondary
	}
	return got, nil
}
