package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// maxAttempts bounds how often an empty primary key is asked for again.
const maxAttempts = 3

// TerminalPrompter is the blocking key modal for the terminal: two masked
// inputs, where confirming is only accepted once the primary one is
// non-empty.
type TerminalPrompter struct {
	// Out receives the prompts. Default: os.Stderr.
	Out io.Writer

	// ReadSecret reads one line without echo. Default: term.ReadPassword on
	// stdin.
	ReadSecret func() (string, error)
}

// NewTerminalPrompter returns a prompter bound to stdin. It reports false
// when stdin is not a terminal.
func NewTerminalPrompter() (*TerminalPrompter, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, false
	}
	return &TerminalPrompter{
		Out: os.Stderr,
		ReadSecret: func() (string, error) {
			b, err := term.ReadPassword(fd)
			return string(b), err
		},
	}, true
}

var _ Prompter = (*TerminalPrompter)(nil)

// Prompt implements Prompter.
func (p *TerminalPrompter) Prompt(ctx context.Context, current Set) (Set, error) {
	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	if p.ReadSecret == nil {
		return Set{}, errors.New("credential: prompter has no input")
	}

	fmt.Fprintln(out, "An API key is required to start.")
	var primary string
	for attempt := 0; primary == "" && attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Set{}, err
		}
		fmt.Fprint(out, "Primary API key: ")
		v, err := p.ReadSecret()
		fmt.Fprintln(out)
		if err != nil {
			return Set{}, fmt.Errorf("credential: read primary key: %w", err)
		}
		primary = strings.TrimSpace(v)
		if primary == "" {
			fmt.Fprintln(out, "The primary key must not be empty.")
		}
	}
	if primary == "" {
		return Set{}, ErrCredentialMissing
	}

	secondary := current.Secondary
	if secondary == "" {
		fmt.Fprint(out, "Secondary API key (optional, Enter to skip): ")
		v, err := p.ReadSecret()
		fmt.Fprintln(out)
		if err != nil {
			return Set{}, fmt.Errorf("credential: read secondary key: %w", err)
		}
		secondary = strings.TrimSpace(v)
	}
	return Set{Primary: primary, Secondary: secondary}, nil
}
