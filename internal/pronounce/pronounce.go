// Package pronounce rewrites text before speech synthesis so that names,
// numerals, and rare readings are spoken correctly.
//
// A [Table] is an ordered list of literal rules. [Table.Prepare] applies the
// whole table in a single left-to-right scan over the original text: at each
// position the first rule (in table order) whose key matches is replaced, and
// the emitted expansion is never scanned again. An expansion that contains
// its own key therefore appears exactly once.
//
// Displayed text is never passed through a Table; only synthesis input is.
package pronounce

import "strings"

// Rule maps a literal key to the reading sent to the speech backend.
type Rule struct {
	Key     string `yaml:"key"`
	Reading string `yaml:"reading"`
}

// Table is an immutable, ordered set of pronunciation rules. It is safe for
// concurrent use.
type Table struct {
	rules    []Rule
	replacer *strings.Replacer
}

// NewTable builds a Table from rules in priority order. Rules with an empty
// key and rules whose reading equals the key are skipped.
func NewTable(rules []Rule) *Table {
	kept := make([]Rule, 0, len(rules))
	pairs := make([]string, 0, len(rules)*2)
	for _, r := range rules {
		if r.Key == "" || r.Key == r.Reading {
			continue
		}
		kept = append(kept, r)
		pairs = append(pairs, r.Key, r.Reading)
	}
	return &Table{rules: kept, replacer: strings.NewReplacer(pairs...)}
}

// Prepare returns text with every rule applied once. Text containing no key is
// returned unchanged.
func (t *Table) Prepare(text string) string {
	if t == nil || len(t.rules) == 0 {
		return text
	}
	return t.replacer.Replace(text)
}

// Rules returns a copy of the effective rules in priority order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Len returns the number of effective rules.
func (t *Table) Len() int { return len(t.rules) }
