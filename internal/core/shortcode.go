package core

import (
	"fmt"
	"strings"
)

// MaxShortCodeDigits is the longest input treated as a short code.
const MaxShortCodeDigits = 3

// DefaultStudentIDLength is the length of a full student ID in the current intake.
const DefaultStudentIDLength = 10

// ShortCodeExpander turns a 1..3 digit code into full student IDs. Each prefix
// is joined with the code left-padded by zeros up to IDLength.
type ShortCodeExpander struct {
	Prefixes []string
	IDLength int
}

// DefaultShortCodeExpander covers the current intake ("59" -> "6810610059").
func DefaultShortCodeExpander() ShortCodeExpander {
	return ShortCodeExpander{Prefixes: []string{"6810610"}, IDLength: DefaultStudentIDLength}
}

// ParseShortCodePrefixes parses a comma separated list of digit prefixes.
func ParseShortCodePrefixes(s string, idLength int) (ShortCodeExpander, error) {
	e := ShortCodeExpander{IDLength: idLength}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if CanonicalID(p) != p {
			return ShortCodeExpander{}, fmt.Errorf("short code prefix %q must contain digits only", p)
		}
		if len(p)+MaxShortCodeDigits > idLength {
			return ShortCodeExpander{}, fmt.Errorf("short code prefix %q too long for id length %d", p, idLength)
		}
		e.Prefixes = append(e.Prefixes, p)
	}
	if len(e.Prefixes) == 0 {
		return ShortCodeExpander{}, fmt.Errorf("no short code prefixes configured")
	}
	return e, nil
}

// IsShortCode reports whether the canonical input is 1..3 digits long.
func IsShortCode(input string) bool {
	id := CanonicalID(input)
	return len(id) >= 1 && len(id) <= MaxShortCodeDigits
}

// Candidates returns every full ID the code could stand for, without
// consulting the roster. Leading zeros of the code are ignored, so "00"
// reads as "0".
func (e ShortCodeExpander) Candidates(input string) []string {
	code := CanonicalID(input)
	if code == "" || len(code) > MaxShortCodeDigits {
		return nil
	}
	code = strings.TrimLeft(code, "0")
	if code == "" {
		code = "0"
	}
	seen := make(map[string]struct{}, len(e.Prefixes))
	var out []string
	for _, prefix := range e.Prefixes {
		width := e.IDLength - len(prefix)
		if width < len(code) {
			continue
		}
		id := prefix + strings.Repeat("0", width-len(code)) + code
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Expand returns the candidates present in roster, in prefix order.
// An empty result means the caller should fall back to a literal lookup.
func (e ShortCodeExpander) Expand(input string, roster map[string]struct{}) []string {
	var out []string
	for _, id := range e.Candidates(input) {
		if _, ok := roster[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// ExpandShortCode expands input with the default prefix table.
func ExpandShortCode(input string, roster map[string]struct{}) []string {
	return DefaultShortCodeExpander().Expand(input, roster)
}
