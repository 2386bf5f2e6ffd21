package core

import (
	"fmt"
	"strings"
)

// GroupRange assigns every ID in [Low, High] (inclusive, numeric order) to Name.
type GroupRange struct {
	Low  string
	High string
	Name string
}

// GroupTable classifies student IDs into majors. The first matching range
// wins; unmatched IDs fall into Default.
type GroupTable struct {
	Ranges  []GroupRange
	Default string
}

// DefaultGroupTable reproduces the current intake split.
func DefaultGroupTable() GroupTable {
	return GroupTable{
		Ranges:  []GroupRange{{Low: "6810610059", High: "6810610999", Name: "ผลิตภัณฑ์"}},
		Default: "กราฟิก",
	}
}

// Classify returns the group name of id.
func (t GroupTable) Classify(id string) string {
	id = CanonicalID(id)
	for _, r := range t.Ranges {
		if compareIDs(id, r.Low) >= 0 && compareIDs(id, r.High) <= 0 {
			return r.Name
		}
	}
	return t.Default
}

// compareIDs orders digit strings numerically without overflow.
func compareIDs(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return strings.Compare(a, b)
}

// ParseGroupTable parses "<low>-<high>=<name>;...;*=<default>".
func ParseGroupTable(s string) (GroupTable, error) {
	var t GroupTable
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		span, name, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return GroupTable{}, fmt.Errorf("invalid group entry %q: expected range=name", part)
		}
		span = strings.TrimSpace(span)
		if span == "*" {
			t.Default = name
			continue
		}
		low, high, ok := strings.Cut(span, "-")
		if !ok {
			low, high = span, span
		}
		low, high = strings.TrimSpace(low), strings.TrimSpace(high)
		if low == "" || CanonicalID(low) != low || CanonicalID(high) != high {
			return GroupTable{}, fmt.Errorf("invalid group range %q", span)
		}
		if compareIDs(low, high) > 0 {
			return GroupTable{}, fmt.Errorf("group range %q is reversed", span)
		}
		t.Ranges = append(t.Ranges, GroupRange{Low: low, High: high, Name: name})
	}
	if t.Default == "" && len(t.Ranges) == 0 {
		return GroupTable{}, fmt.Errorf("empty group table")
	}
	return t, nil
}
