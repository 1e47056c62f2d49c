// Package findings holds the domain model for engine matches and their
// content-derived identity.
package findings

import "sort"

// Severity levels reported by the engine, normalized to integers.
const (
	SeverityInfo    = 0
	SeverityWarning = 1
	SeverityError   = 2
)

// Finding is one reported match from the engine. Line and column are
// 1-based. Findings are produced fresh per engine invocation and never
// mutated afterwards, only classified.
type Finding struct {
	RuleID    string `json:"rule_id"`
	Ruleset   string `json:"ruleset,omitempty"`
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   int    `json:"end_line,omitempty"`
	EndColumn int    `json:"end_column,omitempty"`
	Severity  int    `json:"severity"`
	Message   string `json:"message"`

	// Matched is the raw matched code span as reported by the engine.
	Matched string `json:"matched"`

	// Index disambiguates multiple matches of the same rule and normalized
	// content within one file, assigned in file order. See AssignOrdinals.
	Index int `json:"index"`
}

// SeverityFromString maps the engine's severity words to integer levels.
func SeverityFromString(severity string) int {
	switch severity {
	case "ERROR":
		return SeverityError
	case "WARNING":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// SeverityString renders an integer level back to the engine's vocabulary.
func SeverityString(severity int) string {
	switch severity {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	default:
		return "INFO"
	}
}

// AssignOrdinals sorts findings into file order and assigns each one an
// ordinal index among the findings sharing its identity base (rule, path,
// normalized content). Ordinal assignment must be deterministic: it depends
// only on path, position, and rule, never on input order.
func AssignOrdinals(list []Finding) []Finding {
	out := make([]Finding, len(list))
	copy(out, list)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		if out[i].Column != out[j].Column {
			return out[i].Column < out[j].Column
		}
		return out[i].RuleID < out[j].RuleID
	})

	seen := make(map[string]int, len(out))
	for i := range out {
		base := Fingerprint(out[i]).BaseKey()
		out[i].Index = seen[base]
		seen[base]++
	}
	return out
}
