// Package reconcile classifies head findings against baseline findings by
// fingerprint into disjoint new, fixed, and persisting sets.
package reconcile

import (
	"sort"

	"github.com/diffscan-io/diffscan/internal/findings"
)

// Result partitions the two scan passes. Every head finding appears in
// exactly one of {New, Persisting}; every baseline finding appears in
// exactly one of {Fixed, Persisting}.
type Result struct {
	New        []findings.Finding `json:"new"`
	Fixed      []findings.Finding `json:"fixed"`
	Persisting []findings.Finding `json:"persisting"`
}

// Counts summarizes the partition sizes.
func (r Result) Counts() (newCount, fixedCount, persistingCount int) {
	return len(r.New), len(r.Fixed), len(r.Persisting)
}

// Reconcile diffs the baseline findings against the head findings by
// fingerprint. It is a pure function: no I/O, inputs are not mutated.
//
// Both inputs get canonical ordinals assigned first, so identical matches
// carry indexes 0..n-1 in file order on each side. A head finding persists
// when the baseline holds the same full fingerprint (rule, path, content
// hash, ordinal); since ordinals are canonical, the lowest-ordinal matches
// pair up and any surplus matches with the highest ordinals come out as new.
// New occurrences of repeated identical code are therefore attributed to the
// bottom of the file, a deliberate policy rather than an artifact. A rule
// identifier change between the two config states breaks continuity: old-id
// findings are all fixed, new-id findings are all new.
func Reconcile(baseline, head []findings.Finding) Result {
	baseline = findings.AssignOrdinals(baseline)
	head = findings.AssignOrdinals(head)

	baselineKeys := make(map[string]bool, len(baseline))
	for _, f := range baseline {
		baselineKeys[findings.Fingerprint(f).Key()] = true
	}
	headKeys := make(map[string]bool, len(head))
	for _, f := range head {
		headKeys[findings.Fingerprint(f).Key()] = true
	}

	var result Result
	for _, f := range head {
		if baselineKeys[findings.Fingerprint(f).Key()] {
			result.Persisting = append(result.Persisting, f)
		} else {
			result.New = append(result.New, f)
		}
	}
	for _, f := range baseline {
		if !headKeys[findings.Fingerprint(f).Key()] {
			result.Fixed = append(result.Fixed, f)
		}
	}

	sortFindings(result.New)
	sortFindings(result.Fixed)
	sortFindings(result.Persisting)
	return result
}

func sortFindings(list []findings.Finding) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Path != list[j].Path {
			return list[i].Path < list[j].Path
		}
		if list[i].Line != list[j].Line {
			return list[i].Line < list[j].Line
		}
		if list[i].RuleID != list[j].RuleID {
			return list[i].RuleID < list[j].RuleID
		}
		return list[i].Index < list[j].Index
	})
}
