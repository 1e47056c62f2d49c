package findings

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// inline suppression markers are stripped before hashing so that adding or
// removing one does not change a finding's identity.
var suppressionCommentRE = regexp.MustCompile(`(?i)[:#/]+\s*nosem.*$`)

// Identity is the stable, content-based fingerprint of a finding: rule
// identifier, file path, a one-way hash of the normalized matched span, and
// an ordinal disambiguating identical matches within one file.
//
// The path is deliberately part of the identity: renaming a file reports the
// old finding as fixed and the new one as new. Cross-rename continuity would
// require content tracking the reconciler cannot do without line numbers,
// which the identity scheme excludes on purpose.
type Identity struct {
	RuleID      string
	Path        string
	ContentHash string
	Index       int
}

// Key returns the full identity key, including the ordinal.
func (id Identity) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d", id.RuleID, id.Path, id.ContentHash, id.Index)
}

// BaseKey returns the identity key without the ordinal, used to group
// identical matches when assigning ordinals and counting multiset entries.
func (id Identity) BaseKey() string {
	return fmt.Sprintf("%s|%s|%s", id.RuleID, id.Path, id.ContentHash)
}

// Fingerprint derives the Identity of a finding. It is deterministic:
// identical input always yields an identical fingerprint.
func Fingerprint(f Finding) Identity {
	sum := sha256.Sum256([]byte(Normalize(f.Matched)))
	return Identity{
		RuleID:      f.RuleID,
		Path:        f.Path,
		ContentHash: hex.EncodeToString(sum[:]),
		Index:       f.Index,
	}
}

// Normalize prepares a matched code span for hashing: common leading
// indentation is removed, inline suppression comments are stripped, and
// surrounding whitespace is trimmed. Pure reformatting of the span therefore
// does not change the fingerprint.
func Normalize(span string) string {
	span = dedent(span)
	lines := strings.Split(span, "\n")
	for i, line := range lines {
		lines[i] = suppressionCommentRE.ReplaceAllString(line, "")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// dedent removes the longest common leading whitespace from all non-blank lines.
func dedent(s string) string {
	lines := strings.Split(s, "\n")

	margin := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			margin = indent
			first = false
			continue
		}
		margin = commonPrefix(margin, indent)
	}

	if margin == "" {
		return s
	}
	for i, line := range lines {
		if strings.HasPrefix(line, margin) {
			lines[i] = line[len(margin):]
		}
	}
	return strings.Join(lines, "\n")
}

func commonPrefix(a, b string) string {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	i := 0
	for i < max && a[i] == b[i] {
		i++
	}
	return a[:i]
}
