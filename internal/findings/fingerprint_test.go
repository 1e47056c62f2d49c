package findings

import "testing"

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "TrimsSurroundingWhitespace",
			input: "\n  token = load()  \n",
			want:  "token = load()",
		},
		{
			name:  "DedentsCommonIndentation",
			input: "    if ok {\n        use(token)\n    }",
			want:  "if ok {\n    use(token)\n}",
		},
		{
			name:  "StripsSuppressionComment",
			input: "token = load() # nosem: rule-id",
			want:  "token = load()",
		},
		{
			name:  "StripsSuppressionCommentCaseInsensitive",
			input: "token = load() // NOSEM",
			want:  "token = load()",
		},
		{
			name:  "KeepsUnrelatedComments",
			input: "token = load() # keep me",
			want:  "token = load() # keep me",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.input); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestFingerprintStableAcrossReformatting(t *testing.T) {
	base := Finding{RuleID: "rule.a", Path: "src/app.go", Matched: "token = load()"}
	reindented := base
	reindented.Matched = "        token = load()   "
	suppressed := base
	suppressed.Matched = "token = load() # nosem"
	moved := base
	moved.Line = 99
	moved.Matched = base.Matched

	want := Fingerprint(base).Key()
	for name, f := range map[string]Finding{
		"reindented": reindented,
		"suppressed": suppressed,
		"moved":      moved,
	} {
		if got := Fingerprint(f).Key(); got != want {
			t.Fatalf("%s fingerprint %q differs from base %q", name, got, want)
		}
	}
}

func TestFingerprintDiscriminates(t *testing.T) {
	base := Finding{RuleID: "rule.a", Path: "src/app.go", Matched: "token = load()"}

	otherRule := base
	otherRule.RuleID = "rule.b"
	otherPath := base
	otherPath.Path = "src/other.go"
	otherContent := base
	otherContent.Matched = "token = loadOther()"
	otherIndex := base
	otherIndex.Index = 1

	key := Fingerprint(base).Key()
	for name, f := range map[string]Finding{
		"rule":    otherRule,
		"path":    otherPath,
		"content": otherContent,
		"ordinal": otherIndex,
	} {
		if got := Fingerprint(f).Key(); got == key {
			t.Fatalf("changing %s did not change the fingerprint %q", name, key)
		}
	}
}

func TestAssignOrdinals(t *testing.T) {
	list := []Finding{
		{RuleID: "rule.a", Path: "a.go", Line: 30, Matched: "dup()"},
		{RuleID: "rule.a", Path: "a.go", Line: 10, Matched: "dup()"},
		{RuleID: "rule.a", Path: "a.go", Line: 20, Matched: "unique()"},
		{RuleID: "rule.a", Path: "b.go", Line: 5, Matched: "dup()"},
	}

	got := AssignOrdinals(list)

	// File order within a.go: line 10 gets ordinal 0, line 30 ordinal 1.
	byLine := map[int]int{}
	for _, f := range got {
		if f.Path == "a.go" && Normalize(f.Matched) == "dup()" {
			byLine[f.Line] = f.Index
		}
	}
	if byLine[10] != 0 || byLine[30] != 1 {
		t.Fatalf("duplicate ordinals = %v, want {10:0, 30:1}", byLine)
	}

	for _, f := range got {
		if f.Path == "b.go" && f.Index != 0 {
			t.Fatalf("b.go ordinal = %d, want 0", f.Index)
		}
		if Normalize(f.Matched) == "unique()" && f.Index != 0 {
			t.Fatalf("unique match ordinal = %d, want 0", f.Index)
		}
	}
}

func TestAssignOrdinalsDeterministic(t *testing.T) {
	forward := []Finding{
		{RuleID: "rule.a", Path: "a.go", Line: 10, Matched: "dup()"},
		{RuleID: "rule.a", Path: "a.go", Line: 30, Matched: "dup()"},
	}
	reversed := []Finding{forward[1], forward[0]}

	a := AssignOrdinals(forward)
	b := AssignOrdinals(reversed)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("ordinal assignment depends on input order: %+v vs %+v", a[i], b[i])
		}
	}
}

func TestAssignOrdinalsDoesNotMutateInput(t *testing.T) {
	list := []Finding{
		{RuleID: "rule.a", Path: "a.go", Line: 30, Matched: "dup()", Index: 7},
	}
	AssignOrdinals(list)
	if list[0].Index != 7 {
		t.Fatalf("input slice was mutated: Index = %d", list[0].Index)
	}
}

func TestSeverityRoundTrip(t *testing.T) {
	testCases := []struct {
		word  string
		level int
	}{
		{"ERROR", SeverityError},
		{"WARNING", SeverityWarning},
		{"INFO", SeverityInfo},
		{"bogus", SeverityInfo},
	}
	for _, tc := range testCases {
		if got := SeverityFromString(tc.word); got != tc.level {
			t.Fatalf("SeverityFromString(%q) = %d, want %d", tc.word, got, tc.level)
		}
	}
	if got := SeverityString(SeverityError); got != "ERROR" {
		t.Fatalf("SeverityString(SeverityError) = %q, want ERROR", got)
	}
}
