package engine

import (
	"encoding/json"

	"github.com/diffscan-io/diffscan/internal/findings"
	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

// Output is the engine's structured result document.
type Output struct {
	Version string            `json:"version"`
	Results []Result          `json:"results"`
	Errors  []json.RawMessage `json:"errors"`
}

// Result is one match record in the engine's JSON schema.
type Result struct {
	CheckID string   `json:"check_id"`
	Path    string   `json:"path"`
	Start   Position `json:"start"`
	End     Position `json:"end"`
	Extra   Extra    `json:"extra"`
}

// Position is a 1-based line/column pair.
type Position struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// Extra carries the rule-defined message, severity, and the raw matched span.
type Extra struct {
	Message   string                 `json:"message"`
	Severity  string                 `json:"severity"`
	Lines     string                 `json:"lines"`
	IsIgnored bool                   `json:"is_ignored"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// rawOutput detects schema drift: a document without a results key is not a
// valid result set and must not decode to zero findings.
type rawOutput struct {
	Version string             `json:"version"`
	Results *[]Result          `json:"results"`
	Errors  *[]json.RawMessage `json:"errors"`
}

// DecodeOutput parses the engine's JSON document, distinguishing malformed
// output from an empty result set.
func DecodeOutput(data []byte) (*Output, error) {
	if len(data) == 0 {
		return nil, &scerrors.EngineOutputError{Reason: "empty output document"}
	}

	var raw rawOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &scerrors.EngineOutputError{Reason: "invalid JSON", Err: err}
	}
	if raw.Results == nil {
		return nil, &scerrors.EngineOutputError{Reason: "results field missing; unsupported output schema version " + raw.Version}
	}

	out := &Output{Version: raw.Version, Results: *raw.Results}
	if raw.Errors != nil {
		out.Errors = *raw.Errors
	}
	return out, nil
}

// toFindings converts result records to the domain model, dropping matches
// the engine itself marked as suppressed.
func toFindings(results []Result) []findings.Finding {
	var out []findings.Finding
	for _, r := range results {
		if r.Extra.IsIgnored {
			continue
		}
		out = append(out, findings.Finding{
			RuleID:    r.CheckID,
			Path:      r.Path,
			Line:      r.Start.Line,
			Column:    r.Start.Col,
			EndLine:   r.End.Line,
			EndColumn: r.End.Col,
			Severity:  findings.SeverityFromString(r.Extra.Severity),
			Message:   r.Extra.Message,
			Matched:   r.Extra.Lines,
		})
	}
	return out
}
