// Package sarif renders the reconciled delta as a SARIF 2.1.0 document so
// code-review tooling can annotate only the new findings.
package sarif

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/diffscan-io/diffscan/internal/findings"
	"github.com/diffscan-io/diffscan/internal/reconcile"
	"github.com/diffscan-io/diffscan/pkg/shared/files"
)

const (
	toolName       = "diffscan"
	informationURI = "https://github.com/diffscan-io/diffscan"
)

// Build renders the delta into a single-run SARIF report. Only new findings
// become results; persisting and fixed findings are already known to the
// reviewer and stay out of the document. The run GUID is derived from the
// session identifier so re-renders of the same session stay stable.
func Build(result reconcile.Result, sessionID, toolVersion string) (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("failed to create sarif report: %w", err)
	}

	run := sarif.NewRunWithInformationURI(toolName, informationURI)
	if toolVersion != "" {
		run.Tool.Driver.Version = &toolVersion
	}

	guid := uuid.NewSHA1(uuid.NameSpaceURL, []byte(informationURI+"/"+sessionID)).String()
	runID := toolName + "/" + sessionID
	run.AutomationDetails = &sarif.RunAutomationDetails{ID: &runID, GUID: &guid}

	for _, ruleID := range ruleIDs(result.New) {
		run.AddRule(ruleID)
	}
	for _, f := range result.New {
		addResult(run, f)
	}

	report.AddRun(run)
	return report, nil
}

// WriteFile renders the delta and writes it to path, creating missing parent
// directories.
func WriteFile(path string, result reconcile.Result, sessionID, toolVersion string) error {
	report, err := Build(result, sessionID, toolVersion)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := files.CreateFolderIfNotExists(dir); err != nil {
			return err
		}
	}
	if err := report.WriteFile(path); err != nil {
		return fmt.Errorf("failed to write sarif report to %q: %w", path, err)
	}
	return nil
}

func ruleIDs(list []findings.Finding) []string {
	seen := make(map[string]bool, len(list))
	var ids []string
	for _, f := range list {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}

func addResult(run *sarif.Run, f findings.Finding) {
	region := sarif.NewRegion().
		WithStartLine(f.Line).
		WithStartColumn(f.Column).
		WithEndLine(f.EndLine).
		WithEndColumn(f.EndColumn)

	location := sarif.NewLocationWithPhysicalLocation(
		sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewSimpleArtifactLocation(f.Path)).
			WithRegion(region),
	)

	result := run.CreateResultForRule(f.RuleID).
		WithLevel(level(f.Severity)).
		WithMessage(sarif.NewTextMessage(f.Message))
	result.AddLocation(location)

	identity := findings.Fingerprint(f)
	result.PartialFingerprints = map[string]interface{}{
		"matchHash/v1": identity.ContentHash,
		"identity/v1":  identity.Key(),
	}
}

func level(severity int) string {
	switch severity {
	case findings.SeverityError:
		return "error"
	case findings.SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}
