package scan

import (
	"fmt"

	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

// validateScanArgs checks flag combinations and resolves the positional
// repository path. All violations surface as UsageError so the CLI exits
// with the usage code rather than a pipeline failure code.
func validateScanArgs(options *RunOptionsScan, args []string) error {
	if len(args) > 1 {
		return &scerrors.UsageError{Reason: fmt.Sprintf("expected at most one repository path, got %d arguments", len(args))}
	}
	if len(args) == 1 {
		options.RepoPath = args[0]
	}

	if options.Full && options.BaselineRef != "" {
		return &scerrors.UsageError{Reason: "--full and --baseline-ref are mutually exclusive"}
	}

	return nil
}
