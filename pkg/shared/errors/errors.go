// Package errors defines the error taxonomy of the diff-aware scan pipeline
// and the mapping from errors to process exit codes.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Exit codes reported by the CLI. ExitNewFindings signals a successful run
// that produced new findings and must stay distinguishable from every
// failure code.
const (
	ExitOK          = 0
	ExitNewFindings = 1
	ExitUsage       = 2
	ExitFailure     = 3

	ExitUnresolvableRevision = 10
	ExitNoBaseline           = 11
	ExitAmbiguousMergeBase   = 12
	ExitInsufficientHistory  = 13
	ExitWorkingTreeCorrupted = 14

	ExitEngineExecution = 20
	ExitEngineTimeout   = 21
	ExitEngineOutput    = 22
)

// NewFindingsPresentError signals a successful scan that reported new
// findings. It exists so the CLI can surface ExitNewFindings through the
// normal error path; it is not a failure.
type NewFindingsPresentError struct {
	Count int
}

func (e *NewFindingsPresentError) Error() string {
	return fmt.Sprintf("%d new finding(s) reported", e.Count)
}

// UsageError indicates invalid flags or arguments.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string { return e.Reason }

// UnresolvableRevisionError indicates a revision reference that does not
// exist in the locally available history.
type UnresolvableRevisionError struct {
	Ref string
	Err error
}

func (e *UnresolvableRevisionError) Error() string {
	return fmt.Sprintf("unresolvable revision %q: %v", e.Ref, e.Err)
}

func (e *UnresolvableRevisionError) Unwrap() error { return e.Err }

// NoBaselineError indicates that no baseline revision could be determined
// from flags, CI environment, or configuration. Diff-aware scanning is
// impossible; the caller decides between aborting and a full scan.
type NoBaselineError struct {
	Hint string
}

func (e *NoBaselineError) Error() string {
	msg := "no baseline revision available for diff-aware scanning"
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

// AmbiguousMergeBaseError indicates baseline and head share no common
// ancestor, e.g. unrelated histories.
type AmbiguousMergeBaseError struct {
	Baseline string
	Head     string
}

func (e *AmbiguousMergeBaseError) Error() string {
	return fmt.Sprintf("no common ancestor between baseline %s and head %s", e.Baseline, e.Head)
}

// InsufficientHistoryError indicates a commit stayed unreachable after
// bounded history deepening.
type InsufficientHistoryError struct {
	Hash     string
	Attempts int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("commit %s unreachable after %d deepen attempts", e.Hash, e.Attempts)
}

// WorkingTreeCorruptedError is fatal: restoring the caller's working tree
// failed and the repository may be left in a foreign state. It carries the
// maximal diagnostic context available at the restore site.
type WorkingTreeCorruptedError struct {
	OriginalRef string
	Detail      string
	Err         error
}

func (e *WorkingTreeCorruptedError) Error() string {
	return fmt.Sprintf("working tree corrupted: failed to restore %q (%s): %v; restore your repository state manually",
		e.OriginalRef, e.Detail, e.Err)
}

func (e *WorkingTreeCorruptedError) Unwrap() error { return e.Err }

// EngineExecutionError indicates the analysis engine failed to execute:
// missing binary, crash, or an exit code outside the expected range.
type EngineExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *EngineExecutionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("engine execution failed (%s, exit %d): %v\n%s", e.Command, e.ExitCode, e.Err, e.Stderr)
	}
	return fmt.Sprintf("engine execution failed (%s, exit %d): %v", e.Command, e.ExitCode, e.Err)
}

func (e *EngineExecutionError) Unwrap() error { return e.Err }

// EngineTimeoutError indicates an engine invocation exceeded its bounded
// timeout and was killed. Partial output is discarded, never reported.
type EngineTimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *EngineTimeoutError) Error() string {
	return fmt.Sprintf("engine timed out after %s (%s)", e.Timeout, e.Command)
}

// EngineOutputError indicates the engine produced output that does not
// decode against the expected schema. It is never treated as zero findings.
type EngineOutputError struct {
	Reason string
	Err    error
}

func (e *EngineOutputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed engine output: %s: %v", e.Reason, e.Err)
	}
	return "malformed engine output: " + e.Reason
}

func (e *EngineOutputError) Unwrap() error { return e.Err }

// ExitCode maps an error from the pipeline onto its documented exit code.
// Unknown errors map to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		newFindings  *NewFindingsPresentError
		usage        *UsageError
		unresolvable *UnresolvableRevisionError
		noBaseline   *NoBaselineError
		ambiguous    *AmbiguousMergeBaseError
		insufficient *InsufficientHistoryError
		corrupted    *WorkingTreeCorruptedError
		engineExec   *EngineExecutionError
		engineTime   *EngineTimeoutError
		engineOutput *EngineOutputError
	)

	switch {
	case errors.As(err, &newFindings):
		return ExitNewFindings
	case errors.As(err, &usage):
		return ExitUsage
	case errors.As(err, &corrupted):
		return ExitWorkingTreeCorrupted
	case errors.As(err, &unresolvable):
		return ExitUnresolvableRevision
	case errors.As(err, &noBaseline):
		return ExitNoBaseline
	case errors.As(err, &ambiguous):
		return ExitAmbiguousMergeBase
	case errors.As(err, &insufficient):
		return ExitInsufficientHistory
	case errors.As(err, &engineTime):
		return ExitEngineTimeout
	case errors.As(err, &engineOutput):
		return ExitEngineOutput
	case errors.As(err, &engineExec):
		return ExitEngineExecution
	default:
		return ExitFailure
	}
}

// Recoverable reports whether the caller may react to the error by falling
// back to a full-repository scan instead of aborting.
func Recoverable(err error) bool {
	var (
		noBaseline *NoBaselineError
		ambiguous  *AmbiguousMergeBaseError
	)
	return errors.As(err, &noBaseline) || errors.As(err, &ambiguous)
}
