package scan

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/diffscan-io/diffscan/cmd/version"
	"github.com/diffscan-io/diffscan/internal/findings"
	"github.com/diffscan-io/diffscan/internal/sarif"
	"github.com/diffscan-io/diffscan/internal/session"
	"github.com/diffscan-io/diffscan/pkg/shared/config"
	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
	"github.com/diffscan-io/diffscan/pkg/shared/logger"
)

// RunOptionsScan holds the arguments for the scan command.
type RunOptionsScan struct {
	BaselineRef string
	HeadRef     string
	Full        bool
	Rulesets    []string
	SarifOutput string
	IgnoreFile  string
	CIKind      string
	RepoPath    string
}

var (
	AppConfig        *config.Config
	scanOptions      RunOptionsScan
	exampleScanUsage = `  # Diff-aware scan inside CI, revisions picked up from the environment
  diffscan scan --config p/default

  # Diff-aware scan against an explicit baseline
  diffscan scan --baseline-ref origin/main --config p/default /path/to/repo

  # Full scan of everything tracked at head
  diffscan scan --full --config p/default

  # Write the new findings as SARIF for review annotation
  diffscan scan --config p/default --sarif-output findings.sarif`
)

// ScanCmd represents the scan command.
var ScanCmd = &cobra.Command{
	Use:                   "scan [--baseline-ref/-b REV] [--head-ref REV] [--full] [--config/-c RULESET]... [--sarif-output/-o PATH] [PATH]",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleScanUsage,
	Short:                 "Scan the files changed since a baseline revision and report new findings",
	RunE:                  runScanCommand,
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

// runScanCommand executes the scan command.
func runScanCommand(cmd *cobra.Command, args []string) error {
	log := logger.NewLogger(AppConfig, "core-scan")

	if err := validateScanArgs(&scanOptions, args); err != nil {
		log.Error("invalid scan arguments", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := session.Options{
		RepoPath:    scanOptions.RepoPath,
		BaselineRef: scanOptions.BaselineRef,
		HeadRef:     scanOptions.HeadRef,
		Full:        scanOptions.Full,
		CIKind:      scanOptions.CIKind,
		IgnoreFile:  scanOptions.IgnoreFile,
		Rulesets:    scanOptions.Rulesets,
	}

	sess := session.New(AppConfig, log, opts)
	summary, err := sess.Run(ctx, opts)
	if err != nil {
		log.Error("scan failed", "error", err)
		return err
	}

	if scanOptions.SarifOutput != "" {
		if err := sarif.WriteFile(scanOptions.SarifOutput, summary.Result, summary.ID, version.CoreVersion); err != nil {
			log.Error("failed to write sarif report", "error", err)
			return err
		}
		log.Info("wrote sarif report", "path", scanOptions.SarifOutput)
	}

	printSummary(summary)

	if n := len(summary.Result.New); n > 0 {
		return &scerrors.NewFindingsPresentError{Count: n}
	}
	log.Info("scan command completed successfully")
	return nil
}

// printSummary writes the human-readable outcome to stdout.
func printSummary(summary *session.Summary) {
	newCount, fixedCount, persistingCount := summary.Result.Counts()

	if summary.FullScan {
		fmt.Printf("Full scan of %s\n", summary.Head)
	} else {
		fmt.Printf("Diff-aware scan %s -> %s\n", summary.Baseline, summary.Head)
	}
	fmt.Printf("Findings: %d new, %d fixed, %d persisting\n", newCount, fixedCount, persistingCount)

	for _, f := range summary.Result.New {
		fmt.Printf("  %s  %s:%d:%d  %s\n",
			findings.SeverityString(f.Severity), f.Path, f.Line, f.Column, f.RuleID)
		if f.Message != "" {
			fmt.Printf("      %s\n", f.Message)
		}
	}
}

// Initialize flags for the scan command.
func init() {
	ScanCmd.Flags().StringVarP(&scanOptions.BaselineRef, "baseline-ref", "b", "", "Baseline revision to diff against. Defaults to the CI-provided baseline, then the configured default branch.")
	ScanCmd.Flags().StringVar(&scanOptions.HeadRef, "head-ref", "", "Head revision to scan. Defaults to the currently checked-out commit.")
	ScanCmd.Flags().BoolVar(&scanOptions.Full, "full", false, "Scan every tracked file at head instead of the changed set.")
	ScanCmd.Flags().StringSliceVarP(&scanOptions.Rulesets, "config", "c", nil, "Ruleset for the engine (repeatable). Registry shorthand like p/default is expanded.")
	ScanCmd.Flags().StringVarP(&scanOptions.SarifOutput, "sarif-output", "o", "", "Path to write the new findings as a SARIF report.")
	ScanCmd.Flags().StringVar(&scanOptions.IgnoreFile, "ignore-file", "", "Path-ignore file inside the repository, overriding the configured one.")
	ScanCmd.Flags().StringVar(&scanOptions.CIKind, "ci", "", "CI provider to read revision hints from (github, gitlab, bitbucket). Detected when omitted.")
}
