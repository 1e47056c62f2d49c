package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diffscan-io/diffscan/cmd/scan"
	"github.com/diffscan-io/diffscan/cmd/version"
	"github.com/diffscan-io/diffscan/pkg/shared/config"
	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

var (
	cfgFile   string
	AppConfig *config.Config
	rootCmd   = &cobra.Command{
		Use:                   "diffscan [command]",
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
		Short:                 "Diffscan runs a static-analysis engine diff-aware in CI.",
		Long: `Diffscan orchestrates a static-analysis engine against the files changed
between a baseline revision and the head revision, and reports only the
findings introduced since the baseline.
`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file (default is diffscan.yml)")
	rootCmd.AddCommand(version.NewVersionCmd())
	rootCmd.AddCommand(scan.ScanCmd)
}

// Execute runs the root command and maps the outcome to a process exit code.
// New findings exit 1; every failure class carries its own code.
func Execute() int {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	err := rootCmd.Execute()
	if err == nil {
		return scerrors.ExitOK
	}

	var newFindings *scerrors.NewFindingsPresentError
	if errors.As(err, &newFindings) {
		return scerrors.ExitNewFindings
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return scerrors.ExitCode(err)
}

func initConfig() {
	var err error

	AppConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(scerrors.ExitUsage)
	}
	if err := config.ValidateConfig(AppConfig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(scerrors.ExitUsage)
	}

	scan.Init(AppConfig)
}
