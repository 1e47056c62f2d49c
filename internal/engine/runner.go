// Package engine invokes the external analysis engine against an explicit
// target list and decodes its structured output.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/diffscan-io/diffscan/internal/findings"
	"github.com/diffscan-io/diffscan/pkg/shared/config"
	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

// exit codes the engine reports on success: 0 for a clean run, 1 when
// findings are present. Anything else is an execution failure.
const exitFindingsPresent = 1

// Runner executes the engine as a subprocess. Results are produced fresh
// per invocation; a failed or timed-out pass never yields partial results.
type Runner struct {
	binary    string
	rulesets  []string
	extraArgs []string
	timeout   time.Duration
	chunkSize int
	logger    hclog.Logger

	// commandContext is a test seam around exec.CommandContext.
	commandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewRunner builds a Runner from the engine configuration.
func NewRunner(cfg *config.Engine, logger hclog.Logger) *Runner {
	rulesets := make([]string, 0, len(cfg.Rulesets))
	for _, rs := range cfg.Rulesets {
		rulesets = append(rulesets, ResolveConfigShorthand(rs))
	}

	return &Runner{
		binary:         cfg.Binary,
		rulesets:       rulesets,
		extraArgs:      cfg.AdditionalArgs,
		timeout:        cfg.Timeout,
		chunkSize:      config.SetThen(cfg.ChunkSize, 500),
		logger:         logger,
		commandContext: exec.CommandContext,
	}
}

// ResolveConfigShorthand expands registry shorthand ruleset specifiers
// (p/, r/, s/) into their full URLs.
func ResolveConfigShorthand(spec string) string {
	if len(spec) >= 2 {
		switch spec[:2] {
		case "p/", "r/", "s/":
			return "https://semgrep.dev/c/" + spec
		}
	}
	return spec
}

// Run invokes the engine in workdir against exactly the given targets and
// returns the decoded findings. An empty target set short-circuits without
// invoking the engine. Target lists are chunked to stay under argv limits;
// each chunk runs under the configured timeout.
func (r *Runner) Run(ctx context.Context, workdir string, targets []string, label string) ([]findings.Finding, error) {
	if len(targets) == 0 {
		r.logger.Info("no targets; skipping engine invocation", "pass", label)
		return nil, nil
	}

	r.logger.Info("running engine", "pass", label, "targets", len(targets))

	var all []findings.Finding
	for start := 0; start < len(targets); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(targets) {
			end = len(targets)
		}
		chunk, err := r.runChunk(ctx, workdir, targets[start:end])
		if err != nil {
			return nil, err
		}
		all = append(all, chunk...)
	}

	r.logger.Info("engine pass finished", "pass", label, "findings", len(all))
	return all, nil
}

func (r *Runner) runChunk(ctx context.Context, workdir string, targets []string) ([]findings.Finding, error) {
	outputFile, err := os.CreateTemp("", "diffscan-engine-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create engine output file: %w", err)
	}
	outputPath := outputFile.Name()
	outputFile.Close()
	defer os.Remove(outputPath)

	args := []string{
		"--skip-unknown-extensions",
		"--disable-nosem",
		"--json",
		"-o", outputPath,
	}
	for _, rs := range r.rulesets {
		args = append(args, "--config", rs)
	}
	args = append(args, r.extraArgs...)
	args = append(args, targets...)

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := r.commandContext(cctx, r.binary, args...)
	cmd.Dir = workdir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	commandLine := r.binary + " " + strings.Join(args[:minInt(6, len(args))], " ") + " ..."
	r.logger.Debug("invoking engine", "command", commandLine, "targets", len(targets))

	runErr := cmd.Run()

	if cctx.Err() == context.DeadlineExceeded {
		return nil, &scerrors.EngineTimeoutError{Command: commandLine, Timeout: r.timeout}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			if exitErr.ExitCode() != exitFindingsPresent {
				return nil, &scerrors.EngineExecutionError{
					Command:  commandLine,
					ExitCode: exitErr.ExitCode(),
					Stderr:   stderr.String(),
					Err:      runErr,
				}
			}
			// exit 1 means findings were reported; fall through to decode.
		} else {
			return nil, &scerrors.EngineExecutionError{
				Command: commandLine,
				Stderr:  stderr.String(),
				Err:     runErr,
			}
		}
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, &scerrors.EngineOutputError{Reason: "failed to read output file", Err: err}
	}

	output, err := DecodeOutput(data)
	if err != nil {
		return nil, err
	}
	if len(output.Errors) > 0 {
		r.logger.Warn("engine reported internal errors", "count", len(output.Errors))
	}
	return toFindings(output.Results), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
