// Package session orchestrates one diff-aware scan: revision resolution,
// target selection, the two engine passes, and reconciliation.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/diffscan-io/diffscan/internal/ci"
	"github.com/diffscan-io/diffscan/internal/engine"
	"github.com/diffscan-io/diffscan/internal/findings"
	gitclient "github.com/diffscan-io/diffscan/internal/git"
	"github.com/diffscan-io/diffscan/internal/reconcile"
	"github.com/diffscan-io/diffscan/internal/revision"
	"github.com/diffscan-io/diffscan/internal/targets"
	"github.com/diffscan-io/diffscan/internal/worktree"
	"github.com/diffscan-io/diffscan/pkg/shared/config"
	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

// Options are the per-invocation knobs, from flags and the CI environment.
type Options struct {
	RepoPath    string
	BaselineRef string
	HeadRef     string
	Full        bool
	CIKind      string
	IgnoreFile  string
	Rulesets    []string
}

// Summary is the outcome of a completed session.
type Summary struct {
	ID       string           `json:"id"`
	Baseline string           `json:"baseline,omitempty"`
	Head     string           `json:"head"`
	FullScan bool             `json:"full_scan"`
	Targets  targets.Set      `json:"-"`
	Result   reconcile.Result `json:"result"`
	Profile  ci.Profile       `json:"-"`
}

// scanRunner is the engine seam; satisfied by *engine.Runner.
type scanRunner interface {
	Run(ctx context.Context, workdir string, paths []string, label string) ([]findings.Finding, error)
}

// Session wires the pipeline components together for one scan.
type Session struct {
	cfg    *config.Config
	logger hclog.Logger
	runner scanRunner
}

// New builds a Session from the loaded configuration. Ruleset overrides from
// flags replace the configured rulesets for this session only.
func New(cfg *config.Config, logger hclog.Logger, opts Options) *Session {
	engineCfg := cfg.Engine
	if len(opts.Rulesets) > 0 {
		engineCfg.Rulesets = opts.Rulesets
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
		runner: engine.NewRunner(&engineCfg, logger.Named("engine")),
	}
}

var fullSHARE = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Run executes the scan pipeline and returns the reconciled summary. The
// baseline pass completes before the head pass begins; a failure in either
// aborts the session after the working tree is restored.
func (s *Session) Run(ctx context.Context, opts Options) (*Summary, error) {
	profile := ci.ResolveProfile(s.logger, opts.CIKind)

	repo, root, err := openRepository(opts.RepoPath)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("opened repository", "root", root)

	if remoteURL := originURL(repo); remoteURL != "" {
		ci.HydrateFromRemote(&profile, remoteURL)
	}

	client, err := gitclient.New(s.logger.Named("git"), &s.cfg.GitClient)
	if err != nil {
		return nil, err
	}

	snapshotter, err := worktree.NewSnapshotter(repo, root, client, s.cfg.GitClient.DeepenAttempts, s.logger.Named("worktree"))
	if err != nil {
		return nil, err
	}

	ignoreFile := s.cfg.Scan.IgnoreFile
	if opts.IgnoreFile != "" {
		ignoreFile = opts.IgnoreFile
	}
	ignore, err := targets.LoadIgnoreRules(root, ignoreFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}
	selector := targets.NewSelector(repo, ignore, s.logger.Named("targets"))

	resolver := revision.NewResolver(repo, profile, s.cfg.Scan.DefaultBranch, s.logger.Named("revision"))
	summary := &Summary{ID: uuid.New().String(), Profile: profile}

	if opts.Full {
		head, err := resolver.ResolveHead(opts.HeadRef)
		if err != nil {
			return nil, err
		}
		return s.runFull(ctx, summary, snapshotter, selector, head)
	}

	baseline, head, err := s.resolveWithDeepen(ctx, resolver, snapshotter, opts)
	if err != nil {
		if scerrors.Recoverable(err) && s.cfg.Scan.FullScanOnNoBaseline {
			s.logger.Warn("falling back to a full scan", "reason", err.Error())
			head, herr := resolver.ResolveHead(opts.HeadRef)
			if herr != nil {
				return nil, herr
			}
			return s.runFull(ctx, summary, snapshotter, selector, head)
		}
		return nil, err
	}

	return s.runDiff(ctx, summary, snapshotter, selector, baseline, head)
}

// resolveWithDeepen resolves both revisions, deepening once when a reference
// that looks like a full commit SHA is missing from shallow local history.
func (s *Session) resolveWithDeepen(ctx context.Context, resolver *revision.Resolver, snap *worktree.Snapshotter, opts Options) (revision.Revision, revision.Revision, error) {
	baseline, head, err := resolver.Resolve(opts.BaselineRef, opts.HeadRef)
	if err == nil {
		return baseline, head, nil
	}

	var unresolvable *scerrors.UnresolvableRevisionError
	if errors.As(err, &unresolvable) && fullSHARE.MatchString(unresolvable.Ref) {
		s.logger.Info("revision missing locally, attempting fetch", "ref", unresolvable.Ref)
		if ferr := snap.EnsureReachable(ctx, plumbing.NewHash(unresolvable.Ref)); ferr == nil {
			return resolver.Resolve(opts.BaselineRef, opts.HeadRef)
		}
	}
	return revision.Revision{}, revision.Revision{}, err
}

// runDiff performs the two-pass diff-aware scan. Both passes run in the same
// clone under scoped checkouts, baseline first.
func (s *Session) runDiff(ctx context.Context, summary *Summary, snap *worktree.Snapshotter, selector *targets.Selector, baseline, head revision.Revision) (*Summary, error) {
	summary.Baseline = baseline.String()
	summary.Head = head.String()

	if err := snap.EnsureReachable(ctx, baseline.Hash); err != nil {
		return nil, err
	}

	set, err := selector.Select(ctx, baseline, head)
	if err != nil {
		if scerrors.Recoverable(err) && s.cfg.Scan.FullScanOnNoBaseline {
			s.logger.Warn("falling back to a full scan", "reason", err.Error())
			return s.runFull(ctx, summary, snap, selector, head)
		}
		return nil, err
	}
	summary.Targets = set

	if set.Empty() {
		s.logger.Info("no targets changed between baseline and head; skipping scan")
		summary.Result = reconcile.Reconcile(nil, nil)
		return summary, nil
	}

	changed := append(append([]string{}, set.Head...), set.Baseline...)
	if err := snap.CheckConflictingUntracked(changed); err != nil {
		return nil, err
	}

	var baselineFindings, headFindings []findings.Finding

	err = snap.WithRevision(ctx, baseline, func(ctx context.Context) error {
		var runErr error
		baselineFindings, runErr = s.runner.Run(ctx, snap.Root(), set.Baseline, "baseline")
		return runErr
	})
	if err != nil {
		return nil, err
	}

	err = snap.WithRevision(ctx, head, func(ctx context.Context) error {
		var runErr error
		headFindings, runErr = s.runner.Run(ctx, snap.Root(), set.Head, "head")
		return runErr
	})
	if err != nil {
		return nil, err
	}

	summary.Result = reconcile.Reconcile(baselineFindings, headFindings)
	n, f, p := summary.Result.Counts()
	s.logger.Info("reconciled findings", "new", n, "fixed", f, "persisting", p)
	return summary, nil
}

// runFull scans every tracked file at head. Without a baseline pass there is
// nothing to subtract, so every finding is reported as new.
func (s *Session) runFull(ctx context.Context, summary *Summary, snap *worktree.Snapshotter, selector *targets.Selector, head revision.Revision) (*Summary, error) {
	// A diff-aware attempt that fell back here may have recorded a baseline
	// already; a full scan uses none.
	summary.Baseline = ""
	summary.Head = head.String()
	summary.FullScan = true

	if err := snap.EnsureReachable(ctx, head.Hash); err != nil {
		return nil, err
	}

	paths, err := selector.AllTracked(head)
	if err != nil {
		return nil, err
	}
	summary.Targets = targets.Set{Head: paths}

	var headFindings []findings.Finding
	err = snap.WithRevision(ctx, head, func(ctx context.Context) error {
		var runErr error
		headFindings, runErr = s.runner.Run(ctx, snap.Root(), paths, "full")
		return runErr
	})
	if err != nil {
		return nil, err
	}

	summary.Result = reconcile.Reconcile(nil, headFindings)
	s.logger.Info("full scan finished", "findings", len(summary.Result.New))
	return summary, nil
}

// openRepository opens the repository at path, searching parent directories
// the way the git CLI does, and returns it with its worktree root.
func openRepository(path string) (*git.Repository, string, error) {
	if path == "" {
		path = "."
	}
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open git repository at %q: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open worktree: %w", err)
	}
	return repo, wt.Filesystem.Root(), nil
}

// originURL returns the first URL of the origin remote, or of the only
// remote when origin is absent.
func originURL(repo *git.Repository) string {
	remotes, err := repo.Remotes()
	if err != nil || len(remotes) == 0 {
		return ""
	}
	for _, r := range remotes {
		if r.Config().Name == "origin" && len(r.Config().URLs) > 0 {
			return r.Config().URLs[0]
		}
	}
	if len(remotes[0].Config().URLs) > 0 {
		return remotes[0].Config().URLs[0]
	}
	return ""
}
