// Package targets computes the restricted file sets passed to the engine
// for the baseline and head passes.
package targets

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/hashicorp/go-hclog"

	"github.com/diffscan-io/diffscan/internal/revision"
	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

// Set holds the repository-relative paths in scope for each pass. Paths are
// ordered and deduplicated, and always relative so results stay portable
// across the two checkouts. Head carries added, modified, and rename
// destinations; Baseline carries modified, deleted, and rename origins, so
// fingerprinting can still observe a finding that moved.
type Set struct {
	Head     []string
	Baseline []string
}

// Empty reports whether neither pass has any target. Downstream components
// must produce an empty reconciliation without invoking the engine.
func (s Set) Empty() bool {
	return len(s.Head) == 0 && len(s.Baseline) == 0
}

// Selector computes changed paths between two committed trees.
type Selector struct {
	repo   *git.Repository
	ignore *IgnoreRules
	logger hclog.Logger
}

// NewSelector builds a Selector. A nil ignore filter keeps every path.
func NewSelector(repo *git.Repository, ignore *IgnoreRules, logger hclog.Logger) *Selector {
	return &Selector{repo: repo, ignore: ignore, logger: logger}
}

// Select computes the symmetric change set between baseline and head from
// committed history, never from working-tree status. Rename detection splits
// a rename into its old path (baseline target) and new path (head target).
// Ignore filtering applies after diff computation, so an ignored file that
// changed appears in neither set. baseline == head yields an empty Set, a
// valid nothing-changed state rather than an error.
func (s *Selector) Select(ctx context.Context, baseline, head revision.Revision) (Set, error) {
	if baseline.Hash == head.Hash {
		s.logger.Info("baseline equals head; nothing changed")
		return Set{}, nil
	}

	baseCommit, err := s.repo.CommitObject(baseline.Hash)
	if err != nil {
		return Set{}, fmt.Errorf("failed to load baseline commit %s: %w", baseline.Hash, err)
	}
	headCommit, err := s.repo.CommitObject(head.Hash)
	if err != nil {
		return Set{}, fmt.Errorf("failed to load head commit %s: %w", head.Hash, err)
	}

	mergeBases, err := baseCommit.MergeBase(headCommit)
	if err != nil {
		return Set{}, fmt.Errorf("failed to compute merge base: %w", err)
	}
	if len(mergeBases) == 0 {
		return Set{}, &scerrors.AmbiguousMergeBaseError{
			Baseline: baseline.Hash.String(),
			Head:     head.Hash.String(),
		}
	}

	baseTree, err := baseCommit.Tree()
	if err != nil {
		return Set{}, fmt.Errorf("failed to load baseline tree: %w", err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return Set{}, fmt.Errorf("failed to load head tree: %w", err)
	}

	changes, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return Set{}, fmt.Errorf("failed to diff trees: %w", err)
	}

	var set Set
	ignored := 0
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return Set{}, fmt.Errorf("failed to classify change: %w", err)
		}

		switch action {
		case merkletrie.Insert:
			set.Head = s.appendSurviving(set.Head, change.To.Name, &ignored)
		case merkletrie.Delete:
			set.Baseline = s.appendSurviving(set.Baseline, change.From.Name, &ignored)
		case merkletrie.Modify:
			// Rename detection rewrites a delete+insert pair into one Modify
			// with differing names; both sides stay in scope.
			set.Head = s.appendSurviving(set.Head, change.To.Name, &ignored)
			set.Baseline = s.appendSurviving(set.Baseline, change.From.Name, &ignored)
		}
	}

	set.Head = sortedUnique(set.Head)
	set.Baseline = sortedUnique(set.Baseline)

	s.logger.Info("selected targets",
		"head", len(set.Head), "baseline", len(set.Baseline), "ignored", ignored)
	return set, nil
}

// AllTracked lists every path in the revision's tree, ignore-filtered, for
// full-repository scans.
func (s *Selector) AllTracked(rev revision.Revision) ([]string, error) {
	commit, err := s.repo.CommitObject(rev.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", rev.Hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree: %w", err)
	}

	var paths []string
	err = tree.Files().ForEach(func(f *object.File) error {
		if s.ignore == nil || s.ignore.Survives(f.Name) {
			paths = append(paths, f.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree: %w", err)
	}
	return sortedUnique(paths), nil
}

func (s *Selector) appendSurviving(list []string, path string, ignored *int) []string {
	if path == "" {
		return list
	}
	if s.ignore != nil && !s.ignore.Survives(path) {
		*ignored++
		return list
	}
	return append(list, path)
}

func sortedUnique(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	sort.Strings(paths)
	out := paths[:1]
	for _, p := range paths[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
