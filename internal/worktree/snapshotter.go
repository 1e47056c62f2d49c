// Package worktree owns the scanned clone's on-disk state: scoped
// checkouts of a revision's tree with unconditional restoration of the
// caller's original state.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"

	gitclient "github.com/diffscan-io/diffscan/internal/git"
	"github.com/diffscan-io/diffscan/internal/revision"
	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

// State captures the original working-tree condition at session start:
// the checked-out ref or commit, and the contents of locally changed
// tracked files. The Snapshotter is the exclusive owner; no other component
// touches the working tree directly.
type State struct {
	Branch plumbing.ReferenceName // empty when HEAD is detached
	Head   plumbing.Hash
	Dirty  bool

	// modified maps tracked paths with local changes to their content at
	// capture time. Staged-but-uncommitted state is flattened into worktree
	// content: the bytes survive, the index classification does not.
	modified map[string][]byte
	// deleted lists tracked paths locally removed at capture time.
	deleted []string
	// untracked lists paths git does not know about; they are left in place
	// during checkouts and only consulted for conflict detection.
	untracked []string
}

// Snapshotter performs the checkout dance. Exactly one checkout may be
// active at a time; the pipeline is sequential by design and no concurrent
// orchestrator may run against the same clone (an operational invariant
// enforced outside this process).
type Snapshotter struct {
	repo           *git.Repository
	wt             *git.Worktree
	root           string
	client         *gitclient.Client
	deepenAttempts int
	logger         hclog.Logger

	state State
}

// NewSnapshotter opens the worktree and captures the original state. A
// failure to back up dirty file contents aborts construction: proceeding
// would risk data loss on the first forced checkout.
func NewSnapshotter(repo *git.Repository, root string, client *gitclient.Client, deepenAttempts int, logger hclog.Logger) (*Snapshotter, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}

	s := &Snapshotter{
		repo:           repo,
		wt:             wt,
		root:           root,
		client:         client,
		deepenAttempts: deepenAttempts,
		logger:         logger,
	}
	if err := s.capture(); err != nil {
		return nil, err
	}
	return s, nil
}

// Original returns the captured state.
func (s *Snapshotter) Original() State { return s.state }

// Root returns the worktree root directory.
func (s *Snapshotter) Root() string { return s.root }

func (s *Snapshotter) capture() error {
	headRef, err := s.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to read HEAD: %w", err)
	}
	s.state.Head = headRef.Hash()
	if headRef.Name().IsBranch() {
		s.state.Branch = headRef.Name()
	}

	status, err := s.wt.Status()
	if err != nil {
		return fmt.Errorf("failed to read worktree status: %w", err)
	}

	s.state.modified = make(map[string][]byte)
	for path, st := range status {
		if st.Worktree == git.Untracked && st.Staging == git.Untracked {
			s.state.untracked = append(s.state.untracked, path)
			continue
		}
		if st.Worktree == git.Deleted || (st.Staging == git.Deleted && st.Worktree == git.Unmodified) {
			s.state.deleted = append(s.state.deleted, path)
			continue
		}

		content, err := os.ReadFile(filepath.Join(s.root, path))
		if err != nil {
			return fmt.Errorf("failed to back up dirty file %q before checkout: %w", path, err)
		}
		s.state.modified[path] = content
	}
	s.state.Dirty = len(s.state.modified) > 0 || len(s.state.deleted) > 0

	s.logger.Debug("captured working tree state",
		"head", s.state.Head.String(),
		"branch", s.state.Branch.String(),
		"dirty", s.state.Dirty,
		"untracked", len(s.state.untracked))
	return nil
}

// CheckConflictingUntracked fails when an untracked path collides with a
// path that changed between the scanned revisions: a checkout would either
// clobber it or shadow the revision's content.
func (s *Snapshotter) CheckConflictingUntracked(changedPaths []string) error {
	if len(s.state.untracked) == 0 {
		return nil
	}
	changed := make(map[string]bool, len(changedPaths))
	for _, p := range changedPaths {
		changed[p] = true
	}
	var conflicts []string
	for _, p := range s.state.untracked {
		if changed[p] {
			conflicts = append(conflicts, p)
		}
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("untracked files overlap paths changed since the baseline; commit or remove them: %v", conflicts)
	}
	return nil
}

// WithRevision checks out the revision's tree, invokes fn, and
// unconditionally restores the original state afterward, whether fn
// succeeds, fails, or the context is cancelled. Restoration failure
// escalates to the fatal WorkingTreeCorruptedError. The operation is
// idempotent: repeating it with the same revision yields an identical tree.
func (s *Snapshotter) WithRevision(ctx context.Context, rev revision.Revision, fn func(ctx context.Context) error) (err error) {
	if err := s.EnsureReachable(ctx, rev.Hash); err != nil {
		return err
	}

	s.logger.Debug("checking out revision", "revision", rev.String())
	if err := s.wt.Checkout(&git.CheckoutOptions{Hash: rev.Hash, Force: true}); err != nil {
		checkoutErr := fmt.Errorf("failed to check out %s: %w", rev.String(), err)
		if rerr := s.restore(); rerr != nil {
			return rerr
		}
		return checkoutErr
	}

	defer func() {
		if rerr := s.restore(); rerr != nil {
			if err != nil {
				s.logger.Error("scan error preceded restore failure", "error", err)
			}
			err = rerr
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// restore returns the working tree to the captured state: original ref or
// commit checked out, dirty contents rewritten, locally deleted files
// re-deleted. Untracked files were never touched. Every failure surfaces as
// WorkingTreeCorruptedError since the caller's repository may now differ
// from what they left behind.
func (s *Snapshotter) restore() error {
	originalRef := s.state.Branch.String()
	opts := &git.CheckoutOptions{Force: true}
	if s.state.Branch != "" {
		opts.Branch = s.state.Branch
	} else {
		originalRef = s.state.Head.String()
		opts.Hash = s.state.Head
	}

	if err := s.wt.Checkout(opts); err != nil {
		return &scerrors.WorkingTreeCorruptedError{
			OriginalRef: originalRef,
			Detail:      "checkout of original revision failed",
			Err:         err,
		}
	}

	for path, content := range s.state.modified {
		full := filepath.Join(s.root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return &scerrors.WorkingTreeCorruptedError{
				OriginalRef: originalRef,
				Detail:      fmt.Sprintf("recreating directory for dirty file %q failed", path),
				Err:         err,
			}
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			return &scerrors.WorkingTreeCorruptedError{
				OriginalRef: originalRef,
				Detail:      fmt.Sprintf("rewriting dirty file %q failed", path),
				Err:         err,
			}
		}
	}

	for _, path := range s.state.deleted {
		full := filepath.Join(s.root, path)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return &scerrors.WorkingTreeCorruptedError{
				OriginalRef: originalRef,
				Detail:      fmt.Sprintf("re-deleting locally removed file %q failed", path),
				Err:         err,
			}
		}
	}

	s.logger.Debug("restored working tree", "ref", originalRef, "dirty", s.state.Dirty)
	return nil
}
