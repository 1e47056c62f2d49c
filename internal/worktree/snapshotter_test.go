package worktree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/hashicorp/go-hclog"

	"github.com/diffscan-io/diffscan/internal/revision"
	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

type fixture struct {
	repo *git.Repository
	wt   *git.Worktree
	root string
	base plumbing.Hash
	head plumbing.Hash
}

// newFixture builds a repository with two commits touching data.txt, plus a
// dirty modification, a locally deleted file, and an untracked file on top.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	f := &fixture{repo: repo, wt: wt, root: root}
	f.base = f.commit(t, map[string]string{
		"data.txt":   "v1\n",
		"doomed.txt": "temporary\n",
	}, "base")
	f.head = f.commit(t, map[string]string{"data.txt": "v2\n"}, "head")

	// Local state on top of head: dirty tracked file, deleted tracked file,
	// untracked file.
	f.write(t, "data.txt", "dirty local edit\n")
	if err := os.Remove(filepath.Join(root, "doomed.txt")); err != nil {
		t.Fatalf("remove doomed.txt: %v", err)
	}
	f.write(t, "notes.txt", "untracked\n")

	return f
}

func (f *fixture) commit(t *testing.T, files map[string]string, message string) plumbing.Hash {
	t.Helper()
	for path, content := range files {
		f.write(t, path, content)
		if _, err := f.wt.Add(path); err != nil {
			t.Fatalf("add %s: %v", path, err)
		}
	}
	hash, err := f.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return hash
}

func (f *fixture) write(t *testing.T, path, content string) {
	t.Helper()
	abs := filepath.Join(f.root, path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func (f *fixture) read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(f.root, path))
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func (f *fixture) snapshotter(t *testing.T) *Snapshotter {
	t.Helper()
	s, err := NewSnapshotter(f.repo, f.root, nil, 3, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("NewSnapshotter: %v", err)
	}
	return s
}

func rev(hash plumbing.Hash) revision.Revision {
	return revision.Revision{Ref: hash.String(), Hash: hash}
}

func TestCaptureClassifiesLocalState(t *testing.T) {
	f := newFixture(t)
	s := f.snapshotter(t)

	state := s.Original()
	if !state.Dirty {
		t.Fatalf("expected dirty state")
	}
	if state.Head != f.head {
		t.Fatalf("captured head = %s, want %s", state.Head, f.head)
	}
	if !state.Branch.IsBranch() {
		t.Fatalf("captured ref %q is not a branch", state.Branch)
	}
}

func TestWithRevisionChecksOutAndRestores(t *testing.T) {
	f := newFixture(t)
	s := f.snapshotter(t)

	var seen string
	err := s.WithRevision(context.Background(), rev(f.base), func(ctx context.Context) error {
		seen = f.read(t, "data.txt")

		// The untracked file stays in place during the scoped checkout.
		if _, err := os.Stat(filepath.Join(f.root, "notes.txt")); err != nil {
			t.Fatalf("untracked file missing during checkout: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRevision() error = %v", err)
	}
	if seen != "v1\n" {
		t.Fatalf("baseline content = %q, want v1", seen)
	}

	// Original state is back: dirty edit, deleted file gone, untracked kept,
	// HEAD on the original branch.
	if got := f.read(t, "data.txt"); got != "dirty local edit\n" {
		t.Fatalf("dirty content not restored: %q", got)
	}
	if _, err := os.Stat(filepath.Join(f.root, "doomed.txt")); !os.IsNotExist(err) {
		t.Fatalf("locally deleted file resurrected")
	}
	if got := f.read(t, "notes.txt"); got != "untracked\n" {
		t.Fatalf("untracked content changed: %q", got)
	}

	headRef, err := f.repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if !headRef.Name().IsBranch() || headRef.Hash() != f.head {
		t.Fatalf("HEAD = %s at %s, want original branch at %s", headRef.Name(), headRef.Hash(), f.head)
	}
}

func TestWithRevisionIdempotent(t *testing.T) {
	f := newFixture(t)
	s := f.snapshotter(t)

	for i := 0; i < 2; i++ {
		err := s.WithRevision(context.Background(), rev(f.base), func(ctx context.Context) error {
			if got := f.read(t, "data.txt"); got != "v1\n" {
				t.Fatalf("iteration %d: content = %q, want v1", i, got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
	if got := f.read(t, "data.txt"); got != "dirty local edit\n" {
		t.Fatalf("dirty content not restored after repeats: %q", got)
	}
}

func TestWithRevisionRestoresOnCallbackError(t *testing.T) {
	f := newFixture(t)
	s := f.snapshotter(t)

	wantErr := errors.New("scan blew up")
	err := s.WithRevision(context.Background(), rev(f.base), func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithRevision() error = %v, want callback error", err)
	}
	if got := f.read(t, "data.txt"); got != "dirty local edit\n" {
		t.Fatalf("state not restored after callback failure: %q", got)
	}
}

func TestWithRevisionCancelledContext(t *testing.T) {
	f := newFixture(t)
	s := f.snapshotter(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := s.WithRevision(ctx, rev(f.base), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WithRevision() error = %v, want context.Canceled", err)
	}
	if ran {
		t.Fatalf("callback ran despite cancelled context")
	}
	if got := f.read(t, "data.txt"); got != "dirty local edit\n" {
		t.Fatalf("state not restored after cancellation: %q", got)
	}
}

func TestCheckConflictingUntracked(t *testing.T) {
	f := newFixture(t)
	s := f.snapshotter(t)

	if err := s.CheckConflictingUntracked([]string{"data.txt", "other.go"}); err != nil {
		t.Fatalf("non-overlapping untracked flagged: %v", err)
	}
	if err := s.CheckConflictingUntracked([]string{"notes.txt"}); err == nil {
		t.Fatalf("expected conflict for untracked path in change set")
	}
}

func TestEnsureReachableMissingCommitWithoutClient(t *testing.T) {
	f := newFixture(t)
	s := f.snapshotter(t)

	if err := s.EnsureReachable(context.Background(), f.base); err != nil {
		t.Fatalf("local commit reported unreachable: %v", err)
	}

	missing := plumbing.NewHash("0123456789abcdef0123456789abcdef01234567")
	err := s.EnsureReachable(context.Background(), missing)
	var insufficient *scerrors.InsufficientHistoryError
	if !errors.As(err, &insufficient) {
		t.Fatalf("EnsureReachable() error = %v, want InsufficientHistoryError", err)
	}
}
