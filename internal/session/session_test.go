package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/hashicorp/go-hclog"

	"github.com/diffscan-io/diffscan/internal/findings"
	"github.com/diffscan-io/diffscan/pkg/shared/config"
	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

type runnerCall struct {
	label string
	paths []string
}

// fakeRunner replaces the engine subprocess with canned per-pass findings.
type fakeRunner struct {
	calls    []runnerCall
	perLabel map[string][]findings.Finding
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, workdir string, paths []string, label string) ([]findings.Finding, error) {
	f.calls = append(f.calls, runnerCall{label: label, paths: paths})
	if f.err != nil {
		return nil, f.err
	}
	return f.perLabel[label], nil
}

func clearCIEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CI", "GITHUB_ACTIONS", "GITHUB_REPOSITORY", "GITLAB_CI",
		"CI_PROJECT_PATH", "BITBUCKET_WORKSPACE", "BITBUCKET_REPO_SLUG",
	} {
		t.Setenv(key, "")
	}
}

func setupRepo(t *testing.T) (string, plumbing.Hash, plumbing.Hash) {
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

	base := commitFile(t, wt, "app.go", "package app\n\nfunc old() {}\n", "base")
	head := commitFile(t, wt, "app.go", "package app\n\nfunc renewed() {}\n", "head")
	return root, base, head
}

func commitFile(t *testing.T, wt *git.Worktree, path, content, message string) plumbing.Hash {
	t.Helper()

	abs := filepath.Join(wt.Filesystem.Root(), path)
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if _, err := wt.Add(path); err != nil {
		t.Fatalf("add %s: %v", path, err)
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return hash
}

// commitOrphan writes a parentless commit straight into the object store so
// the repository holds a second, unrelated history.
func commitOrphan(t *testing.T, repo *git.Repository, path, content string) plumbing.Hash {
	t.Helper()

	blob := repo.Storer.NewEncodedObject()
	blob.SetType(plumbing.BlobObject)
	w, err := blob.Writer()
	if err != nil {
		t.Fatalf("blob writer: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("blob write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("blob close: %v", err)
	}
	blobHash, err := repo.Storer.SetEncodedObject(blob)
	if err != nil {
		t.Fatalf("store blob: %v", err)
	}

	tree := &object.Tree{Entries: []object.TreeEntry{
		{Name: path, Mode: filemode.Regular, Hash: blobHash},
	}}
	treeObj := repo.Storer.NewEncodedObject()
	if err := tree.Encode(treeObj); err != nil {
		t.Fatalf("encode tree: %v", err)
	}
	treeHash, err := repo.Storer.SetEncodedObject(treeObj)
	if err != nil {
		t.Fatalf("store tree: %v", err)
	}

	sig := object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
	commit := &object.Commit{Author: sig, Committer: sig, Message: "orphan", TreeHash: treeHash}
	commitObj := repo.Storer.NewEncodedObject()
	if err := commit.Encode(commitObj); err != nil {
		t.Fatalf("encode commit: %v", err)
	}
	hash, err := repo.Storer.SetEncodedObject(commitObj)
	if err != nil {
		t.Fatalf("store commit: %v", err)
	}
	return hash
}

func testSession(cfg *config.Config, runner scanRunner) *Session {
	return &Session{cfg: cfg, logger: hclog.NewNullLogger(), runner: runner}
}

func testConfig() *config.Config {
	return &config.Config{
		GitClient: config.GitClient{AuthType: "none", FetchTimeout: time.Minute, DeepenAttempts: 1},
	}
}

func finding(rule, path string, line int, matched string) findings.Finding {
	return findings.Finding{RuleID: rule, Path: path, Line: line, Matched: matched}
}

func TestRunDiffAware(t *testing.T) {
	clearCIEnv(t)
	root, base, head := setupRepo(t)

	fake := &fakeRunner{perLabel: map[string][]findings.Finding{
		"baseline": {
			finding("rule.a", "app.go", 3, "persists()"),
			finding("rule.a", "app.go", 5, "goesAway()"),
		},
		"head": {
			finding("rule.a", "app.go", 3, "persists()"),
			finding("rule.b", "app.go", 7, "brandNew()"),
		},
	}}
	sess := testSession(testConfig(), fake)

	opts := Options{RepoPath: root, BaselineRef: base.String()}
	summary, err := sess.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(fake.calls) != 2 {
		t.Fatalf("engine passes = %d, want 2", len(fake.calls))
	}
	if fake.calls[0].label != "baseline" || fake.calls[1].label != "head" {
		t.Fatalf("pass order = %v, want baseline then head", fake.calls)
	}
	for _, call := range fake.calls {
		if len(call.paths) != 1 || call.paths[0] != "app.go" {
			t.Fatalf("%s pass targets = %v, want [app.go]", call.label, call.paths)
		}
	}

	n, f, p := summary.Result.Counts()
	if n != 1 || f != 1 || p != 1 {
		t.Fatalf("Counts() = (%d, %d, %d), want (1, 1, 1)", n, f, p)
	}
	if summary.Result.New[0].RuleID != "rule.b" {
		t.Fatalf("new finding rule = %q, want rule.b", summary.Result.New[0].RuleID)
	}
	if summary.FullScan {
		t.Fatalf("diff-aware run reported as full scan")
	}
	if summary.ID == "" {
		t.Fatalf("summary has no session id")
	}

	// The working tree is back at head after the session.
	repo, err := git.PlainOpen(root)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}
	headRef, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if headRef.Hash() != head {
		t.Fatalf("HEAD = %s after session, want %s", headRef.Hash(), head)
	}
}

func TestRunNothingChanged(t *testing.T) {
	clearCIEnv(t)
	root, _, head := setupRepo(t)

	fake := &fakeRunner{}
	sess := testSession(testConfig(), fake)

	opts := Options{RepoPath: root, BaselineRef: head.String()}
	summary, err := sess.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("engine invoked %d times for empty change set, want 0", len(fake.calls))
	}
	if n, f, p := summary.Result.Counts(); n != 0 || f != 0 || p != 0 {
		t.Fatalf("Counts() = (%d, %d, %d), want all zero", n, f, p)
	}
}

func TestRunFullScan(t *testing.T) {
	clearCIEnv(t)
	root, _, _ := setupRepo(t)

	fake := &fakeRunner{perLabel: map[string][]findings.Finding{
		"full": {finding("rule.a", "app.go", 3, "bad()")},
	}}
	sess := testSession(testConfig(), fake)

	summary, err := sess.Run(context.Background(), Options{RepoPath: root, Full: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fake.calls) != 1 || fake.calls[0].label != "full" {
		t.Fatalf("calls = %v, want one full pass", fake.calls)
	}
	if !summary.FullScan {
		t.Fatalf("full scan not flagged in summary")
	}
	if len(summary.Result.New) != 1 || len(summary.Result.Fixed) != 0 {
		t.Fatalf("full scan result = %+v, want everything new", summary.Result)
	}
}

func TestRunNoBaselineFails(t *testing.T) {
	clearCIEnv(t)
	root, _, _ := setupRepo(t)

	sess := testSession(testConfig(), &fakeRunner{})
	_, err := sess.Run(context.Background(), Options{RepoPath: root})

	var noBaseline *scerrors.NoBaselineError
	if !errors.As(err, &noBaseline) {
		t.Fatalf("Run() error = %v, want NoBaselineError", err)
	}
}

func TestRunNoBaselineFallsBackToFull(t *testing.T) {
	clearCIEnv(t)
	root, _, _ := setupRepo(t)

	cfg := testConfig()
	cfg.Scan.FullScanOnNoBaseline = true
	fake := &fakeRunner{perLabel: map[string][]findings.Finding{
		"full": {finding("rule.a", "app.go", 3, "bad()")},
	}}
	sess := testSession(cfg, fake)

	summary, err := sess.Run(context.Background(), Options{RepoPath: root})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !summary.FullScan {
		t.Fatalf("fallback did not run a full scan")
	}
	if len(fake.calls) != 1 || fake.calls[0].label != "full" {
		t.Fatalf("calls = %v, want one full pass", fake.calls)
	}
}

func TestRunUnrelatedHistoriesFallsBackToFull(t *testing.T) {
	clearCIEnv(t)
	root, _, _ := setupRepo(t)

	repo, err := git.PlainOpen(root)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}
	orphan := commitOrphan(t, repo, "other.go", "package other\n")

	cfg := testConfig()
	cfg.Scan.FullScanOnNoBaseline = true
	fake := &fakeRunner{perLabel: map[string][]findings.Finding{
		"full": {finding("rule.a", "app.go", 3, "bad()")},
	}}
	sess := testSession(cfg, fake)

	summary, err := sess.Run(context.Background(), Options{RepoPath: root, BaselineRef: orphan.String()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !summary.FullScan {
		t.Fatalf("unrelated histories did not fall back to a full scan")
	}
	if len(fake.calls) != 1 || fake.calls[0].label != "full" {
		t.Fatalf("calls = %v, want one full pass", fake.calls)
	}
	// The abandoned diff-aware attempt must not leak its baseline.
	if summary.Baseline != "" {
		t.Fatalf("full-scan summary reports baseline %q, want none", summary.Baseline)
	}
}

func TestRunEngineFailureAborts(t *testing.T) {
	clearCIEnv(t)
	root, base, _ := setupRepo(t)

	engineErr := &scerrors.EngineExecutionError{Command: "fake", ExitCode: 2}
	fake := &fakeRunner{err: engineErr}
	sess := testSession(testConfig(), fake)

	_, err := sess.Run(context.Background(), Options{RepoPath: root, BaselineRef: base.String()})
	var execErr *scerrors.EngineExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Run() error = %v, want EngineExecutionError", err)
	}
	// The failure happened in the baseline pass; the head pass never ran.
	if len(fake.calls) != 1 {
		t.Fatalf("engine passes = %d, want 1", len(fake.calls))
	}
}
