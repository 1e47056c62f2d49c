package worktree

import (
	"context"

	"github.com/go-git/go-git/v5/plumbing"

	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

// EnsureReachable makes the commit available locally, deepening a shallow
// clone in bounded increments rather than an unbounded full unshallow. Fetch
// depth grows as 4^attempt; when the commit is still missing after the
// configured attempts, a last targeted fetch of the commit itself is tried
// before giving up with InsufficientHistory.
func (s *Snapshotter) EnsureReachable(ctx context.Context, hash plumbing.Hash) error {
	if s.commitPresent(hash) {
		return nil
	}
	if s.client == nil {
		return &scerrors.InsufficientHistoryError{Hash: hash.String(), Attempts: 0}
	}

	depth := 1
	for attempt := 1; attempt <= s.deepenAttempts; attempt++ {
		depth *= 4
		s.logger.Info("commit missing locally, deepening history",
			"hash", hash.String(), "attempt", attempt, "depth", depth)

		if err := s.client.Deepen(ctx, s.repo, depth); err != nil {
			s.logger.Warn("deepen fetch failed", "depth", depth, "error", err)
		}
		if s.commitPresent(hash) {
			return nil
		}
	}

	if err := s.client.FetchCommit(ctx, s.repo, hash); err == nil && s.commitPresent(hash) {
		return nil
	}

	return &scerrors.InsufficientHistoryError{Hash: hash.String(), Attempts: s.deepenAttempts}
}

func (s *Snapshotter) commitPresent(hash plumbing.Hash) bool {
	_, err := s.repo.CommitObject(hash)
	return err == nil
}
