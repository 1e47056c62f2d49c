package git

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	log "github.com/diffscan-io/diffscan/pkg/shared/logger"
)

const (
	origin       = "origin"
	tmpRefPrefix = "refs/diffscan/tmp/"
)

// Deepen fetches additional history for the repository's current branch tip
// with the given depth. NoErrAlreadyUpToDate is not an error: a fully
// unshallowed repository simply has nothing more to fetch.
func (c *Client) Deepen(ctx context.Context, repo *git.Repository, depth int) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	remoteName, err := resolveRemoteName(repo)
	if err != nil {
		return err
	}

	c.logger.Debug("deepening history", "remote", remoteName, "depth", depth)

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Auth:       c.auth,
		Progress:   progressWriter(c),
		Depth:      depth,
		Tags:       git.NoTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("deepen fetch (depth %d) failed: %w", depth, err)
	}
	return nil
}

// FetchCommit fetches a single commit by hash through a temporary refspec,
// the way servers allowing uploadpack.allowAnySHA1InWant expose it. The
// temporary ref is removed before returning.
func (c *Client) FetchCommit(ctx context.Context, repo *git.Repository, hash plumbing.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	remoteName, err := resolveRemoteName(repo)
	if err != nil {
		return err
	}

	tmpRef := plumbing.ReferenceName(tmpRefPrefix + hash.String())
	refspec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", hash.String(), tmpRef.String()))

	c.logger.Debug("fetching commit", "remote", remoteName, "hash", hash.String())

	fetchErr := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Auth:       c.auth,
		Progress:   progressWriter(c),
		Depth:      1,
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Tags:       git.NoTags,
	})
	if fetchErr != nil && !errors.Is(fetchErr, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch commit %s failed: %w", hash.String(), fetchErr)
	}

	defer func() {
		_ = repo.Storer.RemoveReference(tmpRef)
	}()

	if _, err := repo.CommitObject(hash); err != nil {
		return fmt.Errorf("commit %s still missing after fetch: %w", hash.String(), err)
	}
	return nil
}

// resolveRemoteName prefers origin and falls back to the first configured remote.
func resolveRemoteName(repo *git.Repository) (string, error) {
	if _, err := repo.Remote(origin); err == nil {
		return origin, nil
	}
	remotes, err := repo.Remotes()
	if err != nil || len(remotes) == 0 {
		return "", fmt.Errorf("no remotes available for fetch")
	}
	return remotes[0].Config().Name, nil
}

// progressWriter routes transfer progress through the logger so it honors
// the configured level instead of hitting stderr directly.
func progressWriter(c *Client) io.Writer {
	return log.GetLoggerOutput(c.logger)
}
