// Package revision resolves baseline and head references to immutable
// commit hashes.
package revision

import (
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"

	"github.com/diffscan-io/diffscan/internal/ci"
	scerrors "github.com/diffscan-io/diffscan/pkg/shared/errors"
)

// Revision pairs the reference the caller asked for with its resolved
// commit hash. Once resolved, the hash is immutable for the scan session.
type Revision struct {
	Ref  string
	Hash plumbing.Hash
}

func (r Revision) String() string {
	if r.Ref != "" && r.Ref != r.Hash.String() {
		return fmt.Sprintf("%s (%s)", r.Ref, r.Hash.String()[:minInt(12, len(r.Hash.String()))])
	}
	return r.Hash.String()
}

// Resolver turns explicit flags and CI profile hints into resolved
// revisions. It never mutates the working tree; deepening on resolution
// failure is the session's reaction, not the resolver's side effect.
type Resolver struct {
	repo          *git.Repository
	profile       ci.Profile
	defaultBranch string
	logger        hclog.Logger
}

// NewResolver builds a Resolver over an opened repository.
func NewResolver(repo *git.Repository, profile ci.Profile, defaultBranch string, logger hclog.Logger) *Resolver {
	return &Resolver{
		repo:          repo,
		profile:       profile,
		defaultBranch: defaultBranch,
		logger:        logger,
	}
}

// Resolve determines the baseline and head revisions. Explicit references
// win; otherwise the CI profile supplies the baseline, then the configured
// default branch. Head defaults to the currently checked-out commit. When no
// baseline can be determined the returned error is NoBaselineError, leaving
// the fail-or-full-scan decision to the caller.
func (r *Resolver) Resolve(explicitBaseline, explicitHead string) (Revision, Revision, error) {
	head, err := r.resolveHead(explicitHead)
	if err != nil {
		return Revision{}, Revision{}, err
	}

	baseline, err := r.resolveBaseline(explicitBaseline, head)
	if err != nil {
		return Revision{}, Revision{}, err
	}

	r.logger.Info("resolved revisions", "baseline", baseline.String(), "head", head.String())
	return baseline, head, nil
}

// ResolveHead resolves only the head revision, for full scans that need no
// baseline.
func (r *Resolver) ResolveHead(explicit string) (Revision, error) {
	return r.resolveHead(explicit)
}

func (r *Resolver) resolveHead(explicit string) (Revision, error) {
	if explicit != "" {
		return r.resolveRef(explicit)
	}

	headRef, err := r.repo.Head()
	if err != nil {
		return Revision{}, &scerrors.UnresolvableRevisionError{Ref: "HEAD", Err: err}
	}
	return Revision{Ref: "HEAD", Hash: headRef.Hash()}, nil
}

func (r *Resolver) resolveBaseline(explicit string, head Revision) (Revision, error) {
	if explicit != "" {
		return r.resolveRef(explicit)
	}

	if r.profile.BaselineRef != "" {
		r.logger.Debug("using baseline from CI profile",
			"provider", r.profile.Kind.String(), "ref", r.profile.BaselineRef)
		return r.resolveRef(r.profile.BaselineRef)
	}

	if r.defaultBranch != "" {
		if rev, err := r.resolveDefaultBranch(head); err == nil {
			return rev, nil
		}
	}

	return Revision{}, &scerrors.NoBaselineError{
		Hint: "pass --baseline-ref or run inside a supported CI environment",
	}
}

// resolveDefaultBranch tries the remote-tracking ref first so a CI checkout
// of a feature branch still finds the mainline tip, then the local branch.
// A default branch equal to head is useless as a baseline.
func (r *Resolver) resolveDefaultBranch(head Revision) (Revision, error) {
	candidates := []string{
		"refs/remotes/origin/" + r.defaultBranch,
		"refs/heads/" + r.defaultBranch,
	}
	for _, candidate := range candidates {
		rev, err := r.resolveRef(candidate)
		if err != nil {
			continue
		}
		if rev.Hash == head.Hash {
			continue
		}
		r.logger.Debug("using configured default branch as baseline", "ref", candidate)
		return rev, nil
	}
	return Revision{}, fmt.Errorf("default branch %q not usable as baseline", r.defaultBranch)
}

func (r *Resolver) resolveRef(ref string) (Revision, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return Revision{}, &scerrors.UnresolvableRevisionError{Ref: ref, Err: err}
	}
	return Revision{Ref: ref, Hash: *hash}, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
