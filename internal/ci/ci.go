// Package ci discovers CI provider metadata needed to pick scan revisions.
package ci

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CIKind represents the type of CI provider.
type CIKind int

const (
	// CIUnknown indicates the CI provider could not be identified.
	CIUnknown CIKind = iota
	// CIGitHub identifies GitHub Actions environments.
	CIGitHub
	// CIGitLab identifies GitLab CI environments.
	CIGitLab
	// CIBitbucket identifies Bitbucket Pipelines environments.
	CIBitbucket
)

// LookupFunc fetches environment variables and defaults to os.Getenv.
type LookupFunc func(string) string

// Profile exposes the typed accessor set every provider supports: the
// baseline reference, the head reference, and the event kind. Each provider
// extractor fills the same struct, so the resolver never does untyped
// environment lookups itself.
type Profile struct {
	Kind        CIKind // Kind identifies the CI provider.
	CI          bool   // CI reports whether the execution runs inside a CI environment.
	EventKind   string // EventKind is the triggering event, e.g. pull_request or push.
	HeadSHA     string // HeadSHA is the tip commit that triggered the job.
	HeadRef     string // HeadRef is the symbolic head reference, if distinct from HeadSHA.
	BaselineRef string // BaselineRef is the provider-supplied baseline (merge target or base SHA).
	Repository  string // Repository is the namespace-qualified repository name.
	Namespace   string // Namespace is the owner or project namespace.
	ServerURL   string // ServerURL is the scheme and host of the VCS server.
	PullRequest string // PullRequest is the merge/pull request identifier, when applicable.
}

// String returns the human-readable string representation of a CIKind.
func (c CIKind) String() string {
	switch c {
	case CIGitHub:
		return "github"
	case CIGitLab:
		return "gitlab"
	case CIBitbucket:
		return "bitbucket"
	default:
		return "unknown"
	}
}

// ParseCIKind converts a string identifier into a CIKind value.
func ParseCIKind(raw string) (CIKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "github":
		return CIGitHub, nil
	case "gitlab":
		return CIGitLab, nil
	case "bitbucket":
		return CIBitbucket, nil
	default:
		return CIUnknown, fmt.Errorf("unsupported ci kind %q", raw)
	}
}

// DetectCIKind attempts to infer the CI provider from well-known environment variables.
func DetectCIKind() CIKind {
	return detectCIKindWithLookup(os.Getenv)
}

func detectCIKindWithLookup(lookup LookupFunc) CIKind {
	if lookup == nil {
		lookup = os.Getenv
	}

	if strings.EqualFold(lookup("GITHUB_ACTIONS"), "true") || lookup("GITHUB_REPOSITORY") != "" {
		return CIGitHub
	}
	if strings.EqualFold(lookup("GITLAB_CI"), "true") || lookup("CI_PROJECT_PATH") != "" {
		return CIGitLab
	}
	if lookup("BITBUCKET_WORKSPACE") != "" || lookup("BITBUCKET_REPO_SLUG") != "" {
		return CIBitbucket
	}

	return CIUnknown
}

// LoadProfile resolves the CI profile for the provided kind using the process environment.
func LoadProfile(kind CIKind) (Profile, error) {
	return loadProfile(kind, os.Getenv, readEventFile)
}

// EventReader loads the raw provider event payload, when one exists.
type EventReader func(path string) ([]byte, error)

func readEventFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// loadProfile resolves CI metadata with the supplied lookup function.
func loadProfile(kind CIKind, lookup LookupFunc, readEvent EventReader) (Profile, error) {
	if lookup == nil {
		lookup = os.Getenv
	}
	if readEvent == nil {
		readEvent = readEventFile
	}

	switch kind {
	case CIGitHub:
		return extractGitHubProfile(lookup, readEvent), nil
	case CIGitLab:
		return extractGitLabProfile(lookup), nil
	case CIBitbucket:
		return extractBitbucketProfile(lookup), nil
	default:
		return Profile{}, fmt.Errorf("unsupported ci kind: %s", kind)
	}
}

// githubEvent is the subset of the Actions event payload the resolver needs.
// See https://docs.github.com/en/webhooks/webhook-events-and-payloads.
type githubEvent struct {
	PullRequest struct {
		Number int `json:"number"`
		Base   struct {
			SHA string `json:"sha"`
		} `json:"base"`
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
}

// extractGitHubProfile builds the Profile from GitHub Actions variables and
// the event payload. On pull_request events GITHUB_SHA points at a synthetic
// merge commit, so the head SHA comes from the event payload instead.
func extractGitHubProfile(lookup LookupFunc, readEvent EventReader) Profile {
	ci, _ := strconv.ParseBool(lookup("CI"))

	fullName := lookup("GITHUB_REPOSITORY")
	namespace := lookup("GITHUB_REPOSITORY_OWNER")

	profile := Profile{
		Kind:       CIGitHub,
		CI:         ci,
		EventKind:  lookup("GITHUB_EVENT_NAME"),
		HeadSHA:    lookup("GITHUB_SHA"),
		HeadRef:    lookup("GITHUB_REF"),
		Repository: fullName,
		Namespace:  namespace,
		ServerURL:  lookup("GITHUB_SERVER_URL"),
	}

	if eventPath := lookup("GITHUB_EVENT_PATH"); eventPath != "" {
		if data, err := readEvent(eventPath); err == nil {
			var event githubEvent
			if err := json.Unmarshal(data, &event); err == nil {
				if event.PullRequest.Head.SHA != "" {
					profile.HeadSHA = event.PullRequest.Head.SHA
				}
				if event.PullRequest.Base.SHA != "" {
					profile.BaselineRef = event.PullRequest.Base.SHA
				}
				if event.PullRequest.Number != 0 {
					profile.PullRequest = strconv.Itoa(event.PullRequest.Number)
				}
			}
		}
	}

	if profile.BaselineRef == "" {
		profile.BaselineRef = lookup("GITHUB_BASE_REF")
	}

	return profile
}

// extractGitLabProfile builds the Profile from GitLab CI variables.
// See https://docs.gitlab.com/ci/variables/predefined_variables/.
func extractGitLabProfile(lookup LookupFunc) Profile {
	ci, _ := strconv.ParseBool(lookup("CI"))

	baseline := lookup("CI_MERGE_REQUEST_DIFF_BASE_SHA")
	if baseline == "" {
		if target := lookup("CI_MERGE_REQUEST_TARGET_BRANCH_NAME"); target != "" {
			baseline = "origin/" + target
		}
	}

	return Profile{
		Kind:        CIGitLab,
		CI:          ci,
		EventKind:   lookup("CI_PIPELINE_SOURCE"),
		HeadSHA:     lookup("CI_COMMIT_SHA"),
		HeadRef:     lookup("CI_COMMIT_REF_NAME"),
		BaselineRef: baseline,
		Repository:  lookup("CI_PROJECT_PATH"),
		Namespace:   lookup("CI_PROJECT_NAMESPACE"),
		ServerURL:   lookup("CI_SERVER_URL"),
		PullRequest: lookup("CI_MERGE_REQUEST_IID"),
	}
}

// extractBitbucketProfile builds the Profile from Bitbucket Pipelines variables.
// See https://support.atlassian.com/bitbucket-cloud/docs/variables-and-secrets/.
func extractBitbucketProfile(lookup LookupFunc) Profile {
	ci, _ := strconv.ParseBool(lookup("CI"))

	eventKind := "push"
	if lookup("BITBUCKET_PR_ID") != "" {
		eventKind = "pull_request"
	}

	var baseline string
	if destination := lookup("BITBUCKET_PR_DESTINATION_COMMIT"); destination != "" {
		baseline = destination
	} else if branch := lookup("BITBUCKET_PR_DESTINATION_BRANCH"); branch != "" {
		baseline = "origin/" + branch
	}

	return Profile{
		Kind:        CIBitbucket,
		CI:          ci,
		EventKind:   eventKind,
		HeadSHA:     lookup("BITBUCKET_COMMIT"),
		HeadRef:     lookup("BITBUCKET_BRANCH"),
		BaselineRef: baseline,
		Repository:  lookup("BITBUCKET_REPO_FULL_NAME"),
		Namespace:   lookup("BITBUCKET_WORKSPACE"),
		ServerURL:   lookup("BITBUCKET_GIT_HTTP_ORIGIN"),
		PullRequest: lookup("BITBUCKET_PR_ID"),
	}
}
