package ci

import (
	"strings"

	"github.com/gitsight/go-vcsurl"
	"github.com/hashicorp/go-hclog"
)

// ResolveProfile determines the CI kind and collects the provider profile
// using the process environment. A non-empty providedKind is validated and
// preferred; conflicts with the detected provider are logged. Outside any
// known CI environment an empty Profile is returned, which leaves revision
// selection to explicit flags and configuration.
func ResolveProfile(log hclog.Logger, providedKind string) Profile {
	kind := CIUnknown
	if strings.TrimSpace(providedKind) != "" {
		parsed, err := ParseCIKind(providedKind)
		if err != nil {
			if log != nil {
				log.Warn("unable to interpret ci option; falling back to CI detection", "ci", providedKind, "error", err)
			}
		} else {
			kind = parsed
		}
	}

	detected := DetectCIKind()
	if kind == CIUnknown {
		kind = detected
	} else if detected != CIUnknown && detected != kind {
		if log != nil {
			log.Warn("provided CI kind differs from detected environment",
				"detected", detected.String(), "provided", kind.String())
		}
	}

	if kind == CIUnknown {
		if log != nil {
			log.Debug("no CI environment detected; relying on explicit revision flags")
		}
		return Profile{}
	}

	profile, err := LoadProfile(kind)
	if err != nil {
		if log != nil {
			log.Debug("unable to hydrate CI profile", "kind", kind.String(), "error", err)
		}
		return Profile{Kind: kind}
	}

	if log != nil {
		log.Info("resolved CI profile",
			"provider", profile.Kind.String(),
			"event", profile.EventKind,
			"baseline", profile.BaselineRef,
			"head", profile.HeadSHA)
	}
	return profile
}

// HydrateFromRemote fills repository naming gaps in the profile from the
// origin remote URL. CI variables win; the remote URL only backfills.
func HydrateFromRemote(profile *Profile, remoteURL string) {
	if profile == nil || remoteURL == "" {
		return
	}
	if profile.Repository != "" && profile.Namespace != "" {
		return
	}

	info, err := vcsurl.Parse(remoteURL)
	if err != nil {
		return
	}

	if profile.Repository == "" {
		profile.Repository = info.FullName
	}
	if profile.Namespace == "" && info.Username != "" {
		profile.Namespace = info.Username
	}
	if profile.ServerURL == "" && info.Host != "" {
		profile.ServerURL = "https://" + string(info.Host)
	}
}
