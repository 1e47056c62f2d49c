package config

import (
	"fmt"
	"time"
)

// ValidateConfig checks if the global configuration has valid values.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("YAML global config: configuration object is nil")
	}
	if err := validateEngineConfig(&cfg.Engine); err != nil {
		return fmt.Errorf("YAML global config: engine directive is invalid: %w", err)
	}
	if err := validateGitConfig(&cfg.GitClient); err != nil {
		return fmt.Errorf("YAML global config: git_client directive is invalid: %w", err)
	}
	return nil
}

func validateEngineConfig(engine *Engine) error {
	if engine == nil {
		return fmt.Errorf("engine configuration is nil")
	}
	if engine.Binary == "" {
		return fmt.Errorf("engine binary is not set")
	}
	if err := validateDuration(engine.Timeout, "timeout", 4*time.Hour); err != nil {
		return err
	}
	if engine.ChunkSize < 1 || engine.ChunkSize > 10000 {
		return fmt.Errorf("chunk_size must be between 1 and 10000: %d", engine.ChunkSize)
	}
	return nil
}

func validateGitConfig(gitConfig *GitClient) error {
	if gitConfig == nil {
		return fmt.Errorf("git configuration is nil")
	}
	if err := validateDuration(gitConfig.FetchTimeout, "fetch_timeout", 1*time.Hour); err != nil {
		return err
	}
	if gitConfig.DeepenAttempts < 1 || gitConfig.DeepenAttempts > 10 {
		return fmt.Errorf("deepen_attempts must be between 1 and 10: %d", gitConfig.DeepenAttempts)
	}
	switch gitConfig.AuthType {
	case "none", "ssh-key", "ssh-agent", "http":
	default:
		return fmt.Errorf("unknown auth_type: %s", gitConfig.AuthType)
	}
	return nil
}

// validateDuration checks that a time.Duration is valid and within a specified maximum duration.
func validateDuration(d time.Duration, name string, max time.Duration) error {
	if d < 0 {
		return fmt.Errorf("invalid duration for %q: %v cannot be negative", name, d)
	}
	if d > max {
		return fmt.Errorf("%q duration is too long: %v exceeds maximum of %v", name, d, max)
	}
	return nil
}
