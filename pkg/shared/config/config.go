// Package config loads and validates the YAML configuration of the
// orchestrator.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config is the root of the YAML configuration.
type Config struct {
	Logger    Logger    `yaml:"logger"`
	Engine    Engine    `yaml:"engine"`
	GitClient GitClient `yaml:"git_client"`
	Scan      Scan      `yaml:"scan"`
}

// Logger configures structured logging.
type Logger struct {
	Level string `yaml:"level"`
}

// Engine configures the external analysis engine invocation.
type Engine struct {
	Binary         string        `yaml:"binary"`
	Rulesets       []string      `yaml:"rulesets"`
	Timeout        time.Duration `yaml:"timeout"`
	ChunkSize      int           `yaml:"chunk_size"`
	AdditionalArgs []string      `yaml:"additional_args"`
}

// GitClient configures history fetches performed while deepening shallow
// clones. Credentials are read from the environment, never from the file.
type GitClient struct {
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	DeepenAttempts int           `yaml:"deepen_attempts"`
	AuthType       string        `yaml:"auth_type"`
	SSHKeyPath     string        `yaml:"ssh_key_path"`
	Username       string        `yaml:"username"`
}

// Scan configures target selection and fallback policy.
type Scan struct {
	IgnoreFile           string `yaml:"ignore_file"`
	DefaultBranch        string `yaml:"default_branch"`
	FullScanOnNoBaseline bool   `yaml:"full_scan_on_no_baseline"`
}

// LoadConfig reads the configuration from path. An empty path falls back to
// "diffscan.yml" when present; when neither exists the built-in defaults are
// used, since CI runs usually carry no config file.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

const defaultConfigFile = "diffscan.yml"

func loadYAML(configPath string, data interface{}) error {
	s, err := os.Stat(configPath)
	if err != nil {
		return err
	}
	if s.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", configPath)
	}

	file, err := os.Open(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	if err := d.Decode(data); err != nil {
		return fmt.Errorf("failed to decode %q: %w", configPath, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	cfg.Engine.Binary = SetThen(cfg.Engine.Binary, "semgrep")
	cfg.Engine.Timeout = SetThen(cfg.Engine.Timeout, 30*time.Minute)
	cfg.Engine.ChunkSize = SetThen(cfg.Engine.ChunkSize, 500)

	cfg.GitClient.FetchTimeout = SetThen(cfg.GitClient.FetchTimeout, 10*time.Minute)
	cfg.GitClient.DeepenAttempts = SetThen(cfg.GitClient.DeepenAttempts, 3)
	cfg.GitClient.AuthType = SetThen(cfg.GitClient.AuthType, "none")

	cfg.Scan.IgnoreFile = SetThen(cfg.Scan.IgnoreFile, ".diffscanignore")
	cfg.Scan.DefaultBranch = SetThen(cfg.Scan.DefaultBranch, "main")
}
