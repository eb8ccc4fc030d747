package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the run configuration is looked up when no
// --config flag is given.
const DefaultPath = "conf/poacher.yaml"

// Config holds the operator-facing settings for a discovery session.
// The file is YAML; a JSON file with the same keys parses as well.
type Config struct {
	// SkipEmptyRepos drops repositories whose reported size is zero.
	// Default: true
	SkipEmptyRepos bool `yaml:"skip_empty_repos"`

	// MaxRepoSizeKB drops repositories larger than this (kilobytes).
	// Default: 20000
	MaxRepoSizeKB int64 `yaml:"max_repo_size_kb"`

	// Clone acquires a local working copy before running the handler.
	// Forced off in monitor-only mode.
	// Default: false
	Clone bool `yaml:"clone"`

	// MonitorOnly disables handler invocation and archiving; the session
	// only tracks the repository creation rate.
	// Default: true
	MonitorOnly bool `yaml:"monitor_only"`

	// PollDelaySeconds is slept before every feed query, even when the
	// previous query returned nothing.
	// Default: 0
	PollDelaySeconds float64 `yaml:"poll_delay_seconds"`

	// GitHubToken authenticates API calls. GITHUB_TOKEN overrides it.
	GitHubToken string `yaml:"github_token"`

	// APIBaseURL points the client at a GitHub Enterprise instance.
	// Empty means api.github.com.
	APIBaseURL string `yaml:"api_base_url"`

	// APIRequestsPerSecond caps outgoing API calls (0 = unlimited).
	// Default: 1.2 (the authenticated hourly quota spread evenly)
	APIRequestsPerSecond float64 `yaml:"api_requests_per_second"`

	// WorkingDirectory receives fresh clones. Required when cloning.
	WorkingDirectory string `yaml:"working_directory"`

	// ArchiveDirectory receives matched repositories. Required when cloning.
	ArchiveDirectory string `yaml:"archive_directory"`

	// RepoHandler names a registered handler. Empty means monitor mode.
	RepoHandler string `yaml:"repo_handler"`

	// Workers bounds how many repositories of one poll batch are processed
	// at the same time.
	// Default: 1, Range: 1-32
	Workers int `yaml:"workers"`

	// MarkerFile is the durable session marker.
	// Default: conf/marker.json
	MarkerFile string `yaml:"marker_file"`

	// MarkerRedisAddr mirrors the marker into Redis when set.
	MarkerRedisAddr string `yaml:"marker_redis_addr"`

	// MarkerRedisKey is the Redis key for the mirrored marker.
	// Default: poacher:marker
	MarkerRedisKey string `yaml:"marker_redis_key"`

	// HistoryDB is the SQLite database for session history and the
	// archived-item index. Empty disables history.
	// Default: conf/history.db
	HistoryDB string `yaml:"history_db"`

	// KafkaBroker and KafkaTopic enable archived-item notifications.
	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`

	// TriageModel is the Anthropic model used by the ai-triage handler.
	TriageModel string `yaml:"triage_model"`
}

// DefaultConfig returns the configuration used for keys the file omits.
func DefaultConfig() *Config {
	return &Config{
		SkipEmptyRepos:       true,
		MaxRepoSizeKB:        20000,
		Clone:                false,
		MonitorOnly:          true,
		PollDelaySeconds:     0,
		APIRequestsPerSecond: 1.2,
		Workers:              1,
		MarkerFile:           "conf/marker.json",
		MarkerRedisKey:       "poacher:marker",
		HistoryDB:            "conf/history.db",
	}
}

// Load reads the config file at path on top of the defaults, applies
// environment overrides, then the given overrides (command-line flags),
// and only then normalizes mode flags and validates. A missing file is an
// error: the operator has to say where the working and archive
// directories live.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw YAML (or JSON) on top of DefaultConfig.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize resolves mode interactions: monitor-only (explicit, or implied
// by an empty handler name) never clones.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.RepoHandler) == "" {
		c.MonitorOnly = true
	}
	if c.MonitorOnly {
		c.Clone = false
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
}

// ErrMissingDirectory is returned when cloning is enabled without the
// directories it needs.
var ErrMissingDirectory = errors.New("missing required directory")

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if c.MaxRepoSizeKB < 0 {
		return fmt.Errorf("max_repo_size_kb cannot be negative (got %d)", c.MaxRepoSizeKB)
	}
	if c.PollDelaySeconds < 0 {
		return fmt.Errorf("poll_delay_seconds cannot be negative (got %v)", c.PollDelaySeconds)
	}
	if c.APIRequestsPerSecond < 0 {
		return fmt.Errorf("api_requests_per_second cannot be negative (got %v)", c.APIRequestsPerSecond)
	}
	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("workers must be between 1 and 32 (got %d)", c.Workers)
	}
	if strings.TrimSpace(c.MarkerFile) == "" {
		return fmt.Errorf("marker_file is required")
	}
	if c.Clone {
		if strings.TrimSpace(c.WorkingDirectory) == "" {
			return fmt.Errorf("%w: please set working_directory", ErrMissingDirectory)
		}
		if strings.TrimSpace(c.ArchiveDirectory) == "" {
			return fmt.Errorf("%w: please set archive_directory", ErrMissingDirectory)
		}
	}
	if (c.KafkaBroker == "") != (c.KafkaTopic == "") {
		return fmt.Errorf("kafka_broker and kafka_topic must be set together")
	}
	return nil
}

// PollDelay returns the inter-poll delay as a duration.
func (c *Config) PollDelay() time.Duration {
	return time.Duration(c.PollDelaySeconds * float64(time.Second))
}

// String returns a human-readable representation of the config.
// The token is never printed.
func (c *Config) String() string {
	token := "unset"
	if c.GitHubToken != "" {
		token = "set"
	}
	return fmt.Sprintf(
		"Config{SkipEmpty: %t, MaxSizeKB: %d, Clone: %t, MonitorOnly: %t, "+
			"PollDelay: %v, Handler: %q, Workers: %d, Token: %s}",
		c.SkipEmptyRepos, c.MaxRepoSizeKB, c.Clone, c.MonitorOnly,
		c.PollDelay(), c.RepoHandler, c.Workers, token,
	)
}
