package config

import (
	"fmt"
	"os"
	"strconv"
)

// ApplyEnv overrides file settings from the environment.
//
// Environment variables:
//   - GITHUB_TOKEN: API token
//   - POACHER_SKIP_EMPTY_REPOS, POACHER_CLONE, POACHER_MONITOR_ONLY: bools
//   - POACHER_MAX_REPO_SIZE_KB, POACHER_WORKERS: ints
//   - POACHER_POLL_DELAY_SECONDS, POACHER_API_RPS: floats
//   - POACHER_REPO_HANDLER, POACHER_WORKING_DIRECTORY,
//     POACHER_ARCHIVE_DIRECTORY, POACHER_MARKER_FILE, POACHER_HISTORY_DB:
//     strings
//
// Returns an error if any environment variable has an invalid value.
func (c *Config) ApplyEnv() error {
	if err := parseEnvString("GITHUB_TOKEN", &c.GitHubToken); err != nil {
		return err
	}
	if err := parseEnvBool("POACHER_SKIP_EMPTY_REPOS", &c.SkipEmptyRepos); err != nil {
		return err
	}
	if err := parseEnvBool("POACHER_CLONE", &c.Clone); err != nil {
		return err
	}
	if err := parseEnvBool("POACHER_MONITOR_ONLY", &c.MonitorOnly); err != nil {
		return err
	}
	if err := parseEnvInt64("POACHER_MAX_REPO_SIZE_KB", &c.MaxRepoSizeKB); err != nil {
		return err
	}
	if err := parseEnvInt("POACHER_WORKERS", &c.Workers); err != nil {
		return err
	}
	if err := parseEnvFloat("POACHER_POLL_DELAY_SECONDS", &c.PollDelaySeconds); err != nil {
		return err
	}
	if err := parseEnvFloat("POACHER_API_RPS", &c.APIRequestsPerSecond); err != nil {
		return err
	}
	for key, dest := range map[string]*string{
		"POACHER_REPO_HANDLER":      &c.RepoHandler,
		"POACHER_WORKING_DIRECTORY": &c.WorkingDirectory,
		"POACHER_ARCHIVE_DIRECTORY": &c.ArchiveDirectory,
		"POACHER_MARKER_FILE":       &c.MarkerFile,
		"POACHER_HISTORY_DB":        &c.HistoryDB,
	} {
		if err := parseEnvString(key, dest); err != nil {
			return err
		}
	}
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvInt64(key string, dest *int64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString reads a string from an environment variable
func parseEnvString(key string, dest *string) error {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
	return nil
}
