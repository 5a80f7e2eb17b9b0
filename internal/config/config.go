// Package config loads and watches the server's YAML configuration: the
// listen address, fetch tuning, the MIN_INTERVAL floor, the CAPTCHA
// keyword set, and the page-dump flag. Grounded in the teacher's own
// internal/config.Load — same read/expand-env/unmarshal pipeline, reused
// for a different struct shape — enriched with fsnotify-based hot reload
// (a direct dependency of the hazyhaar-GoClode and kluzzebass-gastrolog
// example repos) so CAPTCHA keywords and the dump flag can change without
// a restart, matching the original's /reload_config endpoint.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full contents of the server's YAML configuration file.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	Fetch   FetchConfig   `yaml:"fetch"`
	Monitor MonitorConfig `yaml:"monitor"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
}

// FetchConfig tunes the Fetcher collaborator.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// MonitorConfig tunes every Monitor's scheduling and page-dump behavior.
type MonitorConfig struct {
	MinIntervalMinutes int      `yaml:"min_interval_minutes"`
	CaptchaKeywords    []string `yaml:"captcha_keywords"`
	DumpEnabled        bool     `yaml:"dump_enabled"`
	DumpDir            string   `yaml:"dump_dir"`
	// ScanConcurrency bounds how many queries a single Scan fetches in
	// parallel per Monitor (spec.md §5's "bounded worker pool").
	ScanConcurrency int `yaml:"scan_concurrency"`
}

// StorageConfig locates the shared sqlite database (querywatch.db under
// Root, holding every user's rows) and the default notification sound
// substituted on a sound-file miss.
type StorageConfig struct {
	Root             string `yaml:"root"`
	DefaultSoundFile string `yaml:"default_sound_file"`
}

// AuthConfig carries the session-token signing secret and the passphrase
// required to call /reload_config. Both are deployment secrets: they are
// read from environment variables expanded into the YAML (never literal
// defaults), so neither ever appears in source control or in this file.
type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	ReloadPassphrase string `yaml:"reload_passphrase"`
}

// Load reads path, expands ${VAR} references against the process
// environment, and parses the result as YAML, applying defaults for any
// zero-valued tunable.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8443
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 15 * time.Second
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "querywatch/1.0"
	}
	if cfg.Monitor.MinIntervalMinutes == 0 {
		cfg.Monitor.MinIntervalMinutes = 5
	}
	if cfg.Monitor.ScanConcurrency == 0 {
		cfg.Monitor.ScanConcurrency = 8
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "./data"
	}

	return &cfg, nil
}
