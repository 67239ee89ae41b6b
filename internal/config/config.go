// Package config handles application configuration from environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	SchedulePath string
	PendingPath  string

	LogLevel  string
	LogFormat string
	LogFile   string

	ListenAddr string

	FetchTimeout         time.Duration
	FreshnessWindow      time.Duration
	HonorFetchPeriod     bool
	DueInterval          time.Duration
	PollInterval         time.Duration
	SourcePacing         time.Duration
	InvalidPause         time.Duration
	RetryPause           time.Duration
	WatchdogStale        time.Duration
	RemoteServerLocation string
	RulesEnabled         bool
	DiscoverSources      bool
	AllowPrivateHosts    bool
	MaxEntries           int
	InitSources          []string
	UserAgent            string
}

var defaults = map[string]any{
	"database_path":          "./data/reader.db",
	"schedule_path":          "./data/schedule.db",
	"pending_path":           "./data/pending.txt",
	"log_level":              "info",
	"log_format":             "text",
	"log_file":               "",
	"listen_addr":            ":8080",
	"fetch_timeout":          "300s",
	"freshness_window":       "1h",
	"honor_fetch_period":     false,
	"due_interval":           "1h",
	"poll_interval":          "10s",
	"source_pacing":          "1s",
	"invalid_pause":          "5s",
	"retry_pause":            "10s",
	"watchdog_stale":         "3h",
	"remote_server_location": "",
	"rules_enabled":          true,
	"discover_sources":       false,
	"allow_private_hosts":    false,
	"max_entries":            0,
	"init_sources":           "",
	"user_agent":             "rss_reader/1.0",
	"config_file":            "",
}

// Load reads configuration from environment variables. Keys use the
// variable names in lower case when set in a config file. path names an
// explicit config file; when empty CONFIG_FILE is consulted, and then
// reader.{yaml,toml,json} in the working directory if present.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config_file")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("reader")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		DatabasePath:         v.GetString("database_path"),
		SchedulePath:         v.GetString("schedule_path"),
		PendingPath:          v.GetString("pending_path"),
		LogLevel:             strings.ToLower(v.GetString("log_level")),
		LogFormat:            strings.ToLower(v.GetString("log_format")),
		LogFile:              v.GetString("log_file"),
		ListenAddr:           v.GetString("listen_addr"),
		HonorFetchPeriod:     v.GetBool("honor_fetch_period"),
		RemoteServerLocation: strings.TrimSpace(v.GetString("remote_server_location")),
		RulesEnabled:         v.GetBool("rules_enabled"),
		DiscoverSources:      v.GetBool("discover_sources"),
		AllowPrivateHosts:    v.GetBool("allow_private_hosts"),
		MaxEntries:           v.GetInt("max_entries"),
		InitSources:          splitList(v.GetString("init_sources")),
		UserAgent:            v.GetString("user_agent"),
	}
	if cfg.MaxEntries < 0 {
		return nil, fmt.Errorf("invalid MAX_ENTRIES %d: must not be negative", cfg.MaxEntries)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"fetch_timeout", &cfg.FetchTimeout},
		{"freshness_window", &cfg.FreshnessWindow},
		{"due_interval", &cfg.DueInterval},
		{"poll_interval", &cfg.PollInterval},
		{"source_pacing", &cfg.SourcePacing},
		{"invalid_pause", &cfg.InvalidPause},
		{"retry_pause", &cfg.RetryPause},
		{"watchdog_stale", &cfg.WatchdogStale},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(v.GetString(d.key))
		val, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q in %s: %w", raw, strings.ToUpper(d.key), err)
		}
		if val < 0 {
			return nil, fmt.Errorf("invalid duration %q in %s: must not be negative", raw, strings.ToUpper(d.key))
		}
		*d.dst = val
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
