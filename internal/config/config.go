// SPDX-License-Identifier: MIT

// Package config loads daemon configuration from an optional YAML file with
// OTTREC_* environment overrides. Precedence is env > file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	DataDir   string `yaml:"dataDir"`
	OutputDir string `yaml:"outputDir"`
	LogLevel  string `yaml:"logLevel"`

	Session   Session   `yaml:"session"`
	Recorder  Recorder  `yaml:"recorder"`
	Scheduler Scheduler `yaml:"scheduler"`
	Series    Series    `yaml:"series"`
	Store     Store     `yaml:"store"`
	EPG       EPG       `yaml:"epg"`
	API       API       `yaml:"api"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Session identifies the upstream account; it namespaces persisted state so
// switching providers never mixes recordings.
type Session struct {
	Mode     string `yaml:"mode"` // "xtream" | "playlist"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Playlist string `yaml:"playlist"`
}

// Recorder configures the external capture tool.
type Recorder struct {
	Binary       string   `yaml:"binary"`
	Args         []string `yaml:"args"`
	GraceSeconds int      `yaml:"graceSeconds"`
	ManualSlots  int      `yaml:"manualSlots"`
}

// Scheduler configures the reconciliation and series refresh loops.
type Scheduler struct {
	TickSeconds         int `yaml:"tickSeconds"`
	ToleranceSeconds    int `yaml:"toleranceSeconds"`
	OverrunGraceMinutes int `yaml:"overrunGraceMinutes"`
	SeriesRefreshHours  int `yaml:"seriesRefreshHours"`
	StartupDelaySeconds int `yaml:"startupDelaySeconds"`
	JitterSeconds       int `yaml:"jitterSeconds"`
}

// Series configures the episode matcher.
type Series struct {
	TimeToleranceMinutes int `yaml:"timeToleranceMinutes"`
	HistoryWindow        int `yaml:"historyWindow"`
}

// Store configures persistence housekeeping.
type Store struct {
	RetentionDays int `yaml:"retentionDays"`
}

// EPG configures the guide source and stream URL resolution.
type EPG struct {
	BaseURL string `yaml:"baseUrl"`
	// StreamTemplate renders a capture URL from a channel id via the
	// {channel} placeholder.
	StreamTemplate string `yaml:"streamTemplate"`
}

// API configures the HTTP surface.
type API struct {
	Listen             string `yaml:"listen"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`
}

// Telemetry configures optional OTLP trace export.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		DataDir:   "/var/lib/ottrec",
		OutputDir: "/var/lib/ottrec/recordings",
		LogLevel:  "info",
		Session:   Session{Mode: "playlist"},
		Recorder: Recorder{
			Args:         []string{"-i", "{url}", "-c", "copy", "-y", "{output}"},
			GraceSeconds: 5,
			ManualSlots:  1,
		},
		Scheduler: Scheduler{
			TickSeconds:         30,
			ToleranceSeconds:    120,
			OverrunGraceMinutes: 5,
			SeriesRefreshHours:  6,
			StartupDelaySeconds: 90,
			JitterSeconds:       60,
		},
		Series: Series{
			TimeToleranceMinutes: 15,
			HistoryWindow:        3,
		},
		Store:     Store{RetentionDays: 7},
		API:       API{Listen: ":8089", RateLimitPerMinute: 120},
		Telemetry: Telemetry{},
	}
}

// Load resolves the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = parseString("OTTREC_DATA_DIR", c.DataDir)
	c.OutputDir = parseString("OTTREC_OUTPUT_DIR", c.OutputDir)
	c.LogLevel = parseString("OTTREC_LOG_LEVEL", c.LogLevel)

	c.Session.Mode = parseString("OTTREC_SESSION_MODE", c.Session.Mode)
	c.Session.Host = parseString("OTTREC_SESSION_HOST", c.Session.Host)
	c.Session.Port = parseInt("OTTREC_SESSION_PORT", c.Session.Port)
	c.Session.Username = parseString("OTTREC_SESSION_USERNAME", c.Session.Username)
	c.Session.Playlist = parseString("OTTREC_SESSION_PLAYLIST", c.Session.Playlist)

	c.Recorder.Binary = parseString("OTTREC_RECORDER_BINARY", c.Recorder.Binary)
	c.Recorder.Args = parseList("OTTREC_RECORDER_ARGS", c.Recorder.Args)
	c.Recorder.GraceSeconds = parseInt("OTTREC_RECORDER_GRACE_SECONDS", c.Recorder.GraceSeconds)
	c.Recorder.ManualSlots = parseInt("OTTREC_RECORDER_MANUAL_SLOTS", c.Recorder.ManualSlots)

	c.Scheduler.TickSeconds = parseInt("OTTREC_SCHEDULER_TICK_SECONDS", c.Scheduler.TickSeconds)
	c.Scheduler.ToleranceSeconds = parseInt("OTTREC_SCHEDULER_TOLERANCE_SECONDS", c.Scheduler.ToleranceSeconds)
	c.Scheduler.OverrunGraceMinutes = parseInt("OTTREC_SCHEDULER_OVERRUN_GRACE_MINUTES", c.Scheduler.OverrunGraceMinutes)
	c.Scheduler.SeriesRefreshHours = parseInt("OTTREC_SCHEDULER_SERIES_REFRESH_HOURS", c.Scheduler.SeriesRefreshHours)
	c.Scheduler.StartupDelaySeconds = parseInt("OTTREC_SCHEDULER_STARTUP_DELAY_SECONDS", c.Scheduler.StartupDelaySeconds)
	c.Scheduler.JitterSeconds = parseInt("OTTREC_SCHEDULER_JITTER_SECONDS", c.Scheduler.JitterSeconds)

	c.Series.TimeToleranceMinutes = parseInt("OTTREC_SERIES_TIME_TOLERANCE_MINUTES", c.Series.TimeToleranceMinutes)
	c.Series.HistoryWindow = parseInt("OTTREC_SERIES_HISTORY_WINDOW", c.Series.HistoryWindow)

	c.Store.RetentionDays = parseInt("OTTREC_STORE_RETENTION_DAYS", c.Store.RetentionDays)

	c.EPG.BaseURL = parseString("OTTREC_EPG_BASE_URL", c.EPG.BaseURL)
	c.EPG.StreamTemplate = parseString("OTTREC_EPG_STREAM_TEMPLATE", c.EPG.StreamTemplate)

	c.API.Listen = parseString("OTTREC_API_LISTEN", c.API.Listen)
	c.API.RateLimitPerMinute = parseInt("OTTREC_API_RATE_LIMIT_PER_MINUTE", c.API.RateLimitPerMinute)

	c.Telemetry.Enabled = parseBool("OTTREC_TELEMETRY_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.Endpoint = parseString("OTTREC_TELEMETRY_ENDPOINT", c.Telemetry.Endpoint)
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("dataDir must not be empty"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("outputDir must not be empty"))
	}
	if c.Scheduler.TickSeconds <= 0 {
		errs = append(errs, errors.New("scheduler.tickSeconds must be positive"))
	}
	if c.Scheduler.ToleranceSeconds <= c.Scheduler.TickSeconds {
		// A tolerance at or below the tick makes the poller skip starts.
		errs = append(errs, fmt.Errorf("scheduler.toleranceSeconds (%d) must exceed tickSeconds (%d)",
			c.Scheduler.ToleranceSeconds, c.Scheduler.TickSeconds))
	}
	if c.Scheduler.SeriesRefreshHours <= 0 {
		errs = append(errs, errors.New("scheduler.seriesRefreshHours must be positive"))
	}
	if c.Recorder.ManualSlots < 1 {
		errs = append(errs, errors.New("recorder.manualSlots must be at least 1"))
	}
	if c.Store.RetentionDays < 1 {
		errs = append(errs, errors.New("store.retentionDays must be at least 1"))
	}
	if c.API.Listen == "" {
		errs = append(errs, errors.New("api.listen must not be empty"))
	}
	switch c.Session.Mode {
	case "xtream":
		if c.Session.Host == "" || c.Session.Username == "" {
			errs = append(errs, errors.New("session mode xtream requires host and username"))
		}
	case "playlist":
		// Playlist mode works without an upstream account.
	default:
		errs = append(errs, fmt.Errorf("unknown session.mode %q", c.Session.Mode))
	}
	return errors.Join(errs...)
}

// SessionKey derives the persistence namespace for the configured account.
// Keys are stable across restarts and distinct across accounts.
func (c *Config) SessionKey() string {
	if c.Session.Mode == "xtream" {
		return fmt.Sprintf("xtream|%s:%d|%s", c.Session.Host, c.Session.Port, c.Session.Username)
	}
	if c.Session.Playlist != "" {
		return "playlist|" + c.Session.Playlist
	}
	return "playlist|default"
}

// Durations derived from the integer fields.

func (c *Config) RecorderGrace() time.Duration {
	return time.Duration(c.Recorder.GraceSeconds) * time.Second
}
func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}
func (c *Config) StartTolerance() time.Duration {
	return time.Duration(c.Scheduler.ToleranceSeconds) * time.Second
}
func (c *Config) OverrunGrace() time.Duration {
	return time.Duration(c.Scheduler.OverrunGraceMinutes) * time.Minute
}
func (c *Config) SeriesRefresh() time.Duration {
	return time.Duration(c.Scheduler.SeriesRefreshHours) * time.Hour
}
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.Scheduler.StartupDelaySeconds) * time.Second
}
func (c *Config) Jitter() time.Duration {
	return time.Duration(c.Scheduler.JitterSeconds) * time.Second
}
func (c *Config) SeriesTimeTolerance() time.Duration {
	return time.Duration(c.Series.TimeToleranceMinutes) * time.Minute
}
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}
