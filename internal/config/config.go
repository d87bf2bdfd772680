// Package config loads daemon, mediator, and worker-process settings from
// TOML via github.com/spf13/viper. Grounded on loykin-provisr's
// internal/config/config.go: a FileConfig top-level struct unmarshaled by
// viper into typed sub-structs, with validation performed once at load
// time rather than scattered across call sites. Generalized from "a list
// of named managed processes plus cron jobs" to "one daemon plus a list of
// worker-alias mediators".
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/daemonkit/internal/env"
	"github.com/loykin/daemonkit/internal/logging"
	"github.com/loykin/daemonkit/internal/mediator"
	"github.com/loykin/daemonkit/internal/scheduler"
	"github.com/spf13/viper"
)

// FileConfig is the top-level TOML structure.
type FileConfig struct {
	Env       []string         `toml:"env" mapstructure:"env"`
	EnvFiles  []string         `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv  bool             `toml:"use_os_env" mapstructure:"use_os_env"`
	Log       *LogConfig       `toml:"log" mapstructure:"log"`
	Daemon    DaemonConfig     `toml:"daemon" mapstructure:"daemon"`
	Mediators []MediatorConfig `toml:"mediator" mapstructure:"mediator"`
	AuditDSN  string           `toml:"audit_dsn" mapstructure:"audit_dsn"`
	Stats     StatsConfig      `toml:"stats" mapstructure:"stats"`
	Tracing   TracingConfig    `toml:"tracing" mapstructure:"tracing"`
}

// StatsConfig configures the read-only statistics HTTP plugin
// (pkg/plugins/httpapi) and the Prometheus registration it drives.
type StatsConfig struct {
	Addr             string `toml:"addr" mapstructure:"addr"`
	BasePath         string `toml:"base_path" mapstructure:"base_path"`
	EnablePrometheus bool   `toml:"enable_prometheus" mapstructure:"enable_prometheus"`
}

// TracingConfig configures OpenTelemetry span emission for the mediator
// call lifecycle and the scheduler's own ticks.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled" mapstructure:"enabled"`
	ServiceName string `toml:"service_name" mapstructure:"service_name"`
}

// LogConfig mirrors internal/logging.ChildLogConfig in TOML form.
type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// ToChildLogConfig converts a LogConfig into the logging package's shape. A
// nil receiver (no `[log]` table configured) yields a zero ChildLogConfig,
// so Writers returns nil writers and the caller leaves cmd.Stdout/Stderr
// untouched.
func (l *LogConfig) ToChildLogConfig() logging.ChildLogConfig {
	if l == nil {
		return logging.ChildLogConfig{}
	}
	return logging.ChildLogConfig{
		Dir:        l.Dir,
		StdoutPath: l.Stdout,
		StderrPath: l.Stderr,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// DaemonConfig configures the scheduler's main loop. Durations are given in
// milliseconds/seconds in TOML since time.Duration has no native TOML form.
type DaemonConfig struct {
	LoopIntervalMS         int64   `toml:"loop_interval_ms" mapstructure:"loop_interval_ms"`
	IdleProbability        float64 `toml:"idle_probability" mapstructure:"idle_probability"`
	AutoRestartIntervalSec int64   `toml:"auto_restart_interval_sec" mapstructure:"auto_restart_interval_sec"`
	MinRestartThresholdSec int64   `toml:"min_restart_threshold_sec" mapstructure:"min_restart_threshold_sec"`
	Daemonize              bool    `toml:"daemonize" mapstructure:"daemonize"`
	ShutdownOnInterrupt    bool    `toml:"shutdown_on_interrupt" mapstructure:"shutdown_on_interrupt"`
	DumpOnSignal           bool    `toml:"dump_on_signal" mapstructure:"dump_on_signal"`
}

// ToOptions converts DaemonConfig into scheduler.Options.
func (d DaemonConfig) ToOptions() scheduler.Options {
	return scheduler.Options{
		LoopInterval:        time.Duration(d.LoopIntervalMS) * time.Millisecond,
		IdleProbability:     d.IdleProbability,
		AutoRestartInterval: time.Duration(d.AutoRestartIntervalSec) * time.Second,
		MinRestartThreshold: time.Duration(d.MinRestartThresholdSec) * time.Second,
		Daemonize:           d.Daemonize,
		ShutdownOnInterrupt: d.ShutdownOnInterrupt,
		DumpOnSignal:        d.DumpOnSignal,
	}
}

// MediatorConfig configures one worker alias: the command used to fork a
// worker, its forking strategy, and its recycling limits.
type MediatorConfig struct {
	Alias          string     `toml:"alias" mapstructure:"alias"`
	Command        string     `toml:"command" mapstructure:"command"`
	Args           []string   `toml:"args" mapstructure:"args"`
	Strategy       string     `toml:"strategy" mapstructure:"strategy"` // "lazy"|"mixed"|"aggressive"|"" (auto)
	MaxProcesses   int        `toml:"max_processes" mapstructure:"max_processes"`
	MaxCalls       int        `toml:"max_calls" mapstructure:"max_calls"`
	MinRuntimeSec  int64      `toml:"min_runtime_sec" mapstructure:"min_runtime_sec"`
	MaxRuntimeSec  int64      `toml:"max_runtime_sec" mapstructure:"max_runtime_sec"`
	AutoRestart    bool       `toml:"auto_restart" mapstructure:"auto_restart"`
	AllowWakeup    bool       `toml:"allow_wakeup" mapstructure:"allow_wakeup"`
	ForkTimeoutSec int64      `toml:"fork_timeout_sec" mapstructure:"fork_timeout_sec"`
	Env            []string   `toml:"env" mapstructure:"env"`
	Log            *LogConfig `toml:"log" mapstructure:"log"`
}

// strategy resolves the configured strategy name, falling back to
// mediator.SelectStrategy(loopInterval) when left blank or "auto" — the
// same "derive from loop cadence" default the Mediator package documents.
func (m MediatorConfig) strategy(loopInterval time.Duration) (mediator.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(m.Strategy)) {
	case "", "auto":
		return mediator.SelectStrategy(loopInterval), nil
	case "lazy":
		return mediator.Lazy, nil
	case "mixed":
		return mediator.Mixed, nil
	case "aggressive":
		return mediator.Aggressive, nil
	default:
		return 0, fmt.Errorf("mediator %s: unknown strategy %q", m.Alias, m.Strategy)
	}
}

// ToConfig converts one MediatorConfig into mediator.Config, resolving the
// strategy against the daemon's loop interval.
func (m MediatorConfig) ToConfig(loopInterval time.Duration) (mediator.Config, error) {
	strat, err := m.strategy(loopInterval)
	if err != nil {
		return mediator.Config{}, err
	}
	return mediator.Config{
		Strategy:     strat,
		MaxProcesses: m.MaxProcesses,
		MaxCalls:     m.MaxCalls,
		MinRuntime:   time.Duration(m.MinRuntimeSec) * time.Second,
		MaxRuntime:   time.Duration(m.MaxRuntimeSec) * time.Second,
		AutoRestart:  m.AutoRestart,
		AllowWakeup:  m.AllowWakeup,
		ForkTimeout:  time.Duration(m.ForkTimeoutSec) * time.Second,
		Log:          m.Log.ToChildLogConfig(),
	}, nil
}

// Validate enforces the invariants a mediator needs to fork at all:
// a non-empty alias and command, and at least one allowed process.
func (m MediatorConfig) Validate() error {
	if m.Alias == "" {
		return fmt.Errorf("mediator: alias is required")
	}
	if m.Command == "" {
		return fmt.Errorf("mediator %s: command is required", m.Alias)
	}
	if m.MaxProcesses <= 0 {
		return fmt.Errorf("mediator %s: max_processes must be positive", m.Alias)
	}
	return nil
}

// Load reads path as TOML and unmarshals it into a FileConfig, validating
// every mediator entry before returning.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	for _, m := range fc.Mediators {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	return &fc, nil
}

// GlobalEnv composes fc's env precedence into an *env.Env: OS env (when
// UseOSEnv), then env_files contents in order, then the top-level env
// list, matching LoadGlobalEnv's precedence in the teacher's config
// package but returning the composable env.Env type instead of a
// pre-flattened slice, so callers can still layer per-mediator env on
// top via Env.Merge.
func (fc *FileConfig) GlobalEnv() (*env.Env, error) {
	e := env.New()
	if fc.UseOSEnv {
		e.FromOS()
	} else {
		e.WithoutOSEnv()
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("config: load env file %s: %w", p, err)
		}
		for k, v := range pairs {
			e.Set(k, v)
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
	return e, nil
}

// MediatorEnv composes the global env with one mediator's own per-alias
// overrides.
func (fc *FileConfig) MediatorEnv(m MediatorConfig) (*env.Env, error) {
	e, err := fc.GlobalEnv()
	if err != nil {
		return nil, err
	}
	for _, kv := range m.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
	return e, nil
}

// loadEnvFile parses a simple KEY=VALUE dotenv file; lines starting with #
// are ignored. Mirrors the teacher's config.loadEnvFile.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
