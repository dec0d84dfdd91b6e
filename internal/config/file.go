package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/streetbite/lakepipe/internal/retry"
	"github.com/streetbite/lakepipe/internal/watermark"
)

// Settings is the pipeline tuning, loaded from a YAML file. Every field
// has a default, so running with no file at all is valid.
type Settings struct {
	Pipeline   PipelineSettings   `yaml:"pipeline"`
	Source     SourceSettings     `yaml:"source"`
	Lake       LakeSettings       `yaml:"lake"`
	Retry      RetrySettings      `yaml:"retry"`
	Validation ValidationSettings `yaml:"validation"`
	Daemon     DaemonSettings     `yaml:"daemon"`
	Quarantine QuarantineSettings `yaml:"quarantine"`
}

type PipelineSettings struct {
	// WatermarkName keys this pipeline's cursor in the watermark store.
	WatermarkName string `yaml:"watermark_name"`
	// HistoricalCutoff bounds the first-ever run when no watermark exists.
	HistoricalCutoff string `yaml:"historical_cutoff"`
}

type SourceSettings struct {
	Table               string `yaml:"table"`
	QueryTimeoutSeconds int    `yaml:"query_timeout_seconds"`
}

type LakeSettings struct {
	Prefix string `yaml:"prefix"`
}

type RetrySettings struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier"`
}

type ValidationSettings struct {
	// MaxUnitID rejects unit ids above the fleet size when > 0.
	MaxUnitID int64 `yaml:"max_unit_id"`
	// PaymentMethods maps source tokens to canonical method names;
	// empty means the built-in defaults (1/cash, 2/card).
	PaymentMethods map[string]string `yaml:"payment_methods"`
}

type DaemonSettings struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	ListenAddr      string `yaml:"listen_addr"`
}

type QuarantineSettings struct {
	// Sink selects the quarantine backend: "log" or "mongo".
	Sink            string `yaml:"sink"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

// DefaultSettings are the values used when no config file is given.
func DefaultSettings() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

// LoadSettings reads and validates the YAML tuning file. An empty path
// returns the defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	s.applyDefaults()

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file '%s': %w", path, err)
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.Pipeline.WatermarkName == "" {
		s.Pipeline.WatermarkName = "transactions"
	}
	if s.Pipeline.HistoricalCutoff == "" {
		s.Pipeline.HistoricalCutoff = "2025-10-25 23:58:00"
	}
	if s.Source.Table == "" {
		s.Source.Table = "transactions"
	}
	if s.Source.QueryTimeoutSeconds == 0 {
		s.Source.QueryTimeoutSeconds = 30
	}
	if s.Lake.Prefix == "" {
		s.Lake.Prefix = "transactions"
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = 3
	}
	if s.Retry.InitialBackoffMS == 0 {
		s.Retry.InitialBackoffMS = 500
	}
	if s.Retry.MaxBackoffMS == 0 {
		s.Retry.MaxBackoffMS = 8000
	}
	if s.Retry.Multiplier == 0 {
		s.Retry.Multiplier = 2.0
	}
	if s.Validation.MaxUnitID == 0 {
		// Fleet size at the time of writing; negative disables the bound.
		s.Validation.MaxUnitID = 6
	}
	if s.Daemon.IntervalSeconds == 0 {
		s.Daemon.IntervalSeconds = 300
	}
	if s.Daemon.ListenAddr == "" {
		s.Daemon.ListenAddr = ":8090"
	}
	if s.Quarantine.Sink == "" {
		s.Quarantine.Sink = "log"
	}
	if s.Quarantine.MongoDatabase == "" {
		s.Quarantine.MongoDatabase = "lakepipe"
	}
	if s.Quarantine.MongoCollection == "" {
		s.Quarantine.MongoCollection = "quarantine"
	}
}

func (s *Settings) validate() error {
	if _, err := watermark.Parse(s.Pipeline.HistoricalCutoff); err != nil {
		return fmt.Errorf("pipeline.historical_cutoff: %w", err)
	}
	if s.Source.QueryTimeoutSeconds < 0 {
		return fmt.Errorf("source.query_timeout_seconds must not be negative, got %d", s.Source.QueryTimeoutSeconds)
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", s.Retry.MaxAttempts)
	}
	if s.Daemon.IntervalSeconds < 1 {
		return fmt.Errorf("daemon.interval_seconds must be at least 1, got %d", s.Daemon.IntervalSeconds)
	}
	switch s.Quarantine.Sink {
	case "log", "mongo":
	default:
		return fmt.Errorf("quarantine.sink must be log or mongo, got %q", s.Quarantine.Sink)
	}
	return nil
}

// Cutoff returns the parsed historical cutoff. LoadSettings validated it.
func (s *Settings) Cutoff() time.Time {
	t, _ := watermark.Parse(s.Pipeline.HistoricalCutoff)
	return t
}

// QueryTimeout returns the source query timeout as a duration.
func (s *SourceSettings) QueryTimeout() time.Duration {
	return time.Duration(s.QueryTimeoutSeconds) * time.Second
}

// Policy returns the retry schedule as a policy object.
func (r *RetrySettings) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: time.Duration(r.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(r.MaxBackoffMS) * time.Millisecond,
		Multiplier:     r.Multiplier,
	}
}

// Interval returns the daemon's run cadence.
func (d *DaemonSettings) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}
