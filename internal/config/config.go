package config

import (
	"fmt"
	"os"
	"time"

	"github.com/me/clusterize/pkg/model"
	"gopkg.in/yaml.v3"
)

// LogConfig holds logging settings shared by both modes.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MasterConfig holds configuration for the coordinating process.
type MasterConfig struct {
	Input           string        `yaml:"input"`            // input container path
	Dataset         string        `yaml:"dataset"`          // dataset name inside the input container
	Output          string        `yaml:"output"`           // consolidated output container path
	ScratchDir      string        `yaml:"scratch_dir"`      // shared directory for status/output files
	TmpDir          string        `yaml:"tmp_dir"`          // worker-private temp root (empty: system default)
	CommandTemplate string        `yaml:"command_template"` // must contain {args}; may contain {task_name}
	NumJobs         int           `yaml:"num_jobs"`
	SplitAxes       string        `yaml:"split_axes"`
	Pipeline        string        `yaml:"pipeline"`
	Timeout         time.Duration `yaml:"timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	TrackExit       bool          `yaml:"track_exit"` // treat a non-zero launch exit status as job failure
	WorkerLogLevel  string        `yaml:"worker_log_level"`
	DBPath          string        `yaml:"db"`          // SQLite ledger path (empty disables the ledger)
	StatusAddr      string        `yaml:"status_addr"` // listen address for the status endpoint (empty disables it)
	Log             LogConfig     `yaml:"log"`
}

// DefaultMasterConfig returns sensible defaults.
func DefaultMasterConfig() MasterConfig {
	return MasterConfig{
		Dataset:      "data",
		SplitAxes:    model.DefaultSplittableAxes,
		Pipeline:     "copy",
		Timeout:      10 * time.Minute,
		PollInterval: 15 * time.Second,
		TrackExit:    true,
		Log:          LogConfig{Level: "info", Format: "text"},
	}
}

// Validate reports the first invalid setting as a *model.ConfigError.
func (c MasterConfig) Validate() error {
	required := []struct{ field, value string }{
		{"input", c.Input},
		{"dataset", c.Dataset},
		{"output", c.Output},
		{"scratch_dir", c.ScratchDir},
		{"command_template", c.CommandTemplate},
		{"pipeline", c.Pipeline},
	}
	for _, r := range required {
		if r.value == "" {
			return &model.ConfigError{Field: r.field, Msg: "is required"}
		}
	}
	if c.NumJobs <= 0 {
		return &model.ConfigError{Field: "num_jobs", Msg: fmt.Sprintf("must be positive, got %d", c.NumJobs)}
	}
	if c.Timeout <= 0 {
		return &model.ConfigError{Field: "timeout", Msg: fmt.Sprintf("must be positive, got %s", c.Timeout)}
	}
	if c.PollInterval <= 0 {
		return &model.ConfigError{Field: "poll_interval", Msg: fmt.Sprintf("must be positive, got %s", c.PollInterval)}
	}
	return nil
}

// WorkerConfig holds configuration for one spawned worker process.
type WorkerConfig struct {
	Input       string
	Dataset     string
	ScratchDir  string
	TmpDir      string
	Pipeline    string
	NodeWork    string // encoded region
	ProcessName string
	Log         LogConfig
}

// DefaultWorkerConfig returns sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Dataset:     "data",
		Pipeline:    "copy",
		ProcessName: "node",
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Validate reports the first invalid setting as a *model.ConfigError.
func (c WorkerConfig) Validate() error {
	required := []struct{ field, value string }{
		{"input", c.Input},
		{"dataset", c.Dataset},
		{"scratch_dir", c.ScratchDir},
		{"pipeline", c.Pipeline},
		{"node_work", c.NodeWork},
	}
	for _, r := range required {
		if r.value == "" {
			return &model.ConfigError{Field: r.field, Msg: "is required"}
		}
	}
	return nil
}

// LoadMasterFile overlays the YAML file at path onto cfg.
func LoadMasterFile(path string, cfg *MasterConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
