package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/wrn/internal/hparams"
)

// Config represents the wrn configuration file (~/.config/wrn/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	ModelDir string `yaml:"model_dir"`

	Workers   *int     `yaml:"workers"`
	BatchSize *int     `yaml:"batch_size"`
	SaveFreq  *int     `yaml:"save_freq"`
	Seed      *int64   `yaml:"seed"`
	Augment   string   `yaml:"augment"`
	LR        *float64 `yaml:"lr"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "wrn", "config.yaml")
}

// applyTrainConfig applies config file defaults to o when the
// corresponding CLI flag was not explicitly set.
func applyTrainConfig(c *cli.Command, cfg Config, o *hparams.Options) {
	applyModelConfig(c, cfg, o)
	if cfg.DataDir != "" && !c.IsSet("data-dir") {
		o.DataDir = cfg.DataDir
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		o.Workers = *cfg.Workers
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		o.BatchSize = *cfg.BatchSize
	}
	if cfg.SaveFreq != nil && !c.IsSet("save-freq") {
		o.SaveFreq = *cfg.SaveFreq
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		o.Seed = *cfg.Seed
	}
	if cfg.Augment != "" && !c.IsSet("augment") {
		o.Augment = cfg.Augment
	}
	if cfg.LR != nil && !c.IsSet("lr") {
		o.LR = *cfg.LR
	}
}

func applyModelConfig(c *cli.Command, cfg Config, o *hparams.Options) {
	if cfg.ModelDir != "" && !c.IsSet("model-dir") {
		o.ModelDir = cfg.ModelDir
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, o *hparams.Options, addr *string) {
	applyModelConfig(c, cfg, o)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
