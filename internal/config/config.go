// Package config loads the TOML file describing one mining run: the
// target binary, the debugger backend to drive it with, and the
// directory of seed inputs to trace.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/dekarrin/gdbminer/internal/mmerr"
)

// InputChannel selects how a seed's bytes reach the traced program.
type InputChannel string

const (
	ChannelFile   InputChannel = "file"
	ChannelStdin  InputChannel = "stdin"
	ChannelSerial InputChannel = "serial"
)

// Instance selects the debugger backend.
type Instance string

const (
	InstanceDirect        Instance = "direct"
	InstanceMemorySandbox Instance = "memory-sandbox"
	InstanceOnChip        Instance = "on-chip"
)

// CallSiteMode selects whether CallSiteKey includes the caller's call-site
// location (default is function-only).
type CallSiteMode string

const (
	CallSiteFunctionOnly    CallSiteMode = "function-only"
	CallSiteFunctionAndCall CallSiteMode = "function-and-callsite"
)

// Config is the typed form of the key=value record
type Config struct {
	SeedDirectory         string       `toml:"seed_directory"`
	EvalDirectory         string       `toml:"eval_directory"`
	OutputDirectory       string       `toml:"output_directory"`
	BinaryFile            string       `toml:"binary_file"`
	InputChannel          InputChannel `toml:"input_channel"`
	Port                  string       `toml:"port"`
	BaudRate              int          `toml:"baud_rate"`
	GdbPath               string       `toml:"gdb_path"`
	Instance              Instance     `toml:"instance"`
	GdbServerPath         string       `toml:"gdb_server_path"`
	GdbServerAddress      string       `toml:"gdb_server_address"`
	IgnoreFunctionsRegex  string       `toml:"ignore_functions_regex"`
	WatchpointType        string       `toml:"watchpoint_type"`
	WatchpointCount       int          `toml:"watchpoint_count"`
	TimeoutSeconds        int          `toml:"timeout"`
	Entrypoint            string       `toml:"entrypoint"`
	Exitpoint             string       `toml:"exitpoint"`
	InputBuffer           string       `toml:"input_buffer"`
	LogLevel              string       `toml:"log_level"`
	NumberOfSeeds         int          `toml:"NUMBER_OF_SEEDS"`
	OriginalMimid         bool         `toml:"ORIGINAL_MIMID"`
	DelayWP               bool         `toml:"DELAY_WP"`
	PrecisionSetSize      int          `toml:"PRECISION_SET_SIZE"`
	CallSiteQualification CallSiteMode `toml:"callsite_qualified"`
}

// defaults gives every optional field a sane value so a minimal config
// file is usable.
func defaults() Config {
	return Config{
		OutputDirectory:       ".",
		InputChannel:          ChannelFile,
		Instance:              InstanceDirect,
		WatchpointCount:       -1,
		TimeoutSeconds:        5,
		LogLevel:              "INFO",
		CallSiteQualification: CallSiteFunctionOnly,
	}
}

// Load reads and validates the config file at path.
func Load(path string) (Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, mmerr.ConfigInvalid(path, fmt.Sprintf("cannot decode: %s", err))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required fields are present and internally
// consistent, returning a ConfigInvalid error naming the first problem
// found.
func (c Config) Validate() error {
	if c.BinaryFile == "" {
		return mmerr.ConfigInvalid("binary_file", "must be set")
	}
	if _, err := os.Stat(c.BinaryFile); err != nil {
		return mmerr.ConfigInvalid("binary_file", fmt.Sprintf("cannot stat %q: %s", c.BinaryFile, err))
	}
	if c.SeedDirectory == "" {
		return mmerr.ConfigInvalid("seed_directory", "must be set")
	}
	if info, err := os.Stat(c.SeedDirectory); err != nil || !info.IsDir() {
		return mmerr.ConfigInvalid("seed_directory", fmt.Sprintf("%q is not a readable directory", c.SeedDirectory))
	}
	if c.Entrypoint == "" {
		return mmerr.ConfigInvalid("entrypoint", "must be set")
	}
	if c.InputBuffer == "" {
		return mmerr.ConfigInvalid("input_buffer", "must be set")
	}

	switch c.InputChannel {
	case ChannelFile, ChannelStdin:
		// no further fields required
	case ChannelSerial:
		if c.Port == "" {
			return mmerr.ConfigInvalid("port", "required when input_channel is 'serial'")
		}
		if c.BaudRate <= 0 {
			return mmerr.ConfigInvalid("baud_rate", "required when input_channel is 'serial'")
		}
	default:
		return mmerr.ConfigInvalid("input_channel", fmt.Sprintf("must be one of file, stdin, serial, got %q", c.InputChannel))
	}

	switch c.Instance {
	case InstanceDirect, InstanceMemorySandbox:
		// no further fields required
	case InstanceOnChip:
		if c.GdbServerPath == "" {
			return mmerr.ConfigInvalid("gdb_server_path", "required when instance is 'on-chip'")
		}
		if c.GdbServerAddress == "" {
			return mmerr.ConfigInvalid("gdb_server_address", "required when instance is 'on-chip'")
		}
	default:
		return mmerr.ConfigInvalid("instance", fmt.Sprintf("must be one of direct, memory-sandbox, on-chip, got %q", c.Instance))
	}

	if c.TimeoutSeconds <= 0 {
		return mmerr.ConfigInvalid("timeout", "must be positive")
	}

	return nil
}
