// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the settings shared by the ldget binaries.  Settings
// come from command line flags and an optional YAML file; flags given
// explicitly on the command line take precedence over the file.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/googlegenomics/ldget/reader"
)

// Config is the complete configuration of an ldget deployment.
type Config struct {
	Port int `yaml:"port"`

	// BlockSizeKiB is the reader cache block size in KiB.
	BlockSizeKiB   uint64 `yaml:"block_size_kib"`
	LineBufferSize uint64 `yaml:"line_buffer"`
	Uncached       bool   `yaml:"uncached"`

	// Buckets, if not empty, restricts reads to the listed buckets.
	Buckets []string `yaml:"buckets"`

	Secure    bool   `yaml:"secure"`
	HTTPSCert string `yaml:"https_cert"`
	HTTPSKey  string `yaml:"https_key"`

	TrackUsage bool       `yaml:"track_usage"`
	Profile    bool       `yaml:"profile"`
	LogLevel   slog.Level `yaml:"log_level"`

	Relay Relay `yaml:"relay"`
}

// Relay configures the range relay.
type Relay struct {
	// AllowedHosts, if not empty, restricts upstream requests to these hosts.
	AllowedHosts []string `yaml:"allowed_hosts"`
	// RequestsPerSecond limits each client address; zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:           80,
		BlockSizeKiB:   512,
		LineBufferSize: reader.DefaultLineBufferSize,
		LogLevel:       slog.LevelInfo,
		Relay: Relay{
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// Load reads the YAML file at path on top of the defaults.  Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse defines the configuration flags on fs, parses args and applies the
// file named by the -config flag, if any.  Flags set in args override the
// values read from the file.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Default()
	path := fs.String("config", "", "YAML configuration file")
	cfg.register(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *path != "" {
		set := make(map[string]string)
		fs.Visit(func(f *flag.Flag) {
			set[f.Name] = f.Value.String()
		})
		file, err := Load(*path)
		if err != nil {
			return nil, err
		}
		// The flags point into cfg, so it is overwritten in place.
		*cfg = *file
		for name, value := range set {
			if err := fs.Set(name, value); err != nil {
				return nil, fmt.Errorf("reapplying -%s: %w", name, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) register(fs *flag.FlagSet) {
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP service port")
	fs.Uint64Var(&cfg.BlockSizeKiB, "block_size", cfg.BlockSizeKiB, "cache block size in KiB")
	fs.Uint64Var(&cfg.LineBufferSize, "line_buffer", cfg.LineBufferSize, "upper bound on the length of a record line")
	fs.BoolVar(&cfg.Uncached, "uncached", cfg.Uncached, "disable the block cache")
	fs.Var((*listValue)(&cfg.Buckets), "buckets", "if set, restricts reads to a comma-separated list of buckets")
	fs.BoolVar(&cfg.Secure, "secure", cfg.Secure, "serve in HTTPS-only mode and forward client bearer tokens")
	fs.StringVar(&cfg.HTTPSCert, "https_cert", cfg.HTTPSCert, "HTTPS certificate file")
	fs.StringVar(&cfg.HTTPSKey, "https_key", cfg.HTTPSKey, "HTTPS key file")
	fs.BoolVar(&cfg.TrackUsage, "track_usage", cfg.TrackUsage, "anonymous usage tracking")
	fs.BoolVar(&cfg.Profile, "profile", cfg.Profile, "write a CPU profile")
	fs.TextVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "minimum log level (debug, info, warn, error)")
	fs.Var((*listValue)(&cfg.Relay.AllowedHosts), "relay_allowed_hosts", "if set, restricts relayed requests to a comma-separated list of hosts")
	fs.Float64Var(&cfg.Relay.RequestsPerSecond, "relay_rate", cfg.Relay.RequestsPerSecond, "relayed requests per second allowed per client, 0 for no limit")
	fs.IntVar(&cfg.Relay.Burst, "relay_burst", cfg.Relay.Burst, "relayed request burst allowed per client")
}

// Validate reports settings that cannot work together.
func (cfg *Config) Validate() error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Secure && (cfg.HTTPSCert == "" || cfg.HTTPSKey == "") {
		return errors.New("secure mode requires both https_cert and https_key")
	}
	if cfg.LineBufferSize == 0 {
		return errors.New("line_buffer must be positive")
	}
	if cfg.Relay.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid relay rate %v", cfg.Relay.RequestsPerSecond)
	}
	if cfg.Relay.RequestsPerSecond > 0 && cfg.Relay.Burst < 1 {
		return fmt.Errorf("invalid relay burst %d", cfg.Relay.Burst)
	}
	return nil
}

// ReaderOptions returns the reader settings of the configuration.
func (cfg *Config) ReaderOptions() reader.Options {
	return reader.Options{
		BlockSize:      cfg.BlockSizeKiB * 1024,
		LineBufferSize: cfg.LineBufferSize,
		Uncached:       cfg.Uncached,
	}
}

// listValue is a comma-separated flag.Value.  Setting it replaces the list.
type listValue []string

func (l *listValue) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listValue) Set(s string) error {
	*l = nil
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*l = append(*l, item)
		}
	}
	return nil
}
