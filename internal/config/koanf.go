// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in priority order; the
// first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/eventd/config.yaml",
	"/etc/eventd/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// ENV names map to config paths by section prefix:
	// NATS_STREAM_NAME -> nats.stream_name, EVENTS_BATCH_SIZE ->
	// events.batch_size, LOG_LEVEL -> logging.level.
	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sectionPrefixes maps environment prefixes to config sections. Keys are
// matched longest-first so LOG_ does not shadow LOGGING_ style names.
var sectionPrefixes = []struct {
	prefix  string
	section string
}{
	{"SERVER_", "server"},
	{"DATABASE_", "database"},
	{"DUCKDB_", "database"},
	{"NATS_", "nats"},
	{"EVENTS_", "events"},
	{"WEBHOOK_", "webhook"},
	{"REGISTRY_", "registry"},
	{"API_", "api"},
	{"LOGGING_", "logging"},
	{"LOG_", "logging"},
}

// envTransform maps an environment variable name to a koanf path, or
// returns "" to skip unrelated variables.
func envTransform(key string) string {
	for _, sp := range sectionPrefixes {
		if strings.HasPrefix(key, sp.prefix) {
			rest := strings.ToLower(strings.TrimPrefix(key, sp.prefix))
			if rest == "" {
				return ""
			}
			return sp.section + "." + rest
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when supplied
// via environment variables.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}
