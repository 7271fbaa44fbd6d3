// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianDocs/services/llm"
)

// Environment variables read after the file.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvModel        = "DOCGEN_MODEL"
)

// DefaultPath returns ~/.aleutian/docgen.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "docgen.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
// An empty path uses DefaultPath. Values missing from the file keep their
// defaults, and environment overrides are applied before validation.
func Load(path string) (DocGenConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return DocGenConfig{}, err
		}
		path = p
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Info("First run detected, creating the config", "path", path)
		if err := createDefault(path); err != nil {
			return DocGenConfig{}, err
		}
	}
	return read(path)
}

func read(path string) (DocGenConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DocGenConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DocGenConfig{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return DocGenConfig{}, err
	}
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnv overrides the model and fills an empty API key from the
// variable matching the provider.
func applyEnv(cfg *DocGenConfig) {
	if model := os.Getenv(EnvModel); model != "" {
		cfg.LLM.Model = model
	}
	if cfg.LLM.APIKey != "" {
		return
	}
	anthropic := strings.EqualFold(cfg.LLM.Provider, "anthropic") ||
		(cfg.LLM.Provider == "" && llm.DetectFormat(cfg.LLM.Model) == llm.FormatAnthropic)
	if anthropic {
		cfg.LLM.APIKey = os.Getenv(EnvAnthropicKey)
	} else {
		cfg.LLM.APIKey = os.Getenv(EnvOpenAIKey)
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
