// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and watches the DocGen YAML configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianDocs/pkg/telemetry"
	"github.com/AleutianAI/AleutianDocs/services/docgen/runstore"
	"github.com/AleutianAI/AleutianDocs/services/docgen/tree"
	"github.com/AleutianAI/AleutianDocs/services/llm"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid config")

// DocGenConfig is the root of docgen.yaml.
type DocGenConfig struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	DocGen    GenerateConfig  `yaml:"docgen"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Store     StoreConfig     `yaml:"store"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	Debug           bool          `yaml:"debug"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// LLMConfig selects the model backend. The API key may instead come from
// OPENAI_API_KEY or ANTHROPIC_API_KEY.
type LLMConfig struct {
	Provider          string        `yaml:"provider" validate:"omitempty,oneof=openai anthropic"`
	APIKey            string        `yaml:"api_key,omitempty"`
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	Model             string        `yaml:"model" validate:"required"`
	Temperature       float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int           `yaml:"max_tokens" validate:"gte=0"`
	RollupMaxTokens   int           `yaml:"rollup_max_tokens" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
}

// GenerateConfig controls scanning and scheduling.
type GenerateConfig struct {
	Concurrency    int      `yaml:"concurrency" validate:"min=1,max=10"`
	MaxFileSize    int64    `yaml:"max_file_size" validate:"gt=0"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
	Extensions     []string `yaml:"extensions" validate:"min=1,dive,required"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=none otlp jaeger stdout"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=none prometheus stdout"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// StoreConfig locates the run history database.
type StoreConfig struct {
	Path     string `yaml:"path" validate:"required_without=InMemory"`
	InMemory bool   `yaml:"in_memory"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() DocGenConfig {
	client := llm.DefaultConfig()
	scan := tree.DefaultScanConfig()
	tel := telemetry.DefaultConfig()
	return DocGenConfig{
		Server: ServerConfig{
			Port:            8090,
			ShutdownTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:         client.BaseURL,
			Model:           client.Model,
			Temperature:     0.3,
			MaxTokens:       8192,
			RollupMaxTokens: 16384,
			Burst:           client.Burst,
			Timeout:         client.Timeout,
		},
		DocGen: GenerateConfig{
			Concurrency:    3,
			MaxFileSize:    scan.MaxFileSize,
			IgnorePatterns: scan.IgnorePatterns,
			Extensions:     scan.Extensions,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.aleutian/logs",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  tel.TraceExporter,
			MetricExporter: tel.MetricExporter,
			OTLPEndpoint:   tel.OTLPEndpoint,
		},
		Store: StoreConfig{
			Path: filepath.Join("~", ".aleutian", "docgen", "runs"),
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags above.
func (c DocGenConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ClientConfig converts to the llm package configuration.
func (c LLMConfig) ClientConfig() llm.Config {
	return llm.Config{
		Provider:          c.Provider,
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		Model:             c.Model,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
	}
}

// ScanConfig converts to the scanner configuration.
func (c GenerateConfig) ScanConfig() tree.ScanConfig {
	scan := tree.DefaultScanConfig()
	scan.MaxFileSize = c.MaxFileSize
	if c.IgnorePatterns != nil {
		scan.IgnorePatterns = c.IgnorePatterns
	}
	if len(c.Extensions) > 0 {
		scan.Extensions = c.Extensions
	}
	return scan
}

// TelemetryConfig converts to the telemetry package configuration.
func (c TelemetryConfig) TelemetryConfig(version string) telemetry.Config {
	tel := telemetry.DefaultConfig()
	tel.ServiceVersion = version
	if c.TraceExporter != "" {
		tel.TraceExporter = c.TraceExporter
	}
	if c.MetricExporter != "" {
		tel.MetricExporter = c.MetricExporter
	}
	if c.OTLPEndpoint != "" {
		tel.OTLPEndpoint = c.OTLPEndpoint
	}
	return tel
}

// RunStoreConfig converts to the run store configuration.
func (c StoreConfig) RunStoreConfig() runstore.Config {
	if c.InMemory {
		return runstore.InMemoryConfig()
	}
	cfg := runstore.DefaultConfig()
	cfg.Path = ExpandPath(c.Path)
	return cfg
}
