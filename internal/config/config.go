// Package config defines the Service bind configuration (spec.md §6) and
// optional on-disk overrides loaded from YAML, following the teacher's
// config-file conventions.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/trans/memo/internal/errs"
)

// Params configures a Service bind. Fields follow spec.md §6's
// "Configuration (Service bind)" table.
type Params struct {
	DataDir string `yaml:"data_dir"`
	APIKey  string `yaml:"api_key"`

	// Service names a pre-registered embedding service; when empty, Format
	// and Model (plus optional BaseURL/Dimensions/MaxTokens) synthesize one.
	Service string `yaml:"service"`

	Format     string `yaml:"format"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`

	ChunkingMaxTokens int  `yaml:"chunking_max_tokens"`
	StoreText         bool `yaml:"store_text"`

	// Attach maps alias -> filesystem path for auxiliary application
	// databases joined by sql_where predicates.
	Attach map[string]string `yaml:"attach"`

	BatchSize  int `yaml:"batch_size"`
	MaxRetries int `yaml:"max_retries"`

	// TextBackend selects the full-text backend: "fts5" (default) or
	// "bleve" (legacy, see internal/textindex).
	TextBackend string `yaml:"text_backend"`
}

// Defaults fills in the spec.md §6 default values for unset fields.
func (p Params) Defaults() Params {
	if p.ChunkingMaxTokens == 0 {
		p.ChunkingMaxTokens = 2000
	}
	if p.BatchSize == 0 {
		p.BatchSize = 100
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.TextBackend == "" {
		p.TextBackend = "fts5"
	}
	// StoreText is left as given: an unset StoreText is Go's zero value,
	// false, so text storage is off unless the caller sets it to true.
	// LoadOverlay does not read store_text either.
	return p
}

// openAIFamily lists formats that require an api_key (spec.md §7).
var openAIFamily = map[string]bool{
	"openai": true,
	"http":   true,
}

// Validate checks the cross-field invariants spec.md §6 and §7 require at
// Service bind time. serviceMaxTokens is the bound service's max_tokens,
// resolved after RegisterService/GetServiceByName.
func (p Params) Validate(serviceMaxTokens int) error {
	if p.DataDir == "" {
		return errs.New(errs.CodeInvalidParams, "data_dir is required", nil)
	}
	if openAIFamily[p.Format] && p.APIKey == "" {
		return errs.New(errs.CodeMissingAPIKey, "format "+p.Format+" requires api_key", nil)
	}
	if p.ChunkingMaxTokens > serviceMaxTokens {
		return errs.New(errs.CodeChunkingExceedsMax,
			"chunking_max_tokens exceeds the bound service's max_tokens", nil).
			WithDetail("chunking_max_tokens", strconv.Itoa(p.ChunkingMaxTokens)).
			WithDetail("service_max_tokens", strconv.Itoa(serviceMaxTokens))
	}
	return nil
}

// LoadOverlay reads a YAML file at path and merges its non-zero fields onto
// base: every field the file sets replaces base's value, and Attach entries
// are added to (or replace keys in) base.Attach. Fields the file leaves
// zero keep base's value. Returns base unchanged if path does not exist.
func LoadOverlay(base Params, path string) (Params, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return base, errs.ConfigError("read config overlay", err)
	}

	var overlay Params
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return base, errs.ConfigError("parse config overlay", err)
	}

	return mergeOverlay(base, overlay), nil
}

func mergeOverlay(base, overlay Params) Params {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	if overlay.APIKey != "" {
		base.APIKey = overlay.APIKey
	}
	if overlay.Service != "" {
		base.Service = overlay.Service
	}
	if overlay.Format != "" {
		base.Format = overlay.Format
	}
	if overlay.BaseURL != "" {
		base.BaseURL = overlay.BaseURL
	}
	if overlay.Model != "" {
		base.Model = overlay.Model
	}
	if overlay.Dimensions != 0 {
		base.Dimensions = overlay.Dimensions
	}
	if overlay.MaxTokens != 0 {
		base.MaxTokens = overlay.MaxTokens
	}
	if overlay.ChunkingMaxTokens != 0 {
		base.ChunkingMaxTokens = overlay.ChunkingMaxTokens
	}
	if overlay.BatchSize != 0 {
		base.BatchSize = overlay.BatchSize
	}
	if overlay.MaxRetries != 0 {
		base.MaxRetries = overlay.MaxRetries
	}
	if overlay.TextBackend != "" {
		base.TextBackend = overlay.TextBackend
	}
	if len(overlay.Attach) > 0 {
		if base.Attach == nil {
			base.Attach = make(map[string]string, len(overlay.Attach))
		}
		for k, v := range overlay.Attach {
			base.Attach[k] = v
		}
	}
	return base
}
