// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ai

import (
	"errors"
	"strings"
)

// Defaults target a local Ollama server with its OpenAI-compatible API.
const (
	DefaultEmbeddingHost  = "http://localhost:11434/v1"
	DefaultEmbeddingModel = "nomic-embed-text"
)

var (
	ErrEmbeddingHostRequired  = errors.New("embedding host is required")
	ErrEmbeddingModelRequired = errors.New("embedding model is required")
)

// Config selects the embedding endpoint and model.
type Config struct {
	// EmbeddingHost is the base URL of the embeddings API, ending in /v1.
	EmbeddingHost string

	// EmbeddingModel names the embedding model, e.g. "nomic-embed-text".
	EmbeddingModel string
}

// ConfigOption adjusts a Config during construction.
type ConfigOption func(*Config)

func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) { c.EmbeddingHost = host }
}

func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) { c.EmbeddingModel = model }
}

// DefaultConfig returns a Config pointed at a local embedding server.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingHost:  DefaultEmbeddingHost,
		EmbeddingModel: DefaultEmbeddingModel,
	}
}

// NewConfig starts from the defaults and applies opts in order.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize rewrites the host into canonical form. OpenAI-compatible
// servers (Ollama, LocalAI, vLLM) all serve under /v1, so a host given
// without the suffix gains it here. An empty host is left for Validate.
func (c *Config) Normalize() {
	host := c.EmbeddingHost
	if host == "" || strings.HasSuffix(host, "/v1") {
		return
	}
	c.EmbeddingHost = strings.TrimSuffix(host, "/") + "/v1"
}

// Validate normalizes the config and reports missing fields.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return ErrEmbeddingHostRequired
	}
	if c.EmbeddingModel == "" {
		return ErrEmbeddingModelRequired
	}
	return nil
}
