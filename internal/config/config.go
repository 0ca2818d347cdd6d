// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads the runtime configuration from a JSON file. Missing
// or zero-valued fields fall back to built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"toolrun/internal/payload"
	"toolrun/internal/sandbox"
	"toolrun/internal/session"
)

// Config is the runtime configuration.
type Config struct {
	Debug   bool   `json:"debug,omitempty"`
	LogFile string `json:"log_file,omitempty"`

	Limits   payload.Limits `json:"limits,omitempty"`
	Sandbox  SandboxConfig  `json:"sandbox,omitempty"`
	Sessions SessionConfig  `json:"sessions,omitempty"`
}

// SandboxConfig tunes the read-only command executor.
type SandboxConfig struct {
	ExtraBinaries  []string `json:"extra_binaries,omitempty"`
	OutputCapBytes int      `json:"output_cap_bytes,omitempty"`
}

// SessionConfig tunes the command session registry.
type SessionConfig struct {
	Capacity int `json:"capacity,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Limits: payload.DefaultLimits(),
		Sandbox: SandboxConfig{
			OutputCapBytes: sandbox.DefaultOutputCap,
		},
		Sessions: SessionConfig{
			Capacity: session.DefaultCapacity,
		},
	}
}

// Load reads a JSON config file and normalizes it. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read config: %v", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("cannot parse config: %v", err)
	}
	return cfg.Normalize(), nil
}

// Normalize clamps out-of-range values back to defaults.
func (c Config) Normalize() Config {
	c.Limits = c.Limits.Normalize()
	if c.Sandbox.OutputCapBytes <= 0 {
		c.Sandbox.OutputCapBytes = sandbox.DefaultOutputCap
	}
	if c.Sessions.Capacity <= 0 {
		c.Sessions.Capacity = session.DefaultCapacity
	}
	return c
}
