// Copyright 2025 Tom Barlow
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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}

	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}

	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}

	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected *Config
	}{
		{
			name:    "defaults when no env vars",
			envVars: map[string]string{},
			expected: &Config{
				Level:  "info",
				Format: FormatJSON,
			},
		},
		{
			name: "LOG_LEVEL=debug",
			envVars: map[string]string{
				"LOG_LEVEL": "debug",
			},
			expected: &Config{
				Level:  "debug",
				Format: FormatJSON,
			},
		},
		{
			name: "FIELDRUN_LOG_LEVEL wins over LOG_LEVEL",
			envVars: map[string]string{
				"FIELDRUN_LOG_LEVEL": "error",
				"LOG_LEVEL":          "debug",
			},
			expected: &Config{
				Level:  "error",
				Format: FormatJSON,
			},
		},
		{
			name: "FIELDRUN_DEBUG enables debug and source",
			envVars: map[string]string{
				"FIELDRUN_DEBUG":     "1",
				"FIELDRUN_LOG_LEVEL": "error",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				AddSource: true,
			},
		},
		{
			name: "LOG_FORMAT=text",
			envVars: map[string]string{
				"LOG_FORMAT": "TEXT",
			},
			expected: &Config{
				Level:  "info",
				Format: FormatText,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.expected.Level {
				t.Errorf("Level = %q, want %q", cfg.Level, tt.expected.Level)
			}
			if cfg.Format != tt.expected.Format {
				t.Errorf("Format = %q, want %q", cfg.Format, tt.expected.Format)
			}
			if cfg.AddSource != tt.expected.AddSource {
				t.Errorf("AddSource = %v, want %v", cfg.AddSource, tt.expected.AddSource)
			}
		})
	}
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("command finished", slog.String(CommandKey, "deploy"), slog.Int("exit_code", 0))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["command"] != "deploy" {
		t.Errorf("command field = %v, want deploy", entry["command"])
	}
	if entry["msg"] != "command finished" {
		t.Errorf("msg field = %v", entry["msg"])
	}
}

func TestNewTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	logger.Info("connected", slog.String(TargetKey, "10.0.0.5"))

	if !strings.Contains(buf.String(), "target=10.0.0.5") {
		t.Errorf("expected text output with target field, got %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatText, Output: &buf})

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("expected warn to pass, got %q", out)
	}
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithRun(logger, "2025-01-15_143022_myrun").Info("note added")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry[RunIDKey] != "2025-01-15_143022_myrun" {
		t.Errorf("run_id = %v", entry[RunIDKey])
	}
}
