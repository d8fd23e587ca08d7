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

// Package storage owns the on-disk shape of a run: the per-run directory,
// manifest.json, pulled artifacts, and the export archive. Single writer
// (the engine); readers open files read-only and tolerate a concurrent
// append.
package storage

import (
	"encoding/json"

	"github.com/tombee/fieldrun/pkg/errors"
)

// RunStatus enumerates run lifecycle states.
type RunStatus string

const (
	StatusCreated     RunStatus = "created"
	StatusRunning     RunStatus = "running"
	StatusPaused      RunStatus = "paused"
	StatusInterrupted RunStatus = "interrupted"
	StatusCompleted   RunStatus = "completed"
	StatusFailed      RunStatus = "failed"
)

// ArtifactRef records one pulled artifact in the manifest.
type ArtifactRef struct {
	// RemotePath is the path on the target the file was pulled from.
	RemotePath string `json:"remote_path"`

	// LocalPath is relative to the run directory (e.g. "artifacts/x.log").
	LocalPath string `json:"local_path"`

	// Command is the command name that produced the artifact.
	Command string `json:"command"`
}

// RunManifest is the JSON summary of a run, stored as manifest.json.
// Timestamps are RFC 3339 UTC strings; started_at/completed_at are empty
// until set.
type RunManifest struct {
	RunID       string            `json:"run_id"`
	Name        string            `json:"name"`
	ProfileName string            `json:"profile_name"`
	Status      RunStatus         `json:"status"`
	CreatedAt   string            `json:"created_at"`
	StartedAt   string            `json:"started_at,omitempty"`
	CompletedAt string            `json:"completed_at,omitempty"`
	Parameters  map[string]string `json:"parameters"`
	Artifacts   []ArtifactRef     `json:"artifacts"`
	Notes       string            `json:"notes"`
}

// MarshalIndent renders the manifest as pretty-printed JSON.
func (m *RunManifest) MarshalIndent() ([]byte, error) {
	if m.Parameters == nil {
		m.Parameters = map[string]string{}
	}
	if m.Artifacts == nil {
		m.Artifacts = []ArtifactRef{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshaling manifest")
	}
	return data, nil
}

// UnmarshalManifest parses manifest.json content.
func UnmarshalManifest(data []byte) (*RunManifest, error) {
	var m RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "parsing manifest")
	}
	if m.Parameters == nil {
		m.Parameters = map[string]string{}
	}
	return &m, nil
}
