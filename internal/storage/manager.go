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

package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tombee/fieldrun/pkg/errors"
)

// maxRunNameLen caps the sanitized name portion of a run ID.
const maxRunNameLen = 50

// RunSummary is one row of ListRuns output.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Name        string    `json:"name"`
	ProfileName string    `json:"profile_name"`
	Status      RunStatus `json:"status"`
	CreatedAt   string    `json:"created_at"`
	StartedAt   string    `json:"started_at,omitempty"`
	CompletedAt string    `json:"completed_at,omitempty"`
}

// Manager owns the runs directory.
type Manager struct {
	runsDir string
}

// NewManager creates the runs directory if needed.
func NewManager(runsDir string) (*Manager, error) {
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, &errors.StorageError{Path: runsDir, Op: "mkdir", Cause: err}
	}
	return &Manager{runsDir: runsDir}, nil
}

// Dir returns the runs directory.
func (m *Manager) Dir() string { return m.runsDir }

// GenerateRunID returns "YYYY-MM-DD_HHMMSS" plus an optional sanitized name
// suffix. The timestamp deliberately uses the local clock (directory names
// that match the operator's wall clock), while manifests and events are
// UTC.
func (m *Manager) GenerateRunID(name string) string {
	timestamp := time.Now().Format("2006-01-02_150405")
	if name == "" {
		return timestamp
	}
	return timestamp + "_" + sanitizeRunName(name)
}

// sanitizeRunName maps every character outside [A-Za-z0-9_-] to '-' and
// truncates to maxRunNameLen.
func sanitizeRunName(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('-')
		}
	}
	safe := b.String()
	if len(safe) > maxRunNameLen {
		safe = safe[:maxRunNameLen]
	}
	return safe
}

// CreateRun initializes a new run directory.
func (m *Manager) CreateRun(runID string, manifest *RunManifest, profileYAML []byte) (*RunStorage, error) {
	storage := NewRunStorage(filepath.Join(m.runsDir, runID))
	if err := storage.Initialize(manifest, profileYAML); err != nil {
		return nil, err
	}
	return storage, nil
}

// GetRun returns storage for an existing run, or a *errors.NotFoundError.
func (m *Manager) GetRun(runID string) (*RunStorage, error) {
	runDir := filepath.Join(m.runsDir, runID)
	if info, err := os.Stat(runDir); err != nil || !info.IsDir() {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	return NewRunStorage(runDir), nil
}

// ListRuns enumerates all run directories with a readable manifest, sorted
// by created_at descending. Unreadable manifests are skipped.
func (m *Manager) ListRuns() ([]RunSummary, error) {
	entries, err := os.ReadDir(m.runsDir)
	if err != nil {
		return nil, &errors.StorageError{Path: m.runsDir, Op: "list", Cause: err}
	}

	var runs []RunSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest, err := NewRunStorage(filepath.Join(m.runsDir, entry.Name())).LoadManifest()
		if err != nil {
			continue
		}
		runs = append(runs, RunSummary{
			RunID:       manifest.RunID,
			Name:        manifest.Name,
			ProfileName: manifest.ProfileName,
			Status:      manifest.Status,
			CreatedAt:   manifest.CreatedAt,
			StartedAt:   manifest.StartedAt,
			CompletedAt: manifest.CompletedAt,
		})
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt > runs[j].CreatedAt
	})
	return runs, nil
}

// DeleteRun recursively removes the run directory. Returns a
// *errors.NotFoundError when the run does not exist.
func (m *Manager) DeleteRun(runID string) error {
	runDir := filepath.Join(m.runsDir, runID)
	if _, err := os.Stat(runDir); err != nil {
		return &errors.NotFoundError{Resource: "run", ID: runID}
	}
	if err := os.RemoveAll(runDir); err != nil {
		return &errors.StorageError{Path: runDir, Op: "delete", Cause: err}
	}
	return nil
}
