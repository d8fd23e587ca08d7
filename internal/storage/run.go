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
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/fieldrun/pkg/errors"
)

// Well-known file and directory names inside a run directory.
const (
	ManifestFile        = "manifest.json"
	EventsFile          = "events.jsonl"
	ProfileSnapshotFile = "profile_snapshot.yaml"
	ArtifactsDir        = "artifacts"
	LogsDir             = "logs"
)

// RunStorage manages the directory for a single run.
type RunStorage struct {
	runDir string
}

// NewRunStorage wraps an existing or to-be-created run directory.
func NewRunStorage(runDir string) *RunStorage {
	return &RunStorage{runDir: runDir}
}

// Dir returns the run directory.
func (r *RunStorage) Dir() string { return r.runDir }

// ManifestPath returns the manifest.json path.
func (r *RunStorage) ManifestPath() string { return filepath.Join(r.runDir, ManifestFile) }

// EventsPath returns the events.jsonl path.
func (r *RunStorage) EventsPath() string { return filepath.Join(r.runDir, EventsFile) }

// SnapshotPath returns the profile_snapshot.yaml path.
func (r *RunStorage) SnapshotPath() string { return filepath.Join(r.runDir, ProfileSnapshotFile) }

// ArtifactsPath returns the artifacts directory.
func (r *RunStorage) ArtifactsPath() string { return filepath.Join(r.runDir, ArtifactsDir) }

// ArtifactPath resolves a manifest-relative artifact path to an absolute
// path.
func (r *RunStorage) ArtifactPath(relative string) string {
	return filepath.Join(r.runDir, relative)
}

// Initialize creates the run directory tree, writes the manifest and the
// verbatim profile snapshot, and touches the events file.
func (r *RunStorage) Initialize(manifest *RunManifest, profileYAML []byte) error {
	for _, dir := range []string{r.runDir, r.ArtifactsPath(), filepath.Join(r.runDir, LogsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &errors.StorageError{Path: dir, Op: "mkdir", Cause: err}
		}
	}

	if err := r.SaveManifest(manifest); err != nil {
		return err
	}

	if err := os.WriteFile(r.SnapshotPath(), profileYAML, 0o644); err != nil {
		return &errors.StorageError{Path: r.SnapshotPath(), Op: "write_snapshot", Cause: err}
	}

	f, err := os.OpenFile(r.EventsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &errors.StorageError{Path: r.EventsPath(), Op: "touch", Cause: err}
	}
	return f.Close()
}

// SaveManifest writes the manifest to disk. Plain truncate-and-write:
// the engine's per-run lock makes it single-writer.
func (r *RunStorage) SaveManifest(manifest *RunManifest) error {
	data, err := manifest.MarshalIndent()
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.ManifestPath(), data, 0o644); err != nil {
		return &errors.StorageError{Path: r.ManifestPath(), Op: "save_manifest", Cause: err}
	}
	return nil
}

// LoadManifest reads the manifest from disk. Returns a *errors.NotFoundError
// when the file does not exist.
func (r *RunStorage) LoadManifest() (*RunManifest, error) {
	data, err := os.ReadFile(r.ManifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "manifest", ID: r.runDir}
		}
		return nil, &errors.StorageError{Path: r.ManifestPath(), Op: "load_manifest", Cause: err}
	}
	return UnmarshalManifest(data)
}

// AddArtifact copies a staged file into artifacts/ under its original base
// name, appending _1, _2, ... before the extension on collision. Returns
// the path relative to the run directory for recording in the manifest.
func (r *RunStorage) AddArtifact(localPath, originalRemotePath string) (string, error) {
	filename := filepath.Base(originalRemotePath)
	destPath := filepath.Join(r.ArtifactsPath(), filename)

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(r.ArtifactsPath(), fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}

	if err := copyFile(localPath, destPath); err != nil {
		return "", &errors.StorageError{Path: destPath, Op: "add_artifact", Cause: err}
	}

	rel, err := filepath.Rel(r.runDir, destPath)
	if err != nil {
		return "", &errors.StorageError{Path: destPath, Op: "add_artifact", Cause: err}
	}
	return rel, nil
}

// CreateArchive zips the whole run directory into a sibling <run_id>.zip.
// The archive root is the run_id directory, preserving the on-disk layout.
func (r *RunStorage) CreateArchive() (string, error) {
	runID := filepath.Base(r.runDir)
	parent := filepath.Dir(r.runDir)
	archivePath := filepath.Join(parent, runID+".zip")

	out, err := os.Create(archivePath)
	if err != nil {
		return "", &errors.StorageError{Path: archivePath, Op: "create_archive", Cause: err}
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	walkErr := filepath.WalkDir(r.runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if walkErr != nil {
		zw.Close()
		return "", &errors.StorageError{Path: archivePath, Op: "create_archive", Cause: walkErr}
	}
	if err := zw.Close(); err != nil {
		return "", &errors.StorageError{Path: archivePath, Op: "create_archive", Cause: err}
	}
	return archivePath, nil
}

// copyFile copies src to dst, preserving mode.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
