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

package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tombee/fieldrun/pkg/errors"
)

var profileExtensions = []string{".yaml", ".yml"}

// Store is a directory-scoped profile store over YAML files. Loaded
// profiles are cached; an fsnotify watcher on the directory invalidates
// cache entries when files change underneath us, so an external edit is
// picked up on the next Load. If the watcher cannot be started the store
// degrades to uncached loads.
type Store struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	cache   map[string]*Profile
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore creates the profiles directory if needed and starts the change
// watcher.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &errors.StorageError{Path: dir, Op: "mkdir", Cause: err}
	}

	s := &Store{
		dir:    dir,
		logger: logger.With("component", "profile_store"),
		cache:  map[string]*Profile{},
		done:   make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("profile watcher unavailable, loads will not be cached", slog.Any("error", err))
		return s, nil
	}
	if err := watcher.Add(dir); err != nil {
		s.logger.Warn("cannot watch profiles directory", slog.Any("error", err))
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

// watch drains fsnotify events and invalidates cached entries.
func (s *Store) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := baseName(event.Name)
			if name == "" {
				continue
			}
			s.mu.Lock()
			delete(s.cache, name)
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("profile watcher error", slog.Any("error", err))
		}
	}
}

// baseName maps a profile file path to its profile name, or "" for files
// that are not profiles.
func baseName(path string) string {
	ext := filepath.Ext(path)
	for _, known := range profileExtensions {
		if ext == known {
			return strings.TrimSuffix(filepath.Base(path), ext)
		}
	}
	return ""
}

// Close stops the change watcher.
func (s *Store) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Dir returns the profiles directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns all profile base names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &errors.StorageError{Path: s.dir, Op: "list", Cause: err}
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := baseName(entry.Name()); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load parses the named profile, filling defaults. Returns a
// *errors.NotFoundError when no .yaml/.yml file exists for the name.
func (s *Store) Load(name string) (*Profile, error) {
	s.mu.Lock()
	if cached, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	for _, ext := range profileExtensions {
		path := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		p, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if s.watcher != nil {
			s.mu.Lock()
			s.cache[name] = p
			s.mu.Unlock()
		}
		return p, nil
	}
	return nil, &errors.NotFoundError{Resource: "profile", ID: name}
}

// Save writes the profile as <name>.yaml and returns the file path.
func (s *Store) Save(p *Profile) (string, error) {
	if p == nil || p.Name == "" {
		return "", &errors.ValidationError{Field: "name", Message: "profile name is required"}
	}

	data, err := p.ToYAML()
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, p.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &errors.StorageError{Path: path, Op: "save", Cause: err}
	}

	s.mu.Lock()
	delete(s.cache, p.Name)
	s.mu.Unlock()
	return path, nil
}

// Delete removes the named profile file. Returns a *errors.NotFoundError
// when no file exists for the name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()

	for _, ext := range profileExtensions {
		path := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			return &errors.StorageError{Path: path, Op: "delete", Cause: err}
		}
		return nil
	}
	return &errors.NotFoundError{Resource: "profile", ID: name}
}
