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

package engine

import (
	"sync"

	"github.com/tombee/fieldrun/internal/events"
	"github.com/tombee/fieldrun/internal/profile"
	"github.com/tombee/fieldrun/internal/sshx"
	"github.com/tombee/fieldrun/internal/storage"
)

// RunContext binds everything an active run needs: its storage, cached
// manifest, resolved profile, event stream, SSH session, live parameters,
// and collector workers. A context exists from first access until process
// exit, CompleteRun, or DeleteRun.
type RunContext struct {
	RunID   string
	Storage *storage.RunStorage
	Profile *profile.Profile
	Events  *events.Stream

	// SSH is nil until the run is started.
	SSH *sshx.Session

	// mu guards the fields below. The engine's own lock guards the
	// active-run map (and is held across StartRun); this one keeps parameter
	// reads in collector goroutines safe against concurrent SetParameter.
	mu         sync.Mutex
	manifest   *storage.RunManifest
	parameters map[string]string
	collectors map[string]*collectorWorker
	isRunning  bool
	isPaused   bool
}

// newRunContext builds a context around loaded state.
func newRunContext(runID string, st *storage.RunStorage, manifest *storage.RunManifest, prof *profile.Profile, stream *events.Stream) *RunContext {
	params := map[string]string{}
	for k, v := range manifest.Parameters {
		params[k] = v
	}
	return &RunContext{
		RunID:      runID,
		Storage:    st,
		Profile:    prof,
		Events:     stream,
		manifest:   manifest,
		parameters: params,
		collectors: map[string]*collectorWorker{},
	}
}

// IsRunning reports whether the run is currently started.
func (c *RunContext) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunning
}

// IsPaused reports whether the run is paused.
func (c *RunContext) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPaused
}

// Manifest returns a copy of the cached manifest.
func (c *RunContext) Manifest() storage.RunManifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := *c.manifest
	return m
}

// paramsSnapshot copies the live parameter map for use outside the lock.
func (c *RunContext) paramsSnapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.parameters))
	for k, v := range c.parameters {
		out[k] = v
	}
	return out
}

// collectorNames returns the names of currently registered collectors.
func (c *RunContext) collectorNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.collectors))
	for name := range c.collectors {
		names = append(names, name)
	}
	return names
}
