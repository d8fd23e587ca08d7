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

// Package engine is the run execution supervisor. It owns the lifecycle of
// active runs, dispatches commands to the host shell or the target over
// SSH, supervises background collectors, pulls artifacts, and serializes
// everything into each run's event stream.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/fieldrun/internal/events"
	"github.com/tombee/fieldrun/internal/log"
	"github.com/tombee/fieldrun/internal/profile"
	"github.com/tombee/fieldrun/internal/sshx"
	"github.com/tombee/fieldrun/internal/storage"
	"github.com/tombee/fieldrun/pkg/errors"
)

// Engine supervises active runs. All public methods are safe for
// concurrent use; expected failures come back as typed errors, never
// panics.
type Engine struct {
	storage  *storage.Manager
	profiles *profile.Store
	logger   *slog.Logger
	metrics  *Metrics

	mu     sync.Mutex
	active map[string]*RunContext

	// subscribers have their own lock so notifications can be fanned out
	// from paths that already hold the engine lock.
	subMu       sync.RWMutex
	subscribers map[string]Subscriber
}

// New builds an engine over a run storage manager and a profile store.
func New(storageManager *storage.Manager, profiles *profile.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		storage:     storageManager,
		profiles:    profiles,
		logger:      log.WithComponent(logger, "engine"),
		metrics:     newMetrics(),
		active:      map[string]*RunContext{},
		subscribers: map[string]Subscriber{},
	}
}

// nowUTC renders the engine's canonical timestamp format.
func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// CreateRun resolves the profile, allocates a run ID and directory,
// snapshots the profile text, opens the event stream, and records
// run_created. The new run is not registered as active.
func (e *Engine) CreateRun(profileName, name string, parameters map[string]string) (string, error) {
	prof, err := e.profiles.Load(profileName)
	if err != nil {
		return "", err
	}

	runID := e.storage.GenerateRunID(name)
	if name == "" {
		name = runID
	}
	if parameters == nil {
		parameters = map[string]string{}
	}

	manifest := &storage.RunManifest{
		RunID:       runID,
		Name:        name,
		ProfileName: profileName,
		Status:      storage.StatusCreated,
		CreatedAt:   nowUTC(),
		Parameters:  parameters,
	}

	snapshot, err := prof.ToYAML()
	if err != nil {
		return "", err
	}

	st, err := e.storage.CreateRun(runID, manifest, snapshot)
	if err != nil {
		return "", err
	}

	stream, err := events.Open(st.EventsPath())
	if err != nil {
		return "", err
	}
	if _, err := stream.Append(events.RunCreated, map[string]any{
		"run_id":       runID,
		"profile_name": profileName,
		"parameters":   parameters,
	}); err != nil {
		return "", err
	}

	e.logger.Info("run created",
		slog.String(log.RunIDKey, runID),
		slog.String(log.ProfileKey, profileName))
	return runID, nil
}

// GetRunContext returns the active context for a run, or reconstructs one
// from disk (no SSH session, not running).
func (e *Engine) GetRunContext(runID string) (*RunContext, error) {
	e.mu.Lock()
	if ctx, ok := e.active[runID]; ok {
		e.mu.Unlock()
		return ctx, nil
	}
	e.mu.Unlock()

	st, err := e.storage.GetRun(runID)
	if err != nil {
		return nil, err
	}
	manifest, err := st.LoadManifest()
	if err != nil {
		return nil, err
	}
	prof, err := e.profiles.Load(manifest.ProfileName)
	if err != nil {
		return nil, err
	}
	stream, err := events.Open(st.EventsPath())
	if err != nil {
		return nil, err
	}
	return newRunContext(runID, st, manifest, prof, stream), nil
}

// StartRun starts or resumes a run. Idempotent when already running. The
// SSH session is built here with its callbacks wired to the event stream,
// but no connection is made until the first target-bound operation.
func (e *Engine) StartRun(runID string) error {
	ctx, err := e.GetRunContext(runID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx.mu.Lock()
	if ctx.isRunning {
		ctx.mu.Unlock()
		return nil
	}

	conn := ctx.Profile.Connection
	ctx.SSH = sshx.NewSession(sshx.Config{
		Host:     conn.Host,
		Port:     conn.Port,
		User:     conn.User,
		KeyFile:  conn.KeyFile,
		Password: conn.Password,
		Timeout:  time.Duration(conn.Timeout) * time.Second,
	}, sshx.Callbacks{
		OnConnect: func() {
			ctx.Events.Append(events.ConnectionEstablished, map[string]any{ //nolint:errcheck
				"host": conn.Host,
			})
			e.notify("connection", map[string]any{"status": "connected", "run_id": runID})
		},
		OnDisconnect: func(reason string) {
			ctx.Events.Append(events.ConnectionLost, map[string]any{"reason": reason}) //nolint:errcheck
			e.notify("connection", map[string]any{"status": "disconnected", "run_id": runID, "reason": reason})
		},
		OnRetry: func(attempt int, err error) {
			e.metrics.sshRetries.Inc()
			ctx.Events.Append(events.ConnectionRetry, map[string]any{ //nolint:errcheck
				"attempt": attempt,
				"error":   err.Error(),
			})
			e.notify("connection", map[string]any{"status": "retrying", "run_id": runID, "attempt": attempt})
		},
	})

	wasPaused := ctx.manifest.Status == storage.StatusPaused
	ctx.manifest.Status = storage.StatusRunning
	if ctx.manifest.StartedAt == "" {
		ctx.manifest.StartedAt = nowUTC()
	}
	if err := ctx.Storage.SaveManifest(ctx.manifest); err != nil {
		ctx.mu.Unlock()
		return err
	}

	eventType := events.RunStarted
	if wasPaused {
		eventType = events.RunResumed
	}
	if _, err := ctx.Events.Append(eventType, map[string]any{}); err != nil {
		ctx.mu.Unlock()
		return err
	}

	ctx.isRunning = true
	ctx.isPaused = false
	ctx.mu.Unlock()

	e.active[runID] = ctx
	e.metrics.activeRuns.Set(float64(len(e.active)))

	e.logger.Info("run started",
		slog.String(log.RunIDKey, runID),
		slog.String(log.TargetKey, conn.Host),
		slog.Bool("resumed", wasPaused))
	e.notify("run_status", map[string]any{"run_id": runID, "status": "running"})
	return nil
}

// PauseRun stops all collectors and marks the run paused. The SSH session
// is left as-is for resume. Only valid from running.
func (e *Engine) PauseRun(runID string) error {
	e.mu.Lock()
	ctx, ok := e.active[runID]
	e.mu.Unlock()
	if !ok || !ctx.IsRunning() {
		return &errors.ValidationError{Field: "run_id", Message: "run is not running"}
	}

	for _, name := range ctx.collectorNames() {
		e.StopCollector(runID, name) //nolint:errcheck
	}

	ctx.mu.Lock()
	ctx.isRunning = false
	ctx.isPaused = true
	ctx.manifest.Status = storage.StatusPaused
	if err := ctx.Storage.SaveManifest(ctx.manifest); err != nil {
		ctx.mu.Unlock()
		return err
	}
	ctx.mu.Unlock()

	if _, err := ctx.Events.Append(events.RunPaused, map[string]any{}); err != nil {
		return err
	}

	e.logger.Info("run paused", slog.String(log.RunIDKey, runID))
	e.notify("run_status", map[string]any{"run_id": runID, "status": "paused"})
	return nil
}

// CompleteRun stops collectors, disconnects SSH, stamps completed_at, and
// removes the run from the active map. Idempotent.
func (e *Engine) CompleteRun(runID string) error {
	ctx, err := e.GetRunContext(runID)
	if err != nil {
		return err
	}

	if ctx.Manifest().Status == storage.StatusCompleted {
		return nil
	}

	for _, name := range ctx.collectorNames() {
		e.StopCollector(runID, name) //nolint:errcheck
	}
	if ctx.SSH != nil {
		ctx.SSH.Disconnect()
	}

	ctx.mu.Lock()
	ctx.isRunning = false
	ctx.manifest.Status = storage.StatusCompleted
	ctx.manifest.CompletedAt = nowUTC()
	if err := ctx.Storage.SaveManifest(ctx.manifest); err != nil {
		ctx.mu.Unlock()
		return err
	}
	ctx.mu.Unlock()

	if _, err := ctx.Events.Append(events.RunCompleted, map[string]any{}); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.active, runID)
	e.metrics.activeRuns.Set(float64(len(e.active)))
	e.mu.Unlock()

	e.logger.Info("run completed", slog.String(log.RunIDKey, runID))
	e.notify("run_status", map[string]any{"run_id": runID, "status": "completed"})
	return nil
}

// SetParameter updates the run's live parameter map and the manifest on
// disk. The run does not need to be running.
func (e *Engine) SetParameter(runID, name, value string) error {
	ctx, err := e.GetRunContext(runID)
	if err != nil {
		return err
	}

	ctx.mu.Lock()
	ctx.parameters[name] = value
	ctx.manifest.Parameters[name] = value
	if err := ctx.Storage.SaveManifest(ctx.manifest); err != nil {
		ctx.mu.Unlock()
		return err
	}
	ctx.mu.Unlock()

	_, err = ctx.Events.Append(events.ParameterSet, map[string]any{"name": name, "value": value})
	return err
}

// AddNote appends an operator note to the run's event stream.
func (e *Engine) AddNote(runID, text string) error {
	ctx, err := e.GetRunContext(runID)
	if err != nil {
		return err
	}
	_, err = ctx.Events.Append(events.Note, map[string]any{"text": text})
	return err
}

// GetEvents returns the run's events with seq > afterSeq, ascending.
func (e *Engine) GetEvents(runID string, afterSeq int64) ([]events.Event, error) {
	ctx, err := e.GetRunContext(runID)
	if err != nil {
		return nil, err
	}
	return ctx.Events.Events(afterSeq)
}

// ListRuns returns summaries of every run on disk, newest first.
func (e *Engine) ListRuns() ([]storage.RunSummary, error) {
	return e.storage.ListRuns()
}

// ExportRun builds the run's zip archive and returns its path.
func (e *Engine) ExportRun(runID string) (string, error) {
	st, err := e.storage.GetRun(runID)
	if err != nil {
		return "", err
	}
	return st.CreateArchive()
}

// DeleteRun tears down active resources if the run is live, then removes
// the run directory.
func (e *Engine) DeleteRun(runID string) error {
	e.mu.Lock()
	ctx, active := e.active[runID]
	e.mu.Unlock()

	if active {
		for _, name := range ctx.collectorNames() {
			e.StopCollector(runID, name) //nolint:errcheck
		}
		if ctx.SSH != nil {
			ctx.SSH.Disconnect()
		}
		e.mu.Lock()
		delete(e.active, runID)
		e.metrics.activeRuns.Set(float64(len(e.active)))
		e.mu.Unlock()
	}

	if err := e.storage.DeleteRun(runID); err != nil {
		return err
	}
	e.logger.Info("run deleted", slog.String(log.RunIDKey, runID))
	return nil
}

// activeRun returns the active context for a run, or a validation error
// when the run is not started.
func (e *Engine) activeRun(runID string) (*RunContext, error) {
	e.mu.Lock()
	ctx, ok := e.active[runID]
	e.mu.Unlock()
	if !ok || !ctx.IsRunning() {
		return nil, &errors.ValidationError{Field: "run_id", Message: "run is not active"}
	}
	return ctx, nil
}
