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
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/fieldrun/internal/events"
	"github.com/tombee/fieldrun/internal/log"
	"github.com/tombee/fieldrun/internal/profile"
	"github.com/tombee/fieldrun/internal/sshx"
	"github.com/tombee/fieldrun/pkg/errors"
)

// collectorWorker is one live background collector. The stop channel is
// the only cancellation primitive: closing it wakes the interval wait, the
// loop finishes at most the iteration already in flight, appends one
// collector_stopped, and exits.
type collectorWorker struct {
	name string
	def  profile.CollectorDef

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	running bool
}

func (w *collectorWorker) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *collectorWorker) signalStop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *collectorWorker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// StartCollector launches a named background collector for an active run.
// Noop success when the collector is already running. For target
// collectors the SSH session is connected first.
func (e *Engine) StartCollector(runID, collectorName string) error {
	ctx, err := e.activeRun(runID)
	if err != nil {
		return err
	}

	ctx.mu.Lock()
	if existing, ok := ctx.collectors[collectorName]; ok && existing.isRunning() {
		ctx.mu.Unlock()
		return nil
	}
	ctx.mu.Unlock()

	collDef, ok := ctx.Profile.Collectors[collectorName]
	if !ok {
		return &errors.NotFoundError{Resource: "collector", ID: collectorName}
	}

	if collDef.Run == profile.RunTarget && !ctx.SSH.IsConnected() {
		if err := ctx.SSH.Connect(); err != nil {
			return err
		}
	}

	worker := &collectorWorker{
		name:    collectorName,
		def:     collDef,
		stop:    make(chan struct{}),
		running: true,
	}

	ctx.mu.Lock()
	ctx.collectors[collectorName] = worker
	ctx.mu.Unlock()

	go e.runCollector(ctx, worker)

	e.logger.Info("collector started",
		slog.String(log.RunIDKey, runID),
		slog.String(log.CollectorKey, collectorName))
	e.notify("collector_status", map[string]any{
		"run_id":    runID,
		"collector": collectorName,
		"status":    "started",
	})
	return nil
}

// runCollector is the worker loop. Event-append failures terminate the
// loop (durability is contractual); iteration failures are recorded and
// the loop continues on schedule.
func (e *Engine) runCollector(ctx *RunContext, w *collectorWorker) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if _, err := ctx.Events.Append(events.CollectorStarted, map[string]any{
		"collector":    w.name,
		"run_location": w.def.Run,
	}); err != nil {
		e.logger.Error("collector event append failed", slog.Any("error", err))
		return
	}

	interval := time.Duration(w.def.Interval) * time.Second
	timeout := time.Duration(w.def.Timeout) * time.Second

	for !w.stopped() {
		command := profile.Substitute(w.def.Command, ctx.paramsSnapshot())

		var result sshx.CommandResult
		if w.def.Run == profile.RunTarget {
			result = ctx.SSH.Execute(command, timeout)
		} else {
			result = executeHostCommand(command, timeout)
		}

		success := result.Success()
		e.metrics.collectorIterations.WithLabelValues(statusLabel(success)).Inc()

		var appendErr error
		if success {
			_, appendErr = ctx.Events.Append(events.CollectorOutput, map[string]any{
				"collector": w.name,
				"stdout":    result.Stdout,
				"stderr":    result.Stderr,
			})
		} else {
			errText := result.Stderr
			if errText == "" {
				errText = "Command failed"
			}
			_, appendErr = ctx.Events.Append(events.CollectorError, map[string]any{
				"collector": w.name,
				"error":     errText,
			})
		}
		if appendErr != nil {
			e.logger.Error("collector event append failed",
				slog.String(log.CollectorKey, w.name),
				slog.Any("error", appendErr))
			break
		}

		e.notify("collector", map[string]any{
			"run_id":    ctx.RunID,
			"collector": w.name,
			"output":    result.Stdout,
			"success":   success,
		})

		select {
		case <-w.stop:
		case <-time.After(interval):
		}
	}

	if _, err := ctx.Events.Append(events.CollectorStopped, map[string]any{"collector": w.name}); err != nil {
		e.logger.Error("collector event append failed", slog.Any("error", err))
	}
}

// StopCollector signals the named collector to stop. Does not wait for the
// worker to exit; the next iteration boundary ends it. Idempotent on an
// already-stopped collector.
func (e *Engine) StopCollector(runID, collectorName string) error {
	e.mu.Lock()
	ctx, ok := e.active[runID]
	e.mu.Unlock()
	if !ok {
		return &errors.NotFoundError{Resource: "run", ID: runID}
	}

	ctx.mu.Lock()
	worker, ok := ctx.collectors[collectorName]
	ctx.mu.Unlock()
	if !ok {
		return &errors.NotFoundError{Resource: "collector", ID: collectorName}
	}

	worker.signalStop()

	e.logger.Info("collector stopped",
		slog.String(log.RunIDKey, runID),
		slog.String(log.CollectorKey, collectorName))
	e.notify("collector_status", map[string]any{
		"run_id":    runID,
		"collector": collectorName,
		"status":    "stopped",
	})
	return nil
}

// CollectorRunning reports whether a collector is currently live.
func (e *Engine) CollectorRunning(runID, collectorName string) bool {
	e.mu.Lock()
	ctx, ok := e.active[runID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	ctx.mu.Lock()
	worker, ok := ctx.collectors[collectorName]
	ctx.mu.Unlock()
	return ok && worker.isRunning()
}
