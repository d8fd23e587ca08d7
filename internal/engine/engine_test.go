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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/fieldrun/internal/profile"
	"github.com/tombee/fieldrun/internal/storage"
	fieldrunerrors "github.com/tombee/fieldrun/pkg/errors"
)

const testProfile = `name: lab
description: loopback test rig
connection:
  host: 127.0.0.1
commands:
  hello:
    description: say hello
    command: echo hello
  greet:
    command: echo {who}
  fail:
    command: "false"
  slow:
    command: sleep 5
    timeout: 1
background_collectors:
  ticker:
    command: echo tick
    run: host
    interval: 1
  broken:
    command: "false"
    run: host
    interval: 1
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	dir := t.TempDir()
	profiles, err := profile.NewStore(filepath.Join(dir, "profiles"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { profiles.Close() })
	require.NoError(t, os.WriteFile(filepath.Join(profiles.Dir(), "lab.yaml"), []byte(testProfile), 0o644))

	manager, err := storage.NewManager(filepath.Join(dir, "runs"))
	require.NoError(t, err)

	return New(manager, profiles, nil)
}

func startedRun(t *testing.T, e *Engine, params map[string]string) string {
	t.Helper()
	runID, err := e.CreateRun("lab", "t", params)
	require.NoError(t, err)
	require.NoError(t, e.StartRun(runID))
	return runID
}

func eventTypes(t *testing.T, e *Engine, runID string) []string {
	t.Helper()
	evs, err := e.GetEvents(runID, 0)
	require.NoError(t, err)
	types := make([]string, len(evs))
	for i, ev := range evs {
		types[i] = ev.EventType
	}
	return types
}

func TestCreateRunUnknownProfile(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateRun("ghost", "", nil)
	require.Error(t, err)
	assert.True(t, fieldrunerrors.IsNotFound(err))
}

func TestHostCommandSuccess(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	result, err := e.ExecuteCommand(runID, "hello")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Empty(t, result.Artifacts)

	assert.Equal(t,
		[]string{"run_created", "run_started", "command_started", "command_completed"},
		eventTypes(t, e, runID))
}

func TestParameterSubstitution(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, map[string]string{"who": "world"})

	result, err := e.ExecuteCommand(runID, "greet")
	require.NoError(t, err)
	assert.Equal(t, "world\n", result.Stdout)
}

func TestFailedCommandIsResultNotError(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	result, err := e.ExecuteCommand(runID, "fail")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)

	types := eventTypes(t, e, runID)
	assert.Equal(t, "command_failed", types[len(types)-1])
}

func TestHostCommandTimeout(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	result, err := e.ExecuteCommand(runID, "slow")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, "Command timed out after 1s", result.Stderr)
}

func TestExecuteCommandRequiresActiveRun(t *testing.T) {
	e := newTestEngine(t)
	runID, err := e.CreateRun("lab", "", nil)
	require.NoError(t, err)

	_, err = e.ExecuteCommand(runID, "hello")
	require.Error(t, err)
	assert.True(t, fieldrunerrors.IsValidation(err))
}

func TestExecuteUnknownCommand(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	_, err := e.ExecuteCommand(runID, "nope")
	require.Error(t, err)
	assert.True(t, fieldrunerrors.IsNotFound(err))
}

func TestStartRunIdempotent(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	require.NoError(t, e.StartRun(runID))

	types := eventTypes(t, e, runID)
	started := 0
	for _, typ := range types {
		if typ == "run_started" {
			started++
		}
	}
	assert.Equal(t, 1, started, "second StartRun is a noop")
}

func TestPauseResumeLifecycle(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	require.NoError(t, e.PauseRun(runID))
	ctx, err := e.GetRunContext(runID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPaused, ctx.Manifest().Status)
	assert.True(t, ctx.IsPaused())

	require.NoError(t, e.StartRun(runID))
	assert.Equal(t, storage.StatusRunning, ctx.Manifest().Status)

	types := eventTypes(t, e, runID)
	assert.Contains(t, types, "run_resumed")
	// run_started appears exactly once: the resume is not a fresh start.
	started := 0
	for _, typ := range types {
		if typ == "run_started" {
			started++
		}
	}
	assert.Equal(t, 1, started)
}

func TestPauseRequiresRunning(t *testing.T) {
	e := newTestEngine(t)
	runID, err := e.CreateRun("lab", "", nil)
	require.NoError(t, err)

	err = e.PauseRun(runID)
	require.Error(t, err)
	assert.True(t, fieldrunerrors.IsValidation(err))
}

func TestCompleteRunStampsTimestamps(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	require.NoError(t, e.CompleteRun(runID))

	ctx, err := e.GetRunContext(runID)
	require.NoError(t, err)
	m := ctx.Manifest()
	assert.Equal(t, storage.StatusCompleted, m.Status)
	require.NotEmpty(t, m.StartedAt)
	require.NotEmpty(t, m.CompletedAt)
	assert.LessOrEqual(t, m.CreatedAt, m.StartedAt)
	assert.LessOrEqual(t, m.StartedAt, m.CompletedAt)

	// Idempotent: no second run_completed.
	require.NoError(t, e.CompleteRun(runID))
	completed := 0
	for _, typ := range eventTypes(t, e, runID) {
		if typ == "run_completed" {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestSetParameterPersistsToManifest(t *testing.T) {
	e := newTestEngine(t)
	runID, err := e.CreateRun("lab", "", nil)
	require.NoError(t, err)

	require.NoError(t, e.SetParameter(runID, "who", "mars"))

	ctx, err := e.GetRunContext(runID)
	require.NoError(t, err)
	onDisk, err := ctx.Storage.LoadManifest()
	require.NoError(t, err)
	assert.Equal(t, "mars", onDisk.Parameters["who"])

	types := eventTypes(t, e, runID)
	assert.Equal(t, "parameter_set", types[len(types)-1])
}

func TestAddNote(t *testing.T) {
	e := newTestEngine(t)
	runID, err := e.CreateRun("lab", "", nil)
	require.NoError(t, err)

	require.NoError(t, e.AddNote(runID, "thermal paste reapplied"))

	evs, err := e.GetEvents(runID, 0)
	require.NoError(t, err)
	last := evs[len(evs)-1]
	assert.Equal(t, "note", last.EventType)
	assert.Equal(t, "thermal paste reapplied", last.Data["text"])
}

func TestGetEventsAfterSeq(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	all, err := e.GetEvents(runID, 0)
	require.NoError(t, err)
	tail, err := e.GetEvents(runID, all[0].Seq)
	require.NoError(t, err)
	assert.Len(t, tail, len(all)-1)
}

func TestEventSeqIsLineNumber(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)
	_, err := e.ExecuteCommand(runID, "hello")
	require.NoError(t, err)

	evs, err := e.GetEvents(runID, 0)
	require.NoError(t, err)
	for i, ev := range evs {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestExportRun(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	archivePath, err := e.ExportRun(runID)
	require.NoError(t, err)
	assert.FileExists(t, archivePath)
	assert.Equal(t, runID+".zip", filepath.Base(archivePath))
}

func TestDeleteRun(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	ctx, err := e.GetRunContext(runID)
	require.NoError(t, err)
	runDir := ctx.Storage.Dir()

	require.NoError(t, e.DeleteRun(runID))
	assert.NoDirExists(t, runDir)

	err = e.DeleteRun(runID)
	require.Error(t, err)
	assert.True(t, fieldrunerrors.IsNotFound(err))
}

func TestListRuns(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, nil)

	runs, err := e.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
}

func TestSubscriberReceivesNotifications(t *testing.T) {
	e := newTestEngine(t)

	var got []Notification
	id := e.Subscribe(func(n Notification) { got = append(got, n) })
	defer e.Unsubscribe(id)

	startedRun(t, e, nil)

	require.NotEmpty(t, got)
	assert.Equal(t, "run_status", got[0].Type)
	assert.Equal(t, "running", got[0].Data["status"])
}

func TestSubscriberPanicIsRecovered(t *testing.T) {
	e := newTestEngine(t)

	e.Subscribe(func(n Notification) { panic("boom") })
	var calls int
	e.Subscribe(func(n Notification) { calls++ })

	runID := startedRun(t, e, nil)
	_, err := e.ExecuteCommand(runID, "hello")
	require.NoError(t, err)
	assert.Greater(t, calls, 0, "healthy subscribers still run")
}

func TestManifestMatchesEngineStateAfterOperations(t *testing.T) {
	e := newTestEngine(t)
	runID := startedRun(t, e, map[string]string{"who": "x"})
	require.NoError(t, e.SetParameter(runID, "who", "y"))
	_, err := e.ExecuteCommand(runID, "greet")
	require.NoError(t, err)

	ctx, err := e.GetRunContext(runID)
	require.NoError(t, err)
	onDisk, err := ctx.Storage.LoadManifest()
	require.NoError(t, err)
	inMemory := ctx.Manifest()

	assert.Equal(t, inMemory.Status, onDisk.Status)
	assert.Equal(t, inMemory.Parameters, onDisk.Parameters)
	assert.Equal(t, inMemory.StartedAt, onDisk.StartedAt)

	// The substituted value is the updated one.
	evs, _ := e.GetEvents(runID, 0)
	for _, ev := range evs {
		if ev.EventType == "command_completed" {
			assert.Equal(t, "echo y", ev.Data["command"])
		}
	}
}

func TestRunIDFormat(t *testing.T) {
	e := newTestEngine(t)
	runID, err := e.CreateRun("lab", "my run!", nil)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}_\d{6}_my-run-$`, runID)
}

func TestCreateRunDoesNotActivate(t *testing.T) {
	e := newTestEngine(t)
	runID, err := e.CreateRun("lab", "", nil)
	require.NoError(t, err)

	e.mu.Lock()
	_, active := e.active[runID]
	e.mu.Unlock()
	assert.False(t, active)

	ctx, err := e.GetRunContext(runID)
	require.NoError(t, err)
	assert.False(t, ctx.IsRunning())
	assert.Equal(t, storage.StatusCreated, ctx.Manifest().Status)

	// profile_snapshot.yaml holds the profile verbatim at creation.
	snapshot, err := os.ReadFile(ctx.Storage.SnapshotPath())
	require.NoError(t, err)
	assert.Contains(t, string(snapshot), "host: 127.0.0.1")
}
