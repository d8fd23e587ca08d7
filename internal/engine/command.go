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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/tombee/fieldrun/internal/events"
	"github.com/tombee/fieldrun/internal/log"
	"github.com/tombee/fieldrun/internal/profile"
	"github.com/tombee/fieldrun/internal/sshx"
	"github.com/tombee/fieldrun/internal/storage"
	"github.com/tombee/fieldrun/pkg/errors"
)

// ExecResult is the outcome of ExecuteCommand. A failed command is a
// result, not an error: Success is false and the exit code, outputs, and
// any error text are carried here.
type ExecResult struct {
	Success     bool
	CommandName string
	Command     string
	RunLocation string
	ExitCode    int
	Stdout      string
	Stderr      string
	Duration    time.Duration
	Error       string
	Artifacts   []storage.ArtifactRef
}

// ExecuteCommand runs a named profile command for an active run. The
// command template is resolved against the run's current parameters; for
// target commands the SSH session is connected lazily, and declared
// artifacts are pulled afterwards in declaration order. A failed pull is
// recorded and does not abort subsequent pulls.
func (e *Engine) ExecuteCommand(runID, commandName string) (*ExecResult, error) {
	ctx, err := e.activeRun(runID)
	if err != nil {
		return nil, err
	}

	cmdDef, ok := ctx.Profile.Commands[commandName]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "command", ID: commandName}
	}

	if _, err := ctx.Events.Append(events.CommandStarted, map[string]any{
		"command_name": commandName,
		"run_location": cmdDef.Run,
		"description":  cmdDef.Description,
	}); err != nil {
		return nil, err
	}
	e.notify("command", map[string]any{"run_id": runID, "command_name": commandName, "status": "started"})

	command := profile.Substitute(cmdDef.Command, ctx.paramsSnapshot())
	timeout := time.Duration(cmdDef.Timeout) * time.Second

	var result sshx.CommandResult
	if cmdDef.Run == profile.RunTarget {
		if !ctx.SSH.IsConnected() {
			if err := ctx.SSH.Connect(); err != nil {
				if _, aerr := ctx.Events.Append(events.CommandFailed, map[string]any{
					"command_name": commandName,
					"error":        "SSH connection failed",
				}); aerr != nil {
					return nil, aerr
				}
				e.metrics.commandsTotal.WithLabelValues(cmdDef.Run, "failure").Inc()
				return &ExecResult{
					CommandName: commandName,
					RunLocation: cmdDef.Run,
					ExitCode:    -1,
					Error:       "SSH connection failed",
				}, nil
			}
		}
		result = ctx.SSH.Execute(command, timeout)
	} else {
		result = executeHostCommand(command, timeout)
	}

	success := result.Success()
	data := map[string]any{
		"command_name": commandName,
		"command":      command,
		"run_location": cmdDef.Run,
		"exit_code":    result.ExitCode,
		"stdout":       result.Stdout,
		"stderr":       result.Stderr,
		"duration":     result.Duration().Seconds(),
	}

	eventType := events.CommandCompleted
	if !success {
		eventType = events.CommandFailed
	}
	if _, err := ctx.Events.Append(eventType, data); err != nil {
		return nil, err
	}

	e.metrics.commandsTotal.WithLabelValues(cmdDef.Run, statusLabel(success)).Inc()
	e.metrics.commandDuration.WithLabelValues(cmdDef.Run).Observe(result.Duration().Seconds())
	e.logger.Info("command finished",
		slog.String(log.RunIDKey, runID),
		slog.String(log.CommandKey, commandName),
		slog.Int("exit_code", result.ExitCode),
		slog.Int64(log.DurationKey, result.Duration().Milliseconds()))

	notifyData := map[string]any{"run_id": runID, "status": "completed"}
	if !success {
		notifyData["status"] = "failed"
	}
	for k, v := range data {
		notifyData[k] = v
	}
	e.notify("command", notifyData)

	artifacts, err := e.pullArtifacts(ctx, cmdDef, commandName)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		Success:     success,
		CommandName: commandName,
		Command:     command,
		RunLocation: cmdDef.Run,
		ExitCode:    result.ExitCode,
		Stdout:      result.Stdout,
		Stderr:      result.Stderr,
		Duration:    result.Duration(),
		Artifacts:   artifacts,
	}, nil
}

// pullArtifacts fetches each declared artifact for a target command.
// Only event-append failures are returned; transfer failures are recorded
// per artifact and isolated.
func (e *Engine) pullArtifacts(ctx *RunContext, cmdDef profile.CommandDef, commandName string) ([]storage.ArtifactRef, error) {
	if cmdDef.Run != profile.RunTarget || len(cmdDef.Artifacts) == 0 {
		return nil, nil
	}

	var pulled []storage.ArtifactRef
	params := ctx.paramsSnapshot()

	for _, template := range cmdDef.Artifacts {
		remotePath := profile.Substitute(template, params)

		if _, err := ctx.Events.Append(events.ArtifactPullStarted, map[string]any{"remote_path": remotePath}); err != nil {
			return pulled, err
		}

		tempPath := filepath.Join(ctx.Storage.ArtifactsPath(), "_temp_"+filepath.Base(remotePath))
		if err := ctx.SSH.GetFile(remotePath, tempPath); err != nil {
			e.metrics.artifactPulls.WithLabelValues("failure").Inc()
			if _, aerr := ctx.Events.Append(events.ArtifactPullFailed, map[string]any{
				"remote_path": remotePath,
				"error":       err.Error(),
			}); aerr != nil {
				return pulled, aerr
			}
			continue
		}

		localPath, err := ctx.Storage.AddArtifact(tempPath, remotePath)
		os.Remove(tempPath) //nolint:errcheck
		if err != nil {
			e.metrics.artifactPulls.WithLabelValues("failure").Inc()
			if _, aerr := ctx.Events.Append(events.ArtifactPullFailed, map[string]any{
				"remote_path": remotePath,
				"error":       err.Error(),
			}); aerr != nil {
				return pulled, aerr
			}
			continue
		}

		ref := storage.ArtifactRef{RemotePath: remotePath, LocalPath: localPath, Command: commandName}

		ctx.mu.Lock()
		ctx.manifest.Artifacts = append(ctx.manifest.Artifacts, ref)
		if err := ctx.Storage.SaveManifest(ctx.manifest); err != nil {
			ctx.mu.Unlock()
			return pulled, err
		}
		ctx.mu.Unlock()

		if _, err := ctx.Events.Append(events.ArtifactPulled, map[string]any{
			"remote_path": ref.RemotePath,
			"local_path":  ref.LocalPath,
			"command":     ref.Command,
		}); err != nil {
			return pulled, err
		}

		e.metrics.artifactPulls.WithLabelValues("success").Inc()
		pulled = append(pulled, ref)
	}
	return pulled, nil
}

// executeHostCommand forks a local shell and waits with a timeout.
func executeHostCommand(command string, timeout time.Duration) sshx.CommandResult {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of the shell can keep the output pipes open after sh itself
	// has exited or been killed; stop waiting on them shortly after.
	cmd.WaitDelay = 500 * time.Millisecond

	err := cmd.Run()
	end := time.Now()

	result := sshx.CommandResult{
		Command:   command,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		StartTime: start,
		EndTime:   end,
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.ExitCode = -1
		result.Stderr = fmt.Sprintf("Command timed out after %ds", int(timeout.Seconds()))
	case err == nil:
		result.ExitCode = 0
	case errors.Is(err, exec.ErrWaitDelay):
		result.ExitCode = cmd.ProcessState.ExitCode()
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.Stderr = err.Error()
		}
	}
	return result
}
