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

package events

// Type identifies the type of event in a run's stream. Values are stable
// wire strings; renaming one breaks every recorded run.
type Type string

const (
	// Run lifecycle
	RunCreated     Type = "run_created"
	RunStarted     Type = "run_started"
	RunPaused      Type = "run_paused"
	RunResumed     Type = "run_resumed"
	RunCompleted   Type = "run_completed"
	RunInterrupted Type = "run_interrupted"

	// Stage lifecycle. Reserved: nothing emits these today.
	StageStarted   Type = "stage_started"
	StageCompleted Type = "stage_completed"

	// Action execution. Reserved: nothing emits these today.
	ActionStarted   Type = "action_started"
	ActionCompleted Type = "action_completed"
	ActionFailed    Type = "action_failed"

	// Command execution
	CommandStarted   Type = "command_started"
	CommandOutput    Type = "command_output"
	CommandCompleted Type = "command_completed"
	CommandFailed    Type = "command_failed"

	// Artifacts
	ArtifactPullStarted Type = "artifact_pull_started"
	ArtifactPulled      Type = "artifact_pulled"
	ArtifactPullFailed  Type = "artifact_pull_failed"

	// Background collectors
	CollectorStarted Type = "collector_started"
	CollectorStopped Type = "collector_stopped"
	CollectorOutput  Type = "collector_output"
	CollectorError   Type = "collector_error"

	// Connection
	ConnectionEstablished Type = "connection_established"
	ConnectionLost        Type = "connection_lost"
	ConnectionRetry       Type = "connection_retry"

	// Operator interactions
	Note         Type = "note"
	Edit         Type = "edit"
	ParameterSet Type = "parameter_set"

	// Errors
	Error Type = "error"
)

// Event is a single immutable entry in a run's event stream, persisted as
// one JSON object per line in events.jsonl.
type Event struct {
	// Seq is strictly increasing from 1, unique within a run.
	Seq int64 `json:"seq"`

	// Timestamp is UTC, RFC 3339 with timezone.
	Timestamp string `json:"timestamp"`

	// EventType is one of the Type constants.
	EventType string `json:"event_type"`

	// Data is the event payload; shape depends on EventType.
	Data map[string]any `json:"data"`
}
