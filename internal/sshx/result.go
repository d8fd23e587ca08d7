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

package sshx

import "time"

// CommandResult is the outcome of a single command execution, on the host
// or on the target. A non-zero exit code is a result, not an error.
type CommandResult struct {
	Command   string
	ExitCode  int
	Stdout    string
	Stderr    string
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns the wall-clock execution time.
func (r CommandResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Success reports whether the command exited zero.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}
