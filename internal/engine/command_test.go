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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecuteHostCommandSuccess(t *testing.T) {
	result := executeHostCommand("echo hello", 5*time.Second)

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Empty(t, result.Stderr)
	assert.True(t, result.Success())
	assert.False(t, result.EndTime.Before(result.StartTime))
}

func TestExecuteHostCommandStderr(t *testing.T) {
	result := executeHostCommand("echo oops >&2; exit 3", 5*time.Second)

	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)
	assert.False(t, result.Success())
}

func TestExecuteHostCommandTimeout(t *testing.T) {
	start := time.Now()
	result := executeHostCommand("sleep 10", time.Second)

	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, "Command timed out after 1s", result.Stderr)
	assert.Less(t, time.Since(start), 5*time.Second, "returns at the timeout, not command completion")
}

func TestExecuteHostCommandShellFeatures(t *testing.T) {
	// The command line goes through sh -c, so pipes and quoting work.
	result := executeHostCommand(`printf 'a\nb\nc\n' | wc -l`, 5*time.Second)

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "3", strings.TrimSpace(result.Stdout))
}

func TestExecuteHostCommandMissingBinary(t *testing.T) {
	result := executeHostCommand("definitely-not-a-binary-12345", 5*time.Second)

	assert.NotEqual(t, 0, result.ExitCode)
	assert.False(t, result.Success())
}
