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

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliTestProfile = `name: lab
connection:
  host: 127.0.0.1
commands:
  hello:
    description: say hello
    command: echo hello
`

func runCLI(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--home", home}, args...))
	err := root.Execute()
	return out.String(), err
}

func newHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "profiles"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "profiles", "lab.yaml"), []byte(cliTestProfile), 0o644))
	return home
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"who=world", "file=a=b.bin"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"who": "world", "file": "a=b.bin"}, params)

	_, err = parseParams([]string{"novalue"})
	require.Error(t, err)

	empty, err := parseParams(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestProfilesList(t *testing.T) {
	home := newHome(t)

	out, err := runCLI(t, home, "profiles", "list")
	require.NoError(t, err)
	assert.Equal(t, "lab\n", out)
}

func TestProfilesShow(t *testing.T) {
	home := newHome(t)

	out, err := runCLI(t, home, "profiles", "show", "lab")
	require.NoError(t, err)
	assert.Contains(t, out, "root@127.0.0.1:22")
	assert.Contains(t, out, "hello")
}

func TestRunLifecycleThroughCLI(t *testing.T) {
	home := newHome(t)

	runID, err := runCLI(t, home, "run", "create", "lab", "--name", "smoke")
	require.NoError(t, err)
	runID = strings.TrimSpace(runID)
	require.NotEmpty(t, runID)

	_, err = runCLI(t, home, "run", "start", runID)
	require.NoError(t, err)

	out, err := runCLI(t, home, "run", "exec", runID, "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "hello\n")

	out, err = runCLI(t, home, "run", "events", runID)
	require.NoError(t, err)
	assert.Contains(t, out, `"event_type":"command_completed"`)

	_, err = runCLI(t, home, "run", "complete", runID)
	require.NoError(t, err)

	out, err = runCLI(t, home, "run", "list")
	require.NoError(t, err)
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "completed")
}

func TestUnknownProfileFails(t *testing.T) {
	home := newHome(t)

	_, err := runCLI(t, home, "run", "create", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile not found")
}
