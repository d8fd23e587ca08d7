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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fieldrunerrors "github.com/tombee/fieldrun/pkg/errors"
)

const sampleProfile = `name: bench-rig
description: thermal bench
connection:
  host: 10.0.0.5
  user: admin
commands:
  capture:
    description: capture a trace
    command: tracer -d {duration} -o /tmp/{file}
    run: target
    artifacts:
      - /tmp/{file}
    timeout: 120
  local-note:
    command: echo done
background_collectors:
  temps:
    command: cat /sys/class/thermal/thermal_zone0/temp
    interval: 5
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeProfile(t *testing.T, s *Store, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), name), []byte(content), 0o644))
}

func TestParseDefaults(t *testing.T) {
	p, err := Parse([]byte(sampleProfile), "bench-rig.yaml")
	require.NoError(t, err)

	assert.Equal(t, "bench-rig", p.Name)
	assert.Equal(t, 22, p.Connection.Port)
	assert.Equal(t, "admin", p.Connection.User)
	assert.Equal(t, 30, p.Connection.Timeout)

	capture := p.Commands["capture"]
	assert.Equal(t, "capture", capture.Name)
	assert.Equal(t, RunTarget, capture.Run)
	assert.Equal(t, 120, capture.Timeout)

	note := p.Commands["local-note"]
	assert.Equal(t, RunHost, note.Run, "commands default to host")
	assert.Equal(t, 60, note.Timeout)

	temps := p.Collectors["temps"]
	assert.Equal(t, RunTarget, temps.Run, "collectors default to target")
	assert.Equal(t, 5, temps.Interval)
	assert.Equal(t, 10, temps.Timeout)
}

func TestParseMissingHostFails(t *testing.T) {
	_, err := Parse([]byte("name: broken\nconnection:\n  port: 22\n"), "broken.yaml")
	require.Error(t, err)
	assert.True(t, fieldrunerrors.IsValidation(err))
}

func TestParseIgnoresUnknownKeys(t *testing.T) {
	content := sampleProfile + "\nfuture_section:\n  anything: goes\n"
	_, err := Parse([]byte(content), "bench-rig.yaml")
	require.NoError(t, err)
}

func TestParseNameDefaultsToFileBase(t *testing.T) {
	p, err := Parse([]byte("connection:\n  host: h\n"), "/profiles/lab-3.yml")
	require.NoError(t, err)
	assert.Equal(t, "lab-3", p.Name)
}

func TestListSorted(t *testing.T) {
	s := newTestStore(t)
	writeProfile(t, s, "zeta.yaml", sampleProfile)
	writeProfile(t, s, "alpha.yml", sampleProfile)
	writeProfile(t, s, "notes.txt", "not a profile")

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}

func TestLoadNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("ghost")
	require.Error(t, err)
	assert.True(t, fieldrunerrors.IsNotFound(err))
}

func TestLoadPrefersYamlOverYml(t *testing.T) {
	s := newTestStore(t)
	writeProfile(t, s, "rig.yaml", sampleProfile)
	writeProfile(t, s, "rig.yml", "connection:\n  host: 10.9.9.9\n")

	p, err := s.Load("rig")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", p.Connection.Host)
}

func TestSaveStripsPassword(t *testing.T) {
	s := newTestStore(t)
	p, err := Parse([]byte(sampleProfile), "bench-rig.yaml")
	require.NoError(t, err)
	p.Connection.Password = "hunter2"

	path, err := s.Save(p)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")

	reloaded, err := s.Load("bench-rig")
	require.NoError(t, err)
	assert.Empty(t, reloaded.Connection.Password)
}

func TestSaveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p, err := Parse([]byte(sampleProfile), "bench-rig.yaml")
	require.NoError(t, err)

	_, err = s.Save(p)
	require.NoError(t, err)

	reloaded, err := s.Load("bench-rig")
	require.NoError(t, err)
	assert.Equal(t, p.Commands["capture"].Command, reloaded.Commands["capture"].Command)
	assert.Equal(t, p.Collectors["temps"].Interval, reloaded.Collectors["temps"].Interval)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	writeProfile(t, s, "rig.yml", sampleProfile)

	require.NoError(t, s.Delete("rig"))

	err := s.Delete("rig")
	require.Error(t, err)
	assert.True(t, fieldrunerrors.IsNotFound(err))
}
