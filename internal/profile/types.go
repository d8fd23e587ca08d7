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

// Package profile defines the declarative target catalog: connection
// settings, named commands, and background collectors, loaded from YAML.
// Profiles are immutable after load.
package profile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/fieldrun/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Run locations for commands and collectors.
const (
	RunHost   = "host"
	RunTarget = "target"
)

// Default values applied at parse time.
const (
	DefaultPort              = 22
	DefaultUser              = "root"
	DefaultConnectTimeout    = 30
	DefaultCommandTimeout    = 60
	DefaultCollectorInterval = 60
	DefaultCollectorTimeout  = 10
)

// ConnectionConfig holds SSH connection parameters for a target.
type ConnectionConfig struct {
	// Host is required; a profile without it fails to load.
	Host string `yaml:"host" json:"host"`

	// Port is the SSH port (default 22).
	Port int `yaml:"port" json:"port"`

	// User is the SSH user (default "root").
	User string `yaml:"user" json:"user"`

	// KeyFile is an optional private key path; "~" is expanded at connect
	// time.
	KeyFile string `yaml:"key_file" json:"key_file,omitempty"`

	// Password is optional password auth. Never written back to disk.
	Password string `yaml:"password" json:"-"`

	// Timeout is the connect timeout in seconds (default 30).
	Timeout int `yaml:"timeout" json:"timeout"`
}

// CommandDef is a named, parameterized shell command runnable on the host or
// the target.
type CommandDef struct {
	// Name is the command's key in the profile's commands mapping.
	Name string `yaml:"-" json:"name"`

	Description string `yaml:"description" json:"description"`

	// Command is a shell template with {param} placeholders.
	Command string `yaml:"command" json:"command"`

	// Run is "host" (default) or "target".
	Run string `yaml:"run" json:"run"`

	// Artifacts are remote-path templates pulled after a successful or
	// failed execution; meaningful only for target commands.
	Artifacts []string `yaml:"artifacts" json:"artifacts,omitempty"`

	// Timeout in seconds (default 60).
	Timeout int `yaml:"timeout" json:"timeout"`
}

// CollectorDef is a periodic command whose output is logged as events.
type CollectorDef struct {
	// Name is the collector's key in the profile's background_collectors
	// mapping.
	Name string `yaml:"-" json:"name"`

	// Command is a shell template with {param} placeholders.
	Command string `yaml:"command" json:"command"`

	// Run is "host" or "target" (default "target").
	Run string `yaml:"run" json:"run"`

	// Interval is the minimum seconds between iteration completions
	// (default 60).
	Interval int `yaml:"interval" json:"interval"`

	// Timeout per invocation in seconds (default 10).
	Timeout int `yaml:"timeout" json:"timeout"`
}

// Profile is a complete target profile. Immutable after load.
type Profile struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description" json:"description"`
	Connection  ConnectionConfig `yaml:"connection" json:"connection"`

	Commands   map[string]CommandDef   `yaml:"commands" json:"commands"`
	Collectors map[string]CollectorDef `yaml:"background_collectors" json:"background_collectors"`

	// FilePath is where the profile was loaded from. Empty for profiles
	// built in memory.
	FilePath string `yaml:"-" json:"-"`
}

// Parse decodes profile YAML, applies defaults, and validates required
// fields. Unknown keys are ignored for forward compatibility; a missing or
// blank connection.host is an error.
func Parse(data []byte, filePath string) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &errors.ConfigError{Key: filePath, Reason: "invalid profile YAML", Cause: err}
	}

	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}
	p.FilePath = filePath

	if strings.TrimSpace(p.Connection.Host) == "" {
		return nil, &errors.ValidationError{Field: "connection.host", Message: "is required"}
	}
	if p.Connection.Port == 0 {
		p.Connection.Port = DefaultPort
	}
	if p.Connection.User == "" {
		p.Connection.User = DefaultUser
	}
	if p.Connection.Timeout == 0 {
		p.Connection.Timeout = DefaultConnectTimeout
	}

	for name, cmd := range p.Commands {
		cmd.Name = name
		if cmd.Run == "" {
			cmd.Run = RunHost
		}
		if cmd.Timeout == 0 {
			cmd.Timeout = DefaultCommandTimeout
		}
		p.Commands[name] = cmd
	}
	if p.Commands == nil {
		p.Commands = map[string]CommandDef{}
	}

	for name, coll := range p.Collectors {
		coll.Name = name
		if coll.Run == "" {
			coll.Run = RunTarget
		}
		if coll.Interval == 0 {
			coll.Interval = DefaultCollectorInterval
		}
		if coll.Timeout == 0 {
			coll.Timeout = DefaultCollectorTimeout
		}
		p.Collectors[name] = coll
	}
	if p.Collectors == nil {
		p.Collectors = map[string]CollectorDef{}
	}

	return &p, nil
}

// LoadFile reads and parses a profile from a YAML file.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "reading profile", Cause: err}
	}
	return Parse(data, path)
}

// ToYAML serializes the profile for saving or snapshotting. The connection
// password is stripped: credentials entered at runtime must not end up in
// run snapshots or saved profiles.
func (p *Profile) ToYAML() ([]byte, error) {
	clone := *p
	clone.Connection.Password = ""
	out, err := yaml.Marshal(&clone)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling profile")
	}
	return out, nil
}
