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

// Package errors defines the typed error values used at fieldrun API
// boundaries. Internal code wraps causes with %w; the public engine and
// store surfaces return one of these types for expected failure modes so
// callers can classify without string matching.
package errors

import (
	"fmt"
)

// ValidationError represents user input validation failures.
// Use this for malformed profiles, bad parameter names, or constraint
// violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested profile, run, command, or collector does not
// exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "profile", "run", "command")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// TransportError represents SSH/SFTP transport failures: connect,
// reconnect, remote execution channel errors, and file transfers.
// A remote command that runs and exits non-zero is not a TransportError.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute", "get_file")
	Op string

	// Host is the target host
	Host string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport %s failed", e.Op)
	if e.Host != "" {
		msg = fmt.Sprintf("%s (host %s)", msg, e.Host)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for profile file errors, missing settings, or invalid values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "connection.host")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// StorageError represents local filesystem failures on run state: manifest
// writes, event appends, artifact placement, archiving. Durability of the
// event stream is contractual, so these are fatal to the operation that hit
// them.
type StorageError struct {
	// Path is the file or directory involved
	Path string

	// Op is the operation that failed (e.g., "append", "save_manifest")
	Op string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed at %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Cause
}
