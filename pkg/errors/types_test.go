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

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		expected string
	}{
		{
			name:     "with field",
			err:      &ValidationError{Field: "connection.host", Message: "is required"},
			expected: "validation failed on connection.host: is required",
		},
		{
			name:     "without field",
			err:      &ValidationError{Message: "profile is empty"},
			expected: "validation failed: profile is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "profile", ID: "bench-rig"}
	expected := "profile not found: bench-rig"
	if got := err.Error(); got != expected {
		t.Errorf("Error() = %q, want %q", got, expected)
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransportError{Op: "connect", Host: "10.0.0.5", Message: "connection refused", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}

	wrapped := fmt.Errorf("starting run: %w", err)
	var te *TransportError
	if !errors.As(wrapped, &te) {
		t.Fatal("expected errors.As to find TransportError through wrapping")
	}
	if te.Host != "10.0.0.5" {
		t.Errorf("Host = %q, want %q", te.Host, "10.0.0.5")
	}
}

func TestStorageErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &StorageError{Path: "/runs/x/events.jsonl", Op: "append", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestClassifierHelpers(t *testing.T) {
	notFound := fmt.Errorf("lookup: %w", &NotFoundError{Resource: "run", ID: "r1"})
	transport := &TransportError{Op: "execute", Message: "broken pipe"}

	if !IsNotFound(notFound) {
		t.Error("IsNotFound should match wrapped NotFoundError")
	}
	if IsNotFound(transport) {
		t.Error("IsNotFound should not match TransportError")
	}
	if !IsTransport(transport) {
		t.Error("IsTransport should match TransportError")
	}
	if !IsValidation(&ValidationError{Message: "bad"}) {
		t.Error("IsValidation should match ValidationError")
	}
	if !IsStorage(&StorageError{Op: "append", Cause: errors.New("x")}) {
		t.Error("IsStorage should match StorageError")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	base := New("base")
	wrapped := Wrapf(base, "loading %s", "profile.yaml")
	if wrapped.Error() != "loading profile.yaml: base" {
		t.Errorf("unexpected message: %q", wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should match base via errors.Is")
	}
}
