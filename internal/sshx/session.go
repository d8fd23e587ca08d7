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

// Package sshx wraps one logical SSH connection to a target plus a lazy
// SFTP subchannel. The session reconnects transparently: every operation
// verifies liveness first and re-runs the retry protocol if the transport
// died. All operations serialize through one session-wide lock, so a
// reconnect can never interleave with a command.
package sshx

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/tombee/fieldrun/pkg/errors"
)

// Defaults for the connect retry protocol.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 5 * time.Second
)

// Config holds SSH connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	KeyFile  string
	Password string

	// Timeout bounds the TCP+handshake phase of a connect, and is the
	// fallback command timeout when Execute is called with zero.
	Timeout time.Duration

	// RetryAttempts is the number of connect attempts (default 3).
	RetryAttempts int

	// RetryDelay is the sleep between attempts (default 5s).
	RetryDelay time.Duration
}

// Callbacks are fired on connection state changes. All are optional and
// are invoked with the session lock held; they must not call back into the
// session.
type Callbacks struct {
	OnConnect    func()
	OnDisconnect func(reason string)
	OnRetry      func(attempt int, err error)
}

// Session is a connected/retrying SSH+SFTP channel. Thread-safe.
type Session struct {
	config Config
	cb     Callbacks

	mu        sync.Mutex
	client    *ssh.Client
	sftp      *sftp.Client
	connected bool
}

// NewSession builds a session; no connection is made until the first
// operation or an explicit Connect.
func NewSession(config Config, cb Callbacks) *Session {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = DefaultRetryAttempts
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	return &Session{config: config, cb: cb}
}

// IsConnected reports whether the transport was alive at last check.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.client != nil
}

// Connect establishes the connection using the retry protocol.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

// connectLocked runs up to RetryAttempts connection attempts. Caller holds
// the lock.
func (s *Session) connectLocked() error {
	var lastErr error
	for attempt := 1; attempt <= s.config.RetryAttempts; attempt++ {
		client, err := s.dial()
		if err == nil {
			s.client = client
			s.connected = true
			if s.cb.OnConnect != nil {
				s.cb.OnConnect()
			}
			return nil
		}

		lastErr = err
		if attempt < s.config.RetryAttempts {
			if s.cb.OnRetry != nil {
				s.cb.OnRetry(attempt, err)
			}
			time.Sleep(s.config.RetryDelay)
			continue
		}

		s.connected = false
		if s.cb.OnDisconnect != nil {
			s.cb.OnDisconnect(fmt.Sprintf("Failed after %d attempts: %v", attempt, err))
		}
	}
	return &errors.TransportError{Op: "connect", Host: s.config.Host, Message: lastErr.Error(), Cause: lastErr}
}

// dial performs one connection attempt.
func (s *Session) dial() (*ssh.Client, error) {
	auth, err := s.authMethods()
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User: s.config.User,
		Auth: auth,
		// Field targets are reached by address from operator-authored
		// profiles; host keys are not pinned, matching the known-hosts
		// auto-accept behavior operators expect from lab tooling.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.config.Timeout,
	}

	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))
	return ssh.Dial("tcp", addr, clientConfig)
}

// authMethods builds the auth chain: key file if set, else password if
// set, else the local SSH agent.
func (s *Session) authMethods() ([]ssh.AuthMethod, error) {
	if s.config.KeyFile != "" {
		path := expandHome(s.config.KeyFile)
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading key file %s: %w", path, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing key file %s: %w", path, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	if s.config.Password != "" {
		return []ssh.AuthMethod{ssh.Password(s.config.Password)}, nil
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("no key file, password, or SSH agent available")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connecting to SSH agent: %w", err)
	}
	return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// ensureConnectedLocked verifies the transport is still alive, reconnecting
// if not. Caller holds the lock.
func (s *Session) ensureConnectedLocked() error {
	if !s.connected || s.client == nil {
		return s.connectLocked()
	}

	// Liveness probe: a keepalive round trip fails fast on a dead
	// transport.
	if _, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		if s.cb.OnDisconnect != nil {
			s.cb.OnDisconnect("Connection lost")
		}
		s.closeLocked()
		return s.connectLocked()
	}
	return nil
}

// Execute runs a command on the target. A timeout of zero falls back to the
// config timeout. On transport failure mid-command the session is marked
// disconnected and the result carries exit code -1 with the error text in
// stderr; a non-zero remote exit is captured as-is.
func (s *Session) Execute(command string, timeout time.Duration) CommandResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.ensureConnectedLocked(); err != nil {
		return CommandResult{
			Command:   command,
			ExitCode:  -1,
			Stderr:    "Connection failed",
			StartTime: start,
			EndTime:   time.Now(),
		}
	}

	if timeout <= 0 {
		timeout = s.config.Timeout
	}

	session, err := s.client.NewSession()
	if err != nil {
		s.connected = false
		return CommandResult{
			Command:   command,
			ExitCode:  -1,
			Stderr:    err.Error(),
			StartTime: start,
			EndTime:   time.Now(),
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	if err := session.Start(command); err != nil {
		s.connected = false
		return CommandResult{
			Command:   command,
			ExitCode:  -1,
			Stderr:    err.Error(),
			StartTime: start,
			EndTime:   time.Now(),
		}
	}
	go func() { done <- session.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		// Close tears down the channel; Wait returns shortly after, but the
		// command result is already decided.
		session.Close()
		return CommandResult{
			Command:   command,
			ExitCode:  -1,
			Stdout:    stdout.String(),
			Stderr:    fmt.Sprintf("Command timed out after %ds", int(timeout.Seconds())),
			StartTime: start,
			EndTime:   time.Now(),
		}
	}

	result := CommandResult{
		Command:   command,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		StartTime: start,
		EndTime:   time.Now(),
	}

	switch e := err.(type) {
	case nil:
		result.ExitCode = 0
	case *ssh.ExitError:
		result.ExitCode = e.ExitStatus()
	default:
		// Channel-level failure: the transport is suspect.
		s.connected = false
		result.ExitCode = -1
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
	}
	return result
}

// GetFile copies a remote file to a local path over SFTP, creating the
// local parent directory if needed. Not-found and permission errors are
// reported distinctly.
func (s *Session) GetFile(remotePath, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnectedLocked(); err != nil {
		return &errors.TransportError{Op: "get_file", Host: s.config.Host, Message: "Connection failed", Cause: err}
	}

	client, err := s.sftpLocked()
	if err != nil {
		return err
	}

	src, err := client.Open(remotePath)
	if err != nil {
		return classifyTransferError("get_file", s.config.Host, remotePath, err)
	}
	defer src.Close()

	if dir := filepath.Dir(localPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &errors.StorageError{Path: dir, Op: "mkdir", Cause: err}
		}
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return &errors.StorageError{Path: localPath, Op: "create", Cause: err}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		s.connected = false
		return &errors.TransportError{Op: "get_file", Host: s.config.Host, Message: err.Error(), Cause: err}
	}
	return nil
}

// PutFile copies a local file to a remote path over SFTP.
func (s *Session) PutFile(localPath, remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnectedLocked(); err != nil {
		return &errors.TransportError{Op: "put_file", Host: s.config.Host, Message: "Connection failed", Cause: err}
	}

	client, err := s.sftpLocked()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return &errors.StorageError{Path: localPath, Op: "open", Cause: err}
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return classifyTransferError("put_file", s.config.Host, remotePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		s.connected = false
		return &errors.TransportError{Op: "put_file", Host: s.config.Host, Message: err.Error(), Cause: err}
	}
	return nil
}

// FileExists stats a remote path over SFTP.
func (s *Session) FileExists(remotePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnectedLocked(); err != nil {
		return false
	}
	client, err := s.sftpLocked()
	if err != nil {
		return false
	}
	_, err = client.Stat(remotePath)
	return err == nil
}

// Disconnect closes SFTP then the transport, best effort.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// closeLocked releases both channels. Caller holds the lock.
func (s *Session) closeLocked() {
	if s.sftp != nil {
		s.sftp.Close()
		s.sftp = nil
	}
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.connected = false
}

// classifyTransferError keeps not-found and permission failures
// distinguishable from generic transport errors.
func classifyTransferError(op, host, remotePath string, err error) error {
	switch {
	case os.IsNotExist(err):
		return &errors.TransportError{Op: op, Host: host, Message: fmt.Sprintf("Remote file not found: %s", remotePath), Cause: err}
	case os.IsPermission(err):
		return &errors.TransportError{Op: op, Host: host, Message: fmt.Sprintf("Permission denied: %s", remotePath), Cause: err}
	default:
		return &errors.TransportError{Op: op, Host: host, Message: err.Error(), Cause: err}
	}
}
