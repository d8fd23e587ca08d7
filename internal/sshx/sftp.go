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

import (
	"github.com/pkg/sftp"

	"github.com/tombee/fieldrun/pkg/errors"
)

// sftpLocked returns the SFTP subchannel, opening it on first use. Caller
// holds the session lock and has already ensured the transport is up.
func (s *Session) sftpLocked() (*sftp.Client, error) {
	if s.sftp != nil {
		return s.sftp, nil
	}
	client, err := sftp.NewClient(s.client)
	if err != nil {
		s.connected = false
		return nil, &errors.TransportError{Op: "sftp_open", Host: s.config.Host, Message: err.Error(), Cause: err}
	}
	s.sftp = client
	return client, nil
}
