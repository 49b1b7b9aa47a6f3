// Copyright 2026 The accelctl Authors
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
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntegrityErrorMessage(t *testing.T) {
	err := &IntegrityError{File: "compile-proxy", Want: "aaaa", Got: "bbbb"}
	assert.Equal(t, "integrity error: compile-proxy differs: aaaa != bbbb", err.Error())
}

func TestIntegrityErrorUnwrap(t *testing.T) {
	cause := stderrors.New("short read")
	err := &IntegrityError{File: "pkg.txz", Reason: "extract failed", Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestIsRetriable(t *testing.T) {
	wrapped := fmt.Errorf("update failed: %w", &IntegrityError{File: "f", Want: "a", Got: "b"})
	assert.True(t, IsRetriable(wrapped))
	assert.False(t, IsRetriable(&OwnershipError{Path: "/tmp/accel", Reason: "owned by uid 0"}))
	assert.False(t, IsRetriable(nil))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"config", &ConfigError{Path: "/opt/accel", Reason: "not a directory"}, true},
		{"ownership", &OwnershipError{Path: "/tmp/accel", Reason: "symlink"}, true},
		{"rollback", &RollbackError{Reason: "no backup recorded"}, true},
		{"integrity", &IntegrityError{File: "f", Want: "a", Got: "b"}, false},
		{"process", &ProcessError{Pid: 42, Reason: "exited"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}
