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

import "fmt"

// ConfigError represents a broken installation or environment: missing
// binaries, missing directories, unusable settings. Fatal; nothing should
// touch daemon state after one of these.
type ConfigError struct {
	// Path is the file or directory that failed the check, if any.
	Path string

	// Reason explains what is wrong.
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// IntegrityError represents a checksum mismatch or a corrupted package.
// Retriable: the caller should discard the offending package and pull again.
type IntegrityError struct {
	// File is the relative path of the file that failed verification.
	File string

	// Want is the digest declared by the checksum manifest.
	Want string

	// Got is the digest computed from the file on disk.
	Got string

	// Reason is used when the failure is not a digest mismatch
	// (e.g. the package failed to extract).
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	if e.Want != "" || e.Got != "" {
		return fmt.Sprintf("integrity error: %s differs: %s != %s", e.File, e.Want, e.Got)
	}
	if e.File != "" {
		return fmt.Sprintf("integrity error: %s: %s", e.File, e.Reason)
	}
	return fmt.Sprintf("integrity error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *IntegrityError) Unwrap() error {
	return e.Cause
}

// OwnershipError represents an untrusted path or process: a work directory
// owned by somebody else, or a stakeholder process running under a foreign
// uid. Fatal and never auto-resolved; requires operator action.
type OwnershipError struct {
	// Path is the directory or resource with the ownership problem.
	Path string

	// Reason explains why it is untrusted.
	Reason string
}

// Error implements the error interface.
func (e *OwnershipError) Error() string {
	return fmt.Sprintf("ownership error: %s: %s", e.Path, e.Reason)
}

// ProcessError represents an unreachable or unexpectedly dead daemon.
// Triggers one escalation (diagnostic probe plus force-kill) and is then
// fatal.
type ProcessError struct {
	// Pid is the process the error refers to, 0 when unknown.
	Pid int

	// Reason explains what went wrong.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	if e.Pid != 0 {
		return fmt.Sprintf("process error: pid=%d: %s", e.Pid, e.Reason)
	}
	return fmt.Sprintf("process error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// RollbackError represents manager misuse or an unrecoverable rollback:
// rollback invoked without a prior backup, or an irreconcilable path type
// mismatch between backup and live tree. Fatal.
type RollbackError struct {
	// From is the backup path involved, if any.
	From string

	// To is the live path involved, if any.
	To string

	// Reason explains the failure.
	Reason string
}

// Error implements the error interface.
func (e *RollbackError) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("rollback error: cannot restore %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("rollback error: %s", e.Reason)
}
