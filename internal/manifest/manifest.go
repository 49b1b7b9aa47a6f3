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

// Package manifest reads and writes the MANIFEST descriptor that
// accompanies a live install or a staged package, and holds the pure
// version-decision rules for updates.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FileName is the descriptor file name inside an install or staging tree.
const FileName = "MANIFEST"

// Well-known manifest keys.
const (
	KeyVersion    = "VERSION"
	KeyPlatform   = "PLATFORM"
	KeyBadVersion = "bad_version"
)

// Manifest is the parsed KEY=VALUE descriptor. Values are opaque strings;
// VERSION is interpreted as an integer where ordering matters.
type Manifest map[string]string

// Parse parses manifest contents. Lines are split on the first '=';
// lines without '=' are ignored; keys and values are trimmed; empty
// values are legal.
func Parse(contents string) Manifest {
	m := Manifest{}
	for _, line := range strings.Split(contents, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		m[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return m
}

// Read loads the manifest from dir. A missing file yields an empty
// manifest and no error, matching fresh-install behavior.
func Read(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(string(data)), nil
}

// Write serializes the manifest deterministically (sorted keys) into dir.
// An existing file has its permissions forced to 0644 before overwrite so
// a stray mode from a previous install cannot make the rewrite fail.
func Write(m Manifest, dir string) error {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		if err := os.Chmod(path, 0o644); err != nil {
			return fmt.Errorf("chmod manifest: %w", err)
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(m[k])
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// IsValid reports whether dir contains a manifest carrying both PLATFORM
// and VERSION.
func IsValid(dir string) bool {
	m, err := Read(dir)
	if err != nil {
		return false
	}
	_, hasPlatform := m[KeyPlatform]
	_, hasVersion := m[KeyVersion]
	return hasPlatform && hasVersion
}

// ModifiedWithin reports whether dir's manifest was modified within the
// given window. A missing manifest is never recent.
func ModifiedWithin(dir string, window time.Duration) bool {
	fi, err := os.Stat(filepath.Join(dir, FileName))
	if err != nil {
		return false
	}
	return time.Since(fi.ModTime()) < window
}

// Version returns the integer VERSION, or 0 when absent or malformed.
func (m Manifest) Version() int {
	v, err := strconv.Atoi(m[KeyVersion])
	if err != nil {
		return 0
	}
	return v
}

// BadVersions returns the raw '|'-delimited denylist.
func (m Manifest) BadVersions() string {
	return m[KeyBadVersion]
}

// Platform returns the PLATFORM value.
func (m Manifest) Platform() string {
	return m[KeyPlatform]
}

// Merge overlays other onto m, returning m for chaining.
func (m Manifest) Merge(other Manifest) Manifest {
	for k, v := range other {
		m[k] = v
	}
	return m
}
