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

// Package checksum verifies an install tree against its declared digest
// manifest (sha256.json).
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cachebuild/accelctl/pkg/errors"
)

// FileName is the digest manifest file inside an install tree.
const FileName = "sha256.json"

// skippedExtensions lists entries in the digest manifest that are known to
// be absent or irrelevant on disk (debug symbol files shipped in the
// manifest but not in the package).
var skippedExtensions = map[string]bool{
	".pdb": true,
}

// Set maps relative file names to lowercase hex sha256 digests.
type Set map[string]string

// Load reads the digest manifest from dir. A missing file yields an empty
// set and no error: older packages ship without digests and audit is then
// a backward-compatible no-op.
func Load(dir string) (Set, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return Set{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checksum manifest: %w", err)
	}
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse checksum manifest: %w", err)
	}
	return s, nil
}

// FileDigest computes the lowercase hex sha256 digest of a file.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Audit verifies every non-skipped entry of dir's digest manifest against
// the file contents under dir. It fails on the first mismatch with an
// IntegrityError reporting both digests. An empty or missing manifest
// verifies trivially.
func Audit(dir string) error {
	set, err := Load(dir)
	if err != nil {
		return err
	}
	return set.Verify(dir)
}

// Verify checks the set against files under dir.
func (s Set) Verify(dir string) error {
	for name, want := range s {
		if skippedExtensions[filepath.Ext(name)] {
			continue
		}
		got, err := FileDigest(filepath.Join(dir, name))
		if err != nil {
			return &errors.IntegrityError{File: name, Reason: "unreadable", Cause: err}
		}
		if got != want {
			return &errors.IntegrityError{File: name, Want: want, Got: got}
		}
	}
	return nil
}
