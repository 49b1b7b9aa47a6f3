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

package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachebuild/accelctl/pkg/errors"
)

func digestOf(t *testing.T, data []byte) string {
	t.Helper()
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeTree(t *testing.T, dir string, files map[string][]byte, set Set) {
	t.Helper()
	for name, data := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	if set != nil {
		data, err := json.Marshal(set)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0o644))
	}
}

func TestAuditAllMatching(t *testing.T) {
	dir := t.TempDir()
	proxy := []byte("proxy binary contents")
	helper := []byte("helper contents")
	writeTree(t, dir, map[string][]byte{
		"compile-proxy": proxy,
		"bin/accelcc":   helper,
	}, Set{
		"compile-proxy": digestOf(t, proxy),
		"bin/accelcc":   digestOf(t, helper),
	})

	require.NoError(t, Audit(dir))
}

func TestAuditMismatchReportsBothDigests(t *testing.T) {
	dir := t.TempDir()
	data := []byte("actual contents")
	writeTree(t, dir, map[string][]byte{"compile-proxy": data}, Set{
		"compile-proxy": "0000000000000000000000000000000000000000000000000000000000000000",
	})

	err := Audit(dir)
	require.Error(t, err)

	var ie *errors.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "compile-proxy", ie.File)
	assert.Equal(t, "0000000000000000000000000000000000000000000000000000000000000000", ie.Want)
	assert.Equal(t, digestOf(t, data), ie.Got)
}

func TestAuditMissingManifestIsNoop(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string][]byte{"compile-proxy": []byte("x")}, nil)
	require.NoError(t, Audit(dir))
}

func TestAuditEmptySet(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, nil, Set{})
	require.NoError(t, Audit(dir))
}

func TestAuditSkipsDebugSymbolEntries(t *testing.T) {
	dir := t.TempDir()
	// .pdb entry has no backing file on disk; audit must not trip on it.
	writeTree(t, dir, map[string][]byte{"compile-proxy": []byte("x")}, Set{
		"compile-proxy":     digestOf(t, []byte("x")),
		"compile-proxy.pdb": "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
	})
	require.NoError(t, Audit(dir))
}

func TestAuditUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, nil, Set{"missing": digestOf(t, []byte("x"))})

	err := Audit(dir)
	var ie *errors.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "missing", ie.File)
}

func TestAuditDoesNotMutateTree(t *testing.T) {
	dir := t.TempDir()
	data := []byte("contents")
	writeTree(t, dir, map[string][]byte{"compile-proxy": data}, Set{
		"compile-proxy": digestOf(t, data),
	})

	before, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NoError(t, Audit(dir))
	after, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))

	got, err := os.ReadFile(filepath.Join(dir, "compile-proxy"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
