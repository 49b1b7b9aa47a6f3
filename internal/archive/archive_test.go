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

package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTgz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)
	for name, contents := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o755,
			Size: int64(len(contents)),
		}))
		_, err := tw.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, out.Close())
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for name, contents := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}

func TestExtractTgz(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "accel-linux.tgz")
	writeTgz(t, pkg, map[string]string{
		"accel-linux/compile-proxy": "binary",
		"accel-linux/MANIFEST":      "VERSION=1\n",
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, Extract(pkg, dest))

	data, err := os.ReadFile(filepath.Join(dest, "accel-linux", "compile-proxy"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "accel-win64.zip")
	writeZip(t, pkg, map[string]string{"accel-win64/compile-proxy.exe": "binary"})

	dest := filepath.Join(dir, "out")
	require.NoError(t, Extract(pkg, dest))

	data, err := os.ReadFile(filepath.Join(dest, "accel-win64", "compile-proxy.exe"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "evil.tgz")
	writeTgz(t, pkg, map[string]string{"../escape": "x"})

	err := Extract(pkg, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")
}

func TestExtractUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "pkg.rar")
	require.NoError(t, os.WriteFile(pkg, []byte("x"), 0o644))
	require.Error(t, Extract(pkg, dir))
}

func TestHasValidMagic(t *testing.T) {
	dir := t.TempDir()

	tgz := filepath.Join(dir, "good.tgz")
	writeTgz(t, tgz, map[string]string{"f": "x"})
	assert.True(t, HasValidMagic(tgz))

	zipPath := filepath.Join(dir, "good.zip")
	writeZip(t, zipPath, map[string]string{"f": "x"})
	assert.True(t, HasValidMagic(zipPath))

	txz := filepath.Join(dir, "good.txz")
	require.NoError(t, os.WriteFile(txz, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00, 0x00}, 0o644))
	assert.True(t, HasValidMagic(txz))

	corrupt := filepath.Join(dir, "bad.tgz")
	require.NoError(t, os.WriteFile(corrupt, []byte("HTML error page"), 0o644))
	assert.False(t, HasValidMagic(corrupt))

	truncated := filepath.Join(dir, "short.txz")
	require.NoError(t, os.WriteFile(truncated, []byte{0xFD}, 0o644))
	assert.False(t, HasValidMagic(truncated))

	assert.False(t, HasValidMagic(filepath.Join(dir, "absent.tgz")))

	// Unknown extensions pass the probe when the file exists.
	other := filepath.Join(dir, "NOTES")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	assert.True(t, HasValidMagic(other))
	assert.False(t, HasValidMagic(filepath.Join(dir, "ABSENT")))
}

func TestMakeTgzRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "logs", "proxy.log"), []byte("line\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "statz-output"), []byte("stats"), 0o644))

	out := filepath.Join(t.TempDir(), "report.tgz")
	require.NoError(t, MakeTgz(src, out))
	assert.True(t, HasValidMagic(out))

	dest := t.TempDir()
	require.NoError(t, Extract(out, dest))
	data, err := os.ReadFile(filepath.Join(dest, "logs", "proxy.log"))
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}
