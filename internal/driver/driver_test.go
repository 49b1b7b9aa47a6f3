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

package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachebuild/accelctl/internal/archive"
	"github.com/cachebuild/accelctl/internal/checksum"
	"github.com/cachebuild/accelctl/internal/config"
	"github.com/cachebuild/accelctl/internal/manifest"
	"github.com/cachebuild/accelctl/internal/platform"
	"github.com/cachebuild/accelctl/internal/proxyrpc"
	"github.com/cachebuild/accelctl/pkg/errors"
)

// fakeEnv is an in-memory Environment. The daemon is a boolean; spawn
// and kill flip it.
type fakeEnv struct {
	dir        string
	running    bool
	checkErr   error
	execErr    error
	execCalls  int
	killCalls  []bool
	notOwned   map[string]bool
	version    string
	versionErr error
	pid        int

	// spawnDies simulates a daemon that exits right after spawn, before
	// the control port ever answers.
	spawnDies bool
}

func (f *fakeEnv) CheckConfig() error           { return f.checkErr }
func (f *fakeEnv) DaemonRunning() (bool, error) { return f.running, nil }

func (f *fakeEnv) ProcessRunning(pid int) (bool, error) {
	return !f.spawnDies, nil
}

func (f *fakeEnv) StakeholderPids() ([]int32, error) {
	if f.running {
		return []int32{int32(f.pid)}, nil
	}
	return nil, nil
}

func (f *fakeEnv) ExecDaemon() (*platform.DaemonProcess, error) {
	f.execCalls++
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.running = !f.spawnDies
	return &platform.DaemonProcess{Pid: f.pid}, nil
}

func (f *fakeEnv) KillStakeholders(force bool) error {
	f.killCalls = append(f.killCalls, force)
	f.running = false
	return nil
}

func (f *fakeEnv) EnsureDirectoryOwnedByUser(dir string) (bool, error) {
	return !f.notOwned[dir], nil
}

func (f *fakeEnv) Username() string    { return "tester" }
func (f *fakeEnv) Platform() string    { return "linux" }
func (f *fakeEnv) PackageName() string { return "accel-linux.tgz" }

func (f *fakeEnv) ExtractPackage(pkg, dest string) error {
	return archive.Extract(pkg, dest)
}

func (f *fakeEnv) InstallPackage(src string) error {
	return copyTreeInto(src, f.dir)
}

func (f *fakeEnv) DaemonVersion() (string, error) {
	return f.version, f.versionErr
}

func copyTreeInto(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyTreeInto(from, to); err != nil {
				return err
			}
			continue
		}
		data, err := os.ReadFile(from)
		if err != nil {
			return err
		}
		if err := os.WriteFile(to, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// controlServer serves the daemon control pages on loopback and tells
// the fake env to stop on quitquitquit.
func controlServer(t *testing.T, env *fakeEnv, pages map[string]string) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cmd := strings.TrimPrefix(r.URL.Path, "/")
		if cmd == proxyrpc.CmdQuit {
			env.running = false
			fmt.Fprint(w, "quitting")
			return
		}
		if body, ok := pages[cmd]; ok {
			fmt.Fprint(w, body)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

// releasePackage builds a valid tgz carrying a daemon binary and its
// checksum file, returning the archive bytes.
func releasePackage(t *testing.T, binaryContent string) []byte {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "compile-proxy"), []byte(binaryContent), 0o755))

	digest, err := checksum.FileDigest(filepath.Join(src, "compile-proxy"))
	require.NoError(t, err)
	sums, err := json.Marshal(map[string]string{"compile-proxy": digest})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src, checksum.FileName), sums, 0o644))

	out := filepath.Join(t.TempDir(), "accel-linux.tgz")
	require.NoError(t, archive.MakeTgz(src, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	return data
}

// releaseServer publishes a MANIFEST and a package.
func releaseServer(t *testing.T, manifestBody string, pkg []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + manifest.FileName:
			fmt.Fprint(w, manifestBody)
		case "/accel-linux.tgz":
			w.Write(pkg)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDriver(t *testing.T, env *fakeEnv, opts ...Option) *Driver {
	t.Helper()
	cfg, err := config.Load(env.dir)
	require.NoError(t, err)
	return New(cfg, env, nil, opts...)
}

func TestPullStagesRelease(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	pkg := releasePackage(t, "proxy v68")
	srv := releaseServer(t, "VERSION=68\nbad_version=66\n", pkg)
	t.Setenv("ACCEL_DOWNLOAD_BASE_URL", srv.URL)

	env := &fakeEnv{dir: dir, pid: 1234}
	d := newTestDriver(t, env)

	require.NoError(t, d.Pull(context.Background()))

	staged, err := manifest.Read(d.stagingDir())
	require.NoError(t, err)
	assert.Equal(t, 68, staged.Version())
	assert.Equal(t, "66", staged.BadVersions())
	assert.Equal(t, "linux", staged.Platform())
	assert.True(t, archive.HasValidMagic(d.stagedPackage()))
	assert.Equal(t, Idle, d.State())
}

func TestPullSkipsWhenStagedCurrent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	pkg := releasePackage(t, "proxy v68")
	srv := releaseServer(t, "VERSION=68\n", pkg)
	t.Setenv("ACCEL_DOWNLOAD_BASE_URL", srv.URL)

	env := &fakeEnv{dir: dir, pid: 1234}
	d := newTestDriver(t, env)

	require.NoError(t, d.Pull(context.Background()))
	first, err := os.Stat(d.stagedPackage())
	require.NoError(t, err)

	// Corrupt nothing; the second pull must leave the package alone and
	// only refresh the manifest stamp.
	require.NoError(t, d.Pull(context.Background()))
	second, err := os.Stat(d.stagedPackage())
	require.NoError(t, err)
	assert.True(t, first.ModTime().Equal(second.ModTime()), "package must not be re-downloaded")
	assert.True(t, d.stagingRecent())
}

func TestUpdatePackageInvalidStagedManifest(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	env := &fakeEnv{dir: dir, pid: 1234}
	d := newTestDriver(t, env)

	// A manifest without PLATFORM is a torn pull.
	require.NoError(t, os.MkdirAll(d.stagingDir(), 0o755))
	require.NoError(t, manifest.Write(manifest.Manifest{"VERSION": "68"}, d.stagingDir()))

	err := d.UpdatePackage(context.Background())
	var ierr *errors.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.NoFileExists(t, filepath.Join(d.stagingDir(), manifest.FileName))
}

func TestUpdatePackageAuditFailure(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	env := &fakeEnv{dir: dir, pid: 1234}
	d := newTestDriver(t, env)

	// Package whose checksum file does not match its payload.
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "compile-proxy"), []byte("payload"), 0o755))
	sums, err := json.Marshal(map[string]string{"compile-proxy": strings.Repeat("0", 64)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src, checksum.FileName), sums, 0o644))
	require.NoError(t, os.MkdirAll(d.stagingDir(), 0o755))
	require.NoError(t, archive.MakeTgz(src, d.stagedPackage()))
	require.NoError(t, manifest.Write(manifest.Manifest{"VERSION": "68", "PLATFORM": "linux"}, d.stagingDir()))

	err = d.UpdatePackage(context.Background())
	var ierr *errors.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.NoFileExists(t, d.stagedPackage(), "corrupt package must be dropped")
	assert.NoDirExists(t, d.scratchDir())
}

func TestUpdateInstallsAndRestarts(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compile-proxy"), []byte("proxy v67"), 0o755))
	require.NoError(t, manifest.Write(manifest.Manifest{"VERSION": "67", "PLATFORM": "linux"}, dir))

	pkg := releasePackage(t, "proxy v68")
	srv := releaseServer(t, "VERSION=68\n", pkg)
	t.Setenv("ACCEL_DOWNLOAD_BASE_URL", srv.URL)

	env := &fakeEnv{dir: dir, pid: 1234, running: true, version: "proxy v68"}
	port := controlServer(t, env, map[string]string{proxyrpc.CmdHealthz: "ok"})
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", strconv.Itoa(port))

	d := newTestDriver(t, env)
	require.NoError(t, d.Update(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "compile-proxy"))
	require.NoError(t, err)
	assert.Equal(t, "proxy v68", string(data))

	live, err := manifest.Read(dir)
	require.NoError(t, err)
	assert.Equal(t, 68, live.Version())

	// The daemon was running before the update, so it must be respawned.
	assert.Equal(t, 1, env.execCalls)
	assert.True(t, env.running)
	assert.NoDirExists(t, d.scratchDir())
}

func TestUpdateSkipsWhenCurrent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	require.NoError(t, manifest.Write(manifest.Manifest{"VERSION": "68", "PLATFORM": "linux"}, dir))

	srv := releaseServer(t, "VERSION=68\n", nil)
	t.Setenv("ACCEL_DOWNLOAD_BASE_URL", srv.URL)

	env := &fakeEnv{dir: dir, pid: 1234}
	d := newTestDriver(t, env)

	require.NoError(t, d.Update(context.Background()))
	assert.NoDirExists(t, d.stagingDir(), "no download when already current")
}

func TestUpdateRollsBackOnFailure(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compile-proxy"), []byte("proxy v67"), 0o755))
	require.NoError(t, manifest.Write(manifest.Manifest{"VERSION": "67", "PLATFORM": "linux"}, dir))

	// Published package fails its checksum audit.
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "compile-proxy"), []byte("proxy v68"), 0o755))
	sums, err := json.Marshal(map[string]string{"compile-proxy": strings.Repeat("0", 64)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src, checksum.FileName), sums, 0o644))
	out := filepath.Join(t.TempDir(), "pkg.tgz")
	require.NoError(t, archive.MakeTgz(src, out))
	pkg, err := os.ReadFile(out)
	require.NoError(t, err)

	srv := releaseServer(t, "VERSION=68\n", pkg)
	t.Setenv("ACCEL_DOWNLOAD_BASE_URL", srv.URL)

	env := &fakeEnv{dir: dir, pid: 1234}
	d := newTestDriver(t, env)

	err = d.Update(context.Background())
	var ierr *errors.IntegrityError
	require.ErrorAs(t, err, &ierr)

	// The live tree survives the failed update.
	data, err := os.ReadFile(filepath.Join(dir, "compile-proxy"))
	require.NoError(t, err)
	assert.Equal(t, "proxy v67", string(data))
	live, err := manifest.Read(dir)
	require.NoError(t, err)
	assert.Equal(t, 67, live.Version())
}

func TestStartDaemonSpawnsAndWaits(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	env := &fakeEnv{dir: dir, pid: 1234}
	port := controlServer(t, env, map[string]string{proxyrpc.CmdHealthz: "ok"})
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", strconv.Itoa(port))

	d := newTestDriver(t, env)
	require.NoError(t, d.StartDaemon(context.Background(), false))
	assert.Equal(t, 1, env.execCalls)
	assert.Equal(t, Running, d.State())
}

func TestStartDaemonEnsureHealthyIsNoop(t *testing.T) {
	dir := t.TempDir()
	tmp := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", tmp)

	env := &fakeEnv{dir: dir, pid: 1234, running: true, version: "proxy v68"}
	pages := map[string]string{
		proxyrpc.CmdHealthz:  "ok",
		proxyrpc.CmdVersionz: "proxy v68\n",
	}
	port := controlServer(t, env, pages)
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", strconv.Itoa(port))

	d := newTestDriver(t, env)

	// The flagz page must echo exactly what this invocation configured,
	// port included, so it can only be built once the driver exists.
	flagz := ""
	for key, value := range d.cfg.Flags() {
		flagz += key + "=" + value + "\n"
	}
	pages[proxyrpc.CmdFlagz] = flagz
	require.NoError(t, d.StartDaemon(context.Background(), true))
	assert.Zero(t, env.execCalls, "healthy daemon must not be respawned")
	assert.Equal(t, Running, d.State())
}

func TestStartDaemonEnsureRestartsUnhealthy(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())

	env := &fakeEnv{dir: dir, pid: 1234, running: true}
	port := controlServer(t, env, map[string]string{proxyrpc.CmdHealthz: "error: compiler_proxy"})
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", strconv.Itoa(port))

	d := newTestDriver(t, env)

	// The control server keeps answering, so the restart completes even
	// though healthz never goes green before the bounce.
	require.NoError(t, d.StartDaemon(context.Background(), true))
	assert.Equal(t, 1, env.execCalls)
}

func TestStartDaemonEnsureRestartsOnFlagDiff(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())

	env := &fakeEnv{dir: dir, pid: 1234, running: true, version: "proxy v68"}
	port := controlServer(t, env, map[string]string{
		proxyrpc.CmdHealthz:  "ok",
		proxyrpc.CmdVersionz: "proxy v68\n",
		proxyrpc.CmdFlagz:    "ACCEL_UNEXPECTED=1\n",
	})
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", strconv.Itoa(port))

	d := newTestDriver(t, env)
	require.NoError(t, d.StartDaemon(context.Background(), true))
	assert.Equal(t, 1, env.execCalls)
}

func TestStartDaemonDetectsEarlyExit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", "1") // nothing listens here

	env := &fakeEnv{dir: dir, pid: 1234, spawnDies: true}
	d := newTestDriver(t, env)

	// The spawned pid vanishing before the port answers must fail fast
	// instead of burning the whole port-readiness wait.
	err := d.StartDaemon(context.Background(), false)
	var perr *errors.ProcessError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1234, perr.Pid)
	assert.Contains(t, perr.Reason, "exited")
}

func TestShutdownOfStoppedDaemon(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", "1") // nothing listens here

	env := &fakeEnv{dir: dir, pid: 1234}
	d := newTestDriver(t, env)

	// Stopping a daemon that is already gone achieved its goal.
	require.NoError(t, d.Shutdown(context.Background()))

	// A daemon that is alive but not answering its control port is a
	// real failure.
	env.running = true
	assert.Error(t, d.Shutdown(context.Background()))
}

func TestStartDaemonFatalConfig(t *testing.T) {
	dir := t.TempDir()
	env := &fakeEnv{dir: dir, pid: 1234, checkErr: &errors.ConfigError{Reason: "broken"}}
	d := newTestDriver(t, env)
	err := d.StartDaemon(context.Background(), false)
	var cerr *errors.ConfigError
	assert.ErrorAs(t, err, &cerr)
	assert.Zero(t, env.execCalls)
}

func TestProvisionWorkDirsOwnership(t *testing.T) {
	dir := t.TempDir()
	tmp := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", tmp)

	env := &fakeEnv{dir: dir, pid: 1234, notOwned: map[string]bool{tmp: true}}
	d := newTestDriver(t, env)

	err := d.provisionWorkDirs()
	var oerr *errors.OwnershipError
	require.ErrorAs(t, err, &oerr)
}

func TestShouldAutoUpdateMarkerFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	t.Setenv("ACCEL_DOWNLOAD_BASE_URL", "https://releases.example.com")

	env := &fakeEnv{dir: dir, pid: 1234}
	d := newTestDriver(t, env)
	assert.True(t, d.shouldAutoUpdate())

	require.NoError(t, os.WriteFile(filepath.Join(dir, NoAutoUpdateFile), nil, 0o644))
	assert.False(t, d.shouldAutoUpdate())
}

func TestEnsureStoppedEscalates(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())

	origBound, origInterval := cooldownBound, cooldownInterval
	cooldownBound, cooldownInterval = 200*time.Millisecond, 20*time.Millisecond
	t.Cleanup(func() { cooldownBound, cooldownInterval = origBound, origInterval })

	// No control server: the quit request fails, forcing the signal path.
	env := &fakeEnv{dir: dir, pid: 1234, running: true}
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", "1") // nothing listens here

	d := newTestDriver(t, env)
	require.NoError(t, d.EnsureStopped(context.Background()))
	require.NotEmpty(t, env.killCalls)
	assert.False(t, env.killCalls[0], "first signal must be graceful")
	assert.False(t, env.running)
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	env := &fakeEnv{dir: dir, pid: 1234, running: true}
	port := controlServer(t, env, map[string]string{proxyrpc.CmdHealthz: "ok"})
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", strconv.Itoa(port))

	d := newTestDriver(t, env)
	status, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Contains(t, status, "ok")
	assert.True(t, d.Healthy(context.Background()))
}

func TestStatusUnreachable(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", t.TempDir())
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", "1")

	env := &fakeEnv{dir: dir, pid: 1234}
	d := newTestDriver(t, env)
	_, err := d.Status(context.Background())
	var perr *errors.ProcessError
	assert.ErrorAs(t, err, &perr)
}

func TestVersionsDiffer(t *testing.T) {
	tests := []struct {
		disk    string
		running string
		want    bool
	}{
		{"compile-proxy 68.1.0", "compile-proxy 68.1.0", false},
		// Padding and surrounding text are cosmetic.
		{"compile-proxy 68.1", "compile-proxy 68.1.0 (rebuilt)", false},
		{"compile-proxy 68.2.0", "compile-proxy 68.1.0", true},
		// Without version numbers only exact matches count.
		{"build abc", "build abc", false},
		{"build abc", "build def", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, versionsDiffer(tt.disk, tt.running), "%s vs %s", tt.disk, tt.running)
	}
}

func TestReportBundlesPagesAndLogs(t *testing.T) {
	dir := t.TempDir()
	tmp := t.TempDir()
	t.Setenv("ACCEL_TMP_DIR", tmp)
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "compile-proxy-spawn.log"), []byte("spawn log"), 0o600))

	env := &fakeEnv{dir: dir, pid: 1234, running: true}
	port := controlServer(t, env, map[string]string{
		proxyrpc.CmdStatz: "requests: 42",
	})
	t.Setenv("ACCEL_COMPILER_PROXY_PORT", strconv.Itoa(port))

	d := newTestDriver(t, env)
	out, err := d.Report(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, out)
	assert.True(t, strings.HasSuffix(out, ".tgz"))

	extracted := t.TempDir()
	require.NoError(t, archive.Extract(out, extracted))
	data, err := os.ReadFile(filepath.Join(extracted, proxyrpc.CmdStatz+".txt"))
	require.NoError(t, err)
	assert.Equal(t, "requests: 42", string(data))
	assert.FileExists(t, filepath.Join(extracted, "compile-proxy-spawn.log"))
}
