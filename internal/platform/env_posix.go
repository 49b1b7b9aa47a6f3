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

//go:build !windows

package platform

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/cachebuild/accelctl/internal/archive"
	"github.com/cachebuild/accelctl/internal/config"
	"github.com/cachebuild/accelctl/internal/log"
	"github.com/cachebuild/accelctl/pkg/errors"
)

// posixEnv manages the daemon on Linux and macOS.
type posixEnv struct {
	cfg      *config.Config
	logger   *slog.Logger
	platform string
}

func newEnvironment(cfg *config.Config, logger *slog.Logger) Environment {
	if logger == nil {
		logger = slog.Default()
	}
	return &posixEnv{
		cfg:      cfg,
		logger:   logger.With(log.ComponentKey, "platform"),
		platform: DetectPlatform(runtime.GOOS),
	}
}

// TempDir resolves the working temp directory from the conventional
// environment candidates.
func TempDir() string {
	for _, key := range []string{"TEST_TMPDIR", "TMPDIR", "TMP"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "/tmp"
}

func (e *posixEnv) tmpDir() string {
	if e.cfg.TmpDir != "" {
		return e.cfg.TmpDir
	}
	return TempDir()
}

func (e *posixEnv) daemonPath() string {
	if e.cfg.DaemonBinary != "" {
		return e.cfg.DaemonBinary
	}
	return filepath.Join(e.cfg.Dir, DaemonBinaryBase)
}

func (e *posixEnv) socketPath() string {
	return filepath.Join(e.tmpDir(), e.cfg.SocketName)
}

func (e *posixEnv) lockPath() string {
	return filepath.Join(e.tmpDir(), fmt.Sprintf("%s.%d", e.cfg.LockFilename, e.cfg.Port))
}

// CheckConfig verifies the install directory and an executable daemon
// binary exist.
func (e *posixEnv) CheckConfig() error {
	fi, err := os.Stat(e.cfg.Dir)
	if err != nil || !fi.IsDir() {
		return &errors.ConfigError{Path: e.cfg.Dir, Reason: "install directory does not exist"}
	}
	bin := e.daemonPath()
	fi, err = os.Stat(bin)
	if err != nil {
		return &errors.ConfigError{Path: bin, Reason: "daemon binary does not exist"}
	}
	if fi.Mode()&0o111 == 0 {
		return &errors.ConfigError{Path: bin, Reason: "daemon binary is not executable"}
	}
	return nil
}

// DaemonRunning scans the process table for a daemon image owned by the
// calling user. Root sees every instance.
func (e *posixEnv) DaemonRunning() (bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}
	euid := os.Geteuid()
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name != filepath.Base(e.daemonPath()) {
			continue
		}
		if euid == 0 || processOwnedBy(p, euid) {
			return true, nil
		}
	}
	return false, nil
}

// ProcessRunning reports whether pid is still in the process table.
func (e *posixEnv) ProcessRunning(pid int) (bool, error) {
	return process.PidExists(int32(pid))
}

func processOwnedBy(p *process.Process, uid int) bool {
	uids, err := p.Uids()
	if err != nil {
		return false
	}
	for _, u := range uids {
		if int(u) == uid {
			return true
		}
	}
	return false
}

// ExecDaemon spawns the daemon detached: own session and process group,
// stdin closed, output appended to a spawn log in the temp directory.
func (e *posixEnv) ExecDaemon() (*DaemonProcess, error) {
	logPath := filepath.Join(e.tmpDir(), DaemonBinaryBase+"-spawn.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open spawn log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(e.daemonPath())
	cmd.Dir = e.cfg.Dir
	cmd.Env = e.cfg.DaemonEnv()
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Setsid:  true,
	}

	if err := cmd.Start(); err != nil {
		return nil, &errors.ProcessError{Reason: "failed to start daemon", Cause: err}
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		e.logger.Warn("daemon started but release failed", log.PidKey, pid, log.Error(err))
	}
	e.logger.Info("daemon spawned", log.PidKey, pid, "binary", e.daemonPath())
	return &DaemonProcess{Pid: pid}, nil
}

// StakeholderPids lists the owners of the control socket, the lock file
// and the listening control port. A stakeholder under a foreign uid means
// another user's daemon holds our IPC identity; only root may touch it.
func (e *posixEnv) StakeholderPids() ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	socketPath := e.socketPath()
	lockPath := e.lockPath()
	port := uint32(e.cfg.Port)
	euid := os.Geteuid()

	var pids []int32
	for _, p := range procs {
		if !e.holdsResource(p, socketPath, lockPath, port) {
			continue
		}
		if euid != 0 && !processOwnedBy(p, euid) {
			return nil, &errors.OwnershipError{
				Path:   socketPath,
				Reason: fmt.Sprintf("pid %d holding the control endpoint belongs to another user", p.Pid),
			}
		}
		pids = append(pids, p.Pid)
	}
	return pids, nil
}

func (e *posixEnv) holdsResource(p *process.Process, socketPath, lockPath string, port uint32) bool {
	if files, err := p.OpenFiles(); err == nil {
		for _, f := range files {
			if f.Path == socketPath || f.Path == lockPath {
				return true
			}
		}
	}
	if conns, err := p.Connections(); err == nil {
		for _, c := range conns {
			if c.Status == "LISTEN" && c.Laddr.Port == port {
				return true
			}
		}
	}
	return false
}

// KillStakeholders signals every stakeholder, SIGTERM by default and
// SIGKILL when force is set. Processes that die between discovery and
// signalling are not an error.
func (e *posixEnv) KillStakeholders(force bool) error {
	pids, err := e.StakeholderPids()
	if err != nil {
		return err
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	for _, pid := range pids {
		e.logger.Info("signalling stakeholder", log.PidKey, int(pid), "signal", sig.String())
		if err := syscall.Kill(int(pid), sig); err != nil && err != syscall.ESRCH {
			return &errors.ProcessError{Pid: int(pid), Reason: "failed to signal stakeholder", Cause: err}
		}
	}
	return nil
}

// EnsureDirectoryOwnedByUser reports whether dir belongs to the calling
// user. Lstat keeps a symlinked directory from laundering a foreign
// target past the uid check. Owned directories are tightened to 0700; a
// failed chmod is reported as not-owned rather than an error.
func (e *posixEnv) EnsureDirectoryOwnedByUser(dir string) (bool, error) {
	fi, err := os.Lstat(dir)
	if err != nil {
		return false, fmt.Errorf("lstat %s: %w", dir, err)
	}
	if !fi.Mode().IsDir() {
		return false, nil
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("no stat info for %s", dir)
	}
	if int(st.Uid) != os.Geteuid() {
		return false, nil
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		e.logger.Warn("cannot tighten directory permissions", "dir", dir, log.Error(err))
		return false, nil
	}
	return true, nil
}

func (e *posixEnv) Username() string {
	return usernameFromEnv()
}

func (e *posixEnv) Platform() string {
	return e.platform
}

func (e *posixEnv) PackageName() string {
	return PackageNameFor(e.platform)
}

func (e *posixEnv) ExtractPackage(pkg, dest string) error {
	return archive.Extract(pkg, dest)
}

// InstallPackage overlays an extracted tree onto the live install
// directory. Live files are unlinked before the copy so a still-mapped
// executable never makes the overwrite fail.
func (e *posixEnv) InstallPackage(src string) error {
	return overlayTree(src, e.cfg.Dir)
}

// DaemonVersion runs the on-disk binary with --version and returns the
// first line of output.
func (e *posixEnv) DaemonVersion() (string, error) {
	out, err := exec.Command(e.daemonPath(), "--version").Output()
	if err != nil {
		return "", &errors.ProcessError{Reason: "daemon --version failed", Cause: err}
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}
