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

//go:build windows

package platform

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/cachebuild/accelctl/internal/archive"
	"github.com/cachebuild/accelctl/internal/config"
	"github.com/cachebuild/accelctl/internal/log"
	"github.com/cachebuild/accelctl/pkg/errors"
)

// windowsEnv manages the daemon on Windows. There is no control socket;
// the control port and the lock file are the only IPC identities.
type windowsEnv struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newEnvironment(cfg *config.Config, logger *slog.Logger) Environment {
	if logger == nil {
		logger = slog.Default()
	}
	return &windowsEnv{cfg: cfg, logger: logger.With(log.ComponentKey, "platform")}
}

// TempDir resolves the working temp directory from the conventional
// environment candidates.
func TempDir() string {
	for _, key := range []string{"TEST_TMPDIR", "TMP", "TEMP"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return os.TempDir()
}

func (e *windowsEnv) tmpDir() string {
	if e.cfg.TmpDir != "" {
		return e.cfg.TmpDir
	}
	return TempDir()
}

func (e *windowsEnv) daemonPath() string {
	if e.cfg.DaemonBinary != "" {
		return e.cfg.DaemonBinary
	}
	return filepath.Join(e.cfg.Dir, DaemonBinaryBase+".exe")
}

func (e *windowsEnv) CheckConfig() error {
	fi, err := os.Stat(e.cfg.Dir)
	if err != nil || !fi.IsDir() {
		return &errors.ConfigError{Path: e.cfg.Dir, Reason: "install directory does not exist"}
	}
	if _, err := os.Stat(e.daemonPath()); err != nil {
		return &errors.ConfigError{Path: e.daemonPath(), Reason: "daemon binary does not exist"}
	}
	return nil
}

func (e *windowsEnv) DaemonRunning() (bool, error) {
	pids, err := e.daemonPids()
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

// ProcessRunning reports whether pid is still in the process table.
func (e *windowsEnv) ProcessRunning(pid int) (bool, error) {
	return process.PidExists(int32(pid))
}

func (e *windowsEnv) daemonPids() ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	image := filepath.Base(e.daemonPath())
	var pids []int32
	for _, p := range procs {
		name, err := p.Name()
		if err == nil && strings.EqualFold(name, image) {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

func (e *windowsEnv) ExecDaemon() (*DaemonProcess, error) {
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

// StakeholderPids lists daemon images plus the listener on the control
// port.
func (e *windowsEnv) StakeholderPids() ([]int32, error) {
	pids, err := e.daemonPids()
	if err != nil {
		return nil, err
	}
	seen := map[int32]bool{}
	for _, pid := range pids {
		seen[pid] = true
	}

	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	port := uint32(e.cfg.Port)
	for _, p := range procs {
		if seen[p.Pid] {
			continue
		}
		conns, err := p.Connections()
		if err != nil {
			continue
		}
		for _, c := range conns {
			if c.Status == "LISTEN" && c.Laddr.Port == port {
				pids = append(pids, p.Pid)
				break
			}
		}
	}
	return pids, nil
}

// KillStakeholders terminates every stakeholder. Windows has no graceful
// signal, so force and default behave identically.
func (e *windowsEnv) KillStakeholders(force bool) error {
	pids, err := e.StakeholderPids()
	if err != nil {
		return err
	}
	for _, pid := range pids {
		p, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		e.logger.Info("terminating stakeholder", log.PidKey, int(pid))
		if err := p.Kill(); err != nil {
			return &errors.ProcessError{Pid: int(pid), Reason: "failed to terminate stakeholder", Cause: err}
		}
	}
	return nil
}

// EnsureDirectoryOwnedByUser always reports owned. ACL-based ownership
// checks are not implemented on Windows.
func (e *windowsEnv) EnsureDirectoryOwnedByUser(dir string) (bool, error) {
	if _, err := os.Lstat(dir); err != nil {
		return false, fmt.Errorf("lstat %s: %w", dir, err)
	}
	return true, nil
}

func (e *windowsEnv) Username() string {
	return usernameFromEnv()
}

func (e *windowsEnv) Platform() string {
	return "win64"
}

func (e *windowsEnv) PackageName() string {
	return PackageNameFor("win64")
}

func (e *windowsEnv) ExtractPackage(pkg, dest string) error {
	return archive.Extract(pkg, dest)
}

func (e *windowsEnv) InstallPackage(src string) error {
	return overlayTree(src, e.cfg.Dir)
}

func (e *windowsEnv) DaemonVersion() (string, error) {
	out, err := exec.Command(e.daemonPath(), "--version").Output()
	if err != nil {
		return "", &errors.ProcessError{Reason: "daemon --version failed", Cause: err}
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}
