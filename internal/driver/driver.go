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

// Package driver orchestrates the compile-proxy daemon lifecycle:
// starting, stopping, health checking, pulling releases and applying
// updates with rollback. Commands construct one Driver per invocation;
// the control port is the only mutual-exclusion point between racing
// invocations.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cachebuild/accelctl/internal/backup"
	"github.com/cachebuild/accelctl/internal/config"
	"github.com/cachebuild/accelctl/internal/fetch"
	"github.com/cachebuild/accelctl/internal/log"
	"github.com/cachebuild/accelctl/internal/platform"
	"github.com/cachebuild/accelctl/internal/proxyrpc"
	"github.com/cachebuild/accelctl/pkg/errors"
)

const (
	// StagingDirName holds the pulled release before installation.
	StagingDirName = "latest"

	// ScratchDirName is where a package is extracted during an update.
	ScratchDirName = "update"

	// NoAutoUpdateFile disables the start-time update check when present
	// in the install directory.
	NoAutoUpdateFile = "no_auto_update"

	// portWaitBase is the fixed part of the port-readiness budget; the
	// configured ping timeout is added on top.
	portWaitBase = 20 * time.Second
)

// cooldownBound and cooldownInterval bound the wait for signalled
// processes to exit. Variables so tests can shorten the wait.
var (
	cooldownBound    = 10 * time.Second
	cooldownInterval = time.Second
)

// State is the driver's current lifecycle phase.
type State int

const (
	Idle State = iota
	Pulling
	Auditing
	Installing
	RollingBack
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pulling:
		return "pulling"
	case Auditing:
		return "auditing"
	case Installing:
		return "installing"
	case RollingBack:
		return "rolling-back"
	case Running:
		return "running"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Driver drives one daemon instance identified by the configured control
// port. Not safe for concurrent use; each CLI invocation builds its own.
type Driver struct {
	cfg     *config.Config
	env     platform.Environment
	client  *proxyrpc.Client
	fetcher *fetch.Fetcher
	backup  *backup.Manager
	logger  *slog.Logger
	state   State

	// updating suppresses the start-time update check while a restart
	// happens inside Update itself.
	updating bool
}

// Option adjusts a Driver at construction time.
type Option func(*Driver)

// WithControlClient replaces the control protocol client.
func WithControlClient(c *proxyrpc.Client) Option {
	return func(d *Driver) { d.client = c }
}

// WithFetcher replaces the release fetcher.
func WithFetcher(f *fetch.Fetcher) Option {
	return func(d *Driver) { d.fetcher = f }
}

// New creates a driver over the given environment.
func New(cfg *config.Config, env platform.Environment, logger *slog.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		cfg:     cfg,
		env:     env,
		client:  proxyrpc.New(cfg.Port),
		fetcher: &fetch.Fetcher{BaseURL: cfg.DownloadBaseURL},
		backup:  backup.NewManager(cfg.Dir, logger),
		logger:  logger.With(log.ComponentKey, "driver"),
		state:   Idle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current lifecycle phase.
func (d *Driver) State() State {
	return d.state
}

func (d *Driver) setState(s State) {
	if s == d.state {
		return
	}
	d.logger.Debug("state transition", log.StateKey, s.String(), "from", d.state.String())
	d.state = s
}

func (d *Driver) stagingDir() string {
	return filepath.Join(d.cfg.Dir, StagingDirName)
}

func (d *Driver) scratchDir() string {
	return filepath.Join(d.cfg.Dir, ScratchDirName)
}

func (d *Driver) stagedPackage() string {
	return filepath.Join(d.stagingDir(), d.env.PackageName())
}

// TmpDir is the working temp directory for spawn logs and reports.
func (d *Driver) TmpDir() string {
	if d.cfg.TmpDir != "" {
		return d.cfg.TmpDir
	}
	return platform.TempDir()
}

// CacheDir is the daemon's local cache directory.
func (d *Driver) CacheDir() string {
	if d.cfg.CacheDir != "" {
		return d.cfg.CacheDir
	}
	return filepath.Join(d.TmpDir(), "accel_cache")
}

// CrashDir is where the daemon writes minidumps.
func (d *Driver) CrashDir() string {
	return filepath.Join(d.TmpDir(), "accel_crash")
}

// provisionWorkDirs creates the daemon's work directories, refusing to
// proceed when an existing one is not owned by the caller.
func (d *Driver) provisionWorkDirs() error {
	for _, dir := range []string{d.TmpDir(), d.CacheDir(), d.CrashDir()} {
		if _, err := os.Lstat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create work directory %s: %w", dir, err)
			}
			continue
		}
		owned, err := d.env.EnsureDirectoryOwnedByUser(dir)
		if err != nil {
			return err
		}
		if !owned {
			return &errors.OwnershipError{Path: dir, Reason: "work directory is not owned by the calling user"}
		}
	}
	return nil
}

// Shutdown asks the daemon to exit. It does not wait: callers that need
// the port free use EnsureStopped. Asking when no daemon is running is a
// no-op, not an error.
func (d *Driver) Shutdown(ctx context.Context) error {
	if _, err := d.client.Control(ctx, proxyrpc.CmdQuit); err != nil {
		if running, rerr := d.env.DaemonRunning(); rerr == nil && !running {
			d.logger.Info("daemon already stopped", "url", d.client.URLPrefix())
			return nil
		}
		return err
	}
	d.logger.Info("shutdown requested", "url", d.client.URLPrefix())
	return nil
}

// WaitCooldown polls until no daemon instance remains, bounded by the
// cooldown budget. It reports whether everything stopped in time.
func (d *Driver) WaitCooldown(ctx context.Context) bool {
	deadline := time.Now().Add(cooldownBound)
	for {
		running, err := d.env.DaemonRunning()
		if err == nil && !running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(cooldownInterval):
		}
	}
}

// EnsureStopped requests shutdown and escalates until no stakeholder is
// left: graceful signal, cooldown, forced kill, cooldown.
func (d *Driver) EnsureStopped(ctx context.Context) error {
	if err := d.Shutdown(ctx); err != nil {
		d.logger.Debug("shutdown request not delivered", log.Error(err))
	}
	if d.WaitCooldown(ctx) {
		return nil
	}

	d.logger.Warn("daemon still running after shutdown request, signalling stakeholders")
	if err := d.env.KillStakeholders(false); err != nil {
		return err
	}
	if d.WaitCooldown(ctx) {
		return nil
	}

	d.logger.Warn("stakeholders survived graceful signal, force killing")
	if err := d.env.KillStakeholders(true); err != nil {
		return err
	}
	if d.WaitCooldown(ctx) {
		return nil
	}
	return &errors.ProcessError{Reason: "stakeholders did not exit after force kill"}
}

// StartDaemon brings the daemon up. In ensure mode a healthy running
// instance is left alone; an unhealthy, silently-updated or reconfigured
// one is restarted. Outside ensure mode a competing instance on the
// default control port is evicted first.
func (d *Driver) StartDaemon(ctx context.Context, ensure bool) error {
	if err := d.env.CheckConfig(); err != nil {
		return err
	}
	if err := d.provisionWorkDirs(); err != nil {
		return err
	}

	running, err := d.env.DaemonRunning()
	if err != nil {
		return err
	}

	if !ensure && running && !d.cfg.SocketNameSet {
		d.logger.Info("evicting existing daemon on the default control port")
		if err := d.EnsureStopped(ctx); err != nil {
			return err
		}
		running = false
	}

	if d.shouldAutoUpdate() {
		if err := d.Update(ctx); err != nil {
			if errors.IsFatal(err) {
				return err
			}
			d.logger.Warn("automatic update failed, starting current version", log.Error(err))
		}
		running, err = d.env.DaemonRunning()
		if err != nil {
			return err
		}
	}

	if ensure && running {
		restart, reason := d.needsRestart(ctx)
		if !restart {
			d.logger.Info("daemon already healthy", "url", d.client.URLPrefix())
			d.setState(Running)
			return nil
		}
		d.logger.Info("restarting daemon", "reason", reason)
		if err := d.EnsureStopped(ctx); err != nil {
			return err
		}
	} else if running {
		// Already evicted above unless an explicit socket name opted out
		// of the shared IPC identity.
		d.logger.Info("daemon already running with explicit socket name, leaving it alone")
		d.setState(Running)
		return nil
	}

	d.uploadCrashDumps(ctx)

	proc, err := d.env.ExecDaemon()
	if err != nil {
		return err
	}
	if err := d.waitForPort(ctx, proc); err != nil {
		return err
	}
	d.setState(Running)
	d.logger.Info("daemon serving", log.PidKey, proc.Pid, "url", d.client.URLPrefix())
	return nil
}

// needsRestart decides whether a running daemon must be bounced: control
// port unhealthy, binary silently replaced on disk, or configured flags
// drifted from what the daemon reports.
func (d *Driver) needsRestart(ctx context.Context) (bool, string) {
	health, err := d.client.Healthz(ctx)
	if err != nil || health != proxyrpc.HealthOK {
		return true, fmt.Sprintf("health %q", health)
	}

	diskVersion, err := d.env.DaemonVersion()
	if err == nil {
		runningVersion, verr := d.client.Control(ctx, proxyrpc.CmdVersionz)
		if verr == nil && versionsDiffer(diskVersion, trimFirstLine(runningVersion)) {
			return true, "binary updated on disk"
		}
	}

	body, err := d.client.Control(ctx, proxyrpc.CmdFlagz)
	if err == nil && d.cfg.FlagsChanged(proxyrpc.ParseFlagz(body)) {
		return true, "flags changed"
	}
	return false, ""
}

// waitForPort polls the control port with bounded attempts until the
// daemon answers. When the daemon is not self-detaching, the spawned pid
// disappearing before the port answers means it crashed on startup.
func (d *Driver) waitForPort(ctx context.Context, proc *platform.DaemonProcess) error {
	deadline := time.Now().Add(portWaitBase + d.cfg.PingTimeout)
	for {
		if d.client.Probe(ctx, time.Second) {
			return nil
		}
		if !d.cfg.DaemonMode {
			alive, err := d.env.ProcessRunning(proc.Pid)
			if err == nil && !alive {
				return &errors.ProcessError{Pid: proc.Pid, Reason: "daemon exited before answering the control port"}
			}
		}
		if time.Now().After(deadline) {
			return &errors.ProcessError{Pid: proc.Pid, Reason: "daemon did not answer the control port in time"}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// shouldAutoUpdate applies the start-time update gates: a configured
// release server, no opt-out marker, and a staging manifest older than
// the recency window.
func (d *Driver) shouldAutoUpdate() bool {
	if d.updating || d.cfg.DownloadBaseURL == "" {
		return false
	}
	if _, err := os.Stat(filepath.Join(d.cfg.Dir, NoAutoUpdateFile)); err == nil {
		d.logger.Info("auto-update disabled by marker file")
		return false
	}
	if d.stagingRecent() {
		d.logger.Debug("skipping update check, release pulled recently")
		return false
	}
	return true
}

func trimFirstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
