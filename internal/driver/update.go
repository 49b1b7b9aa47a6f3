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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cachebuild/accelctl/internal/archive"
	"github.com/cachebuild/accelctl/internal/checksum"
	"github.com/cachebuild/accelctl/internal/log"
	"github.com/cachebuild/accelctl/internal/manifest"
	"github.com/cachebuild/accelctl/internal/platform"
	"github.com/cachebuild/accelctl/pkg/errors"
)

// LatestVersion fetches the release server's manifest and returns the
// published version and bad-version list.
func (d *Driver) LatestVersion(ctx context.Context) (int, string, error) {
	if d.cfg.DownloadBaseURL == "" {
		return 0, "", &errors.ConfigError{Reason: "no download base URL configured"}
	}
	body, err := d.fetcher.Get(ctx, manifest.FileName)
	if err != nil {
		return 0, "", fmt.Errorf("fetch remote manifest: %w", err)
	}
	remote := manifest.Parse(string(body))
	version := remote.Version()
	if version == 0 {
		return 0, "", &errors.IntegrityError{File: manifest.FileName, Reason: "remote manifest carries no version"}
	}
	return version, remote.BadVersions(), nil
}

// FetchPackage downloads the published package for an arbitrary platform
// tag to dest, without touching the staging dir.
func (d *Driver) FetchPackage(ctx context.Context, platformTag, dest string) error {
	if d.cfg.DownloadBaseURL == "" {
		return &errors.ConfigError{Reason: "no download base URL configured"}
	}
	return d.fetcher.Download(ctx, platform.PackageNameFor(platformTag), dest)
}

// stagingRecent reports whether the staging manifest was refreshed within
// the recency window, which lets start-time update checks skip a round
// trip to the release server.
func (d *Driver) stagingRecent() bool {
	return manifest.ModifiedWithin(d.stagingDir(), d.cfg.UpdateRecency)
}

// stagedCurrent reports whether the staging dir already holds a valid
// copy of the given version: manifest matches and the package file still
// has a recognized archive signature.
func (d *Driver) stagedCurrent(version int) bool {
	staged, err := manifest.Read(d.stagingDir())
	if err != nil || staged.Version() != version {
		return false
	}
	return archive.HasValidMagic(d.stagedPackage())
}

// Pull downloads the published release into the staging dir. A staging
// dir already holding the published version is only touched to refresh
// its recency stamp.
func (d *Driver) Pull(ctx context.Context) error {
	d.setState(Pulling)
	defer d.setState(Idle)

	body, err := d.fetcher.Get(ctx, manifest.FileName)
	if err != nil {
		return fmt.Errorf("fetch remote manifest: %w", err)
	}
	remote := manifest.Parse(string(body))
	version := remote.Version()
	if version == 0 {
		return &errors.IntegrityError{File: manifest.FileName, Reason: "remote manifest carries no version"}
	}

	if d.stagedCurrent(version) {
		d.logger.Info("staged release is current", log.VersionKey, version)
		now := time.Now()
		return os.Chtimes(filepath.Join(d.stagingDir(), manifest.FileName), now, now)
	}

	if err := os.RemoveAll(d.stagingDir()); err != nil {
		return fmt.Errorf("clear staging dir: %w", err)
	}
	if err := os.MkdirAll(d.stagingDir(), 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	pkg := d.env.PackageName()
	d.logger.Info("downloading release", log.VersionKey, version, "package", pkg)
	if err := d.fetcher.Download(ctx, pkg, d.stagedPackage()); err != nil {
		return fmt.Errorf("download %s: %w", pkg, err)
	}

	remote[manifest.KeyPlatform] = d.env.Platform()
	if err := manifest.Write(remote, d.stagingDir()); err != nil {
		return fmt.Errorf("write staging manifest: %w", err)
	}
	return nil
}

// UpdatePackage installs the staged release into the live tree: extract
// to scratch, audit checksums, stop the daemon if needed, overlay, and
// persist the merged manifest. Callers wanting rollback protection go
// through Update.
func (d *Driver) UpdatePackage(ctx context.Context) error {
	staging := d.stagingDir()
	if !manifest.IsValid(staging) {
		// A broken staged manifest means a torn pull; drop it so the
		// next pull starts clean.
		if err := os.Remove(filepath.Join(staging, manifest.FileName)); err != nil && !os.IsNotExist(err) {
			return err
		}
		return &errors.IntegrityError{File: manifest.FileName, Reason: "staged manifest is invalid"}
	}
	staged, err := manifest.Read(staging)
	if err != nil {
		return err
	}

	scratch := d.scratchDir()
	if err := os.RemoveAll(scratch); err != nil {
		return fmt.Errorf("clear scratch dir: %w", err)
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	d.setState(Installing)
	defer d.setState(Idle)

	pkg := d.stagedPackage()
	if err := d.env.ExtractPackage(pkg, scratch); err != nil {
		// A package that cannot be extracted is corrupt; drop it so the
		// next pull downloads a fresh copy.
		os.Remove(pkg)
		return &errors.IntegrityError{File: pkg, Reason: "package extraction failed", Cause: err}
	}

	d.setState(Auditing)
	if err := checksum.Audit(scratch); err != nil {
		os.Remove(pkg)
		os.RemoveAll(scratch)
		return err
	}
	d.setState(Installing)

	running, err := d.env.DaemonRunning()
	if err != nil {
		return err
	}
	if running {
		if err := d.EnsureStopped(ctx); err != nil {
			return err
		}
	}

	if err := d.env.InstallPackage(scratch); err != nil {
		return fmt.Errorf("install package: %w", err)
	}

	live, err := manifest.Read(d.cfg.Dir)
	if err != nil {
		return err
	}
	if err := manifest.Write(live.Merge(staged), d.cfg.Dir); err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	d.logger.Info("release installed", log.VersionKey, staged.Version())

	return os.RemoveAll(scratch)
}

// RollbackUpdate restores the live tree from the pre-update backup.
func (d *Driver) RollbackUpdate() error {
	d.setState(RollingBack)
	defer d.setState(Idle)
	return d.backup.Rollback()
}

// Update is the full guarded update: version gate, pull, backup, install
// with rollback on failure. Whatever happens, a daemon that was running
// before the update and is not afterwards gets restarted.
func (d *Driver) Update(ctx context.Context) (err error) {
	d.updating = true
	defer func() { d.updating = false }()

	current, rerr := manifest.Read(d.cfg.Dir)
	if rerr != nil {
		return rerr
	}

	next, badVersions, lerr := d.LatestVersion(ctx)
	if lerr != nil {
		return lerr
	}
	if !manifest.ShouldUpdate(current.Version(), next, badVersions) {
		d.logger.Info("daemon is up to date", log.VersionKey, current.Version())
		return nil
	}

	wasRunning, rerr := d.env.DaemonRunning()
	if rerr != nil {
		return rerr
	}

	defer func() {
		if !wasRunning {
			return
		}
		running, derr := d.env.DaemonRunning()
		if derr != nil || running {
			return
		}
		if serr := d.StartDaemon(ctx, false); serr != nil {
			d.logger.Error("failed to restart daemon after update", log.Error(serr))
			if err == nil {
				err = serr
			}
		}
	}()

	if err := d.Pull(ctx); err != nil {
		return err
	}
	if err := d.backup.Backup(); err != nil {
		return fmt.Errorf("backup before update: %w", err)
	}

	if uerr := d.UpdatePackage(ctx); uerr != nil {
		d.logger.Error("update failed, rolling back", log.Error(uerr))
		if rberr := d.RollbackUpdate(); rberr != nil {
			d.logger.Error("rollback failed", log.Error(rberr))
		}
		return uerr
	}
	return nil
}
