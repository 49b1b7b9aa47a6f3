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
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/cachebuild/accelctl/internal/archive"
	"github.com/cachebuild/accelctl/internal/checksum"
	"github.com/cachebuild/accelctl/internal/crash"
	"github.com/cachebuild/accelctl/internal/log"
	"github.com/cachebuild/accelctl/internal/proxyrpc"
	"github.com/cachebuild/accelctl/pkg/errors"
)

// Status probes the daemon and returns a one-line description of its
// health.
func (d *Driver) Status(ctx context.Context) (string, error) {
	health, err := d.client.Healthz(ctx)
	if err != nil {
		return "", &errors.ProcessError{Reason: "daemon unreachable at " + d.client.URLPrefix(), Cause: err}
	}
	return fmt.Sprintf("%s %s", d.client.URLPrefix(), health), nil
}

// Healthy reports whether the daemon answers healthz with "ok".
func (d *Driver) Healthy(ctx context.Context) bool {
	health, err := d.client.Healthz(ctx)
	return err == nil && health == proxyrpc.HealthOK
}

// Audit verifies the live tree against its checksum file.
func (d *Driver) Audit() error {
	return checksum.Audit(d.cfg.Dir)
}

// Stat returns the daemon's statistics page.
func (d *Driver) Stat(ctx context.Context) (string, error) {
	return d.client.Control(ctx, proxyrpc.CmdStatz)
}

// Histogram returns the daemon's latency histogram page.
func (d *Driver) Histogram(ctx context.Context) (string, error) {
	return d.client.Control(ctx, proxyrpc.CmdHistogramz)
}

// JSONStatus returns the daemon's machine-readable status document.
func (d *Driver) JSONStatus(ctx context.Context) (string, error) {
	return d.client.Control(ctx, "jsonstatus")
}

// Flags returns the daemon's effective user-configured flags.
func (d *Driver) Flags(ctx context.Context) (map[string]string, error) {
	body, err := d.client.Control(ctx, proxyrpc.CmdFlagz)
	if err != nil {
		return nil, err
	}
	return proxyrpc.ParseFlagz(body), nil
}

// versionsDiffer compares two daemon version strings. When both carry a
// parseable version number the numbers decide, so cosmetic differences
// in the surrounding text (build host, date) do not force a restart.
// Otherwise the raw strings are compared.
func versionsDiffer(disk, running string) bool {
	dv := extractVersion(disk)
	rv := extractVersion(running)
	if dv != nil && rv != nil {
		return !dv.Equal(rv)
	}
	return disk != running
}

// extractVersion finds the first whitespace-separated token of s that
// parses as a version number.
func extractVersion(s string) *goversion.Version {
	for _, field := range strings.Fields(s) {
		if v, err := goversion.NewVersion(field); err == nil {
			return v
		}
	}
	return nil
}

// reportPages are the daemon pages bundled into a report archive.
var reportPages = []string{
	proxyrpc.CmdStatz,
	proxyrpc.CmdHistogramz,
	proxyrpc.CmdServerz,
	proxyrpc.CmdErrorz,
	proxyrpc.CmdFlagz,
	proxyrpc.CmdVersionz,
}

// Report gathers the daemon's diagnostic pages and recent logs into a
// tgz under the temp directory and returns its path. Pages the daemon
// does not answer are skipped; a report from a dead daemon still carries
// the logs.
func (d *Driver) Report(ctx context.Context) (string, error) {
	stamp := time.Now().Format("20060102-150405")
	workDir := filepath.Join(d.TmpDir(), "accel-report-"+stamp)
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	for _, page := range reportPages {
		body, err := d.client.Control(ctx, page)
		if err != nil {
			d.logger.Warn("page not collected", "page", page, log.Error(err))
			continue
		}
		name := filepath.Join(workDir, page+".txt")
		if err := os.WriteFile(name, []byte(body), 0o600); err != nil {
			return "", err
		}
	}

	d.collectLogs(workDir)

	out := filepath.Join(d.TmpDir(), "accel-report-"+stamp+".tgz")
	if err := archive.MakeTgz(workDir, out); err != nil {
		return "", fmt.Errorf("pack report: %w", err)
	}
	d.logger.Info("report written", "path", out)
	return out, nil
}

// collectLogs copies the daemon's log files from the temp directory into
// the report work dir. Best effort: unreadable logs are skipped.
func (d *Driver) collectLogs(workDir string) {
	entries, err := os.ReadDir(d.TmpDir())
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.TmpDir(), entry.Name()))
		if err != nil {
			continue
		}
		if err := os.WriteFile(filepath.Join(workDir, entry.Name()), data, 0o600); err != nil {
			return
		}
	}
}

// uploadCrashDumps pushes pending minidumps to the crash server and
// prunes what was uploaded or went stale. Failures never block a start.
func (d *Driver) uploadCrashDumps(ctx context.Context) {
	dumps, err := crash.Scan(d.CrashDir())
	if err != nil {
		d.logger.Warn("crash dump scan failed", log.Error(err))
		return
	}
	if len(dumps) == 0 {
		return
	}

	version := ""
	if v, err := d.env.DaemonVersion(); err == nil {
		version = v
	}

	for _, dump := range dumps {
		stale := crash.IsStale(dump, d.cfg.LogCleanInterval)
		uploaded := false
		if d.cfg.CrashServer != "" && !stale {
			report := crash.Report{
				Product:  crash.Product,
				Version:  version,
				GUID:     crash.GUID(d.env.Username(), d.cfg.SendUserInfo),
				DumpPath: dump,
			}
			id, err := crash.Upload(ctx, nil, d.cfg.CrashServer, report)
			if err != nil {
				d.logger.Warn("crash dump upload failed", "dump", dump, log.Error(err))
			} else {
				d.logger.Info("crash dump uploaded", "dump", dump, "report", id)
				uploaded = true
			}
		}
		if uploaded || stale {
			if err := os.Remove(dump); err != nil {
				d.logger.Warn("cannot remove crash dump", "dump", dump, log.Error(err))
			}
		}
	}
}
