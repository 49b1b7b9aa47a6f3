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

// Package platform abstracts the per-OS mechanics of managing the
// compile-proxy daemon: process discovery, detached spawning, signal
// delivery, work-directory ownership and package naming. The driver
// depends only on the Environment interface.
package platform

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"runtime"
	"strings"

	"golang.org/x/term"

	"github.com/cachebuild/accelctl/internal/config"
)

// DaemonBinaryBase is the compile-proxy executable name without the
// OS-specific extension.
const DaemonBinaryBase = "compile-proxy"

// DaemonProcess identifies a spawned daemon.
type DaemonProcess struct {
	Pid int
}

// Environment is the per-OS capability surface the driver operates
// against.
type Environment interface {
	// CheckConfig verifies the install directory and daemon binary exist.
	CheckConfig() error

	// DaemonRunning reports whether a compile-proxy owned by the caller
	// is in the process table.
	DaemonRunning() (bool, error)

	// ProcessRunning reports whether pid is still in the process table.
	ProcessRunning(pid int) (bool, error)

	// ExecDaemon spawns the daemon detached from the calling terminal.
	ExecDaemon() (*DaemonProcess, error)

	// StakeholderPids lists processes holding the control socket, the
	// lock file or the control port.
	StakeholderPids() ([]int32, error)

	// KillStakeholders signals every stakeholder; force escalates to the
	// uncatchable kill signal.
	KillStakeholders(force bool) error

	// EnsureDirectoryOwnedByUser reports whether dir belongs to the
	// calling user, tightening its permissions when it does.
	EnsureDirectoryOwnedByUser(dir string) (bool, error)

	// Username returns the acting user's name.
	Username() string

	// Platform returns the platform tag used in package names.
	Platform() string

	// PackageName returns the downloadable archive name for Platform.
	PackageName() string

	// ExtractPackage unpacks a downloaded archive into dest.
	ExtractPackage(pkg, dest string) error

	// InstallPackage overlays an extracted tree onto the live install
	// directory.
	InstallPackage(src string) error

	// DaemonVersion reports the on-disk daemon binary's version string.
	DaemonVersion() (string, error)
}

// New returns the Environment for the OS accelctl was built for.
func New(cfg *config.Config, logger *slog.Logger) Environment {
	return newEnvironment(cfg, logger)
}

// knownPlatforms are the package platform tags the release server
// publishes.
var knownPlatforms = []string{"linux", "mac", "win64"}

// DetectPlatform maps the runtime OS to a package platform tag, or
// returns empty when the OS has no published packages.
func DetectPlatform(goos string) string {
	switch goos {
	case "linux":
		return "linux"
	case "darwin":
		return "mac"
	case "windows":
		return "win64"
	}
	return ""
}

// PromptPlatform asks the user for a platform tag. It only prompts when
// in is an interactive terminal; otherwise it fails so unattended runs
// never hang on a read.
func PromptPlatform(in *os.File, out io.Writer) (string, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return "", fmt.Errorf("cannot determine platform for %s and stdin is not a terminal", runtime.GOOS)
	}
	return readPlatform(in, out)
}

func readPlatform(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprintf(out, "What is your platform? (%s): ", strings.Join(knownPlatforms, "/"))
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read platform answer: %w", err)
	}
	answer = strings.TrimSpace(answer)
	for _, p := range knownPlatforms {
		if answer == p {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", answer)
}

// PackageNameFor returns the archive name published for a platform tag.
// Windows packages are zip, everything else gzip tarballs.
func PackageNameFor(platform string) string {
	ext := ".tgz"
	if strings.HasPrefix(platform, "win") {
		ext = ".zip"
	}
	return "accel-" + platform + ext
}

// usernameFromEnv resolves the acting user from the conventional
// environment variables, preferring the sudo caller over root.
func usernameFromEnv() string {
	for _, key := range []string{"SUDO_USER", "USERNAME", "USER", "LOGNAME"} {
		if v := os.Getenv(key); v != "" && v != "root" {
			return v
		}
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
