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

// Package ctl implements the accelctl subcommands. Every command builds
// a fresh driver; the daemon's control port is the only coordination
// between concurrent invocations.
package ctl

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cachebuild/accelctl/internal/commands/shared"
	"github.com/cachebuild/accelctl/internal/config"
	"github.com/cachebuild/accelctl/internal/driver"
	"github.com/cachebuild/accelctl/internal/log"
	"github.com/cachebuild/accelctl/internal/platform"
)

const (
	// queryTimeout bounds commands that only talk to a running daemon.
	queryTimeout = 30 * time.Second

	// lifecycleTimeout bounds commands that may download a release and
	// wait for the daemon to come up.
	lifecycleTimeout = 10 * time.Minute
)

// newDriver wires a driver for one command invocation.
func newDriver() (*driver.Driver, error) {
	dir, err := shared.InstallDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	logger := log.New(log.FromEnv())
	env := platform.New(cfg, logger)
	return driver.New(cfg, env, logger), nil
}

// NewCommands returns every accelctl subcommand.
func NewCommands() []*cobra.Command {
	return []*cobra.Command{
		NewStartCommand(),
		NewEnsureStartCommand(),
		NewStopCommand(),
		NewEnsureStopCommand(),
		NewRestartCommand(),
		NewStatusCommand(),
		NewAuditCommand(),
		NewUpdateCommand(),
		NewPullCommand(),
		NewStatCommand(),
		NewHistogramCommand(),
		NewJSONStatusCommand(),
		NewShowflagsCommand(),
		NewLatestVersionCommand(),
		NewFetchCommand(),
		NewReportCommand(),
	}
}
