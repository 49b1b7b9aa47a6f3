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

package ctl

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cachebuild/accelctl/internal/commands/shared"
)

// NewStopCommand creates the stop command.
func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the daemon to shut down",
		Long: `Send a shutdown request to the compile-proxy daemon.

The command returns as soon as the request is delivered; it does not wait
for the daemon to exit. Use ensure_stop to wait and escalate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			d, err := newDriver()
			if err != nil {
				return err
			}
			if err := d.Shutdown(ctx); err != nil {
				return fmt.Errorf("daemon did not accept shutdown request: %w", err)
			}
			fmt.Println(shared.RenderOK("shutdown requested"))
			return nil
		},
	}
}

// NewEnsureStopCommand creates the ensure_stop command.
func NewEnsureStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure_stop",
		Short: "Stop the daemon and wait until it is gone",
		Long: `Stop the compile-proxy daemon and every process holding its control
socket, lock file or port. Escalates from a shutdown request to signals
when the daemon does not exit within the cooldown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), lifecycleTimeout)
			defer cancel()

			d, err := newDriver()
			if err != nil {
				return err
			}
			if err := d.EnsureStopped(ctx); err != nil {
				return err
			}
			fmt.Println(shared.RenderOK("compile-proxy stopped"))
			return nil
		},
	}
}
