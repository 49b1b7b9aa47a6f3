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

// NewRestartCommand creates the restart command.
func NewRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop and start the daemon",
		Args:  cobra.NoArgs,
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
			if err := d.StartDaemon(ctx, false); err != nil {
				return err
			}
			status, err := d.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Println(shared.RenderOK("compile-proxy restarted " + shared.Muted.Render(status)))
			return nil
		},
	}
}
