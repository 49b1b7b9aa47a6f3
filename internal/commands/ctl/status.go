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

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health",
		Long: `Probe the compile-proxy daemon's control port and report its health.

Exits non-zero when the daemon is unreachable or unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			d, err := newDriver()
			if err != nil {
				return err
			}
			status, err := d.Status(ctx)
			if err != nil {
				fmt.Println(shared.RenderError("compile-proxy is not reachable"))
				return err
			}
			if !d.Healthy(ctx) {
				fmt.Println(shared.RenderWarn("compile-proxy is unhealthy " + shared.Muted.Render(status)))
				return fmt.Errorf("daemon unhealthy: %s", status)
			}
			fmt.Println(shared.RenderOK("compile-proxy is healthy " + shared.Muted.Render(status)))
			return nil
		},
	}
}
