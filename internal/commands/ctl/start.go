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

// NewStartCommand creates the start command.
func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the compile-proxy daemon",
		Long: `Start the compile-proxy daemon in the background.

An instance already holding the default control port is shut down first.
Unless auto-update is disabled, the release server is checked and a newer
version installed before starting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), false)
		},
	}
}

// NewEnsureStartCommand creates the ensure_start command.
func NewEnsureStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure_start",
		Short: "Start the daemon only if it is not already healthy",
		Long: `Start the compile-proxy daemon if needed.

A running instance is left alone when it is healthy, runs the binary
currently on disk, and was configured with the same flags. Otherwise it
is restarted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), true)
		},
	}
}

func runStart(ctx context.Context, ensure bool) error {
	ctx, cancel := context.WithTimeout(ctx, lifecycleTimeout)
	defer cancel()

	d, err := newDriver()
	if err != nil {
		return err
	}
	if err := d.StartDaemon(ctx, ensure); err != nil {
		return err
	}

	status, err := d.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Println(shared.RenderOK("compile-proxy running " + shared.Muted.Render(status)))
	return nil
}
