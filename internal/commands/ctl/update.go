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
	"github.com/cachebuild/accelctl/pkg/errors"
)

// NewUpdateCommand creates the update command.
func NewUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update the daemon to the published release",
		Long: `Check the release server and install a newer version.

The live install is backed up first and restored if the update fails.
A daemon that was running is restarted on the new version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), lifecycleTimeout)
			defer cancel()

			d, err := newDriver()
			if err != nil {
				return err
			}
			if err := d.Update(ctx); err != nil {
				if errors.IsRetriable(err) {
					fmt.Println(shared.RenderWarn("the downloaded package failed verification and was discarded; run update again"))
				}
				return err
			}
			fmt.Println(shared.RenderOK("compile-proxy is up to date"))
			return nil
		},
	}
}

// NewPullCommand creates the pull command.
func NewPullCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Download the published release without installing it",
		Long: `Download the published release into the staging directory.

Nothing is downloaded when the staging directory already holds the
published version with an intact package.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), lifecycleTimeout)
			defer cancel()

			d, err := newDriver()
			if err != nil {
				return err
			}
			if err := d.Pull(ctx); err != nil {
				return err
			}
			fmt.Println(shared.RenderOK("release staged"))
			return nil
		},
	}
}
