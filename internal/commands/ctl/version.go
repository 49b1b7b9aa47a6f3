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
)

// NewLatestVersionCommand creates the latest_version command.
func NewLatestVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "latest_version",
		Short: "Print the version published on the release server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			d, err := newDriver()
			if err != nil {
				return err
			}
			version, badVersions, err := d.LatestVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Println(version)
			if badVersions != "" {
				fmt.Printf("bad_version=%s\n", badVersions)
			}
			return nil
		},
	}
}
