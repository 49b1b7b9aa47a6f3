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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cachebuild/accelctl/internal/commands/shared"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Verify the installed files against their checksums",
		Long: `Verify every file recorded in the install's checksum manifest.

An install without a checksum manifest passes; any digest mismatch or
unreadable file fails with a description of the first offender.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDriver()
			if err != nil {
				return err
			}
			if err := d.Audit(); err != nil {
				fmt.Println(shared.RenderError("install is corrupted"))
				return err
			}
			fmt.Println(shared.RenderOK("install verified"))
			return nil
		},
	}
}
