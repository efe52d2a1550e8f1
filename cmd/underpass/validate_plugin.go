// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/hotosm/underpass-go/pkg/validation"
)

// runValidatePlugin loads a validation plugin .so and reports whether it
// satisfies the Plugin ABI, without starting the daemon. Per SPEC_FULL.md
// §2.3, this does not touch underpass.yaml.
func runValidatePlugin(args []string, globals GlobalFlags) error {
	if len(args) != 1 {
		return fmt.Errorf("validate-plugin: expected exactly one argument, the plugin path")
	}
	path := args[0]

	_, err := validation.LoadPlugin(path)

	if globals.JSON {
		result := struct {
			Path  string `json:"path"`
			Valid bool   `json:"valid"`
			Error string `json:"error,omitempty"`
		}{Path: path, Valid: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	useColor := !globals.NoColor && isatty.IsTerminal(os.Stdout.Fd())
	if err != nil {
		msg := fmt.Sprintf("FAIL %s: %v", path, err)
		if useColor {
			msg = color.New(color.FgRed, color.Bold).Sprint(msg)
		}
		fmt.Println(msg)
		return err
	}

	msg := fmt.Sprintf("OK   %s satisfies the validation.Plugin ABI", path)
	if useColor {
		msg = color.New(color.FgGreen, color.Bold).Sprint(msg)
	}
	fmt.Println(msg)
	return nil
}
