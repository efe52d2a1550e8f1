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

// Package main implements the underpass CLI: the replication daemon's
// entrypoint plus a handful of operational subcommands.
//
// Usage:
//
//	underpass run                      Start both replication drivers and the status server
//	underpass status [--json]          Print current cursor per frequency
//	underpass config [--json]          Print the resolved, validated configuration
//	underpass validate-plugin <path>   Load a validation plugin and report whether it satisfies the ABI
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// version is set via -ldflags at build time.
var version = "dev"

// GlobalFlags holds the flags that apply regardless of subcommand.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	NoColor    bool
	Quiet      bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "underpass.yaml", "Path to underpass.yaml")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress progress output")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `underpass - OSM replication daemon

Usage:
  underpass <command> [options]

Commands:
  run               Start both replication drivers and the status server
  status            Print current cursor per frequency
  config            Print the resolved, validated configuration
  validate-plugin   Load a validation plugin and report whether it satisfies the ABI

Global Options:
  -c, --config      Path to underpass.yaml (default "underpass.yaml")
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -q, --quiet       Suppress progress output
  -V, --version     Show version and exit
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("underpass version %s\n", version)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		ConfigPath: *configPath,
		JSON:       *jsonOutput,
		NoColor:    *noColor,
		Quiet:      *quiet,
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	var err error
	switch command {
	case "run":
		err = runRun(cmdArgs, globals)
	case "status":
		err = runStatus(cmdArgs, globals)
	case "config":
		err = runConfigCmd(cmdArgs, globals)
	case "validate-plugin":
		err = runValidatePlugin(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "underpass: %v\n", err)
		os.Exit(1)
	}
}
