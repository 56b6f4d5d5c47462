// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command applyd runs the change-set apply engine.
//
// # Usage
//
//	# Serve the HTTP API
//	applyd serve --config applyd.yaml
//
//	# Apply a unified diff to a workspace directly
//	applyd apply changes.patch --workspace ./repo
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "applyd",
	Short: "Change-set apply engine for AI-proposed code edits",
	Long: `applyd turns natural-language change requests into verified,
transactional edits against a confined workspace. It serves an HTTP API
with streamed progress, and can also apply unified diffs directly from
the command line.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (default ~/.aleutian/applyd.yaml, created on first run)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyCmd)
}
