// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Command leadsyncctl is a command line client for the LeadSync HTTP API.
//
//	leadsyncctl trigger --manual
//	leadsyncctl gate toggle --enabled --interval 30
//	leadsyncctl gate status
//	leadsyncctl job status <id>
//	leadsyncctl job cancel <id>
//	leadsyncctl import resume <id> --rows-file leads.csv --start-index 1200
package main

import (
	"fmt"
	"os"
)

func main() {
	err := NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
