// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
	// ExitDenied means the gate refused a trigger.
	ExitDenied = 3
)

// DefaultServerURL is used when neither --server nor LEADSYNC_URL is set.
const DefaultServerURL = "http://127.0.0.1:8080"

// RootOptions holds the global flags.
type RootOptions struct {
	Server  string
	Timeout time.Duration
	JSON    bool
}

func (o *RootOptions) client() *Client {
	return NewClient(o.Server, o.Timeout)
}

// ExitError carries an exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// exitCode maps an error returned by Execute to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// NewRootCommand creates the leadsyncctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	server := os.Getenv("LEADSYNC_URL")
	if server == "" {
		server = DefaultServerURL
	}

	cmd := &cobra.Command{
		Use:           "leadsyncctl",
		Short:         "Control a LeadSync server",
		Long:          "Trigger syncs, toggle the schedule, inspect jobs and resume imports on a running LeadSync server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", server, "LeadSync base URL (env LEADSYNC_URL)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "HTTP request timeout")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print the response payload as JSON")

	cmd.AddCommand(newTriggerCommand(opts))
	cmd.AddCommand(newGateCommand(opts))
	cmd.AddCommand(newJobCommand(opts))
	cmd.AddCommand(newImportCommand(opts))

	return cmd
}

// printJSON writes v indented.
func printJSON(w io.Writer, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}
