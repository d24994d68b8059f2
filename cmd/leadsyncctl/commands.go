// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tomtom215/leadsync/internal/api"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/store"
)

func newTriggerCommand(root *RootOptions) *cobra.Command {
	var (
		manual bool
		kind   string
	)
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a sync run if the gate allows it",
		Long: `Start a sync run if the gate allows it.

Without --manual the request behaves like a scheduled tick and is refused
while the schedule is disabled or the interval has not elapsed. Exits with
status 3 when the gate denies the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := root.client().do(cmd.Context(), http.MethodPost, "/api/v1/sync/trigger",
				api.TriggerRequest{Manual: manual, Kind: kind})
			if err != nil {
				return err
			}
			var res api.TriggerResult
			if err := env.decode(&res); err != nil {
				return err
			}
			if root.JSON {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printDecision(cmd.OutOrStdout(), res)
			}
			if !res.Granted {
				return &ExitError{Code: ExitDenied, Message: "run denied: " + string(res.Reason)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&manual, "manual", false, "bypass the schedule (still refused while a run is active)")
	cmd.Flags().StringVar(&kind, "kind", "", "run kind: incremental or full")
	return cmd
}

func newGateCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect or toggle the sync schedule",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the gate document and its derived status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := root.client().do(cmd.Context(), http.MethodGet, "/api/v1/sync/gate", nil)
			if err != nil {
				return err
			}
			var rep gate.Report
			if err := env.decode(&rep); err != nil {
				return err
			}
			if root.JSON {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			printReport(cmd.OutOrStdout(), &rep)
			return nil
		},
	}

	var (
		enabled  bool
		interval int
	)
	toggle := &cobra.Command{
		Use:   "toggle",
		Short: "Enable or disable scheduled runs",
		Long: `Enable or disable scheduled runs.

Turning the schedule on makes the next tick eligible immediately.
--interval 0 keeps the current interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := root.client().do(cmd.Context(), http.MethodPut, "/api/v1/sync/gate",
				api.ToggleRequest{Enabled: &enabled, IntervalMinutes: interval})
			if err != nil {
				return err
			}
			var res api.ToggleResult
			if err := env.decode(&res); err != nil {
				return err
			}
			if root.JSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), env.Message)
			if res.Gate != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "enabled=%t interval=%dm\n", res.Gate.Enabled, res.Gate.IntervalMinutes)
			}
			return nil
		},
	}
	toggle.Flags().BoolVar(&enabled, "enabled", false, "schedule state to set")
	toggle.Flags().IntVar(&interval, "interval", 0, "interval in minutes")

	cmd.AddCommand(status, toggle)
	return cmd
}

func newJobCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and cancel jobs",
	}

	showJob := func(cmd *cobra.Command, method, path string) error {
		env, err := root.client().do(cmd.Context(), method, path, nil)
		if err != nil {
			return err
		}
		var job store.Job
		if err := env.decode(&job); err != nil {
			return err
		}
		if root.JSON {
			return printJSON(cmd.OutOrStdout(), job)
		}
		printJob(cmd.OutOrStdout(), &job)
		return nil
	}

	status := &cobra.Command{
		Use:   "status <id>",
		Short: "Show a job's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showJob(cmd, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(args[0]))
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Request cancellation of a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showJob(cmd, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(args[0])+"/cancel")
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := root.client().do(cmd.Context(), http.MethodGet, "/api/v1/jobs?limit="+strconv.Itoa(limit), nil)
			if err != nil {
				return err
			}
			var jobs []store.Job
			if err := env.decode(&jobs); err != nil {
				return err
			}
			if root.JSON {
				return printJSON(cmd.OutOrStdout(), jobs)
			}
			for i := range jobs {
				j := &jobs[i]
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %-10s %d/%d\n", j.ID, j.Kind, j.Status, j.Cursor, j.Total)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "number of jobs to list")

	errs := &cobra.Command{
		Use:   "errors <id>",
		Short: "Show a job's error sample and overflow list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := root.client().do(cmd.Context(), http.MethodGet, "/api/v1/jobs/"+url.PathEscape(args[0])+"/errors", nil)
			if err != nil {
				return err
			}
			var res api.JobErrors
			if err := env.decode(&res); err != nil {
				return err
			}
			if root.JSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			for _, s := range append(res.Samples, res.Overflow...) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", s.Identifier, s.Error)
			}
			return nil
		},
	}

	cmd.AddCommand(status, cancel, list, errs)
	return cmd
}

func newImportCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import exported lead files",
	}

	var (
		platform string
		mode     string
		labels   []string
	)
	start := &cobra.Command{
		Use:   "start <file>",
		Short: "Import a CSV or JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readRows(args[0])
			if err != nil {
				return err
			}
			env, err := root.client().do(cmd.Context(), http.MethodPost, "/api/v1/imports", api.ImportRequest{
				Platform: platform,
				Mode:     mode,
				Rows:     rows,
				Labels:   labels,
			})
			if err != nil {
				return err
			}
			return printImport(cmd, root, env)
		},
	}
	start.Flags().StringVar(&platform, "platform", "", "source platform of the export")
	start.Flags().StringVar(&mode, "mode", api.ImportModeInline, "inline or queue")
	start.Flags().StringSliceVar(&labels, "label", nil, "extra label attached to every row (repeatable)")
	_ = start.MarkFlagRequired("platform")

	var (
		rowsFile    string
		startIndex  int
		resumePlat  string
		resumeLabel []string
	)
	resume := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Continue an interrupted import over the same file",
		Long: `Continue an interrupted import over the same file.

The file must be the one originally imported, in the same order. Without
--start-index the import continues at the prior job's cursor.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readRows(rowsFile)
			if err != nil {
				return err
			}
			req := api.ResumeRequest{
				Platform: resumePlat,
				Rows:     rows,
				Labels:   resumeLabel,
			}
			if cmd.Flags().Changed("start-index") {
				req.StartIndex = &startIndex
			}
			env, err := root.client().do(cmd.Context(), http.MethodPost,
				"/api/v1/imports/"+url.PathEscape(args[0])+"/resume", req)
			if err != nil {
				return err
			}
			return printImport(cmd, root, env)
		},
	}
	resume.Flags().StringVar(&rowsFile, "rows-file", "", "CSV or JSON file holding the original rows")
	resume.Flags().IntVar(&startIndex, "start-index", 0, "row index to resume from (default: prior cursor)")
	resume.Flags().StringVar(&resumePlat, "platform", "", "platform override (default: prior job's platform)")
	resume.Flags().StringSliceVar(&resumeLabel, "label", nil, "extra label attached to every row (repeatable)")
	_ = resume.MarkFlagRequired("rows-file")

	cmd.AddCommand(start, resume)
	return cmd
}

func printImport(cmd *cobra.Command, root *RootOptions, env *envelope) error {
	var res api.ImportResult
	if err := env.decode(&res); err != nil {
		return err
	}
	if root.JSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), env.Message)
	fmt.Fprintf(cmd.OutOrStdout(), "job %s (%s), %d row(s) filtered\n", res.JobID, res.Mode, res.Filtered)
	if res.Job != nil {
		printJob(cmd.OutOrStdout(), res.Job)
	}
	return nil
}

func printDecision(w io.Writer, res api.TriggerResult) {
	if !res.Granted {
		fmt.Fprintf(w, "denied: %s\n", res.Reason)
		if res.Message != "" {
			fmt.Fprintln(w, res.Message)
		}
		return
	}
	fmt.Fprintf(w, "granted: job %s\n", res.JobID)
	if res.SelfHealed {
		fmt.Fprintln(w, "stale running flag was cleared")
	}
}

func printReport(w io.Writer, rep *gate.Report) {
	fmt.Fprintf(w, "status:   %s\n", rep.Status)
	fmt.Fprintf(w, "enabled:  %t\n", rep.Enabled)
	fmt.Fprintf(w, "interval: %dm\n", rep.IntervalMinutes)
	if rep.CurrentJobID != "" {
		fmt.Fprintf(w, "job:      %s\n", rep.CurrentJobID)
	}
	if rep.RemainingMinutes > 0 {
		fmt.Fprintf(w, "next run: in %dm\n", rep.RemainingMinutes)
	}
}

func printJob(w io.Writer, j *store.Job) {
	fmt.Fprintf(w, "id:        %s\n", j.ID)
	fmt.Fprintf(w, "kind:      %s\n", j.Kind)
	fmt.Fprintf(w, "status:    %s\n", j.Status)
	fmt.Fprintf(w, "progress:  %d/%d\n", j.Cursor, j.Total)
	fmt.Fprintf(w, "succeeded: %d  failed: %d  skipped: %d\n", j.Succeeded, j.Failed, j.Skipped)
	if j.LastMessage != "" {
		fmt.Fprintf(w, "message:   %s\n", j.LastMessage)
	}
}
