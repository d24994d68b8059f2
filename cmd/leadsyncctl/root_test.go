// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/api"
)

// recorder is a canned server that remembers the last request.
type recorder struct {
	mu     sync.Mutex
	method string
	path   string
	body   map[string]any

	status int
	resp   api.Response
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec.mu.Lock()
	rec.method = r.Method
	rec.path = r.URL.RequestURI()
	rec.body = nil
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
	}
	status, resp := rec.status, rec.resp
	rec.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (rec *recorder) last() (method, path string, body map[string]any) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.method, rec.path, rec.body
}

func runCLI(t *testing.T, rec *recorder, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"trigger"},
		{"gate", "status"},
		{"gate", "toggle"},
		{"job", "status"},
		{"job", "cancel"},
		{"job", "list"},
		{"job", "errors"},
		{"import", "start"},
		{"import", "resume"},
	} {
		sub, _, err := cmd.Find(path)
		if err != nil {
			t.Errorf("Find(%v) error = %v", path, err)
			continue
		}
		if sub.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %q", path, sub.Name())
		}
	}
}

func TestTrigger_Granted(t *testing.T) {
	rec := &recorder{
		status: http.StatusAccepted,
		resp: api.Response{Success: true, Message: "Sync started", Data: map[string]any{
			"granted": true,
			"message": "granted",
			"jobId":   "job-1",
		}},
	}
	out, err := runCLI(t, rec, "trigger", "--manual")
	if err != nil {
		t.Fatalf("trigger error = %v", err)
	}
	method, path, body := rec.last()
	if method != http.MethodPost || path != "/api/v1/sync/trigger" {
		t.Errorf("request = %s %s", method, path)
	}
	if body["manual"] != true {
		t.Errorf("body = %v, want manual=true", body)
	}
	if !strings.Contains(out, "granted: job job-1") {
		t.Errorf("output = %q", out)
	}
}

func TestTrigger_DeniedExitCode(t *testing.T) {
	rec := &recorder{
		resp: api.Response{Success: false, Message: "Sync not started", Data: map[string]any{
			"granted":    false,
			"denyReason": "not_yet_due",
			"message":    "next run in 7 minutes",
		}},
	}
	out, err := runCLI(t, rec, "trigger")
	if got := exitCode(err); got != ExitDenied {
		t.Fatalf("exitCode = %d, want %d (err=%v)", got, ExitDenied, err)
	}
	if _, _, body := rec.last(); body["manual"] != false {
		t.Errorf("body = %v, want manual=false", body)
	}
	if !strings.Contains(out, "denied: not_yet_due") || !strings.Contains(out, "7 minutes") {
		t.Errorf("output = %q", out)
	}
}

func TestGateToggle_SendsBody(t *testing.T) {
	rec := &recorder{
		resp: api.Response{Success: true, Message: "Schedule enabled", Data: map[string]any{
			"gate":     map[string]any{"enabled": true, "intervalMinutes": 30},
			"turnedOn": true,
		}},
	}
	out, err := runCLI(t, rec, "gate", "toggle", "--enabled", "--interval", "30")
	if err != nil {
		t.Fatalf("toggle error = %v", err)
	}
	method, path, body := rec.last()
	if method != http.MethodPut || path != "/api/v1/sync/gate" {
		t.Errorf("request = %s %s", method, path)
	}
	if body["enabled"] != true || body["intervalMinutes"] != float64(30) {
		t.Errorf("body = %v", body)
	}
	if !strings.Contains(out, "enabled=true interval=30m") {
		t.Errorf("output = %q", out)
	}
}

func TestGateToggle_DisableSendsFalse(t *testing.T) {
	rec := &recorder{resp: api.Response{Success: true, Message: "Schedule disabled"}}
	if _, err := runCLI(t, rec, "gate", "toggle", "--enabled=false"); err != nil {
		t.Fatalf("toggle error = %v", err)
	}
	_, _, body := rec.last()
	if v, ok := body["enabled"]; !ok || v != false {
		t.Errorf("body = %v, want explicit enabled=false", body)
	}
}

func TestGateStatus_Text(t *testing.T) {
	rec := &recorder{
		resp: api.Response{Success: true, Data: map[string]any{
			"enabled":          true,
			"intervalMinutes":  15,
			"runningFlag":      false,
			"status":           "idle",
			"remainingMinutes": 4,
		}},
	}
	out, err := runCLI(t, rec, "gate", "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	for _, want := range []string{"status:   idle", "interval: 15m", "next run: in 4m"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestJobStatus_NotFound(t *testing.T) {
	rec := &recorder{
		status: http.StatusNotFound,
		resp: api.Response{Success: false, Message: "Job not found",
			Error: &api.APIError{Code: api.CodeNotFound, Message: "Job not found"}},
	}
	_, err := runCLI(t, rec, "job", "status", "missing")
	var rerr *RequestError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *RequestError", err)
	}
	if rerr.Status != http.StatusNotFound || rerr.Code != api.CodeNotFound {
		t.Errorf("RequestError = %+v", rerr)
	}
	if _, path, _ := rec.last(); path != "/api/v1/jobs/missing" {
		t.Errorf("path = %q", path)
	}
	if exitCode(err) != ExitFailure {
		t.Errorf("exitCode = %d", exitCode(err))
	}
}

func TestJobCancel(t *testing.T) {
	rec := &recorder{
		resp: api.Response{Success: true, Message: "Cancellation requested", Data: map[string]any{
			"id": "job-9", "kind": "sync", "status": "cancelled", "total": 10, "cursor": 4,
		}},
	}
	out, err := runCLI(t, rec, "job", "cancel", "job-9")
	if err != nil {
		t.Fatalf("cancel error = %v", err)
	}
	if method, path, _ := rec.last(); method != http.MethodPost || path != "/api/v1/jobs/job-9/cancel" {
		t.Errorf("request = %s %s", method, path)
	}
	if !strings.Contains(out, "progress:  4/10") {
		t.Errorf("output = %q", out)
	}
}

func TestImportResume_StartIndex(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "leads.csv")
	csvData := "Email,Status\na@example.com,approved\nb@example.com,approved\n"
	if err := os.WriteFile(file, []byte(csvData), 0o600); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{
		status: http.StatusAccepted,
		resp:   api.Response{Success: true, Message: "Import resumed from row 1", Data: map[string]any{"jobId": "job-2", "mode": "inline"}},
	}

	if _, err := runCLI(t, rec, "import", "resume", "job-1", "--rows-file", file); err != nil {
		t.Fatalf("resume error = %v", err)
	}
	_, _, body := rec.last()
	if body["startIndex"] != nil {
		t.Errorf("startIndex sent without the flag: %v", body)
	}
	rows, _ := body["rows"].([]any)
	if len(rows) != 2 {
		t.Fatalf("rows = %v, want 2", body["rows"])
	}

	out, err := runCLI(t, rec, "import", "resume", "job-1", "--rows-file", file, "--start-index", "1")
	if err != nil {
		t.Fatalf("resume error = %v", err)
	}
	_, path, body := rec.last()
	if path != "/api/v1/imports/job-1/resume" {
		t.Errorf("path = %q", path)
	}
	if body["startIndex"] != float64(1) {
		t.Errorf("startIndex = %v, want 1", body["startIndex"])
	}
	if !strings.Contains(out, "job job-2 (inline)") {
		t.Errorf("output = %q", out)
	}
}

func TestImportResume_RequiresRowsFile(t *testing.T) {
	rec := &recorder{}
	if _, err := runCLI(t, rec, "import", "resume", "job-1"); err == nil {
		t.Fatal("expected missing --rows-file error")
	}
	if method, _, _ := rec.last(); method != "" {
		t.Error("no request should be sent")
	}
}

func TestParseCSV(t *testing.T) {
	in := "\ufeffEmail, Name ,Status\nA@Example.com,Ann,approved\nb@example.com,Bob\n"
	rows, err := parseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parseCSV error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0]["Email"] != "A@Example.com" || rows[0]["Name"] != "Ann" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if _, ok := rows[1]["Status"]; ok {
		t.Errorf("short row should omit missing columns: %v", rows[1])
	}

	if _, err := parseCSV(strings.NewReader("")); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestReadRows_JSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "leads.json")
	if err := os.WriteFile(file, []byte(`[{"email":"a@example.com"},{"email":"b@example.com"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	rows, err := readRows(file)
	if err != nil {
		t.Fatalf("readRows error = %v", err)
	}
	if len(rows) != 2 || rows[1]["email"] != "b@example.com" {
		t.Errorf("rows = %v", rows)
	}
}
