// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type emptySource struct{}

func (emptySource) Count(context.Context, *time.Time) (int64, error) { return 0, nil }
func (emptySource) FetchPage(context.Context, int, int, *time.Time) ([]adapter.SourceRecord, error) {
	return nil, nil
}

type memDest struct {
	mu       sync.Mutex
	contacts map[string]int
	invalid  map[string]bool
}

func (d *memDest) Upsert(_ context.Context, rec adapter.SourceRecord) (adapter.Upserted, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.invalid[rec.Email] {
		return adapter.Upserted{}, &adapter.HTTPError{Op: "create contact", StatusCode: http.StatusUnprocessableEntity}
	}
	d.contacts[rec.Email]++
	return adapter.Upserted{ID: "c-" + rec.Email, Result: adapter.Created}, nil
}

func (d *memDest) EnsureReference(_ context.Context, label string) (string, error) {
	return "t-" + strings.ToLower(label), nil
}

func (d *memDest) ListReferences(context.Context) ([]adapter.Reference, error) { return nil, nil }

func (d *memDest) AttachReferences(context.Context, string, []string) error { return nil }

type fakeQueue struct {
	jobs store.JobStore
	got  []engine.ImportOptions
}

func (q *fakeQueue) Dispatch(ctx context.Context, opts engine.ImportOptions) (*store.Job, error) {
	q.got = append(q.got, opts)
	job := &store.Job{ID: "queued-1", Kind: store.KindCSVImport, Status: store.StatusRunning, Total: int64(len(opts.Rows))}
	if err := q.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

type testEnv struct {
	srv    *httptest.Server
	engine *engine.Engine
	mem    *store.MemoryStore
	dest   *memDest
	queue  *fakeQueue
	hub    *websocket.Hub
}

type envOptions struct {
	noSource bool
	mw       *ChiMiddlewareConfig
}

func newEnv(t *testing.T, opt envOptions) *testEnv {
	t.Helper()
	clk := clock.NewMock(t0)
	mem := store.NewMemoryStore(clk)
	g := gate.New(mem, clk, gate.DefaultConfig())
	dest := &memDest{contacts: map[string]int{}, invalid: map[string]bool{}}

	var src adapter.Source = emptySource{}
	if opt.noSource {
		src = nil
	}
	cfg := engine.DefaultConfig()
	cfg.InterCallDelay = 0

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.RunWithContext(ctx) }()

	var seq int
	var seqMu sync.Mutex
	e := engine.New(mem, g, src, dest, cfg,
		engine.WithClock(clk),
		engine.WithProgress(hub),
		engine.WithIDGenerator(func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("job-%d", seq)
		}),
	)
	q := &fakeQueue{jobs: mem}

	mw := opt.mw
	if mw == nil {
		mw = DefaultChiMiddlewareConfig()
		mw.RateLimitDisabled = true
	}
	router := NewRouter(Dependencies{Engine: e, Gate: g, Jobs: mem, Queue: q, Hub: hub}, mw)
	srv := httptest.NewServer(router.SetupChi())
	t.Cleanup(func() {
		srv.Close()
		e.Wait()
		cancel()
	})
	return &testEnv{srv: srv, engine: e, mem: mem, dest: dest, queue: q, hub: hub}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, env.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out envelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func hotmartRows(emails ...string) []map[string]string {
	rows := make([]map[string]string, 0, len(emails))
	for i, e := range emails {
		rows = append(rows, map[string]string{
			"Email do Comprador": e,
			"Transação":          fmt.Sprintf("HP%d", i),
			"Status":             "Aprovado",
			"Produto":            "Curso X",
		})
	}
	return rows
}

func TestHealth(t *testing.T) {
	env := newEnv(t, envOptions{})
	status, resp := env.do(t, http.MethodGet, "/health", nil)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d resp = %+v", status, resp)
	}
	var h HealthResponse
	decodeData(t, resp, &h)
	if h.Status != "healthy" {
		t.Errorf("health = %+v", h)
	}
}

func TestSyncTrigger_ManualGranted(t *testing.T) {
	env := newEnv(t, envOptions{})

	status, resp := env.do(t, http.MethodPost, "/api/v1/sync/trigger", map[string]interface{}{"manual": true})
	if status != http.StatusAccepted || !resp.Success {
		t.Fatalf("status = %d resp = %+v", status, resp)
	}
	var res TriggerResult
	decodeData(t, resp, &res)
	if !res.Granted || res.JobID == "" {
		t.Fatalf("result = %+v", res)
	}

	env.engine.Wait()
	status, resp = env.do(t, http.MethodGet, "/api/v1/jobs/"+res.JobID, nil)
	if status != http.StatusOK {
		t.Fatalf("get job status = %d", status)
	}
	var job store.Job
	decodeData(t, resp, &job)
	if job.Status != store.StatusCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
}

func TestSyncTrigger_EmptyBodyIsNonManual(t *testing.T) {
	env := newEnv(t, envOptions{})
	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/v1/sync/trigger", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out envelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || out.Success {
		t.Fatalf("status = %d resp = %+v, want denied", resp.StatusCode, out)
	}
}

func TestSyncTick_DeniedWhenDisabled(t *testing.T) {
	env := newEnv(t, envOptions{})
	status, resp := env.do(t, http.MethodPost, "/api/v1/sync/tick", nil)
	if status != http.StatusOK || resp.Success {
		t.Fatalf("status = %d resp = %+v", status, resp)
	}
	var res TriggerResult
	decodeData(t, resp, &res)
	if res.Granted || res.Reason != gate.ReasonDisabled || res.JobID != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestSyncTrigger_InvalidKind(t *testing.T) {
	env := newEnv(t, envOptions{})
	status, resp := env.do(t, http.MethodPost, "/api/v1/sync/trigger", map[string]interface{}{"manual": true, "kind": "csv-import"})
	if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != CodeValidation {
		t.Fatalf("status = %d resp = %+v", status, resp)
	}
}

func TestSyncTrigger_NotConfiguredReleasesGate(t *testing.T) {
	env := newEnv(t, envOptions{noSource: true})
	status, resp := env.do(t, http.MethodPost, "/api/v1/sync/trigger", map[string]interface{}{"manual": true})
	if status != http.StatusServiceUnavailable || resp.Error.Code != CodeNotConfigured {
		t.Fatalf("status = %d resp = %+v", status, resp)
	}
	g, err := env.mem.GetGate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if g.Running {
		t.Error("gate left running after a configuration error")
	}
}

func TestGateToggle(t *testing.T) {
	env := newEnv(t, envOptions{})

	status, resp := env.do(t, http.MethodPut, "/api/v1/sync/gate", map[string]interface{}{"intervalMinutes": 15})
	if status != http.StatusBadRequest || resp.Error.Code != CodeValidation {
		t.Fatalf("missing enabled: status = %d resp = %+v", status, resp)
	}

	status, resp = env.do(t, http.MethodPut, "/api/v1/sync/gate", map[string]interface{}{"enabled": true, "intervalMinutes": 30})
	if status != http.StatusOK {
		t.Fatalf("status = %d resp = %+v", status, resp)
	}
	var res ToggleResult
	decodeData(t, resp, &res)
	if !res.TurnedOn || !res.Gate.Enabled || res.Gate.IntervalMinutes != 30 {
		t.Errorf("toggle = %+v gate = %+v", res, res.Gate)
	}
	env.engine.Wait()

	status, resp = env.do(t, http.MethodPut, "/api/v1/sync/gate", map[string]interface{}{"enabled": true, "intervalMinutes": 45})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	decodeData(t, resp, &res)
	if res.TurnedOn {
		t.Error("enabled to enabled reported as turned on")
	}

	status, resp = env.do(t, http.MethodGet, "/api/v1/sync/gate", nil)
	if status != http.StatusOK {
		t.Fatalf("gate status = %d", status)
	}
	var report gate.Report
	decodeData(t, resp, &report)
	if !report.Enabled || report.IntervalMinutes != 45 || report.Running {
		t.Errorf("report = %+v", report)
	}
}

func TestJobs_NotFoundAndConflict(t *testing.T) {
	env := newEnv(t, envOptions{})
	ctx := context.Background()

	status, resp := env.do(t, http.MethodGet, "/api/v1/jobs/missing", nil)
	if status != http.StatusNotFound || resp.Error.Code != CodeNotFound {
		t.Fatalf("status = %d resp = %+v", status, resp)
	}

	if err := env.mem.CreateJob(ctx, &store.Job{ID: "done", Kind: store.KindFull, Status: store.StatusCompleted, CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	status, resp = env.do(t, http.MethodPost, "/api/v1/jobs/done/cancel", nil)
	if status != http.StatusConflict || resp.Error.Code != CodeConflict {
		t.Fatalf("cancel completed: status = %d resp = %+v", status, resp)
	}

	if err := env.mem.CreateJob(ctx, &store.Job{ID: "live", Kind: store.KindFull, Status: store.StatusRunning, CreatedAt: t0.Add(time.Second)}); err != nil {
		t.Fatal(err)
	}
	status, resp = env.do(t, http.MethodPost, "/api/v1/jobs/live/cancel", nil)
	if status != http.StatusOK {
		t.Fatalf("cancel running: status = %d resp = %+v", status, resp)
	}
	var job store.Job
	decodeData(t, resp, &job)
	if job.Status != store.StatusCancelled {
		t.Errorf("status = %s", job.Status)
	}
}

func TestJobList(t *testing.T) {
	env := newEnv(t, envOptions{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := env.mem.CreateJob(ctx, &store.Job{ID: fmt.Sprintf("j%d", i), Kind: store.KindFull, Status: store.StatusCompleted, CreatedAt: t0.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}

	status, resp := env.do(t, http.MethodGet, "/api/v1/jobs?limit=2", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var jobs []store.Job
	decodeData(t, resp, &jobs)
	if len(jobs) != 2 || jobs[0].ID != "j2" {
		t.Errorf("jobs = %+v", jobs)
	}

	if status, _ := env.do(t, http.MethodGet, "/api/v1/jobs?limit=0", nil); status != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d", status)
	}
}

func TestImportInline_DeliversAndFilters(t *testing.T) {
	env := newEnv(t, envOptions{})
	rows := hotmartRows("a@example.com", "b@example.com", "c@example.com")
	rows = append(rows, map[string]string{"Email do Comprador": "d@example.com", "Status": "Cancelado"})

	status, resp := env.do(t, http.MethodPost, "/api/v1/imports", ImportRequest{Platform: "Hotmart", Rows: rows})
	if status != http.StatusAccepted {
		t.Fatalf("status = %d resp = %+v", status, resp)
	}
	var res ImportResult
	decodeData(t, resp, &res)
	if res.Filtered != 1 || res.Mode != ImportModeInline || res.Job.Total != 3 {
		t.Fatalf("result = %+v", res)
	}

	env.engine.Wait()
	job, err := env.mem.GetJob(context.Background(), res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != store.StatusCompleted || job.Succeeded != 3 || job.Source != "hotmart" {
		t.Errorf("job = %+v", job)
	}
}

func TestImport_Rejections(t *testing.T) {
	env := newEnv(t, envOptions{})
	cases := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"no rows", ImportRequest{Platform: "hotmart"}, http.StatusBadRequest, CodeValidation},
		{"unknown platform", ImportRequest{Platform: "shopify", Rows: hotmartRows("a@example.com")}, http.StatusBadRequest, CodeValidation},
		{"bad mode", ImportRequest{Platform: "hotmart", Mode: "batch", Rows: hotmartRows("a@example.com")}, http.StatusBadRequest, CodeValidation},
		{"all filtered", ImportRequest{Platform: "hotmart", Rows: []map[string]string{{"Email do Comprador": "a@example.com", "Status": "Reembolsado"}}}, http.StatusBadRequest, CodeNoRows},
		{"malformed", "not an object", http.StatusBadRequest, CodeInvalidBody},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := env.do(t, http.MethodPost, "/api/v1/imports", tc.body)
			if status != tc.status || resp.Error == nil || resp.Error.Code != tc.code {
				t.Errorf("status = %d resp = %+v, want %d %s", status, resp, tc.status, tc.code)
			}
		})
	}
}

func TestImportQueueMode(t *testing.T) {
	env := newEnv(t, envOptions{})
	status, resp := env.do(t, http.MethodPost, "/api/v1/imports", ImportRequest{
		Platform: "kiwify",
		Mode:     ImportModeQueue,
		Rows:     []map[string]string{{"Email": "k@example.com", "Status": "paid"}},
		Labels:   []string{"Black Friday"},
	})
	if status != http.StatusAccepted {
		t.Fatalf("status = %d resp = %+v", status, resp)
	}
	if len(env.queue.got) != 1 {
		t.Fatalf("dispatches = %d", len(env.queue.got))
	}
	got := env.queue.got[0]
	if got.Source != "kiwify" || len(got.Rows) != 1 || got.Rows[0].Email != "k@example.com" {
		t.Errorf("dispatched = %+v", got)
	}
}

func TestImportResume(t *testing.T) {
	env := newEnv(t, envOptions{})
	ctx := context.Background()
	prior := &store.Job{
		ID: "prior", Kind: store.KindCSVImport, Status: store.StatusPaused, Source: "hotmart",
		Total: 4, Cursor: 2, Counters: store.Counters{Processed: 2, Succeeded: 2}, CreatedAt: t0,
	}
	if err := env.mem.CreateJob(ctx, prior); err != nil {
		t.Fatal(err)
	}
	rows := hotmartRows("a@example.com", "b@example.com", "c@example.com", "d@example.com")

	status, resp := env.do(t, http.MethodPost, "/api/v1/imports/prior/resume", map[string]interface{}{"rows": rows, "startIndex": 9})
	if status != http.StatusBadRequest || resp.Error.Code != CodeStartIndexBounds {
		t.Fatalf("out of range: status = %d resp = %+v", status, resp)
	}

	status, resp = env.do(t, http.MethodPost, "/api/v1/imports/prior/resume", map[string]interface{}{"rows": rows})
	if status != http.StatusAccepted {
		t.Fatalf("status = %d resp = %+v", status, resp)
	}
	var res ImportResult
	decodeData(t, resp, &res)
	if res.Job.ResumedFrom != "prior" || res.Job.Cursor != 2 {
		t.Fatalf("job = %+v", res.Job)
	}
	env.engine.Wait()

	job, err := env.mem.GetJob(ctx, res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != store.StatusCompleted || job.Processed != 4 || job.Succeeded != 4 {
		t.Errorf("continuation = %+v", job)
	}
	env.dest.mu.Lock()
	defer env.dest.mu.Unlock()
	if env.dest.contacts["a@example.com"] != 0 || env.dest.contacts["c@example.com"] != 1 {
		t.Errorf("deliveries = %v, want only rows past the cursor", env.dest.contacts)
	}

	if status, _ := env.do(t, http.MethodPost, "/api/v1/imports/nope/resume", map[string]interface{}{"rows": rows}); status != http.StatusNotFound {
		t.Errorf("unknown prior status = %d", status)
	}
}

func TestJobErrors(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.dest.invalid["bad@example.com"] = true

	status, resp := env.do(t, http.MethodPost, "/api/v1/imports", ImportRequest{Platform: "hotmart", Rows: hotmartRows("ok@example.com", "bad@example.com")})
	if status != http.StatusAccepted {
		t.Fatalf("status = %d", status)
	}
	var res ImportResult
	decodeData(t, resp, &res)
	env.engine.Wait()

	status, resp = env.do(t, http.MethodGet, "/api/v1/jobs/"+res.JobID+"/errors", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var errs JobErrors
	decodeData(t, resp, &errs)
	if len(errs.Overflow) != 1 || errs.Overflow[0].Identifier != "bad@example.com" || len(errs.Samples) != 0 {
		t.Errorf("errors = %+v", errs)
	}
}

func TestJobStream_SendsSnapshotFirst(t *testing.T) {
	env := newEnv(t, envOptions{})
	job := &store.Job{ID: "watched", Kind: store.KindFull, Status: store.StatusRunning, Total: 10, Counters: store.Counters{Processed: 3}, CreatedAt: t0}
	if err := env.mem.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/v1/jobs/watched/stream"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first websocket.Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != websocket.MessageTypeProgress || first.Job.Processed != 3 {
		t.Fatalf("first = %+v", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Watchers("watched") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	job.Status = store.StatusCompleted
	job.Processed = 10
	env.hub.PublishProgress(job)

	var next websocket.Message
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatal(err)
	}
	if next.Type != websocket.MessageTypeFinished || next.Job.Processed != 10 {
		t.Errorf("next = %+v", next)
	}
}

func TestJobStream_UnknownJob(t *testing.T) {
	env := newEnv(t, envOptions{})
	status, resp := env.do(t, http.MethodGet, "/api/v1/jobs/missing/stream", nil)
	if status != http.StatusNotFound || resp.Error.Code != CodeNotFound {
		t.Errorf("status = %d resp = %+v", status, resp)
	}
}

func TestRateLimitAndHeaders(t *testing.T) {
	mw := DefaultChiMiddlewareConfig()
	mw.RateLimitRequests = 2
	mw.RateLimitWindow = time.Minute
	env := newEnv(t, envOptions{mw: mw})

	resp, err := http.Get(env.srv.URL + "/api/v1/sync/gate")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" || resp.Header.Get("Cache-Control") != "no-store" {
		t.Errorf("headers = %v", resp.Header)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	env.do(t, http.MethodGet, "/api/v1/sync/gate", nil)
	status, out := env.do(t, http.MethodGet, "/api/v1/sync/gate", nil)
	if status != http.StatusTooManyRequests || out.Error == nil || out.Error.Code != "RATE_LIMITED" {
		t.Errorf("third request: status = %d resp = %+v", status, out)
	}

	// Health sits outside the limited group.
	if status, _ := env.do(t, http.MethodGet, "/health", nil); status != http.StatusOK {
		t.Errorf("health status = %d", status)
	}
}

func TestAllowsOrigin(t *testing.T) {
	m := NewChiMiddleware(&ChiMiddlewareConfig{CORSAllowedOrigins: []string{"https://app.example.com"}})
	if !m.AllowsOrigin("") || !m.AllowsOrigin("https://app.example.com") {
		t.Error("expected origin to be allowed")
	}
	if m.AllowsOrigin("https://evil.example.com") {
		t.Error("foreign origin allowed")
	}
	wild := NewChiMiddleware(&ChiMiddlewareConfig{CORSAllowedOrigins: []string{"*"}})
	if !wild.AllowsOrigin("https://anything.example.com") {
		t.Error("wildcard did not allow origin")
	}
}

func TestNotFoundRoute(t *testing.T) {
	env := newEnv(t, envOptions{})
	status, resp := env.do(t, http.MethodGet, "/api/v1/nope", nil)
	if status != http.StatusNotFound || resp.Success {
		t.Errorf("status = %d resp = %+v", status, resp)
	}
}
