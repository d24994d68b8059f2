// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(SyncRunsTotal.WithLabelValues("incremental", "completed"))

	RecordRun("incremental", "completed", 3*time.Second)

	after := testutil.ToFloat64(SyncRunsTotal.WithLabelValues("incremental", "completed"))
	if after != before+1 {
		t.Errorf("runs counter = %v, want %v", after, before+1)
	}
}

func TestRecordGateDecision(t *testing.T) {
	tests := []struct {
		name    string
		granted bool
		reason  string
		result  string
		label   string
	}{
		{"granted ignores reason", true, "anything", "granted", "none"},
		{"denied keeps reason", false, "not_yet_due", "denied", "not_yet_due"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := GateDecisions.WithLabelValues(tt.result, tt.label)
			before := testutil.ToFloat64(c)
			RecordGateDecision(tt.granted, tt.reason)
			if got := testutil.ToFloat64(c); got != before+1 {
				t.Errorf("counter = %v, want %v", got, before+1)
			}
		})
	}
}

func TestRecordRow(t *testing.T) {
	c := SyncRowsTotal.WithLabelValues("csv-import", "skipped")
	before := testutil.ToFloat64(c)
	RecordRow("csv-import", "skipped")
	RecordRow("csv-import", "skipped")
	if got := testutil.ToFloat64(c); got != before+2 {
		t.Errorf("rows counter = %v, want %v", got, before+2)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != before+1 {
		t.Errorf("active = %v, want %v", got, before+1)
	}
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != before {
		t.Errorf("active = %v, want %v", got, before)
	}
}

func TestRecordUpstreamRequest(t *testing.T) {
	c := UpstreamRequests.WithLabelValues("swipeone", "upsert_contact", "409")
	before := testutil.ToFloat64(c)
	RecordUpstreamRequest("swipeone", "upsert_contact", "409", 120*time.Millisecond)
	if got := testutil.ToFloat64(c); got != before+1 {
		t.Errorf("upstream counter = %v, want %v", got, before+1)
	}
}
