// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package csvimport

import (
	"strings"

	"github.com/tomtom215/leadsync/internal/adapter"
)

// Result is the outcome of Normalize.
type Result struct {
	Records []adapter.SourceRecord
	// Filtered counts rows dropped by the status filter.
	Filtered int
}

// Normalize maps raw rows (header to value) into records in input order.
// Labels are the row's product plus staticLabels.
func Normalize(p Platform, rows []map[string]string, staticLabels []string) Result {
	m := ColumnMapFor(p)
	approved := make(map[string]struct{}, len(m.ApprovedStatuses))
	for _, s := range m.ApprovedStatuses {
		approved[fold(s)] = struct{}{}
	}

	res := Result{Records: make([]adapter.SourceRecord, 0, len(rows))}
	for _, raw := range rows {
		row := foldKeys(raw)
		if len(approved) > 0 {
			if _, ok := approved[fold(pick(row, m.Status))]; !ok {
				res.Filtered++
				continue
			}
		}
		res.Records = append(res.Records, record(row, m, staticLabels))
	}
	return res
}

func record(row map[string]string, m ColumnMap, staticLabels []string) adapter.SourceRecord {
	rec := adapter.SourceRecord{
		Email:         strings.ToLower(pick(row, m.Email)),
		Name:          pick(row, m.Name),
		Phone:         pick(row, m.Phone),
		TransactionID: pick(row, m.TransactionID),
	}
	rec.Key = rec.TransactionID

	addr := adapter.Address{
		Street:     pick(row, m.Street),
		Number:     pick(row, m.Number),
		District:   pick(row, m.District),
		City:       pick(row, m.City),
		State:      pick(row, m.State),
		PostalCode: pick(row, m.PostalCode),
	}
	if addr != (adapter.Address{}) {
		rec.Address = &addr
	}

	if product := pick(row, m.Product); product != "" {
		rec.Labels = append(rec.Labels, product)
	}
	for _, l := range staticLabels {
		if l = strings.TrimSpace(l); l != "" {
			rec.Labels = append(rec.Labels, l)
		}
	}
	return rec
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func foldKeys(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[fold(k)] = strings.TrimSpace(v)
	}
	return out
}

// pick returns the first non-empty value among the candidate columns.
func pick(row map[string]string, candidates []string) string {
	for _, c := range candidates {
		if v := row[fold(c)]; v != "" {
			return v
		}
	}
	return ""
}
