// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package datacrazy is the pull-source adapter for the DataCrazy CRM leads API.
package datacrazy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/ratelimit"
)

const leadsPath = "/api/v1/leads"

// Config configures the source.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	Limiter    ratelimit.Limiter
	Clock      clock.Clock
	HTTPClient *http.Client
}

// Source pulls leads page by page, optionally filtered by creation time.
type Source struct {
	client *adapter.Client
}

var _ adapter.Source = (*Source)(nil)

// New returns adapter.ErrNotConfigured when the endpoint or token is missing.
func New(cfg Config) (*Source, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("datacrazy: %w", adapter.ErrNotConfigured)
	}
	token := cfg.Token
	return &Source{client: adapter.NewClient(adapter.ClientConfig{
		Name:       "datacrazy",
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Limiter:    cfg.Limiter,
		Clock:      cfg.Clock,
		HTTPClient: cfg.HTTPClient,
		Authorize: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+token)
		},
	})}, nil
}

type leadTag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type leadAddress struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zipCode"`
	Country      string `json:"country"`
}

type lead struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Email     string       `json:"email"`
	Phone     string       `json:"phone"`
	Source    string       `json:"source"`
	CreatedAt *time.Time   `json:"createdAt"`
	Tags      []leadTag    `json:"tags"`
	Address   *leadAddress `json:"address"`
}

type leadsPage struct {
	Count int64  `json:"count"`
	Data  []lead `json:"data"`
}

func pageQuery(skip, take int, since *time.Time) url.Values {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("take", strconv.Itoa(take))
	if since != nil {
		q.Set("filter[createdAtGreaterOrEqual]", since.UTC().Format(time.RFC3339))
	}
	return q
}

// Count asks for a one-row page and reads the total.
func (s *Source) Count(ctx context.Context, since *time.Time) (int64, error) {
	var page leadsPage
	if err := s.client.Do(ctx, "count_leads", http.MethodGet, leadsPath, pageQuery(0, 1, since), nil, &page); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return page.Count, nil
}

// FetchPage returns up to size leads starting at offset.
func (s *Source) FetchPage(ctx context.Context, offset, size int, since *time.Time) ([]adapter.SourceRecord, error) {
	var page leadsPage
	if err := s.client.Do(ctx, "fetch_leads", http.MethodGet, leadsPath, pageQuery(offset, size, since), nil, &page); err != nil {
		return nil, fmt.Errorf("fetch leads at offset %d: %w", offset, err)
	}
	records := make([]adapter.SourceRecord, 0, len(page.Data))
	for i := range page.Data {
		records = append(records, page.Data[i].record())
	}
	return records, nil
}

func (l *lead) record() adapter.SourceRecord {
	rec := adapter.SourceRecord{
		Key:       l.ID,
		Email:     strings.ToLower(strings.TrimSpace(l.Email)),
		Name:      strings.TrimSpace(l.Name),
		Phone:     strings.TrimSpace(l.Phone),
		CreatedAt: l.CreatedAt,
	}
	for _, t := range l.Tags {
		if name := strings.TrimSpace(t.Name); name != "" {
			rec.Labels = append(rec.Labels, name)
		}
	}
	if a := l.Address; a != nil && (a.Street != "" || a.City != "" || a.ZipCode != "") {
		rec.Address = &adapter.Address{
			Street:     a.Street,
			Number:     a.Number,
			District:   a.Neighborhood,
			City:       a.City,
			State:      a.State,
			PostalCode: a.ZipCode,
			Country:    a.Country,
		}
	}
	return rec
}
