// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package swipeone is the push-destination adapter for the SwipeOne contacts
// and tags API.
package swipeone

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/ratelimit"
)

// Config configures the destination.
type Config struct {
	BaseURL     string
	APIKey      string
	WorkspaceID string
	Timeout     time.Duration
	MaxRetries  int
	// Limiter is the process-wide window limiter shared by all deliveries.
	Limiter    ratelimit.Limiter
	Clock      clock.Clock
	HTTPClient *http.Client
}

// Destination upserts contacts and manages tags in one workspace.
type Destination struct {
	client    *adapter.Client
	workspace string
}

var _ adapter.Destination = (*Destination)(nil)

// New returns adapter.ErrNotConfigured when credentials are missing.
func New(cfg Config) (*Destination, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.WorkspaceID == "" {
		return nil, fmt.Errorf("swipeone: %w", adapter.ErrNotConfigured)
	}
	apiKey := cfg.APIKey
	return &Destination{
		workspace: url.PathEscape(cfg.WorkspaceID),
		client: adapter.NewClient(adapter.ClientConfig{
			Name:       "swipeone",
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Limiter:    cfg.Limiter,
			Clock:      cfg.Clock,
			HTTPClient: cfg.HTTPClient,
			Authorize: func(r *http.Request) {
				r.Header.Set("x-api-key", apiKey)
			},
		}),
	}, nil
}

func (d *Destination) contactsPath() string {
	return "/api/workspaces/" + d.workspace + "/contacts"
}

func (d *Destination) tagsPath() string {
	return "/api/workspaces/" + d.workspace + "/tags"
}

type contactRequest struct {
	Email      string          `json:"email"`
	FullName   string          `json:"fullName,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	Address    *contactAddress `json:"address,omitempty"`
	ExternalID string          `json:"externalId,omitempty"`
}

type contactAddress struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type contact struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
}

type contactEnvelope struct {
	Data struct {
		Contact  contact   `json:"contact"`
		Contacts []contact `json:"contacts"`
	} `json:"data"`
}

type tag struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

type tagEnvelope struct {
	Data struct {
		Tag  tag   `json:"tag"`
		Tags []tag `json:"tags"`
	} `json:"data"`
}

func newContactRequest(rec adapter.SourceRecord) contactRequest {
	req := contactRequest{
		Email:      rec.Email,
		FullName:   rec.Name,
		Phone:      rec.Phone,
		ExternalID: rec.TransactionID,
	}
	if req.ExternalID == "" {
		req.ExternalID = rec.Key
	}
	if a := rec.Address; a != nil {
		line1 := strings.TrimSpace(strings.Join([]string{a.Street, a.Number}, " "))
		req.Address = &contactAddress{
			Line1:      line1,
			Line2:      a.District,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		}
	}
	return req
}

// Upsert creates the contact. A 409 from the destination is reported as
// AlreadyExists with the existing contact's id.
func (d *Destination) Upsert(ctx context.Context, rec adapter.SourceRecord) (adapter.Upserted, error) {
	var env contactEnvelope
	err := d.client.Do(ctx, "create_contact", http.MethodPost, d.contactsPath(), nil, newContactRequest(rec), &env)
	if err == nil {
		return adapter.Upserted{ID: env.Data.Contact.ID, Result: adapter.Created}, nil
	}
	if !errors.Is(err, adapter.ErrAlreadyExists) {
		return adapter.Upserted{}, fmt.Errorf("upsert contact %s: %w", rec.Identifier(), err)
	}

	var httpErr *adapter.HTTPError
	if errors.As(err, &httpErr) && httpErr.Body != "" {
		var conflict contactEnvelope
		if json.Unmarshal([]byte(httpErr.Body), &conflict) == nil && conflict.Data.Contact.ID != "" {
			return adapter.Upserted{ID: conflict.Data.Contact.ID, Result: adapter.AlreadyExists}, nil
		}
	}
	id, lookupErr := d.findContact(ctx, rec.Email)
	if lookupErr != nil {
		// Tags cannot be attached without the id, but the contact exists.
		return adapter.Upserted{Result: adapter.AlreadyExists}, nil
	}
	return adapter.Upserted{ID: id, Result: adapter.AlreadyExists}, nil
}

func (d *Destination) findContact(ctx context.Context, email string) (string, error) {
	q := url.Values{}
	q.Set("email", email)
	var env contactEnvelope
	if err := d.client.Do(ctx, "find_contact", http.MethodGet, d.contactsPath(), q, nil, &env); err != nil {
		return "", err
	}
	for _, c := range env.Data.Contacts {
		if strings.EqualFold(c.Email, email) && c.ID != "" {
			return c.ID, nil
		}
	}
	if env.Data.Contact.ID != "" {
		return env.Data.Contact.ID, nil
	}
	return "", fmt.Errorf("contact %s not found", email)
}

// ListReferences returns every tag in the workspace.
func (d *Destination) ListReferences(ctx context.Context) ([]adapter.Reference, error) {
	var env tagEnvelope
	if err := d.client.Do(ctx, "list_tags", http.MethodGet, d.tagsPath(), nil, nil, &env); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	refs := make([]adapter.Reference, 0, len(env.Data.Tags))
	for _, t := range env.Data.Tags {
		refs = append(refs, adapter.Reference{ID: t.ID, Label: t.Name})
	}
	return refs, nil
}

// EnsureReference creates a tag. A duplicate surfaces as
// adapter.ErrAlreadyExists for the caller to resolve from the listing.
func (d *Destination) EnsureReference(ctx context.Context, label string) (string, error) {
	var env tagEnvelope
	body := map[string]string{"name": label}
	if err := d.client.Do(ctx, "create_tag", http.MethodPost, d.tagsPath(), nil, body, &env); err != nil {
		return "", fmt.Errorf("create tag %q: %w", label, err)
	}
	if env.Data.Tag.ID == "" {
		return "", fmt.Errorf("create tag %q: response carried no id", label)
	}
	return env.Data.Tag.ID, nil
}

// AttachReferences adds tags to a contact.
func (d *Destination) AttachReferences(ctx context.Context, targetID string, referenceIDs []string) error {
	if len(referenceIDs) == 0 {
		return nil
	}
	if targetID == "" {
		return fmt.Errorf("attach tags: contact id unknown")
	}
	path := "/api/contacts/" + url.PathEscape(targetID) + "/tags"
	body := map[string][]string{"tagIds": referenceIDs}
	if err := d.client.Do(ctx, "attach_tags", http.MethodPost, path, nil, body, nil); err != nil {
		return fmt.Errorf("attach tags to %s: %w", targetID, err)
	}
	return nil
}
