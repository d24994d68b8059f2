// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package validation wraps a single go-playground/validator instance shared
// by the HTTP request types and the row identity check.
//
//	type toggleRequest struct {
//	    Enabled         *bool `json:"enabled" validate:"required"`
//	    IntervalMinutes int   `json:"intervalMinutes" validate:"gte=0,lte=1440"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    // verr.Fields carries json field names and readable messages
//	}
package validation
