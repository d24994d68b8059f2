// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package csvimport turns sales platform export rows into source records:
// columns are resolved through a per-platform map and rows whose status is
// not an approved sale are dropped before the engine sees them.
package csvimport

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPlatform is returned by ParsePlatform for an unsupported name.
var ErrUnknownPlatform = errors.New("csvimport: unknown platform")

// Platform identifies the export format.
type Platform string

const (
	Hotmart Platform = "hotmart"
	Kiwify  Platform = "kiwify"
	Eduzz   Platform = "eduzz"
	Generic Platform = "generic"
)

// ParsePlatform accepts a platform name in any case.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := columnMaps[p]; !ok {
		return "", fmt.Errorf("%w %q (want hotmart, kiwify, eduzz or generic)", ErrUnknownPlatform, s)
	}
	return p, nil
}

// ColumnMap lists candidate header names per field, first match wins.
type ColumnMap struct {
	Email         []string
	Name          []string
	Phone         []string
	TransactionID []string
	Product       []string
	Status        []string
	Street        []string
	Number        []string
	District      []string
	City          []string
	State         []string
	PostalCode    []string
	// ApprovedStatuses are compared case-insensitively. Empty disables the
	// status filter.
	ApprovedStatuses []string
}

var columnMaps = map[Platform]ColumnMap{
	Hotmart: {
		Email:            []string{"Email do Comprador", "Email", "E-mail"},
		Name:             []string{"Nome do Comprador", "Nome", "Comprador"},
		Phone:            []string{"Telefone Final", "Telefone", "Celular"},
		TransactionID:    []string{"Transação", "Transacao", "Código da Transação"},
		Product:          []string{"Produto", "Nome do Produto"},
		Status:           []string{"Status", "Status da Transação"},
		Street:           []string{"Endereço", "Endereco"},
		Number:           []string{"Número", "Numero"},
		District:         []string{"Bairro"},
		City:             []string{"Cidade"},
		State:            []string{"Estado"},
		PostalCode:       []string{"CEP", "Código Postal"},
		ApprovedStatuses: []string{"Aprovado", "Completo", "approved", "complete"},
	},
	Kiwify: {
		Email:            []string{"Email", "E-mail"},
		Name:             []string{"Cliente", "Nome"},
		Phone:            []string{"Celular", "Telefone"},
		TransactionID:    []string{"ID da venda", "ID"},
		Product:          []string{"Produto"},
		Status:           []string{"Status"},
		Street:           []string{"Endereço", "Rua"},
		Number:           []string{"Número"},
		District:         []string{"Bairro"},
		City:             []string{"Cidade"},
		State:            []string{"Estado"},
		PostalCode:       []string{"CEP"},
		ApprovedStatuses: []string{"paid", "pago", "aprovado"},
	},
	Eduzz: {
		Email:            []string{"E-mail", "Email", "Cliente / E-mail"},
		Name:             []string{"Cliente", "Cliente / Nome"},
		Phone:            []string{"Telefone", "Cliente / Fones"},
		TransactionID:    []string{"Fatura", "Fatura / Código"},
		Product:          []string{"Produto", "Conteúdo"},
		Status:           []string{"Status", "Fatura / Status"},
		City:             []string{"Cidade"},
		State:            []string{"UF", "Estado"},
		PostalCode:       []string{"CEP"},
		ApprovedStatuses: []string{"Paga", "paid"},
	},
	Generic: {
		Email:         []string{"email", "e-mail"},
		Name:          []string{"name", "nome"},
		Phone:         []string{"phone", "telefone"},
		TransactionID: []string{"transaction_id", "id"},
		Product:       []string{"product", "produto"},
		Status:        []string{"status"},
		Street:        []string{"street", "address"},
		Number:        []string{"number"},
		District:      []string{"district"},
		City:          []string{"city"},
		State:         []string{"state"},
		PostalCode:    []string{"postal_code", "zip"},
	},
}

// ColumnMapFor returns the map of p. Unknown platforms get the generic map.
func ColumnMapFor(p Platform) ColumnMap {
	if m, ok := columnMaps[p]; ok {
		return m
	}
	return columnMaps[Generic]
}
