package ledger

import (
	"fmt"
	"strings"
)

// InvoiceStatus represents the lifecycle of an invoice.
type InvoiceStatus string

const (
	StatusDraft   InvoiceStatus = "Draft"   // Initial creation, lines editable
	StatusReady   InvoiceStatus = "Ready"   // Awaiting print, lines editable
	StatusPrinted InvoiceStatus = "Printed" // Terminal, lines frozen
)

// ParseStatus accepts a status name case-insensitively.
func ParseStatus(s string) (InvoiceStatus, error) {
	for _, st := range []InvoiceStatus{StatusDraft, StatusReady, StatusPrinted} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsValid checks if the status is one of the defined values.
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusReady, StatusPrinted:
		return true
	default:
		return false
	}
}

// CanEditLines reports whether lines may be added to or removed from the invoice.
func (s InvoiceStatus) CanEditLines() bool {
	return s == StatusDraft || s == StatusReady
}

// CanTransition reports whether the invoice may move from s to next.
// Printed only accepts Printed again, which counts as a reprint.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s == StatusPrinted {
		return next == StatusPrinted
	}
	return true
}
