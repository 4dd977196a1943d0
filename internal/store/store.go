// Package store is the durable device-local persistence layer. It holds the
// single session record that survives process restarts, plus the journal of
// payment receipts that were charged at the gateway but not yet recorded by
// the backend.
package store

import (
	"context"
	"encoding/json"
	"io/fs"
	"time"
)

// SessionRecordKey names the sole durable session record.
const SessionRecordKey = "userData"

// Session is the authenticated-user record. At most one exists at a time;
// its presence is the sole determinant of the authenticated state.
type Session struct {
	PhoneNumber string          `json:"phoneNumber"`
	AuthToken   string          `json:"authToken,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// PendingReceipt is a gateway charge awaiting backend reconciliation. Rows
// are keyed by the gateway payment id, which is also the backend's
// deduplication key, so replaying a journal entry is always safe.
type PendingReceipt struct {
	GatewayPaymentID string    `json:"gatewayPaymentId"`
	GatewayOrderID   string    `json:"gatewayOrderId"`
	SchemeCode       string    `json:"schemeCode"`
	AmountMinorUnits int64     `json:"amountMinorUnits"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Store defines the local persistence contract.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Session record
	LoadSession(ctx context.Context) (*Session, error)
	SaveSession(ctx context.Context, session Session) error
	ClearSession(ctx context.Context) error

	// Pending receipt journal
	SavePendingReceipt(ctx context.Context, receipt PendingReceipt) error
	ListPendingReceipts(ctx context.Context) ([]PendingReceipt, error)
	DeletePendingReceipt(ctx context.Context, gatewayPaymentID string) error
}
