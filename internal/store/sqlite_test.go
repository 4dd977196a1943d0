package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"digigold/internal/logging"
	"digigold/migrations"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "digigold_test.db")
	st, err := NewSQLite(ctx, path, logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return st
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	sess, err := st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected no session in a fresh store, got %+v", sess)
	}

	raw := json.RawMessage(`{"phoneNumber":"9876543210","token":"tok-1"}`)
	if err := st.SaveSession(ctx, Session{
		PhoneNumber: "9876543210",
		AuthToken:   "tok-1",
		Raw:         raw,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	sess, err = st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session after save")
	}
	if sess.PhoneNumber != "9876543210" || sess.AuthToken != "tok-1" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if string(sess.Raw) != string(raw) {
		t.Fatalf("raw payload not preserved: %s", sess.Raw)
	}
}

func TestSaveSessionReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.SaveSession(ctx, Session{PhoneNumber: "9876543210"}); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := st.SaveSession(ctx, Session{PhoneNumber: "9123456789", AuthToken: "tok-2"}); err != nil {
		t.Fatalf("save second: %v", err)
	}

	sess, err := st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.PhoneNumber != "9123456789" || sess.AuthToken != "tok-2" {
		t.Fatalf("second save did not replace the record: %+v", sess)
	}
}

func TestClearSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.ClearSession(ctx); err != nil {
		t.Fatalf("clear on empty store: %v", err)
	}
	if err := st.SaveSession(ctx, Session{PhoneNumber: "9876543210"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.ClearSession(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	sess, err := st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("load after clear: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected no session after clear, got %+v", sess)
	}
}

func TestPendingReceiptJournal(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	first := PendingReceipt{
		GatewayPaymentID: "pay_aaa",
		GatewayOrderID:   "order_1",
		SchemeCode:       "PD2025-RAJA",
		AmountMinorUnits: 300000,
		CreatedAt:        time.Now().UTC().Add(-time.Minute),
	}
	second := PendingReceipt{
		GatewayPaymentID: "pay_bbb",
		GatewayOrderID:   "order_2",
		SchemeCode:       "PD2025-RAJA",
		AmountMinorUnits: 150000,
		CreatedAt:        time.Now().UTC(),
	}

	for _, r := range []PendingReceipt{second, first} {
		if err := st.SavePendingReceipt(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.GatewayPaymentID, err)
		}
	}
	// Saving the same receipt again must not create a second row.
	if err := st.SavePendingReceipt(ctx, first); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	receipts, err := st.ListPendingReceipts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(receipts))
	}
	if receipts[0].GatewayPaymentID != "pay_aaa" || receipts[1].GatewayPaymentID != "pay_bbb" {
		t.Fatalf("expected oldest-first order, got %+v", receipts)
	}
	if receipts[0].AmountMinorUnits != 300000 || receipts[0].SchemeCode != "PD2025-RAJA" {
		t.Fatalf("journal entry fields not preserved: %+v", receipts[0])
	}

	if err := st.DeletePendingReceipt(ctx, "pay_aaa"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	receipts, err = st.ListPendingReceipts(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(receipts) != 1 || receipts[0].GatewayPaymentID != "pay_bbb" {
		t.Fatalf("expected only pay_bbb to remain, got %+v", receipts)
	}
}
