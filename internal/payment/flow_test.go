package payment

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"digigold/internal/api"
	"digigold/internal/logging"
	"digigold/internal/notify"
	"digigold/internal/store"
	"digigold/migrations"
)

// fakeBackend mimics the backend's reconciliation contract, including
// deduplication on the gateway payment id.
type fakeBackend struct {
	mu        sync.Mutex
	orderErr  error
	submitErr error
	orders    int
	credits   map[string]int
	submitted []api.PaymentReceipt
	nextOrder string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{credits: map[string]int{}, nextOrder: "order_1"}
}

func (b *fakeBackend) CreatePaymentOrder(ctx context.Context, schemeCode string, amountMinorUnits int64) (api.PaymentOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.orderErr != nil {
		return api.PaymentOrder{}, b.orderErr
	}
	b.orders++
	return api.PaymentOrder{OrderID: b.nextOrder, SchemeCode: schemeCode, AmountMinorUnits: amountMinorUnits}, nil
}

func (b *fakeBackend) SubmitPaymentReceipt(ctx context.Context, receipt api.PaymentReceipt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return b.submitErr
	}
	b.submitted = append(b.submitted, receipt)
	if b.credits[receipt.GatewayPaymentID] == 0 {
		b.credits[receipt.GatewayPaymentID] = 1
	}
	return nil
}

func (b *fakeBackend) setSubmitErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitErr = err
}

func (b *fakeBackend) creditFor(paymentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.credits[paymentID]
}

// fakeGateway returns a fixed result or error.
type fakeGateway struct {
	result CheckoutResult
	err    error
	calls  int
}

func (g *fakeGateway) OpenCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	g.calls++
	if g.err != nil {
		return CheckoutResult{}, g.err
	}
	res := g.result
	if res.GatewayOrderID == "" {
		res.GatewayOrderID = req.OrderID
	}
	return res, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "payment_test.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return st
}

func testScheme() api.Scheme {
	return api.Scheme{
		SchemeCode:        "PD2025-RAJA",
		InstallmentMonths: 12,
		SchemeType:        api.SchemeMonthly,
		RemainingPayments: 6,
		PayAmount:         3000,
	}
}

func newTestFlow(t *testing.T, backend Backend, gateway Gateway, st store.Store, notifier notify.Notifier) *Flow {
	t.Helper()
	return NewFlow(Config{Currency: "INR", KeyID: "key_test", MerchantName: "Test Merchant"},
		backend, gateway, st, notifier, nil, logging.Discard())
}

func TestPayHappyPath(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	gateway := &fakeGateway{result: CheckoutResult{GatewayPaymentID: "pay_ok"}}
	st := newTestStore(t)
	recorder := &notify.Recorder{}

	var refreshed bool
	flow := newTestFlow(t, backend, gateway, st, recorder)
	flow.OnReconciled(func(ctx context.Context) { refreshed = true })

	res, err := flow.Pay(ctx, testScheme())
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if res.Stage != StageReconciled {
		t.Fatalf("expected reconciled, got %v", res.Stage)
	}
	if res.Receipt.GatewayPaymentID != "pay_ok" || res.Receipt.AmountMinorUnits != 300000 {
		t.Fatalf("unexpected receipt %+v", res.Receipt)
	}
	if backend.creditFor("pay_ok") != 1 {
		t.Fatalf("expected one credit, got %d", backend.creditFor("pay_ok"))
	}
	if !refreshed {
		t.Fatal("reconciliation callback did not run")
	}

	pending, err := st.ListPendingReceipts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("journal must be empty after reconciliation, got %v", pending)
	}

	msgs := recorder.Messages()
	if len(msgs) != 1 || msgs[0].Kind != notify.KindPaymentDone {
		t.Fatalf("expected a single completion notification, got %v", msgs)
	}
}

func TestPayOrderCreationFailsClosed(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.orderErr = api.ServerError(api.EndpointCreateOrder, 500, "boom")
	gateway := &fakeGateway{result: CheckoutResult{GatewayPaymentID: "pay_never"}}
	st := newTestStore(t)
	recorder := &notify.Recorder{}

	flow := newTestFlow(t, backend, gateway, st, recorder)
	_, err := flow.Pay(ctx, testScheme())
	if api.KindOf(err) != api.KindServer {
		t.Fatalf("expected server error, got %v", err)
	}
	if gateway.calls != 0 {
		t.Fatal("checkout must not open when order creation fails")
	}
	pending, _ := st.ListPendingReceipts(ctx)
	if len(pending) != 0 {
		t.Fatalf("nothing may be journalled on a fail-closed order, got %v", pending)
	}
	if msgs := recorder.Messages(); len(msgs) != 1 || msgs[0].Kind != notify.KindError {
		t.Fatalf("expected one error notification, got %v", msgs)
	}
}

func TestPayCancellationIsBenign(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	gateway := &fakeGateway{err: ErrCheckoutCancelled}
	st := newTestStore(t)
	recorder := &notify.Recorder{}

	flow := newTestFlow(t, backend, gateway, st, recorder)
	_, err := flow.Pay(ctx, testScheme())
	if !errors.Is(err, ErrCheckoutCancelled) {
		t.Fatalf("expected cancellation to surface, got %v", err)
	}
	if len(backend.submitted) != 0 {
		t.Fatal("cancelled checkout must not submit a receipt")
	}
	pending, _ := st.ListPendingReceipts(ctx)
	if len(pending) != 0 {
		t.Fatal("cancelled checkout must not journal a receipt")
	}
	msgs := recorder.Messages()
	if len(msgs) != 1 || msgs[0].Kind != notify.KindError {
		t.Fatalf("expected one cancellation notice, got %v", msgs)
	}
}

func TestPayGapJournalsAndResubmitHeals(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	gateway := &fakeGateway{result: CheckoutResult{GatewayPaymentID: "pay_gap"}}
	st := newTestStore(t)
	recorder := &notify.Recorder{}

	flow := newTestFlow(t, backend, gateway, st, recorder)

	submitErr := api.TransportError(api.EndpointPaymentSuccess, errors.New("connection reset"))
	backend.setSubmitErr(submitErr)

	res, err := flow.Pay(ctx, testScheme())
	var gap *GapError
	if !errors.As(err, &gap) {
		t.Fatalf("expected GapError, got %v", err)
	}
	if gap.Receipt.GatewayPaymentID != "pay_gap" {
		t.Fatalf("gap must carry the receipt, got %+v", gap.Receipt)
	}
	if res.Stage != StageGatewayPending {
		t.Fatalf("gap leaves the saga gateway-pending, got %v", res.Stage)
	}

	pending, listErr := st.ListPendingReceipts(ctx)
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(pending) != 1 || pending[0].GatewayPaymentID != "pay_gap" {
		t.Fatalf("expected journalled receipt, got %v", pending)
	}
	if n, err := flow.Pending(ctx); err != nil || n != 1 {
		t.Fatalf("expected one pending receipt, got %d %v", n, err)
	}

	msgs := recorder.Messages()
	if len(msgs) != 1 || msgs[0].Kind != notify.KindPaymentGap {
		t.Fatalf("expected a gap notification, got %v", msgs)
	}

	// Backend recovers. Startup-style resubmission must drain the journal
	// without charging again.
	backend.setSubmitErr(nil)
	reconciled, err := flow.Resubmit(ctx)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if reconciled != 1 {
		t.Fatalf("expected one reconciled receipt, got %d", reconciled)
	}
	if backend.creditFor("pay_gap") != 1 {
		t.Fatalf("resubmission must credit exactly once, got %d", backend.creditFor("pay_gap"))
	}
	pending, _ = st.ListPendingReceipts(ctx)
	if len(pending) != 0 {
		t.Fatalf("journal must be empty after resubmission, got %v", pending)
	}
}

func TestResubmitAfterLostResponseDoesNotDoubleCredit(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	st := newTestStore(t)
	flow := newTestFlow(t, backend, StaticGateway{}, st, nil)

	receipt := api.PaymentReceipt{
		GatewayPaymentID: "pay_lost",
		GatewayOrderID:   "order_7",
		SchemeCode:       "PD2025-RAJA",
		AmountMinorUnits: 300000,
	}
	// The backend recorded the receipt but the response never arrived, so
	// the journal entry survived. Replaying it submits the same receipt a
	// second time.
	if err := backend.SubmitPaymentReceipt(ctx, receipt); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if err := st.SavePendingReceipt(ctx, store.PendingReceipt{
		GatewayPaymentID: receipt.GatewayPaymentID,
		GatewayOrderID:   receipt.GatewayOrderID,
		SchemeCode:       receipt.SchemeCode,
		AmountMinorUnits: receipt.AmountMinorUnits,
	}); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	reconciled, err := flow.Resubmit(ctx)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if reconciled != 1 {
		t.Fatalf("expected one reconciled receipt, got %d", reconciled)
	}
	if len(backend.submitted) != 2 {
		t.Fatalf("expected the receipt to be submitted twice, got %d", len(backend.submitted))
	}
	if backend.creditFor("pay_lost") != 1 {
		t.Fatalf("second submission must not credit again, got %d", backend.creditFor("pay_lost"))
	}
	pending, _ := st.ListPendingReceipts(ctx)
	if len(pending) != 0 {
		t.Fatalf("journal must drain after the replay, got %v", pending)
	}
}

func TestResubmitLeavesFailedEntries(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	st := newTestStore(t)

	if err := st.SavePendingReceipt(ctx, store.PendingReceipt{
		GatewayPaymentID: "pay_stuck",
		GatewayOrderID:   "order_9",
		SchemeCode:       "PD2025-RAJA",
		AmountMinorUnits: 300000,
	}); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	flow := newTestFlow(t, backend, StaticGateway{}, st, nil)
	backend.setSubmitErr(api.TransportError(api.EndpointPaymentSuccess, errors.New("still down")))

	reconciled, err := flow.Resubmit(ctx)
	if reconciled != 0 {
		t.Fatalf("expected no reconciliations, got %d", reconciled)
	}
	var gap *GapError
	if !errors.As(err, &gap) || gap.Receipt.GatewayPaymentID != "pay_stuck" {
		t.Fatalf("expected GapError for the stuck receipt, got %v", err)
	}
	pending, _ := st.ListPendingReceipts(ctx)
	if len(pending) != 1 {
		t.Fatalf("failed resubmission must keep the journal entry, got %v", pending)
	}
}

// brokenJournalStore fails every journal write while keeping the rest of the
// store working.
type brokenJournalStore struct {
	store.Store
}

func (brokenJournalStore) SavePendingReceipt(ctx context.Context, receipt store.PendingReceipt) error {
	return errors.New("disk full")
}

func TestGapNoticeWithoutJournalEntryPromisesNoRetry(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.setSubmitErr(api.TransportError(api.EndpointPaymentSuccess, errors.New("connection reset")))
	gateway := &fakeGateway{result: CheckoutResult{GatewayPaymentID: "pay_orphan"}}
	st := brokenJournalStore{Store: newTestStore(t)}
	recorder := &notify.Recorder{}

	flow := newTestFlow(t, backend, gateway, st, recorder)
	_, err := flow.Pay(ctx, testScheme())
	var gap *GapError
	if !errors.As(err, &gap) {
		t.Fatalf("expected GapError, got %v", err)
	}

	msgs := recorder.Messages()
	if len(msgs) != 1 || msgs[0].Kind != notify.KindPaymentGap {
		t.Fatalf("expected a gap notification, got %v", msgs)
	}
	if strings.Contains(msgs[0].Body, "automatically") {
		t.Fatalf("notice must not promise an automatic retry when nothing was journalled: %q", msgs[0].Body)
	}
	if !strings.Contains(msgs[0].Body, "pay_orphan") {
		t.Fatalf("notice must carry the payment reference: %q", msgs[0].Body)
	}
}

func TestResubmitNoJournalIsNoOp(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	flow := newTestFlow(t, backend, StaticGateway{}, newTestStore(t), nil)

	reconciled, err := flow.Resubmit(ctx)
	if err != nil || reconciled != 0 {
		t.Fatalf("empty journal must be a no-op, got %d %v", reconciled, err)
	}
	if len(backend.submitted) != 0 {
		t.Fatal("no-op resubmit must not call the backend")
	}
}
