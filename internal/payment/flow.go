// Package payment drives the three-step reconciliation saga: create a
// backend order, hand off to the external gateway, then record the gateway's
// receipt back on the backend.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"digigold/internal/api"
	"digigold/internal/metrics"
	"digigold/internal/notify"
	"digigold/internal/store"
)

// Stage labels the saga states.
type Stage string

const (
	StageOrdered        Stage = "ordered"
	StageGatewayPending Stage = "gateway_pending"
	StageReconciled     Stage = "reconciled"
)

// GapError reports that money moved at the gateway but the backend has not
// recorded it. It must never be silently discarded: the receipt stays in the
// local journal and can safely be resubmitted, since the backend
// deduplicates on the gateway payment id.
type GapError struct {
	Receipt api.PaymentReceipt
	Err     error
}

func (e *GapError) Error() string {
	return fmt.Sprintf("payment %s received but not recorded: %v", e.Receipt.GatewayPaymentID, e.Err)
}

func (e *GapError) Unwrap() error { return e.Err }

// Backend is the slice of the API client the saga needs.
type Backend interface {
	CreatePaymentOrder(ctx context.Context, schemeCode string, amountMinorUnits int64) (api.PaymentOrder, error)
	SubmitPaymentReceipt(ctx context.Context, receipt api.PaymentReceipt) error
}

// Config carries the merchant checkout parameters.
type Config struct {
	Currency     string
	KeyID        string
	MerchantName string
}

// Result is the outcome of one completed saga run.
type Result struct {
	Stage   Stage
	Receipt api.PaymentReceipt
}

// Flow coordinates the saga. The store journals receipts between gateway
// success and backend reconciliation so a crash in that window is
// recoverable instead of silently lost.
type Flow struct {
	logger   *slog.Logger
	backend  Backend
	gateway  Gateway
	store    store.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	cfg      Config

	// onReconciled runs after a successful reconciliation, typically a
	// scheme refresh so the UI reflects the new progress.
	onReconciled func(ctx context.Context)
}

// NewFlow constructs the payment flow.
func NewFlow(cfg Config, backend Backend, gateway Gateway, st store.Store, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Flow {
	if gateway == nil {
		gateway = StaticGateway{}
	}
	return &Flow{
		logger:   logger.With("component", "payment"),
		backend:  backend,
		gateway:  gateway,
		store:    st,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
	}
}

// OnReconciled registers the post-reconciliation callback.
func (f *Flow) OnReconciled(fn func(ctx context.Context)) {
	f.onReconciled = fn
}

// Pay runs the saga for one installment of the given scheme.
func (f *Flow) Pay(ctx context.Context, scheme api.Scheme) (Result, error) {
	amountMinor := int64(math.Round(scheme.PayAmount * 100))

	// Step 1: order creation. Fails closed; nothing has changed anywhere.
	order, err := f.backend.CreatePaymentOrder(ctx, scheme.SchemeCode, amountMinor)
	if err != nil {
		f.stage(StageOrdered, "error")
		f.notifyError(ctx, "Payment could not be started", err)
		return Result{}, err
	}
	f.stage(StageOrdered, "success")
	f.logger.Info("payment order created", "order_id", order.OrderID, "scheme", scheme.SchemeCode)

	// Step 2: interactive gateway checkout. Not retriable by the client; a
	// cancellation is a benign outcome.
	checkout, err := f.gateway.OpenCheckout(ctx, CheckoutRequest{
		OrderID:          order.OrderID,
		AmountMinorUnits: order.AmountMinorUnits,
		Currency:         f.cfg.Currency,
		KeyID:            f.cfg.KeyID,
		MerchantName:     f.cfg.MerchantName,
		Description:      "Installment for " + scheme.SchemeCode,
	})
	if err != nil {
		if errors.Is(err, ErrCheckoutCancelled) {
			f.stage(StageGatewayPending, "cancelled")
			f.notify(ctx, notify.Message{
				Kind:  notify.KindError,
				Title: "Payment not completed",
				Body:  "The payment was cancelled before completion. You have not been charged.",
			})
			return Result{}, err
		}
		f.stage(StageGatewayPending, "error")
		f.notifyError(ctx, "Payment failed", err)
		return Result{}, err
	}
	f.stage(StageGatewayPending, "success")

	receipt := api.PaymentReceipt{
		GatewayPaymentID: checkout.GatewayPaymentID,
		GatewayOrderID:   checkout.GatewayOrderID,
		SchemeCode:       scheme.SchemeCode,
		AmountMinorUnits: order.AmountMinorUnits,
	}

	// The charge exists at the gateway from this point on. Journal the
	// receipt before telling the backend, so a crash here is recoverable.
	journalErr := f.store.SavePendingReceipt(ctx, pendingFromReceipt(receipt))
	if journalErr != nil {
		f.logger.Error("journalling receipt failed", "payment_id", receipt.GatewayPaymentID, "error", journalErr)
	}

	// Step 3: receipt submission, idempotent on the gateway payment id.
	if err := f.backend.SubmitPaymentReceipt(ctx, receipt); err != nil {
		f.stage(StageReconciled, "gap")
		gap := &GapError{Receipt: receipt, Err: err}
		f.logger.Error("receipt submission failed, reconciliation pending", "payment_id", receipt.GatewayPaymentID, "error", err)
		body := "Your payment went through but could not be recorded yet. It will be retried automatically; you will not be charged twice."
		if journalErr != nil {
			// Without a journal entry there is nothing for the automatic
			// retry to pick up.
			body = fmt.Sprintf("Your payment went through but could not be recorded. Keep your payment reference %s and retry from the payments screen; you will not be charged twice.", receipt.GatewayPaymentID)
		}
		f.notify(ctx, notify.Message{
			Kind:  notify.KindPaymentGap,
			Title: "Payment received but not recorded",
			Body:  body,
		})
		return Result{Stage: StageGatewayPending, Receipt: receipt}, gap
	}

	f.finishReconciled(ctx, receipt)
	return Result{Stage: StageReconciled, Receipt: receipt}, nil
}

// Pending returns how many receipts are journalled awaiting reconciliation.
func (f *Flow) Pending(ctx context.Context) (int, error) {
	pending, err := f.store.ListPendingReceipts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending receipts: %w", err)
	}
	return len(pending), nil
}

// Resubmit replays journalled receipts against the backend. It runs once at
// startup and may be invoked after a gap error. Each success removes its
// journal entry; failures leave the entry for the next attempt. It returns
// how many receipts were reconciled.
func (f *Flow) Resubmit(ctx context.Context) (int, error) {
	pending, err := f.store.ListPendingReceipts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending receipts: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	f.logger.Info("resubmitting pending receipts", "count", len(pending))
	reconciled := 0
	var firstErr error
	for _, entry := range pending {
		receipt := api.PaymentReceipt{
			GatewayPaymentID: entry.GatewayPaymentID,
			GatewayOrderID:   entry.GatewayOrderID,
			SchemeCode:       entry.SchemeCode,
			AmountMinorUnits: entry.AmountMinorUnits,
		}
		if err := f.backend.SubmitPaymentReceipt(ctx, receipt); err != nil {
			f.stage(StageReconciled, "gap")
			f.logger.Warn("receipt resubmission failed", "payment_id", receipt.GatewayPaymentID, "error", err)
			if firstErr == nil {
				firstErr = &GapError{Receipt: receipt, Err: err}
			}
			continue
		}
		f.finishReconciled(ctx, receipt)
		reconciled++
	}
	return reconciled, firstErr
}

func (f *Flow) finishReconciled(ctx context.Context, receipt api.PaymentReceipt) {
	if err := f.store.DeletePendingReceipt(ctx, receipt.GatewayPaymentID); err != nil {
		f.logger.Warn("removing reconciled receipt from journal failed", "payment_id", receipt.GatewayPaymentID, "error", err)
	}
	f.stage(StageReconciled, "success")
	f.logger.Info("payment reconciled", "payment_id", receipt.GatewayPaymentID, "scheme", receipt.SchemeCode)
	f.notify(ctx, notify.Message{
		Kind:  notify.KindPaymentDone,
		Title: "Payment recorded",
		Body:  fmt.Sprintf("Your installment for %s has been recorded.", receipt.SchemeCode),
	})
	if f.onReconciled != nil {
		f.onReconciled(ctx)
	}
}

func (f *Flow) stage(stage Stage, status string) {
	if f.metrics != nil {
		f.metrics.PaymentStages.WithLabelValues(string(stage), status).Inc()
	}
}

func (f *Flow) notify(ctx context.Context, msg notify.Message) {
	if f.notifier != nil {
		_ = f.notifier.Notify(ctx, msg)
	}
}

func (f *Flow) notifyError(ctx context.Context, title string, err error) {
	f.notify(ctx, notify.Message{Kind: notify.KindError, Title: title, Body: api.UserMessage(err)})
}

func pendingFromReceipt(receipt api.PaymentReceipt) store.PendingReceipt {
	return store.PendingReceipt{
		GatewayPaymentID: receipt.GatewayPaymentID,
		GatewayOrderID:   receipt.GatewayOrderID,
		SchemeCode:       receipt.SchemeCode,
		AmountMinorUnits: receipt.AmountMinorUnits,
		CreatedAt:        time.Now().UTC(),
	}
}
