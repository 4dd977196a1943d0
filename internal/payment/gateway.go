package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrCheckoutCancelled reports that the user backed out of the gateway's
// interactive flow. It is a benign outcome, not a system error.
var ErrCheckoutCancelled = errors.New("checkout cancelled by user")

// Gateway represents the external payment gateway's interactive checkout.
// The step is user-driven and cannot be retried by the client.
type Gateway interface {
	OpenCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)
}

// CheckoutRequest parameterises one interactive checkout attempt.
type CheckoutRequest struct {
	OrderID          string
	AmountMinorUnits int64
	Currency         string
	KeyID            string
	MerchantName     string
	Description      string
}

// CheckoutResult is the gateway's proof that the charge completed.
type CheckoutResult struct {
	GatewayPaymentID string
	GatewayOrderID   string
}

// StaticGateway simulates a gateway that approves every checkout with a
// synthetic payment reference. It backs development and test wiring.
type StaticGateway struct{}

// OpenCheckout approves the request immediately.
func (StaticGateway) OpenCheckout(_ context.Context, req CheckoutRequest) (CheckoutResult, error) {
	return CheckoutResult{
		GatewayPaymentID: "pay_" + uuid.NewString(),
		GatewayOrderID:   req.OrderID,
	}, nil
}
