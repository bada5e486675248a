// Package payment abstracts the external payment provider. The order
// orchestrator only talks to Gateway; Stripe and the in-memory mock implement
// it, and RetryingGateway adds bounded retries for transient failures.
package payment

import (
	"context"
	"errors"
	"time"
)

const (
	StatusPaid    = "paid"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

type CheckoutRequest struct {
	Reference    string
	OrderID      string
	Email        string
	Description  string
	UnitAmount   int64
	Quantity     int
	Amount       int64
	Currency     string
	SubaccountID string
	PlatformFee  int64
	ExpiresAt    time.Time
}

// Checkout is the hosted payment page for one attempt. Reference may differ
// from the requested one when the provider assigns its own identifiers.
type Checkout struct {
	Reference        string
	AuthorizationURL string
}

type Verification struct {
	Reference     string
	Status        string
	Amount        int64
	Currency      string
	PaymentID     string
	FailureReason string
}

type RefundRequest struct {
	Reference string
	PaymentID string
	Amount    int64
	Reason    string
}

type RefundResult struct {
	ID     string
	Status string
}

type SubaccountRequest struct {
	Email         string
	BusinessName  string
	BankCode      string
	AccountNumber string
	FeePercent    int64
}

type Subaccount struct {
	ID     string
	Active bool
}

// WebhookEvent is a verified provider notification about one payment.
type WebhookEvent struct {
	ID        string
	Type      string
	Reference string
}

type Gateway interface {
	Name() string
	Initialize(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	CreateSubaccount(ctx context.Context, req SubaccountRequest) (*Subaccount, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// TransientError marks a failure worth retrying: timeouts, 5xx, throttling.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient gateway error: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t) || errors.Is(err, context.DeadlineExceeded)
}

var ErrInvalidSignature = errors.New("invalid webhook signature")
