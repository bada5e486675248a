package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/metrics"
)

// RetryingGateway retries transient failures with exponential backoff and
// maps what is left onto apperr kinds.
type RetryingGateway struct {
	Gateway
	MaxAttempts uint64
	Initial     time.Duration
	Logger      *logger.Logger
}

func NewRetryingGateway(g Gateway, maxAttempts uint64, initial time.Duration, log *logger.Logger) *RetryingGateway {
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return &RetryingGateway{Gateway: g, MaxAttempts: maxAttempts, Initial: initial, Logger: log}
}

func (r *RetryingGateway) Initialize(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	var out *Checkout
	err := r.do(ctx, "initialize", func() (err error) {
		out, err = r.Gateway.Initialize(ctx, req)
		return err
	})
	return out, err
}

func (r *RetryingGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	var out *Verification
	err := r.do(ctx, "verify", func() (err error) {
		out, err = r.Gateway.Verify(ctx, reference)
		return err
	})
	return out, err
}

func (r *RetryingGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	var out *RefundResult
	err := r.do(ctx, "refund", func() (err error) {
		out, err = r.Gateway.Refund(ctx, req)
		return err
	})
	return out, err
}

func (r *RetryingGateway) CreateSubaccount(ctx context.Context, req SubaccountRequest) (*Subaccount, error) {
	var out *Subaccount
	err := r.do(ctx, "subaccount", func() (err error) {
		out, err = r.Gateway.CreateSubaccount(ctx, req)
		return err
	})
	return out, err
}

func (r *RetryingGateway) do(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Initial
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		start := time.Now()
		err := fn()
		metrics.GatewayCall(op, err, time.Since(start))
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		r.Logger.Warn("PAYMENT", fmt.Sprintf("%s %s attempt %d failed: %v", r.Gateway.Name(), op, attempt, err))
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, r.MaxAttempts-1), ctx))
	if err == nil {
		return nil
	}
	if IsTransient(err) || ctx.Err() != nil {
		return apperr.ErrGateway.WithCause(err)
	}
	return apperr.Wrap(apperr.KindConflict, "GATEWAY_REJECTED", "payment gateway rejected the request", err)
}
