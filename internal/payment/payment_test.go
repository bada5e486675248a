package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/logger"
)

func checkoutReq(ref string) CheckoutRequest {
	return CheckoutRequest{Reference: ref, OrderID: "o1", Amount: 5000, UnitAmount: 2500, Quantity: 2, Currency: "ngn"}
}

func TestMockGatewayLifecycle(t *testing.T) {
	g := NewMockGateway()
	ctx := context.Background()

	co, err := g.Initialize(ctx, checkoutReq("TXN-1"))
	require.NoError(t, err)
	assert.Equal(t, "TXN-1", co.Reference)
	assert.Contains(t, co.AuthorizationURL, "TXN-1")

	v, err := g.Verify(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, v.Status)

	_, err = g.Refund(ctx, RefundRequest{Reference: "TXN-1", Amount: 100})
	assert.Error(t, err, "nothing captured yet")

	g.SetOutcome("TXN-1", StatusPaid, "")
	v, err = g.Verify(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, v.Status)
	assert.Equal(t, int64(5000), v.Amount)

	_, err = g.Refund(ctx, RefundRequest{Reference: "TXN-1", Amount: 3000})
	require.NoError(t, err)
	_, err = g.Refund(ctx, RefundRequest{Reference: "TXN-1", Amount: 3000})
	assert.Error(t, err)
	assert.Equal(t, int64(3000), g.Refunded("TXN-1"))
}

func TestMockWebhookSignature(t *testing.T) {
	g := NewMockGateway()
	g.WebhookSecret = "whsec"
	body := []byte(`{"id":"evt_1","type":"charge.success","reference":"TXN-9"}`)

	ev, err := g.ParseWebhook(body, SignMockWebhook("whsec", body))
	require.NoError(t, err)
	assert.Equal(t, "TXN-9", ev.Reference)

	_, err = g.ParseWebhook(body, "bad")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestRetryingGatewayRecoversFromTransientFailures(t *testing.T) {
	mock := NewMockGateway()
	mock.FailNext("initialize", 2)
	g := NewRetryingGateway(mock, 3, time.Millisecond, logger.NewNop())

	co, err := g.Initialize(context.Background(), checkoutReq("TXN-2"))
	require.NoError(t, err)
	assert.Equal(t, "TXN-2", co.Reference)
	assert.Equal(t, 3, mock.Calls("initialize"))
}

func TestRetryingGatewayGivesUp(t *testing.T) {
	mock := NewMockGateway()
	mock.FailNext("initialize", 5)
	g := NewRetryingGateway(mock, 3, time.Millisecond, logger.NewNop())

	_, err := g.Initialize(context.Background(), checkoutReq("TXN-3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrGateway)
	assert.True(t, apperr.IsTransient(err))
	assert.Equal(t, 3, mock.Calls("initialize"))
}

func TestRetryingGatewayDoesNotRetryRejections(t *testing.T) {
	mock := NewMockGateway()
	g := NewRetryingGateway(mock, 3, time.Millisecond, logger.NewNop())

	_, err := g.Verify(context.Background(), "unknown")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 1, mock.Calls("verify"))
}

func TestClassifyStripeErrors(t *testing.T) {
	assert.True(t, IsTransient(classify(&stripe.Error{HTTPStatusCode: 503})))
	assert.True(t, IsTransient(classify(&stripe.Error{HTTPStatusCode: 429})))
	assert.False(t, IsTransient(classify(&stripe.Error{HTTPStatusCode: 402})))
	assert.True(t, IsTransient(classify(errors.New("connection reset"))))
}
