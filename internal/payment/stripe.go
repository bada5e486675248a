package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-marketplace/internal/logger"
)

// Stripe requires hosted checkout sessions to live at least this long.
const minSessionLifetime = 30 * time.Minute

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// StripeGateway uses Stripe Checkout. The checkout session id is the payment
// reference; organizer payouts go through Connect destination charges.
type StripeGateway struct {
	client        *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	log           *logger.Logger
}

func NewStripeGateway(secretKey, webhookSecret, clientBaseURL string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}

	base := strings.TrimRight(clientBaseURL, "/")
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeGateway{
		client:        sc,
		webhookSecret: webhookSecret,
		successURL:    base + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:     base + "/checkout/cancel?session_id={CHECKOUT_SESSION_ID}",
		log:           log,
	}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) Initialize(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	expires := req.ExpiresAt
	if floor := time.Now().Add(minSessionLifetime); expires.Before(floor) {
		expires = floor
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderID),
		CustomerEmail:     stripe.String(req.Email),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ExpiresAt:         stripe.Int64(expires.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(int64(req.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": req.OrderID, "reference": req.Reference},
		},
	}
	if req.SubaccountID != "" {
		params.PaymentIntentData.ApplicationFeeAmount = stripe.Int64(req.PlatformFee)
		params.PaymentIntentData.TransferData = &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
			Destination: stripe.String(req.SubaccountID),
		}
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)
	params.SetIdempotencyKey("checkout-" + req.Reference)

	session, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for order %s: %v", req.OrderID, err))
		return nil, classify(err)
	}

	g.log.Info("STRIPE", fmt.Sprintf("Created checkout session %s for order %s", session.ID, req.OrderID))
	return &Checkout{Reference: session.ID, AuthorizationURL: session.URL}, nil
}

func (g *StripeGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	session, err := g.client.CheckoutSessions.Get(reference, params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to fetch checkout session %s: %v", reference, err))
		return nil, classify(err)
	}

	v := &Verification{
		Reference: session.ID,
		Amount:    session.AmountTotal,
		Currency:  strings.ToLower(string(session.Currency)),
		Status:    StatusPending,
	}
	if session.PaymentIntent != nil {
		v.PaymentID = session.PaymentIntent.ID
	}

	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		v.Status = StatusPaid
	case session.Status == stripe.CheckoutSessionStatusExpired:
		v.Status = StatusFailed
		v.FailureReason = "checkout session expired"
	case session.PaymentIntent != nil && session.PaymentIntent.Status == stripe.PaymentIntentStatusCanceled:
		v.Status = StatusFailed
		v.FailureReason = "payment cancelled"
	}
	return v, nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	paymentID := req.PaymentID
	if paymentID == "" {
		v, err := g.Verify(ctx, req.Reference)
		if err != nil {
			return nil, err
		}
		paymentID = v.PaymentID
	}
	if paymentID == "" {
		return nil, fmt.Errorf("no payment intent for %s", req.Reference)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentID),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	params.AddMetadata("reference", req.Reference)
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	refund, err := g.client.Refunds.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Refund of %d on %s failed: %v", req.Amount, paymentID, err))
		return nil, classify(err)
	}
	g.log.Info("STRIPE", fmt.Sprintf("Refund %s created for %s (%s)", refund.ID, paymentID, refund.Status))
	return &RefundResult{ID: refund.ID, Status: string(refund.Status)}, nil
}

func (g *StripeGateway) CreateSubaccount(ctx context.Context, req SubaccountRequest) (*Subaccount, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(req.Email),
		BusinessProfile: &stripe.AccountBusinessProfileParams{
			Name: stripe.String(req.BusinessName),
		},
	}
	params.Context = ctx
	params.AddMetadata("bank_code", req.BankCode)
	params.AddMetadata("account_number", req.AccountNumber)

	acct, err := g.client.Accounts.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to create connected account for %s: %v", req.Email, err))
		return nil, classify(err)
	}
	return &Subaccount{ID: acct.ID, Active: acct.ChargesEnabled}, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	opts := webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, opts)
	if err != nil {
		g.log.LogSecurity("WEBHOOK_SIGNATURE", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Reference = session.ID
	}
	return out, nil
}

// classify wraps provider failures that are worth retrying.
func classify(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode >= http.StatusInternalServerError || serr.HTTPStatusCode == http.StatusTooManyRequests {
			return &TransientError{Err: err}
		}
		return err
	}
	// Not an API response, so the request never completed.
	return &TransientError{Err: err}
}
