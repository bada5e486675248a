package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockGateway settles payments in memory. Each reference starts pending;
// tests and local development decide the outcome with SetOutcome.
type MockGateway struct {
	mu             sync.Mutex
	payments       map[string]*mockPayment
	refunds        map[string]int64
	WebhookSecret  string
	BaseURL        string
	DefaultOutcome string

	// FailNext makes the next n calls of an operation return a transient error.
	failNext map[string]int
	calls    map[string]int
}

type mockPayment struct {
	checkout CheckoutRequest
	status   string
	reason   string
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		payments:       make(map[string]*mockPayment),
		refunds:        make(map[string]int64),
		failNext:       make(map[string]int),
		calls:          make(map[string]int),
		BaseURL:        "https://checkout.mock.local/pay/",
		DefaultOutcome: StatusPending,
	}
}

func (m *MockGateway) Name() string { return "mock" }

// SetOutcome decides what Verify reports for reference.
func (m *MockGateway) SetOutcome(reference, status, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		p = &mockPayment{}
		m.payments[reference] = p
	}
	p.status = status
	p.reason = reason
}

func (m *MockGateway) FailNext(operation string, n int) {
	m.mu.Lock()
	m.failNext[operation] = n
	m.mu.Unlock()
}

func (m *MockGateway) Calls(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[operation]
}

// Refunded reports the total refunded against reference.
func (m *MockGateway) Refunded(reference string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refunds[reference]
}

func (m *MockGateway) enter(operation string) error {
	m.calls[operation]++
	if m.failNext[operation] > 0 {
		m.failNext[operation]--
		return &TransientError{Err: fmt.Errorf("mock %s unavailable", operation)}
	}
	return nil
}

func (m *MockGateway) Initialize(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("initialize"); err != nil {
		return nil, err
	}
	p, ok := m.payments[req.Reference]
	if !ok {
		p = &mockPayment{status: m.DefaultOutcome}
		m.payments[req.Reference] = p
	}
	p.checkout = req
	return &Checkout{Reference: req.Reference, AuthorizationURL: m.BaseURL + req.Reference}, nil
}

func (m *MockGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("verify"); err != nil {
		return nil, err
	}
	p, ok := m.payments[reference]
	if !ok {
		return nil, fmt.Errorf("unknown reference %s", reference)
	}
	return &Verification{
		Reference:     reference,
		Status:        p.status,
		Amount:        p.checkout.Amount,
		Currency:      p.checkout.Currency,
		PaymentID:     "pi_" + reference,
		FailureReason: p.reason,
	}, nil
}

func (m *MockGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("refund"); err != nil {
		return nil, err
	}
	p, ok := m.payments[req.Reference]
	if !ok || p.status != StatusPaid {
		return nil, fmt.Errorf("reference %s has no captured payment", req.Reference)
	}
	if m.refunds[req.Reference]+req.Amount > p.checkout.Amount {
		return nil, errors.New("refund exceeds captured amount")
	}
	m.refunds[req.Reference] += req.Amount
	return &RefundResult{ID: "re_" + uuid.NewString()[:8], Status: "succeeded"}, nil
}

func (m *MockGateway) CreateSubaccount(ctx context.Context, req SubaccountRequest) (*Subaccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("subaccount"); err != nil {
		return nil, err
	}
	if req.AccountNumber == "" {
		return nil, errors.New("account number is required")
	}
	return &Subaccount{ID: "acct_" + uuid.NewString()[:12], Active: true}, nil
}

type mockWebhook struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Reference string `json:"reference"`
}

// ParseWebhook accepts {"id","type","reference"} bodies signed with
// hex(HMAC-SHA256(secret, body)). An empty secret disables the check.
func (m *MockGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if m.WebhookSecret != "" && !hmac.Equal([]byte(signature), []byte(SignMockWebhook(m.WebhookSecret, payload))) {
		return nil, ErrInvalidSignature
	}
	var w mockWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	return &WebhookEvent{ID: w.ID, Type: w.Type, Reference: w.Reference}, nil
}

func SignMockWebhook(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
