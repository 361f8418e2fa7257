package verification

import (
	"context"

	"portal-onboarding/internal/apiclient"
	"portal-onboarding/internal/models"
)

// Outcome is how a verification round trip ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Order is a gateway order opened by the backend.
type Order struct {
	OrderID  string `json:"order_id"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

// Proof is the gateway's completion triple. It is carried verbatim; the
// backend checks the signature when the application is submitted.
type Proof struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// Complete reports whether every part of the triple is present.
func (p *Proof) Complete() bool {
	return p != nil && p.OrderID != "" && p.PaymentID != "" && p.Signature != ""
}

// Prefill is shown on the hosted checkout surface.
type Prefill struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"contact,omitempty"`
}

// CheckoutResult is what the checkout surface reports back.
type CheckoutResult struct {
	Outcome Outcome
	Proof   *Proof
	Reason  string
}

// CheckoutSurface renders an order outside the application and blocks until
// the payer completes, dismisses, or fails it.
type CheckoutSurface interface {
	Present(ctx context.Context, order Order, prefill Prefill) (CheckoutResult, error)
}

// PaymentResult is the outcome of a full pay attempt.
type PaymentResult struct {
	Outcome Outcome
	Order   *Order
	Proof   *Proof
}

// OrderCreator opens gateway orders through the backend.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amount int) (*apiclient.OrderResponse, error)
}

// AuthAPI is the backend's credential and code exchange.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*apiclient.LoginResponse, error)
	VerifyOTP(ctx context.Context, email, otp string) (*apiclient.AuthResponse, error)
}

// CredentialStatus is the credential step's verdict.
type CredentialStatus string

const (
	StatusCodeRequired  CredentialStatus = "CODE_REQUIRED"
	StatusAuthenticated CredentialStatus = "AUTHENTICATED"
)

// CredentialResult carries the token and identity once authenticated.
type CredentialResult struct {
	Status   CredentialStatus
	Token    string
	Identity *models.Identity
}
