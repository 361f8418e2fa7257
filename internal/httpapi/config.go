package httpapi

import (
	"context"
	"fmt"
	"time"

	"portal-onboarding/internal/common/database"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/drafts"
	"portal-onboarding/internal/flows/membership"
	"portal-onboarding/internal/models"
	"portal-onboarding/internal/verification"
)

type Config struct {
	CookieName    string
	SecureCookies bool
	RateLimit     float64
	RateBurst     int
	FlowTTL       time.Duration
	Membership    *membership.Config
	Payment       *verification.PaymentConfig
	Code          *verification.CodeConfig
}

func DefaultConfig() *Config {
	return &Config{
		CookieName: "portal_sid",
		RateLimit:  2,
		RateBurst:  5,
		FlowTTL:    time.Hour,
		Membership: membership.DefaultConfig(),
		Payment:    verification.DefaultPaymentConfig(),
		Code:       verification.DefaultCodeConfig(),
	}
}

func (c *Config) Validate() error {
	if c.CookieName == "" {
		return fmt.Errorf("cookie_name is required")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	if c.RateBurst <= 0 {
		return fmt.Errorf("rate_burst must be positive")
	}
	if c.FlowTTL <= 0 {
		return fmt.Errorf("flow_ttl must be positive")
	}
	if c.Membership == nil || c.Payment == nil || c.Code == nil {
		return fmt.Errorf("membership, payment and code settings are required")
	}
	if err := c.Membership.Validate(); err != nil {
		return fmt.Errorf("membership: %w", err)
	}
	if err := c.Payment.Validate(); err != nil {
		return fmt.Errorf("payment: %w", err)
	}
	if err := c.Code.Validate(); err != nil {
		return fmt.Errorf("code: %w", err)
	}
	return nil
}

// BackendAPI is the slice of the portal backend the surface calls.
type BackendAPI interface {
	verification.AuthAPI
	verification.OrderCreator
	membership.Applicant
}

// SessionService establishes and resolves browser sessions.
type SessionService interface {
	// Establish stores a session under a freshly minted id and drops previous.
	Establish(ctx context.Context, previous, token string, user models.Identity) (*models.Session, error)
	Current(ctx context.Context, sid string) (*models.Session, error)
	Logout(ctx context.Context, sid string) error
}

// DraftStore persists wizard snapshots, keyed by wizard id and owned by a
// browser session.
type DraftStore interface {
	Save(ctx context.Context, d *drafts.Draft) error
	Load(ctx context.Context, id string) (*drafts.Draft, error)
	LatestForOwner(ctx context.Context, owner string) (*drafts.Draft, error)
	Reassign(ctx context.Context, from, to string) (int64, error)
	Delete(ctx context.Context, id string) error
}

type ServiceDependencies struct {
	// Backend returns a client that authenticates with token; "" means anonymous.
	Backend  func(token string) BackendAPI
	Sessions SessionService
	Drafts   DraftStore
	Health   map[string]database.Pinger
	Logger   logger.Logger
	Clock    func() time.Time
}
