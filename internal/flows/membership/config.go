package membership

import (
	"context"
	"fmt"
	"time"

	"portal-onboarding/internal/apiclient"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/verification"
)

type Config struct {
	MinimumFee        int    `mapstructure:"minimum_fee"`
	PasswordMinLength int    `mapstructure:"password_min_length"`
	DashboardRoute    string `mapstructure:"dashboard_route"`
	LoginRoute        string `mapstructure:"login_route"`
}

func DefaultConfig() *Config {
	return &Config{
		MinimumFee:        100,
		PasswordMinLength: 6,
		DashboardRoute:    "/member/dashboard",
		LoginRoute:        "/login",
	}
}

func (c *Config) Validate() error {
	if c.MinimumFee <= 0 {
		return fmt.Errorf("minimum_fee must be positive")
	}
	if c.PasswordMinLength <= 0 {
		return fmt.Errorf("password_min_length must be positive")
	}
	if c.DashboardRoute == "" || c.LoginRoute == "" {
		return fmt.Errorf("dashboard_route and login_route are required")
	}
	return nil
}

// Payer runs the payment handshake.
type Payer interface {
	Pay(ctx context.Context, amount int, prefill verification.Prefill) (*verification.PaymentResult, error)
}

// Applicant performs the create call.
type Applicant interface {
	Apply(ctx context.Context, payload interface{}) (*apiclient.ApplyResponse, error)
}

type ServiceDependencies struct {
	Payments  Payer
	Applicant Applicant
	Logger    logger.Logger
	Clock     func() time.Time
}
