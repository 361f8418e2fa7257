package verification

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"portal-onboarding/internal/apiclient"
	apperrors "portal-onboarding/internal/common/errors"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/common/metrics"
)

const kindCode = "one_time_code"

// CodeClient runs the credential → one-time-code exchange.
type CodeClient struct {
	config *CodeConfig
	api    AuthAPI
	logger logger.Logger
}

func NewCodeClient(config *CodeConfig, api AuthAPI, log logger.Logger) *CodeClient {
	if config == nil {
		config = DefaultCodeConfig()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &CodeClient{config: config, api: api, logger: log}
}

// CodeLength is the number of characters a code must have.
func (c *CodeClient) CodeLength() int {
	return c.config.CodeLength
}

// SubmitCredentials posts email and password. AUTHENTICATED is returned when
// the backend skips the code step.
func (c *CodeClient) SubmitCredentials(ctx context.Context, email, password string) (*CredentialResult, error) {
	resp, err := c.api.Login(ctx, email, password)
	if err != nil {
		metrics.VerificationOutcomes.WithLabelValues(kindCode, "credentials_rejected").Inc()
		return nil, apperrors.FromError("login", err)
	}

	switch strings.ToUpper(resp.Status) {
	case apiclient.LoginStatusOTPRequired:
		metrics.VerificationOutcomes.WithLabelValues(kindCode, "code_required").Inc()
		c.logger.Info("One-time code required", map[string]interface{}{"email": email})
		return &CredentialResult{Status: StatusCodeRequired}, nil

	case apiclient.LoginStatusOK:
		if resp.Token == "" || resp.User == nil {
			return nil, apperrors.NewServerError("login", http.StatusOK, resp.Message)
		}
		identity := resp.User.ToIdentity()
		metrics.VerificationOutcomes.WithLabelValues(kindCode, "authenticated").Inc()
		c.logger.Info("Signed in without one-time code", map[string]interface{}{
			"email":  email,
			"userId": identity.UserID,
		})
		return &CredentialResult{Status: StatusAuthenticated, Token: resp.Token, Identity: &identity}, nil

	default:
		return nil, apperrors.NewServerError("login", http.StatusOK, resp.Message)
	}
}

// VerifyCode exchanges the code for a token. Malformed codes never leave the
// process.
func (c *CodeClient) VerifyCode(ctx context.Context, email, code string) (*CredentialResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.NewFieldError("code", "Code is required")
	}
	if len(code) != c.config.CodeLength {
		return nil, apperrors.NewFieldError("code", fmt.Sprintf("Enter the %d-character code", c.config.CodeLength))
	}

	resp, err := c.api.VerifyOTP(ctx, email, code)
	if err != nil {
		switch apiclient.StatusOf(err) {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusGone:
			msg := ""
			if stdErr, ok := apperrors.AsStandardError(err); ok && stdErr.Message != apperrors.GenericServerMessage {
				msg = stdErr.Message
			}
			metrics.VerificationOutcomes.WithLabelValues(kindCode, "invalid_code").Inc()
			c.logger.Warn("One-time code rejected", map[string]interface{}{"email": email})
			return nil, apperrors.NewInvalidOrExpiredCodeError(msg)
		}
		metrics.VerificationOutcomes.WithLabelValues(kindCode, string(OutcomeFailed)).Inc()
		return nil, apperrors.FromError("verify_otp", err)
	}
	if resp.Token == "" || resp.User == nil {
		metrics.VerificationOutcomes.WithLabelValues(kindCode, string(OutcomeFailed)).Inc()
		return nil, apperrors.NewServerError("verify_otp", http.StatusOK, "")
	}

	identity := resp.User.ToIdentity()
	metrics.VerificationOutcomes.WithLabelValues(kindCode, "authenticated").Inc()
	c.logger.Info("One-time code verified", map[string]interface{}{
		"email":  email,
		"userId": identity.UserID,
	})
	return &CredentialResult{Status: StatusAuthenticated, Token: resp.Token, Identity: &identity}, nil
}
