// Package session establishes, looks up and tears down signed-in sessions.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "portal-onboarding/internal/common/errors"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/models"
)

type ServiceDependencies struct {
	Store  Store
	Logger logger.Logger
	Clock  func() time.Time
}

// Establisher binds an authenticated identity to a browser session.
type Establisher struct {
	config *Config
	store  Store
	logger logger.Logger
	now    func() time.Time
}

func NewEstablisher(deps ServiceDependencies, config *Config) *Establisher {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Establisher{
		config: config,
		store:  deps.Store,
		logger: deps.Logger,
		now:    deps.Clock,
	}
}

// Establish persists token and user under a newly minted session id and
// drops whatever was stored under previous. The session lives until the
// token's exp claim, or for the configured TTL when the token carries none.
func (e *Establisher) Establish(ctx context.Context, previous, token string, user models.Identity) (*models.Session, error) {
	if token == "" {
		return nil, apperrors.NewInternalError(fmt.Errorf("cannot establish a session without a token"))
	}
	sid := uuid.NewString()

	now := e.now()
	expiresAt := now.Add(e.config.TTL)
	if exp, ok := tokenExpiry(token); ok {
		if !exp.After(now) {
			e.logger.Warn("Refusing to establish session with expired token", map[string]interface{}{
				"userId": user.UserID,
			})
			return nil, apperrors.NewSessionExpiredError("token already expired")
		}
		expiresAt = exp
	}

	user.Role = models.NormalizeRole(string(user.Role))
	sess := &models.Session{
		ID:        sid,
		Token:     token,
		User:      user,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := e.store.Save(ctx, sess, expiresAt.Sub(now)); err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	if previous != "" {
		if err := e.store.Delete(ctx, previous); err != nil {
			e.logger.Warn("Failed to drop pre-sign-in session", map[string]interface{}{
				"sessionId": previous,
				"error":     err.Error(),
			})
		}
	}

	e.logger.Info("Session established", map[string]interface{}{
		"sessionId": sid,
		"userId":    user.UserID,
		"role":      string(user.Role),
		"expiresAt": expiresAt,
	})
	return sess, nil
}

// Current returns the live session for sid. A session whose token expired is
// deleted and reported as expired.
func (e *Establisher) Current(ctx context.Context, sid string) (*models.Session, error) {
	if sid == "" {
		return nil, apperrors.NewSessionNotFoundError(sid)
	}
	sess, err := e.store.Load(ctx, sid)
	if err != nil {
		return nil, err
	}
	if !e.now().Before(sess.ExpiresAt) {
		if err := e.store.Delete(ctx, sid); err != nil {
			e.logger.Warn("Failed to remove expired session", map[string]interface{}{
				"sessionId": sid,
				"error":     err.Error(),
			})
		}
		return nil, apperrors.NewSessionExpiredError("session token expired")
	}
	return sess, nil
}

// Logout tears down the session. Logging out twice is not an error.
func (e *Establisher) Logout(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	if err := e.store.Delete(ctx, sid); err != nil {
		return apperrors.NewInternalError(err)
	}
	e.logger.Info("Session closed", map[string]interface{}{"sessionId": sid})
	return nil
}

// tokenExpiry reads the exp claim without verifying the signature. The
// backend remains the authority on token validity.
func tokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
