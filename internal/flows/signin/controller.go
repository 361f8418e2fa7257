// Package signin implements the credential and one-time-code sign-in flow.
package signin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "portal-onboarding/internal/common/errors"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/common/metrics"
	"portal-onboarding/internal/common/validation"
	"portal-onboarding/internal/models"
	"portal-onboarding/internal/session"
	"portal-onboarding/internal/verification"
)

const flowName = "signin"

type Phase string

const (
	PhaseCredentials   Phase = "credentials"
	PhaseCodePending   Phase = "code_pending"
	PhaseAuthenticated Phase = "authenticated"
)

const (
	FieldEmail    = "email"
	FieldPassword = "password"
	FieldCode     = "code"
)

const (
	opCredentials = "credentials"
	opCode        = "code"
)

// Verifier is the credential and code exchange.
type Verifier interface {
	SubmitCredentials(ctx context.Context, email, password string) (*verification.CredentialResult, error)
	VerifyCode(ctx context.Context, email, code string) (*verification.CredentialResult, error)
	CodeLength() int
}

// Establisher binds the authenticated identity to the browser session.
type Establisher interface {
	Establish(ctx context.Context, previous, token string, user models.Identity) (*models.Session, error)
}

type ServiceDependencies struct {
	Verifier Verifier
	Sessions Establisher
	Logger   logger.Logger
	Clock    func() time.Time
}

type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is the result of the last network round trip.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Redirect string      `json:"redirect,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// Controller owns one sign-in attempt. The password and code are held only in
// memory and never appear in State.
type Controller struct {
	mu     sync.Mutex
	id     string
	sid    string
	deps   ServiceDependencies
	logger logger.Logger

	phase    Phase
	email    string
	password string
	code     string
	errors   map[string]string
	busy     string
	outcome  *Outcome
	session  *models.Session

	updatedAt time.Time
}

// NewController starts a flow in the credentials phase. sid is the browser
// session in use before sign-in; it is replaced once the flow authenticates.
func NewController(id, sid string, deps ServiceDependencies) *Controller {
	if id == "" {
		id = uuid.NewString()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Controller{
		id:        id,
		sid:       sid,
		deps:      deps,
		logger:    deps.Logger.WithFields(map[string]interface{}{"flow": flowName, "flowId": id}),
		phase:     PhaseCredentials,
		errors:    make(map[string]string),
		updatedAt: deps.Clock(),
	}
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Session is the established session once the flow is authenticated.
func (c *Controller) Session() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetField stores one input. Credentials are editable only before a code was
// requested; the code only while one is pending.
func (c *Controller) SetField(field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch field {
	case FieldEmail, FieldPassword:
		if c.phase != PhaseCredentials {
			return apperrors.NewInvalidTransitionError("credentials are locked while a code is pending")
		}
		if field == FieldEmail {
			c.email = strings.TrimSpace(value)
		} else {
			c.password = value
		}
	case FieldCode:
		if c.phase != PhaseCodePending {
			return apperrors.NewInvalidTransitionError("no code has been requested")
		}
		c.code = strings.TrimSpace(value)
	default:
		return apperrors.NewFieldError(field, "Unknown field")
	}

	delete(c.errors, field)
	c.updatedAt = c.deps.Clock()
	return nil
}

// SubmitCredentials posts email and password. The flow moves to code_pending
// or, when the backend skips the code, straight to authenticated.
func (c *Controller) SubmitCredentials(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	if err := c.guard(PhaseCredentials); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	errs := make(map[string]string)
	switch {
	case c.email == "":
		errs[FieldEmail] = "Email is required"
	case !validation.ValidateEmail(c.email):
		errs[FieldEmail] = "Enter a valid email address"
	}
	if c.password == "" {
		errs[FieldPassword] = "Password is required"
	}
	if len(errs) > 0 {
		c.errors = errs
		c.recordTransition("blocked")
		c.mu.Unlock()
		return nil, apperrors.NewValidationError(errs)
	}

	email, password := c.email, c.password
	c.busy = opCredentials
	c.outcome = nil
	c.mu.Unlock()

	metrics.OperationsInFlight.WithLabelValues(opCredentials).Inc()
	res, err := c.deps.Verifier.SubmitCredentials(ctx, email, password)
	metrics.OperationsInFlight.WithLabelValues(opCredentials).Dec()

	return c.complete(ctx, res, err)
}

// VerifyCode exchanges the pending code for a session.
func (c *Controller) VerifyCode(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	if err := c.guard(PhaseCodePending); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	email, code := c.email, c.code
	c.busy = opCode
	c.outcome = nil
	c.mu.Unlock()

	metrics.OperationsInFlight.WithLabelValues(opCode).Inc()
	res, err := c.deps.Verifier.VerifyCode(ctx, email, code)
	metrics.OperationsInFlight.WithLabelValues(opCode).Dec()

	return c.complete(ctx, res, err)
}

// UseDifferentEmail abandons the pending code and returns to the credentials
// phase. No new code is requested until credentials are submitted again.
func (c *Controller) UseDifferentEmail() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy != "" {
		return apperrors.NewOperationInFlightError(c.busy)
	}
	if c.phase != PhaseCodePending {
		return apperrors.NewInvalidTransitionError("no code is pending")
	}
	c.phase = PhaseCredentials
	c.code = ""
	c.password = ""
	c.errors = make(map[string]string)
	c.outcome = nil
	c.recordTransition("reset")
	c.updatedAt = c.deps.Clock()
	return nil
}

func (c *Controller) guard(phase Phase) error {
	if c.busy != "" {
		return apperrors.NewOperationInFlightError(c.busy)
	}
	if c.phase != phase {
		return apperrors.NewInvalidTransitionError("operation not available in phase " + string(c.phase))
	}
	return nil
}

// fail records a failed round trip. Field errors stay on their fields; other
// failures surface the server's message.
func (c *Controller) fail(err error) (*Outcome, error) {
	stdErr := apperrors.FromError(flowName, err)
	for f, msg := range stdErr.Fields {
		c.errors[f] = msg
	}
	c.outcome = &Outcome{Kind: OutcomeFailure, Message: stdErr.Message}
	c.recordTransition("failed")
	c.updatedAt = c.deps.Clock()
	c.logger.Warn("Sign-in step failed", map[string]interface{}{
		"phase":     string(c.phase),
		"errorCode": string(stdErr.Code),
	})
	return c.outcome, stdErr
}

// complete settles a verifier round trip. The operation stays busy while the
// session is established, but the lock is released around that call.
func (c *Controller) complete(ctx context.Context, res *verification.CredentialResult, err error) (*Outcome, error) {
	c.mu.Lock()
	if err != nil {
		c.busy = ""
		defer c.mu.Unlock()
		return c.fail(err)
	}
	if res.Status == verification.StatusCodeRequired {
		c.busy = ""
		c.phase = PhaseCodePending
		c.code = ""
		c.errors = make(map[string]string)
		c.recordTransition("code_required")
		c.updatedAt = c.deps.Clock()
		c.mu.Unlock()
		return nil, nil
	}
	if res.Identity == nil {
		c.busy = ""
		defer c.mu.Unlock()
		return c.fail(apperrors.NewInternalError(fmt.Errorf("authenticated without an identity")))
	}
	previous := c.sid
	c.mu.Unlock()

	sess, err := c.deps.Sessions.Establish(ctx, previous, res.Token, *res.Identity)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = ""
	if err != nil {
		return c.fail(err)
	}

	c.session = sess
	c.sid = sess.ID
	c.phase = PhaseAuthenticated
	c.password = ""
	c.code = ""
	c.errors = make(map[string]string)
	c.outcome = &Outcome{Kind: OutcomeSuccess, Redirect: session.LandingRoute(sess.User.Role)}
	c.recordTransition("authenticated")
	c.updatedAt = c.deps.Clock()
	c.logger.Info("Signed in", map[string]interface{}{
		"userId":   sess.User.UserID,
		"role":     string(sess.User.Role),
		"redirect": c.outcome.Redirect,
	})
	o := *c.outcome
	return &o, nil
}

func (c *Controller) recordTransition(result string) {
	metrics.StepTransitions.WithLabelValues(flowName, string(c.phase), result).Inc()
}

// State is what the host UI renders.
type State struct {
	ID                   string            `json:"id"`
	Phase                Phase             `json:"phase"`
	Email                string            `json:"email"`
	CodeLength           int               `json:"code_length"`
	Errors               map[string]string `json:"errors"`
	CanSubmitCredentials bool              `json:"can_submit_credentials"`
	CanVerifyCode        bool              `json:"can_verify_code"`
	Busy                 bool              `json:"busy"`
	Operation            string            `json:"operation,omitempty"`
	Outcome              *Outcome          `json:"outcome,omitempty"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	errs := make(map[string]string, len(c.errors))
	for k, v := range c.errors {
		errs[k] = v
	}
	s := State{
		ID:                   c.id,
		Phase:                c.phase,
		Email:                c.email,
		CodeLength:           c.deps.Verifier.CodeLength(),
		Errors:               errs,
		CanSubmitCredentials: c.busy == "" && c.phase == PhaseCredentials && c.email != "" && c.password != "",
		CanVerifyCode:        c.busy == "" && c.phase == PhaseCodePending && len(c.code) == c.deps.Verifier.CodeLength(),
		Busy:                 c.busy != "",
		Operation:            c.busy,
		UpdatedAt:            c.updatedAt,
	}
	if c.outcome != nil {
		o := *c.outcome
		s.Outcome = &o
	}
	return s
}
