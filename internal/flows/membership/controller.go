// Package membership implements the membership onboarding wizard: step
// validation, the payment handshake and the one-shot application submission.
package membership

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "portal-onboarding/internal/common/errors"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/common/metrics"
	"portal-onboarding/internal/models"
	"portal-onboarding/internal/verification"
)

const flowName = "membership"

const (
	opPay    = "pay"
	opSubmit = "submit"
)

type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is the terminal result of a submission attempt.
type Outcome struct {
	Kind          OutcomeKind `json:"kind"`
	Redirect      string      `json:"redirect,omitempty"`
	Message       string      `json:"message,omitempty"`
	ApplicationID string      `json:"application_id,omitempty"`
}

// Controller owns one wizard's step and record. All mutation goes through its
// methods. It is safe for concurrent use; the network calls in Pay and Submit
// run without the lock held.
type Controller struct {
	mu     sync.Mutex
	id     string
	actor  *models.Identity
	config *Config
	deps   ServiceDependencies
	logger logger.Logger

	step   Step
	record Record
	errors map[string]string

	// epoch changes on every navigation so a late checkout result can tell
	// that the wizard moved on.
	epoch     uint64
	busy      string
	payCancel context.CancelFunc

	paymentOutcome verification.Outcome
	outcome        *Outcome
	submitted      bool
	idempotencyKey string
	updatedAt      time.Time
}

// NewController starts a wizard at the first step. actor is nil for visitors
// without an account; they are asked for identity fields.
func NewController(id string, actor *models.Identity, deps ServiceDependencies, config *Config) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	if id == "" {
		id = uuid.NewString()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	c := &Controller{
		id:             id,
		actor:          actor,
		config:         config,
		deps:           deps,
		step:           FirstStep,
		errors:         make(map[string]string),
		idempotencyKey: uuid.NewString(),
		updatedAt:      deps.Clock(),
	}
	if actor == nil {
		c.record.Identity = &IdentityDraft{}
	}
	c.record.FamilyMembers = []FamilyMember{}
	c.logger = deps.Logger.WithFields(map[string]interface{}{
		"flow":     flowName,
		"wizardId": id,
	})
	return c
}

func (c *Controller) ID() string { return c.id }

// Actor is the signed-in user the wizard was started for, nil for visitors.
func (c *Controller) Actor() *models.Identity { return c.actor }

func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Record returns a copy of the application in progress.
func (c *Controller) Record() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.clone()
}

// SetField updates one field and clears its displayed error. The fee is
// locked while a payment is open for it.
func (c *Controller) SetField(path, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if path == FieldMembershipFee && c.busy != "" {
		return apperrors.NewOperationInFlightError(c.busy)
	}
	if err := applyField(&c.record, path, value); err != nil {
		if stdErr, ok := apperrors.AsStandardError(err); ok {
			for f, msg := range stdErr.Fields {
				c.errors[f] = msg
			}
		}
		return err
	}
	delete(c.errors, path)
	c.touch()
	return nil
}

// AddFamilyMember appends to the ordered family list.
func (c *Controller) AddFamilyMember(m FamilyMember) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m.Name == "" {
		return apperrors.NewFieldError("family_members.name", "Name is required")
	}
	if m.Relationship == "" {
		return apperrors.NewFieldError("family_members.relationship", "Relationship is required")
	}
	c.record.FamilyMembers = append(c.record.FamilyMembers, m)
	c.touch()
	return nil
}

// RemoveFamilyMember deletes the member at index, keeping the order of the rest.
func (c *Controller) RemoveFamilyMember(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.record.FamilyMembers) {
		return apperrors.NewFieldError("family_members", "No family member at that position")
	}
	c.record.FamilyMembers = append(c.record.FamilyMembers[:index], c.record.FamilyMembers[index+1:]...)
	c.touch()
	return nil
}

// Advance moves to the next step if the current one is complete. On the
// payment step only the presence of a payment proof is checked.
func (c *Controller) Advance() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.navigable(); err != nil {
		return err
	}
	if c.busy == opPay {
		return apperrors.NewOperationInFlightError(opPay)
	}
	if c.step == LastStep {
		return apperrors.NewInvalidTransitionError("already at the review step")
	}

	from := c.step
	if from == StepPayment {
		if c.record.PaymentProof == nil {
			c.errors[FieldPayment] = "Payment not completed"
			c.recordTransition(from, "blocked")
			return apperrors.NewPaymentNotCompletedError()
		}
	} else if errs := ValidateStep(from, &c.record, c.rules()); len(errs) > 0 {
		c.errors = errs
		c.recordTransition(from, "blocked")
		c.logger.Info("Step advance blocked by validation", map[string]interface{}{
			"step":   from.String(),
			"fields": len(errs),
		})
		return apperrors.NewValidationError(copyErrors(errs))
	}

	if from == StepBank || from == StepNominee {
		c.record.resolveOptionalGroups()
	}
	c.step++
	c.epoch++
	c.errors = make(map[string]string)
	c.recordTransition(from, "advanced")
	c.touch()
	return nil
}

// Retreat moves back one step without touching entered data. It abandons an
// open checkout.
func (c *Controller) Retreat() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.navigable(); err != nil {
		return err
	}
	if c.step == FirstStep {
		return nil
	}
	if c.busy == opPay && c.payCancel != nil {
		c.payCancel()
	}

	from := c.step
	c.step--
	c.epoch++
	c.errors = make(map[string]string)
	c.recordTransition(from, "retreated")
	c.touch()
	return nil
}

func (c *Controller) navigable() error {
	if c.submitted {
		return apperrors.NewInvalidTransitionError("application already submitted")
	}
	if c.busy == opSubmit {
		return apperrors.NewOperationInFlightError(opSubmit)
	}
	return nil
}

// Pay runs the payment handshake for the current fee. A result that arrives
// after the wizard left the payment step is discarded.
func (c *Controller) Pay(ctx context.Context) (verification.Outcome, error) {
	c.mu.Lock()
	switch {
	case c.submitted || c.step != StepPayment:
		c.mu.Unlock()
		return "", apperrors.NewInvalidTransitionError("payment is only available on the payment step")
	case c.record.PaymentProof != nil:
		c.mu.Unlock()
		return "", apperrors.NewPaymentAlreadyConfirmedError()
	case c.busy != "":
		op := c.busy
		c.mu.Unlock()
		return "", apperrors.NewOperationInFlightError(op)
	}

	amount := c.record.MembershipFee
	prefill := c.prefill()
	epoch := c.epoch
	payCtx, cancel := context.WithCancel(ctx)
	c.busy = opPay
	c.payCancel = cancel
	c.paymentOutcome = ""
	delete(c.errors, FieldPayment)
	delete(c.errors, FieldMembershipFee)
	c.mu.Unlock()

	metrics.OperationsInFlight.WithLabelValues(opPay).Inc()
	res, err := c.deps.Payments.Pay(payCtx, amount, prefill)
	metrics.OperationsInFlight.WithLabelValues(opPay).Dec()
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = ""
	c.payCancel = nil

	orderID := ""
	if res != nil && res.Order != nil {
		orderID = res.Order.OrderID
	}

	if c.epoch != epoch || c.step != StepPayment {
		c.logger.Warn("Checkout result discarded after navigation", map[string]interface{}{
			"orderId": orderID,
		})
		return "", apperrors.NewCheckoutDiscardedError(orderID)
	}

	if err != nil {
		stdErr := apperrors.FromError(opPay, err)
		for f, msg := range stdErr.Fields {
			c.errors[f] = msg
		}
		if res != nil {
			c.paymentOutcome = res.Outcome
		} else if stdErr.Code != apperrors.ErrCodeMinimumFeeNotMet {
			c.paymentOutcome = verification.OutcomeFailed
		}
		return c.paymentOutcome, stdErr
	}

	proof := *res.Proof
	c.record.PaymentProof = &proof
	c.record.MembershipFee = amount
	c.paymentOutcome = verification.OutcomeSuccess
	c.touch()
	c.logger.Info("Payment proof recorded", map[string]interface{}{
		"orderId":   proof.OrderID,
		"paymentId": proof.PaymentID,
	})
	return verification.OutcomeSuccess, nil
}

// Submit builds the payload and performs the single create call. On failure
// the record stays intact and Submit may be called again.
func (c *Controller) Submit(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	switch {
	case c.submitted:
		appID := ""
		if c.outcome != nil {
			appID = c.outcome.ApplicationID
		}
		c.mu.Unlock()
		return nil, apperrors.NewAlreadySubmittedError(appID)
	case c.step != StepReview:
		c.mu.Unlock()
		return nil, apperrors.NewInvalidTransitionError("submission is only available on the review step")
	case c.busy != "":
		op := c.busy
		c.mu.Unlock()
		return nil, apperrors.NewOperationInFlightError(op)
	case !c.record.Consent:
		c.errors[FieldConsent] = "Consent is required"
		c.mu.Unlock()
		return nil, apperrors.NewConsentRequiredError()
	case c.record.PaymentProof == nil:
		c.errors[FieldPayment] = "Payment not completed"
		c.mu.Unlock()
		return nil, apperrors.NewPaymentNotCompletedError()
	}

	if errs := ValidateStep(StepReview, &c.record, c.rules()); len(errs) > 0 {
		c.errors = errs
		c.mu.Unlock()
		return nil, apperrors.NewValidationError(copyErrors(errs))
	}

	payload := BuildPayload(&c.record, c.idempotencyKey)
	if err := CheckPayload(payload); err != nil {
		c.mu.Unlock()
		c.logger.Error("Aggregated payload rejected", map[string]interface{}{"error": err.Error()})
		return nil, apperrors.NewInternalError(err)
	}
	c.busy = opSubmit
	c.outcome = nil
	c.mu.Unlock()

	metrics.OperationsInFlight.WithLabelValues(opSubmit).Inc()
	resp, err := c.deps.Applicant.Apply(ctx, payload)
	metrics.OperationsInFlight.WithLabelValues(opSubmit).Dec()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = ""

	if err != nil {
		stdErr := apperrors.FromError("apply", err)
		c.outcome = &Outcome{Kind: OutcomeFailure, Message: stdErr.Message}
		metrics.Submissions.WithLabelValues("failure").Inc()
		c.logger.Warn("Application submission failed", map[string]interface{}{
			"errorCode": string(stdErr.Code),
			"details":   stdErr.Details,
		})
		return c.outcome, stdErr
	}

	redirect := c.config.LoginRoute
	if c.actor != nil {
		redirect = c.config.DashboardRoute
	}
	c.submitted = true
	c.outcome = &Outcome{
		Kind:          OutcomeSuccess,
		Redirect:      redirect,
		ApplicationID: resp.ApplicationID,
	}
	c.touch()
	metrics.Submissions.WithLabelValues("success").Inc()
	c.logger.Info("Application submitted", map[string]interface{}{
		"applicationId": resp.ApplicationID,
		"redirect":      redirect,
	})
	return c.outcome, nil
}

func (c *Controller) prefill() verification.Prefill {
	pf := verification.Prefill{Phone: c.record.Personal.Phone}
	if id := c.record.Identity; id != nil {
		pf.Name = id.FullName
		pf.Email = id.Email
	} else if c.actor != nil {
		pf.Name = c.actor.DisplayName
		pf.Email = c.actor.Email
	}
	return pf
}

func (c *Controller) rules() Rules {
	return Rules{
		MinimumFee:        c.config.MinimumFee,
		PasswordMinLength: c.config.PasswordMinLength,
		Today:             c.deps.Clock(),
	}
}

func (c *Controller) recordTransition(step Step, result string) {
	metrics.StepTransitions.WithLabelValues(flowName, step.String(), result).Inc()
}

func (c *Controller) touch() {
	c.updatedAt = c.deps.Clock()
}

func copyErrors(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
