package membership

import (
	"time"

	apperrors "portal-onboarding/internal/common/errors"
	"portal-onboarding/internal/verification"
)

// State is what the host UI renders.
type State struct {
	ID               string               `json:"id"`
	Step             Step                 `json:"step"`
	StepName         string               `json:"step_name"`
	TotalSteps       int                  `json:"total_steps"`
	Errors           map[string]string    `json:"errors"`
	CanAdvance       bool                 `json:"can_advance"`
	CanRetreat       bool                 `json:"can_retreat"`
	CanPay           bool                 `json:"can_pay"`
	CanSubmit        bool                 `json:"can_submit"`
	PaymentConfirmed bool                 `json:"payment_confirmed"`
	PaymentOutcome   verification.Outcome `json:"payment_outcome,omitempty"`
	Busy             bool                 `json:"busy"`
	Operation        string               `json:"operation,omitempty"`
	Outcome          *Outcome             `json:"outcome,omitempty"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	rules := c.rules()
	open := !c.submitted && c.busy != opSubmit
	proof := c.record.PaymentProof != nil

	canAdvance := open && c.step < LastStep
	if canAdvance {
		if c.step == StepPayment {
			canAdvance = proof
		} else {
			canAdvance = len(ValidateStep(c.step, &c.record, rules)) == 0
		}
	}

	s := State{
		ID:               c.id,
		Step:             c.step,
		StepName:         c.step.String(),
		TotalSteps:       int(LastStep),
		Errors:           copyErrors(c.errors),
		CanAdvance:       canAdvance,
		CanRetreat:       open && c.step > FirstStep,
		CanPay:           open && c.busy == "" && c.step == StepPayment && !proof && c.record.MembershipFee >= c.config.MinimumFee,
		CanSubmit:        open && c.busy == "" && c.step == StepReview && proof && c.record.Consent && len(ValidateStep(StepReview, &c.record, rules)) == 0,
		PaymentConfirmed: proof,
		PaymentOutcome:   c.paymentOutcome,
		Busy:             c.busy != "",
		Operation:        c.busy,
		UpdatedAt:        c.updatedAt,
	}
	if c.outcome != nil {
		o := *c.outcome
		s.Outcome = &o
	}
	return s
}

// Snapshot is a resumable copy of a wizard. It never carries the password.
type Snapshot struct {
	ID             string    `json:"id"`
	Step           Step      `json:"step"`
	Record         Record    `json:"record"`
	Submitted      bool      `json:"submitted"`
	Outcome        *Outcome  `json:"outcome,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *Controller) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.record.clone()
	if rec.Identity != nil {
		rec.Identity.Password = ""
	}
	snap := &Snapshot{
		ID:             c.id,
		Step:           c.step,
		Record:         rec,
		Submitted:      c.submitted,
		IdempotencyKey: c.idempotencyKey,
		UpdatedAt:      c.updatedAt,
	}
	if c.outcome != nil && c.submitted {
		o := *c.outcome
		snap.Outcome = &o
	}
	return snap
}

// Restore loads a snapshot into an idle controller. A confirmed payment proof
// cannot be replaced.
func (c *Controller) Restore(snap *Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy != "" {
		return apperrors.NewOperationInFlightError(c.busy)
	}
	if c.record.PaymentProof != nil &&
		(snap.Record.PaymentProof == nil || *snap.Record.PaymentProof != *c.record.PaymentProof) {
		return apperrors.NewPaymentAlreadyConfirmedError()
	}

	rec := snap.Record.clone()
	switch {
	case c.actor != nil:
		rec.Identity = nil
	case rec.Identity == nil:
		rec.Identity = &IdentityDraft{}
	case c.record.Identity != nil:
		rec.Identity.Password = c.record.Identity.Password
	}
	if rec.FamilyMembers == nil {
		rec.FamilyMembers = []FamilyMember{}
	}
	rec.resolveOptionalGroups()

	step := snap.Step
	if step < FirstStep {
		step = FirstStep
	}
	if step > LastStep {
		step = LastStep
	}

	if snap.ID != "" && snap.ID != c.id {
		c.id = snap.ID
		c.logger = c.deps.Logger.WithFields(map[string]interface{}{
			"flow":     flowName,
			"wizardId": c.id,
		})
	}
	c.step = step
	c.record = rec
	c.submitted = snap.Submitted
	c.outcome = nil
	if snap.Outcome != nil && snap.Submitted {
		o := *snap.Outcome
		c.outcome = &o
	}
	if snap.IdempotencyKey != "" {
		c.idempotencyKey = snap.IdempotencyKey
	}
	if rec.PaymentProof != nil {
		c.paymentOutcome = verification.OutcomeSuccess
	}
	c.errors = make(map[string]string)
	c.epoch++
	c.updatedAt = snap.UpdatedAt

	c.logger.Info("Wizard restored from snapshot", map[string]interface{}{
		"step":      step.String(),
		"submitted": snap.Submitted,
	})
	return nil
}
