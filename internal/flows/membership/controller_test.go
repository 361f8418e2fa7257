package membership

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal-onboarding/internal/apiclient"
	apperrors "portal-onboarding/internal/common/errors"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/models"
	"portal-onboarding/internal/verification"
)

// ==========================
// Mock Collaborators
// ==========================

type MockApplicant struct {
	mock.Mock
}

func (m *MockApplicant) Apply(ctx context.Context, payload interface{}) (*apiclient.ApplyResponse, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apiclient.ApplyResponse), args.Error(1)
}

type MockOrderCreator struct {
	mock.Mock
}

func (m *MockOrderCreator) CreateOrder(ctx context.Context, amount int) (*apiclient.OrderResponse, error) {
	args := m.Called(ctx, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apiclient.OrderResponse), args.Error(1)
}

// fakePayer returns a scripted result and records what it was asked.
type fakePayer struct {
	mu          sync.Mutex
	calls       int
	lastAmount  int
	lastPrefill verification.Prefill
	result      *verification.PaymentResult
	err         error
}

func (f *fakePayer) Pay(ctx context.Context, amount int, prefill verification.Prefill) (*verification.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastAmount = amount
	f.lastPrefill = prefill
	return f.result, f.err
}

// blockingPayer holds every Pay call until release is closed.
type blockingPayer struct {
	started chan int
	release chan struct{}
	result  *verification.PaymentResult
}

func newBlockingPayer() *blockingPayer {
	return &blockingPayer{
		started: make(chan int, 1),
		release: make(chan struct{}),
		result:  successPayer().result,
	}
}

func (b *blockingPayer) Pay(ctx context.Context, amount int, prefill verification.Prefill) (*verification.PaymentResult, error) {
	b.started <- amount
	<-b.release
	return b.result, nil
}

// ==========================
// Test Helpers
// ==========================

var testToday = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func createValidProof() *verification.Proof {
	return &verification.Proof{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig_1"}
}

func successPayer() *fakePayer {
	return &fakePayer{result: &verification.PaymentResult{
		Outcome: verification.OutcomeSuccess,
		Order:   &verification.Order{OrderID: "order_1", Amount: 10000, Currency: "INR"},
		Proof:   createValidProof(),
	}}
}

func newTestController(t *testing.T, actor *models.Identity, payer Payer, applicant Applicant) *Controller {
	t.Helper()
	return NewController("wiz-1", actor, ServiceDependencies{
		Payments:  payer,
		Applicant: applicant,
		Logger:    logger.NewTestLogger(t),
		Clock:     func() time.Time { return testToday },
	}, DefaultConfig())
}

func createTestActor() *models.Identity {
	return &models.Identity{UserID: "u-1", DisplayName: "Ravi Kumar", Email: "ravi@example.org", Role: models.RoleDonor}
}

func fillIdentity(t *testing.T, c *Controller) {
	t.Helper()
	require.NoError(t, c.SetField("identity.full_name", "Asha Rao"))
	require.NoError(t, c.SetField("identity.email", "asha@example.org"))
	require.NoError(t, c.SetField("identity.password", "s3cret!"))
}

func fillPersonal(t *testing.T, c *Controller) {
	t.Helper()
	require.NoError(t, c.SetField("personal.date_of_birth", "1990-04-12"))
	require.NoError(t, c.SetField("personal.phone", "+91 98765 43210"))
}

// toPayment fills the personal step and advances to payment with a valid fee.
func toPayment(t *testing.T, c *Controller) {
	t.Helper()
	if c.Actor() == nil {
		fillIdentity(t, c)
	}
	fillPersonal(t, c)
	require.NoError(t, c.Advance())
	require.NoError(t, c.SetField("membership_fee", "500"))
	require.Equal(t, StepPayment, c.Step())
}

// toReview pays and skips the optional steps.
func toReview(t *testing.T, c *Controller) {
	t.Helper()
	toPayment(t, c)
	_, err := c.Pay(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Advance())
	require.NoError(t, c.Advance())
	require.NoError(t, c.Advance())
	require.Equal(t, StepReview, c.Step())
}

func payloadKeys(t *testing.T, p *ApplicationPayload) map[string]json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &keys))
	return keys
}

// ==========================
// Navigation
// ==========================

func TestAdvance_BlockedByValidation(t *testing.T) {
	c := newTestController(t, nil, successPayer(), new(MockApplicant))

	err := c.Advance()

	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)
	assert.Equal(t, StepPersonal, c.Step())

	state := c.State()
	assert.Contains(t, state.Errors, "identity.email")
	assert.Contains(t, state.Errors, "personal.date_of_birth")
	assert.False(t, state.CanAdvance)
}

func TestAdvance_NeverMovesWhenActiveStepInvalid(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, c *Controller)
		field string
		value string
	}{
		{"missing date of birth", func(t *testing.T, c *Controller) {}, "personal.date_of_birth", ""},
		{"malformed date", func(t *testing.T, c *Controller) {}, "personal.date_of_birth", "12/04/1990"},
		{"future date", func(t *testing.T, c *Controller) {}, "personal.date_of_birth", "2031-01-01"},
		{"bad phone", fillPersonal, "personal.phone", "12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, createTestActor(), successPayer(), new(MockApplicant))
			tt.setup(t, c)
			require.NoError(t, c.SetField(tt.field, tt.value))

			for i := 0; i < 3; i++ {
				assert.Error(t, c.Advance())
				assert.Equal(t, StepPersonal, c.Step())
			}
			assert.Contains(t, c.State().Errors, tt.field)
		})
	}
}

func TestAdvance_PaymentStepRequiresProofOnly(t *testing.T) {
	c := newTestController(t, createTestActor(), successPayer(), new(MockApplicant))
	toPayment(t, c)
	require.NoError(t, c.SetField("membership_fee", "10"))

	err := c.Advance()

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentNotCompleted))
	assert.Equal(t, StepPayment, c.Step())
	errs := c.State().Errors
	assert.Contains(t, errs, FieldPayment)
	assert.NotContains(t, errs, FieldMembershipFee)
}

func TestRetreat_FloorAndNonDestructive(t *testing.T) {
	c := newTestController(t, nil, successPayer(), new(MockApplicant))
	require.NoError(t, c.Retreat())
	assert.Equal(t, StepPersonal, c.Step())

	toPayment(t, c)
	before := c.Record()

	require.NoError(t, c.Retreat())
	assert.Equal(t, StepPersonal, c.Step())
	require.NoError(t, c.Advance())
	assert.Equal(t, StepPayment, c.Step())

	assert.Equal(t, before, c.Record())
}

func TestOptionalSteps_AcceptEmptyInput(t *testing.T) {
	c := newTestController(t, createTestActor(), successPayer(), new(MockApplicant))
	toReview(t, c)

	rec := c.Record()
	assert.False(t, rec.Bank.IsSome())
	assert.False(t, rec.Nominee.IsSome())
	assert.True(t, apperrors.HasCode(c.Advance(), apperrors.ErrCodeInvalidTransition))
}

// ==========================
// Fields
// ==========================

func TestSetField(t *testing.T) {
	t.Run("clears the field error", func(t *testing.T) {
		c := newTestController(t, createTestActor(), successPayer(), new(MockApplicant))
		_ = c.Advance()
		require.Contains(t, c.State().Errors, "personal.date_of_birth")

		require.NoError(t, c.SetField("personal.date_of_birth", "1990-04-12"))
		assert.NotContains(t, c.State().Errors, "personal.date_of_birth")
	})

	t.Run("unknown path", func(t *testing.T) {
		c := newTestController(t, nil, successPayer(), new(MockApplicant))
		assert.True(t, apperrors.HasCode(c.SetField("personal.shoe_size", "9"), apperrors.ErrCodeValidationFailed))
	})

	t.Run("identity fields rejected for signed-in actor", func(t *testing.T) {
		c := newTestController(t, createTestActor(), successPayer(), new(MockApplicant))
		assert.Error(t, c.SetField("identity.email", "x@example.org"))
		assert.Nil(t, c.Record().Identity)
	})

	t.Run("unparsable fee leaves record unchanged", func(t *testing.T) {
		c := newTestController(t, nil, successPayer(), new(MockApplicant))
		require.NoError(t, c.SetField("membership_fee", "250"))
		assert.Error(t, c.SetField("membership_fee", "two hundred"))
		assert.Equal(t, 250, c.Record().MembershipFee)
		assert.Contains(t, c.State().Errors, FieldMembershipFee)
	})

	t.Run("password is not trimmed", func(t *testing.T) {
		c := newTestController(t, nil, successPayer(), new(MockApplicant))
		require.NoError(t, c.SetField("identity.password", " pass word "))
		assert.Equal(t, " pass word ", c.Record().Identity.Password)
	})
}

func TestFamilyMembers(t *testing.T) {
	c := newTestController(t, createTestActor(), successPayer(), new(MockApplicant))

	require.NoError(t, c.AddFamilyMember(FamilyMember{Name: "Meena", Relationship: "Spouse"}))
	require.NoError(t, c.AddFamilyMember(FamilyMember{Name: "Kiran", Relationship: "Son"}))
	require.NoError(t, c.AddFamilyMember(FamilyMember{Name: "Lata", Relationship: "Mother"}))
	assert.Error(t, c.AddFamilyMember(FamilyMember{Relationship: "Father"}))

	require.NoError(t, c.RemoveFamilyMember(1))
	assert.Error(t, c.RemoveFamilyMember(5))

	members := c.Record().FamilyMembers
	require.Len(t, members, 2)
	assert.Equal(t, "Meena", members[0].Name)
	assert.Equal(t, "Lata", members[1].Name)
}

// ==========================
// Payment
// ==========================

func TestPay_BelowMinimumNeverCreatesOrder(t *testing.T) {
	orders := new(MockOrderCreator)
	payments := verification.NewPaymentClient(verification.DefaultPaymentConfig(), orders,
		verification.NewHostedCheckout(), logger.NewTestLogger(t))
	c := newTestController(t, createTestActor(), payments, new(MockApplicant))
	toPayment(t, c)
	require.NoError(t, c.SetField("membership_fee", "50"))

	_, err := c.Pay(context.Background())

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMinimumFeeNotMet))
	orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	assert.Equal(t, StepPayment, c.Step())
	assert.Contains(t, c.State().Errors, FieldMembershipFee)
	assert.Nil(t, c.Record().PaymentProof)
}

func TestPay_Success(t *testing.T) {
	payer := successPayer()
	c := newTestController(t, nil, payer, new(MockApplicant))
	toPayment(t, c)
	assert.True(t, c.State().CanPay)

	outcome, err := c.Pay(context.Background())

	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeSuccess, outcome)
	assert.Equal(t, createValidProof(), c.Record().PaymentProof)
	assert.Equal(t, 500, payer.lastAmount)
	assert.Equal(t, verification.Prefill{Name: "Asha Rao", Email: "asha@example.org", Phone: "+91 98765 43210"}, payer.lastPrefill)

	state := c.State()
	assert.True(t, state.PaymentConfirmed)
	assert.False(t, state.CanPay)
	assert.True(t, state.CanAdvance)
}

func TestPay_ProofSetAtMostOnce(t *testing.T) {
	payer := successPayer()
	c := newTestController(t, createTestActor(), payer, new(MockApplicant))
	toPayment(t, c)
	_, err := c.Pay(context.Background())
	require.NoError(t, err)

	_, err = c.Pay(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentAlreadyConfirmed))
	assert.Equal(t, 1, payer.calls)

	err = c.SetField("membership_fee", "900")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentAlreadyConfirmed))
	assert.Equal(t, 500, c.Record().MembershipFee)
	assert.Equal(t, "Ravi Kumar", payer.lastPrefill.Name)
}

func TestPay_DismissedIsCancelledNotFailed(t *testing.T) {
	payer := &fakePayer{
		result: &verification.PaymentResult{Outcome: verification.OutcomeCancelled, Order: &verification.Order{OrderID: "order_9"}},
		err:    apperrors.NewPaymentCancelledError("order_9"),
	}
	c := newTestController(t, createTestActor(), payer, new(MockApplicant))
	toPayment(t, c)

	outcome, err := c.Pay(context.Background())

	assert.Equal(t, verification.OutcomeCancelled, outcome)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentCancelled))
	assert.Nil(t, c.Record().PaymentProof)
	assert.Equal(t, StepPayment, c.Step())

	state := c.State()
	assert.Equal(t, verification.OutcomeCancelled, state.PaymentOutcome)
	assert.True(t, state.CanPay, "a new attempt is allowed after cancellation")
}

func TestPay_TransportFailureIsFailed(t *testing.T) {
	payer := &fakePayer{err: errors.New("connection reset")}
	c := newTestController(t, createTestActor(), payer, new(MockApplicant))
	toPayment(t, c)

	outcome, err := c.Pay(context.Background())

	assert.Equal(t, verification.OutcomeFailed, outcome)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
}

func TestPay_OnlyOnPaymentStep(t *testing.T) {
	c := newTestController(t, createTestActor(), successPayer(), new(MockApplicant))
	_, err := c.Pay(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
}

func TestPay_ResultDiscardedAfterNavigatingAway(t *testing.T) {
	orders := new(MockOrderCreator)
	orders.On("CreateOrder", mock.Anything, 500).
		Return(&apiclient.OrderResponse{OrderID: "order_late", Amount: 50000, Currency: "INR"}, nil)
	checkout := verification.NewHostedCheckout()
	payments := verification.NewPaymentClient(verification.DefaultPaymentConfig(), orders, checkout, logger.NewTestLogger(t))
	c := newTestController(t, createTestActor(), payments, new(MockApplicant))
	toPayment(t, c)

	done := make(chan error, 1)
	go func() {
		_, err := c.Pay(context.Background())
		done <- err
	}()

	presented := <-checkout.Presented()
	assert.Equal(t, "order_late", presented.Order.OrderID)
	assert.True(t, c.State().Busy)

	_, err := c.Pay(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeOperationInFlight))

	require.NoError(t, c.Retreat())
	assert.True(t, apperrors.HasCode(<-done, apperrors.ErrCodeCheckoutDiscarded))

	lateErr := checkout.Complete(verification.Proof{OrderID: "order_late", PaymentID: "pay_x", Signature: "sig"})
	assert.True(t, apperrors.HasCode(lateErr, apperrors.ErrCodeCheckoutDiscarded))
	assert.Nil(t, c.Record().PaymentProof)
	assert.False(t, c.State().Busy)
}

func TestPay_RecordLockedWhileInFlight(t *testing.T) {
	payer := newBlockingPayer()
	c := newTestController(t, nil, payer, new(MockApplicant))
	toPayment(t, c)

	done := make(chan error, 1)
	go func() {
		_, err := c.Pay(context.Background())
		done <- err
	}()
	assert.Equal(t, 500, <-payer.started)

	t.Run("fee cannot change", func(t *testing.T) {
		err := c.SetField(FieldMembershipFee, "5000")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeOperationInFlight))
		assert.Equal(t, 500, c.Record().MembershipFee)
	})

	t.Run("other fields stay editable", func(t *testing.T) {
		assert.NoError(t, c.SetField("personal.occupation", "Nurse"))
	})

	t.Run("advance is refused", func(t *testing.T) {
		assert.True(t, apperrors.HasCode(c.Advance(), apperrors.ErrCodeOperationInFlight))
		assert.Equal(t, StepPayment, c.Step())
	})

	t.Run("restore is refused", func(t *testing.T) {
		other := newTestController(t, nil, successPayer(), new(MockApplicant))
		assert.True(t, apperrors.HasCode(c.Restore(other.Snapshot()), apperrors.ErrCodeOperationInFlight))
		assert.Equal(t, StepPayment, c.Step())
	})

	assert.False(t, c.State().CanPay)
	close(payer.release)
	require.NoError(t, <-done)

	rec := c.Record()
	assert.Equal(t, 500, rec.MembershipFee)
	require.NotNil(t, rec.PaymentProof)

	payload := BuildPayload(&rec, "key-1")
	assert.Equal(t, 500, payload.MembershipFee)
	assert.Equal(t, "order_1", payload.OrderID)

	err := c.SetField(FieldMembershipFee, "5000")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentAlreadyConfirmed))
}

// ==========================
// Aggregation
// ==========================

func TestBuildPayload_OptionalGroupsAllOrNothing(t *testing.T) {
	tests := []struct {
		bankName, accountNumber, nomineeName string
		wantBank, wantNominee                bool
	}{
		{"", "", "", false, false},
		{"SBI", "", "", false, false},
		{"", "0012345", "", false, false},
		{"SBI", "0012345", "", true, false},
		{"", "", "Meena", false, true},
		{"SBI", "", "Meena", false, true},
		{"SBI", "0012345", "Meena", true, true},
	}

	for _, tt := range tests {
		name := tt.bankName + "/" + tt.accountNumber + "/" + tt.nomineeName
		t.Run(name, func(t *testing.T) {
			c := newTestController(t, createTestActor(), successPayer(), new(MockApplicant))
			require.NoError(t, c.SetField("bank.bank_name", tt.bankName))
			require.NoError(t, c.SetField("bank.account_number", tt.accountNumber))
			require.NoError(t, c.SetField("bank.ifsc_code", "SBIN0001"))
			require.NoError(t, c.SetField("nominee.name", tt.nomineeName))
			require.NoError(t, c.SetField("nominee.relationship", "Spouse"))

			rec := c.Record()
			keys := payloadKeys(t, BuildPayload(&rec, "idem"))

			_, hasBank := keys["bank_details"]
			_, hasNominee := keys["nominee"]
			assert.Equal(t, tt.wantBank, hasBank)
			assert.Equal(t, tt.wantNominee, hasNominee)
		})
	}
}

func TestBuildPayload_BankWithoutNominee(t *testing.T) {
	c := newTestController(t, createTestActor(), successPayer(), new(MockApplicant))
	toPayment(t, c)
	_, err := c.Pay(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Advance())
	require.NoError(t, c.SetField("bank.bank_name", "Canara Bank"))
	require.NoError(t, c.SetField("bank.account_number", "110023"))
	require.NoError(t, c.Advance())
	require.NoError(t, c.SetField("nominee.relationship", "Brother"))
	require.NoError(t, c.Advance())

	rec := c.Record()
	payload := BuildPayload(&rec, "idem")
	keys := payloadKeys(t, payload)

	require.Contains(t, keys, "bank_details")
	assert.NotContains(t, keys, "nominee")
	assert.JSONEq(t, `{"bank_name":"Canara Bank","account_number":"110023","ifsc_code":"","branch_name":"","account_type":""}`,
		string(keys["bank_details"]))
	assert.JSONEq(t, `[]`, string(keys["family_members"]))
	assert.NotContains(t, keys, "email")
	assert.NotContains(t, keys, "password")

	payload.DeclarationAccepted = true
	assert.NoError(t, CheckPayload(payload))
}

func TestBuildPayload_IdentityOnlyForVisitors(t *testing.T) {
	c := newTestController(t, nil, successPayer(), new(MockApplicant))
	fillIdentity(t, c)

	rec := c.Record()
	keys := payloadKeys(t, BuildPayload(&rec, "idem"))
	assert.JSONEq(t, `"asha@example.org"`, string(keys["email"]))
	assert.JSONEq(t, `"Asha Rao"`, string(keys["full_name"]))
	assert.Contains(t, keys, "password")
}

func TestCheckPayload_RejectsPartialGroups(t *testing.T) {
	p := &ApplicationPayload{
		DateOfBirth:         "1990-04-12",
		MembershipFee:       100,
		OrderID:             "o",
		PaymentID:           "p",
		Signature:           "s",
		FamilyMembers:       []FamilyMember{},
		DeclarationAccepted: true,
		IdempotencyKey:      "k",
		BankDetails:         &BankDetails{BankName: "SBI"},
	}
	assert.Error(t, CheckPayload(p))

	p.BankDetails = nil
	p.Email = "solo@example.org"
	assert.Error(t, CheckPayload(p), "identity fields travel together")
}

// ==========================
// Submission
// ==========================

func TestSubmit_RequiresConsent(t *testing.T) {
	applicant := new(MockApplicant)
	c := newTestController(t, createTestActor(), successPayer(), applicant)
	toReview(t, c)
	assert.False(t, c.State().CanSubmit)

	_, err := c.Submit(context.Background())

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConsentRequired))
	assert.Contains(t, c.State().Errors, FieldConsent)
	applicant.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestSubmit_OnlyFromReview(t *testing.T) {
	applicant := new(MockApplicant)
	c := newTestController(t, createTestActor(), successPayer(), applicant)
	toPayment(t, c)
	require.NoError(t, c.SetField("consent", "true"))

	_, err := c.Submit(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
	applicant.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestSubmit_Routing(t *testing.T) {
	tests := []struct {
		name     string
		actor    *models.Identity
		redirect string
	}{
		{"signed-in actor goes to dashboard", createTestActor(), "/member/dashboard"},
		{"new account goes to login", nil, "/login"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applicant := new(MockApplicant)
			applicant.On("Apply", mock.Anything, mock.AnythingOfType("*membership.ApplicationPayload")).
				Return(&apiclient.ApplyResponse{Status: "success", ApplicationID: "app-42"}, nil).Once()
			c := newTestController(t, tt.actor, successPayer(), applicant)
			toReview(t, c)
			require.NoError(t, c.SetField("consent", "true"))
			assert.True(t, c.State().CanSubmit)

			outcome, err := c.Submit(context.Background())

			require.NoError(t, err)
			assert.Equal(t, OutcomeSuccess, outcome.Kind)
			assert.Equal(t, tt.redirect, outcome.Redirect)
			assert.Equal(t, "app-42", outcome.ApplicationID)

			_, err = c.Submit(context.Background())
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadySubmitted))
			assert.True(t, apperrors.HasCode(c.Retreat(), apperrors.ErrCodeInvalidTransition))
			applicant.AssertExpectations(t)
		})
	}
}

func TestSubmit_FailureKeepsRecordAndAllowsRetry(t *testing.T) {
	applicant := new(MockApplicant)
	applicant.On("Apply", mock.Anything, mock.Anything).
		Return(nil, apperrors.NewServerError("apply", http.StatusConflict, "Email already registered")).Once()
	applicant.On("Apply", mock.Anything, mock.Anything).
		Return(&apiclient.ApplyResponse{Status: "success", ApplicationID: "app-7"}, nil).Once()

	c := newTestController(t, nil, successPayer(), applicant)
	toReview(t, c)
	require.NoError(t, c.SetField("consent", "true"))
	before := c.Record()

	outcome, err := c.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Equal(t, "Email already registered", outcome.Message)
	assert.Equal(t, before, c.Record())
	assert.Equal(t, StepReview, c.Step())

	outcome, err = c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome.Kind)

	first := applicant.Calls[0].Arguments.Get(1).(*ApplicationPayload)
	second := applicant.Calls[1].Arguments.Get(1).(*ApplicationPayload)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.Equal(t, "order_1", second.OrderID)
}

func TestSubmit_GuardedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	applicant := new(MockApplicant)
	applicant.On("Apply", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(&apiclient.ApplyResponse{Status: "success", ApplicationID: "app-1"}, nil).Once()

	c := newTestController(t, createTestActor(), successPayer(), applicant)
	toReview(t, c)
	require.NoError(t, c.SetField("consent", "true"))

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return c.State().Busy }, time.Second, 5*time.Millisecond)
	_, err := c.Submit(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeOperationInFlight))
	assert.True(t, apperrors.HasCode(c.Retreat(), apperrors.ErrCodeOperationInFlight))
	assert.False(t, c.State().CanSubmit)

	close(release)
	require.NoError(t, <-done)
	applicant.AssertNumberOfCalls(t, "Apply", 1)
}

// ==========================
// Snapshots
// ==========================

func TestSnapshot_ExcludesPassword(t *testing.T) {
	c := newTestController(t, nil, successPayer(), new(MockApplicant))
	toPayment(t, c)

	snap := c.Snapshot()
	assert.Empty(t, snap.Record.Identity.Password)
	assert.Equal(t, "s3cret!", c.Record().Identity.Password, "snapshot must not alter the live record")

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret!")
}

func TestRestore(t *testing.T) {
	src := newTestController(t, nil, successPayer(), new(MockApplicant))
	toPayment(t, src)
	_, err := src.Pay(context.Background())
	require.NoError(t, err)
	require.NoError(t, src.Advance())
	require.NoError(t, src.SetField("bank.bank_name", "SBI"))
	require.NoError(t, src.SetField("bank.account_number", "42"))

	raw, err := json.Marshal(src.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	dst := newTestController(t, nil, successPayer(), new(MockApplicant))
	require.NoError(t, dst.Restore(&snap))

	assert.Equal(t, "wiz-1", dst.ID())
	assert.Equal(t, StepBank, dst.Step())
	rec := dst.Record()
	assert.Equal(t, createValidProof(), rec.PaymentProof)
	bank, ok := rec.Bank.Get()
	require.True(t, ok)
	assert.Equal(t, "SBI", bank.BankName)
	assert.Empty(t, rec.Identity.Password)
	assert.True(t, dst.State().PaymentConfirmed)

	other := snap
	other.Record.PaymentProof = &verification.Proof{OrderID: "o2", PaymentID: "p2", Signature: "s2"}
	assert.True(t, apperrors.HasCode(dst.Restore(&other), apperrors.ErrCodePaymentAlreadyConfirmed))
}
