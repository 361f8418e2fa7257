package verification

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal-onboarding/internal/apiclient"
	apperrors "portal-onboarding/internal/common/errors"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/models"
)

// ==========================
// Mock Backend Implementations
// ==========================

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

type MockAuthAPI struct {
	mock.Mock
}

func (m *MockAuthAPI) Login(ctx context.Context, email, password string) (*apiclient.LoginResponse, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apiclient.LoginResponse), args.Error(1)
}

func (m *MockAuthAPI) VerifyOTP(ctx context.Context, email, otp string) (*apiclient.AuthResponse, error) {
	args := m.Called(ctx, email, otp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apiclient.AuthResponse), args.Error(1)
}

// scriptedSurface resolves every presentation with a fixed result.
type scriptedSurface struct {
	result    CheckoutResult
	err       error
	presented []Order
}

func (s *scriptedSurface) Present(ctx context.Context, order Order, prefill Prefill) (CheckoutResult, error) {
	s.presented = append(s.presented, order)
	return s.result, s.err
}

// ==========================
// Test Helpers
// ==========================

func createValidProof() *Proof {
	return &Proof{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig_1"}
}

func newPaymentClient(t *testing.T, orders OrderCreator, surface CheckoutSurface) *PaymentClient {
	cfg := DefaultPaymentConfig()
	cfg.CheckoutTimeout = time.Second
	return NewPaymentClient(cfg, orders, surface, logger.NewTestLogger(t))
}

// ==========================
// Config
// ==========================

func TestPaymentConfig_Validate(t *testing.T) {
	cfg := DefaultPaymentConfig()
	assert.NoError(t, cfg.Validate())

	cfg.MinimumFee = 0
	assert.EqualError(t, cfg.Validate(), "minimum_fee must be positive")

	cfg = DefaultPaymentConfig()
	cfg.CheckoutTimeout = 0
	assert.EqualError(t, cfg.Validate(), "checkout_timeout must be positive")

	assert.Error(t, (&CodeConfig{}).Validate())
}

// ==========================
// Payment
// ==========================

func TestBeginOrder_BelowMinimumNeverCallsBackend(t *testing.T) {
	orders := new(MockOrderCreator)
	client := newPaymentClient(t, orders, &scriptedSurface{})

	order, err := client.BeginOrder(context.Background(), 50)

	assert.Nil(t, order)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMinimumFeeNotMet))
	orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestBeginOrder_DefaultsCurrency(t *testing.T) {
	orders := new(MockOrderCreator)
	orders.On("CreateOrder", mock.Anything, 100).Return(&apiclient.OrderResponse{OrderID: "order_1", Amount: 10000}, nil)
	client := newPaymentClient(t, orders, &scriptedSurface{})

	order, err := client.BeginOrder(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "INR", order.Currency)
	orders.AssertExpectations(t)
}

func TestPay(t *testing.T) {
	tests := []struct {
		name        string
		surface     *scriptedSurface
		wantOutcome Outcome
		wantCode    apperrors.ErrorCode
	}{
		{
			name:        "success carries proof verbatim",
			surface:     &scriptedSurface{result: CheckoutResult{Outcome: OutcomeSuccess, Proof: createValidProof()}},
			wantOutcome: OutcomeSuccess,
		},
		{
			name:        "dismissed is cancelled not failed",
			surface:     &scriptedSurface{result: CheckoutResult{Outcome: OutcomeCancelled, Reason: "dismissed"}},
			wantOutcome: OutcomeCancelled,
			wantCode:    apperrors.ErrCodePaymentCancelled,
		},
		{
			name:        "gateway failure",
			surface:     &scriptedSurface{result: CheckoutResult{Outcome: OutcomeFailed, Reason: "card declined"}},
			wantOutcome: OutcomeFailed,
			wantCode:    apperrors.ErrCodePaymentFailed,
		},
		{
			name: "incomplete proof is a failure",
			surface: &scriptedSurface{result: CheckoutResult{
				Outcome: OutcomeSuccess,
				Proof:   &Proof{OrderID: "order_1", PaymentID: "pay_1"},
			}},
			wantOutcome: OutcomeFailed,
			wantCode:    apperrors.ErrCodePaymentFailed,
		},
		{
			name:        "surface timeout is cancelled",
			surface:     &scriptedSurface{err: context.DeadlineExceeded},
			wantOutcome: OutcomeCancelled,
			wantCode:    apperrors.ErrCodePaymentCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := new(MockOrderCreator)
			orders.On("CreateOrder", mock.Anything, 150).
				Return(&apiclient.OrderResponse{OrderID: "order_1", Amount: 15000, Currency: "INR"}, nil)
			client := newPaymentClient(t, orders, tt.surface)

			res, err := client.Pay(context.Background(), 150, Prefill{Name: "Asha"})

			require.NotNil(t, res)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Len(t, tt.surface.presented, 1)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, *createValidProof(), *res.Proof)
				return
			}
			assert.True(t, apperrors.HasCode(err, tt.wantCode))
			assert.Nil(t, res.Proof)
		})
	}
}

func TestPay_OrderTransportError(t *testing.T) {
	orders := new(MockOrderCreator)
	orders.On("CreateOrder", mock.Anything, 200).Return(nil, errors.New("dial tcp: refused"))
	surface := &scriptedSurface{}
	client := newPaymentClient(t, orders, surface)

	res, err := client.Pay(context.Background(), 200, Prefill{})

	assert.Nil(t, res)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
	assert.Empty(t, surface.presented)
}

// ==========================
// Hosted Checkout Bridge
// ==========================

func TestHostedCheckout_Complete(t *testing.T) {
	h := NewHostedCheckout()
	order := Order{OrderID: "order_1", Amount: 10000, Currency: "INR"}

	done := make(chan CheckoutResult, 1)
	go func() {
		res, err := h.Present(context.Background(), order, Prefill{Email: "a@example.org"})
		assert.NoError(t, err)
		done <- res
	}()

	p := <-h.Presented()
	assert.Equal(t, order, p.Order)
	assert.Equal(t, "a@example.org", p.Prefill.Email)
	assert.True(t, h.Pending("order_1"))

	require.NoError(t, h.Complete(*createValidProof()))
	res := <-done
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "pay_1", res.Proof.PaymentID)

	// a second report for the same order is rejected
	err := h.Dismiss("order_1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCheckoutDiscarded))
	assert.False(t, h.Pending("order_1"))
}

func TestHostedCheckout_DismissAndFail(t *testing.T) {
	for _, tc := range []struct {
		name    string
		resolve func(h *HostedCheckout) error
		want    Outcome
	}{
		{"dismiss", func(h *HostedCheckout) error { return h.Dismiss("order_2") }, OutcomeCancelled},
		{"fail", func(h *HostedCheckout) error { return h.Fail("order_2", "bank error") }, OutcomeFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHostedCheckout()
			done := make(chan CheckoutResult, 1)
			go func() {
				res, _ := h.Present(context.Background(), Order{OrderID: "order_2"}, Prefill{})
				done <- res
			}()
			<-h.Presented()

			require.NoError(t, tc.resolve(h))
			assert.Equal(t, tc.want, (<-done).Outcome)
		})
	}
}

func TestHostedCheckout_ContextCancelAbandonsOrder(t *testing.T) {
	h := NewHostedCheckout()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := h.Present(ctx, Order{OrderID: "order_3"}, Prefill{})
		done <- err
	}()
	<-h.Presented()
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, h.Pending("order_3"))
	assert.Error(t, h.Complete(Proof{OrderID: "order_3", PaymentID: "p", Signature: "s"}))
}

func TestHostedCheckout_UnknownOrder(t *testing.T) {
	h := NewHostedCheckout()
	err := h.Complete(*createValidProof())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCheckoutDiscarded))
}

// ==========================
// One-Time Code
// ==========================

func TestSubmitCredentials(t *testing.T) {
	tests := []struct {
		name       string
		resp       *apiclient.LoginResponse
		err        error
		wantStatus CredentialStatus
		wantCode   apperrors.ErrorCode
	}{
		{
			name:       "otp required",
			resp:       &apiclient.LoginResponse{Status: "OTP_REQUIRED"},
			wantStatus: StatusCodeRequired,
		},
		{
			name: "authenticated fallback",
			resp: &apiclient.LoginResponse{
				Status: "OK",
				Token:  "tok",
				User:   &apiclient.UserPayload{ID: "u1", Role: "member"},
			},
			wantStatus: StatusAuthenticated,
		},
		{
			name:     "unknown status",
			resp:     &apiclient.LoginResponse{Status: "LOCKED", Message: "Account locked"},
			wantCode: apperrors.ErrCodeServer,
		},
		{
			name:     "ok without token",
			resp:     &apiclient.LoginResponse{Status: "OK"},
			wantCode: apperrors.ErrCodeServer,
		},
		{
			name:     "rejected credentials",
			err:      apperrors.NewServerError("login", http.StatusUnauthorized, "Invalid email or password"),
			wantCode: apperrors.ErrCodeServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(MockAuthAPI)
			if tt.err != nil {
				api.On("Login", mock.Anything, "a@example.org", "pw1234").Return(nil, tt.err)
			} else {
				api.On("Login", mock.Anything, "a@example.org", "pw1234").Return(tt.resp, nil)
			}
			client := NewCodeClient(nil, api, logger.NewTestLogger(t))

			res, err := client.SubmitCredentials(context.Background(), "a@example.org", "pw1234")
			if tt.wantCode != "" {
				assert.True(t, apperrors.HasCode(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			if res.Status == StatusAuthenticated {
				assert.Equal(t, models.RoleMember, res.Identity.Role)
			}
		})
	}
}

func TestVerifyCode_LocalChecksSkipNetwork(t *testing.T) {
	api := new(MockAuthAPI)
	client := NewCodeClient(nil, api, logger.NewTestLogger(t))

	for _, code := range []string{"", "   ", "123", "1234567"} {
		_, err := client.VerifyCode(context.Background(), "a@example.org", code)
		stdErr, ok := apperrors.AsStandardError(err)
		require.True(t, ok, code)
		assert.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)
		assert.Contains(t, stdErr.Fields, "code")
	}
	api.AssertNotCalled(t, "VerifyOTP", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyCode(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		api := new(MockAuthAPI)
		api.On("VerifyOTP", mock.Anything, "a@example.org", "482913").Return(&apiclient.AuthResponse{
			Token: "jwt",
			User:  &apiclient.UserPayload{ID: "u1", Name: "Asha", Role: "ADMIN"},
		}, nil)
		client := NewCodeClient(nil, api, logger.NewTestLogger(t))

		res, err := client.VerifyCode(context.Background(), "a@example.org", " 482913 ")
		require.NoError(t, err)
		assert.Equal(t, StatusAuthenticated, res.Status)
		assert.Equal(t, models.RoleAdmin, res.Identity.Role)
		api.AssertExpectations(t)
	})

	t.Run("rejected maps to invalid or expired", func(t *testing.T) {
		api := new(MockAuthAPI)
		api.On("VerifyOTP", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperrors.NewServerError("verify_otp", http.StatusBadRequest, "OTP expired"))
		client := NewCodeClient(nil, api, logger.NewTestLogger(t))

		_, err := client.VerifyCode(context.Background(), "a@example.org", "111111")
		stdErr, ok := apperrors.AsStandardError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeInvalidOrExpiredCode, stdErr.Code)
		assert.Equal(t, "OTP expired", stdErr.Message)
	})

	t.Run("server outage stays transport class", func(t *testing.T) {
		api := new(MockAuthAPI)
		api.On("VerifyOTP", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperrors.NewServerError("verify_otp", http.StatusBadGateway, ""))
		client := NewCodeClient(nil, api, logger.NewTestLogger(t))

		_, err := client.VerifyCode(context.Background(), "a@example.org", "111111")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServer))
	})

	t.Run("success without token or user is a server error", func(t *testing.T) {
		tests := []struct {
			name string
			resp *apiclient.AuthResponse
		}{
			{"empty body", &apiclient.AuthResponse{}},
			{"token only", &apiclient.AuthResponse{Token: "jwt"}},
			{"user only", &apiclient.AuthResponse{User: &apiclient.UserPayload{ID: "u1", Role: "member"}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				api := new(MockAuthAPI)
				api.On("VerifyOTP", mock.Anything, mock.Anything, mock.Anything).Return(tt.resp, nil)
				client := NewCodeClient(nil, api, logger.NewTestLogger(t))

				var res *CredentialResult
				var err error
				assert.NotPanics(t, func() {
					res, err = client.VerifyCode(context.Background(), "a@example.org", "111111")
				})
				assert.Nil(t, res)
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServer))
			})
		}
	})
}
