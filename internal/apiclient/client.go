// Package apiclient is a typed client for the portal backend's auth and
// membership endpoints.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "portal-onboarding/internal/common/errors"
	commonhttp "portal-onboarding/internal/common/http"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/common/observability"
)

const maxErrorBody = 64 << 10

// Client calls the backend REST API. The zero value is not usable; use New.
type Client struct {
	baseURL    string
	httpClient *commonhttp.Client
	logger     logger.Logger
	obs        *observability.Observability
	token      string
}

func New(baseURL string, httpClient *commonhttp.Client, log logger.Logger, obs *observability.Observability) *Client {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     log,
		obs:        obs,
	}
}

// WithToken returns a copy that sends the bearer token on every request.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// Login posts credentials. The backend answers OTP_REQUIRED or OK.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, "login", http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyOTP exchanges the one-time code for a token and user.
func (c *Client) VerifyOTP(ctx context.Context, email, otp string) (*AuthResponse, error) {
	var out AuthResponse
	err := c.do(ctx, "verify_otp", http.MethodPost, "/auth/verify-otp", verifyOTPRequest{Email: email, OTP: otp}, &out)
	if err != nil {
		return nil, err
	}
	if out.Token == "" || out.User == nil {
		return nil, apperrors.NewServerError("verify_otp", http.StatusOK, "")
	}
	return &out, nil
}

// CreateOrder asks the backend to open a gateway order for amount.
func (c *Client) CreateOrder(ctx context.Context, amount int) (*OrderResponse, error) {
	var out OrderResponse
	err := c.do(ctx, "create_order", http.MethodPost, "/membership/order", orderRequest{Amount: amount}, &out)
	if err != nil {
		return nil, err
	}
	if out.OrderID == "" {
		return nil, apperrors.NewServerError("create_order", http.StatusOK, "")
	}
	return &out, nil
}

// Apply submits the aggregated membership application.
func (c *Client) Apply(ctx context.Context, payload interface{}) (*ApplyResponse, error) {
	var out ApplyResponse
	if err := c.do(ctx, "apply", http.MethodPost, "/membership/apply", payload, &out); err != nil {
		return nil, err
	}
	switch strings.ToLower(out.Status) {
	case "error", "failed", "failure":
		return nil, apperrors.NewServerError("apply", http.StatusOK, out.Message)
	}
	return &out, nil
}

// Me returns the user behind the client's token.
func (c *Client) Me(ctx context.Context) (*UserPayload, error) {
	var out meResponse
	if err := c.do(ctx, "me", http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, apperrors.NewServerError("me", http.StatusOK, "")
	}
	return out.User, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	start := time.Now()
	status := "error"
	defer func() {
		c.obs.RecordCall(ctx, operation, status, time.Since(start))
	}()

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewInternalError(fmt.Errorf("failed to marshal %s request: %w", operation, err))
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Backend call failed", map[string]interface{}{
			"operation": operation,
			"error":     err.Error(),
		})
		return apperrors.NewTransportError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := extractMessage(raw)
		c.logger.Warn("Backend returned error status", map[string]interface{}{
			"operation": operation,
			"status":    resp.StatusCode,
			"message":   msg,
		})
		status = fmt.Sprintf("%d", resp.StatusCode)
		return apperrors.NewServerError(operation, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.NewServerError(operation, resp.StatusCode, "")
		}
	}

	status = "ok"
	c.logger.Debug("Backend call succeeded", map[string]interface{}{
		"operation":  operation,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return nil
}

// extractMessage pulls a human message out of an error body, if it has one.
func extractMessage(raw []byte) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// StatusOf returns the HTTP status carried by a server error, or 0.
func StatusOf(err error) int {
	stdErr, ok := apperrors.AsStandardError(err)
	if !ok || stdErr.Code != apperrors.ErrCodeServer {
		return 0
	}
	if s, ok := stdErr.Metadata["status"].(int); ok {
		return s
	}
	return 0
}
