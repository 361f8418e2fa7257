package apiclient

import "portal-onboarding/internal/models"

const (
	LoginStatusOTPRequired = "OTP_REQUIRED"
	LoginStatusOK          = "OK"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type orderRequest struct {
	Amount int `json:"amount"`
}

// UserPayload is the backend's user object.
type UserPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// ToIdentity converts the wire user into the domain identity.
func (u *UserPayload) ToIdentity() models.Identity {
	return models.Identity{
		UserID:      u.ID,
		DisplayName: u.Name,
		Email:       u.Email,
		Role:        models.NormalizeRole(u.Role),
		Status:      u.Status,
	}
}

type LoginResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	Token   string       `json:"token,omitempty"`
	User    *UserPayload `json:"user,omitempty"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *UserPayload `json:"user"`
}

type OrderResponse struct {
	OrderID  string `json:"order_id"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

type ApplyResponse struct {
	Status        string `json:"status"`
	ApplicationID string `json:"application_id"`
	Message       string `json:"message,omitempty"`
}

type meResponse struct {
	User *UserPayload `json:"user"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
