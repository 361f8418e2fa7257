package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	apperrors "portal-onboarding/internal/common/errors"
)

const maxBody = 1 << 20

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders any error as a StandardError body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := apperrors.FromError(r.URL.Path, err)
	status := apperrors.HTTPStatus(stdErr.Code)

	fields := map[string]interface{}{
		"path":      r.URL.Path,
		"errorCode": string(stdErr.Code),
		"category":  apperrors.GetErrorCategory(stdErr.Code),
		"status":    status,
	}
	if status >= http.StatusInternalServerError {
		fields["details"] = stdErr.Details
		s.logger.Error("Request failed", fields)
	} else {
		s.logger.Debug("Request rejected", fields)
	}

	details := stdErr.Details
	if stdErr.Code == apperrors.ErrCodeInternal {
		details = ""
	}
	writeJSON(w, status, errorBody{
		Code:    string(stdErr.Code),
		Message: stdErr.Message,
		Details: details,
		Fields:  stdErr.Fields,
	})
}

// decodeJSON reads a bounded JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return apperrors.NewFieldError("body", "Malformed request body")
	}
	return nil
}
