package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "portal-onboarding/internal/common/errors"
	"portal-onboarding/internal/flows/signin"
	"portal-onboarding/internal/models"
	"portal-onboarding/internal/session"
	"portal-onboarding/internal/verification"
)

type flowResponse struct {
	State   signin.State    `json:"state"`
	Outcome *signin.Outcome `json:"outcome,omitempty"`
}

type sessionResponse struct {
	User         models.Identity `json:"user"`
	ExpiresAt    time.Time       `json:"expires_at"`
	LandingRoute string          `json:"landing_route"`
}

func (s *Server) createFlow(w http.ResponseWriter, r *http.Request) {
	sid := sidFrom(r.Context())
	codes := verification.NewCodeClient(s.config.Code, s.deps.Backend(""), s.deps.Logger)

	ctrl := signin.NewController(uuid.NewString(), sid, signin.ServiceDependencies{
		Verifier: codes,
		Sessions: s.deps.Sessions,
		Logger:   s.deps.Logger,
		Clock:    s.deps.Clock,
	})
	s.reg.putFlow(ctrl.ID(), &flowEntry{ctrl: ctrl, owner: sid, lastSeen: s.deps.Clock()})

	writeJSON(w, http.StatusCreated, flowResponse{State: ctrl.State()})
}

func (s *Server) lookupFlow(w http.ResponseWriter, r *http.Request) (*signin.Controller, bool) {
	e, ok := s.reg.flow(chi.URLParam(r, "id"), sidFrom(r.Context()), s.deps.Clock())
	if !ok {
		writeNotFound(w, "Sign-in flow not found")
		return nil, false
	}
	return e.ctrl, true
}

func (s *Server) getFlow(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookupFlow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{State: ctrl.State()})
}

func (s *Server) setFlowFields(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookupFlow(w, r)
	if !ok {
		return
	}
	var req fieldsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, field := range sortedKeys(req.Fields) {
		if err := ctrl.SetField(field, req.Fields[field]); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, flowResponse{State: ctrl.State()})
}

func (s *Server) submitCredentials(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookupFlow(w, r)
	if !ok {
		return
	}
	outcome, err := ctrl.SubmitCredentials(r.Context())
	s.respondFlow(w, r, ctrl, outcome, err)
}

func (s *Server) verifyCode(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookupFlow(w, r)
	if !ok {
		return
	}
	outcome, err := ctrl.VerifyCode(r.Context())
	s.respondFlow(w, r, ctrl, outcome, err)
}

func (s *Server) resetFlow(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookupFlow(w, r)
	if !ok {
		return
	}
	if err := ctrl.UseDifferentEmail(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{State: ctrl.State()})
}

func (s *Server) respondFlow(w http.ResponseWriter, r *http.Request, ctrl *signin.Controller, outcome *signin.Outcome, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if outcome != nil && outcome.Kind == signin.OutcomeSuccess {
		if sess := ctrl.Session(); sess != nil {
			s.rotateSession(r.Context(), w, sidFrom(r.Context()), sess.ID)
		}
	}
	writeJSON(w, http.StatusOK, flowResponse{State: ctrl.State(), Outcome: outcome})
}

// rotateSession moves the browser onto the id minted at sign-in. Live
// controllers and stored drafts follow it; the old id keeps nothing.
func (s *Server) rotateSession(ctx context.Context, w http.ResponseWriter, from, to string) {
	if from == to {
		return
	}
	s.setSessionCookie(w, to)

	moved := s.reg.rebind(from, to)
	if s.deps.Drafts != nil {
		if _, err := s.deps.Drafts.Reassign(ctx, from, to); err != nil {
			s.logger.Warn("Failed to reassign drafts to the new session", map[string]interface{}{"error": err.Error()})
		}
	}
	for _, e := range moved {
		s.persist(ctx, e)
	}
	s.logger.Info("Browser session rotated", map[string]interface{}{"wizards": len(moved)})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Logout(r.Context(), sidFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Current(r.Context(), sidFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, apperrors.FromError("session", err))
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		User:         sess.User,
		ExpiresAt:    sess.ExpiresAt,
		LandingRoute: session.LandingRoute(sess.User.Role),
	})
}
