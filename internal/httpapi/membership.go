package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "portal-onboarding/internal/common/errors"
	"portal-onboarding/internal/drafts"
	"portal-onboarding/internal/flows/membership"
	"portal-onboarding/internal/models"
	"portal-onboarding/internal/verification"
)

type wizardResponse struct {
	State    membership.State           `json:"state"`
	Fields   []string                   `json:"fields,omitempty"`
	Checkout *verification.Presentation `json:"checkout,omitempty"`
	Outcome  *membership.Outcome        `json:"outcome,omitempty"`
}

type fieldsRequest struct {
	Fields map[string]string `json:"fields"`
}

// actor resolves the signed-in user for the browser session, if any.
func (s *Server) actor(ctx context.Context, sid string) (*models.Identity, string) {
	sess, err := s.deps.Sessions.Current(ctx, sid)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound) && !apperrors.HasCode(err, apperrors.ErrCodeSessionExpired) {
			s.logger.Warn("Session lookup failed, continuing as visitor", map[string]interface{}{"error": err.Error()})
		}
		return nil, ""
	}
	user := sess.User
	return &user, sess.Token
}

// newWizard wires a controller to its own checkout bridge and payment client.
func (s *Server) newWizard(id string, actor *models.Identity, token, owner string) *wizardEntry {
	backend := s.deps.Backend(token)
	checkout := verification.NewHostedCheckout()
	payments := verification.NewPaymentClient(s.config.Payment, backend, checkout, s.deps.Logger)

	ctrl := membership.NewController(id, actor, membership.ServiceDependencies{
		Payments:  payments,
		Applicant: backend,
		Logger:    s.deps.Logger,
		Clock:     s.deps.Clock,
	}, s.config.Membership)

	return &wizardEntry{ctrl: ctrl, checkout: checkout, owner: owner}
}

// createWizard starts a wizard, or hands back the browser's latest
// unsubmitted one when a draft of it exists.
func (s *Server) createWizard(w http.ResponseWriter, r *http.Request) {
	sid := sidFrom(r.Context())
	actor, token := s.actor(r.Context(), sid)

	if e := s.resumeLatest(r.Context(), sid, actor, token); e != nil {
		writeJSON(w, http.StatusOK, wizardResponse{
			State:  e.ctrl.State(),
			Fields: sortedPaths(membership.FieldPaths(e.ctrl.Actor() == nil)),
		})
		return
	}

	e := s.newWizard(uuid.NewString(), actor, token, sid)
	s.reg.putWizard(e.ctrl.ID(), e, s.deps.Clock())
	s.persist(r.Context(), e)

	s.logger.Info("Membership wizard started", map[string]interface{}{
		"wizardId":      e.ctrl.ID(),
		"authenticated": actor != nil,
	})
	writeJSON(w, http.StatusCreated, wizardResponse{
		State:  e.ctrl.State(),
		Fields: sortedPaths(membership.FieldPaths(actor == nil)),
	})
}

// lookupWizard finds the caller's wizard, restoring it from its draft when it
// is no longer in memory.
func (s *Server) lookupWizard(w http.ResponseWriter, r *http.Request) (*wizardEntry, bool) {
	id := chi.URLParam(r, "id")
	sid := sidFrom(r.Context())
	now := s.deps.Clock()

	if e, ok := s.reg.wizard(id, sid, now); ok {
		return e, true
	}

	if s.deps.Drafts == nil {
		writeNotFound(w, "Wizard not found")
		return nil, false
	}

	d, err := s.deps.Drafts.Load(r.Context(), id)
	if errors.Is(err, drafts.ErrDraftNotFound) || (err == nil && d.Owner != sid) {
		writeNotFound(w, "Wizard not found")
		return nil, false
	}
	if err != nil {
		s.writeError(w, r, apperrors.NewInternalError(err))
		return nil, false
	}

	var snap membership.Snapshot
	if err := json.Unmarshal(d.Data, &snap); err != nil {
		s.writeError(w, r, apperrors.NewInternalError(err))
		return nil, false
	}

	actor, token := s.actor(r.Context(), sid)
	e := s.newWizard(id, actor, token, sid)
	if err := e.ctrl.Restore(&snap); err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	s.reg.putWizard(id, e, now)
	s.logger.Info("Membership wizard resumed from draft", map[string]interface{}{"wizardId": id})
	return e, true
}

// resumeLatest returns the owner's most recent unsubmitted wizard, or nil. A
// live wizard is reused unless the caller signed in or out since it started.
func (s *Server) resumeLatest(ctx context.Context, sid string, actor *models.Identity, token string) *wizardEntry {
	if s.deps.Drafts == nil {
		return nil
	}
	d, err := s.deps.Drafts.LatestForOwner(ctx, sid)
	if err != nil {
		if !errors.Is(err, drafts.ErrDraftNotFound) {
			s.logger.Warn("Draft lookup failed, starting a new wizard", map[string]interface{}{"error": err.Error()})
		}
		return nil
	}
	if d.Submitted || d.Owner != sid {
		return nil
	}

	now := s.deps.Clock()
	if live, ok := s.reg.wizard(d.ID, sid, now); ok {
		if (live.ctrl.Actor() == nil) == (actor == nil) || live.currentAttempt() != nil {
			return live
		}
	}

	var snap membership.Snapshot
	if err := json.Unmarshal(d.Data, &snap); err != nil {
		s.logger.Warn("Unreadable draft, starting a new wizard", map[string]interface{}{
			"wizardId": d.ID,
			"error":    err.Error(),
		})
		return nil
	}
	e := s.newWizard(d.ID, actor, token, sid)
	if err := e.ctrl.Restore(&snap); err != nil {
		s.logger.Warn("Draft could not be restored, starting a new wizard", map[string]interface{}{
			"wizardId": d.ID,
			"error":    err.Error(),
		})
		return nil
	}
	s.reg.putWizard(d.ID, e, now)
	s.persist(ctx, e)
	s.logger.Info("Membership wizard resumed for returning browser", map[string]interface{}{
		"wizardId":      d.ID,
		"authenticated": actor != nil,
	})
	return e
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: message})
}

// persist stores the wizard's snapshot. Failures are logged; the in-memory
// wizard stays authoritative.
func (s *Server) persist(ctx context.Context, e *wizardEntry) {
	if s.deps.Drafts == nil {
		return
	}
	snap := e.ctrl.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("Failed to encode wizard snapshot", map[string]interface{}{"error": err.Error()})
		return
	}
	d := &drafts.Draft{
		ID:        snap.ID,
		Owner:     e.ownerID(),
		Step:      int(snap.Step),
		Submitted: snap.Submitted,
		Data:      data,
		UpdatedAt: snap.UpdatedAt,
	}
	if err := s.deps.Drafts.Save(ctx, d); err != nil {
		s.logger.Warn("Failed to persist wizard draft", map[string]interface{}{
			"wizardId": snap.ID,
			"error":    err.Error(),
		})
	}
}

func (s *Server) getWizard(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupWizard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wizardResponse{
		State:  e.ctrl.State(),
		Fields: sortedPaths(membership.FieldPaths(e.ctrl.Actor() == nil)),
	})
}

func (s *Server) setWizardFields(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupWizard(w, r)
	if !ok {
		return
	}
	var req fieldsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	invalid := make(map[string]string)
	for _, path := range sortedKeys(req.Fields) {
		err := e.ctrl.SetField(path, req.Fields[path])
		if err == nil {
			continue
		}
		stdErr := apperrors.FromError("set_field", err)
		if stdErr.Code != apperrors.ErrCodeValidationFailed {
			s.persist(r.Context(), e)
			s.writeError(w, r, stdErr)
			return
		}
		for f, msg := range stdErr.Fields {
			invalid[f] = msg
		}
	}
	s.persist(r.Context(), e)

	if len(invalid) > 0 {
		s.writeError(w, r, apperrors.NewValidationError(invalid))
		return
	}
	writeJSON(w, http.StatusOK, wizardResponse{State: e.ctrl.State()})
}

func (s *Server) addFamilyMember(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupWizard(w, r)
	if !ok {
		return
	}
	var m membership.FamilyMember
	if err := decodeJSON(r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := e.ctrl.AddFamilyMember(m); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.persist(r.Context(), e)
	writeJSON(w, http.StatusOK, wizardResponse{State: e.ctrl.State()})
}

func (s *Server) removeFamilyMember(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupWizard(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, r, apperrors.NewFieldError("family_members", "Invalid position"))
		return
	}
	if err := e.ctrl.RemoveFamilyMember(index); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.persist(r.Context(), e)
	writeJSON(w, http.StatusOK, wizardResponse{State: e.ctrl.State()})
}

func (s *Server) advanceWizard(w http.ResponseWriter, r *http.Request) {
	s.navigate(w, r, (*membership.Controller).Advance)
}

func (s *Server) retreatWizard(w http.ResponseWriter, r *http.Request) {
	s.navigate(w, r, (*membership.Controller).Retreat)
}

func (s *Server) navigate(w http.ResponseWriter, r *http.Request, move func(*membership.Controller) error) {
	e, ok := s.lookupWizard(w, r)
	if !ok {
		return
	}
	if err := move(e.ctrl); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.persist(r.Context(), e)
	writeJSON(w, http.StatusOK, wizardResponse{State: e.ctrl.State()})
}

// payWizard opens an order and answers with the checkout presentation. The
// handshake keeps running after the response until the browser reports back
// through the checkout endpoints.
func (s *Server) payWizard(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupWizard(w, r)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.attempt != nil {
		e.mu.Unlock()
		s.writeError(w, r, apperrors.NewOperationInFlightError("pay"))
		return
	}
	attempt := &payAttempt{done: make(chan struct{})}
	e.attempt = attempt
	e.mu.Unlock()

	go func() {
		outcome, err := e.ctrl.Pay(s.baseCtx)

		e.mu.Lock()
		attempt.outcome, attempt.err = outcome, err
		e.attempt = nil
		e.mu.Unlock()
		close(attempt.done)

		s.persist(s.baseCtx, e)
	}()

	for {
		select {
		case p := <-e.checkout.Presented():
			if !e.checkout.Pending(p.Order.OrderID) {
				continue
			}
			writeJSON(w, http.StatusAccepted, wizardResponse{State: e.ctrl.State(), Checkout: &p})
			return
		case <-attempt.done:
			if attempt.err != nil {
				s.writeError(w, r, attempt.err)
				return
			}
			writeJSON(w, http.StatusOK, wizardResponse{State: e.ctrl.State()})
			return
		case <-r.Context().Done():
			return
		}
	}
}

type checkoutReport struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
	Reason    string `json:"reason"`
}

func (s *Server) completeCheckout(w http.ResponseWriter, r *http.Request) {
	s.reportCheckout(w, r, func(e *wizardEntry, rep checkoutReport) error {
		return e.checkout.Complete(verification.Proof{
			OrderID:   rep.OrderID,
			PaymentID: rep.PaymentID,
			Signature: rep.Signature,
		})
	}, true)
}

func (s *Server) dismissCheckout(w http.ResponseWriter, r *http.Request) {
	s.reportCheckout(w, r, func(e *wizardEntry, rep checkoutReport) error {
		return e.checkout.Dismiss(rep.OrderID)
	}, false)
}

func (s *Server) failCheckout(w http.ResponseWriter, r *http.Request) {
	s.reportCheckout(w, r, func(e *wizardEntry, rep checkoutReport) error {
		return e.checkout.Fail(rep.OrderID, rep.Reason)
	}, false)
}

// reportCheckout relays the browser's checkout callback and waits for the
// wizard to absorb it. When surfaceErr is false the attempt's error is only
// reflected in the returned state.
func (s *Server) reportCheckout(w http.ResponseWriter, r *http.Request, report func(*wizardEntry, checkoutReport) error, surfaceErr bool) {
	e, ok := s.lookupWizard(w, r)
	if !ok {
		return
	}
	var rep checkoutReport
	if err := decodeJSON(r, &rep); err != nil {
		s.writeError(w, r, err)
		return
	}
	if rep.OrderID == "" {
		s.writeError(w, r, apperrors.NewFieldError("order_id", "Order id is required"))
		return
	}

	attempt := e.currentAttempt()
	if err := report(e, rep); err != nil {
		s.writeError(w, r, err)
		return
	}

	if attempt != nil {
		select {
		case <-attempt.done:
		case <-r.Context().Done():
			return
		}
		if attempt.err != nil && (surfaceErr || apperrors.HasCode(attempt.err, apperrors.ErrCodeCheckoutDiscarded)) {
			s.writeError(w, r, attempt.err)
			return
		}
	}
	writeJSON(w, http.StatusOK, wizardResponse{State: e.ctrl.State()})
}

func (s *Server) submitWizard(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupWizard(w, r)
	if !ok {
		return
	}
	outcome, err := e.ctrl.Submit(r.Context())
	s.persist(r.Context(), e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wizardResponse{State: e.ctrl.State(), Outcome: outcome})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPaths(paths []string) []string {
	sort.Strings(paths)
	return paths
}
