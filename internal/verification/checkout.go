package verification

import (
	"context"
	"sync"

	apperrors "portal-onboarding/internal/common/errors"
)

// Presentation is an order waiting to be shown on the payer's checkout surface.
type Presentation struct {
	Order   Order   `json:"order"`
	Prefill Prefill `json:"prefill"`
}

// HostedCheckout bridges a browser-rendered checkout widget to the blocking
// CheckoutSurface contract. The browser reports back through Complete, Dismiss
// or Fail; each pending order accepts exactly one report.
type HostedCheckout struct {
	mu        sync.Mutex
	pending   map[string]chan CheckoutResult
	presented chan Presentation
}

func NewHostedCheckout() *HostedCheckout {
	return &HostedCheckout{
		pending:   make(map[string]chan CheckoutResult),
		presented: make(chan Presentation, 1),
	}
}

// Presented delivers each order as it is handed to the surface. Only the
// latest unread presentation is kept.
func (h *HostedCheckout) Presented() <-chan Presentation {
	return h.presented
}

func (h *HostedCheckout) Present(ctx context.Context, order Order, prefill Prefill) (CheckoutResult, error) {
	ch := make(chan CheckoutResult, 1)

	h.mu.Lock()
	h.pending[order.OrderID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.pending[order.OrderID] == ch {
			delete(h.pending, order.OrderID)
		}
		h.mu.Unlock()
	}()

	h.publish(Presentation{Order: order, Prefill: prefill})

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return CheckoutResult{}, ctx.Err()
	}
}

func (h *HostedCheckout) publish(p Presentation) {
	for {
		select {
		case h.presented <- p:
			return
		default:
		}
		select {
		case <-h.presented:
		default:
		}
	}
}

// Pending reports whether an order is still awaiting a result.
func (h *HostedCheckout) Pending(orderID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.pending[orderID]
	return ok
}

// Complete delivers the gateway's success callback.
func (h *HostedCheckout) Complete(proof Proof) error {
	p := proof
	return h.resolve(proof.OrderID, CheckoutResult{Outcome: OutcomeSuccess, Proof: &p})
}

// Dismiss reports that the payer closed the checkout without paying.
func (h *HostedCheckout) Dismiss(orderID string) error {
	return h.resolve(orderID, CheckoutResult{Outcome: OutcomeCancelled, Reason: "dismissed"})
}

// Fail reports a gateway-side failure.
func (h *HostedCheckout) Fail(orderID, reason string) error {
	return h.resolve(orderID, CheckoutResult{Outcome: OutcomeFailed, Reason: reason})
}

func (h *HostedCheckout) resolve(orderID string, res CheckoutResult) error {
	h.mu.Lock()
	ch, ok := h.pending[orderID]
	if ok {
		delete(h.pending, orderID)
	}
	h.mu.Unlock()

	if !ok {
		return apperrors.NewCheckoutDiscardedError(orderID)
	}
	ch <- res
	return nil
}
