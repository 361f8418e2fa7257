package verification

import (
	"context"
	stderrors "errors"
	"time"

	apperrors "portal-onboarding/internal/common/errors"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/common/metrics"
)

const kindPayment = "payment"

// PaymentClient runs the order → hosted checkout → proof handshake.
type PaymentClient struct {
	config  *PaymentConfig
	orders  OrderCreator
	surface CheckoutSurface
	logger  logger.Logger
}

func NewPaymentClient(config *PaymentConfig, orders OrderCreator, surface CheckoutSurface, log logger.Logger) *PaymentClient {
	if config == nil {
		config = DefaultPaymentConfig()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &PaymentClient{
		config:  config,
		orders:  orders,
		surface: surface,
		logger:  log,
	}
}

// BeginOrder opens a gateway order. Amounts below the minimum are rejected
// without a network call.
func (p *PaymentClient) BeginOrder(ctx context.Context, amount int) (*Order, error) {
	if amount < p.config.MinimumFee {
		p.logger.Warn("Order rejected below minimum fee", map[string]interface{}{
			"amount":  amount,
			"minimum": p.config.MinimumFee,
		})
		return nil, apperrors.NewMinimumFeeNotMetError(amount, p.config.MinimumFee)
	}

	resp, err := p.orders.CreateOrder(ctx, amount)
	if err != nil {
		return nil, apperrors.FromError("create_order", err)
	}

	order := &Order{
		OrderID:  resp.OrderID,
		Amount:   resp.Amount,
		Currency: resp.Currency,
	}
	if order.Currency == "" {
		order.Currency = p.config.Currency
	}

	p.logger.Info("Payment order created", map[string]interface{}{
		"orderId": order.OrderID,
		"amount":  order.Amount,
	})
	return order, nil
}

// Pay opens an order and waits for the checkout surface to resolve it. A
// cancelled or failed attempt returns both a result and an error so callers can
// tell the two apart.
func (p *PaymentClient) Pay(ctx context.Context, amount int, prefill Prefill) (*PaymentResult, error) {
	order, err := p.BeginOrder(ctx, amount)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	checkoutCtx, cancel := context.WithTimeout(ctx, p.config.CheckoutTimeout)
	defer cancel()

	res, err := p.surface.Present(checkoutCtx, *order, prefill)
	metrics.VerificationDuration.WithLabelValues(kindPayment).Observe(time.Since(start).Seconds())

	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
			res = CheckoutResult{Outcome: OutcomeCancelled, Reason: err.Error()}
		} else {
			return p.failed(order, err.Error())
		}
	}

	switch res.Outcome {
	case OutcomeSuccess:
		if !res.Proof.Complete() {
			return p.failed(order, "checkout returned an incomplete payment proof")
		}
		proof := *res.Proof
		metrics.VerificationOutcomes.WithLabelValues(kindPayment, string(OutcomeSuccess)).Inc()
		p.logger.Info("Payment confirmed", map[string]interface{}{
			"orderId":   proof.OrderID,
			"paymentId": proof.PaymentID,
		})
		return &PaymentResult{Outcome: OutcomeSuccess, Order: order, Proof: &proof}, nil

	case OutcomeCancelled:
		metrics.VerificationOutcomes.WithLabelValues(kindPayment, string(OutcomeCancelled)).Inc()
		p.logger.Info("Payment cancelled", map[string]interface{}{
			"orderId": order.OrderID,
			"reason":  res.Reason,
		})
		return &PaymentResult{Outcome: OutcomeCancelled, Order: order}, apperrors.NewPaymentCancelledError(order.OrderID)

	default:
		return p.failed(order, res.Reason)
	}
}

func (p *PaymentClient) failed(order *Order, reason string) (*PaymentResult, error) {
	metrics.VerificationOutcomes.WithLabelValues(kindPayment, string(OutcomeFailed)).Inc()
	p.logger.Warn("Payment failed", map[string]interface{}{
		"orderId": order.OrderID,
		"reason":  reason,
	})
	return &PaymentResult{Outcome: OutcomeFailed, Order: order}, apperrors.NewPaymentFailedError(reason)
}
