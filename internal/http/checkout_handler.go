package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/marketcart/internal/checkout"
	"go.uber.org/zap"
)

// SubmissionPublisher hands a checkout submission to the checkout service.
type SubmissionPublisher interface {
	Publish(ctx context.Context, sub checkout.Submission) error
}

type CheckoutHandler struct {
	cart      *CartHandler
	publisher SubmissionPublisher
	currency  string
	timeout   time.Duration
	log       *zap.Logger
}

func NewCheckoutHandler(cart *CartHandler, publisher SubmissionPublisher, currency string, timeout time.Duration, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		cart:      cart,
		publisher: publisher,
		currency:  currency,
		timeout:   timeout,
		log:       log,
	}
}

type InitiateCheckoutRequestDTO struct {
	IdempotencyKey string `json:"idempotency_key"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID, st, ok := h.cart.open(w, r)
	if !ok {
		return
	}

	var req InitiateCheckoutRequestDTO
	if !h.cart.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		respondError(w, http.StatusBadRequest, "missing_idempotency_key",
			"idempotency_key is required")
		return
	}

	sub, err := checkout.Build(sessionID, st, h.currency)
	if err != nil {
		handleCartError(w, err)
		return
	}
	sub.IdempotencyKey = req.IdempotencyKey

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if err := h.publisher.Publish(ctx, sub); err != nil {
		h.log.Error("checkout submission failed",
			zap.String("session_id", sessionID),
			zap.String("request_id", getRequestID(r.Context())),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			respondError(w, http.StatusGatewayTimeout, "timeout", "checkout service did not respond")
			return
		}
		respondError(w, http.StatusBadGateway, "checkout_unavailable", "checkout service unavailable")
		return
	}

	// the cart is cleared when the checkout service reports completion
	respondJSON(w, http.StatusAccepted, sub)
}
