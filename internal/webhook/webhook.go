// Package webhook verifies Stripe webhook deliveries and routes them to handlers.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/stripe/stripe-go/v79"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"
)

// MaxPayloadBytes bounds the request body read from Stripe
const MaxPayloadBytes = 65536

// SignatureHeader carries the Stripe signature
const SignatureHeader = "Stripe-Signature"

// Handled event types
const (
	EventCheckoutCompleted    stripe.EventType = "checkout.session.completed"
	EventSubscriptionCreated  stripe.EventType = "customer.subscription.created"
	EventSubscriptionUpdated  stripe.EventType = "customer.subscription.updated"
	EventSubscriptionDeleted  stripe.EventType = "customer.subscription.deleted"
	EventInvoicePaymentFailed stripe.EventType = "invoice.payment_failed"
)

// Outcomes reported for each delivery
const (
	OutcomeHandled = "handled"
	OutcomeIgnored = "ignored"
	OutcomeFailed  = "failed"
)

var (
	// ErrMissingSignature is returned when the signature header is absent
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrInvalidSignature is returned when the payload fails verification
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrPayloadTooLarge is returned when the body exceeds MaxPayloadBytes
	ErrPayloadTooLarge = errors.New("webhook payload too large")

	// ErrNotConfigured is returned when no signing secret is set
	ErrNotConfigured = errors.New("webhook secret not configured")
)

// HandlerFunc processes one verified event
type HandlerFunc func(ctx context.Context, event stripe.Event) error

// Dispatcher verifies events and routes them by type
type Dispatcher struct {
	secret   string
	handlers map[stripe.EventType]HandlerFunc
	logger   *logging.Logger
}

// NewDispatcher creates a dispatcher that verifies with secret
func NewDispatcher(secret string, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{
		secret:   secret,
		handlers: make(map[stripe.EventType]HandlerFunc),
		logger:   logger,
	}
}

// Register binds a handler to an event type, replacing any previous one
func (d *Dispatcher) Register(eventType stripe.EventType, handler HandlerFunc) {
	d.handlers[eventType] = handler
}

// ReadPayload reads at most MaxPayloadBytes from r
func ReadPayload(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook payload: %w", err)
	}
	if len(body) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	return body, nil
}

// Verify checks the signature and decodes the event
func (d *Dispatcher) Verify(payload []byte, signature string) (stripe.Event, error) {
	if d.secret == "" {
		return stripe.Event{}, ErrNotConfigured
	}
	if signature == "" {
		return stripe.Event{}, ErrMissingSignature
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, signature, d.secret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// Dispatch runs the handler registered for the event type.
// Unregistered types are acknowledged without side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, event stripe.Event) (string, error) {
	handler, ok := d.handlers[event.Type]
	if !ok {
		d.logger.LogWebhookEvent(event.ID, string(event.Type), OutcomeIgnored, nil)
		metrics.RecordWebhookEvent(string(event.Type), OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	if err := handler(ctx, event); err != nil {
		d.logger.LogWebhookEvent(event.ID, string(event.Type), OutcomeFailed, err)
		metrics.RecordWebhookEvent(string(event.Type), OutcomeFailed)
		return OutcomeFailed, err
	}

	d.logger.LogWebhookEvent(event.ID, string(event.Type), OutcomeHandled, nil)
	metrics.RecordWebhookEvent(string(event.Type), OutcomeHandled)
	return OutcomeHandled, nil
}

// ServeHTTP reads, verifies and dispatches a delivery.
// 400 means the delivery is bad, 500 asks Stripe to retry.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := ReadPayload(r.Body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}

	event, err := d.Verify(payload, r.Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			d.logger.Error("Webhook received but no signing secret is configured")
			http.Error(w, "webhook not configured", http.StatusInternalServerError)
			return
		}
		d.logger.WithError(err).Warn("Rejected webhook delivery")
		metrics.RecordWebhookEvent("unverified", OutcomeFailed)
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}

	if _, err := d.Dispatch(r.Context(), event); err != nil {
		http.Error(w, "webhook handler failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"received":true}`))
}
