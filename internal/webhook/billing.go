package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/subscription"
	"github.com/stripe/stripe-go/v79"
)

// BillingHandler receives decoded billing events
type BillingHandler interface {
	HandleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error
	HandleSubscriptionChange(ctx context.Context, sub *stripe.Subscription) error
	HandleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error
	HandlePaymentFailed(ctx context.Context, inv *stripe.Invoice) error
}

// RegisterBilling binds the subscription lifecycle events to h.
// Events for customers no local user owns are acknowledged, since a retry cannot resolve them.
func RegisterBilling(d *Dispatcher, h BillingHandler, logger *logging.Logger) {
	if logger == nil {
		logger = logging.Nop()
	}

	skipUnknown := func(event stripe.Event, err error) error {
		if errors.Is(err, subscription.ErrUnknownCustomer) {
			logger.WithEventID(event.ID).WithField("event_type", event.Type).Warn("Webhook for unknown customer, acknowledging")
			return nil
		}
		return err
	}

	d.Register(EventCheckoutCompleted, func(ctx context.Context, event stripe.Event) error {
		var sess stripe.CheckoutSession
		if err := decode(event, &sess); err != nil {
			return err
		}
		return skipUnknown(event, h.HandleCheckoutCompleted(ctx, &sess))
	})

	onChange := func(ctx context.Context, event stripe.Event) error {
		var sub stripe.Subscription
		if err := decode(event, &sub); err != nil {
			return err
		}
		return skipUnknown(event, h.HandleSubscriptionChange(ctx, &sub))
	}
	d.Register(EventSubscriptionCreated, onChange)
	d.Register(EventSubscriptionUpdated, onChange)

	d.Register(EventSubscriptionDeleted, func(ctx context.Context, event stripe.Event) error {
		var sub stripe.Subscription
		if err := decode(event, &sub); err != nil {
			return err
		}
		return skipUnknown(event, h.HandleSubscriptionDeleted(ctx, &sub))
	})

	d.Register(EventInvoicePaymentFailed, func(ctx context.Context, event stripe.Event) error {
		var inv stripe.Invoice
		if err := decode(event, &inv); err != nil {
			return err
		}
		return h.HandlePaymentFailed(ctx, &inv)
	})
}

func decode(event stripe.Event, v interface{}) error {
	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	return nil
}
