// Package notify sends billing notices by email.
package notify

import (
	"context"
	"fmt"

	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"gopkg.in/gomail.v2"
)

// Notifier sends billing notices. Implementations must be safe to call with an empty address.
type Notifier interface {
	PaymentFailed(ctx context.Context, to string) error
	SubscriptionCanceled(ctx context.Context, to string) error
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends notices over SMTP
type Mailer struct {
	from    string
	siteURL string
	sender  sender
}

// NewMailer creates an SMTP mailer
func NewMailer(cfg config.EmailConfig, siteURL string) *Mailer {
	return &Mailer{
		from:    cfg.From,
		siteURL: siteURL,
		sender:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// New returns a Mailer when email is enabled and a Noop otherwise
func New(cfg config.EmailConfig, siteURL string) Notifier {
	if !cfg.Enabled || cfg.Host == "" {
		return Noop{}
	}
	return NewMailer(cfg, siteURL)
}

// PaymentFailed tells the user their renewal payment did not go through
func (m *Mailer) PaymentFailed(_ context.Context, to string) error {
	body := fmt.Sprintf(`Hi,

We couldn't process the latest payment for your HaircutFun subscription.
Your plan stays active while we retry, but please update your payment method:

%s/account

Thanks,
The HaircutFun team
`, m.siteURL)

	return m.send("payment_failed", to, "Your HaircutFun payment failed", body)
}

// SubscriptionCanceled confirms the subscription has ended
func (m *Mailer) SubscriptionCanceled(_ context.Context, to string) error {
	body := fmt.Sprintf(`Hi,

Your HaircutFun subscription has been canceled and your account is back on the free plan.
You can resubscribe at any time:

%s/pricing

Thanks,
The HaircutFun team
`, m.siteURL)

	return m.send("subscription_canceled", to, "Your HaircutFun subscription was canceled", body)
}

func (m *Mailer) send(kind, to, subject, body string) error {
	if to == "" {
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	err := m.sender.DialAndSend(msg)
	metrics.RecordEmailSent(kind, err)
	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}
	return nil
}

// Noop discards notices
type Noop struct{}

func (Noop) PaymentFailed(context.Context, string) error        { return nil }
func (Noop) SubscriptionCanceled(context.Context, string) error { return nil }
