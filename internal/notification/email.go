// Package notification sends e-mail when a case reaches delivered.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/labcase-api/internal/config"
	"github.com/jwalitptl/labcase-api/internal/model"
)

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type DeliveryNotifier struct {
	sender Sender
	from   string
	to     []string
}

func NewDeliveryNotifier(cfg config.NotificationConfig) (*DeliveryNotifier, error) {
	if cfg.SMTPHost == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("notification requires smtp_host, from and at least one recipient")
	}
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password)
	return NewDeliveryNotifierWithSender(dialer, cfg.From, cfg.To), nil
}

func NewDeliveryNotifierWithSender(sender Sender, from string, to []string) *DeliveryNotifier {
	return &DeliveryNotifier{sender: sender, from: from, to: to}
}

// HandleDelivered is registered with the outbox processor for case.delivered.
func (n *DeliveryNotifier) HandleDelivered(ctx context.Context, evt *model.OutboxEvent) error {
	var p model.CaseEventPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", evt.EventType, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to...)
	m.SetHeader("Subject", fmt.Sprintf("Case %s delivered", p.Code))
	m.SetBody("text/plain", deliveredBody(p))

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send delivery notification: %w", err)
	}
	log.Info().Str("case_id", p.CaseID.String()).Str("code", p.Code).Msg("delivery notification sent")
	return nil
}

func deliveredBody(p model.CaseEventPayload) string {
	return fmt.Sprintf(
		"Case %s completed all %d stages and was marked delivered at %s.\nApproved: %t\n",
		p.Code, p.TotalStages, p.OccurredAt.UTC().Format(time.RFC1123), p.Approved,
	)
}
