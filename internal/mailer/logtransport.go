package mailer

import (
	"context"

	"github.com/ignite/hireflow/internal/pkg/logger"
)

// LogTransport logs messages instead of sending them. Used in local
// development when SES is disabled.
type LogTransport struct{}

// Send logs the message and reports success.
func (LogTransport) Send(_ context.Context, msg *Message) error {
	logger.Info("mail transport disabled, logging instead of sending",
		"to", msg.To, "subject", msg.Subject, "html_bytes", len(msg.HTML))
	return nil
}
