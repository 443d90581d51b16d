package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of sending them. It is used
// when no provider API key is configured.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a LogSender using the global logger.
func NewLogSender() *LogSender {
	return &LogSender{log: zap.L().Named("mail")}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	to := make([]string, 0, len(msg.To))
	for _, a := range msg.To {
		to = append(to, a.Email)
	}
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Filename)
	}
	s.log.Info("email (not sent, no provider configured)",
		zap.String("from", msg.From.Email),
		zap.Strings("to", to),
		zap.String("subject", msg.Subject),
		zap.Strings("attachments", names),
		zap.Int("text_bytes", len(msg.Text)),
	)
	return nil
}
