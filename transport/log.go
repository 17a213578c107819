package transport

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogSender writes messages to the log instead of delivering them. It is the development default.
type LogSender struct {
	log logrus.FieldLogger
}

// NewLogSender returns a sender that only logs.
func NewLogSender(log logrus.FieldLogger) *LogSender {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if msg.Address == "" {
		return "", ErrInvalidAddress
	}

	providerID := "log-" + uuid.NewString()
	s.log.WithFields(logrus.Fields{
		"message_id":  msg.ID,
		"address":     msg.Address,
		"template":    msg.Template,
		"params":      msg.Params,
		"provider_id": providerID,
	}).Info("message sent")
	return providerID, nil
}
