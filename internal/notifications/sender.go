// Package notifications turns committed domain events into member-facing
// messages. Delivery is best effort: a failed send never affects the event.
package notifications

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/marina-backend/pkg/logger"
)

// Message is one notification addressed to a set of users.
type Message struct {
	Title         string
	Message       string
	TargetUserIDs []uuid.UUID
	URL           string
	Data          map[string]any
}

// Sender delivers messages to an external channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the structured log. It is the default channel
// until a push provider is configured.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) (*LogSender, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &LogSender{logg: logg}, nil
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if len(msg.TargetUserIDs) == 0 {
		return errors.New("notification has no recipients")
	}
	targets := make([]string, 0, len(msg.TargetUserIDs))
	for _, id := range msg.TargetUserIDs {
		targets = append(targets, id.String())
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"title":   msg.Title,
		"message": msg.Message,
		"targets": targets,
		"url":     msg.URL,
	})
	s.logg.Info(logCtx, "notification dispatched")
	return nil
}
