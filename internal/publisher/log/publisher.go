// Package log publishes job notifications to a zap logger and keeps nothing.
package log

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Publisher writes each notification as one structured log line.
type Publisher struct {
	logger *zap.Logger
	seq    atomic.Uint64
}

// New returns a Publisher logging through logger. A nil logger discards.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish logs the notification and returns a process-local sequence id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("log-%d", p.seq.Add(1))
	p.logger.Info("job notification",
		zap.String("topic", topic),
		zap.String("message_id", id),
		zap.Any("payload", payload),
	)
	return id, nil
}
