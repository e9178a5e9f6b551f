package eventbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/event"
)

// LogConsumer logs every event at debug level.
type LogConsumer struct {
	logger *zap.Logger
}

func NewLogConsumer(logger *zap.Logger) *LogConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogConsumer{logger: logger.Named("events")}
}

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.Event) error {
	c.logger.Debug(evt.Summary,
		zap.String("type", string(evt.Type)),
		zap.String("request_id", evt.RequestID),
		zap.String("stage", evt.Stage),
	)
	return nil
}
