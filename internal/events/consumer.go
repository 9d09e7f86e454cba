// Package events consumes job-status changes published by the platform's
// CRUD layer. A job marked submitted or cancelled terminates its schedule;
// the loop simply stops selecting it on the next tick.
package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"nudge/internal/metrics"
)

type StatusApplier interface {
	ApplyJobStatus(ctx context.Context, userID, jobID uint64, status string) error
}

type JobStatusEvent struct {
	UserID uint64 `json:"userId"`
	JobID  uint64 `json:"jobId"`
	Status string `json:"status"` // submitted | cancelled
}

type Consumer struct {
	reader *kafka.Reader
	svc    StatusApplier
	log    *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, svc StatusApplier, log *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		svc: svc,
		log: log,
	}
}

// Run blocks until ctx is cancelled. Malformed or inapplicable events are
// logged and skipped; the stream is at-least-once and the status update is
// an idempotent no-op on replay.
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.log.Error("job event read failed", zap.Error(err))
			continue
		}

		var ev JobStatusEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warn("job event unmarshal failed", zap.Error(err))
			continue
		}

		if err := c.svc.ApplyJobStatus(ctx, ev.UserID, ev.JobID, ev.Status); err != nil {
			c.log.Warn("job event apply failed",
				zap.Uint64("user_id", ev.UserID),
				zap.Uint64("job_id", ev.JobID),
				zap.String("status", ev.Status),
				zap.Error(err),
			)
			continue
		}
		metrics.JobEventsTotal.WithLabelValues(ev.Status).Inc()
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
