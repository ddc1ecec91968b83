package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/orion-chat/internal/chat"
	"github.com/suPer8Hu/orion-chat/internal/logger"
)

type Replayer interface {
	ReplayTurn(ctx context.Context, rec chat.TurnRecord) error
}

type Retrier interface {
	PublishRetry(ctx context.Context, body []byte, messageID string, attempt int, delay time.Duration) error
}

// Outcome is what the consumer did with one delivery.
type Outcome string

const (
	OutcomeDone       Outcome = "done"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeRetried    Outcome = "retried"
	OutcomeDeadLetter Outcome = "dead_letter"
)

const DefaultMaxAttempts = 5

// Consumer replays queued turn records into the database.
type Consumer struct {
	replay      Replayer
	retry       Retrier
	log         *logger.Logger
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

func NewConsumer(replay Replayer, retry Retrier, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{
		replay:      replay,
		retry:       retry,
		log:         log,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     ExpBackoff,
	}
}

// ExpBackoff doubles from 2s and caps at one minute.
func ExpBackoff(attempt int) time.Duration {
	d := 2 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Minute {
			return time.Minute
		}
	}
	return d
}

// Handle processes d and settles it: ack on success, duplicate or handoff to
// the retry queue; nack without requeue (to the DLQ) otherwise.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) Outcome {
	attempt := Attempt(d.Headers)

	var rec chat.TurnRecord
	if err := json.Unmarshal(d.Body, &rec); err != nil || rec.TurnID == "" || rec.ThreadID == "" {
		c.log.Error("bad turn record", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return OutcomeDeadLetter
	}
	log := c.log.With("thread_id", rec.ThreadID, "turn_id", rec.TurnID, "attempt", attempt)

	start := time.Now()
	err := c.replay.ReplayTurn(ctx, rec)
	switch {
	case err == nil:
		log.Info("turn replayed", "cost", time.Since(start).String())
		c.ack(log, d)
		return OutcomeDone
	case errors.Is(err, chat.ErrTurnNotRunning):
		log.Info("turn already settled, dropping record")
		c.ack(log, d)
		return OutcomeDuplicate
	}

	if attempt < c.MaxAttempts && c.retry != nil {
		delay := c.Backoff(attempt)
		perr := c.retry.PublishRetry(ctx, d.Body, rec.TurnID, attempt+1, delay)
		if perr == nil {
			log.Warn("turn replay failed, retry scheduled", "delay", delay.String(), "error", err)
			c.ack(log, d)
			return OutcomeRetried
		}
		log.Error("retry publish failed", "error", perr)
	}

	log.Error("turn replay failed, dead-lettering", "error", err)
	_ = d.Nack(false, false)
	return OutcomeDeadLetter
}

func (c *Consumer) ack(log *logger.Logger, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.Warn("ack failed", "error", err)
	}
}
