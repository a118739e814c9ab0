package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/metrics"
)

// Enqueuer puts a delivery on a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, d *Delivery) (string, error)
}

// QueueSender hands deliveries for its channels to a queue instead of sending
// them inline. A Worker on the other side does the sending.
type QueueSender struct {
	queue    Enqueuer
	channels map[string]bool
	logger   *zap.Logger
}

// NewQueueSender queues deliveries for the given channels.
func NewQueueSender(queue Enqueuer, logger *zap.Logger, channels ...string) *QueueSender {
	set := make(map[string]bool, len(channels))
	for _, c := range channels {
		set[c] = true
	}
	return &QueueSender{queue: queue, channels: set, logger: logger}
}

func (q *QueueSender) Send(ctx context.Context, d *Delivery) error {
	msgID, err := q.queue.Enqueue(ctx, d)
	if err != nil {
		return fmt.Errorf("enqueue delivery: %w", err)
	}
	q.logger.Debug("delivery queued",
		zap.String("delivery_id", d.ID.String()),
		zap.String("message_id", msgID),
	)
	metrics.RecordDelivery(d.Channel, "queued")
	return nil
}

func (q *QueueSender) SupportsChannel(channel string) bool {
	return q.channels[channel]
}

// Received is a delivery pulled off the queue.
type Received struct {
	Delivery      *Delivery
	ReceiptHandle string
	ReceiveCount  int
}

// Queue is the consuming side of the delivery queue.
type Queue interface {
	Receive(ctx context.Context) ([]Received, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type Config struct {
	// ErrorBackoff is how long to wait after a failed receive.
	ErrorBackoff time.Duration
	// MaxReceives drops a message that failed this many times.
	MaxReceives int
}

// Worker drains the delivery queue into a Sender. Failed messages stay on the
// queue and come back after their visibility timeout.
type Worker struct {
	queue  Queue
	sender Sender
	config Config
	logger *zap.Logger
}

func New(queue Queue, sender Sender, cfg Config, logger *zap.Logger) *Worker {
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.MaxReceives == 0 {
		cfg.MaxReceives = 5
	}

	return &Worker{
		queue:  queue,
		sender: sender,
		config: cfg,
		logger: logger,
	}
}

// Start polls until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("delivery worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("delivery worker stopping")
			return nil
		}

		batch, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Error("failed to receive deliveries", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.config.ErrorBackoff):
			}
			continue
		}

		for _, msg := range batch {
			w.process(ctx, msg)
		}
	}
}

func (w *Worker) process(ctx context.Context, msg Received) {
	d := msg.Delivery

	err := w.sender.Send(ctx, d)
	if err == nil {
		metrics.RecordDelivery(d.Channel, "sent")
		metrics.RecordDeliveryLatency(d.Channel, time.Since(d.CreatedAt))
		w.delete(ctx, msg)
		return
	}

	metrics.RecordDelivery(d.Channel, "failed")
	w.logger.Error("failed to send delivery",
		zap.Error(err),
		zap.String("id", d.ID.String()),
		zap.String("channel", d.Channel),
		zap.Int("receive_count", msg.ReceiveCount),
	)

	if msg.ReceiveCount >= w.config.MaxReceives || errors.Is(err, ErrNoTokens) {
		w.logger.Warn("dropping delivery",
			zap.String("id", d.ID.String()),
			zap.Int("receive_count", msg.ReceiveCount),
		)
		metrics.RecordDelivery(d.Channel, "dropped")
		w.delete(ctx, msg)
	}
}

func (w *Worker) delete(ctx context.Context, msg Received) {
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete message",
			zap.Error(err),
			zap.String("id", msg.Delivery.ID.String()),
		)
	}
}
