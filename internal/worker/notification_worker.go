package worker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/flicky/go-checkout-api/internal/notify"
)

// NotificationWorker consumes intents from RabbitMQ. Messages that cannot be
// decoded or processed are rejected without requeue and land in the DLQ.
type NotificationWorker struct {
	channel   *amqp.Channel
	processor *Processor
	log       *slog.Logger
	done      chan struct{}
	stopped   chan struct{}
}

func NewNotificationWorker(ch *amqp.Channel, processor *Processor, log *slog.Logger) *NotificationWorker {
	return &NotificationWorker{
		channel:   ch,
		processor: processor,
		log:       log,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (w *NotificationWorker) Start(ctx context.Context) error {
	msgs, err := w.channel.Consume(notify.QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	go func() {
		defer close(w.stopped)
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				w.processMessage(ctx, msg)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	w.log.Info("notification worker started", "queue", notify.QueueName)
	return nil
}

// Stop signals the consume loop and waits for the in-flight message.
func (w *NotificationWorker) Stop() {
	close(w.done)
	<-w.stopped
}

func (w *NotificationWorker) processMessage(ctx context.Context, msg amqp.Delivery) {
	in, err := notify.Decode(msg.Body)
	if err != nil {
		w.log.Error("decode notification", "error", err, "message_id", msg.MessageId)
		_ = msg.Nack(false, false)
		return
	}

	if err := w.processor.Process(ctx, in); err != nil {
		w.log.Error("process notification failed", "intent_id", in.ID, "kind", in.Kind, "error", err)
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}
