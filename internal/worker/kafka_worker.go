package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/flicky/go-checkout-api/internal/notify"
)

const kafkaRetryDelay = 2 * time.Second

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWorker consumes intents from a Kafka topic. Offsets are committed
// after each message whatever the outcome, so a poison message is logged and
// skipped instead of blocking the partition.
type KafkaWorker struct {
	reader    kafkaReader
	processor *Processor
	log       *slog.Logger
}

func NewKafkaWorker(reader *kafka.Reader, processor *Processor, log *slog.Logger) *KafkaWorker {
	return &KafkaWorker{reader: reader, processor: processor, log: log}
}

// Run blocks until ctx is cancelled, then closes the reader.
func (w *KafkaWorker) Run(ctx context.Context) {
	defer func() {
		if err := w.reader.Close(); err != nil {
			w.log.Error("close kafka reader", "error", err)
		}
	}()

	w.log.Info("kafka notification worker started")
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error("kafka fetch", "error", err)
			select {
			case <-time.After(kafkaRetryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}
		w.handle(ctx, msg)
	}
}

func (w *KafkaWorker) handle(ctx context.Context, msg kafka.Message) {
	log := w.log.With("partition", msg.Partition, "offset", msg.Offset)

	in, err := notify.Decode(msg.Value)
	if err != nil {
		log.Error("decode notification", "error", err)
	} else if err := w.processor.Process(ctx, in); err != nil {
		log.Error("process notification failed", "intent_id", in.ID, "kind", in.Kind, "error", err)
	}

	if err := w.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("commit kafka offset", "error", err)
	}
}
