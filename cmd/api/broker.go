package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"github.com/flicky/go-checkout-api/internal/config"
	"github.com/flicky/go-checkout-api/internal/handler"
	"github.com/flicky/go-checkout-api/internal/notify"
	"github.com/flicky/go-checkout-api/internal/worker"
)

const amqpPrefetch = 10

// notifications is the broker side of the notification pipeline: where the
// dispatcher publishes to and the consumer that reads it back.
type notifications struct {
	publisher notify.Publisher
	checks    []handler.Check
	start     func(ctx context.Context) error
	stop      func()
}

func setupNotifications(cfg *config.Config, processor *worker.Processor, log *slog.Logger) (*notifications, error) {
	switch cfg.Notify.Broker {
	case config.BrokerRabbitMQ:
		return setupRabbitMQ(cfg.RabbitMQ, processor, log)
	case config.BrokerKafka:
		return setupKafka(cfg.Kafka, processor, log), nil
	}

	log.Info("no broker configured, notifications are processed in-process")
	return &notifications{
		publisher: notify.PublisherFunc(processor.Process),
		start:     func(context.Context) error { return nil },
		stop:      func() {},
	}, nil
}

func setupRabbitMQ(cfg config.RabbitMQConfig, processor *worker.Processor, log *slog.Logger) (*notifications, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	consumeCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := notify.SetupRabbitMQ(consumeCh, amqpPrefetch); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup RabbitMQ: %w", err)
	}
	log.Info("connected to RabbitMQ")

	consumer := worker.NewNotificationWorker(consumeCh, processor, log)
	return &notifications{
		publisher: notify.NewAMQPPublisher(pubCh),
		checks: []handler.Check{{
			Name: "rabbitmq",
			Ping: func(context.Context) error {
				if conn.IsClosed() {
					return errors.New("connection closed")
				}
				return nil
			},
		}},
		start: consumer.Start,
		stop: func() {
			consumer.Stop()
			pubCh.Close()
			consumeCh.Close()
			conn.Close()
		},
	}, nil
}

func setupKafka(cfg config.KafkaConfig, processor *worker.Processor, log *slog.Logger) *notifications {
	brokers := cfg.BrokerList()
	writer := notify.NewKafkaWriter(brokers, cfg.Topic)
	consumer := worker.NewKafkaWorker(notify.NewKafkaReader(brokers, cfg.Topic, cfg.GroupID), processor, log)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	log.Info("using Kafka for notifications", "brokers", brokers, "topic", cfg.Topic)

	return &notifications{
		publisher: notify.NewKafkaPublisher(writer),
		checks: []handler.Check{{
			Name: "kafka",
			Ping: func(ctx context.Context) error {
				c, err := kafka.DialContext(ctx, "tcp", brokers[0])
				if err != nil {
					return err
				}
				return c.Close()
			},
		}},
		start: func(context.Context) error {
			go func() {
				defer close(done)
				consumer.Run(runCtx)
			}()
			return nil
		},
		stop: func() {
			cancel()
			<-done
			if err := writer.Close(); err != nil {
				log.Error("close kafka writer", "error", err)
			}
		},
	}
}
