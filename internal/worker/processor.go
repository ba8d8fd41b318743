package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/go-checkout-api/internal/notify"
)

const (
	idempotencyTTL    = 24 * time.Hour
	processedPrefix   = "notification_processed:"
	popularProductKey = "recommendations:popular"
)

// Store holds the consumer-side state: which intents already ran and the
// product popularity ranking.
type Store interface {
	// Claim records id as processed and reports whether this call was first.
	Claim(ctx context.Context, id string, ttl time.Duration) (bool, error)
	// Release forgets a claim so a redelivery can run the intent again.
	Release(ctx context.Context, id string) error
	IncrPopularity(ctx context.Context, productIDs []uuid.UUID) error
}

type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, processedPrefix+id, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, id string) error {
	return s.client.Del(ctx, processedPrefix+id).Err()
}

func (s *RedisStore) IncrPopularity(ctx context.Context, productIDs []uuid.UUID) error {
	if len(productIDs) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range productIDs {
			pipe.ZIncrBy(ctx, popularProductKey, 1, id.String())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment popularity: %w", err)
	}
	return nil
}

// Processor executes notification intents. Every broker consumer and the
// inline publisher funnel into Process.
type Processor struct {
	store Store
	log   *slog.Logger
}

func NewProcessor(store Store, log *slog.Logger) *Processor {
	return &Processor{store: store, log: log}
}

func (p *Processor) Process(ctx context.Context, in notify.Intent) error {
	log := p.log.With("intent_id", in.ID, "kind", in.Kind, "user_id", in.UserID)

	claimed, err := p.store.Claim(ctx, in.ID.String(), idempotencyTTL)
	if err != nil {
		return err
	}
	if !claimed {
		log.Info("intent already processed, skipping")
		return nil
	}

	if err := p.execute(ctx, log, in); err != nil {
		if rerr := p.store.Release(ctx, in.ID.String()); rerr != nil {
			log.Error("release idempotency key", "error", rerr)
		}
		return err
	}
	return nil
}

func (p *Processor) execute(ctx context.Context, log *slog.Logger, in notify.Intent) error {
	switch in.Kind {
	case notify.KindConfirmation:
		log.Info("order confirmation sent", "order_id", in.OrderID)
	case notify.KindRecommendation:
		if err := p.store.IncrPopularity(ctx, in.ProductIDs); err != nil {
			return err
		}
		log.Info("recommendations updated", "order_id", in.OrderID, "products", len(in.ProductIDs))
	case notify.KindWelcome:
		log.Info("welcome message sent", "email", in.Email)
	default:
		return fmt.Errorf("unknown intent kind %q", in.Kind)
	}
	return nil
}
