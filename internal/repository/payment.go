package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/go-checkout-api/internal/model"
)

type PaymentRepository interface {
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*model.Payment, error)
	// Save inserts the payment or, when one already exists for the order,
	// overwrites its status.
	Save(ctx context.Context, payment *model.Payment) error
}

type pgPaymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepository(pool *pgxpool.Pool) PaymentRepository {
	return &pgPaymentRepo{pool: pool}
}

func (r *pgPaymentRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*model.Payment, error) {
	p := &model.Payment{}
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, order_id, status, created_at, updated_at FROM payments WHERE order_id = $1`, orderID,
	).Scan(&p.ID, &p.OrderID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *pgPaymentRepo) Save(ctx context.Context, payment *model.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO payments (id, order_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (order_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		payment.ID, payment.OrderID, payment.Status, payment.CreatedAt,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}
