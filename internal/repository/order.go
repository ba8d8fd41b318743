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

type OrderRepository interface {
	// Create inserts the order and its items. Callers wrap it in a
	// transaction together with the stock reservation.
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	UpdateState(ctx context.Context, order *model.Order) error
}

type pgOrderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepository(pool *pgxpool.Pool) OrderRepository {
	return &pgOrderRepo{pool: pool}
}

func (r *pgOrderRepo) Create(ctx context.Context, order *model.Order) error {
	db := conn(ctx, r.pool)

	order.ID = uuid.New()
	err := db.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, status, total_price, stock_reserved, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING created_at, updated_at`,
		order.ID, order.UserID, order.Status, order.TotalPrice, order.StockReserved,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.ID = uuid.New()
		item.OrderID = order.ID
		_, err = db.Exec(ctx,
			`INSERT INTO order_items (id, order_id, position, product_id, quantity, price, color, size, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
			item.ID, item.OrderID, i, item.ProductID, item.Quantity, item.Price, item.Color, item.Size,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *pgOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.get(ctx, `SELECT id, user_id, status, total_price, stock_reserved, created_at, updated_at
		FROM orders WHERE id = $1`, id)
}

func (r *pgOrderRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.get(ctx, `SELECT id, user_id, status, total_price, stock_reserved, created_at, updated_at
		FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgOrderRepo) get(ctx context.Context, query string, id uuid.UUID) (*model.Order, error) {
	order := &model.Order{}
	err := conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&order.ID, &order.UserID, &order.Status, &order.TotalPrice,
		&order.StockReserved, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.itemsFor(ctx, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *pgOrderRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT id, status, total_price, stock_reserved, created_at, updated_at
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	var ids []uuid.UUID
	for rows.Next() {
		var o model.Order
		o.UserID = userID
		if err := rows.Scan(&o.ID, &o.Status, &o.TotalPrice, &o.StockReserved, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *pgOrderRepo) itemsFor(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]model.OrderItem, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.quantity, oi.price, oi.color, oi.size
		 FROM order_items oi JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = ANY($1::uuid[])
		 ORDER BY oi.order_id, oi.position`,
		uuidStrings(orderIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]model.OrderItem, len(orderIDs))
	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.Price, &item.Color, &item.Size); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	return out, rows.Err()
}

func (r *pgOrderRepo) UpdateState(ctx context.Context, order *model.Order) error {
	err := conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE orders SET status = $2, stock_reserved = $3, updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
		order.ID, order.Status, order.StockReserved,
	).Scan(&order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}
