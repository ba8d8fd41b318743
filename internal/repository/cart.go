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

type CartRepository interface {
	GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	// LockCart row-locks the cart so that concurrent checkouts of the same
	// cart serialize.
	LockCart(ctx context.Context, cartID uuid.UUID) error
	ListItems(ctx context.Context, cartID uuid.UUID) ([]model.CartItem, error)
	ListItemViews(ctx context.Context, cartID uuid.UUID) ([]model.CartItemView, error)
	FindItem(ctx context.Context, cartID uuid.UUID, key model.LineKey) (*model.CartItem, error)
	AddItem(ctx context.Context, item *model.CartItem) error
	DeleteItemsByProduct(ctx context.Context, cartID, productID uuid.UUID) (int64, error)
	DeleteItems(ctx context.Context, itemIDs []uuid.UUID) error
	ClearCart(ctx context.Context, cartID uuid.UUID) (int64, error)
}

type pgCartRepo struct{ pool *pgxpool.Pool }

func NewCartRepository(pool *pgxpool.Pool) CartRepository {
	return &pgCartRepo{pool: pool}
}

func (r *pgCartRepo) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	cart := &model.Cart{}
	// The no-op update makes RETURNING yield the existing row on conflict.
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING id, user_id, created_at, updated_at`,
		uuid.New(), userID,
	).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create cart: %w", err)
	}
	return cart, nil
}

func (r *pgCartRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	cart := &model.Cart{}
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`, userID,
	).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

func (r *pgCartRepo) LockCart(ctx context.Context, cartID uuid.UUID) error {
	var id uuid.UUID
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id FROM carts WHERE id = $1 FOR UPDATE`, cartID,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("lock cart: %w", err)
	}
	return nil
}

func (r *pgCartRepo) ListItems(ctx context.Context, cartID uuid.UUID) ([]model.CartItem, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT id, cart_id, product_id, quantity, color, size, created_at
		 FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`, cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	var items []model.CartItem
	for rows.Next() {
		var item model.CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.Quantity,
			&item.Color, &item.Size, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *pgCartRepo) ListItemViews(ctx context.Context, cartID uuid.UUID) ([]model.CartItemView, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT ci.product_id, p.name, ci.quantity, ci.color, ci.size
		 FROM cart_items ci JOIN products p ON p.id = ci.product_id
		 WHERE ci.cart_id = $1 ORDER BY ci.created_at, ci.id`, cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("get cart item views: %w", err)
	}
	defer rows.Close()

	var views []model.CartItemView
	for rows.Next() {
		var v model.CartItemView
		if err := rows.Scan(&v.ProductID, &v.ProductName, &v.Quantity, &v.Color, &v.Size); err != nil {
			return nil, fmt.Errorf("scan cart item view: %w", err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func (r *pgCartRepo) FindItem(ctx context.Context, cartID uuid.UUID, key model.LineKey) (*model.CartItem, error) {
	item := &model.CartItem{}
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, cart_id, product_id, quantity, color, size, created_at
		 FROM cart_items
		 WHERE cart_id = $1 AND product_id = $2 AND lower(color) = $3 AND lower(size) = $4`,
		cartID, key.ProductID, key.Color, key.Size,
	).Scan(&item.ID, &item.CartID, &item.ProductID, &item.Quantity, &item.Color, &item.Size, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find cart item: %w", err)
	}
	return item, nil
}

func (r *pgCartRepo) AddItem(ctx context.Context, item *model.CartItem) error {
	item.ID = uuid.New()
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO cart_items (id, cart_id, product_id, quantity, color, size, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING created_at`,
		item.ID, item.CartID, item.ProductID, item.Quantity, item.Color, item.Size,
	).Scan(&item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

func (r *pgCartRepo) DeleteItemsByProduct(ctx context.Context, cartID, productID uuid.UUID) (int64, error) {
	ct, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete cart item: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (r *pgCartRepo) DeleteItems(ctx context.Context, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM cart_items WHERE id = ANY($1::uuid[])`, uuidStrings(itemIDs),
	)
	if err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	return nil
}

func (r *pgCartRepo) ClearCart(ctx context.Context, cartID uuid.UUID) (int64, error) {
	ct, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	return ct.RowsAffected(), nil
}
