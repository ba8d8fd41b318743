package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleClient Role = "CLIENT"
)

type User struct {
	ID        uuid.UUID
	Email     string
	Password  string
	Name      string
	Role      Role
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Product struct {
	ID          uuid.UUID
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Item        string
	Type        string
	Sizes       []string
	Colors      []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AcceptsColor reports whether color is one of the declared colors.
// A product that declares no colors accepts any value.
func (p *Product) AcceptsColor(color string) bool {
	return containsFold(p.Colors, color)
}

func (p *Product) AcceptsSize(size string) bool {
	return containsFold(p.Sizes, size)
}

func containsFold(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

type Cart struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CartItem struct {
	ID        uuid.UUID
	CartID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	Color     string
	Size      string
	CreatedAt time.Time
}

// LineKey identifies a cart line: one row per product, color and size,
// compared case-insensitively.
type LineKey struct {
	ProductID uuid.UUID
	Color     string
	Size      string
}

func NewLineKey(productID uuid.UUID, color, size string) LineKey {
	return LineKey{
		ProductID: productID,
		Color:     strings.ToLower(strings.TrimSpace(color)),
		Size:      strings.ToLower(strings.TrimSpace(size)),
	}
}

func (i CartItem) Key() LineKey {
	return NewLineKey(i.ProductID, i.Color, i.Size)
}

// CartItemView is the read projection returned to cart owners.
type CartItemView struct {
	ProductID   uuid.UUID
	ProductName string
	Quantity    int
	Color       string
	Size        string
}

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusPaid    OrderStatus = "PAID"
	OrderStatusFailed  OrderStatus = "FAILED"
)

type Order struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Status        OrderStatus
	TotalPrice    decimal.Decimal
	StockReserved bool
	Items         []OrderItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderItem is immutable once written. Price is the unit price captured at
// checkout and is never re-read from the product.
type OrderItem struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	Quantity    int
	Price       decimal.Decimal
	Color       string
	Size        string
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// IsTerminal reports whether no further simulation may change the status.
// FAILED is not terminal: the payment may be retried.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid
}

type Payment struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Status    PaymentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
