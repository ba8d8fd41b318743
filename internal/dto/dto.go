package dto

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/go-checkout-api/internal/model"
)

// --- Auth ---

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID    uuid.UUID  `json:"id"`
	Email string     `json:"email"`
	Name  string     `json:"name"`
	Role  model.Role `json:"role"`
}

// --- Product ---

type CreateProductRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price" binding:"required"`
	Stock       *int            `json:"stock" binding:"required,min=0"`
	Item        string          `json:"item"`
	Type        string          `json:"type"`
	Sizes       []string        `json:"sizes"`
	Colors      []string        `json:"colors"`
}

type UpdateProductRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock" binding:"omitempty,min=0"`
	Item        *string          `json:"item"`
	Type        *string          `json:"type"`
	Sizes       []string         `json:"sizes"`
	Colors      []string         `json:"colors"`
}

type ListProductsRequest struct {
	Page  int `form:"page,default=1" binding:"min=1"`
	Limit int `form:"limit,default=20" binding:"min=1,max=100"`
}

type ProductResponse struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Item        string          `json:"item"`
	Type        string          `json:"type"`
	Sizes       []string        `json:"sizes"`
	Colors      []string        `json:"colors"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type ProductListResponse struct {
	Products []ProductResponse `json:"products"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// --- Cart ---

type AddCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
	Color     string    `json:"color"`
	Size      string    `json:"size"`
}

type CartItemResponse struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	Color       string    `json:"color"`
	Size        string    `json:"size"`
}

type CartResponse struct {
	Items []CartItemResponse `json:"items"`
}

func ToCartResponse(views []model.CartItemView) CartResponse {
	items := make([]CartItemResponse, 0, len(views))
	for _, v := range views {
		items = append(items, CartItemResponse{
			ProductID:   v.ProductID,
			ProductName: v.ProductName,
			Quantity:    v.Quantity,
			Color:       v.Color,
			Size:        v.Size,
		})
	}
	return CartResponse{Items: items}
}

// --- Order ---

type OrderResponse struct {
	ID         uuid.UUID           `json:"id"`
	Status     model.OrderStatus   `json:"status"`
	TotalPrice decimal.Decimal     `json:"total_price"`
	Items      []OrderItemResponse `json:"items"`
	CreatedAt  time.Time           `json:"created_at"`
}

type OrderItemResponse struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Color       string          `json:"color"`
	Size        string          `json:"size"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int             `json:"total"`
}

func ToOrderResponse(o *model.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
			Color:       it.Color,
			Size:        it.Size,
		})
	}
	return OrderResponse{
		ID:         o.ID,
		Status:     o.Status,
		TotalPrice: o.TotalPrice,
		Items:      items,
		CreatedAt:  o.CreatedAt,
	}
}

func ToOrderListResponse(orders []model.Order) OrderListResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, ToOrderResponse(&orders[i]))
	}
	return OrderListResponse{Orders: out, Total: len(out)}
}

// --- Payment ---

// SimulatePaymentRequest is optional; an empty body lets the simulator
// decide the outcome.
type SimulatePaymentRequest struct {
	ForceFail *bool `json:"force_fail"`
}

type PaymentResponse struct {
	OrderID   uuid.UUID           `json:"order_id"`
	Status    model.PaymentStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

func ToPaymentResponse(p *model.Payment) PaymentResponse {
	return PaymentResponse{OrderID: p.OrderID, Status: p.Status, CreatedAt: p.CreatedAt}
}

// --- Errors ---

type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}

func NewErrorResponse(status int, message, path string) ErrorResponse {
	return ErrorResponse{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Path:      path,
	}
}
