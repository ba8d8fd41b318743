package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/flicky/go-checkout-api/internal/model"
	"github.com/flicky/go-checkout-api/internal/repository"
)

type CartService struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	userRepo    repository.UserRepository
	log         *slog.Logger
}

func NewCartService(
	cartRepo repository.CartRepository,
	productRepo repository.ProductRepository,
	userRepo repository.UserRepository,
	log *slog.Logger,
) *CartService {
	return &CartService{cartRepo: cartRepo, productRepo: productRepo, userRepo: userRepo, log: log}
}

type AddItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	Color     string
	Size      string
}

// AddItem stages a new cart line. The stock comparison is only a pre-check:
// nothing is reserved until checkout, so it may be stale by then.
func (s *CartService) AddItem(ctx context.Context, userID uuid.UUID, in AddItemInput) error {
	log := s.log.With("user_id", userID, "product_id", in.ProductID)

	if in.Quantity <= 0 {
		return newError(KindBusinessRule, "quantity must be positive")
	}

	cart, err := s.cartFor(ctx, userID)
	if err != nil {
		return err
	}

	product, err := s.productRepo.GetByID(ctx, in.ProductID)
	if err != nil {
		return fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		log.Warn("add to cart: product not found")
		return ErrProductNotFound
	}

	if in.Quantity > product.Stock {
		log.Warn("add to cart: insufficient stock", "requested", in.Quantity, "available", product.Stock)
		return stockUnavailable(product.Name)
	}
	if !product.AcceptsColor(in.Color) {
		return newError(KindBusinessRule, "color %q is not available for product %s", in.Color, product.Name)
	}
	if !product.AcceptsSize(in.Size) {
		return newError(KindBusinessRule, "size %q is not available for product %s", in.Size, product.Name)
	}

	key := model.NewLineKey(product.ID, in.Color, in.Size)
	existing, err := s.cartRepo.FindItem(ctx, cart.ID, key)
	if err != nil {
		return fmt.Errorf("find cart item: %w", err)
	}
	if existing != nil {
		return ErrDuplicateCartItem
	}

	err = s.cartRepo.AddItem(ctx, &model.CartItem{
		CartID:    cart.ID,
		ProductID: product.ID,
		Quantity:  in.Quantity,
		Color:     strings.TrimSpace(in.Color),
		Size:      strings.TrimSpace(in.Size),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// Lost a race with a concurrent add of the same line.
		return ErrDuplicateCartItem
	}
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}

	log.Info("item added to cart", "quantity", in.Quantity)
	return nil
}

// cartFor returns the user's cart, creating it on first use.
func (s *CartService) cartFor(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	cart, err := s.cartRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart != nil {
		return cart, nil
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	cart, err = s.cartRepo.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	s.log.Info("cart created", "user_id", userID, "cart_id", cart.ID)
	return cart, nil
}

func (s *CartService) existingCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	cart, err := s.cartRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart == nil {
		return nil, ErrCartNotFound
	}
	return cart, nil
}

// RemoveItem deletes every line of the product, whatever its color or size.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID uuid.UUID) error {
	cart, err := s.existingCart(ctx, userID)
	if err != nil {
		return err
	}

	n, err := s.cartRepo.DeleteItemsByProduct(ctx, cart.ID, productID)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	if n == 0 {
		return ErrCartItemNotFound
	}

	s.log.Info("item removed from cart", "user_id", userID, "product_id", productID, "rows", n)
	return nil
}

func (s *CartService) GetItems(ctx context.Context, userID uuid.UUID) ([]model.CartItemView, error) {
	cart, err := s.existingCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	views, err := s.cartRepo.ListItemViews(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	return views, nil
}

func (s *CartService) ClearCart(ctx context.Context, userID uuid.UUID) error {
	cart, err := s.existingCart(ctx, userID)
	if err != nil {
		return err
	}
	n, err := s.cartRepo.ClearCart(ctx, cart.ID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.log.Info("cart cleared", "user_id", userID, "rows", n)
	return nil
}

// FinalizeCart runs after a successful payment, inside the payment
// transaction. Checkout already reserved stock and emptied the cart, so it
// only drops whatever lines were added since, without touching stock.
func (s *CartService) FinalizeCart(ctx context.Context, userID uuid.UUID) error {
	cart, err := s.cartRepo.GetByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get cart: %w", err)
	}
	if cart == nil {
		return nil
	}

	items, err := s.cartRepo.ListItems(ctx, cart.ID)
	if err != nil {
		return fmt.Errorf("list cart items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		product, err := s.productRepo.GetByID(ctx, item.ProductID)
		if err != nil {
			return fmt.Errorf("get product: %w", err)
		}
		if product == nil || product.Stock < 0 {
			return fmt.Errorf("cart item %s references invalid product %s", item.ID, item.ProductID)
		}
		if item.Quantity > product.Stock {
			s.log.Warn("finalize cart: stale line exceeds stock",
				"user_id", userID, "product_id", product.ID, "quantity", item.Quantity, "stock", product.Stock)
		}
	}

	if _, err := s.cartRepo.ClearCart(ctx, cart.ID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.log.Info("cart finalized", "user_id", userID, "rows", len(items))
	return nil
}
