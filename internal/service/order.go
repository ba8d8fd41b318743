package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/go-checkout-api/internal/metrics"
	"github.com/flicky/go-checkout-api/internal/model"
	"github.com/flicky/go-checkout-api/internal/repository"
)

type OrderService struct {
	tx          repository.Transactor
	userRepo    repository.UserRepository
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	orderRepo   repository.OrderRepository
	notifier    Notifier
	cache       ProductCache
	metrics     *metrics.Metrics
	log         *slog.Logger
}

// OrderDeps lists what the checkout orchestrator needs. Notifier, Cache and
// Metrics are optional.
type OrderDeps struct {
	Tx          repository.Transactor
	UserRepo    repository.UserRepository
	CartRepo    repository.CartRepository
	ProductRepo repository.ProductRepository
	OrderRepo   repository.OrderRepository
	Notifier    Notifier
	Cache       ProductCache
	Metrics     *metrics.Metrics
	Log         *slog.Logger
}

func NewOrderService(d OrderDeps) *OrderService {
	s := &OrderService{
		tx:          d.Tx,
		userRepo:    d.UserRepo,
		cartRepo:    d.CartRepo,
		productRepo: d.ProductRepo,
		orderRepo:   d.OrderRepo,
		notifier:    d.Notifier,
		cache:       d.Cache,
		metrics:     d.Metrics,
		log:         d.Log,
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.cache == nil {
		s.cache = nopCache{}
	}
	return s
}

// Checkout converts the user's cart into a PENDING order. Stock for every
// line is reserved and the cart emptied in the same transaction, so either
// all of it happens or none of it does.
func (s *OrderService) Checkout(ctx context.Context, userID uuid.UUID) (*model.Order, error) {
	var order *model.Order
	var touched []uuid.UUID

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, touched = nil, nil

		user, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if user == nil {
			return ErrUserNotFound
		}

		cart, err := s.cartRepo.GetByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("get cart: %w", err)
		}
		if cart == nil {
			return ErrCartNotFound
		}
		if err := s.cartRepo.LockCart(ctx, cart.ID); err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}

		items, err := s.cartRepo.ListItems(ctx, cart.ID)
		if err != nil {
			return fmt.Errorf("list cart items: %w", err)
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		seen := make(map[model.LineKey]struct{}, len(items))
		for _, item := range items {
			if _, dup := seen[item.Key()]; dup {
				return ErrDuplicateItems
			}
			seen[item.Key()] = struct{}{}
		}

		demand := make(stockDemand, len(items))
		for _, item := range items {
			demand[item.ProductID] += item.Quantity
		}
		ids := demand.sortedIDs()
		products, err := s.productRepo.LockForUpdate(ctx, ids)
		if err != nil {
			return err
		}

		// Walk in cart order so the first line that cannot be served is the
		// one reported.
		wanted := make(map[uuid.UUID]int, len(ids))
		for _, item := range items {
			p, ok := products[item.ProductID]
			if !ok {
				return ErrProductNotFound
			}
			wanted[item.ProductID] += item.Quantity
			if wanted[item.ProductID] > p.Stock {
				return stockUnavailable(p.Name)
			}
		}

		for _, id := range ids {
			err := s.productRepo.ReserveStock(ctx, id, demand[id])
			if errors.Is(err, repository.ErrInsufficientStock) {
				return stockUnavailable(products[id].Name)
			}
			if err != nil {
				return err
			}
		}

		o := &model.Order{
			UserID:        userID,
			Status:        model.OrderStatusPending,
			StockReserved: true,
			TotalPrice:    decimal.Zero,
			Items:         make([]model.OrderItem, 0, len(items)),
		}
		itemIDs := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			p := products[item.ProductID]
			line := model.OrderItem{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    item.Quantity,
				Price:       p.Price,
				Color:       item.Color,
				Size:        item.Size,
			}
			o.Items = append(o.Items, line)
			o.TotalPrice = o.TotalPrice.Add(line.Subtotal())
			itemIDs = append(itemIDs, item.ID)
		}

		if err := s.orderRepo.Create(ctx, o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := s.cartRepo.DeleteItems(ctx, itemIDs); err != nil {
			return fmt.Errorf("clear checked out items: %w", err)
		}

		order, touched = o, ids
		return nil
	})
	s.metrics.CheckoutOutcome(outcomeLabel(err))
	if err != nil {
		s.log.Warn("checkout failed", "user_id", userID, "error", err)
		return nil, err
	}

	s.cache.Invalidate(ctx, touched...)
	s.notifier.SendConfirmation(order)
	s.notifier.UpdateRecommendations(order)

	s.log.Info("order created",
		"order_id", order.ID, "user_id", userID, "items", len(order.Items), "total", order.TotalPrice.String())
	return order, nil
}

// ListOrdersByUser returns the user's orders, newest first.
func (s *OrderService) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	orders, err := s.orderRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if !actor.canAccess(order.UserID) {
		return nil, ErrOrderAccessDenied
	}
	return order, nil
}

// stockDemand is the quantity needed per product.
type stockDemand map[uuid.UUID]int

// sortedIDs returns the products in ascending byte order, the order Postgres
// sorts uuids in. Locking and decrementing in that order keeps concurrent
// checkouts from deadlocking on each other.
func (d stockDemand) sortedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}
