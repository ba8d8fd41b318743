package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/flicky/go-checkout-api/internal/metrics"
	"github.com/flicky/go-checkout-api/internal/model"
	"github.com/flicky/go-checkout-api/internal/repository"
)

// DefaultFailureRate is the share of simulated payments that fail when no
// outcome is forced.
const DefaultFailureRate = 0.20

// OutcomeDecider decides whether a simulated payment goes through.
type OutcomeDecider interface {
	Succeeds() bool
}

// RandomOutcome fails with probability FailureRate.
type RandomOutcome struct {
	FailureRate float64
}

func (r RandomOutcome) Succeeds() bool {
	return rand.Float64() >= r.FailureRate
}

// FixedOutcome always returns the same result.
type FixedOutcome bool

func (f FixedOutcome) Succeeds() bool { return bool(f) }

type PaymentService struct {
	tx          repository.Transactor
	orderRepo   repository.OrderRepository
	paymentRepo repository.PaymentRepository
	productRepo repository.ProductRepository
	carts       *CartService
	decider     OutcomeDecider
	notifier    Notifier
	cache       ProductCache
	metrics     *metrics.Metrics
	log         *slog.Logger
}

// PaymentDeps lists what the payment simulator needs. Decider defaults to
// RandomOutcome with DefaultFailureRate; Notifier, Cache and Metrics are
// optional.
type PaymentDeps struct {
	Tx          repository.Transactor
	OrderRepo   repository.OrderRepository
	PaymentRepo repository.PaymentRepository
	ProductRepo repository.ProductRepository
	Carts       *CartService
	Decider     OutcomeDecider
	Notifier    Notifier
	Cache       ProductCache
	Metrics     *metrics.Metrics
	Log         *slog.Logger
}

func NewPaymentService(d PaymentDeps) *PaymentService {
	s := &PaymentService{
		tx:          d.Tx,
		orderRepo:   d.OrderRepo,
		paymentRepo: d.PaymentRepo,
		productRepo: d.ProductRepo,
		carts:       d.Carts,
		decider:     d.Decider,
		notifier:    d.Notifier,
		cache:       d.Cache,
		metrics:     d.Metrics,
		log:         d.Log,
	}
	if s.decider == nil {
		s.decider = RandomOutcome{FailureRate: DefaultFailureRate}
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.cache == nil {
		s.cache = nopCache{}
	}
	return s
}

// SimulatePayment settles the order's payment. forceFail overrides the
// decider when non-nil. A PAID payment is final and returned as is; a FAILED
// one may be retried.
//
// A failure hands the checkout reservation back to stock so an abandoned
// order does not hold inventory. A later success takes it again, and fails
// with StockUnavailable if the goods were sold in the meantime.
func (s *PaymentService) SimulatePayment(ctx context.Context, actor Actor, orderID uuid.UUID, forceFail *bool) (*model.Payment, error) {
	var (
		payment *model.Payment
		order   *model.Order
		settled bool
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		payment, order, settled = nil, nil, false

		o, err := s.orderRepo.GetByIDForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		if o == nil {
			return ErrOrderNotFound
		}
		if !actor.canAccess(o.UserID) {
			return ErrOrderAccessDenied
		}

		p, err := s.paymentRepo.GetByOrderID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get payment: %w", err)
		}
		if p == nil {
			p = &model.Payment{OrderID: orderID, Status: model.PaymentStatusPending, CreatedAt: time.Now()}
		}
		if p.Status.IsTerminal() {
			payment, order = p, o
			return nil
		}

		var succeeds bool
		if forceFail != nil {
			succeeds = !*forceFail
		} else {
			succeeds = s.decider.Succeeds()
		}

		if succeeds {
			if err := s.reacquire(ctx, o); err != nil {
				return err
			}
			p.Status = model.PaymentStatusPaid
			o.Status = model.OrderStatusPaid
			if err := s.carts.FinalizeCart(ctx, o.UserID); err != nil {
				return fmt.Errorf("finalize cart: %w", err)
			}
		} else {
			if err := s.release(ctx, o); err != nil {
				return err
			}
			p.Status = model.PaymentStatusFailed
		}

		if err := s.paymentRepo.Save(ctx, p); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		if err := s.orderRepo.UpdateState(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		payment, order, settled = p, o, true
		return nil
	})
	if err != nil {
		s.metrics.PaymentOutcome(outcomeLabel(err))
		s.log.Warn("payment simulation failed", "order_id", orderID, "error", err)
		return nil, err
	}
	if !settled {
		s.log.Info("payment already settled", "order_id", orderID, "status", payment.Status)
		return payment, nil
	}

	s.metrics.PaymentOutcome(string(payment.Status))
	s.cache.Invalidate(ctx, orderProductIDs(order)...)
	if payment.Status == model.PaymentStatusPaid {
		s.notifier.SendConfirmation(order)
	}

	s.log.Info("payment simulated", "order_id", orderID, "status", payment.Status, "stock_reserved", order.StockReserved)
	return payment, nil
}

func (s *PaymentService) release(ctx context.Context, order *model.Order) error {
	if !order.StockReserved {
		return nil
	}
	demand := orderDemand(order)
	for _, id := range demand.sortedIDs() {
		if err := s.productRepo.ReleaseStock(ctx, id, demand[id]); err != nil {
			return err
		}
	}
	order.StockReserved = false
	return nil
}

func (s *PaymentService) reacquire(ctx context.Context, order *model.Order) error {
	if order.StockReserved {
		return nil
	}
	demand := orderDemand(order)
	for _, id := range demand.sortedIDs() {
		err := s.productRepo.ReserveStock(ctx, id, demand[id])
		if errors.Is(err, repository.ErrInsufficientStock) {
			return stockUnavailable(productName(order, id))
		}
		if err != nil {
			return err
		}
	}
	order.StockReserved = true
	return nil
}

func (s *PaymentService) GetPaymentStatus(ctx context.Context, actor Actor, orderID uuid.UUID) (*model.Payment, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order != nil && !actor.canAccess(order.UserID) {
		return nil, ErrOrderAccessDenied
	}

	payment, err := s.paymentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func orderDemand(order *model.Order) stockDemand {
	d := make(stockDemand, len(order.Items))
	for _, item := range order.Items {
		d[item.ProductID] += item.Quantity
	}
	return d
}

func orderProductIDs(order *model.Order) []uuid.UUID {
	return orderDemand(order).sortedIDs()
}

func productName(order *model.Order, id uuid.UUID) string {
	for _, item := range order.Items {
		if item.ProductID == id {
			return item.ProductName
		}
	}
	return id.String()
}
