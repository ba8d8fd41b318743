package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/flicky/go-checkout-api/internal/model"
)

// Notifier receives fire-and-forget side effects once a transaction has
// committed. Implementations must not block the caller.
type Notifier interface {
	SendConfirmation(order *model.Order)
	UpdateRecommendations(order *model.Order)
	SendWelcome(user *model.User)
}

type NopNotifier struct{}

func (NopNotifier) SendConfirmation(*model.Order)      {}
func (NopNotifier) UpdateRecommendations(*model.Order) {}
func (NopNotifier) SendWelcome(*model.User)            {}

// ProductCache drops cached catalog entries whose stock changed.
type ProductCache interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID)
}

type nopCache struct{}

func (nopCache) Invalidate(context.Context, ...uuid.UUID) {}

// Actor is the authenticated caller an operation runs on behalf of.
type Actor struct {
	UserID uuid.UUID
	Role   model.Role
}

func (a Actor) IsAdmin() bool { return a.Role == model.RoleAdmin }

func (a Actor) canAccess(ownerID uuid.UUID) bool {
	return a.IsAdmin() || a.UserID == ownerID
}

// outcomeLabel turns an operation result into a metrics label.
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ReplaceAll(KindOf(err).String(), " ", "_")
}
