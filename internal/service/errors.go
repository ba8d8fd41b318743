package service

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindBusinessRule
	KindStockUnavailable
	KindCartEmpty
	KindUnauthorized
	KindConflict
	KindInvalidCredentials
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindBusinessRule:
		return "business rule"
	case KindStockUnavailable:
		return "stock unavailable"
	case KindCartEmpty:
		return "cart empty"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindInvalidCredentials:
		return "invalid credentials"
	}
	return "internal"
}

// Error is a failure with a kind the HTTP boundary knows how to translate.
// A kind-only Error (empty Msg) matches every Error of that kind under
// errors.Is, so callers can test either the specific sentinel or the kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Kind == e.Kind
}

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrBusinessRule       = &Error{Kind: KindBusinessRule}
	ErrStockUnavailable   = &Error{Kind: KindStockUnavailable}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Msg: "invalid credentials"}

	ErrUserNotFound     = &Error{Kind: KindNotFound, Msg: "user not found"}
	ErrProductNotFound  = &Error{Kind: KindNotFound, Msg: "product not found"}
	ErrCartNotFound     = &Error{Kind: KindNotFound, Msg: "cart not found"}
	ErrCartItemNotFound = &Error{Kind: KindNotFound, Msg: "cart item not found"}
	ErrOrderNotFound    = &Error{Kind: KindNotFound, Msg: "order not found"}
	ErrPaymentNotFound  = &Error{Kind: KindNotFound, Msg: "payment not found"}

	ErrEmptyCart         = &Error{Kind: KindCartEmpty, Msg: "cart is empty"}
	ErrDuplicateCartItem = &Error{Kind: KindBusinessRule, Msg: "product already in cart with same color/size"}
	ErrDuplicateItems    = &Error{Kind: KindBusinessRule, Msg: "cart contains duplicate items"}
	ErrUserAlreadyExists = &Error{Kind: KindBusinessRule, Msg: "user already exists"}
	ErrOrderAccessDenied = &Error{Kind: KindUnauthorized, Msg: "access denied"}
	ErrProductInUse      = &Error{Kind: KindConflict, Msg: "product is referenced by carts or orders"}
)

func stockUnavailable(productName string) error {
	return newError(KindStockUnavailable, "insufficient stock for product: %s", productName)
}
