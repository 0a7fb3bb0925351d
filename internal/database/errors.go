package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrCardNotFound    = errors.New("card not found")
	ErrCartNotFound    = errors.New("cart not found")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrAddressNotFound = errors.New("address not found")
	ErrOrderNotFound   = errors.New("order not found")

	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrStockConflict is the checkout-time variant of ErrInsufficientStock:
	// the commit-time re-check found less stock than the cart was built
	// against.
	ErrStockConflict = errors.New("stock conflict")
)

// InsufficientStockError reports how many units can still be added or
// purchased. It unwraps to either ErrInsufficientStock (cart time) or
// ErrStockConflict (checkout time) so callers can match with errors.Is.
type InsufficientStockError struct {
	CardID    int64
	Available int
	kind      error
}

func NewInsufficientStockError(cardID int64, available int) *InsufficientStockError {
	return &InsufficientStockError{CardID: cardID, Available: available, kind: ErrInsufficientStock}
}

func NewStockConflictError(cardID int64, available int) *InsufficientStockError {
	return &InsufficientStockError{CardID: cardID, Available: available, kind: ErrStockConflict}
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%v: card %d has %d unit(s) available", e.kind, e.CardID, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return e.kind
}
