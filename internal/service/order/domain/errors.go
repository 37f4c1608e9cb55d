package domain

import "github.com/pkg/errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrSagaNotFound  = errors.New("saga state not found")
	ErrEmptyOrder    = errors.New("order must contain at least one item")
	ErrInvalidItem   = errors.New("order item quantity must be positive")
)
