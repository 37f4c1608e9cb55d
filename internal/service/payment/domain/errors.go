package domain

import "github.com/pkg/errors"

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrDuplicateKey    = errors.New("idempotency key already exists")
	ErrPaymentDeclined = errors.New("payment declined by gateway")
	ErrNotRefundable   = errors.New("payment is not refundable")
	ErrAlreadyRefunded = errors.New("payment already refunded")
	ErrInvalidAmount   = errors.New("payment amount must be positive")
	ErrMissingIdemKey  = errors.New("idempotency key is required")
)
