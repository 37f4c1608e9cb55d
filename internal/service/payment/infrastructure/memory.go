package infrastructure

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"monat/internal/service/payment/domain"
)

// MemoryPaymentRepository 测试用实现，唯一约束语义与 MySQL 版一致。
type MemoryPaymentRepository struct {
	mu     sync.Mutex
	nextID int64
	byKey  map[string]*domain.Payment
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{byKey: make(map[string]*domain.Payment)}
}

func (r *MemoryPaymentRepository) Insert(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[payment.IdempotencyKey]; ok {
		return errors.Wrap(domain.ErrDuplicateKey, payment.IdempotencyKey)
	}
	r.nextID++
	payment.ID = r.nextID
	stored := *payment
	r.byKey[payment.IdempotencyKey] = &stored
	return nil
}

func (r *MemoryPaymentRepository) Update(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[payment.IdempotencyKey]; !ok {
		return domain.ErrPaymentNotFound
	}
	stored := *payment
	r.byKey[payment.IdempotencyKey] = &stored
	return nil
}

func (r *MemoryPaymentRepository) FindByIdempotencyKey(_ context.Context, key string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *MemoryPaymentRepository) FindByPaymentID(_ context.Context, paymentID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.byKey {
		if stored.PaymentID == paymentID {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *MemoryPaymentRepository) FindCompletedByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Payment
	for _, stored := range r.byKey {
		if stored.OrderID != orderID {
			continue
		}
		if stored.Status != domain.PaymentCompleted && stored.Status != domain.PaymentRefunded {
			continue
		}
		if latest == nil || stored.ID > latest.ID {
			latest = stored
		}
	}
	if latest == nil {
		return nil, errors.Wrap(domain.ErrPaymentNotFound, orderID)
	}
	copied := *latest
	return &copied, nil
}
