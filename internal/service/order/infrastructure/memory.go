package infrastructure

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"monat/internal/service/order/domain"
)

// NoopTxManager 测试用，直接执行回调，没有事务语义。
type NoopTxManager struct{}

func (NoopTxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type MemoryOrderRepository struct {
	mu     sync.Mutex
	nextID int64
	orders map[string]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

func (r *MemoryOrderRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	stored := *order
	stored.Items = append([]domain.OrderItem(nil), order.Items...)
	r.orders[order.OrderID] = &stored
	return nil
}

func (r *MemoryOrderRepository) Update(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.OrderID]; !ok {
		return errors.Wrap(domain.ErrOrderNotFound, order.OrderID)
	}
	stored := *order
	stored.Items = append([]domain.OrderItem(nil), order.Items...)
	r.orders[order.OrderID] = &stored
	return nil
}

func (r *MemoryOrderRepository) FindByOrderID(_ context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[orderID]
	if !ok {
		return nil, errors.Wrap(domain.ErrOrderNotFound, orderID)
	}
	copied := *stored
	copied.Items = append([]domain.OrderItem(nil), stored.Items...)
	return &copied, nil
}

type MemorySagaRepository struct {
	mu     sync.Mutex
	nextID int64
	states map[string]*domain.SagaState
}

func NewMemorySagaRepository() *MemorySagaRepository {
	return &MemorySagaRepository{states: make(map[string]*domain.SagaState)}
}

func (r *MemorySagaRepository) Create(_ context.Context, state *domain.SagaState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	state.ID = r.nextID
	stored := *state
	r.states[state.OrderID] = &stored
	return nil
}

func (r *MemorySagaRepository) Update(_ context.Context, state *domain.SagaState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[state.OrderID]; !ok {
		return errors.Wrap(domain.ErrSagaNotFound, state.OrderID)
	}
	stored := *state
	r.states[state.OrderID] = &stored
	return nil
}

func (r *MemorySagaRepository) FindByOrderID(_ context.Context, orderID string) (*domain.SagaState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.states[orderID]
	if !ok {
		return nil, errors.Wrap(domain.ErrSagaNotFound, orderID)
	}
	copied := *stored
	return &copied, nil
}
