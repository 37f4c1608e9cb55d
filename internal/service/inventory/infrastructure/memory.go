package infrastructure

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"monat/internal/service/inventory/domain"
)

// MemoryInventoryRepository 是 InventoryRepository 的内存实现，
// 用于测试和本地运行。CompareAndSave 的版本语义与 MySQL 实现一致。
type MemoryInventoryRepository struct {
	mu    sync.Mutex
	items map[string]*domain.Inventory
}

func NewMemoryInventoryRepository() *MemoryInventoryRepository {
	return &MemoryInventoryRepository{items: make(map[string]*domain.Inventory)}
}

func (r *MemoryInventoryRepository) FindByProductID(_ context.Context, productID string) (*domain.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.items[productID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "product %s", productID)
	}
	cp := *inv
	return &cp, nil
}

func (r *MemoryInventoryRepository) Create(_ context.Context, inv *domain.Inventory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inv
	cp.Version = 0
	r.items[inv.ProductID] = &cp
	inv.Version = 0
	return nil
}

func (r *MemoryInventoryRepository) CompareAndSave(_ context.Context, inv *domain.Inventory, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[inv.ProductID]
	if !ok {
		return errors.Wrapf(domain.ErrProductNotFound, "product %s", inv.ProductID)
	}
	if cur.Version != expectedVersion {
		return errors.Wrapf(domain.ErrVersionConflict, "product %s version %d", inv.ProductID, expectedVersion)
	}
	cp := *inv
	cp.Version = expectedVersion + 1
	r.items[inv.ProductID] = &cp
	inv.Version = cp.Version
	return nil
}

// MemoryReservationRepository 是 ReservationRepository 的内存实现。
type MemoryReservationRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   []*domain.Reservation
}

func NewMemoryReservationRepository() *MemoryReservationRepository {
	return &MemoryReservationRepository{}
}

func (r *MemoryReservationRepository) Save(_ context.Context, reservation *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reservation.ID == 0 {
		r.nextID++
		reservation.ID = r.nextID
		cp := *reservation
		r.rows = append(r.rows, &cp)
		return nil
	}
	for i, row := range r.rows {
		if row.ID == reservation.ID {
			cp := *reservation
			r.rows[i] = &cp
			return nil
		}
	}
	cp := *reservation
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *MemoryReservationRepository) FindByReservationID(_ context.Context, reservationID string) ([]*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Reservation
	for _, row := range r.rows {
		if row.ReservationID == reservationID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryReservationRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Reservation
	for _, row := range r.rows {
		if row.Status == domain.ReservationActive && now.After(row.ExpiresAt) {
			cp := *row
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// NoopStockCache 在没有 Redis 的环境(测试)下充当空缓存。
type NoopStockCache struct{}

func (NoopStockCache) Get(context.Context, string) (*domain.Inventory, bool) { return nil, false }
func (NoopStockCache) Set(context.Context, *domain.Inventory)                {}
func (NoopStockCache) Invalidate(context.Context, string)                    {}
