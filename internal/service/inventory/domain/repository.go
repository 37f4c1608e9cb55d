package domain

import (
	"context"
	"time"
)

// InventoryRepository 定义库存计数器的持久化接口，由基础设施层实现。
type InventoryRepository interface {
	FindByProductID(ctx context.Context, productID string) (*Inventory, error)

	// Create 插入一个新的计数器，version 从 0 开始。
	Create(ctx context.Context, inv *Inventory) error

	// CompareAndSave 仅当存储中的版本等于 expectedVersion 时写入计数器，
	// 成功后把 inv.Version 置为 expectedVersion+1；版本不匹配返回
	// ErrVersionConflict。这是计数器唯一的写入路径。
	CompareAndSave(ctx context.Context, inv *Inventory, expectedVersion int64) error
}

// ReservationRepository 定义预占记录的持久化接口。
type ReservationRepository interface {
	Save(ctx context.Context, r *Reservation) error

	// FindByReservationID 返回同一次预占产生的全部记录。
	FindByReservationID(ctx context.Context, reservationID string) ([]*Reservation, error)

	// FindExpired 返回已过期但仍为 ACTIVE 的记录，上限 limit 条。
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
}

// StockCache 是库存快照缓存，读路径(CheckStock)优先走缓存，
// 计数器每次成功写入后失效对应条目。
type StockCache interface {
	Get(ctx context.Context, productID string) (*Inventory, bool)
	Set(ctx context.Context, inv *Inventory)
	Invalidate(ctx context.Context, productID string)
}
