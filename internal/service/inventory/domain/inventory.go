package domain

import (
	"fmt"
	"time"
)

// Inventory 是库存计数器聚合。
// 任何时刻都满足 available + reserved == total 且三者非负；
// 并发修改通过 Version 字段做乐观锁，写入时版本不匹配会被存储层拒绝。
type Inventory struct {
	ProductID         string
	ProductName       string
	AvailableQuantity int
	ReservedQuantity  int
	TotalQuantity     int
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Reserve 预占库存。库存不足时返回 ErrInsufficientStock，不做任何修改。
func (i *Inventory) Reserve(quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidQuantity, quantity)
	}
	if i.AvailableQuantity < quantity {
		return fmt.Errorf("%w: product %s available %d, requested %d",
			ErrInsufficientStock, i.ProductID, i.AvailableQuantity, quantity)
	}
	i.AvailableQuantity -= quantity
	i.ReservedQuantity += quantity
	i.UpdatedAt = time.Now()
	return nil
}

// ReleaseReserved 释放预占(补偿)，库存回到可用池。
func (i *Inventory) ReleaseReserved(quantity int) error {
	if i.ReservedQuantity < quantity {
		return fmt.Errorf("%w: reserved %d, requested release %d",
			ErrInvalidQuantity, i.ReservedQuantity, quantity)
	}
	i.ReservedQuantity -= quantity
	i.AvailableQuantity += quantity
	i.UpdatedAt = time.Now()
	return nil
}

// CommitReserved 提交预占，销售成立，库存离开系统。
func (i *Inventory) CommitReserved(quantity int) error {
	if i.ReservedQuantity < quantity {
		return fmt.Errorf("%w: reserved %d, requested commit %d",
			ErrInvalidQuantity, i.ReservedQuantity, quantity)
	}
	i.ReservedQuantity -= quantity
	i.TotalQuantity -= quantity
	i.UpdatedAt = time.Now()
	return nil
}

// AddStock 补货。
func (i *Inventory) AddStock(quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidQuantity, quantity)
	}
	i.AvailableQuantity += quantity
	i.TotalQuantity += quantity
	i.UpdatedAt = time.Now()
	return nil
}
