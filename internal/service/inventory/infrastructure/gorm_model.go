package infrastructure

import "time"

// InventoryModel 是库存计数器的数据库模型。
// version 列承载乐观锁，所有更新都以 WHERE version = ? 为条件。
type InventoryModel struct {
	ID                int64     `gorm:"primaryKey;autoIncrement"`
	ProductID         string    `gorm:"column:product_id;uniqueIndex;size:64;not null"`
	ProductName       string    `gorm:"column:product_name;size:255"`
	AvailableQuantity int       `gorm:"column:available_quantity;not null"`
	ReservedQuantity  int       `gorm:"column:reserved_quantity;not null"`
	TotalQuantity     int       `gorm:"column:total_quantity;not null"`
	Version           int64     `gorm:"column:version;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (InventoryModel) TableName() string { return "inventory" }

// ReservationModel 是预占记录的数据库模型。
type ReservationModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	ReservationID string    `gorm:"column:reservation_id;index;size:64;not null"`
	OrderID       string    `gorm:"column:order_id;index;size:64;not null"`
	ProductID     string    `gorm:"column:product_id;size:64;not null"`
	Quantity      int       `gorm:"column:quantity;not null"`
	Status        string    `gorm:"column:status;size:32;not null;index:idx_status_expires"`
	ExpiresAt     time.Time `gorm:"column:expires_at;index:idx_status_expires"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (ReservationModel) TableName() string { return "stock_reservations" }
