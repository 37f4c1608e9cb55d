package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"monat/internal/service/inventory/domain"
)

// GormInventoryRepository 是 InventoryRepository 的 GORM/MySQL 实现。
type GormInventoryRepository struct {
	db *gorm.DB
}

func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

func (r *GormInventoryRepository) FindByProductID(ctx context.Context, productID string) (*domain.Inventory, error) {
	var model InventoryModel
	err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrProductNotFound, "product %s", productID)
		}
		return nil, errors.Wrap(err, "query inventory")
	}
	return toDomainInventory(&model), nil
}

func (r *GormInventoryRepository) Create(ctx context.Context, inv *domain.Inventory) error {
	model := InventoryModel{
		ProductID:         inv.ProductID,
		ProductName:       inv.ProductName,
		AvailableQuantity: inv.AvailableQuantity,
		ReservedQuantity:  inv.ReservedQuantity,
		TotalQuantity:     inv.TotalQuantity,
		Version:           0,
		CreatedAt:         inv.CreatedAt,
		UpdatedAt:         inv.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return errors.Wrap(err, "create inventory")
	}
	inv.Version = 0
	return nil
}

// CompareAndSave 实现显式的 compare-and-swap：
// UPDATE ... SET version = version+1 WHERE product_id = ? AND version = ?。
// 影响行数为 0 说明别的写入者先一步成功，返回版本冲突让调用方重读重试。
func (r *GormInventoryRepository) CompareAndSave(ctx context.Context, inv *domain.Inventory, expectedVersion int64) error {
	res := r.db.WithContext(ctx).
		Model(&InventoryModel{}).
		Where("product_id = ? AND version = ?", inv.ProductID, expectedVersion).
		Updates(map[string]interface{}{
			"available_quantity": inv.AvailableQuantity,
			"reserved_quantity":  inv.ReservedQuantity,
			"total_quantity":     inv.TotalQuantity,
			"version":            expectedVersion + 1,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update inventory")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(domain.ErrVersionConflict, "product %s version %d", inv.ProductID, expectedVersion)
	}
	inv.Version = expectedVersion + 1
	return nil
}

// GormReservationRepository 是 ReservationRepository 的 GORM/MySQL 实现。
type GormReservationRepository struct {
	db *gorm.DB
}

func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

func (r *GormReservationRepository) Save(ctx context.Context, reservation *domain.Reservation) error {
	model := toReservationModel(reservation)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return errors.Wrap(err, "save reservation")
	}
	reservation.ID = model.ID
	return nil
}

func (r *GormReservationRepository) FindByReservationID(ctx context.Context, reservationID string) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := r.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "query reservations")
	}
	out := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		out = append(out, toDomainReservation(&models[i]))
	}
	return out, nil
}

func (r *GormReservationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", string(domain.ReservationActive), now).
		Order("expires_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "query expired reservations")
	}
	out := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		out = append(out, toDomainReservation(&models[i]))
	}
	return out, nil
}
