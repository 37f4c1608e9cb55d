package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"monat/internal/metrics"
	"monat/internal/pkg/logger"
	"monat/internal/pkg/resilience"
	"monat/internal/service/inventory/domain"
)

// InventoryApplicationService 是库存预占引擎。
// 计数器的每次修改都走 read-modify-CompareAndSave 循环：版本冲突时
// 重读再重试(指数退避)，把并发写冲突转化为顺序化的重试，而不是丢失
// 更新或超卖。
type InventoryApplicationService struct {
	inventoryRepo   domain.InventoryRepository
	reservationRepo domain.ReservationRepository
	cache           domain.StockCache
	retry           resilience.RetryPolicy
	reservationTTL  time.Duration
	tracer          trace.Tracer
}

func NewInventoryApplicationService(
	inventoryRepo domain.InventoryRepository,
	reservationRepo domain.ReservationRepository,
	cache domain.StockCache,
	retry resilience.RetryPolicy,
	reservationTTL time.Duration,
	tracer trace.Tracer,
) *InventoryApplicationService {
	return &InventoryApplicationService{
		inventoryRepo:   inventoryRepo,
		reservationRepo: reservationRepo,
		cache:           cache,
		retry:           retry,
		reservationTTL:  reservationTTL,
		tracer:          tracer,
	}
}

// Reserve 为订单预占单个商品的库存，返回预占ID。
// 库存不足/商品不存在时立即失败，计数器不被修改。
func (s *InventoryApplicationService) Reserve(ctx context.Context, orderID, productID string, quantity int) (string, error) {
	reservationID := uuid.NewString()
	if err := s.reserveOne(ctx, reservationID, orderID, productID, quantity); err != nil {
		return "", err
	}
	return reservationID, nil
}

// ReserveBatch 逐个商品应用预占，共享同一个 reservationID。
// 各商品之间没有外层原子事务：中途失败会留下已生效的预占记录，
// 必须由调用方(saga 编排器)通过 Release 显式补偿。
func (s *InventoryApplicationService) ReserveBatch(ctx context.Context, orderID string, items map[string]int) (string, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ReserveBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("items.count", len(items)),
	)

	reservationID := uuid.NewString()
	for productID, quantity := range items {
		if err := s.reserveOne(ctx, reservationID, orderID, productID, quantity); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch reservation failed")
			// 已预占的部分保持 ACTIVE，等编排器调 Release 回滚
			return reservationID, err
		}
	}

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("reservation_id", reservationID).
		Int("products", len(items)).
		Msg("stock reserved")
	return reservationID, nil
}

func (s *InventoryApplicationService) reserveOne(ctx context.Context, reservationID, orderID, productID string, quantity int) error {
	ctx, span := s.tracer.Start(ctx, "inventory.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", productID),
		attribute.Int("quantity", quantity),
	)

	err := s.retry.Do(ctx, func() error {
		inv, err := s.inventoryRepo.FindByProductID(ctx, productID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				metrics.ReservationRejections.WithLabelValues("not_found").Inc()
				return resilience.Permanent(err)
			}
			return err
		}

		expected := inv.Version
		if err := inv.Reserve(quantity); err != nil {
			metrics.ReservationRejections.WithLabelValues("insufficient_stock").Inc()
			return resilience.Permanent(err)
		}

		if err := s.inventoryRepo.CompareAndSave(ctx, inv, expected); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				metrics.ReservationConflicts.Inc()
				span.AddEvent("version conflict, retrying")
				return err // 可重试: 下一轮会重读最新版本
			}
			return resilience.Permanent(err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return err
	}

	reservation := domain.NewReservation(reservationID, orderID, productID, quantity, s.reservationTTL)
	if err := s.reservationRepo.Save(ctx, reservation); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "save reservation")
	}

	s.cache.Invalidate(ctx, productID)
	span.AddEvent("stock reserved")
	return nil
}

// Release 释放一次预占的全部记录(补偿路径)。
// 预占不存在或已处于终态时是幂等的空操作。
func (s *InventoryApplicationService) Release(ctx context.Context, reservationID string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.Release")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	reservations, err := s.reservationRepo.FindByReservationID(ctx, reservationID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(reservations) == 0 {
		logger.Ctx(ctx).Warn().Str("reservation_id", reservationID).Msg("release: reservation not found, ignoring")
		return nil
	}

	for _, r := range reservations {
		if !r.IsActive() {
			continue
		}
		if err := s.adjustCounter(ctx, r.ProductID, func(inv *domain.Inventory) error {
			return inv.ReleaseReserved(r.Quantity)
		}); err != nil {
			span.RecordError(err)
			return err
		}
		if err := r.MarkReleased(); err != nil {
			return err
		}
		if err := s.reservationRepo.Save(ctx, r); err != nil {
			return errors.Wrap(err, "save reservation")
		}
		logger.Ctx(ctx).Info().
			Str("reservation_id", reservationID).
			Str("product_id", r.ProductID).
			Int("quantity", r.Quantity).
			Msg("stock released")
	}
	return nil
}

// Commit 提交一次预占的全部记录，销售成立，库存离开系统。
// 已提交/已释放的记录跳过(幂等)；预占不存在返回 ErrReservationNotFound。
func (s *InventoryApplicationService) Commit(ctx context.Context, reservationID string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.Commit")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	reservations, err := s.reservationRepo.FindByReservationID(ctx, reservationID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(reservations) == 0 {
		return errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", reservationID)
	}

	for _, r := range reservations {
		if !r.IsActive() {
			logger.Ctx(ctx).Warn().
				Str("reservation_id", reservationID).
				Str("status", string(r.Status)).
				Msg("commit: reservation already processed, skipping")
			continue
		}
		if err := s.adjustCounter(ctx, r.ProductID, func(inv *domain.Inventory) error {
			return inv.CommitReserved(r.Quantity)
		}); err != nil {
			span.RecordError(err)
			return err
		}
		if err := r.MarkCommitted(); err != nil {
			return err
		}
		if err := s.reservationRepo.Save(ctx, r); err != nil {
			return errors.Wrap(err, "save reservation")
		}
		logger.Ctx(ctx).Info().
			Str("reservation_id", reservationID).
			Str("product_id", r.ProductID).
			Int("quantity", r.Quantity).
			Msg("stock committed")
	}
	return nil
}

// CheckStock 查询库存快照，优先命中缓存。
func (s *InventoryApplicationService) CheckStock(ctx context.Context, productID string) (*domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CheckStock")
	defer span.End()

	if inv, ok := s.cache.Get(ctx, productID); ok {
		span.AddEvent("cache hit")
		return inv, nil
	}
	inv, err := s.inventoryRepo.FindByProductID(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.cache.Set(ctx, inv)
	return inv, nil
}

// AddStock 补货。商品不存在时创建新的计数器。
func (s *InventoryApplicationService) AddStock(ctx context.Context, productID, productName string, quantity int) error {
	ctx, span := s.tracer.Start(ctx, "inventory.AddStock")
	defer span.End()

	err := s.retry.Do(ctx, func() error {
		inv, err := s.inventoryRepo.FindByProductID(ctx, productID)
		if errors.Is(err, domain.ErrProductNotFound) {
			inv = &domain.Inventory{
				ProductID:   productID,
				ProductName: productName,
				CreatedAt:   time.Now(),
			}
			if err := inv.AddStock(quantity); err != nil {
				return resilience.Permanent(err)
			}
			return s.inventoryRepo.Create(ctx, inv)
		}
		if err != nil {
			return err
		}

		expected := inv.Version
		if err := inv.AddStock(quantity); err != nil {
			return resilience.Permanent(err)
		}
		if err := s.inventoryRepo.CompareAndSave(ctx, inv, expected); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				metrics.ReservationConflicts.Inc()
				return err
			}
			return resilience.Permanent(err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.cache.Invalidate(ctx, productID)
	return nil
}

// adjustCounter 对单个计数器执行一次带版本重试的 read-modify-write。
// mutate 失败视为不可重试(会破坏不变式的请求)。
func (s *InventoryApplicationService) adjustCounter(ctx context.Context, productID string, mutate func(*domain.Inventory) error) error {
	err := s.retry.Do(ctx, func() error {
		inv, err := s.inventoryRepo.FindByProductID(ctx, productID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return resilience.Permanent(err)
			}
			return err
		}
		expected := inv.Version
		if err := mutate(inv); err != nil {
			return resilience.Permanent(err)
		}
		if err := s.inventoryRepo.CompareAndSave(ctx, inv, expected); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				metrics.ReservationConflicts.Inc()
				return err
			}
			return resilience.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, productID)
	return nil
}
