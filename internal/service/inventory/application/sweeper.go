package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"monat/internal/pkg/logger"
	"monat/internal/service/inventory/domain"
)

const sweepBatchSize = 200

// ExpirySweeper 周期性回收过期的预占：释放计数器并把记录标记为 EXPIRED。
// 单条记录处理失败只记日志并继续，不会中断整轮扫描。
type ExpirySweeper struct {
	svc             *InventoryApplicationService
	reservationRepo domain.ReservationRepository
	interval        time.Duration
	tracer          trace.Tracer
}

func NewExpirySweeper(svc *InventoryApplicationService, reservationRepo domain.ReservationRepository, interval time.Duration, tracer trace.Tracer) *ExpirySweeper {
	return &ExpirySweeper{
		svc:             svc,
		reservationRepo: reservationRepo,
		interval:        interval,
		tracer:          tracer,
	}
}

// Run 以固定周期执行扫描，ctx 取消时退出。
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Logger.Info().Dur("interval", s.interval).Msg("reservation expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info().Msg("reservation expiry sweeper stopping")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce 执行一轮过期回收。
func (s *ExpirySweeper) SweepOnce(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "inventory.ExpirySweep")
	defer span.End()

	expired, err := s.reservationRepo.FindExpired(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Msg("expiry sweep: query failed")
		return
	}
	if len(expired) == 0 {
		return
	}
	span.SetAttributes(attribute.Int("expired.count", len(expired)))
	logger.Ctx(ctx).Info().Int("count", len(expired)).Msg("found expired reservations")

	for _, r := range expired {
		if err := s.releaseExpired(ctx, r); err != nil {
			// 失败的记录留到下一轮重试
			logger.Ctx(ctx).Error().Err(err).
				Str("reservation_id", r.ReservationID).
				Str("product_id", r.ProductID).
				Msg("failed to release expired reservation")
		}
	}
}

func (s *ExpirySweeper) releaseExpired(ctx context.Context, r *domain.Reservation) error {
	if !r.IsExpired(time.Now()) {
		return nil
	}
	if err := s.svc.adjustCounter(ctx, r.ProductID, func(inv *domain.Inventory) error {
		return inv.ReleaseReserved(r.Quantity)
	}); err != nil {
		return err
	}
	if err := r.MarkExpired(); err != nil {
		return err
	}
	if err := s.reservationRepo.Save(ctx, r); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().
		Str("reservation_id", r.ReservationID).
		Str("product_id", r.ProductID).
		Int("quantity", r.Quantity).
		Msg("expired reservation released")
	return nil
}
