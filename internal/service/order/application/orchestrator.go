package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"monat/internal/metrics"
	"monat/internal/outbox"
	"monat/internal/pkg/logger"
	"monat/internal/service/order/domain"
	"monat/internal/service/order/port"
)

// SagaOrchestrator 驱动订单 saga 的集中式状态机。
// 每个步骤完成后立即持久化 SagaState，崩溃后从记录的副作用恢复；
// 任一前向步骤失败就转入补偿，按记录反向回滚，最终一定落在
// COMPLETED 或 COMPENSATED 两个终态之一。
type SagaOrchestrator struct {
	orders      domain.OrderRepository
	sagas       domain.SagaRepository
	tx          domain.TxManager
	events      outbox.Store
	users       port.UserService
	inventory   port.InventoryService
	payments    port.PaymentService
	stepTimeout time.Duration
	tracer      trace.Tracer
}

func NewSagaOrchestrator(
	orders domain.OrderRepository,
	sagas domain.SagaRepository,
	tx domain.TxManager,
	events outbox.Store,
	users port.UserService,
	inventory port.InventoryService,
	payments port.PaymentService,
	stepTimeout time.Duration,
	tracer trace.Tracer,
) *SagaOrchestrator {
	return &SagaOrchestrator{
		orders:      orders,
		sagas:       sagas,
		tx:          tx,
		events:      events,
		users:       users,
		inventory:   inventory,
		payments:    payments,
		stepTimeout: stepTimeout,
		tracer:      tracer,
	}
}

// Run 执行整条 saga。错误只用于补偿决策，不向调用方透出:
// 不论成败，订单与 saga 状态都已持久化到终态。
func (o *SagaOrchestrator) Run(ctx context.Context, order *domain.Order, state *domain.SagaState) {
	ctx, span := o.tracer.Start(ctx, "saga.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", order.OrderID),
		attribute.String("saga.id", state.SagaID),
	)

	if err := o.validateUser(ctx, order, state); err != nil {
		o.compensate(ctx, order, state, err)
		return
	}
	if err := o.reserveStock(ctx, order, state); err != nil {
		o.compensate(ctx, order, state, err)
		return
	}
	if err := o.processPayment(ctx, order, state); err != nil {
		o.compensate(ctx, order, state, err)
		return
	}
	if err := o.completeOrder(ctx, order, state); err != nil {
		o.compensate(ctx, order, state, err)
		return
	}

	metrics.SagaCompleted.WithLabelValues("completed").Inc()
	logger.Ctx(ctx).Info().
		Str("order_id", order.OrderID).
		Str("saga_id", state.SagaID).
		Msg("saga completed")
}

func (o *SagaOrchestrator) validateUser(ctx context.Context, order *domain.Order, state *domain.SagaState) error {
	return o.step(ctx, state, domain.StepUserValidated, func(ctx context.Context) error {
		return o.users.ValidateUser(ctx, order.UserID)
	})
}

func (o *SagaOrchestrator) reserveStock(ctx context.Context, order *domain.Order, state *domain.SagaState) error {
	return o.step(ctx, state, domain.StepStockReserved, func(ctx context.Context) error {
		items := make([]port.ReservationItem, 0, len(order.Items))
		for _, item := range order.Items {
			items = append(items, port.ReservationItem{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		reservationID, err := o.inventory.ReserveStock(ctx, order.OrderID, items)
		// 失败也要先记下已生效的预占，补偿靠它回滚
		if reservationID != "" {
			state.ReservationID = reservationID
			if saveErr := o.sagas.Update(ctx, state); saveErr != nil {
				logger.Ctx(ctx).Error().Err(saveErr).
					Str("saga_id", state.SagaID).
					Msg("persist reservation id failed")
			}
		}
		return err
	})
}

func (o *SagaOrchestrator) processPayment(ctx context.Context, order *domain.Order, state *domain.SagaState) error {
	return o.step(ctx, state, domain.StepPaymentProcessed, func(ctx context.Context) error {
		// 幂等键从 orderID 派生，saga 重试不会重复扣款
		outcome, err := o.payments.ProcessPayment(ctx, port.PaymentRequest{
			IdempotencyKey: "order-payment-" + order.OrderID,
			OrderID:        order.OrderID,
			UserID:         order.UserID,
			Amount:         order.TotalAmount,
			Currency:       order.Currency,
			Method:         "CREDIT_CARD",
		})
		if err != nil {
			return err
		}
		state.PaymentID = outcome.PaymentID
		order.PaymentReference = outcome.PaymentReference
		return o.sagas.Update(ctx, state)
	})
}

func (o *SagaOrchestrator) completeOrder(ctx context.Context, order *domain.Order, state *domain.SagaState) error {
	// 扣款已成功，库存提交失败不再回滚整条 saga:
	// 预占记录保持 ACTIVE，靠人工或过期清扫对账
	stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
	if err := o.inventory.CommitStock(stepCtx, state.ReservationID, order.OrderID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("order_id", order.OrderID).
			Str("reservation_id", state.ReservationID).
			Msg("commit stock failed after successful payment")
	}
	cancel()

	order.MarkCompleted(order.PaymentReference)
	state.MarkCompleted()
	return o.tx.InTx(ctx, func(txCtx context.Context) error {
		if err := o.orders.Update(txCtx, order); err != nil {
			return err
		}
		if err := o.sagas.Update(txCtx, state); err != nil {
			return err
		}
		return o.events.Append(txCtx, orderEvent("OrderCompleted", order, ""))
	})
}

// step 执行一个前向步骤: 带超时调用协作方，成功后推进状态机并落库。
func (o *SagaOrchestrator) step(ctx context.Context, state *domain.SagaState, step domain.SagaStep, run func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "saga.step."+string(step))
	defer span.End()

	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
	err := run(stepCtx)
	cancel()
	metrics.SagaStepDuration.WithLabelValues(string(step)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "step failed")
		return errors.Wrap(err, string(step))
	}
	if err := state.Advance(step); err != nil {
		return err
	}
	return o.sagas.Update(ctx, state)
}

// maxCompensationRetries 全部补偿动作共享的重试预算，防止补偿循环无界。
const maxCompensationRetries = 3

// compensate 反向回滚已记录的副作用，每完成一个补偿步骤立即落库。
// 单个动作失败在共享预算内重试；预算耗尽仍未清干净的 saga 标记
// FAILED，遗留副作用交给人工对账。
func (o *SagaOrchestrator) compensate(ctx context.Context, order *domain.Order, state *domain.SagaState, cause error) {
	ctx, span := o.tracer.Start(ctx, "saga.Compensate")
	defer span.End()
	span.SetAttributes(attribute.String("saga.failed_step", string(state.CurrentStep)))

	logger.Ctx(ctx).Warn().Err(cause).
		Str("order_id", order.OrderID).
		Str("saga_id", state.SagaID).
		Str("current_step", string(state.CurrentStep)).
		Msg("saga failed, compensating")

	state.StartCompensation(cause.Error())
	if err := o.sagas.Update(ctx, state); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("saga_id", state.SagaID).Msg("persist compensating state failed")
	}

	reason := cause.Error()
	clean := true
	if state.PaymentID != "" {
		ok := o.compensateStep(ctx, state, domain.StepPaymentRefunded, func(stepCtx context.Context) error {
			return o.payments.RefundPayment(stepCtx, state.PaymentID, order.OrderID, order.TotalAmount, reason)
		})
		clean = clean && ok
	}
	if state.ReservationID != "" {
		ok := o.compensateStep(ctx, state, domain.StepStockReleased, func(stepCtx context.Context) error {
			return o.inventory.ReleaseStock(stepCtx, state.ReservationID, order.OrderID, reason)
		})
		clean = clean && ok
	}

	order.MarkFailed(reason)
	outcome := "compensated"
	if clean {
		state.MarkCompensated()
	} else {
		state.MarkFailed()
		outcome = "failed"
	}
	err := o.tx.InTx(ctx, func(txCtx context.Context) error {
		if err := o.orders.Update(txCtx, order); err != nil {
			return err
		}
		if err := o.sagas.Update(txCtx, state); err != nil {
			return err
		}
		return o.events.Append(txCtx, orderEvent("OrderCancelled", order, reason))
	})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.OrderID).Msg("persist compensated state failed")
	}

	metrics.SagaCompleted.WithLabelValues(outcome).Inc()
}

// compensateStep 执行单个补偿动作，成功后推进状态机并落库。
// 失败计入 RetryCount 并重试，预算耗尽返回 false，该步骤不推进。
func (o *SagaOrchestrator) compensateStep(ctx context.Context, state *domain.SagaState, step domain.SagaStep, run func(ctx context.Context) error) bool {
	for {
		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		err := run(stepCtx)
		cancel()
		if err == nil {
			break
		}
		state.RecordRetry()
		logger.Ctx(ctx).Error().Err(err).
			Str("saga_id", state.SagaID).
			Str("step", string(step)).
			Int("retry_count", state.RetryCount).
			Msg("compensation action failed")
		if state.RetryCount >= maxCompensationRetries {
			if saveErr := o.sagas.Update(ctx, state); saveErr != nil {
				logger.Ctx(ctx).Error().Err(saveErr).Str("saga_id", state.SagaID).Msg("persist retry count failed")
			}
			return false
		}
	}
	if err := state.Advance(step); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("saga_id", state.SagaID).Msg("advance compensation step failed")
		return false
	}
	if err := o.sagas.Update(ctx, state); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("saga_id", state.SagaID).Msg("persist compensation step failed")
	}
	return true
}

type orderEventPayload struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	UserID      string `json:"userId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
	Currency    string `json:"currency"`
	Reason      string `json:"reason,omitempty"`
}

func orderEvent(eventType string, order *domain.Order, reason string) *outbox.Event {
	payload, _ := json.Marshal(orderEventPayload{
		OrderID:     order.OrderID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		Reason:      reason,
	})
	return outbox.NewEvent("ORDER", order.OrderID, eventType, payload)
}
