package application

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"monat/internal/outbox"
	"monat/internal/pkg/logger"
	"monat/internal/service/order/domain"
)

type CreateOrderCommand struct {
	UserID   string
	Currency string
	Items    []domain.OrderItem
}

type OrderApplicationService struct {
	orders       domain.OrderRepository
	sagas        domain.SagaRepository
	tx           domain.TxManager
	events       outbox.Store
	orchestrator *SagaOrchestrator
	tracer       trace.Tracer
}

func NewOrderApplicationService(
	orders domain.OrderRepository,
	sagas domain.SagaRepository,
	tx domain.TxManager,
	events outbox.Store,
	orchestrator *SagaOrchestrator,
	tracer trace.Tracer,
) *OrderApplicationService {
	return &OrderApplicationService{
		orders:       orders,
		sagas:        sagas,
		tx:           tx,
		events:       events,
		orchestrator: orchestrator,
		tracer:       tracer,
	}
}

// CreateOrder 在一个事务里落下订单(PENDING)、saga 初态和 OrderCreated
// 事件，然后把 saga 交给后台 goroutine 驱动，立即返回订单号。
// saga 用独立的 context: 它的寿命和 HTTP 请求无关。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", cmd.UserID))

	if len(cmd.Items) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return nil, errors.Wrapf(domain.ErrInvalidItem, "product %s quantity %d", item.ProductID, item.Quantity)
		}
	}
	currency := cmd.Currency
	if currency == "" {
		currency = "CNY"
	}

	order := domain.NewOrder(cmd.UserID, cmd.Items, currency)
	state := domain.NewSagaState(order.OrderID)

	err := s.tx.InTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Create(txCtx, order); err != nil {
			return err
		}
		if err := s.sagas.Create(txCtx, state); err != nil {
			return err
		}
		return s.events.Append(txCtx, orderEvent("OrderCreated", order, ""))
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	logger.Ctx(ctx).Info().
		Str("order_id", order.OrderID).
		Str("order_number", order.OrderNumber).
		Str("saga_id", state.SagaID).
		Int64("total_amount", order.TotalAmount).
		Msg("order created, saga started")

	// 后台 goroutine 拿自己的订单副本，返回给调用方的快照不会被改写
	sagaCtx := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
	go s.orchestrator.Run(sagaCtx, order.Clone(), state)

	return order, nil
}

func (s *OrderApplicationService) GetOrder(ctx context.Context, orderID string) (*domain.Order, *domain.SagaState, error) {
	order, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	state, err := s.sagas.FindByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, domain.ErrSagaNotFound) {
		return nil, nil, err
	}
	return order, state, nil
}
