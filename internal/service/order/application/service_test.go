package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"monat/internal/service/order/domain"
	"monat/internal/service/order/infrastructure"
)

func newOrderService(f *sagaFixture) *OrderApplicationService {
	return NewOrderApplicationService(
		f.orders, f.sagas, infrastructure.NoopTxManager{}, f.events,
		f.orch, otel.Tracer("test"),
	)
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newOrderService(newSagaFixture())

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrEmptyOrder)

	_, err = svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID: "u1",
		Items:  []domain.OrderItem{{ProductID: "p1", Quantity: 0, UnitPrice: 100}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidItem)
}

func TestCreateOrderRunsSagaToCompletion(t *testing.T) {
	f := newSagaFixture()
	svc := newOrderService(f)

	order, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:   "u1",
		Currency: "CNY",
		Items: []domain.OrderItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: 1500},
			{ProductID: "p2", Quantity: 1, UnitPrice: 500},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)
	assert.Regexp(t, `^ORD-\d+-[0-9A-F]{8}$`, order.OrderNumber)
	assert.EqualValues(t, 3500, order.TotalAmount)

	// saga 在后台 goroutine 里推进，等它落到终态
	require.Eventually(t, func() bool {
		state, err := f.sagas.FindByOrderID(context.Background(), order.OrderID)
		return err == nil && state.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	stored := f.storedOrder(t, order.OrderID)
	assert.Equal(t, domain.OrderCompleted, stored.Status)
	assert.ElementsMatch(t, []string{"OrderCreated", "OrderCompleted"}, f.eventTypes(t))
}

// 返回给调用方的订单是快照: 后台 saga 改的是自己的副本，
// 调用方持有的指针不会被并发改写。go test -race 盯着这里。
func TestCreateOrderReturnsDetachedSnapshot(t *testing.T) {
	f := newSagaFixture()
	svc := newOrderService(f)

	order, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID: "u1",
		Items:  []domain.OrderItem{{ProductID: "p1", Quantity: 1, UnitPrice: 2000}},
	})
	require.NoError(t, err)

	// 等 saga 走完再检查: 副本被改成 COMPLETED，返回值保持创建时的样子
	require.Eventually(t, func() bool {
		state, err := f.sagas.FindByOrderID(context.Background(), order.OrderID)
		return err == nil && state.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.OrderPending, order.Status)
	assert.Empty(t, order.PaymentReference)
	assert.Equal(t, domain.OrderCompleted, f.storedOrder(t, order.OrderID).Status)
}
