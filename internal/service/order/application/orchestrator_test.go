package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"monat/internal/outbox"
	"monat/internal/service/order/domain"
	"monat/internal/service/order/infrastructure"
	"monat/internal/service/order/port"
)

type fakeUserService struct {
	err   error
	calls int
}

func (f *fakeUserService) ValidateUser(_ context.Context, _ string) error {
	f.calls++
	return f.err
}

type fakeInventoryService struct {
	reserveID       string
	reserveErr      error
	releaseErr      error
	releaseFailures int
	commitErr       error
	reserveCalls    int
	releaseCalls    int
	commitCalls     int
	releasedIDs     []string
	releaseReasons  []string
}

func (f *fakeInventoryService) ReserveStock(_ context.Context, _ string, _ []port.ReservationItem) (string, error) {
	f.reserveCalls++
	return f.reserveID, f.reserveErr
}

func (f *fakeInventoryService) ReleaseStock(_ context.Context, reservationID, _, reason string) error {
	f.releaseCalls++
	f.releasedIDs = append(f.releasedIDs, reservationID)
	f.releaseReasons = append(f.releaseReasons, reason)
	if f.releaseFailures > 0 {
		f.releaseFailures--
		return errors.New("connection reset")
	}
	return f.releaseErr
}

func (f *fakeInventoryService) CommitStock(_ context.Context, _, _ string) error {
	f.commitCalls++
	return f.commitErr
}

type fakePaymentService struct {
	outcome       *port.PaymentOutcome
	processErr    error
	refundErr     error
	processCalls  int
	refundCalls   int
	refundAmounts []int64
}

func (f *fakePaymentService) ProcessPayment(_ context.Context, _ port.PaymentRequest) (*port.PaymentOutcome, error) {
	f.processCalls++
	if f.processErr != nil {
		return nil, f.processErr
	}
	return f.outcome, nil
}

func (f *fakePaymentService) RefundPayment(_ context.Context, _, _ string, amount int64, _ string) error {
	f.refundCalls++
	f.refundAmounts = append(f.refundAmounts, amount)
	return f.refundErr
}

type sagaFixture struct {
	orders    *infrastructure.MemoryOrderRepository
	sagas     *infrastructure.MemorySagaRepository
	events    *outbox.MemoryStore
	users     *fakeUserService
	inventory *fakeInventoryService
	payments  *fakePaymentService
	orch      *SagaOrchestrator
}

func newSagaFixture() *sagaFixture {
	f := &sagaFixture{
		orders:    infrastructure.NewMemoryOrderRepository(),
		sagas:     infrastructure.NewMemorySagaRepository(),
		events:    outbox.NewMemoryStore(),
		users:     &fakeUserService{},
		inventory: &fakeInventoryService{reserveID: "res-1"},
		payments:  &fakePaymentService{outcome: &port.PaymentOutcome{PaymentID: "pay-1", PaymentReference: "PAY-ABCD1234"}},
	}
	f.orch = NewSagaOrchestrator(
		f.orders, f.sagas, infrastructure.NoopTxManager{}, f.events,
		f.users, f.inventory, f.payments,
		time.Second, otel.Tracer("test"),
	)
	return f
}

func (f *sagaFixture) startOrder(t *testing.T) (*domain.Order, *domain.SagaState) {
	t.Helper()
	order := domain.NewOrder("user-1", []domain.OrderItem{{ProductID: "p1", Quantity: 2, UnitPrice: 1500}}, "CNY")
	state := domain.NewSagaState(order.OrderID)
	require.NoError(t, f.orders.Create(context.Background(), order))
	require.NoError(t, f.sagas.Create(context.Background(), state))
	return order, state
}

func (f *sagaFixture) storedOrder(t *testing.T, orderID string) *domain.Order {
	t.Helper()
	order, err := f.orders.FindByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func (f *sagaFixture) storedSaga(t *testing.T, orderID string) *domain.SagaState {
	t.Helper()
	state, err := f.sagas.FindByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	return state
}

func (f *sagaFixture) eventTypes(t *testing.T) []string {
	t.Helper()
	events, err := f.events.FetchUnprocessed(context.Background(), 100)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func TestSagaHappyPath(t *testing.T) {
	f := newSagaFixture()
	order, state := f.startOrder(t)

	f.orch.Run(context.Background(), order, state)

	stored := f.storedOrder(t, order.OrderID)
	assert.Equal(t, domain.OrderCompleted, stored.Status)
	assert.Equal(t, "PAY-ABCD1234", stored.PaymentReference)

	saga := f.storedSaga(t, order.OrderID)
	assert.Equal(t, domain.SagaCompleted, saga.Status)
	assert.Equal(t, domain.StepOrderCompleted, saga.CurrentStep)
	assert.Equal(t, "res-1", saga.ReservationID)
	assert.Equal(t, "pay-1", saga.PaymentID)

	assert.Equal(t, 1, f.inventory.commitCalls)
	assert.Equal(t, 0, f.inventory.releaseCalls)
	assert.Equal(t, 0, f.payments.refundCalls)
	assert.Equal(t, []string{"OrderCompleted"}, f.eventTypes(t))
}

func TestSagaUserInvalidSkipsDownstream(t *testing.T) {
	f := newSagaFixture()
	f.users.err = errors.Wrap(port.ErrUserInvalid, "user blocked")
	order, state := f.startOrder(t)

	f.orch.Run(context.Background(), order, state)

	assert.Equal(t, 0, f.inventory.reserveCalls)
	assert.Equal(t, 0, f.payments.processCalls)
	assert.Equal(t, 0, f.inventory.releaseCalls, "nothing reserved, nothing to release")
	assert.Equal(t, 0, f.payments.refundCalls)

	stored := f.storedOrder(t, order.OrderID)
	assert.Equal(t, domain.OrderFailed, stored.Status)
	assert.Contains(t, stored.CancellationReason, "user blocked")
	assert.Equal(t, domain.SagaCompensated, f.storedSaga(t, order.OrderID).Status)
	assert.Equal(t, []string{"OrderCancelled"}, f.eventTypes(t))
}

// 支付失败 → 预占被恰好释放一次，订单 FAILED，发一条 OrderCancelled。
func TestSagaPaymentFailureReleasesStockOnce(t *testing.T) {
	f := newSagaFixture()
	f.payments.processErr = errors.Wrap(port.ErrPaymentDeclined, "insufficient funds")
	order, state := f.startOrder(t)

	f.orch.Run(context.Background(), order, state)

	assert.Equal(t, 1, f.inventory.releaseCalls)
	assert.Equal(t, []string{"res-1"}, f.inventory.releasedIDs)
	assert.Equal(t, 0, f.payments.refundCalls, "payment never succeeded, no refund")
	assert.Equal(t, 0, f.inventory.commitCalls)

	stored := f.storedOrder(t, order.OrderID)
	assert.Equal(t, domain.OrderFailed, stored.Status)
	assert.Equal(t, domain.SagaCompensated, f.storedSaga(t, order.OrderID).Status)
	assert.Equal(t, []string{"OrderCancelled"}, f.eventTypes(t))
}

func TestSagaPartialReservationIsCompensated(t *testing.T) {
	f := newSagaFixture()
	// 批量预占中途失败: 返回业务错误但带着已生效的预占ID
	f.inventory.reserveErr = errors.Wrap(port.ErrStockRejected, "insufficient stock")
	order, state := f.startOrder(t)

	f.orch.Run(context.Background(), order, state)

	assert.Equal(t, 1, f.inventory.releaseCalls)
	assert.Equal(t, []string{"res-1"}, f.inventory.releasedIDs)
	assert.Equal(t, 0, f.payments.processCalls)
	assert.Equal(t, domain.SagaCompensated, f.storedSaga(t, order.OrderID).Status)
}

func TestSagaInfraFailureAtReserveWithoutReservation(t *testing.T) {
	f := newSagaFixture()
	f.inventory.reserveID = ""
	f.inventory.reserveErr = errors.New("connection refused")
	order, state := f.startOrder(t)

	f.orch.Run(context.Background(), order, state)

	assert.Equal(t, 0, f.inventory.releaseCalls, "no reservation recorded, no release")
	assert.Equal(t, domain.OrderFailed, f.storedOrder(t, order.OrderID).Status)
	assert.Equal(t, domain.SagaCompensated, f.storedSaga(t, order.OrderID).Status)
}

// 扣款成功后提交库存失败不回滚: 订单照样完成，留待对账。
func TestSagaCommitFailureStillCompletes(t *testing.T) {
	f := newSagaFixture()
	f.inventory.commitErr = errors.New("connection refused")
	order, state := f.startOrder(t)

	f.orch.Run(context.Background(), order, state)

	assert.Equal(t, domain.OrderCompleted, f.storedOrder(t, order.OrderID).Status)
	assert.Equal(t, domain.SagaCompleted, f.storedSaga(t, order.OrderID).Status)
	assert.Equal(t, 0, f.payments.refundCalls)
	assert.Equal(t, []string{"OrderCompleted"}, f.eventTypes(t))
}

// 补偿动作持续失败: 重试预算耗尽后 saga 进入 FAILED 终态，
// 不再假装补偿干净，遗留副作用交给人工对账。
func TestSagaCompensationRetryBudgetExhausted(t *testing.T) {
	f := newSagaFixture()
	f.payments.processErr = errors.New("connection refused")
	f.inventory.releaseErr = errors.New("connection refused")
	order, state := f.startOrder(t)

	f.orch.Run(context.Background(), order, state)

	assert.Equal(t, maxCompensationRetries, f.inventory.releaseCalls)
	assert.Equal(t, domain.OrderFailed, f.storedOrder(t, order.OrderID).Status)

	saga := f.storedSaga(t, order.OrderID)
	assert.Equal(t, domain.SagaFailed, saga.Status)
	assert.Equal(t, maxCompensationRetries, saga.RetryCount)
	assert.True(t, saga.IsTerminal())
}

// 补偿动作瞬时失败: 在预算内重试成功，saga 照常 COMPENSATED，
// RetryCount 记下失败的次数。
func TestSagaCompensationRetriesTransientFailure(t *testing.T) {
	f := newSagaFixture()
	f.payments.processErr = errors.Wrap(port.ErrPaymentDeclined, "issuer rejected")
	f.inventory.releaseFailures = 1
	order, state := f.startOrder(t)

	f.orch.Run(context.Background(), order, state)

	assert.Equal(t, 2, f.inventory.releaseCalls)

	saga := f.storedSaga(t, order.OrderID)
	assert.Equal(t, domain.SagaCompensated, saga.Status)
	assert.Equal(t, domain.StepCompensationCompleted, saga.CurrentStep)
	assert.Equal(t, 1, saga.RetryCount)
}

func TestSagaEventPayload(t *testing.T) {
	f := newSagaFixture()
	order, state := f.startOrder(t)

	f.orch.Run(context.Background(), order, state)

	events, err := f.events.FetchUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, order.OrderID, events[0].AggregateID)
	assert.Equal(t, "ORDER", events[0].AggregateType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, order.OrderID, payload["orderId"])
	assert.Equal(t, "COMPLETED", payload["status"])
}

func TestSagaStateForwardOnly(t *testing.T) {
	state := domain.NewSagaState("order-1")
	require.NoError(t, state.Advance(domain.StepUserValidated))
	require.NoError(t, state.Advance(domain.StepStockReserved))

	err := state.Advance(domain.StepUserValidated)
	assert.ErrorIs(t, err, domain.ErrStepRegression)
	assert.Equal(t, domain.StepStockReserved, state.CurrentStep)

	// 补偿分支同样只进不退
	require.NoError(t, state.Advance(domain.StepPaymentRefunded))
	assert.ErrorIs(t, state.Advance(domain.StepCompensationStarted), domain.ErrStepRegression)
	require.NoError(t, state.Advance(domain.StepStockReleased))
}

// stepRecordingSagaRepo 记录每次落库时的 CurrentStep，检验补偿
// 步骤是逐个持久化的，不是终态一把写。
type stepRecordingSagaRepo struct {
	*infrastructure.MemorySagaRepository
	steps []domain.SagaStep
}

func (r *stepRecordingSagaRepo) Update(ctx context.Context, state *domain.SagaState) error {
	r.steps = append(r.steps, state.CurrentStep)
	return r.MemorySagaRepository.Update(ctx, state)
}

// 退款和释放各自推进一个补偿步骤并立即落库，终态步骤是
// COMPENSATION_COMPLETED。
func TestSagaCompensationStepsPersisted(t *testing.T) {
	f := newSagaFixture()
	recorder := &stepRecordingSagaRepo{MemorySagaRepository: f.sagas}
	f.orch = NewSagaOrchestrator(
		f.orders, recorder, infrastructure.NoopTxManager{}, f.events,
		f.users, f.inventory, f.payments,
		time.Second, otel.Tracer("test"),
	)
	order, state := f.startOrder(t)
	state.ReservationID = "res-1"
	state.PaymentID = "pay-1"
	require.NoError(t, state.Advance(domain.StepUserValidated))
	require.NoError(t, state.Advance(domain.StepStockReserved))
	require.NoError(t, state.Advance(domain.StepPaymentProcessed))

	f.orch.compensate(context.Background(), order, state, errors.New("order completion failed"))

	assert.Equal(t, []domain.SagaStep{
		domain.StepCompensationStarted,
		domain.StepPaymentRefunded,
		domain.StepStockReleased,
		domain.StepCompensationCompleted,
	}, recorder.steps)

	assert.Equal(t, 1, f.payments.refundCalls)
	assert.Equal(t, []int64{order.TotalAmount}, f.payments.refundAmounts)
	assert.Equal(t, 1, f.inventory.releaseCalls)
	assert.Equal(t, []string{"order completion failed"}, f.inventory.releaseReasons)

	saga := f.storedSaga(t, order.OrderID)
	assert.Equal(t, domain.SagaCompensated, saga.Status)
	assert.Equal(t, domain.StepCompensationCompleted, saga.CurrentStep)
	assert.Zero(t, saga.RetryCount)
}
