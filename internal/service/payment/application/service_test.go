package application

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"monat/internal/service/payment/domain"
	"monat/internal/service/payment/infrastructure"
)

// countingGateway 记录 Charge 被调用的次数，用于验证幂等。
type countingGateway struct {
	charges atomic.Int64
	refunds atomic.Int64
	decline bool
}

func (g *countingGateway) Charge(_ context.Context, _ *domain.Payment) (string, error) {
	g.charges.Add(1)
	if g.decline {
		return "", domain.ErrPaymentDeclined
	}
	return "PAY-TESTREF1", nil
}

func (g *countingGateway) Refund(_ context.Context, _ *domain.Payment) (string, error) {
	g.refunds.Add(1)
	return "REF-TESTREF1", nil
}

func newTestService(gateway PaymentGateway) (*PaymentApplicationService, *infrastructure.MemoryPaymentRepository) {
	repo := infrastructure.NewMemoryPaymentRepository()
	return NewPaymentApplicationService(repo, gateway, otel.Tracer("test")), repo
}

func command(key string) ProcessPaymentCommand {
	return ProcessPaymentCommand{
		IdempotencyKey: key,
		OrderID:        "order-1",
		UserID:         "user-1",
		Amount:         4999,
		Currency:       "CNY",
		Method:         "CREDIT_CARD",
	}
}

func TestProcessPaymentSuccess(t *testing.T) {
	gw := &countingGateway{}
	svc, _ := newTestService(gw)

	result, err := svc.ProcessPayment(context.Background(), command("key-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, result.Status)
	assert.NotEmpty(t, result.PaymentID)
	assert.Equal(t, "PAY-TESTREF1", result.PaymentReference)
	assert.EqualValues(t, 1, gw.charges.Load())
}

func TestProcessPaymentReplayReturnsSameResult(t *testing.T) {
	gw := &countingGateway{}
	svc, _ := newTestService(gw)

	first, err := svc.ProcessPayment(context.Background(), command("key-1"))
	require.NoError(t, err)

	second, err := svc.ProcessPayment(context.Background(), command("key-1"))
	require.NoError(t, err)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.PaymentReference, second.PaymentReference)
	assert.EqualValues(t, 1, gw.charges.Load(), "replay must not hit the gateway again")
}

func TestProcessPaymentDeclinedIsRecordedAndReplayed(t *testing.T) {
	gw := &countingGateway{decline: true}
	svc, _ := newTestService(gw)

	result, err := svc.ProcessPayment(context.Background(), command("key-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, result.Status)
	assert.NotEmpty(t, result.FailureReason)

	// 拒绝也是已记录的最终结果，重放不再重试扣款
	gw.decline = false
	replay, err := svc.ProcessPayment(context.Background(), command("key-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, replay.Status)
	assert.EqualValues(t, 1, gw.charges.Load())
}

func TestProcessPaymentValidation(t *testing.T) {
	svc, _ := newTestService(&countingGateway{})

	_, err := svc.ProcessPayment(context.Background(), ProcessPaymentCommand{OrderID: "o", Amount: 100})
	assert.ErrorIs(t, err, domain.ErrMissingIdemKey)

	cmd := command("key-1")
	cmd.Amount = 0
	_, err = svc.ProcessPayment(context.Background(), cmd)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

// 并发同 key: 唯一约束把 N 个请求收敛成一次扣款，所有人拿到同一个结果。
func TestProcessPaymentConcurrentSameKey(t *testing.T) {
	gw := &countingGateway{}
	svc, repo := newTestService(gw)

	const workers = 20
	results := make([]*PaymentResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := svc.ProcessPayment(context.Background(), command("shared-key"))
			if assert.NoError(t, err) {
				results[n] = result
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, gw.charges.Load(), "exactly one charge for one key")
	// 落后者可能在赢家落最终态之前读到 PROCESSING 的中间快照，
	// 这里只要求所有人收敛到同一笔支付，最终落库状态是 COMPLETED
	for _, result := range results {
		require.NotNil(t, result)
		assert.Equal(t, results[0].PaymentID, result.PaymentID)
	}
	stored, err := repo.FindByPaymentID(context.Background(), results[0].PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, stored.Status)
}

func TestRefundByPaymentID(t *testing.T) {
	gw := &countingGateway{}
	svc, _ := newTestService(gw)

	paid, err := svc.ProcessPayment(context.Background(), command("key-1"))
	require.NoError(t, err)

	refunded, err := svc.RefundPayment(context.Background(), RefundPaymentCommand{
		PaymentID: paid.PaymentID,
		Amount:    4999,
		Reason:    "order cancelled",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, refunded.Status)
	assert.Equal(t, "REF-TESTREF1", refunded.RefundReference)
	assert.EqualValues(t, 1, gw.refunds.Load())
}

func TestRefundByOrderIDFallback(t *testing.T) {
	gw := &countingGateway{}
	svc, _ := newTestService(gw)

	_, err := svc.ProcessPayment(context.Background(), command("key-1"))
	require.NoError(t, err)

	refunded, err := svc.RefundPayment(context.Background(), RefundPaymentCommand{OrderID: "order-1", Reason: "order cancelled"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, refunded.Status)
}

// 退款金额必须与原扣款一致，不支持部分退款。
func TestRefundAmountMismatchRejected(t *testing.T) {
	gw := &countingGateway{}
	svc, _ := newTestService(gw)

	paid, err := svc.ProcessPayment(context.Background(), command("key-1"))
	require.NoError(t, err)

	_, err = svc.RefundPayment(context.Background(), RefundPaymentCommand{PaymentID: paid.PaymentID, Amount: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.EqualValues(t, 0, gw.refunds.Load())
}

func TestRefundIsExactlyOnce(t *testing.T) {
	gw := &countingGateway{}
	svc, _ := newTestService(gw)

	paid, err := svc.ProcessPayment(context.Background(), command("key-1"))
	require.NoError(t, err)

	_, err = svc.RefundPayment(context.Background(), RefundPaymentCommand{PaymentID: paid.PaymentID, Amount: 4999})
	require.NoError(t, err)

	_, err = svc.RefundPayment(context.Background(), RefundPaymentCommand{PaymentID: paid.PaymentID, Amount: 4999})
	assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)
	assert.EqualValues(t, 1, gw.refunds.Load(), "second refund must not hit the gateway")
}

func TestRefundDeclinedPaymentRejected(t *testing.T) {
	gw := &countingGateway{decline: true}
	svc, _ := newTestService(gw)

	declined, err := svc.ProcessPayment(context.Background(), command("key-1"))
	require.NoError(t, err)
	require.Equal(t, domain.PaymentFailed, declined.Status)

	_, err = svc.RefundPayment(context.Background(), RefundPaymentCommand{PaymentID: declined.PaymentID})
	assert.ErrorIs(t, err, domain.ErrNotRefundable)
	assert.EqualValues(t, 0, gw.refunds.Load())
}

func TestSimulatedGatewayReferences(t *testing.T) {
	gw := NewSimulatedGateway(0, 0)
	ref, err := gw.Charge(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "PAY-"))
	assert.Len(t, ref, len("PAY-")+8)
	assert.Equal(t, strings.ToUpper(ref), ref)

	ref, err = gw.Refund(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "REF-"))
}

func TestSimulatedGatewayAlwaysDeclines(t *testing.T) {
	gw := NewSimulatedGateway(1.0, 0)
	_, err := gw.Charge(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrPaymentDeclined)
}
