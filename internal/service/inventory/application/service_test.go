package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"monat/internal/pkg/resilience"
	"monat/internal/service/inventory/domain"
	"monat/internal/service/inventory/infrastructure"
)

func newTestService(t *testing.T) (*InventoryApplicationService, *infrastructure.MemoryInventoryRepository, *infrastructure.MemoryReservationRepository) {
	t.Helper()
	invRepo := infrastructure.NewMemoryInventoryRepository()
	resRepo := infrastructure.NewMemoryReservationRepository()
	// 次数给足，高并发测试里合法的预占不会因为连续撞版本而耗尽重试
	retry := resilience.RetryPolicy{
		MaxAttempts: 64,
		BaseDelay:   time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Millisecond,
	}
	svc := NewInventoryApplicationService(
		invRepo, resRepo, infrastructure.NoopStockCache{},
		retry, 15*time.Minute, otel.Tracer("test"),
	)
	return svc, invRepo, resRepo
}

func seedProduct(t *testing.T, svc *InventoryApplicationService, productID string, qty int) {
	t.Helper()
	require.NoError(t, svc.AddStock(context.Background(), productID, productID, qty))
}

func counters(t *testing.T, repo *infrastructure.MemoryInventoryRepository, productID string) *domain.Inventory {
	t.Helper()
	inv, err := repo.FindByProductID(context.Background(), productID)
	require.NoError(t, err)
	return inv
}

func assertInvariant(t *testing.T, inv *domain.Inventory) {
	t.Helper()
	assert.Equal(t, inv.TotalQuantity, inv.AvailableQuantity+inv.ReservedQuantity,
		"available + reserved must equal total")
	assert.GreaterOrEqual(t, inv.AvailableQuantity, 0)
	assert.GreaterOrEqual(t, inv.ReservedQuantity, 0)
	assert.GreaterOrEqual(t, inv.TotalQuantity, 0)
}

func TestReserveInsufficientStock(t *testing.T) {
	svc, invRepo, _ := newTestService(t)
	seedProduct(t, svc, "p1", 5)

	_, err := svc.Reserve(context.Background(), "order-1", "p1", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	inv := counters(t, invRepo, "p1")
	assert.Equal(t, 5, inv.AvailableQuantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
	assertInvariant(t, inv)
}

func TestReserveUnknownProduct(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Reserve(context.Background(), "order-1", "missing", 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestReserveThenRelease(t *testing.T) {
	svc, invRepo, resRepo := newTestService(t)
	seedProduct(t, svc, "p1", 10)

	reservationID, err := svc.Reserve(context.Background(), "order-1", "p1", 3)
	require.NoError(t, err)

	inv := counters(t, invRepo, "p1")
	assert.Equal(t, 7, inv.AvailableQuantity)
	assert.Equal(t, 3, inv.ReservedQuantity)
	assertInvariant(t, inv)

	require.NoError(t, svc.Release(context.Background(), reservationID))

	inv = counters(t, invRepo, "p1")
	assert.Equal(t, 10, inv.AvailableQuantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
	assert.Equal(t, 10, inv.TotalQuantity)
	assertInvariant(t, inv)

	rows, err := resRepo.FindByReservationID(context.Background(), reservationID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.ReservationReleased, rows[0].Status)
}

func TestReserveThenCommit(t *testing.T) {
	svc, invRepo, resRepo := newTestService(t)
	seedProduct(t, svc, "p1", 10)

	reservationID, err := svc.Reserve(context.Background(), "order-1", "p1", 3)
	require.NoError(t, err)

	afterReserve := counters(t, invRepo, "p1")
	require.NoError(t, svc.Commit(context.Background(), reservationID))

	inv := counters(t, invRepo, "p1")
	assert.Equal(t, afterReserve.AvailableQuantity, inv.AvailableQuantity,
		"commit must not touch available quantity")
	assert.Equal(t, 0, inv.ReservedQuantity)
	assert.Equal(t, 7, inv.TotalQuantity)
	assertInvariant(t, inv)

	rows, err := resRepo.FindByReservationID(context.Background(), reservationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCommitted, rows[0].Status)
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc, invRepo, _ := newTestService(t)
	seedProduct(t, svc, "p1", 10)

	reservationID, err := svc.Reserve(context.Background(), "order-1", "p1", 4)
	require.NoError(t, err)

	require.NoError(t, svc.Release(context.Background(), reservationID))
	before := counters(t, invRepo, "p1")

	// 第二次释放必须是空操作，计数器不被二次修改
	require.NoError(t, svc.Release(context.Background(), reservationID))
	after := counters(t, invRepo, "p1")
	assert.Equal(t, before.AvailableQuantity, after.AvailableQuantity)
	assert.Equal(t, before.ReservedQuantity, after.ReservedQuantity)
	assert.Equal(t, before.Version, after.Version)
}

func TestCommitAfterReleaseIsNoop(t *testing.T) {
	svc, invRepo, _ := newTestService(t)
	seedProduct(t, svc, "p1", 10)

	reservationID, err := svc.Reserve(context.Background(), "order-1", "p1", 4)
	require.NoError(t, err)
	require.NoError(t, svc.Release(context.Background(), reservationID))

	before := counters(t, invRepo, "p1")
	require.NoError(t, svc.Commit(context.Background(), reservationID))
	after := counters(t, invRepo, "p1")
	assert.Equal(t, before.TotalQuantity, after.TotalQuantity)
	assert.Equal(t, before.Version, after.Version)
}

func TestReleaseUnknownReservationIsNoop(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.NoError(t, svc.Release(context.Background(), "does-not-exist"))
}

func TestCommitUnknownReservationFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Commit(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

// 并发预占: Q 件库存、每单 1 件、N 个并发请求，成功数必须正好是 Q，
// 不论到达顺序如何 —— 版本冲突被转化为重试而不是超卖。
func TestConcurrentReservesNoOversell(t *testing.T) {
	svc, invRepo, _ := newTestService(t)
	const available = 20
	const workers = 50
	seedProduct(t, svc, "hot", available)

	var wg sync.WaitGroup
	successes := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if id, err := svc.Reserve(context.Background(), "order", "hot", 1); err == nil {
				successes <- id
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	var count int
	for range successes {
		count++
	}
	assert.Equal(t, available, count, "exactly Q reservations must succeed")

	inv := counters(t, invRepo, "hot")
	assert.Equal(t, 0, inv.AvailableQuantity)
	assert.Equal(t, available, inv.ReservedQuantity)
	assertInvariant(t, inv)
}

func TestReserveBatchPartialFailureLeavesPriorActive(t *testing.T) {
	svc, invRepo, resRepo := newTestService(t)
	seedProduct(t, svc, "a", 10)
	seedProduct(t, svc, "b", 1)

	// b 不足，批量预占失败，但 a 的预占保持 ACTIVE，等调用方补偿
	items := map[string]int{"a": 2, "b": 5}
	reservationID, err := svc.ReserveBatch(context.Background(), "order-1", items)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.NotEmpty(t, reservationID)

	rows, err := resRepo.FindByReservationID(context.Background(), reservationID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, domain.ReservationActive, row.Status)
	}

	// 显式补偿后计数器恢复原状
	require.NoError(t, svc.Release(context.Background(), reservationID))
	invA := counters(t, invRepo, "a")
	assert.Equal(t, 10, invA.AvailableQuantity)
	assertInvariant(t, invA)
	invB := counters(t, invRepo, "b")
	assert.Equal(t, 1, invB.AvailableQuantity)
	assertInvariant(t, invB)
}

func TestExpirySweepReleasesExpired(t *testing.T) {
	svc, invRepo, resRepo := newTestService(t)
	seedProduct(t, svc, "p1", 10)

	// TTL 为负值，预占立即过期
	svc.reservationTTL = -time.Second
	reservationID, err := svc.Reserve(context.Background(), "order-1", "p1", 3)
	require.NoError(t, err)

	sweeper := NewExpirySweeper(svc, resRepo, time.Minute, otel.Tracer("test"))
	sweeper.SweepOnce(context.Background())

	inv := counters(t, invRepo, "p1")
	assert.Equal(t, 10, inv.AvailableQuantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
	assertInvariant(t, inv)

	rows, err := resRepo.FindByReservationID(context.Background(), reservationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, rows[0].Status)

	// 再跑一轮不应有任何变化
	before := counters(t, invRepo, "p1")
	sweeper.SweepOnce(context.Background())
	after := counters(t, invRepo, "p1")
	assert.Equal(t, before.Version, after.Version)
}

func TestVersionConflictRetries(t *testing.T) {
	svc, invRepo, _ := newTestService(t)
	seedProduct(t, svc, "p1", 100)

	// 交错写入制造版本冲突: 两个顺序批次各 25 个并发预占
	for batch := 0; batch < 2; batch++ {
		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Reserve(context.Background(), "order", "p1", 1)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	}

	inv := counters(t, invRepo, "p1")
	assert.Equal(t, 50, inv.ReservedQuantity)
	assert.Equal(t, 50, inv.AvailableQuantity)
	assertInvariant(t, inv)
}
