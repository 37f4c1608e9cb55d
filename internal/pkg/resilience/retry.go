package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy 是显式的指数退避重试策略。
// 乐观锁冲突的本地重试和远程调用重试共用这一实现，
// 参数(次数/基础延迟/倍率/上限)全部来自配置。
type RetryPolicy struct {
	MaxAttempts uint
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// Permanent 标记一个不应再重试的错误(业务拒绝、校验失败)。
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do 以指数退避执行 op，最多 MaxAttempts 次。
// op 返回 nil 或 Permanent 错误时立即结束；context 取消时中断等待。
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0 // 只用次数约束，不用总时长
	b.RandomizationFactor = 0.2

	attempts := uint64(1)
	if p.MaxAttempts > 1 {
		attempts = uint64(p.MaxAttempts)
	}
	// WithMaxRetries 统计的是"重试"次数，所以减一
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx))
}
