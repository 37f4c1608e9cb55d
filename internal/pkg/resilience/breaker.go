package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"monat/internal/pkg/config"
	"monat/internal/pkg/logger"
)

// ErrBreakerOpen 在熔断器打开时返回，调用方把它当作一次步骤失败处理。
var ErrBreakerOpen = gobreaker.ErrOpenState

// Breaker 按协作方命名的熔断器。
// 滑动窗口失败率统计、open/half-open/closed 状态机由 gobreaker 提供，
// 这里只负责把配置映射过去并定义"什么算失败"。
type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker 创建熔断器。isFailure 判定一个错误是否计入失败率,
// 业务拒绝(余额不足、库存不足)不应触发熔断。
func NewBreaker(name string, cfg config.BreakerConfig, isFailure func(error) bool) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		// gobreaker 的统计窗口按时间清零，这里把"N 次调用"的窗口近似成 N 秒
		Interval: time.Duration(cfg.SlidingWindowSize) * time.Second,
		Timeout:  cfg.OpenStateDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinimumCalls {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRateThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

// Do 在熔断器保护下执行 op。熔断打开时直接返回 ErrBreakerOpen。
func (b *Breaker) Do(op func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// State 返回当前熔断器状态，暴露给运维端点。
func (b *Breaker) State() string {
	return b.cb.State().String()
}
