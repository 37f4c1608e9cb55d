package application

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"monat/internal/service/payment/domain"
)

// PaymentGateway 对接外部支付通道。
type PaymentGateway interface {
	Charge(ctx context.Context, payment *domain.Payment) (reference string, err error)
	Refund(ctx context.Context, payment *domain.Payment) (reference string, err error)
}

// SimulatedGateway 模拟支付通道: 固定处理延迟 + 可配置的拒绝率。
// 拒绝是业务结果(ErrPaymentDeclined)，不代表通道不可用。
type SimulatedGateway struct {
	failureRate     float64
	processingDelay time.Duration
}

var declineReasons = []string{
	"insufficient funds",
	"card expired",
	"transaction limit exceeded",
	"issuer rejected",
}

func NewSimulatedGateway(failureRate float64, processingDelay time.Duration) *SimulatedGateway {
	return &SimulatedGateway{
		failureRate:     failureRate,
		processingDelay: processingDelay,
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, payment *domain.Payment) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	if rand.Float64() < g.failureRate {
		return "", errors.Wrap(domain.ErrPaymentDeclined, declineReasons[rand.Intn(len(declineReasons))])
	}
	return gatewayReference("PAY"), nil
}

func (g *SimulatedGateway) Refund(ctx context.Context, payment *domain.Payment) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return gatewayReference("REF"), nil
}

func (g *SimulatedGateway) wait(ctx context.Context) error {
	select {
	case <-time.After(g.processingDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func gatewayReference(prefix string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s", prefix, suffix)
}
