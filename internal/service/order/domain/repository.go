package domain

import "context"

type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	Update(ctx context.Context, order *Order) error
	FindByOrderID(ctx context.Context, orderID string) (*Order, error)
}

type SagaRepository interface {
	Create(ctx context.Context, state *SagaState) error
	Update(ctx context.Context, state *SagaState) error
	FindByOrderID(ctx context.Context, orderID string) (*SagaState, error)
}

// TxManager 把回调内的仓储写入收进同一个数据库事务。
// gorm 实现把事务句柄塞进 context，仓储从 context 取句柄。
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
