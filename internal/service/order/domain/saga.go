package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type SagaStep string

const (
	StepOrderCreated     SagaStep = "ORDER_CREATED"
	StepUserValidated    SagaStep = "USER_VALIDATED"
	StepStockReserved    SagaStep = "STOCK_RESERVED"
	StepPaymentProcessed SagaStep = "PAYMENT_PROCESSED"
	StepOrderCompleted   SagaStep = "ORDER_COMPLETED"

	StepCompensationStarted   SagaStep = "COMPENSATION_STARTED"
	StepPaymentRefunded       SagaStep = "PAYMENT_REFUNDED"
	StepStockReleased         SagaStep = "STOCK_RELEASED"
	StepCompensationCompleted SagaStep = "COMPENSATION_COMPLETED"
)

// stepOrder 步骤图的固定顺序，状态机只允许前进。
// 补偿分支排在所有正向步骤之后，任意正向步骤都能转入补偿；
// 没有对应副作用的补偿步骤允许跳过（序号单调即可）。
var stepOrder = map[SagaStep]int{
	StepOrderCreated:     0,
	StepUserValidated:    1,
	StepStockReserved:    2,
	StepPaymentProcessed: 3,
	StepOrderCompleted:   4,

	StepCompensationStarted:   10,
	StepPaymentRefunded:       11,
	StepStockReleased:         12,
	StepCompensationCompleted: 13,
}

type SagaStatus string

const (
	SagaStarted      SagaStatus = "STARTED"
	SagaCompleted    SagaStatus = "COMPLETED"
	SagaFailed       SagaStatus = "FAILED"
	SagaCompensating SagaStatus = "COMPENSATING"
	SagaCompensated  SagaStatus = "COMPENSATED"
)

var ErrStepRegression = errors.New("saga step cannot move backwards")

// SagaState 一次订单 saga 的持久化状态。每个步骤完成后立即落库，
// ReservationID/PaymentID 记录已生效的副作用，补偿只回滚已记录的部分。
type SagaState struct {
	ID            int64
	SagaID        string
	OrderID       string
	CurrentStep   SagaStep
	Status        SagaStatus
	ReservationID string
	PaymentID     string
	FailureReason string
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewSagaState(orderID string) *SagaState {
	now := time.Now()
	return &SagaState{
		SagaID:      uuid.NewString(),
		OrderID:     orderID,
		CurrentStep: StepOrderCreated,
		Status:      SagaStarted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Advance 把状态机推到下一个步骤，拒绝回退和原地踏步。
func (s *SagaState) Advance(step SagaStep) error {
	if stepOrder[step] <= stepOrder[s.CurrentStep] {
		return errors.Wrapf(ErrStepRegression, "%s -> %s", s.CurrentStep, step)
	}
	s.CurrentStep = step
	s.UpdatedAt = time.Now()
	return nil
}

func (s *SagaState) MarkCompleted() {
	s.CurrentStep = StepOrderCompleted
	s.Status = SagaCompleted
	s.UpdatedAt = time.Now()
}

func (s *SagaState) StartCompensation(reason string) {
	s.CurrentStep = StepCompensationStarted
	s.Status = SagaCompensating
	s.FailureReason = reason
	s.UpdatedAt = time.Now()
}

// RecordRetry 累计补偿动作的失败重试次数，用于限定总重试预算。
func (s *SagaState) RecordRetry() {
	s.RetryCount++
	s.UpdatedAt = time.Now()
}

func (s *SagaState) MarkCompensated() {
	s.CurrentStep = StepCompensationCompleted
	s.Status = SagaCompensated
	s.UpdatedAt = time.Now()
}

// MarkFailed 补偿重试预算耗尽后进入的终态，遗留副作用待人工对账。
func (s *SagaState) MarkFailed() {
	s.Status = SagaFailed
	s.UpdatedAt = time.Now()
}

func (s *SagaState) IsTerminal() bool {
	return s.Status == SagaCompleted || s.Status == SagaCompensated || s.Status == SagaFailed
}
