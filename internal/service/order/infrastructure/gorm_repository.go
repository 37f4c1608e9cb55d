package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"monat/internal/pkg/database"
	"monat/internal/service/order/domain"
)

type OrderModel struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement"`
	OrderID            string `gorm:"column:order_id;size:64;uniqueIndex"`
	OrderNumber        string `gorm:"column:order_number;size:64;uniqueIndex"`
	UserID             string `gorm:"column:user_id;size:64;index"`
	Items              []byte `gorm:"column:items;type:json"`
	TotalAmount        int64  `gorm:"column:total_amount"`
	Currency           string `gorm:"column:currency;size:8"`
	Status             string `gorm:"column:status;size:16"`
	PaymentReference   string `gorm:"column:payment_reference;size:64"`
	CancellationReason string `gorm:"column:cancellation_reason;size:255"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (OrderModel) TableName() string {
	return "orders"
}

type SagaStateModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	SagaID        string `gorm:"column:saga_id;size:64;uniqueIndex"`
	OrderID       string `gorm:"column:order_id;size:64;uniqueIndex"`
	CurrentStep   string `gorm:"column:current_step;size:32"`
	Status        string `gorm:"column:status;size:16;index"`
	ReservationID string `gorm:"column:reservation_id;size:64"`
	PaymentID     string `gorm:"column:payment_id;size:64"`
	FailureReason string `gorm:"column:failure_reason;size:255"`
	RetryCount    int    `gorm:"column:retry_count"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (SagaStateModel) TableName() string {
	return "saga_states"
}

type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	model, err := toOrderModel(order)
	if err != nil {
		return err
	}
	if err := database.FromContext(ctx, r.db).Create(model).Error; err != nil {
		return errors.Wrap(err, "create order")
	}
	order.ID = model.ID
	return nil
}

func (r *GormOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	model, err := toOrderModel(order)
	if err != nil {
		return err
	}
	return errors.Wrap(database.FromContext(ctx, r.db).Save(model).Error, "update order")
}

func (r *GormOrderRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Order, error) {
	var model OrderModel
	if err := database.FromContext(ctx, r.db).Where("order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(domain.ErrOrderNotFound, orderID)
		}
		return nil, errors.Wrap(err, "find order")
	}
	return toDomainOrder(&model)
}

type GormSagaRepository struct {
	db *gorm.DB
}

func NewGormSagaRepository(db *gorm.DB) *GormSagaRepository {
	return &GormSagaRepository{db: db}
}

func (r *GormSagaRepository) Create(ctx context.Context, state *domain.SagaState) error {
	model := toSagaModel(state)
	if err := database.FromContext(ctx, r.db).Create(model).Error; err != nil {
		return errors.Wrap(err, "create saga state")
	}
	state.ID = model.ID
	return nil
}

func (r *GormSagaRepository) Update(ctx context.Context, state *domain.SagaState) error {
	return errors.Wrap(database.FromContext(ctx, r.db).Save(toSagaModel(state)).Error, "update saga state")
}

func (r *GormSagaRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.SagaState, error) {
	var model SagaStateModel
	if err := database.FromContext(ctx, r.db).Where("order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(domain.ErrSagaNotFound, orderID)
		}
		return nil, errors.Wrap(err, "find saga state")
	}
	return toDomainSaga(&model), nil
}

func toOrderModel(o *domain.Order) (*OrderModel, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal order items")
	}
	return &OrderModel{
		ID:                 o.ID,
		OrderID:            o.OrderID,
		OrderNumber:        o.OrderNumber,
		UserID:             o.UserID,
		Items:              items,
		TotalAmount:        o.TotalAmount,
		Currency:           o.Currency,
		Status:             string(o.Status),
		PaymentReference:   o.PaymentReference,
		CancellationReason: o.CancellationReason,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}, nil
}

func toDomainOrder(m *OrderModel) (*domain.Order, error) {
	var items []domain.OrderItem
	if len(m.Items) > 0 {
		if err := json.Unmarshal(m.Items, &items); err != nil {
			return nil, errors.Wrap(err, "unmarshal order items")
		}
	}
	return &domain.Order{
		ID:                 m.ID,
		OrderID:            m.OrderID,
		OrderNumber:        m.OrderNumber,
		UserID:             m.UserID,
		Items:              items,
		TotalAmount:        m.TotalAmount,
		Currency:           m.Currency,
		Status:             domain.OrderStatus(m.Status),
		PaymentReference:   m.PaymentReference,
		CancellationReason: m.CancellationReason,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}, nil
}

func toSagaModel(s *domain.SagaState) *SagaStateModel {
	return &SagaStateModel{
		ID:            s.ID,
		SagaID:        s.SagaID,
		OrderID:       s.OrderID,
		CurrentStep:   string(s.CurrentStep),
		Status:        string(s.Status),
		ReservationID: s.ReservationID,
		PaymentID:     s.PaymentID,
		FailureReason: s.FailureReason,
		RetryCount:    s.RetryCount,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toDomainSaga(m *SagaStateModel) *domain.SagaState {
	return &domain.SagaState{
		ID:            m.ID,
		SagaID:        m.SagaID,
		OrderID:       m.OrderID,
		CurrentStep:   domain.SagaStep(m.CurrentStep),
		Status:        domain.SagaStatus(m.Status),
		ReservationID: m.ReservationID,
		PaymentID:     m.PaymentID,
		FailureReason: m.FailureReason,
		RetryCount:    m.RetryCount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
