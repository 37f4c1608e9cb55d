package infrastructure

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"monat/internal/service/payment/domain"
)

type PaymentModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	PaymentID        string `gorm:"column:payment_id;size:64;uniqueIndex"`
	IdempotencyKey   string `gorm:"column:idempotency_key;size:128;uniqueIndex"`
	OrderID          string `gorm:"column:order_id;size:64;index"`
	UserID           string `gorm:"column:user_id;size:64"`
	Amount           int64  `gorm:"column:amount"`
	Currency         string `gorm:"column:currency;size:8"`
	Method           string `gorm:"column:method;size:32"`
	Status           string `gorm:"column:status;size:16"`
	PaymentReference string `gorm:"column:payment_reference;size:64"`
	RefundReference  string `gorm:"column:refund_reference;size:64"`
	FailureReason    string `gorm:"column:failure_reason;size:255"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (PaymentModel) TableName() string {
	return "payments"
}

type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

const mysqlDuplicateEntry = 1062

// Insert 依赖 idempotency_key 的唯一索引把并发写收敛成一个赢家。
func (r *GormPaymentRepository) Insert(ctx context.Context, payment *domain.Payment) error {
	model := toPaymentModel(payment)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return errors.Wrap(domain.ErrDuplicateKey, payment.IdempotencyKey)
		}
		return errors.Wrap(err, "insert payment")
	}
	payment.ID = model.ID
	return nil
}

func (r *GormPaymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	return errors.Wrap(r.db.WithContext(ctx).Save(toPaymentModel(payment)).Error, "update payment")
}

func (r *GormPaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	return r.findOne(ctx, "idempotency_key = ?", key)
}

func (r *GormPaymentRepository) FindByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return r.findOne(ctx, "payment_id = ?", paymentID)
}

func (r *GormPaymentRepository) FindCompletedByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	var model PaymentModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, []string{string(domain.PaymentCompleted), string(domain.PaymentRefunded)}).
		Order("id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(domain.ErrPaymentNotFound, orderID)
		}
		return nil, errors.Wrap(err, "find payment by order")
	}
	return toDomainPayment(&model), nil
}

func (r *GormPaymentRepository) findOne(ctx context.Context, query string, arg any) (*domain.Payment, error) {
	var model PaymentModel
	if err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, errors.Wrap(err, "find payment")
	}
	return toDomainPayment(&model), nil
}

func toPaymentModel(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:               p.ID,
		PaymentID:        p.PaymentID,
		IdempotencyKey:   p.IdempotencyKey,
		OrderID:          p.OrderID,
		UserID:           p.UserID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Method:           p.Method,
		Status:           string(p.Status),
		PaymentReference: p.PaymentReference,
		RefundReference:  p.RefundReference,
		FailureReason:    p.FailureReason,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toDomainPayment(m *PaymentModel) *domain.Payment {
	return &domain.Payment{
		ID:               m.ID,
		PaymentID:        m.PaymentID,
		IdempotencyKey:   m.IdempotencyKey,
		OrderID:          m.OrderID,
		UserID:           m.UserID,
		Amount:           m.Amount,
		Currency:         m.Currency,
		Method:           m.Method,
		Status:           domain.PaymentStatus(m.Status),
		PaymentReference: m.PaymentReference,
		RefundReference:  m.RefundReference,
		FailureReason:    m.FailureReason,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
