package application

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"monat/internal/pkg/logger"
	"monat/internal/service/payment/domain"
)

// ProcessPaymentCommand 发起一次支付。IdempotencyKey 由调用方提供，
// 通常是 saga 编排器按 orderID 派生的稳定值。
type ProcessPaymentCommand struct {
	IdempotencyKey string
	OrderID        string
	UserID         string
	Amount         int64
	Currency       string
	Method         string
}

// PaymentResult 支付的最终结果。重放请求返回与首次完全相同的结果。
type PaymentResult struct {
	PaymentID        string
	Status           domain.PaymentStatus
	PaymentReference string
	RefundReference  string
	FailureReason    string
}

type PaymentApplicationService struct {
	repo    domain.PaymentRepository
	gateway PaymentGateway
	tracer  trace.Tracer
}

func NewPaymentApplicationService(repo domain.PaymentRepository, gateway PaymentGateway, tracer trace.Tracer) *PaymentApplicationService {
	return &PaymentApplicationService{
		repo:    repo,
		gateway: gateway,
		tracer:  tracer,
	}
}

// ProcessPayment 幂等支付入口。
// 同一个 idempotencyKey 只会真正过一次通道: 首次请求插入记录并扣款，
// 重复请求(包括并发撞到唯一约束的请求)返回已记录的结果。
func (s *PaymentApplicationService) ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (*PaymentResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.ProcessPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", cmd.OrderID),
		attribute.String("idempotency.key", cmd.IdempotencyKey),
	)

	if cmd.IdempotencyKey == "" {
		return nil, domain.ErrMissingIdemKey
	}
	if cmd.Amount <= 0 {
		return nil, errors.Wrapf(domain.ErrInvalidAmount, "amount=%d", cmd.Amount)
	}

	if existing, err := s.repo.FindByIdempotencyKey(ctx, cmd.IdempotencyKey); err == nil {
		logger.Ctx(ctx).Info().
			Str("idempotency_key", cmd.IdempotencyKey).
			Str("payment_id", existing.PaymentID).
			Msg("idempotent replay, returning recorded result")
		span.SetAttributes(attribute.Bool("payment.replayed", true))
		return resultOf(existing), nil
	} else if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}

	payment := domain.NewPayment(uuid.NewString(), cmd.IdempotencyKey, cmd.OrderID, cmd.UserID, cmd.Amount, cmd.Currency, cmd.Method)
	payment.MarkProcessing()
	if err := s.repo.Insert(ctx, payment); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			// 并发请求抢先插入了同一个 key，读它的结果
			existing, lookupErr := s.repo.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			span.SetAttributes(attribute.Bool("payment.replayed", true))
			return resultOf(existing), nil
		}
		return nil, err
	}

	reference, err := s.gateway.Charge(ctx, payment)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentDeclined) {
			payment.MarkFailed(err.Error())
			if saveErr := s.repo.Update(ctx, payment); saveErr != nil {
				return nil, saveErr
			}
			logger.Ctx(ctx).Warn().
				Str("order_id", cmd.OrderID).
				Str("payment_id", payment.PaymentID).
				Str("reason", payment.FailureReason).
				Msg("payment declined")
			return resultOf(payment), nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway unavailable")
		return nil, err
	}

	payment.MarkCompleted(reference)
	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", cmd.OrderID).
		Str("payment_id", payment.PaymentID).
		Str("reference", reference).
		Int64("amount", cmd.Amount).
		Msg("payment completed")
	return resultOf(payment), nil
}

// RefundPaymentCommand 按 PaymentID 定位退款；PaymentID 为空时退
// OrderID 对应的已完成支付。只支持全额退款，Amount 为 0 表示不校验。
type RefundPaymentCommand struct {
	PaymentID string
	OrderID   string
	Amount    int64
	Reason    string
}

// RefundPayment 退款入口。重复退款返回 ErrAlreadyRefunded。
func (s *PaymentApplicationService) RefundPayment(ctx context.Context, cmd RefundPaymentCommand) (*PaymentResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.RefundPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", cmd.PaymentID),
		attribute.String("order.id", cmd.OrderID),
	)

	payment, err := s.lookupForRefund(ctx, cmd.PaymentID, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	// 先校验状态，已退款/不可退款的请求不再过通道
	switch payment.Status {
	case domain.PaymentRefunded:
		return nil, errors.Wrapf(domain.ErrAlreadyRefunded, "payment %s", payment.PaymentID)
	case domain.PaymentCompleted:
	default:
		return nil, errors.Wrapf(domain.ErrNotRefundable, "payment %s in status %s", payment.PaymentID, payment.Status)
	}
	if cmd.Amount != 0 && cmd.Amount != payment.Amount {
		return nil, errors.Wrapf(domain.ErrInvalidAmount,
			"refund amount %d does not match charged amount %d", cmd.Amount, payment.Amount)
	}

	reference, err := s.gateway.Refund(ctx, payment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway unavailable")
		return nil, err
	}
	if err := payment.Refund(reference); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("payment_id", payment.PaymentID).
		Str("refund_reference", reference).
		Str("reason", cmd.Reason).
		Msg("payment refunded")
	return resultOf(payment), nil
}

func (s *PaymentApplicationService) GetPayment(ctx context.Context, paymentID string) (*PaymentResult, error) {
	payment, err := s.repo.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return resultOf(payment), nil
}

func (s *PaymentApplicationService) lookupForRefund(ctx context.Context, paymentID, orderID string) (*domain.Payment, error) {
	if paymentID != "" {
		return s.repo.FindByPaymentID(ctx, paymentID)
	}
	if orderID != "" {
		return s.repo.FindCompletedByOrderID(ctx, orderID)
	}
	return nil, errors.Wrap(domain.ErrPaymentNotFound, "neither paymentId nor orderId given")
}

func resultOf(p *domain.Payment) *PaymentResult {
	return &PaymentResult{
		PaymentID:        p.PaymentID,
		Status:           p.Status,
		PaymentReference: p.PaymentReference,
		RefundReference:  p.RefundReference,
		FailureReason:    p.FailureReason,
	}
}
