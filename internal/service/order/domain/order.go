package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
)

type OrderItem struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

type Order struct {
	ID                 int64
	OrderID            string
	OrderNumber        string
	UserID             string
	Items              []OrderItem
	TotalAmount        int64
	Currency           string
	Status             OrderStatus
	PaymentReference   string
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func NewOrder(userID string, items []OrderItem, currency string) *Order {
	now := time.Now()
	var total int64
	for _, item := range items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return &Order{
		OrderID:     uuid.NewString(),
		OrderNumber: newOrderNumber(now),
		UserID:      userID,
		Items:       items,
		TotalAmount: total,
		Currency:    currency,
		Status:      OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// newOrderNumber 对人可读的订单号: ORD-<毫秒时间戳>-<8位大写hex>。
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix)
}

// Clone 深拷贝订单，交给并发使用方时避免共享可变状态。
func (o *Order) Clone() *Order {
	copied := *o
	copied.Items = append([]OrderItem(nil), o.Items...)
	return &copied
}

func (o *Order) MarkConfirmed() {
	o.Status = OrderConfirmed
	o.UpdatedAt = time.Now()
}

func (o *Order) MarkCompleted(paymentReference string) {
	o.Status = OrderCompleted
	o.PaymentReference = paymentReference
	o.UpdatedAt = time.Now()
}

func (o *Order) MarkFailed(reason string) {
	o.Status = OrderFailed
	o.CancellationReason = reason
	o.UpdatedAt = time.Now()
}

func (o *Order) MarkCancelled(reason string) {
	o.Status = OrderCancelled
	o.CancellationReason = reason
	o.UpdatedAt = time.Now()
}

func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderCompleted, OrderCancelled, OrderFailed:
		return true
	}
	return false
}
