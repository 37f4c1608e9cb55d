package domain

import (
	"fmt"
	"time"
)

// ReservationStatus 预占记录的生命周期状态。
// ACTIVE 是唯一的非终态，进入其余任何状态后不再流转。
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Reservation 是一条预占记录。一次批量预占(同一 reservationId)会产生
// 多条按商品拆分的记录。
type Reservation struct {
	ID            int64
	ReservationID string
	OrderID       string
	ProductID     string
	Quantity      int
	Status        ReservationStatus
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewReservation 创建一条 ACTIVE 状态的预占记录。
func NewReservation(reservationID, orderID, productID string, quantity int, ttl time.Duration) *Reservation {
	now := time.Now()
	return &Reservation{
		ReservationID: reservationID,
		OrderID:       orderID,
		ProductID:     productID,
		Quantity:      quantity,
		Status:        ReservationActive,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsActive 返回记录是否还处于可流转状态。
func (r *Reservation) IsActive() bool {
	return r.Status == ReservationActive
}

// IsExpired 返回记录是否已超过存活期。
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationActive && now.After(r.ExpiresAt)
}

func (r *Reservation) MarkCommitted() error { return r.transition(ReservationCommitted) }
func (r *Reservation) MarkReleased() error  { return r.transition(ReservationReleased) }
func (r *Reservation) MarkExpired() error   { return r.transition(ReservationExpired) }

func (r *Reservation) transition(to ReservationStatus) error {
	if r.Status != ReservationActive {
		return fmt.Errorf("%w: reservation %s already %s", ErrReservationNotActive, r.ReservationID, r.Status)
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return nil
}
