package domain

import "errors"

var (
	// ErrProductNotFound 商品在库存表中不存在，属于校验错误，不重试。
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientStock 可用库存不足，属于业务拒绝，不重试。
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidQuantity 数量参数非法或会破坏计数器不变式。
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrVersionConflict 乐观锁版本不匹配，由存储层返回，调用方重读后重试。
	ErrVersionConflict = errors.New("version conflict")

	// ErrReservationNotFound 预占记录不存在。
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrReservationNotActive 预占记录已处于终态。
	ErrReservationNotActive = errors.New("reservation not active")
)
