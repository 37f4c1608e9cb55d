// Package outbox 实现事务性发件箱: 业务事件与业务状态
// 在同一个本地事务里落库，由独立的发布器异步搬运到 Kafka。
package outbox

import "time"

// Event 发件箱里的一行。Processed 只在 Kafka ack 之后置位，
// 发布器崩溃最多导致重复投递，绝不丢失(at-least-once)。
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Processed     bool
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

func NewEvent(aggregateType, aggregateID, eventType string, payload []byte) *Event {
	return &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     time.Now(),
	}
}
