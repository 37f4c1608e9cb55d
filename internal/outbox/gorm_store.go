package outbox

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"monat/internal/pkg/database"
)

type EventModel struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	AggregateType string     `gorm:"column:aggregate_type;size:64"`
	AggregateID   string     `gorm:"column:aggregate_id;size:64;index"`
	EventType     string     `gorm:"column:event_type;size:64"`
	Payload       []byte     `gorm:"column:payload;type:json"`
	Processed     bool       `gorm:"column:processed;index:idx_processed_created,priority:1"`
	CreatedAt     time.Time  `gorm:"column:created_at;index:idx_processed_created,priority:2"`
	ProcessedAt   *time.Time `gorm:"column:processed_at"`
}

func (EventModel) TableName() string {
	return "outbox_events"
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Append 写入一条事件。调用方在 database.TxManager 的回调里调用时，
// 事件与业务写入同事务提交。
func (s *GormStore) Append(ctx context.Context, event *Event) error {
	model := toEventModel(event)
	if err := database.FromContext(ctx, s.db).Create(model).Error; err != nil {
		return errors.Wrap(err, "append outbox event")
	}
	event.ID = model.ID
	return nil
}

func (s *GormStore) FetchUnprocessed(ctx context.Context, limit int) ([]*Event, error) {
	var models []EventModel
	err := s.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "fetch unprocessed outbox events")
	}
	events := make([]*Event, 0, len(models))
	for i := range models {
		events = append(events, toEvent(&models[i]))
	}
	return events, nil
}

func (s *GormStore) MarkProcessed(ctx context.Context, id int64) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"processed": true, "processed_at": &now})
	if result.Error != nil {
		return errors.Wrap(result.Error, "mark outbox event processed")
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrEventNotFound, "id=%d", id)
	}
	return nil
}

func (s *GormStore) CountUnprocessed(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("processed = ?", false).
		Count(&count).Error
	return count, errors.Wrap(err, "count unprocessed outbox events")
}

func toEventModel(e *Event) *EventModel {
	return &EventModel{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       e.Payload,
		Processed:     e.Processed,
		CreatedAt:     e.CreatedAt,
		ProcessedAt:   e.ProcessedAt,
	}
}

func toEvent(m *EventModel) *Event {
	return &Event{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Payload:       m.Payload,
		Processed:     m.Processed,
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
	}
}
