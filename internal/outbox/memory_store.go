package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore 测试用发件箱，排序语义与 MySQL 版一致。
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []*Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	event.ID = s.nextID
	stored := *event
	s.rows = append(s.rows, &stored)
	return nil
}

func (s *MemoryStore) FetchUnprocessed(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []*Event
	for _, row := range s.rows {
		if !row.Processed {
			copied := *row
			events = append(events, &copied)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == id {
			now := time.Now()
			row.Processed = true
			row.ProcessedAt = &now
			return nil
		}
	}
	return errors.Wrapf(ErrEventNotFound, "id=%d", id)
}

func (s *MemoryStore) CountUnprocessed(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, row := range s.rows {
		if !row.Processed {
			count++
		}
	}
	return count, nil
}
