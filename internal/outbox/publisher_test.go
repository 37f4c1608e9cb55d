package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type sentMessage struct {
	topic string
	key   string
	value string
}

type fakeSender struct {
	sent   []sentMessage
	failOn map[string]error
}

func (s *fakeSender) Send(_ context.Context, topic string, key, value []byte) error {
	if err, ok := s.failOn[string(key)]; ok {
		return err
	}
	s.sent = append(s.sent, sentMessage{topic: topic, key: string(key), value: string(value)})
	return nil
}

func newTestPublisher(store Store, sender Sender) *Publisher {
	return NewPublisher(store, sender, time.Second, 100, otel.Tracer("test"))
}

func appendEvent(t *testing.T, store Store, aggregateID, eventType string, at time.Time) *Event {
	t.Helper()
	event := NewEvent("ORDER", aggregateID, eventType, []byte(`{"orderId":"`+aggregateID+`"}`))
	event.CreatedAt = at
	require.NoError(t, store.Append(context.Background(), event))
	return event
}

func TestPublishBatchMarksAfterAck(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{}
	pub := newTestPublisher(store, sender)

	base := time.Now()
	appendEvent(t, store, "order-1", "OrderCreated", base)
	appendEvent(t, store, "order-1", "OrderCompleted", base.Add(time.Millisecond))

	pub.PublishBatch(context.Background())

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "order.created", sender.sent[0].topic)
	assert.Equal(t, "order.completed", sender.sent[1].topic)

	pending, err := store.CountUnprocessed(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending)
}

func TestPublishBatchOrderedByCreatedAt(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{}
	pub := newTestPublisher(store, sender)

	base := time.Now()
	// 乱序写入，发布必须按 createdAt 升序
	appendEvent(t, store, "order-2", "OrderCancelled", base.Add(2*time.Millisecond))
	appendEvent(t, store, "order-1", "OrderCreated", base)
	appendEvent(t, store, "order-1", "OrderCompleted", base.Add(time.Millisecond))

	pub.PublishBatch(context.Background())

	require.Len(t, sender.sent, 3)
	assert.Equal(t, "order-1", sender.sent[0].key)
	assert.Equal(t, "order.created", sender.sent[0].topic)
	assert.Equal(t, "order-1", sender.sent[1].key)
	assert.Equal(t, "order-2", sender.sent[2].key)
}

func TestPublishBatchAbortsOnSendFailure(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{failOn: map[string]error{"order-2": errors.New("broker unavailable")}}
	pub := newTestPublisher(store, sender)

	base := time.Now()
	appendEvent(t, store, "order-1", "OrderCreated", base)
	appendEvent(t, store, "order-2", "OrderCreated", base.Add(time.Millisecond))
	appendEvent(t, store, "order-3", "OrderCreated", base.Add(2*time.Millisecond))

	pub.PublishBatch(context.Background())

	// order-1 成功，order-2 失败中止本批，order-3 未被越过发布
	require.Len(t, sender.sent, 1)
	pending, err := store.CountUnprocessed(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, pending)

	// broker 恢复后下一轮补发剩余事件
	sender.failOn = nil
	pub.PublishBatch(context.Background())
	require.Len(t, sender.sent, 3)
	pending, err = store.CountUnprocessed(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending)
}

func TestPublishBatchRespectsBatchSize(t *testing.T) {
	store := NewMemoryStore()
	sender := &fakeSender{}
	pub := NewPublisher(store, sender, time.Second, 2, otel.Tracer("test"))

	base := time.Now()
	for i := 0; i < 5; i++ {
		appendEvent(t, store, "order-1", "OrderCreated", base.Add(time.Duration(i)*time.Millisecond))
	}

	pub.PublishBatch(context.Background())
	assert.Len(t, sender.sent, 2)

	pub.PublishBatch(context.Background())
	pub.PublishBatch(context.Background())
	assert.Len(t, sender.sent, 5)
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "order.created", TopicFor("OrderCreated"))
	assert.Equal(t, "order.completed", TopicFor("OrderCompleted"))
	assert.Equal(t, "order.cancelled", TopicFor("OrderCancelled"))
	assert.Equal(t, "order.events", TopicFor("OrderShipped"))
}
