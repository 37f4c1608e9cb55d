package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"monat/internal/metrics"
	"monat/internal/pkg/logger"
	"monat/internal/pkg/mq"
)

// 事件类型到 Kafka 主题的路由，未知类型进兜底主题。
var topicByEventType = map[string]string{
	"OrderCreated":   "order.created",
	"OrderCompleted": "order.completed",
	"OrderCancelled": "order.cancelled",
}

const defaultTopic = "order.events"

func TopicFor(eventType string) string {
	if topic, ok := topicByEventType[eventType]; ok {
		return topic
	}
	return defaultTopic
}

// Sender 把一条事件送往消息中间件，返回 nil 表示 broker 已确认。
type Sender interface {
	Send(ctx context.Context, topic string, key, value []byte) error
}

type KafkaSender struct {
	writer *kafka.Writer
}

func NewKafkaSender(writer *kafka.Writer) *KafkaSender {
	return &KafkaSender{writer: writer}
}

func (s *KafkaSender) Send(ctx context.Context, topic string, key, value []byte) error {
	return mq.ProduceMessage(ctx, s.writer, topic, key, value)
}

// Publisher 轮询发件箱并把未处理事件发布到 Kafka。
// 先发送、ack 后才标记 processed: 崩溃恢复后未标记的事件会被重发，
// 下游按至少一次消费。消息 key 取聚合ID，同一聚合的事件落在
// 同一分区，保持发布顺序。
type Publisher struct {
	store        Store
	sender       Sender
	pollInterval time.Duration
	batchSize    int
	tracer       trace.Tracer
}

func NewPublisher(store Store, sender Sender, pollInterval time.Duration, batchSize int, tracer trace.Tracer) *Publisher {
	return &Publisher{
		store:        store,
		sender:       sender,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		tracer:       tracer,
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	logger.Logger.Info().
		Dur("poll_interval", p.pollInterval).
		Int("batch_size", p.batchSize).
		Msg("outbox publisher started")

	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info().Msg("outbox publisher stopped")
			return ctx.Err()
		case <-ticker.C:
			p.PublishBatch(ctx)
		}
	}
}

// PublishBatch 处理一批事件。单条发送失败即中止本批，
// 留给下一轮重试，避免同一聚合的后续事件越过失败的那条。
func (p *Publisher) PublishBatch(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "outbox.PublishBatch")
	defer span.End()

	events, err := p.store.FetchUnprocessed(ctx, p.batchSize)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("fetch outbox events failed")
		return
	}
	if pending, err := p.store.CountUnprocessed(ctx); err == nil {
		metrics.OutboxPending.Set(float64(pending))
	}
	if len(events) == 0 {
		return
	}

	for _, event := range events {
		topic := TopicFor(event.EventType)
		if err := p.sender.Send(ctx, topic, []byte(event.AggregateID), event.Payload); err != nil {
			metrics.OutboxPublished.WithLabelValues("error").Inc()
			logger.Ctx(ctx).Error().Err(err).
				Int64("event_id", event.ID).
				Str("topic", topic).
				Msg("publish outbox event failed, batch aborted")
			return
		}
		if err := p.store.MarkProcessed(ctx, event.ID); err != nil {
			// 已发送但未标记，重启后会重发，这正是至少一次语义
			logger.Ctx(ctx).Error().Err(err).
				Int64("event_id", event.ID).
				Msg("mark outbox event processed failed")
			return
		}
		metrics.OutboxPublished.WithLabelValues("ok").Inc()
		logger.Ctx(ctx).Debug().
			Int64("event_id", event.ID).
			Str("event_type", event.EventType).
			Str("topic", topic).
			Msg("outbox event published")
	}
}
