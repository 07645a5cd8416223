// Package kafka 发布下注生命周期事件
package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

// Topic 定义
const (
	TopicBetPlaced   = "clawdice.bet-placed"
	TopicBetSettled  = "clawdice.bet-settled"
	TopicBetRevealed = "clawdice.bet-revealed"
)

// 事件类型
const (
	EventPlaced   = "placed"
	EventSettled  = "settled"
	EventRevealed = "revealed"
)

var ErrUnknownEventType = errors.New("unknown lifecycle event type")

// Publisher 生命周期事件发布
type Publisher interface {
	Publish(ctx context.Context, ev *model.LifecycleEvent) error
	Close() error
}

// TopicFor 事件类型对应的 topic
func TopicFor(eventType string) (string, error) {
	switch eventType {
	case EventPlaced:
		return TopicBetPlaced, nil
	case EventSettled:
		return TopicBetSettled, nil
	case EventRevealed:
		return TopicBetRevealed, nil
	default:
		return "", ErrUnknownEventType
	}
}

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer 创建 Kafka 生产者
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	if clientID != "" {
		config.ClientID = clientID
	}

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerWithClient(producer), nil
}

// NewProducerWithClient 使用已有的 SyncProducer
func NewProducerWithClient(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.producer.Close()
}

// Publish 按 bet_id 分区发送, 同一笔下注的事件有序
func (p *Producer) Publish(_ context.Context, ev *model.LifecycleEvent) error {
	topic, err := TopicFor(ev.Type)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.BetID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("correlate_id"), Value: []byte(ev.CorrelateID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	metrics.RecordKafkaMessage(topic, err == nil)
	if err != nil {
		logger.Error("failed to publish lifecycle event",
			zap.String("topic", topic),
			zap.String("bet_id", ev.BetID),
			zap.Error(err))
		return err
	}

	logger.Debug("lifecycle event published",
		zap.String("topic", topic),
		zap.String("bet_id", ev.BetID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// NoopPublisher 未配置 broker 时使用
type NoopPublisher struct{}

// Publish 丢弃事件
func (NoopPublisher) Publish(context.Context, *model.LifecycleEvent) error { return nil }

// Close 无操作
func (NoopPublisher) Close() error { return nil }
