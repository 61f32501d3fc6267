package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/logger"
)

// SessionEvent 一次问答会话落库后发布的事件
type SessionEvent struct {
	RequestID   string    `json:"request_id"`
	SessionID   uint      `json:"session_id"`
	DocumentID  uint      `json:"document_id"`
	ContentHash string    `json:"content_hash"`
	Source      string    `json:"source"`
	Questions   int       `json:"questions"`
	Failed      int       `json:"failed"`
	Timestamp   time.Time `json:"timestamp"`
}

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewSaramaConfig 同步生产者配置
func NewSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second
	return config
}

// NewProducer 连接broker并创建生产者
func NewProducer(brokers []string, topic string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return NewProducerWith(producer, topic), nil
}

// NewProducerWith 包装已有的SyncProducer
func NewProducerWith(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: producer, topic: topic, logger: logger.Named("kafka")}
}

// PublishSessionRecorded 以文档内容哈希为key发布会话事件，同一文档的事件落在同一分区
func (p *Producer) PublishSessionRecorded(ctx context.Context, event *SessionEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.ContentHash),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("request_id"), Value: []byte(event.RequestID)},
			{Key: []byte("document_id"), Value: []byte(strconv.FormatUint(uint64(event.DocumentID), 10))},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}

	p.logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("request_id", event.RequestID))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
