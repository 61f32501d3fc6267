package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_PublishSessionRecorded(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, NewSaramaConfig())
	defer mockProducer.Close()

	event := &SessionEvent{
		RequestID:   "req-1",
		SessionID:   7,
		DocumentID:  3,
		ContentHash: "abc123",
		Source:      "policy.pdf",
		Questions:   2,
		Timestamp:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "docqa-sessions" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "abc123" {
			return errors.New("unexpected key " + string(key))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var decoded SessionEvent
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		if decoded.DocumentID != 3 || decoded.Questions != 2 {
			return errors.New("unexpected payload")
		}
		return nil
	})

	producer := NewProducerWith(mockProducer, "docqa-sessions")
	require.NoError(t, producer.PublishSessionRecorded(context.Background(), event))
}

func TestProducer_PublishFailure(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, NewSaramaConfig())
	defer mockProducer.Close()

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewProducerWith(mockProducer, "docqa-sessions")
	err := producer.PublishSessionRecorded(context.Background(), &SessionEvent{ContentHash: "abc"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestProducer_NilSafe(t *testing.T) {
	var producer *Producer
	assert.Error(t, producer.PublishSessionRecorded(context.Background(), &SessionEvent{}))
	assert.NoError(t, producer.Close())
}
