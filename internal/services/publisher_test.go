package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tikiti/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("keys messages by order", func(t *testing.T) {
		w := &fakeWriter{}
		p := &KafkaPublisher{writer: w}

		err := p.Publish(ctx,
			models.PaymentEvent{Type: models.EventOrderCompleted, OrderID: "o-1", Status: "completed", Amount: 2100, Currency: models.CurrencyKES, OccurredAt: testNow},
			models.PaymentEvent{Type: models.EventPayoutRecorded, PayoutIDs: []string{"po-1", "po-2"}, Status: "pending", OccurredAt: testNow},
		)
		require.NoError(t, err)
		require.Len(t, w.msgs, 2)

		assert.Equal(t, "o-1", string(w.msgs[0].Key))
		assert.Equal(t, testNow, w.msgs[0].Time)
		assert.Equal(t, []kafka.Header{{Key: "type", Value: []byte("order.completed")}}, w.msgs[0].Headers)
		assert.Equal(t, "po-1", string(w.msgs[1].Key))

		var decoded models.PaymentEvent
		require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
		assert.Equal(t, int64(2100), decoded.Amount)
		assert.Equal(t, models.CurrencyKES, decoded.Currency)
	})

	t.Run("no events writes nothing", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("should not be called")}
		p := &KafkaPublisher{writer: w}
		assert.NoError(t, p.Publish(ctx))
	})

	t.Run("writer errors are wrapped", func(t *testing.T) {
		brokerErr := errors.New("leader not available")
		p := &KafkaPublisher{writer: &fakeWriter{err: brokerErr}}
		err := p.Publish(ctx, models.PaymentEvent{Type: models.EventOrderFailed, OrderID: "o-2"})
		assert.ErrorIs(t, err, brokerErr)
	})

	t.Run("close closes the writer", func(t *testing.T) {
		w := &fakeWriter{}
		require.NoError(t, (&KafkaPublisher{writer: w}).Close())
		assert.True(t, w.closed)
	})
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, LogPublisher{}.Publish(context.Background(), models.PaymentEvent{Type: models.EventOrderFailed, OrderID: "o-3"}))
}
