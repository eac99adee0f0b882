package backend

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/allankoechke/mantis-sub000/core/logger"
)

const eventTopic = "mantis.records"

// recordEvent is the message published for every successful write
// operation on an entity.
type recordEvent struct {
	Entity    string    `json:"entity"`
	Operation string    `json:"operation"`
	RecordID  string    `json:"record_id"`
	Timestamp time.Time `json:"timestamp"`
}

// eventNotifier publishes record events to Kafka. Without configured
// brokers every call is a no-op, so the feature costs nothing when it is
// off.
type eventNotifier struct {
	writer *kafka.Writer
}

func newEventNotifier(brokers string) *eventNotifier {
	if brokers == "" {
		return &eventNotifier{}
	}
	return &eventNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(strings.Split(brokers, ",")...),
			Topic:    eventTopic,
			Balancer: &kafka.Hash{},
			Async:    true,
		},
	}
}

// Notify publishes one record event. Publishing is asynchronous and
// failures only warn; the API response does not depend on the broker.
func (n *eventNotifier) Notify(ctx context.Context, entity, operation, recordID string) {
	if n.writer == nil {
		return
	}
	value, _ := json.Marshal(recordEvent{
		Entity:    entity,
		Operation: operation,
		RecordID:  recordID,
		Timestamp: time.Now().UTC(),
	})
	err := n.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(entity),
		Value: value,
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnln("cannot publish record event")
	}
}

func (n *eventNotifier) Close() {
	if n.writer != nil {
		n.writer.Close()
	}
}
