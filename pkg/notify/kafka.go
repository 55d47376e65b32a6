package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/otc-labs/otcx/pkg/exchange"
)

// KafkaNotifier publishes order events as JSON messages keyed by order id.
// Publication is best effort: a broker failure is logged, never surfaced
// back into the engine's call path.
type KafkaNotifier struct {
	writer  *kafka.Writer
	log     *zap.SugaredLogger
	timeout time.Duration
}

func NewKafkaNotifier(brokers []string, topic string, log *zap.SugaredLogger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		log:     log,
		timeout: 5 * time.Second,
	}
}

type kafkaEvent struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}

func (n *KafkaNotifier) publish(kind string, key []byte, payload interface{}) {
	value, err := json.Marshal(kafkaEvent{Kind: kind, Payload: payload})
	if err != nil {
		n.log.Errorw("kafka_marshal_failed", "kind", kind, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		n.log.Errorw("kafka_publish_failed", "kind", kind, "err", err)
	}
}

func (n *KafkaNotifier) OrderMade(e exchange.MadeOrder) {
	n.publish("order_made", e.ID.Bytes(), e)
}

func (n *KafkaNotifier) OrderTaken(e exchange.TakenOrder) {
	n.publish("order_taken", e.ID.Bytes(), e)
}

func (n *KafkaNotifier) OrderCancelled(e exchange.CancelledOrder) {
	n.publish("order_cancelled", e.ID.Bytes(), e)
}

func (n *KafkaNotifier) OrdersTaken(es []exchange.TakenOrder) {
	for _, e := range es {
		n.OrderTaken(e)
	}
}

func (n *KafkaNotifier) OrdersCancelled(es []exchange.CancelledOrder) {
	for _, e := range es {
		n.OrderCancelled(e)
	}
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
