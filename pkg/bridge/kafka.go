// Package bridge relays normalized chat events across server instances over
// Kafka. Each instance publishes after a successful append and every
// instance, the publisher included, consumes with a unique group id and
// re-broadcasts into its local router. Persist-before-broadcast therefore
// holds cluster-wide: nothing enters the topic before it is durable.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/placement-chat/pkg/room"
)

const maxRetryWait = 30 * time.Second

// messageReader is the consuming side of kafka.Reader, kept narrow so the
// consume loop can be exercised without brokers.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Kafka struct {
	writer    *kafka.Writer
	reader    messageReader
	router    *room.Router
	log       *slog.Logger
	retryWait time.Duration
}

func NewKafka(brokers []string, topic string, router *room.Router, log *slog.Logger) *Kafka {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	// Unique group id so every instance sees every event (fan-out, not
	// work-sharing), starting from the head: history catch-up is the
	// store's job, not the bridge's.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     fmt.Sprintf("chat-relay-%d", time.Now().UnixNano()),
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})

	return &Kafka{
		writer:    writer,
		reader:    reader,
		router:    router,
		log:       log,
		retryWait: time.Second,
	}
}

// Broadcast publishes the payload keyed by conversation id. Local delivery
// happens when the consume loop reads the event back; a publish failure is
// logged and the event is lost to live subscribers, who recover via the
// history endpoint.
func (k *Kafka) Broadcast(conversationID string, payload []byte) {
	err := k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(conversationID),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		k.log.Error("bridge publish failed", "conversation", conversationID, "err", err)
	}
}

// Run consumes the topic and fans events into the local router until the
// context is canceled. Consume errors are retried with capped backoff: the
// loop is this instance's only path to live delivery, so it must outlive
// broker hiccups while appends keep succeeding.
func (k *Kafka) Run(ctx context.Context) error {
	wait := k.retryWait
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.log.Error("bridge consume failed, retrying", "wait", wait, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			if wait < maxRetryWait {
				wait *= 2
			}
			continue
		}
		wait = k.retryWait

		var envelope struct {
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(m.Value, &envelope); err != nil {
			k.log.Warn("dropping undecodable bridge event", "err", err)
			continue
		}
		k.router.Broadcast(envelope.ConversationID, m.Value)
	}
}

func (k *Kafka) Close() error {
	rerr := k.reader.Close()
	werr := k.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
