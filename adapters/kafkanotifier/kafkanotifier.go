// Package kafkanotifier publishes audit entries to a Kafka topic so other
// systems (notification mailers, reporting) can follow the workflow without
// polling the database.
package kafkanotifier

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/segmentio/kafka-go"

	"github.com/mindworx/sor"
)

type Notifier struct {
	writer *kafka.Writer
}

// New returns a notifier publishing to topic. Entries for the same request
// are keyed by request ID so they land on the same partition in order.
func New(brokers []string, topic string) *Notifier {
	return &Notifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

var _ sor.AuditNotifier = (*Notifier)(nil)

func (n *Notifier) Notify(ctx context.Context, entry sor.AuditEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal audit entry")
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(entry.RequestID, 10)),
		Value: value,
	})
	if err != nil {
		return errors.Wrap(err, "publish audit entry", j.KV("request_id", entry.RequestID))
	}

	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}
