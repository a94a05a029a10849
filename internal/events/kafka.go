package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/errors"
	"github.com/cmatc13/chipdesk/pkg/logging"
	"github.com/cmatc13/chipdesk/pkg/metrics"
)

const (
	flushTimeout    = 15 * time.Second
	metadataTimeout = 5 * time.Second
)

// KafkaPublisher produces outcomes to Kafka, keyed by operation id.
type KafkaPublisher struct {
	producer *kafka.Producer
	logger   *logging.Logger
	metrics  *metrics.Metrics

	closeOnce sync.Once
	done      chan struct{}
}

// NewKafkaPublisher creates a producer for cfg.Brokers.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *logging.Logger, m *metrics.Metrics) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"client.id":         cfg.ClientID,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	p := &KafkaPublisher{
		producer: producer,
		logger:   logger,
		metrics:  m,
		done:     make(chan struct{}),
	}
	go p.deliveryReports()

	return p, nil
}

// Publish enqueues o. Delivery is reported asynchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, o Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := o.ToJSON()
	if err != nil {
		return errors.TransactionWrap(err, errors.OpPublishOutcome, errors.TransactionErrPublish, "error serializing outcome")
	}

	topic := Topic(o.Status)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(o.OperationID),
		Value: payload,
	}, nil)
	if err != nil {
		p.record(topic, "error")
		return errors.TransactionWrap(err, errors.OpPublishOutcome, errors.TransactionErrPublish, "error publishing outcome")
	}

	return nil
}

// Ping fetches cluster metadata.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	timeout := metadataTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	_, err := p.producer.GetMetadata(nil, false, int(timeout.Milliseconds()))
	return err
}

// Close flushes pending messages and closes the producer.
func (p *KafkaPublisher) Close() error {
	p.closeOnce.Do(func() {
		if remaining := p.producer.Flush(int(flushTimeout.Milliseconds())); remaining > 0 {
			p.logger.Warn("Outcome events left unflushed", "count", remaining)
		}
		p.producer.Close()
		select {
		case <-p.done:
		case <-time.After(flushTimeout):
		}
	})
	return nil
}

func (p *KafkaPublisher) deliveryReports() {
	defer close(p.done)

	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			topic := ""
			if ev.TopicPartition.Topic != nil {
				topic = *ev.TopicPartition.Topic
			}
			if ev.TopicPartition.Error != nil {
				p.record(topic, "error")
				p.logger.Error("Outcome event delivery failed",
					"topic", topic, "key", string(ev.Key), "error", ev.TopicPartition.Error)
				continue
			}
			p.record(topic, "delivered")
		case kafka.Error:
			p.logger.Warn("Kafka producer error", "error", ev)
		}
	}
}

func (p *KafkaPublisher) record(topic, status string) {
	if p.metrics != nil {
		p.metrics.RecordEvent(topic, status)
	}
}
