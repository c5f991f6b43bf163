package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"AdRelister/internal/config"
	"AdRelister/internal/domain"
	"AdRelister/internal/ports"
)

// ProgressPublisher writes one message per item transition, keyed by batch id so a batch's events
// stay ordered within a partition.
type ProgressPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

var _ ports.ProgressPublisher = (*ProgressPublisher)(nil)

// NewProgressPublisher connects a synchronous producer to the configured brokers.
func NewProgressPublisher(cfg config.KafkaConfig) (*ProgressPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewProgressPublisherWithProducer(producer, cfg.Topic), nil
}

// NewProgressPublisherWithProducer wraps an existing producer.
func NewProgressPublisherWithProducer(producer sarama.SyncProducer, topic string) *ProgressPublisher {
	return &ProgressPublisher{producer: producer, topic: topic}
}

type progressMessage struct {
	BatchID   string            `json:"batchId"`
	Phase     string            `json:"phase"`
	Current   int               `json:"current"`
	Total     int               `json:"total"`
	ItemID    string            `json:"itemId"`
	ListingID string            `json:"listingId"`
	Status    domain.ItemStatus `json:"status"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
}

func (p *ProgressPublisher) PublishProgress(ctx context.Context, event domain.ProgressEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(progressMessage{
		BatchID:   event.BatchID,
		Phase:     event.Phase,
		Current:   event.Current,
		Total:     event.Total,
		ItemID:    event.Item.ID,
		ListingID: event.Item.ListingID,
		Status:    event.Item.Status,
		Success:   event.Result.Success,
		Error:     event.Result.Error,
		At:        event.At,
	})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.BatchID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("phase"), Value: []byte(event.Phase)},
		},
	})
	if err != nil {
		return fmt.Errorf("send progress to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *ProgressPublisher) Close() error {
	return p.producer.Close()
}
