package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-validation/internal/config"
	"ms-validation/internal/logger"
	"ms-validation/internal/models"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Topics config.TopicConfig
	Logger *logger.Logger
}

// SyncCompletedEvent is published once per reconciled offline batch.
type SyncCompletedEvent struct {
	ManagerID      string    `json:"manager_id"`
	ProcessedCount int       `json:"processed_count"`
	ConflictCount  int       `json:"conflict_count"`
	ErrorCount     int       `json:"error_count"`
	SkippedCount   int       `json:"skipped_count"`
	CompletedAt    time.Time `json:"completed_at"`
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

func (p *Producer) publish(ctx context.Context, topic, key string, payload any) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if p.Logger != nil {
		p.Logger.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s bytes=%d", key, len(msgBytes)))
	}

	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
}

// PublishValidation streams a committed ledger row. Rows for the same ticket
// share a key and therefore a partition. Rejected offline records go to the
// conflicts topic.
func (p *Producer) PublishValidation(ctx context.Context, evt models.ValidationEvent) error {
	topic := p.Topics.TicketValidated
	if !evt.IsValid {
		topic = p.Topics.ValidationConflicts
	}
	return p.publish(ctx, topic, evt.TicketID, evt)
}

// PublishSyncCompleted streams the counts of a reconciled offline batch.
func (p *Producer) PublishSyncCompleted(ctx context.Context, managerID string, summary *models.ReconciliationSummary) error {
	evt := SyncCompletedEvent{
		ManagerID:      managerID,
		ProcessedCount: summary.ProcessedCount,
		ConflictCount:  summary.ConflictCount,
		ErrorCount:     summary.ErrorCount,
		SkippedCount:   summary.SkippedCount,
		CompletedAt:    time.Now().UTC(),
	}
	return p.publish(ctx, p.Topics.SyncCompleted, managerID, evt)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
