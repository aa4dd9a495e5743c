package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/refset/civic-intake/internal/audit"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes audit records to Kafka
type Producer struct {
	auditWriter messageWriter
}

// NewProducer creates a new Kafka producer for the audit topic
func NewProducer(brokers []string, auditTopic string) *Producer {
	return &Producer{
		auditWriter: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        auditTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishAudit sends one audit record keyed by job id
func (p *Producer) PublishAudit(ctx context.Context, rec audit.Record) error {
	data, err := json.Marshal(auditMessage(rec))
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(rec.JobID),
		Value: data,
		Time:  rec.Timestamp,
	}

	if err := p.auditWriter.WriteMessages(ctx, msg); err != nil {
		return err
	}

	log.Printf("Sent audit to Kafka: %s", rec.JobID)
	return nil
}

// Close closes the Kafka writer
func (p *Producer) Close() error {
	return p.auditWriter.Close()
}

func auditMessage(rec audit.Record) map[string]any {
	return map[string]any{
		"_id":          rec.JobID,
		"job_id":       rec.JobID,
		"department":   rec.Department.Department,
		"service_code": rec.Department.ServiceCode,
		"sla_hours":    rec.Department.SLAHours,
		"confidence":   rec.Confidence,
		"extracted":    rec.Extracted,
		"_valid_from":  rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
