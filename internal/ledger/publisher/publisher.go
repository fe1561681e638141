// Package publisher streams committed audit entries to Kafka so external
// SIEM and observer systems can follow the ledger without querying the
// core's database. Kafka delivery is best-effort; the ledger rows remain
// the source of truth for verification.
package publisher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"ballotcore/internal/ledger/models"
)

// Publisher produces ledger entries to one Kafka topic, keyed by position
// so per-partition ordering follows chain order.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// New connects to Kafka and ensures the audit topic exists.
func New(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	admin := kadm.NewClient(client)
	if _, err := admin.CreateTopic(ctx, 1, 1, nil, topic); err != nil {
		// Already-exists is the steady state after first boot.
		logger.Debug("audit topic creation skipped", "topic", topic, "reason", err)
	}

	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// streamRecord is the wire shape of one published entry.
type streamRecord struct {
	Position    int64             `json:"position"`
	Type        string            `json:"type"`
	ActorRef    string            `json:"actor_ref,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   string            `json:"timestamp"`
	ContentHash string            `json:"content_hash"`
	PrevHash    string            `json:"prev_hash"`
	Signature   string            `json:"signature"`
}

// Publish produces one committed entry and waits for broker acknowledgment.
func (p *Publisher) Publish(ctx context.Context, entry *models.Entry) error {
	payload, err := json.Marshal(streamRecord{
		Position:    entry.Position,
		Type:        string(entry.Type),
		ActorRef:    entry.ActorRef,
		Metadata:    entry.Metadata,
		Timestamp:   entry.Timestamp.UTC().Format(time.RFC3339Nano),
		ContentHash: entry.ContentHash,
		PrevHash:    entry.PrevHash,
		Signature:   base64.StdEncoding.EncodeToString(entry.Signature),
	})
	if err != nil {
		return fmt.Errorf("marshal stream record: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatInt(entry.Position, 10)),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit entry %d: %w", entry.Position, err)
	}
	return nil
}

// Close flushes pending records and releases the client.
func (p *Publisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.Flush(ctx)
	p.client.Close()
}
