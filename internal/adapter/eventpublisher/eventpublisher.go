// Package eventpublisher emits a best-effort terminal-state event after a
// job's external-DB reconciliation succeeds, for downstream consumers that
// live outside this system (§4.3, §5). Publishing failures never affect job
// state: the JobStore and the reconciled external row are already
// authoritative by the time this runs.
package eventpublisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/observability"
)

const topicJobTerminal = "job-terminal-events"

// Publisher is a fire-and-forget, non-transactional Kafka/Redpanda producer.
// It trades delivery guarantees for simplicity: a lost terminal event here
// means a downstream notification is missed, not that job state diverges.
type Publisher struct {
	client *kgo.Client
}

// New constructs a Publisher against the given Kafka/Redpanda seed brokers.
func New(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=eventpublisher.new: no seed brokers provided")
	}

	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelSvc := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.WithHooks(kotelSvc.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=eventpublisher.new: %w", err)
	}
	return &Publisher{client: client}, nil
}

type terminalEvent struct {
	ProductID   string    `json:"product_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PublishTerminal implements domain.EventPublisher. It produces
// asynchronously and never blocks the caller on broker acknowledgement
// beyond handing the record to the client's internal buffer.
func (p *Publisher) PublishTerminal(ctx domain.Context, productID string, kind domain.JobKind, status domain.JobStatus) error {
	payload, err := json.Marshal(terminalEvent{
		ProductID:  productID,
		Kind:       string(kind),
		Status:     string(status),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("op=eventpublisher.publish_terminal: %w", err)
	}

	record := &kgo.Record{Topic: topicJobTerminal, Key: []byte(productID), Value: payload}
	lg := observability.LoggerFromContext(ctx)
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			lg.Warn("eventpublisher: produce failed", slog.String("product_id", productID), slog.Any("error", err))
		}
	})
	return nil
}

// Close releases the underlying client's connections.
func (p *Publisher) Close() { p.client.Close() }

var _ domain.EventPublisher = (*Publisher)(nil)
