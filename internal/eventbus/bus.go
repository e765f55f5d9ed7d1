// Package eventbus is the real-time event stream backing GET /ws/events.
// It generalizes the platform's EventStore-Client-Go-backed publish and
// catch-up-subscription mechanism to three event types:
// attestation.committed, published on every persisted signed
// attestation, batch.closed on batch close, and cross_anchor.received on
// cross-anchor arrival.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"

	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/shared/types"
)

// EventType names one of the event kinds this bus carries.
type EventType string

const (
	AttestationCommitted EventType = "attestation.committed"
	BatchClosed          EventType = "batch.closed"
	CrossAnchorReceived  EventType = "cross_anchor.received"
)

// Event is the envelope published onto the stream and relayed to
// websocket clients.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	NetworkID string          `json:"network_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data      json.RawMessage `json:"data"`
}

func newEvent(t EventType, networkID string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("eventbus: encode event data: %w", err)
	}
	return Event{
		ID:         types.NewEventID().String(),
		Type:       t,
		NetworkID:  networkID,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

// Handler processes an event delivered from a subscription.
type Handler func(ctx context.Context, event Event) error

// Bus wraps an EventStoreDB client, appending events to per-network
// streams and offering catch-up subscriptions for real-time relay.
type Bus struct {
	client *esdb.Client
	prefix string
}

// Config configures the underlying EventStoreDB connection.
type Config struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
	// StreamPrefix namespaces this deployment's streams, e.g. "witness".
	StreamPrefix string
}

func buildConnectionString(cfg Config) string {
	scheme := "esdb"
	auth := ""
	if cfg.Username != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}
	query := "tls=false"
	if !cfg.Insecure {
		query = "tls=true"
	}
	return fmt.Sprintf("%s://%s%s:%d?%s", scheme, auth, cfg.Host, cfg.Port, query)
}

// NewBus connects to EventStoreDB per cfg.
func NewBus(cfg Config) (*Bus, error) {
	connStr := buildConnectionString(cfg)
	settings, err := esdb.ParseConnectionString(connStr)
	if err != nil {
		return nil, fmt.Errorf("eventbus: parse connection string: %w", err)
	}
	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	prefix := cfg.StreamPrefix
	if prefix == "" {
		prefix = "witness"
	}
	return &Bus{client: client, prefix: prefix}, nil
}

func (b *Bus) streamName(networkID string) string {
	return fmt.Sprintf("%s-%s-events", b.prefix, networkID)
}

// Publish appends event to the network's stream. Failures are logged by
// the caller (store implementations treat publish as best-effort — a
// slow or unavailable event stream never fails an attestation commit).
func (b *Bus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	proposed := esdb.EventData{
		EventType:   string(event.Type),
		ContentType: esdb.ContentTypeJson,
		Data:        data,
	}
	_, err = b.client.AppendToStream(ctx, b.streamName(event.NetworkID), esdb.AppendToStreamOptions{}, proposed)
	if err != nil {
		return fmt.Errorf("eventbus: append: %w", err)
	}
	return nil
}

// PublishAttestationCommitted implements store.Publisher.
func (b *Bus) PublishAttestationCommitted(ctx context.Context, signed attestation.SignedAttestation) {
	event, err := newEvent(AttestationCommitted, signed.Attestation.NetworkID, signed)
	if err != nil {
		log.Printf("eventbus: encode attestation.committed: %v", err)
		return
	}
	if err := b.Publish(ctx, event); err != nil {
		log.Printf("eventbus: publish attestation.committed: %v", err)
	}
}

// PublishBatchClosed publishes a batch.closed event for networkID.
func (b *Bus) PublishBatchClosed(ctx context.Context, networkID string, batchID uint64, merkleRoot [32]byte) {
	event, err := newEvent(BatchClosed, networkID, map[string]interface{}{
		"batch_id":    batchID,
		"merkle_root": fmt.Sprintf("%x", merkleRoot),
	})
	if err != nil {
		log.Printf("eventbus: encode batch.closed: %v", err)
		return
	}
	if err := b.Publish(ctx, event); err != nil {
		log.Printf("eventbus: publish batch.closed: %v", err)
	}
}

// PublishCrossAnchorReceived publishes a cross_anchor.received event for
// networkID once a peer's signed attestation over batchID's root has been
// persisted.
func (b *Bus) PublishCrossAnchorReceived(ctx context.Context, networkID string, batchID uint64, peerNetworkID string) {
	event, err := newEvent(CrossAnchorReceived, networkID, map[string]interface{}{
		"batch_id":        batchID,
		"peer_network_id": peerNetworkID,
	})
	if err != nil {
		log.Printf("eventbus: encode cross_anchor.received: %v", err)
		return
	}
	if err := b.Publish(ctx, event); err != nil {
		log.Printf("eventbus: publish cross_anchor.received: %v", err)
	}
}

// Subscribe starts a catch-up subscription on networkID's stream from
// the beginning, invoking handler for every event until ctx is
// cancelled.
func (b *Bus) Subscribe(ctx context.Context, networkID string, handler Handler) error {
	sub, err := b.client.SubscribeToStream(ctx, b.streamName(networkID), esdb.SubscribeToStreamOptions{
		From: esdb.Start{},
	})
	if err != nil {
		return fmt.Errorf("eventbus: subscribe: %w", err)
	}
	defer sub.Close()

	for {
		subEvent := sub.Recv()
		if subEvent == nil {
			return nil
		}
		if subEvent.SubscriptionDropped != nil {
			return fmt.Errorf("eventbus: subscription dropped: %w", subEvent.SubscriptionDropped.Error)
		}
		if subEvent.EventAppeared == nil {
			continue
		}
		var event Event
		if err := json.Unmarshal(subEvent.EventAppeared.Event.Data, &event); err != nil {
			log.Printf("eventbus: decode event: %v", err)
			continue
		}
		if err := handler(ctx, event); err != nil {
			log.Printf("eventbus: handler error: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Health checks connectivity to the underlying EventStoreDB cluster.
func (b *Bus) Health(ctx context.Context) error {
	_, err := b.client.ReadStream(ctx, "$stats-127.0.0.1:2113", esdb.ReadStreamOptions{}, 1)
	if err != nil && !isNoStreamError(err) {
		return fmt.Errorf("eventbus: health check: %w", err)
	}
	return nil
}

func isNoStreamError(err error) bool {
	esdbErr, ok := esdb.FromError(err)
	if !ok || esdbErr == nil {
		return false
	}
	return esdbErr.Code() == esdb.ErrorCodeResourceNotFound
}

func (b *Bus) Close() error {
	return b.client.Close()
}
