// Package federation implements the federation anchorer (C7): after a
// batch closes, its merkle root is submitted to every trusted peer
// network as an ordinary timestamp request, and the peer's signed
// attestation over that root is stored as a cross-anchor.
package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/config"
	"github.com/witnessnet/gateway/internal/shared/metrics"
	"github.com/witnessnet/gateway/internal/shared/types"
	"github.com/witnessnet/gateway/internal/store"
)

// Config tunes retry and backpressure behavior for the anchorer.
type Config struct {
	PeerTimeout time.Duration
	MaxRetries  int
	QueueDepth  int
}

type anchorJob struct {
	batch store.Batch
}

// peerWorker owns one peer's bounded work queue. A full queue drops the
// oldest pending job, preferring to anchor fresher batches under load.
type peerWorker struct {
	peer  config.FederationPeer
	queue chan anchorJob
}

// EventPublisher is the narrow interface used to emit cross_anchor.received
// events onto the real-time stream, satisfied by internal/eventbus.Bus.
type EventPublisher interface {
	PublishCrossAnchorReceived(ctx context.Context, networkID string, batchID uint64, peerNetworkID string)
}

// Anchorer submits closed batches to a network's federation peers.
type Anchorer struct {
	networkID string
	peers     []config.FederationPeer
	st        store.Store
	client    *http.Client
	cfg       Config
	bus       EventPublisher

	workers map[string]*peerWorker
}

// New constructs an Anchorer for networkID's configured peers. bus may be
// nil, in which case cross-anchor arrival is never published onto the
// real-time stream.
func New(networkID string, peers []config.FederationPeer, st store.Store, bus EventPublisher, cfg Config) *Anchorer {
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}

	a := &Anchorer{
		networkID: networkID,
		peers:     peers,
		st:        st,
		client:    &http.Client{},
		cfg:       cfg,
		bus:       bus,
		workers:   make(map[string]*peerWorker, len(peers)),
	}
	for _, p := range peers {
		a.workers[p.NetworkID] = &peerWorker{peer: p, queue: make(chan anchorJob, cfg.QueueDepth)}
	}
	return a
}

// Start spawns one worker goroutine per configured peer, running until
// ctx is cancelled.
func (a *Anchorer) Start(ctx context.Context) {
	for _, w := range a.workers {
		go a.runWorker(ctx, w)
	}
}

// BatchClosed implements batch.CloseListener: it enqueues an anchor job
// for every peer currently marked active in the trust record set,
// dropping the oldest queued job for a peer whose queue is full.
func (a *Anchorer) BatchClosed(networkID string, batch store.Batch) {
	if networkID != a.networkID {
		return
	}
	active := a.activePeers(context.Background())
	for peerID, w := range a.workers {
		if !active[peerID] {
			continue
		}
		job := anchorJob{batch: batch}
		select {
		case w.queue <- job:
		default:
			// Queue full: drop the oldest, then enqueue the fresher batch.
			select {
			case <-w.queue:
			default:
			}
			select {
			case w.queue <- job:
			default:
			}
		}
	}
}

func (a *Anchorer) activePeers(ctx context.Context) map[string]bool {
	records, err := a.st.TrustRecords(ctx, a.networkID)
	if err != nil {
		return nil
	}
	active := make(map[string]bool, len(records))
	for _, r := range records {
		if r.Status == store.TrustActive {
			active[r.SubjectID] = true
		}
	}
	return active
}

func (a *Anchorer) runWorker(ctx context.Context, w *peerWorker) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.queue:
			a.submitWithRetry(ctx, w.peer, job.batch)
		}
	}
}

type anchorRequest struct {
	NetworkID  string `json:"network_id"`
	BatchID    uint64 `json:"batch_id"`
	MerkleRoot string `json:"merkle_root"`
	ClosedAt   string `json:"closed_at"`
}

func (a *Anchorer) submitWithRetry(ctx context.Context, peer config.FederationPeer, batch store.Batch) {
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
		}

		start := time.Now()
		signed, err := a.submit(ctx, peer, batch)
		if err == nil {
			metrics.RecordFederationRequest(peer.NetworkID, "ok", time.Since(start))
			// The peer's own batch membership for this root is unknown
			// until it closes a batch containing it; PeerBatchID is left
			// nil here and is not currently backfilled.
			anchor := store.CrossAnchor{
				PeerNetworkID:     peer.NetworkID,
				SignedAttestation: signed,
				ReceivedAt:        time.Now(),
			}
			if err := a.st.AppendCrossAnchor(ctx, a.networkID, batch.ID, anchor); err != nil {
				lastErr = err
				continue
			}
			if a.bus != nil {
				a.bus.PublishCrossAnchorReceived(ctx, a.networkID, batch.ID, peer.NetworkID)
			}
			return
		}
		lastErr = err
		metrics.RecordFederationRequest(peer.NetworkID, "error", time.Since(start))
	}
	log.Printf("federation: giving up anchoring network %s batch %d to peer %s after %d attempts: %v",
		a.networkID, batch.ID, peer.NetworkID, a.cfg.MaxRetries+1, lastErr)
}

func (a *Anchorer) submit(ctx context.Context, peer config.FederationPeer, batch store.Batch) (attestation.SignedAttestation, error) {
	peerCtx, cancel := context.WithTimeout(ctx, a.cfg.PeerTimeout)
	defer cancel()

	var root types.Fingerprint = batch.MerkleRoot

	body, err := json.Marshal(anchorRequest{
		NetworkID:  a.networkID,
		BatchID:    batch.ID,
		MerkleRoot: root.String(),
		ClosedAt:   batch.ClosedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return attestation.SignedAttestation{}, fmt.Errorf("federation: encode anchor request: %w", err)
	}

	req, err := http.NewRequestWithContext(peerCtx, http.MethodPost, peer.GatewayURL+"/v1/federation/anchor", bytes.NewReader(body))
	if err != nil {
		return attestation.SignedAttestation{}, fmt.Errorf("federation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return attestation.SignedAttestation{}, fmt.Errorf("federation: request to %s: %w", peer.NetworkID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return attestation.SignedAttestation{}, fmt.Errorf("federation: peer %s responded %d", peer.NetworkID, resp.StatusCode)
	}

	var signed attestation.SignedAttestation
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return attestation.SignedAttestation{}, fmt.Errorf("federation: decode response from %s: %w", peer.NetworkID, err)
	}
	return signed, nil
}
