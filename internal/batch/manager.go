// Package batch implements the batch manager (C6): a single-owner
// mailbox actor per network that accumulates committed fingerprints,
// closes a batch on a periodic tick, and hands the closure onward to
// federation anchoring. This generalizes the append-log-plus-periodic-
// checkpoint shape a hash-chain audit checkpoint service uses, swapping
// the aggregation primitive for a merkle tree and the witness contract
// for the uniform C4 scheme fan-out.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/witnessnet/gateway/internal/merkle"
	"github.com/witnessnet/gateway/internal/shared/metrics"
	"github.com/witnessnet/gateway/internal/shared/types"
	"github.com/witnessnet/gateway/internal/store"
)

// DefaultPeriod is the fallback batch closure period, P in spec §4.6.
const DefaultPeriod = 60 * time.Second

// ProofStatus tags the three possible outcomes of Proof.
type ProofStatus string

const (
	ProofPending  ProofStatus = "pending"
	ProofNotFound ProofStatus = "not_found"
	ProofReady    ProofStatus = "ready"
)

// ProofResult is the answer to a Proof(fingerprint) query.
type ProofResult struct {
	Status     ProofStatus
	BatchID    uint64
	MerkleRoot [32]byte
	Proof      merkle.Proof
}

// CloseListener is notified whenever a batch closes, so federation
// anchoring can react without the manager holding a back-reference.
type CloseListener interface {
	BatchClosed(networkID string, batch store.Batch)
}

// EventPublisher is the narrow interface used to emit batch.closed
// events onto the real-time stream, satisfied by internal/eventbus.Bus.
type EventPublisher interface {
	PublishBatchClosed(ctx context.Context, networkID string, batchID uint64, merkleRoot [32]byte)
}

type appendMsg struct {
	fp types.Fingerprint
}

type tickMsg struct{}

type proofQuery struct {
	fp     types.Fingerprint
	result chan ProofResult
}

// Manager owns the open-batch state for exactly one network. All state
// mutation happens on the single goroutine started by Run; callers only
// ever send messages over channels.
type Manager struct {
	networkID string
	st        store.Store
	listener  CloseListener
	bus       EventPublisher
	period    time.Duration
	now       func() time.Time

	appendCh chan appendMsg
	tickCh   chan tickMsg
	queryCh  chan proofQuery
	done     chan struct{}
}

// New constructs a Manager for networkID. Call Run in its own goroutine
// to start the actor loop. bus may be nil, in which case batch closure
// is never published onto the real-time stream.
func New(networkID string, st store.Store, listener CloseListener, bus EventPublisher, period time.Duration) *Manager {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Manager{
		networkID: networkID,
		st:        st,
		listener:  listener,
		bus:       bus,
		period:    period,
		now:       time.Now,
		appendCh:  make(chan appendMsg, 1024),
		tickCh:    make(chan tickMsg, 1),
		queryCh:   make(chan proofQuery),
		done:      make(chan struct{}),
	}
}

// Append enqueues a freshly committed fingerprint into the open batch.
// Never blocks the caller beyond the mailbox's buffer.
func (m *Manager) Append(fp types.Fingerprint) {
	m.appendCh <- appendMsg{fp: fp}
}

// Flush forces an immediate tick, used by tests and explicit admin flush.
func (m *Manager) Flush() {
	select {
	case m.tickCh <- tickMsg{}:
	default:
	}
}

// Proof answers a Proof(fingerprint) query by round-tripping through the
// actor goroutine, so it never races the open batch's member list.
func (m *Manager) Proof(ctx context.Context, fp types.Fingerprint) (ProofResult, error) {
	q := proofQuery{fp: fp, result: make(chan ProofResult, 1)}
	select {
	case m.queryCh <- q:
	case <-ctx.Done():
		return ProofResult{}, ctx.Err()
	case <-m.done:
		return ProofResult{}, fmt.Errorf("batch: manager for network %q has stopped", m.networkID)
	}
	select {
	case r := <-q.result:
		return r, nil
	case <-ctx.Done():
		return ProofResult{}, ctx.Err()
	}
}

// Run starts the actor loop. It loads the highest persisted batch id at
// startup and opens the next one, then blocks on its mailbox until ctx
// is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	latest, err := m.st.LatestBatchID(ctx, m.networkID)
	if err != nil {
		return fmt.Errorf("batch: load latest batch id: %w", err)
	}

	open := store.Batch{ID: latest + 1, NetworkID: m.networkID, OpenedAt: m.now()}
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	defer close(m.done)

	// drain moves every already-queued Append into the open batch.
	drain := func() {
		for {
			select {
			case msg := <-m.appendCh:
				open.Members = append(open.Members, msg.fp)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.appendCh:
			open.Members = append(open.Members, msg.fp)
		case <-ticker.C:
			drain()
			open = m.maybeClose(ctx, open)
		case <-m.tickCh:
			drain()
			open = m.maybeClose(ctx, open)
		case q := <-m.queryCh:
			drain()
			q.result <- m.answerProof(ctx, open, q.fp)
		}
	}
}

// maybeClose implements the "extend, don't emit empty batches" rule: an
// empty open batch's window is left unchanged rather than persisted.
func (m *Manager) maybeClose(ctx context.Context, open store.Batch) store.Batch {
	if len(open.Members) == 0 {
		return open
	}

	tree := merkle.Build(fingerprintsAsArrays(open.Members))
	open.MerkleRoot = tree.Root()
	open.ClosedAt = m.now()

	if err := m.st.PutBatch(ctx, open); err != nil {
		// Persistence failure: keep accumulating in the same open batch
		// rather than losing members; the next tick retries the close.
		open.ClosedAt = time.Time{}
		return open
	}

	metrics.RecordBatchClosed(m.networkID, len(open.Members))
	if m.bus != nil {
		m.bus.PublishBatchClosed(ctx, m.networkID, open.ID, open.MerkleRoot)
	}
	if m.listener != nil {
		m.listener.BatchClosed(m.networkID, open)
	}

	return store.Batch{ID: open.ID + 1, NetworkID: m.networkID, OpenedAt: m.now()}
}

func (m *Manager) answerProof(ctx context.Context, open store.Batch, fp types.Fingerprint) ProofResult {
	for _, member := range open.Members {
		if member == fp {
			return ProofResult{Status: ProofPending}
		}
	}

	closed, err := m.st.GetBatchContaining(ctx, m.networkID, fp)
	if err != nil {
		return ProofResult{Status: ProofNotFound}
	}

	tree := merkle.Build(fingerprintsAsArrays(closed.Members))
	idx := -1
	for i, member := range closed.Members {
		if member == fp {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ProofResult{Status: ProofNotFound}
	}
	proof, err := tree.Proof(idx)
	if err != nil {
		return ProofResult{Status: ProofNotFound}
	}
	return ProofResult{Status: ProofReady, BatchID: closed.ID, MerkleRoot: closed.MerkleRoot, Proof: proof}
}

func fingerprintsAsArrays(members []types.Fingerprint) [][32]byte {
	out := make([][32]byte, len(members))
	for i, m := range members {
		out[i] = [32]byte(m)
	}
	return out
}
