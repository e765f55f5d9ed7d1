// Package memstore is an in-memory reference implementation of
// store.Store, used by unit tests and single-node development to avoid
// a hard Postgres dependency, matching the mock-repository pattern the
// teacher platform uses for its trust-authority tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/shared/types"
	"github.com/witnessnet/gateway/internal/store"
)

type networkState struct {
	nextSeq      uint64
	attestations map[types.Fingerprint]attestation.SignedAttestation
	batches      map[uint64]store.Batch
	memberBatch  map[types.Fingerprint]uint64
	trust        map[string]store.TrustRecord
}

func newNetworkState() *networkState {
	return &networkState{
		attestations: make(map[types.Fingerprint]attestation.SignedAttestation),
		batches:      make(map[uint64]store.Batch),
		memberBatch:  make(map[types.Fingerprint]uint64),
		trust:        make(map[string]store.TrustRecord),
	}
}

// Store is a mutex-guarded in-memory Store.
type Store struct {
	mu       sync.Mutex
	networks map[string]*networkState
	pub      store.Publisher
}

// New constructs an empty in-memory store. pub may be nil.
func New(pub store.Publisher) *Store {
	return &Store{networks: make(map[string]*networkState), pub: pub}
}

func (s *Store) network(id string) *networkState {
	n, ok := s.networks[id]
	if !ok {
		n = newNetworkState()
		s.networks[id] = n
	}
	return n
}

func (s *Store) GetAttestation(_ context.Context, fp types.Fingerprint) (attestation.SignedAttestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.networks {
		if a, ok := n.attestations[fp]; ok {
			return a, nil
		}
	}
	return attestation.SignedAttestation{}, store.ErrNotFound
}

func (s *Store) PutAttestationIfAbsent(ctx context.Context, fp types.Fingerprint, signed attestation.SignedAttestation, nextSeqAfter uint64) (attestation.SignedAttestation, bool, error) {
	s.mu.Lock()
	n := s.network(signed.Attestation.NetworkID)
	if existing, ok := n.attestations[fp]; ok {
		s.mu.Unlock()
		return existing, false, nil
	}
	n.attestations[fp] = signed
	n.nextSeq = nextSeqAfter
	s.mu.Unlock()

	if s.pub != nil {
		s.pub.PublishAttestationCommitted(ctx, signed)
	}
	return signed, true, nil
}

func (s *Store) LatestSeq(_ context.Context, networkID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network(networkID).nextSeq, nil
}

func (s *Store) LatestBatchID(_ context.Context, networkID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.network(networkID)
	var max uint64
	for id := range n.batches {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (s *Store) PutBatch(_ context.Context, batch store.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.network(batch.NetworkID)
	n.batches[batch.ID] = batch
	for _, m := range batch.Members {
		n.memberBatch[m] = batch.ID
	}
	return nil
}

func (s *Store) GetBatch(_ context.Context, networkID string, batchID uint64) (store.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.network(networkID).batches[batchID]
	if !ok {
		return store.Batch{}, store.ErrNotFound
	}
	return b, nil
}

func (s *Store) GetBatchContaining(_ context.Context, networkID string, fp types.Fingerprint) (store.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.network(networkID)
	id, ok := n.memberBatch[fp]
	if !ok {
		return store.Batch{}, store.ErrNotFound
	}
	return n.batches[id], nil
}

func (s *Store) AppendCrossAnchor(_ context.Context, networkID string, batchID uint64, anchor store.CrossAnchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.network(networkID)
	b, ok := n.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	for _, existing := range b.CrossAnchors {
		if existing.PeerNetworkID == anchor.PeerNetworkID {
			return nil // idempotent
		}
	}
	b.CrossAnchors = append(b.CrossAnchors, anchor)
	n.batches[batchID] = b
	return nil
}

func (s *Store) TrustRecords(_ context.Context, networkID string) ([]store.TrustRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.network(networkID)
	records := make([]store.TrustRecord, 0, len(n.trust))
	for _, r := range n.trust {
		records = append(records, r)
	}
	return records, nil
}

func (s *Store) PutTrustRecord(_ context.Context, networkID string, record store.TrustRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.network(networkID).trust[record.SubjectID] = record
	return nil
}

func (s *Store) SetTrustStatus(_ context.Context, networkID, subjectID string, status store.TrustStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.network(networkID)
	r, ok := n.trust[subjectID]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	n.trust[subjectID] = r
	return nil
}

func (s *Store) Stats(_ context.Context, networkID string) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.network(networkID)
	cutoff := uint64(time.Now().Add(-24 * time.Hour).Unix())
	var recent uint64
	for _, a := range n.attestations {
		if a.Attestation.UnixSeconds >= cutoff {
			recent++
		}
	}
	return store.Stats{
		TotalAttestations: uint64(len(n.attestations)),
		Attestations24h:   recent,
		TotalBatches:      uint64(len(n.batches)),
	}, nil
}

func (s *Store) RecentAttestations(_ context.Context, networkID string, limit int) ([]attestation.SignedAttestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.network(networkID)
	out := make([]attestation.SignedAttestation, 0, len(n.attestations))
	for _, a := range n.attestations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Attestation.Sequence > out[j].Attestation.Sequence
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close() {}
