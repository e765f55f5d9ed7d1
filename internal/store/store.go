// Package store defines the persistence contract (C8): a transactional
// mapping from fingerprint to signed attestation, and from batch-id to
// {root, members, cross-anchors}, plus the per-network trust record set
// described in SPEC_FULL.md §3.1.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/shared/types"
)

// ErrNotFound is returned by lookups that find nothing, distinct from a
// store-unavailable failure.
var ErrNotFound = errors.New("store: not found")

// Batch is a closed (or, transiently, still-accumulating) set of
// attestations summarized by a merkle root.
type Batch struct {
	ID           uint64
	NetworkID    string
	OpenedAt     time.Time
	ClosedAt     time.Time // zero value while open
	MerkleRoot   [32]byte
	Members      []types.Fingerprint // ordered by sequence assignment
	CrossAnchors []CrossAnchor
}

// CrossAnchor is a signed attestation issued by a peer network over this
// network's batch root.
type CrossAnchor struct {
	PeerNetworkID     string
	PeerBatchID       *uint64
	SignedAttestation attestation.SignedAttestation
	ReceivedAt        time.Time
}

// TrustStatus names a witness's or peer's current standing.
type TrustStatus string

const (
	TrustActive    TrustStatus = "active"
	TrustSuspended TrustStatus = "suspended"
	TrustRevoked   TrustStatus = "revoked"
)

// TrustRecord tracks a witness or peer network's standing, additive to
// NetworkConfig: a suspended/revoked witness is skipped during fan-out
// even though its key remains valid for verifying already-issued
// attestations.
type TrustRecord struct {
	SubjectID    string
	PublicKey    []byte
	RegisteredAt time.Time
	Status       TrustStatus
}

// Stats aggregates the counters the admin dashboard's GET /v1/stats
// reports for one network.
type Stats struct {
	TotalAttestations uint64
	Attestations24h   uint64
	TotalBatches      uint64
}

// Publisher is the narrow interface store implementations use to emit
// attestation.committed events, satisfied by internal/eventbus.Bus.
type Publisher interface {
	PublishAttestationCommitted(ctx context.Context, signed attestation.SignedAttestation)
}

// Store is the persistence contract every operation in spec.md §4.8 maps
// to, one method each.
type Store interface {
	// GetAttestation returns the signed attestation for fp, or ErrNotFound.
	GetAttestation(ctx context.Context, fp types.Fingerprint) (attestation.SignedAttestation, error)

	// PutAttestationIfAbsent inserts fp's signed attestation and advances
	// the network's sequence counter to nextSeqAfter, atomically. If fp
	// already exists, the existing record is returned unchanged and the
	// counter is left untouched; inserted reports which happened.
	PutAttestationIfAbsent(ctx context.Context, fp types.Fingerprint, signed attestation.SignedAttestation, nextSeqAfter uint64) (actual attestation.SignedAttestation, inserted bool, err error)

	// LatestSeq returns the current per-network sequence counter value.
	LatestSeq(ctx context.Context, networkID string) (uint64, error)

	// LatestBatchID returns the highest persisted batch id for a network,
	// or 0 if none exists yet.
	LatestBatchID(ctx context.Context, networkID string) (uint64, error)

	// PutBatch inserts a closed batch atomically with its members.
	PutBatch(ctx context.Context, batch Batch) error

	// GetBatch looks up a batch by network and id.
	GetBatch(ctx context.Context, networkID string, batchID uint64) (Batch, error)

	// GetBatchContaining finds the batch a fingerprint was committed into.
	GetBatchContaining(ctx context.Context, networkID string, fp types.Fingerprint) (Batch, error)

	// AppendCrossAnchor idempotently appends a cross-anchor keyed by
	// (batch_id, peer_network_id).
	AppendCrossAnchor(ctx context.Context, networkID string, batchID uint64, anchor CrossAnchor) error

	// TrustRecords lists all trust records for a network.
	TrustRecords(ctx context.Context, networkID string) ([]TrustRecord, error)

	// PutTrustRecord upserts a trust record.
	PutTrustRecord(ctx context.Context, networkID string, record TrustRecord) error

	// SetTrustStatus transitions a trust record's status.
	SetTrustStatus(ctx context.Context, networkID, subjectID string, status TrustStatus) error

	// Stats returns aggregate attestation/batch counters for the admin
	// dashboard.
	Stats(ctx context.Context, networkID string) (Stats, error)

	// RecentAttestations returns the most recently issued attestations
	// for networkID, newest sequence first, capped at limit.
	RecentAttestations(ctx context.Context, networkID string, limit int) ([]attestation.SignedAttestation, error)

	Close()
}
