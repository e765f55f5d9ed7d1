package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/shared/types"
)

// PostgresStore implements Store over a tuned pgxpool.Pool.
// PutAttestationIfAbsent is the atomicity arbiter spec.md §9 mandates: it
// locks the network's sequence row FOR UPDATE, then performs a single
// INSERT ... ON CONFLICT (fingerprint) DO NOTHING RETURNING, so a crash
// between counter advance and insert commit cannot happen — both are
// one transaction.
type PostgresStore struct {
	db  *DB
	pub Publisher
}

// NewPostgresStore wraps db as a Store, publishing attestation.committed
// events through pub (may be nil).
func NewPostgresStore(db *DB, pub Publisher) *PostgresStore {
	return &PostgresStore{db: db, pub: pub}
}

func (s *PostgresStore) GetAttestation(ctx context.Context, fp types.Fingerprint) (attestation.SignedAttestation, error) {
	var (
		networkID   string
		unixSeconds int64
		sequence    int64
		sigJSON     []byte
	)
	err := s.db.Pool.QueryRow(ctx, `
		SELECT network_id, unix_seconds, sequence, signatures
		FROM witness.attestations WHERE fingerprint = $1
	`, fp[:]).Scan(&networkID, &unixSeconds, &sequence, &sigJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return attestation.SignedAttestation{}, ErrNotFound
		}
		return attestation.SignedAttestation{}, fmt.Errorf("store: get attestation: %w", err)
	}

	var bundle attestation.SignatureBundle
	if err := json.Unmarshal(sigJSON, &bundle); err != nil {
		return attestation.SignedAttestation{}, fmt.Errorf("store: decode signatures: %w", err)
	}

	return attestation.SignedAttestation{
		Attestation: attestation.Attestation{
			Fingerprint: fp,
			UnixSeconds: uint64(unixSeconds),
			NetworkID:   networkID,
			Sequence:    uint64(sequence),
		},
		Signatures: bundle,
	}, nil
}

func (s *PostgresStore) PutAttestationIfAbsent(ctx context.Context, fp types.Fingerprint, signed attestation.SignedAttestation, nextSeqAfter uint64) (attestation.SignedAttestation, bool, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return attestation.SignedAttestation{}, false, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	networkID := signed.Attestation.NetworkID

	// Lock the sequence row first so concurrent writers for the same
	// network serialize here, before touching the attestation table.
	if _, err := tx.Exec(ctx, `
		INSERT INTO witness.network_sequences (network_id, next_seq) VALUES ($1, 0)
		ON CONFLICT (network_id) DO NOTHING
	`, networkID); err != nil {
		return attestation.SignedAttestation{}, false, fmt.Errorf("store: seed sequence row: %w", err)
	}
	var currentSeq int64
	if err := tx.QueryRow(ctx, `
		SELECT next_seq FROM witness.network_sequences WHERE network_id = $1 FOR UPDATE
	`, networkID).Scan(&currentSeq); err != nil {
		return attestation.SignedAttestation{}, false, fmt.Errorf("store: lock sequence row: %w", err)
	}

	sigJSON, err := json.Marshal(signed.Signatures)
	if err != nil {
		return attestation.SignedAttestation{}, false, fmt.Errorf("store: encode signatures: %w", err)
	}

	var inserted bool
	row := tx.QueryRow(ctx, `
		INSERT INTO witness.attestations (fingerprint, network_id, unix_seconds, sequence, signatures)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING true
	`, fp[:], networkID, int64(signed.Attestation.UnixSeconds), int64(signed.Attestation.Sequence), sigJSON)
	if scanErr := row.Scan(&inserted); scanErr != nil {
		if scanErr != pgx.ErrNoRows {
			return attestation.SignedAttestation{}, false, fmt.Errorf("store: insert attestation: %w", scanErr)
		}
		// No row returned: fingerprint already exists. Fetch it within
		// the same transaction for a consistent read.
		var (
			existingNetwork string
			existingUnix    int64
			existingSeq     int64
			existingSig     []byte
		)
		if err := tx.QueryRow(ctx, `
			SELECT network_id, unix_seconds, sequence, signatures FROM witness.attestations WHERE fingerprint = $1
		`, fp[:]).Scan(&existingNetwork, &existingUnix, &existingSeq, &existingSig); err != nil {
			return attestation.SignedAttestation{}, false, fmt.Errorf("store: read existing attestation: %w", err)
		}
		var bundle attestation.SignatureBundle
		if err := json.Unmarshal(existingSig, &bundle); err != nil {
			return attestation.SignedAttestation{}, false, fmt.Errorf("store: decode existing signatures: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return attestation.SignedAttestation{}, false, fmt.Errorf("store: commit: %w", err)
		}
		return attestation.SignedAttestation{
			Attestation: attestation.Attestation{
				Fingerprint: fp,
				UnixSeconds: uint64(existingUnix),
				NetworkID:   existingNetwork,
				Sequence:    uint64(existingSeq),
			},
			Signatures: bundle,
		}, false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE witness.network_sequences SET next_seq = $2 WHERE network_id = $1
	`, networkID, int64(nextSeqAfter)); err != nil {
		return attestation.SignedAttestation{}, false, fmt.Errorf("store: advance sequence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return attestation.SignedAttestation{}, false, fmt.Errorf("store: commit: %w", err)
	}

	if s.pub != nil {
		s.pub.PublishAttestationCommitted(ctx, signed)
	}
	return signed, true, nil
}

func (s *PostgresStore) LatestSeq(ctx context.Context, networkID string) (uint64, error) {
	var seq int64
	err := s.db.Pool.QueryRow(ctx, `SELECT next_seq FROM witness.network_sequences WHERE network_id = $1`, networkID).Scan(&seq)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: latest seq: %w", err)
	}
	return uint64(seq), nil
}

func (s *PostgresStore) LatestBatchID(ctx context.Context, networkID string) (uint64, error) {
	var id *int64
	err := s.db.Pool.QueryRow(ctx, `
		SELECT MAX(batch_id) FROM witness.batches WHERE network_id = $1
	`, networkID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: latest batch id: %w", err)
	}
	if id == nil {
		return 0, nil
	}
	return uint64(*id), nil
}

func (s *PostgresStore) PutBatch(ctx context.Context, batch Batch) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var closedAt interface{}
	if !batch.ClosedAt.IsZero() {
		closedAt = batch.ClosedAt
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO witness.batches (network_id, batch_id, opened_at, closed_at, merkle_root)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (network_id, batch_id) DO UPDATE SET closed_at = EXCLUDED.closed_at, merkle_root = EXCLUDED.merkle_root
	`, batch.NetworkID, int64(batch.ID), batch.OpenedAt, closedAt, batch.MerkleRoot[:]); err != nil {
		return fmt.Errorf("store: insert batch: %w", err)
	}

	for i, m := range batch.Members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO witness.batch_members (network_id, batch_id, fingerprint, member_order)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (network_id, batch_id, fingerprint) DO NOTHING
		`, batch.NetworkID, int64(batch.ID), m[:], i); err != nil {
			return fmt.Errorf("store: insert batch member: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetBatch(ctx context.Context, networkID string, batchID uint64) (Batch, error) {
	return s.loadBatch(ctx, networkID, batchID)
}

func (s *PostgresStore) GetBatchContaining(ctx context.Context, networkID string, fp types.Fingerprint) (Batch, error) {
	var batchID int64
	err := s.db.Pool.QueryRow(ctx, `
		SELECT batch_id FROM witness.batch_members WHERE network_id = $1 AND fingerprint = $2
	`, networkID, fp[:]).Scan(&batchID)
	if err == pgx.ErrNoRows {
		return Batch{}, ErrNotFound
	}
	if err != nil {
		return Batch{}, fmt.Errorf("store: find batch containing fingerprint: %w", err)
	}
	return s.loadBatch(ctx, networkID, uint64(batchID))
}

func (s *PostgresStore) loadBatch(ctx context.Context, networkID string, batchID uint64) (Batch, error) {
	var (
		opened     time.Time
		closed     *time.Time
		merkleRoot []byte
	)
	err := s.db.Pool.QueryRow(ctx, `
		SELECT opened_at, closed_at, merkle_root FROM witness.batches WHERE network_id = $1 AND batch_id = $2
	`, networkID, int64(batchID)).Scan(&opened, &closed, &merkleRoot)
	if err == pgx.ErrNoRows {
		return Batch{}, ErrNotFound
	}
	if err != nil {
		return Batch{}, fmt.Errorf("store: load batch: %w", err)
	}

	batch := Batch{ID: batchID, NetworkID: networkID, OpenedAt: opened}
	if closed != nil {
		batch.ClosedAt = *closed
	}
	copy(batch.MerkleRoot[:], merkleRoot)

	rows, err := s.db.Pool.Query(ctx, `
		SELECT fingerprint FROM witness.batch_members WHERE network_id = $1 AND batch_id = $2 ORDER BY member_order
	`, networkID, int64(batchID))
	if err != nil {
		return Batch{}, fmt.Errorf("store: load batch members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return Batch{}, fmt.Errorf("store: scan batch member: %w", err)
		}
		var fp types.Fingerprint
		copy(fp[:], raw)
		batch.Members = append(batch.Members, fp)
	}

	anchorRows, err := s.db.Pool.Query(ctx, `
		SELECT peer_network_id, peer_batch_id, signed_attestation, received_at
		FROM witness.cross_anchors WHERE network_id = $1 AND batch_id = $2
	`, networkID, int64(batchID))
	if err != nil {
		return Batch{}, fmt.Errorf("store: load cross anchors: %w", err)
	}
	defer anchorRows.Close()
	for anchorRows.Next() {
		var (
			peerNetworkID string
			peerBatchID   *int64
			signedJSON    []byte
			receivedAt    time.Time
		)
		if err := anchorRows.Scan(&peerNetworkID, &peerBatchID, &signedJSON, &receivedAt); err != nil {
			return Batch{}, fmt.Errorf("store: scan cross anchor: %w", err)
		}
		var signed attestation.SignedAttestation
		if err := json.Unmarshal(signedJSON, &signed); err != nil {
			return Batch{}, fmt.Errorf("store: decode cross anchor: %w", err)
		}
		anchor := CrossAnchor{PeerNetworkID: peerNetworkID, SignedAttestation: signed, ReceivedAt: receivedAt}
		if peerBatchID != nil {
			v := uint64(*peerBatchID)
			anchor.PeerBatchID = &v
		}
		batch.CrossAnchors = append(batch.CrossAnchors, anchor)
	}

	return batch, nil
}

func (s *PostgresStore) AppendCrossAnchor(ctx context.Context, networkID string, batchID uint64, anchor CrossAnchor) error {
	signedJSON, err := json.Marshal(anchor.SignedAttestation)
	if err != nil {
		return fmt.Errorf("store: encode cross anchor: %w", err)
	}
	var peerBatchID interface{}
	if anchor.PeerBatchID != nil {
		peerBatchID = int64(*anchor.PeerBatchID)
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO witness.cross_anchors (network_id, batch_id, peer_network_id, peer_batch_id, signed_attestation)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (network_id, batch_id, peer_network_id) DO NOTHING
	`, networkID, int64(batchID), anchor.PeerNetworkID, peerBatchID, signedJSON)
	if err != nil {
		return fmt.Errorf("store: append cross anchor: %w", err)
	}
	return nil
}

func (s *PostgresStore) TrustRecords(ctx context.Context, networkID string) ([]TrustRecord, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT subject_id, public_key, registered_at, status FROM witness.trust_records WHERE network_id = $1
	`, networkID)
	if err != nil {
		return nil, fmt.Errorf("store: list trust records: %w", err)
	}
	defer rows.Close()

	var records []TrustRecord
	for rows.Next() {
		var r TrustRecord
		var status string
		if err := rows.Scan(&r.SubjectID, &r.PublicKey, &r.RegisteredAt, &status); err != nil {
			return nil, fmt.Errorf("store: scan trust record: %w", err)
		}
		r.Status = TrustStatus(status)
		records = append(records, r)
	}
	return records, nil
}

func (s *PostgresStore) PutTrustRecord(ctx context.Context, networkID string, record TrustRecord) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO witness.trust_records (network_id, subject_id, public_key, registered_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (network_id, subject_id) DO UPDATE SET
			public_key = EXCLUDED.public_key, status = EXCLUDED.status
	`, networkID, record.SubjectID, record.PublicKey, record.RegisteredAt, string(record.Status))
	if err != nil {
		return fmt.Errorf("store: put trust record: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTrustStatus(ctx context.Context, networkID, subjectID string, status TrustStatus) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE witness.trust_records SET status = $3 WHERE network_id = $1 AND subject_id = $2
	`, networkID, subjectID, string(status))
	if err != nil {
		return fmt.Errorf("store: set trust status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context, networkID string) (Stats, error) {
	var stats Stats
	if err := s.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM witness.attestations WHERE network_id = $1
	`, networkID).Scan(&stats.TotalAttestations); err != nil {
		return Stats{}, fmt.Errorf("store: count attestations: %w", err)
	}

	cutoff := time.Now().Add(-24 * time.Hour).Unix()
	if err := s.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM witness.attestations WHERE network_id = $1 AND unix_seconds >= $2
	`, networkID, cutoff).Scan(&stats.Attestations24h); err != nil {
		return Stats{}, fmt.Errorf("store: count recent attestations: %w", err)
	}

	if err := s.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM witness.batches WHERE network_id = $1
	`, networkID).Scan(&stats.TotalBatches); err != nil {
		return Stats{}, fmt.Errorf("store: count batches: %w", err)
	}

	return stats, nil
}

func (s *PostgresStore) RecentAttestations(ctx context.Context, networkID string, limit int) ([]attestation.SignedAttestation, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT fingerprint, unix_seconds, sequence, signatures FROM witness.attestations
		WHERE network_id = $1 ORDER BY sequence DESC LIMIT $2
	`, networkID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list recent attestations: %w", err)
	}
	defer rows.Close()

	var out []attestation.SignedAttestation
	for rows.Next() {
		var (
			fpBytes     []byte
			unixSeconds int64
			sequence    int64
			sigJSON     []byte
		)
		if err := rows.Scan(&fpBytes, &unixSeconds, &sequence, &sigJSON); err != nil {
			return nil, fmt.Errorf("store: scan recent attestation: %w", err)
		}
		var bundle attestation.SignatureBundle
		if err := json.Unmarshal(sigJSON, &bundle); err != nil {
			return nil, fmt.Errorf("store: decode signatures: %w", err)
		}
		var fp types.Fingerprint
		copy(fp[:], fpBytes)
		out = append(out, attestation.SignedAttestation{
			Attestation: attestation.Attestation{
				Fingerprint: fp,
				UnixSeconds: uint64(unixSeconds),
				NetworkID:   networkID,
				Sequence:    uint64(sequence),
			},
			Signatures: bundle,
		})
	}
	return out, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}
