package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/shared/types"
	"github.com/witnessnet/gateway/internal/store"
)

func fp(b byte) types.Fingerprint {
	var f types.Fingerprint
	f[0] = b
	return f
}

func sampleSigned(networkID string, seq uint64, f types.Fingerprint) attestation.SignedAttestation {
	return attestation.SignedAttestation{
		Attestation: attestation.Attestation{Fingerprint: f, UnixSeconds: 100, NetworkID: networkID, Sequence: seq},
	}
}

func TestPutAttestationIfAbsentIdempotent(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	f := fp(1)
	signed := sampleSigned("net-a", 1, f)

	actual, inserted, err := s.PutAttestationIfAbsent(ctx, f, signed, 1)
	if err != nil || !inserted {
		t.Fatalf("first insert: actual=%+v inserted=%v err=%v", actual, inserted, err)
	}

	again := sampleSigned("net-a", 99, f) // different sequence — must be ignored
	actual2, inserted2, err := s.PutAttestationIfAbsent(ctx, f, again, 100)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted2 {
		t.Fatalf("expected second insert to be a no-op")
	}
	if actual2.Attestation.Sequence != 1 {
		t.Fatalf("expected existing sequence 1 to be returned, got %d", actual2.Attestation.Sequence)
	}

	seq, err := s.LatestSeq(ctx, "net-a")
	if err != nil || seq != 1 {
		t.Fatalf("LatestSeq = %d, err = %v, want 1", seq, err)
	}
}

func TestPutAttestationIfAbsentConcurrent(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	f := fp(2)

	const n = 20
	var wg sync.WaitGroup
	inserted := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := s.PutAttestationIfAbsent(ctx, f, sampleSigned("net-a", uint64(i+1), f), uint64(i+1))
			if err != nil {
				t.Errorf("PutAttestationIfAbsent: %v", err)
			}
			inserted[i] = ok
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range inserted {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one goroutine to win the insert, got %d", count)
	}
}

func TestBatchAndCrossAnchorLifecycle(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	f := fp(3)

	batch := store.Batch{ID: 1, NetworkID: "net-a", Members: []types.Fingerprint{f}}
	if err := s.PutBatch(ctx, batch); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	got, err := s.GetBatchContaining(ctx, "net-a", f)
	if err != nil {
		t.Fatalf("GetBatchContaining: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("GetBatchContaining returned batch %d, want 1", got.ID)
	}

	anchor := store.CrossAnchor{PeerNetworkID: "net-b"}
	if err := s.AppendCrossAnchor(ctx, "net-a", 1, anchor); err != nil {
		t.Fatalf("AppendCrossAnchor: %v", err)
	}
	if err := s.AppendCrossAnchor(ctx, "net-a", 1, anchor); err != nil {
		t.Fatalf("AppendCrossAnchor idempotent call: %v", err)
	}

	got, _ = s.GetBatch(ctx, "net-a", 1)
	if len(got.CrossAnchors) != 1 {
		t.Fatalf("expected exactly one cross-anchor after duplicate append, got %d", len(got.CrossAnchors))
	}
}

func TestTrustRecordLifecycle(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	rec := store.TrustRecord{SubjectID: "w1", Status: store.TrustActive}
	if err := s.PutTrustRecord(ctx, "net-a", rec); err != nil {
		t.Fatalf("PutTrustRecord: %v", err)
	}
	if err := s.SetTrustStatus(ctx, "net-a", "w1", store.TrustSuspended); err != nil {
		t.Fatalf("SetTrustStatus: %v", err)
	}
	records, err := s.TrustRecords(ctx, "net-a")
	if err != nil || len(records) != 1 || records[0].Status != store.TrustSuspended {
		t.Fatalf("TrustRecords = %+v, err = %v", records, err)
	}
}
