package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/witnessnet/gateway/internal/merkle"
	"github.com/witnessnet/gateway/internal/shared/types"
	"github.com/witnessnet/gateway/internal/store"
	"github.com/witnessnet/gateway/internal/store/memstore"
)

type recordingListener struct {
	mu     sync.Mutex
	closed []store.Batch
}

func (r *recordingListener) BatchClosed(networkID string, batch store.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, batch)
}

func (r *recordingListener) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closed)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []uint64
}

func (r *recordingPublisher) PublishBatchClosed(_ context.Context, _ string, batchID uint64, _ [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, batchID)
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func fp(b byte) types.Fingerprint {
	var f types.Fingerprint
	f[0] = b
	f[31] = b
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestManagerClosesOnFlushWithMembers(t *testing.T) {
	st := memstore.New(nil)
	listener := &recordingListener{}
	m := New("net-a", st, listener, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Append(fp(1))
	m.Append(fp(2))
	m.Append(fp(3))
	m.Flush()

	waitFor(t, func() bool { return listener.count() == 1 })

	closed := listener.closed[0]
	if closed.ID != 1 {
		t.Fatalf("batch id = %d, want 1", closed.ID)
	}
	if len(closed.Members) != 3 {
		t.Fatalf("members = %d, want 3", len(closed.Members))
	}
	want := merkle.Build([][32]byte{[32]byte(fp(1)), [32]byte(fp(2)), [32]byte(fp(3))}).Root()
	if closed.MerkleRoot != want {
		t.Fatalf("merkle root mismatch")
	}
}

func TestManagerPublishesBatchClosedEvent(t *testing.T) {
	st := memstore.New(nil)
	publisher := &recordingPublisher{}
	m := New("net-a2", st, nil, publisher, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Append(fp(1))
	m.Flush()

	waitFor(t, func() bool { return publisher.count() == 1 })
	if publisher.published[0] != 1 {
		t.Fatalf("published batch id = %d, want 1", publisher.published[0])
	}
}

func TestManagerDoesNotEmitEmptyBatches(t *testing.T) {
	st := memstore.New(nil)
	listener := &recordingListener{}
	m := New("net-b", st, listener, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Flush()
	m.Flush()

	time.Sleep(20 * time.Millisecond)
	if listener.count() != 0 {
		t.Fatalf("expected no batches closed on empty flush, got %d", listener.count())
	}
}

func TestManagerProofLifecycle(t *testing.T) {
	st := memstore.New(nil)
	m := New("net-c", st, nil, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	target := fp(7)

	result, err := m.Proof(context.Background(), target)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if result.Status != ProofNotFound {
		t.Fatalf("status before append = %v, want NotFound", result.Status)
	}

	m.Append(fp(1))
	m.Append(target)

	result, err = m.Proof(context.Background(), target)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if result.Status != ProofPending {
		t.Fatalf("status before flush = %v, want Pending", result.Status)
	}

	m.Flush()
	waitFor(t, func() bool {
		r, err := m.Proof(context.Background(), target)
		return err == nil && r.Status == ProofReady
	})

	result, err = m.Proof(context.Background(), target)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if !merkle.VerifyProof(result.MerkleRoot, [32]byte(target), result.Proof) {
		t.Fatal("proof failed to verify against reported root")
	}
}
