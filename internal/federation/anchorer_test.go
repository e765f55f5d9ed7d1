package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/config"
	"github.com/witnessnet/gateway/internal/shared/types"
	"github.com/witnessnet/gateway/internal/store"
	"github.com/witnessnet/gateway/internal/store/memstore"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []string
}

func (r *recordingPublisher) PublishCrossAnchorReceived(_ context.Context, _ string, batchID uint64, peerNetworkID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, peerNetworkID)
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
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

func TestAnchorerSubmitsToActivePeerAndPersistsCrossAnchor(t *testing.T) {
	var hits int32
	peerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		signed := attestation.SignedAttestation{
			Attestation: attestation.Attestation{
				Fingerprint: types.Fingerprint{0xaa},
				UnixSeconds: 1000,
				NetworkID:   "peer-net",
				Sequence:    1,
			},
			Signatures: attestation.SignatureBundle{Kind: attestation.MultiSig},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(signed)
	}))
	defer peerServer.Close()

	st := memstore.New(nil)
	networkID := "net-a"
	if err := st.PutTrustRecord(context.Background(), networkID, store.TrustRecord{
		SubjectID: "peer-net",
		Status:    store.TrustActive,
	}); err != nil {
		t.Fatalf("PutTrustRecord: %v", err)
	}

	peers := []config.FederationPeer{{NetworkID: "peer-net", GatewayURL: peerServer.URL}}
	anchorer := New(networkID, peers, st, nil, Config{PeerTimeout: time.Second, MaxRetries: 1, QueueDepth: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	anchorer.Start(ctx)

	batch := store.Batch{ID: 1, NetworkID: networkID, ClosedAt: time.Now(), MerkleRoot: [32]byte{0x01}}
	if err := st.PutBatch(context.Background(), batch); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	anchorer.BatchClosed(networkID, batch)

	waitFor(t, func() bool { return atomic.LoadInt32(&hits) >= 1 })
	waitFor(t, func() bool {
		got, err := st.GetBatch(context.Background(), networkID, 1)
		return err == nil && len(got.CrossAnchors) == 1
	})

	got, err := st.GetBatch(context.Background(), networkID, 1)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.CrossAnchors[0].PeerNetworkID != "peer-net" {
		t.Fatalf("cross anchor peer = %q, want peer-net", got.CrossAnchors[0].PeerNetworkID)
	}
}

func TestAnchorerPublishesCrossAnchorReceivedEvent(t *testing.T) {
	peerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(attestation.SignedAttestation{
			Attestation: attestation.Attestation{NetworkID: "peer-net", Sequence: 1},
		})
	}))
	defer peerServer.Close()

	st := memstore.New(nil)
	networkID := "net-a3"
	if err := st.PutTrustRecord(context.Background(), networkID, store.TrustRecord{
		SubjectID: "peer-net",
		Status:    store.TrustActive,
	}); err != nil {
		t.Fatalf("PutTrustRecord: %v", err)
	}

	publisher := &recordingPublisher{}
	peers := []config.FederationPeer{{NetworkID: "peer-net", GatewayURL: peerServer.URL}}
	anchorer := New(networkID, peers, st, publisher, Config{PeerTimeout: time.Second, MaxRetries: 1, QueueDepth: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	anchorer.Start(ctx)

	batch := store.Batch{ID: 1, NetworkID: networkID, ClosedAt: time.Now()}
	if err := st.PutBatch(context.Background(), batch); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	anchorer.BatchClosed(networkID, batch)

	waitFor(t, func() bool { return publisher.count() == 1 })
	if publisher.published[0] != "peer-net" {
		t.Fatalf("published peer = %q, want peer-net", publisher.published[0])
	}
}

func TestAnchorerSkipsSuspendedPeer(t *testing.T) {
	var hits int32
	peerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(attestation.SignedAttestation{})
	}))
	defer peerServer.Close()

	st := memstore.New(nil)
	networkID := "net-b"
	if err := st.PutTrustRecord(context.Background(), networkID, store.TrustRecord{
		SubjectID: "peer-net",
		Status:    store.TrustSuspended,
	}); err != nil {
		t.Fatalf("PutTrustRecord: %v", err)
	}

	peers := []config.FederationPeer{{NetworkID: "peer-net", GatewayURL: peerServer.URL}}
	anchorer := New(networkID, peers, st, nil, Config{PeerTimeout: time.Second, MaxRetries: 0, QueueDepth: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	anchorer.Start(ctx)

	batch := store.Batch{ID: 1, NetworkID: networkID, ClosedAt: time.Now()}
	if err := st.PutBatch(context.Background(), batch); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	anchorer.BatchClosed(networkID, batch)

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected suspended peer to never be contacted, got %d hits", hits)
	}
}

func TestAnchorerRetriesOnFailureThenGivesUp(t *testing.T) {
	var hits int32
	peerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer peerServer.Close()

	st := memstore.New(nil)
	networkID := "net-c"
	if err := st.PutTrustRecord(context.Background(), networkID, store.TrustRecord{
		SubjectID: "peer-net",
		Status:    store.TrustActive,
	}); err != nil {
		t.Fatalf("PutTrustRecord: %v", err)
	}

	peers := []config.FederationPeer{{NetworkID: "peer-net", GatewayURL: peerServer.URL}}
	anchorer := New(networkID, peers, st, nil, Config{PeerTimeout: time.Second, MaxRetries: 2, QueueDepth: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	anchorer.Start(ctx)

	batch := store.Batch{ID: 1, NetworkID: networkID, ClosedAt: time.Now()}
	if err := st.PutBatch(context.Background(), batch); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	anchorer.BatchClosed(networkID, batch)

	waitFor(t, func() bool { return atomic.LoadInt32(&hits) == 3 }) // 1 initial + 2 retries

	got, err := st.GetBatch(context.Background(), networkID, 1)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(got.CrossAnchors) != 0 {
		t.Fatalf("expected no cross anchor persisted after exhausted retries, got %d", len(got.CrossAnchors))
	}
}
