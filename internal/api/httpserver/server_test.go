package httpserver

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/batch"
	"github.com/witnessnet/gateway/internal/config"
	"github.com/witnessnet/gateway/internal/crypto"
	"github.com/witnessnet/gateway/internal/quorum"
	sharedconfig "github.com/witnessnet/gateway/internal/shared/config"
	"github.com/witnessnet/gateway/internal/shared/types"
	"github.com/witnessnet/gateway/internal/store"
	"github.com/witnessnet/gateway/internal/store/memstore"
	"github.com/witnessnet/gateway/internal/witness"
)

func testWitness(t *testing.T, witnessID, networkID string, scheme crypto.Scheme) (config.WitnessDescriptor, func()) {
	t.Helper()
	pub, priv, err := scheme.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := witness.NewServer(witness.Config{WitnessID: witnessID, NetworkID: networkID, Scheme: scheme, PrivateKey: priv})
	ts := httptest.NewServer(witness.NewHandler(srv).Routes())
	return config.WitnessDescriptor{WitnessID: witnessID, PublicKey: hex.EncodeToString(pub), Endpoint: ts.URL}, ts.Close
}

func fp(b byte) types.Fingerprint {
	var f types.Fingerprint
	f[0] = b
	f[31] = b
	return f
}

func newTestServer(t *testing.T) (*Server, string, func()) {
	t.Helper()
	scheme, _ := crypto.New(crypto.Ed25519)
	networkID := "net-test"

	var descriptors []config.WitnessDescriptor
	var closers []func()
	for i := 0; i < 3; i++ {
		d, closeFn := testWitness(t, "witness-"+string(rune('a'+i)), networkID, scheme)
		descriptors = append(descriptors, d)
		closers = append(closers, closeFn)
	}

	network := config.NetworkConfig{
		NetworkID:       networkID,
		SignatureScheme: crypto.Ed25519,
		Threshold:       2,
		Witnesses:       descriptors,
	}

	st := memstore.New(nil)
	for _, d := range descriptors {
		if err := st.PutTrustRecord(context.Background(), networkID, store.TrustRecord{SubjectID: d.WitnessID, Status: store.TrustActive}); err != nil {
			t.Fatalf("PutTrustRecord(%s): %v", d.WitnessID, err)
		}
	}
	client := quorum.NewWitnessClient(0, 0)
	batchMgr := batch.New(networkID, st, nil, nil, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go batchMgr.Run(ctx)

	agg, err := quorum.New(context.Background(), network, st, client, batchMgr, 8)
	if err != nil {
		t.Fatalf("quorum.New: %v", err)
	}

	srv := New(network, agg, batchMgr, st, nil, sharedconfig.AuthConfig{JWTSecret: "test-secret"})
	cleanup := func() {
		cancel()
		for _, c := range closers {
			c()
		}
	}
	return srv, networkID, cleanup
}

func TestPostTimestampAndGetTimestamp(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	f := fp(0x55)
	body, _ := json.Marshal(map[string]string{"hash": f.String()})
	resp, err := http.Post(ts.URL+"/v1/timestamp", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/timestamp: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var signed attestation.SignedAttestation
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if signed.Attestation.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", signed.Attestation.Sequence)
	}

	getResp, err := http.Get(ts.URL + "/v1/timestamp/" + f.String())
	if err != nil {
		t.Fatalf("GET /v1/timestamp: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", getResp.StatusCode)
	}
}

func TestGetTimestampNotFound(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	f := fp(0x99)
	resp, err := http.Get(ts.URL + "/v1/timestamp/" + f.String())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPostVerifyRejectsUnknownNetwork(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	signed := attestation.SignedAttestation{
		Attestation: attestation.Attestation{Fingerprint: fp(0x66), NetworkID: "other-network", Sequence: 1},
		Signatures:  attestation.SignatureBundle{Kind: attestation.MultiSig},
	}
	body, _ := json.Marshal(signed)
	resp, err := http.Post(ts.URL+"/v1/verify", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/verify: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Valid {
		t.Fatal("expected valid=false for an attestation from an unknown network")
	}
}

func TestProofLifecycleOverHTTP(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	f := fp(0x77)
	body, _ := json.Marshal(map[string]string{"hash": f.String()})
	if _, err := http.Post(ts.URL+"/v1/timestamp", "application/json", bytes.NewReader(body)); err != nil {
		t.Fatalf("POST /v1/timestamp: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/v1/proof/" + f.String())
		if err != nil {
			t.Fatalf("GET /v1/proof: %v", err)
		}
		if resp.StatusCode == http.StatusOK {
			var out proofResponse
			json.NewDecoder(resp.Body).Decode(&out)
			resp.Body.Close()
			if out.Status == "ready" {
				return
			}
			continue
		}
		resp.Body.Close()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("proof never became ready")
}

func TestFederationStatusPartialUntilThresholdMet(t *testing.T) {
	srv, networkID, cleanup := newTestServer(t)
	defer cleanup()
	srv.network.Federation = []config.FederationPeer{
		{NetworkID: "peer-1", GatewayURL: "http://peer-1.invalid"},
		{NetworkID: "peer-2", GatewayURL: "http://peer-2.invalid"},
	}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	f := fp(0x88)
	body, _ := json.Marshal(map[string]string{"hash": f.String()})
	if _, err := http.Post(ts.URL+"/v1/timestamp", "application/json", bytes.NewReader(body)); err != nil {
		t.Fatalf("POST /v1/timestamp: %v", err)
	}

	var b store.Batch
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		b, err = srv.store.GetBatchContaining(context.Background(), networkID, f)
		if err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if b.ID == 0 {
		t.Fatal("fingerprint was never committed into a batch")
	}

	resp, err := http.Get(ts.URL + "/v1/anchors/" + f.String())
	if err != nil {
		t.Fatalf("GET /v1/anchors: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		FederationStatus string `json:"federation_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.FederationStatus != "closed, partially federated" {
		t.Fatalf("federation_status = %q, want %q with no cross-anchors yet", out.FederationStatus, "closed, partially federated")
	}

	if err := srv.store.AppendCrossAnchor(context.Background(), networkID, b.ID, store.CrossAnchor{PeerNetworkID: "peer-1"}); err != nil {
		t.Fatalf("AppendCrossAnchor: %v", err)
	}
	if err := srv.store.AppendCrossAnchor(context.Background(), networkID, b.ID, store.CrossAnchor{PeerNetworkID: "peer-2"}); err != nil {
		t.Fatalf("AppendCrossAnchor: %v", err)
	}

	resp2, err := http.Get(ts.URL + "/v1/anchors/" + f.String())
	if err != nil {
		t.Fatalf("GET /v1/anchors: %v", err)
	}
	defer resp2.Body.Close()
	if err := json.NewDecoder(resp2.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.FederationStatus != "federated" {
		t.Fatalf("federation_status = %q, want federated once every peer has anchored", out.FederationStatus)
	}
}

func TestStatsAndRecentReflectIssuedAttestations(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	for _, b := range []byte{0x11, 0x12, 0x13} {
		body, _ := json.Marshal(map[string]string{"hash": fp(b).String()})
		if _, err := http.Post(ts.URL+"/v1/timestamp", "application/json", bytes.NewReader(body)); err != nil {
			t.Fatalf("POST /v1/timestamp: %v", err)
		}
	}

	statsResp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer statsResp.Body.Close()
	var stats statsResponse
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalAttestations != 3 {
		t.Fatalf("total_attestations = %d, want 3", stats.TotalAttestations)
	}
	if stats.Attestations24h != 3 {
		t.Fatalf("attestations_24h = %d, want 3", stats.Attestations24h)
	}
	if stats.FederationEnabled {
		t.Fatal("federation_enabled = true, want false with no configured peers")
	}

	recentResp, err := http.Get(ts.URL + "/v1/recent")
	if err != nil {
		t.Fatalf("GET /v1/recent: %v", err)
	}
	defer recentResp.Body.Close()
	var recent []recentAttestationDTO
	if err := json.NewDecoder(recentResp.Body).Decode(&recent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent = %d entries, want 3", len(recent))
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].Sequence > recent[i-1].Sequence {
			t.Fatalf("recent attestations not ordered newest-first: %+v", recent)
		}
	}
}

func TestListWitnesses(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	// newTestServer already registers all three witnesses as active,
	// mirroring what a gateway process does for its configured
	// witnesses at startup.
	resp, err := http.Get(ts.URL + "/v1/witnesses")
	if err != nil {
		t.Fatalf("GET /v1/witnesses: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out []witnessDTO
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("unexpected witnesses list: %+v", out)
	}
	for _, w := range out {
		if w.Status != string(store.TrustActive) {
			t.Fatalf("witness %q status = %q, want active", w.WitnessID, w.Status)
		}
	}
}

func TestSuspendWitnessRequiresAuth(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/witnesses/witness-a/suspend", "application/json", nil)
	if err != nil {
		t.Fatalf("POST suspend: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a bearer token", resp.StatusCode)
	}
}
