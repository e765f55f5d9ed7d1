package witness

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/crypto"
)

func newTestServer(t *testing.T) (*Server, []byte) {
	t.Helper()
	scheme, err := crypto.New(crypto.Ed25519)
	if err != nil {
		t.Fatalf("crypto.New: %v", err)
	}
	pub, priv, err := scheme.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	server := NewServer(Config{
		WitnessID:  "w1",
		NetworkID:  "net-a",
		Scheme:     scheme,
		PrivateKey: priv,
	})
	return server, pub
}

func TestSignAcceptsValidRequest(t *testing.T) {
	server, pub := newTestServer(t)
	scheme, _ := crypto.New(crypto.Ed25519)

	req := SignRequest{
		Hash:      "a59100000000000000000000000000000000000000000000000000000000046e",
		Timestamp: time.Now().Unix(),
		NetworkID: "net-a",
		Sequence:  1,
	}
	resp, err := server.Sign(context.Background(), req)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if resp.WitnessID != "w1" {
		t.Fatalf("witness_id = %q, want w1", resp.WitnessID)
	}

	sig, err := hex.DecodeString(resp.Signature)
	if err != nil {
		t.Fatalf("decode signature hex: %v", err)
	}

	fp, _ := hexFingerprint(req.Hash)
	a := attestation.Attestation{Fingerprint: fp, UnixSeconds: uint64(req.Timestamp), NetworkID: req.NetworkID, Sequence: req.Sequence}
	if !scheme.Verify(pub, a.Encode(), sig) {
		t.Fatalf("expected signature to verify against witness public key")
	}
}

func TestSignRejectsNetworkMismatch(t *testing.T) {
	server, _ := newTestServer(t)
	req := SignRequest{
		Hash:      "a59100000000000000000000000000000000000000000000000000000000046e",
		Timestamp: time.Now().Unix(),
		NetworkID: "wrong-network",
		Sequence:  1,
	}
	if _, err := server.Sign(context.Background(), req); err == nil {
		t.Fatalf("expected rejection for mismatched network_id")
	}
}

func TestSignRejectsClockSkew(t *testing.T) {
	server, _ := newTestServer(t)
	req := SignRequest{
		Hash:      "a59100000000000000000000000000000000000000000000000000000000046e",
		Timestamp: time.Now().Add(-10 * time.Minute).Unix(),
		NetworkID: "net-a",
		Sequence:  1,
	}
	if _, err := server.Sign(context.Background(), req); err == nil {
		t.Fatalf("expected rejection for excessive clock skew")
	}
}

func TestSignRejectsMalformedFingerprint(t *testing.T) {
	server, _ := newTestServer(t)
	req := SignRequest{
		Hash:      "not-a-fingerprint",
		Timestamp: time.Now().Unix(),
		NetworkID: "net-a",
		Sequence:  1,
	}
	if _, err := server.Sign(context.Background(), req); err == nil {
		t.Fatalf("expected rejection for malformed fingerprint")
	}
}

func hexFingerprint(s string) ([32]byte, error) {
	var fp [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, err
	}
	copy(fp[:], b)
	return fp, nil
}
