package trustboot

import (
	"bytes"
	"testing"

	"github.com/witnessnet/gateway/internal/crypto"
)

func TestGenerateAndExtractEd25519(t *testing.T) {
	identity, err := Generate("witness-1", crypto.Ed25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(identity.PublicKey) == 0 || len(identity.PrivateKey) == 0 {
		t.Fatal("expected non-empty domain keypair")
	}

	witnessID, scheme, pub, err := ExtractDomainKey(identity.CertPEM)
	if err != nil {
		t.Fatalf("ExtractDomainKey: %v", err)
	}
	if witnessID != "witness-1" {
		t.Fatalf("witnessID = %q, want witness-1", witnessID)
	}
	if scheme != crypto.Ed25519 {
		t.Fatalf("scheme = %q, want ed25519", scheme)
	}
	if !bytes.Equal(pub, identity.PublicKey) {
		t.Fatal("extracted public key does not match generated key")
	}
}

func TestGenerateAndExtractBLS(t *testing.T) {
	identity, err := Generate("witness-2", crypto.BLS)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	witnessID, scheme, pub, err := ExtractDomainKey(identity.CertPEM)
	if err != nil {
		t.Fatalf("ExtractDomainKey: %v", err)
	}
	if witnessID != "witness-2" {
		t.Fatalf("witnessID = %q, want witness-2", witnessID)
	}
	if scheme != crypto.BLS {
		t.Fatalf("scheme = %q, want bls", scheme)
	}
	if !bytes.Equal(pub, identity.PublicKey) {
		t.Fatal("extracted public key does not match generated key")
	}
}

func TestExtractDomainKeyRejectsMalformedPEM(t *testing.T) {
	if _, _, _, err := ExtractDomainKey([]byte("not a certificate")); err == nil {
		t.Fatal("expected error for malformed PEM")
	}
}
