package crypto

import "testing"

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	s, err := New(Ed25519)
	if err != nil {
		t.Fatalf("New(Ed25519): %v", err)
	}
	pub, priv, err := s.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	payload := []byte("attestation payload")
	sig, err := s.Sign(priv, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !s.Verify(pub, payload, sig) {
		t.Fatalf("expected signature to verify")
	}
	if s.Verify(pub, []byte("tampered"), sig) {
		t.Fatalf("expected verification of tampered payload to fail")
	}
}

func TestBLSSignVerifyAndAggregate(t *testing.T) {
	s, err := New(BLS)
	if err != nil {
		t.Fatalf("New(BLS): %v", err)
	}
	agg, ok := s.(AggregatingScheme)
	if !ok {
		t.Fatalf("expected BLS scheme to implement AggregatingScheme")
	}

	payload := []byte("attestation payload")
	const n = 3
	pubs := make([][]byte, n)
	sigs := make([][]byte, n)
	for i := 0; i < n; i++ {
		pub, priv, err := s.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		sig, err := s.Sign(priv, payload)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if !s.Verify(pub, payload, sig) {
			t.Fatalf("individual signature %d failed to verify", i)
		}
		pubs[i] = pub
		sigs[i] = sig
	}

	aggSig, err := agg.Aggregate(sigs)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(aggSig) != s.SignatureSize() {
		t.Fatalf("aggregate signature size = %d, want %d", len(aggSig), s.SignatureSize())
	}

	aggPub, err := agg.AggregatePublicKeys(pubs)
	if err != nil {
		t.Fatalf("AggregatePublicKeys: %v", err)
	}
	if !agg.VerifyAggregate(aggPub, payload, aggSig) {
		t.Fatalf("expected aggregate signature to verify")
	}
}

func TestUnknownScheme(t *testing.T) {
	if _, err := New("unknown"); err == nil {
		t.Fatalf("expected error for unknown scheme")
	}
}
