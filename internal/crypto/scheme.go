// Package crypto exposes the two signature schemes a network can be
// configured with — Ed25519 and BLS12-381 — behind a single polymorphic
// contract so the quorum aggregator never branches on scheme identity.
package crypto

import "fmt"

// SchemeType names a supported signature scheme.
type SchemeType string

const (
	Ed25519 SchemeType = "ed25519"
	BLS     SchemeType = "bls"
)

// Scheme is the capability every signature scheme provides: key
// generation, signing, and verification over an opaque payload. The
// payload is always the canonical attestation encoding, never a wire
// form, so verifiers reconstruct it bit-exactly.
type Scheme interface {
	Type() SchemeType
	Generate() (pub, priv []byte, err error)
	Sign(priv, payload []byte) ([]byte, error)
	Verify(pub, payload, sig []byte) bool
	PublicKeySize() int
	SignatureSize() int
}

// AggregatingScheme is additionally implemented by schemes that support
// signature aggregation (BLS). Aggregation is fast, non-proof-of-possession
// aggregation over a single shared message; callers are responsible for
// only ever aggregating over keys enumerated in the network config at
// startup, never keys learned at runtime, to avoid rogue-key attacks.
type AggregatingScheme interface {
	Scheme
	Aggregate(sigs [][]byte) ([]byte, error)
	AggregatePublicKeys(pubs [][]byte) ([]byte, error)
	VerifyAggregate(aggPub, payload, aggSig []byte) bool
}

// New returns the Scheme implementation for the given type.
func New(t SchemeType) (Scheme, error) {
	switch t {
	case Ed25519:
		return ed25519Scheme{}, nil
	case BLS:
		return blsScheme{}, nil
	default:
		return nil, fmt.Errorf("crypto: unknown scheme %q", t)
	}
}
