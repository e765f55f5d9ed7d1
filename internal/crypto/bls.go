package crypto

import (
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

const (
	blsPublicKeySize = 48
	blsSignatureSize = 96
)

// blsDST is the domain separation tag for BLS signatures over the
// attestation payload.
var blsDST = []byte("WITNESS_BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// blsScheme wraps github.com/supranational/blst for BLS12-381 signing and
// fast (non-proof-of-possession) aggregation.
type blsScheme struct{}

func (blsScheme) Type() SchemeType { return BLS }

func (blsScheme) PublicKeySize() int { return blsPublicKeySize }

func (blsScheme) SignatureSize() int { return blsSignatureSize }

func (blsScheme) Generate() (pub, priv []byte, err error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, nil, fmt.Errorf("bls: generate seed: %w", err)
	}
	secret := blst.KeyGen(ikm[:])
	if secret == nil {
		return nil, nil, fmt.Errorf("bls: key generation failed")
	}
	public := new(blst.P1Affine).From(secret)
	return public.Compress(), secret.Serialize(), nil
}

func (blsScheme) Sign(priv, payload []byte) ([]byte, error) {
	secret := new(blst.SecretKey).Deserialize(priv)
	if secret == nil {
		return nil, fmt.Errorf("bls: invalid private key encoding")
	}
	sig := new(blst.P2Affine).Sign(secret, payload, blsDST)
	if sig == nil {
		return nil, fmt.Errorf("bls: sign failed")
	}
	return sig.Compress(), nil
}

func (blsScheme) Verify(pub, payload, sig []byte) bool {
	if len(pub) != blsPublicKeySize || len(sig) != blsSignatureSize {
		return false
	}
	pk := new(blst.P1Affine).Uncompress(pub)
	if pk == nil {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	return s.Verify(true, pk, true, payload, blsDST)
}

// Aggregate combines multiple BLS signatures over the same message into
// a single 96-byte compressed signature.
func (blsScheme) Aggregate(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, fmt.Errorf("bls: no signatures to aggregate")
	}
	parsed := make([]*blst.P2Affine, len(sigs))
	for i, s := range sigs {
		if len(s) != blsSignatureSize {
			return nil, fmt.Errorf("bls: invalid signature size at index %d", i)
		}
		p := new(blst.P2Affine).Uncompress(s)
		if p == nil {
			return nil, fmt.Errorf("bls: invalid signature at index %d", i)
		}
		parsed[i] = p
	}
	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(parsed, true) {
		return nil, fmt.Errorf("bls: aggregation failed")
	}
	return agg.ToAffine().Compress(), nil
}

// AggregatePublicKeys combines multiple BLS public keys, used only to
// verify a previously-assembled aggregate against the set of keys that
// contributed to it (never over wire-learned keys — see rogue-key note
// on AggregatingScheme).
func (blsScheme) AggregatePublicKeys(pubs [][]byte) ([]byte, error) {
	if len(pubs) == 0 {
		return nil, fmt.Errorf("bls: no public keys to aggregate")
	}
	parsed := make([]*blst.P1Affine, len(pubs))
	for i, p := range pubs {
		if len(p) != blsPublicKeySize {
			return nil, fmt.Errorf("bls: invalid public key size at index %d", i)
		}
		pk := new(blst.P1Affine).Uncompress(p)
		if pk == nil {
			return nil, fmt.Errorf("bls: invalid public key at index %d", i)
		}
		parsed[i] = pk
	}
	agg := new(blst.P1Aggregate)
	if !agg.Aggregate(parsed, true) {
		return nil, fmt.Errorf("bls: public key aggregation failed")
	}
	return agg.ToAffine().Compress(), nil
}

func (s blsScheme) VerifyAggregate(aggPub, payload, aggSig []byte) bool {
	return s.Verify(aggPub, payload, aggSig)
}
