package crypto

import (
	stded25519 "crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// ed25519Scheme wraps stdlib crypto/ed25519. No third-party library in the
// retrieved example corpus wraps or replaces stdlib Ed25519 with anything
// beyond a thinner or thicker copy of the same primitive (see DESIGN.md);
// stdlib is the correct, idiomatic choice here.
type ed25519Scheme struct{}

func (ed25519Scheme) Type() SchemeType { return Ed25519 }

func (ed25519Scheme) PublicKeySize() int { return stded25519.PublicKeySize }

func (ed25519Scheme) SignatureSize() int { return stded25519.SignatureSize }

func (ed25519Scheme) Generate() (pub, priv []byte, err error) {
	p, s, err := stded25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ed25519: generate key: %w", err)
	}
	return []byte(p), []byte(s), nil
}

func (ed25519Scheme) Sign(priv, payload []byte) ([]byte, error) {
	if len(priv) != stded25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519: invalid private key size %d", len(priv))
	}
	return stded25519.Sign(stded25519.PrivateKey(priv), payload), nil
}

func (ed25519Scheme) Verify(pub, payload, sig []byte) bool {
	if len(pub) != stded25519.PublicKeySize || len(sig) != stded25519.SignatureSize {
		return false
	}
	return stded25519.Verify(stded25519.PublicKey(pub), payload, sig)
}
