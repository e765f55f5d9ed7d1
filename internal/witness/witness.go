// Package witness implements the stateless witness-side signing policy
// (C4). A witness holds no persistent record of prior signings; the
// gateway's quorum aggregator is the sole source of truth for sequence
// allocation and deduplication.
package witness

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/crypto"
	"github.com/witnessnet/gateway/internal/shared/types"
)

// DefaultMaxClockSkew is the default tolerance for |timestamp - now()|.
const DefaultMaxClockSkew = 300 * time.Second

// Config holds the only configuration state a witness carries: its
// signing key, network-id, and clock-skew tolerance.
type Config struct {
	WitnessID    string
	NetworkID    string
	Scheme       crypto.Scheme
	PrivateKey   []byte
	MaxClockSkew time.Duration
}

// Server signs incoming requests according to the four-step policy.
type Server struct {
	cfg Config
	now func() time.Time
}

// NewServer constructs a Server, defaulting MaxClockSkew when unset.
func NewServer(cfg Config) *Server {
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = DefaultMaxClockSkew
	}
	return &Server{cfg: cfg, now: time.Now}
}

// SignRequest is the witness-endpoint input: {hash, timestamp, network_id, sequence}.
type SignRequest struct {
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	NetworkID string `json:"network_id"`
	Sequence  uint64 `json:"sequence"`
}

// SignedResponse is the witness-endpoint output: {witness_id, signature}.
type SignedResponse struct {
	WitnessID string `json:"witness_id"`
	Signature string `json:"signature"`
}

// RejectionError names why a sign request was refused, without leaking
// cryptographic detail beyond pass/fail per spec.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

// Sign implements the four-step policy from spec §4.4:
//  1. reject if network_id mismatches
//  2. reject if |timestamp - now| exceeds MaxClockSkew
//  3. reject if the fingerprint is not exactly 32 bytes
//  4. otherwise sign the canonical encoding and return (witness_id, signature)
func (s *Server) Sign(_ context.Context, req SignRequest) (SignedResponse, error) {
	if req.NetworkID != s.cfg.NetworkID {
		return SignedResponse{}, &RejectionError{Reason: fmt.Sprintf("network_id mismatch: witness configured for %q", s.cfg.NetworkID)}
	}

	skew := s.now().Unix() - req.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > s.cfg.MaxClockSkew {
		return SignedResponse{}, &RejectionError{Reason: "timestamp outside allowed clock skew"}
	}

	fp, err := types.ParseFingerprint(req.Hash)
	if err != nil {
		return SignedResponse{}, &RejectionError{Reason: "fingerprint must be exactly 32 bytes"}
	}

	a := attestation.Attestation{
		Fingerprint: fp,
		UnixSeconds: uint64(req.Timestamp),
		NetworkID:   req.NetworkID,
		Sequence:    req.Sequence,
	}
	sig, err := s.cfg.Scheme.Sign(s.cfg.PrivateKey, a.Encode())
	if err != nil {
		return SignedResponse{}, fmt.Errorf("witness: sign: %w", err)
	}

	return SignedResponse{
		WitnessID: s.cfg.WitnessID,
		Signature: hex.EncodeToString(sig),
	}, nil
}
