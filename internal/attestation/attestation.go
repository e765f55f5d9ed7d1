// Package attestation implements the canonical binary encoding of the
// unsigned timestamp payload and the signature bundle that turns it into
// a signed attestation.
package attestation

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/witnessnet/gateway/internal/shared/types"
)

// Attestation is the unsigned payload: (fingerprint, unix_seconds,
// network_id, sequence).
type Attestation struct {
	Fingerprint types.Fingerprint
	UnixSeconds uint64
	NetworkID   string
	Sequence    uint64
}

// Encode produces the canonical big-endian, fixed-width encoding:
// fingerprint(32) || unix_seconds_u64(8) || seq_u64(8) || network_id_len_u16(2) || network_id_bytes.
func (a Attestation) Encode() []byte {
	nid := []byte(a.NetworkID)
	buf := make([]byte, 32+8+8+2+len(nid))
	copy(buf[0:32], a.Fingerprint[:])
	binary.BigEndian.PutUint64(buf[32:40], a.UnixSeconds)
	binary.BigEndian.PutUint64(buf[40:48], a.Sequence)
	binary.BigEndian.PutUint16(buf[48:50], uint16(len(nid)))
	copy(buf[50:], nid)
	return buf
}

// Decode is the exact inverse of Encode.
func Decode(b []byte) (Attestation, error) {
	var a Attestation
	if len(b) < 50 {
		return a, fmt.Errorf("attestation: encoded form too short (%d bytes)", len(b))
	}
	copy(a.Fingerprint[:], b[0:32])
	a.UnixSeconds = binary.BigEndian.Uint64(b[32:40])
	a.Sequence = binary.BigEndian.Uint64(b[40:48])
	nidLen := binary.BigEndian.Uint16(b[48:50])
	if len(b) != 50+int(nidLen) {
		return a, fmt.Errorf("attestation: network_id length mismatch, want %d trailing bytes, have %d", nidLen, len(b)-50)
	}
	a.NetworkID = string(b[50:])
	return a, nil
}

// jsonAttestation mirrors the wire field names from spec §4.3: hash,
// timestamp, network_id, sequence.
type jsonAttestation struct {
	Hash      string `json:"hash"`
	Timestamp uint64 `json:"timestamp"`
	NetworkID string `json:"network_id"`
	Sequence  uint64 `json:"sequence"`
}

// MarshalJSON round-trips through Encode/Decode so the wire form can
// never drift from the canonical binary layout that gets signed.
func (a Attestation) MarshalJSON() ([]byte, error) {
	canonical, err := Decode(a.Encode())
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonAttestation{
		Hash:      canonical.Fingerprint.String(),
		Timestamp: canonical.UnixSeconds,
		NetworkID: canonical.NetworkID,
		Sequence:  canonical.Sequence,
	})
}

func (a *Attestation) UnmarshalJSON(data []byte) error {
	var j jsonAttestation
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	fp, err := types.ParseFingerprint(j.Hash)
	if err != nil {
		return fmt.Errorf("attestation: %w", err)
	}
	candidate := Attestation{
		Fingerprint: fp,
		UnixSeconds: j.Timestamp,
		NetworkID:   j.NetworkID,
		Sequence:    j.Sequence,
	}
	roundTripped, err := Decode(candidate.Encode())
	if err != nil {
		return fmt.Errorf("attestation: failed canonical round-trip: %w", err)
	}
	*a = roundTripped
	return nil
}

// WitnessSignature is one witness's signature over an attestation's
// canonical encoding.
type WitnessSignature struct {
	WitnessID string `json:"witness_id"`
	Signature string `json:"signature"` // lowercase hex
}

// SignatureBundleKind tags which of the two shapes a SignatureBundle carries.
type SignatureBundleKind string

const (
	MultiSig   SignatureBundleKind = "multisig"
	Aggregated SignatureBundleKind = "aggregated"
)

// SignatureBundle is the tagged variant produced by the quorum aggregator:
// an ordered MultiSig set for Ed25519 networks, or a single Aggregated
// BLS signature plus its contributing signer set.
type SignatureBundle struct {
	Kind SignatureBundleKind `json:"kind"`

	// MultiSig fields (Kind == MultiSig)
	MultiSig []WitnessSignature `json:"multisig,omitempty"`

	// Aggregated fields (Kind == Aggregated)
	AggregatedSignature string   `json:"signature,omitempty"` // lowercase hex, 96 bytes
	Signers              []string `json:"signers,omitempty"`
}

// NewMultiSigBundle sorts sigs by witness_id and rejects duplicates.
func NewMultiSigBundle(sigs []WitnessSignature) (SignatureBundle, error) {
	sorted := append([]WitnessSignature(nil), sigs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WitnessID < sorted[j].WitnessID })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].WitnessID == sorted[i-1].WitnessID {
			return SignatureBundle{}, fmt.Errorf("attestation: duplicate witness_id %q in multisig bundle", sorted[i].WitnessID)
		}
	}
	return SignatureBundle{Kind: MultiSig, MultiSig: sorted}, nil
}

// NewAggregatedBundle sorts the signer list and rejects duplicates.
func NewAggregatedBundle(sigHex string, signers []string) (SignatureBundle, error) {
	sorted := append([]string(nil), signers...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return SignatureBundle{}, fmt.Errorf("attestation: duplicate signer %q in aggregated bundle", sorted[i])
		}
	}
	if _, err := hex.DecodeString(sigHex); err != nil {
		return SignatureBundle{}, fmt.Errorf("attestation: invalid aggregated signature hex: %w", err)
	}
	return SignatureBundle{Kind: Aggregated, AggregatedSignature: sigHex, Signers: sorted}, nil
}

// Count returns the number of contributing witnesses, regardless of bundle kind.
func (b SignatureBundle) Count() int {
	switch b.Kind {
	case MultiSig:
		return len(b.MultiSig)
	case Aggregated:
		return len(b.Signers)
	default:
		return 0
	}
}

// SignedAttestation is an Attestation plus the SignatureBundle that
// attests to it. Immutable after issuance.
type SignedAttestation struct {
	Attestation Attestation     `json:"attestation"`
	Signatures  SignatureBundle `json:"signatures"`
}
