// Package quorum implements the gateway's quorum aggregation state
// machine (C5): fan-out to witnesses, threshold collection under a
// deadline, deduplication, and sequencing.
package quorum

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/witnessnet/gateway/internal/apperr"
	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/config"
	"github.com/witnessnet/gateway/internal/crypto"
	"github.com/witnessnet/gateway/internal/shared/metrics"
	"github.com/witnessnet/gateway/internal/shared/types"
	"github.com/witnessnet/gateway/internal/store"
	"github.com/witnessnet/gateway/internal/witness"
)

// DefaultWitnessTimeout and DefaultTotalTimeout are T_witness/T_total
// from spec §4.5.
const (
	DefaultWitnessTimeout = 2 * time.Second
	DefaultTotalTimeout   = 5 * time.Second
)

// BatchAppender is the C6 side of the C5->C6 handoff: enqueue a freshly
// committed fingerprint into the network's currently open batch.
type BatchAppender interface {
	Append(fp types.Fingerprint)
}

// Aggregator runs the quorum state machine for exactly one network.
// One Aggregator is constructed per configured network.
type Aggregator struct {
	network config.NetworkConfig
	scheme  crypto.Scheme
	st      store.Store
	client  *WitnessClient
	batch   BatchAppender
	now     func() time.Time

	shards *shardLock

	networkMu sync.Mutex // guards nextSeq; see DESIGN.md for the atomicity tradeoff
	nextSeq   uint64
}

// New constructs an Aggregator for network, seeding its sequence cache
// from the store's persisted counter.
func New(ctx context.Context, network config.NetworkConfig, st store.Store, client *WitnessClient, batch BatchAppender, lockShards int) (*Aggregator, error) {
	scheme, err := crypto.New(network.SignatureScheme)
	if err != nil {
		return nil, fmt.Errorf("quorum: %w", err)
	}
	seq, err := st.LatestSeq(ctx, network.NetworkID)
	if err != nil {
		return nil, fmt.Errorf("quorum: load latest sequence: %w", err)
	}
	return &Aggregator{
		network: network,
		scheme:  scheme,
		st:      st,
		client:  client,
		batch:   batch,
		now:     time.Now,
		shards:  newShardLock(lockShards),
		nextSeq: seq,
	}, nil
}

type collected struct {
	witnessID string
	signature []byte
}

// Timestamp implements the 7-step state machine from spec §4.5.
func (a *Aggregator) Timestamp(ctx context.Context, fp types.Fingerprint) (attestation.SignedAttestation, error) {
	unlock := a.shards.Lock(fp)
	defer unlock()

	// 1. Dedup probe.
	existing, err := a.st.GetAttestation(ctx, fp)
	if err == nil {
		return existing, nil
	}
	if err != store.ErrNotFound {
		return attestation.SignedAttestation{}, apperr.StoreUnavailable(err)
	}

	// 2. Allocation. Held for the whole fan-out+persist window so the
	// per-network sequence stays dense with no gaps (see DESIGN.md).
	a.networkMu.Lock()
	defer a.networkMu.Unlock()

	seq := a.nextSeq + 1
	unixSeconds := uint64(a.now().Unix())

	fanoutStart := time.Now()

	// 3-4. Fan-out and threshold collection.
	bundle, err := a.fanOutAndCollect(ctx, fp, unixSeconds, seq)
	metrics.RecordWitnessFanout(a.network.NetworkID, time.Since(fanoutStart))
	if err != nil {
		metrics.RecordTimestampFailed(a.network.NetworkID, "insufficient_signatures")
		return attestation.SignedAttestation{}, err
	}

	signed := attestation.SignedAttestation{
		Attestation: attestation.Attestation{
			Fingerprint: fp,
			UnixSeconds: unixSeconds,
			NetworkID:   a.network.NetworkID,
			Sequence:    seq,
		},
		Signatures: bundle,
	}

	// 6. Persist and emit.
	actual, inserted, err := a.st.PutAttestationIfAbsent(ctx, fp, signed, seq)
	if err != nil {
		return attestation.SignedAttestation{}, apperr.StoreUnavailable(err)
	}
	if !inserted {
		// Another process committed it first; nextSeq is left untouched.
		return actual, nil
	}
	a.nextSeq = seq

	if a.batch != nil {
		a.batch.Append(fp)
	}

	metrics.RecordTimestampIssued(a.network.NetworkID, string(a.network.SignatureScheme))
	return signed, nil
}

// fanOutAndCollect issues concurrent signing requests to every active witness,
// returning as soon as threshold distinct valid signatures are held.
func (a *Aggregator) fanOutAndCollect(ctx context.Context, fp types.Fingerprint, unixSeconds, seq uint64) (attestation.SignatureBundle, error) {
	total := DefaultTotalTimeout
	totalCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	req := witness.SignRequest{
		Hash:      fp.String(),
		Timestamp: int64(unixSeconds),
		NetworkID: a.network.NetworkID,
		Sequence:  seq,
	}
	payload := attestation.Attestation{
		Fingerprint: fp,
		UnixSeconds: unixSeconds,
		NetworkID:   a.network.NetworkID,
		Sequence:    seq,
	}.Encode()

	witnesses := a.activeWitnesses(ctx)

	results := make(chan collected, len(witnesses))
	var wg sync.WaitGroup

	for _, w := range witnesses {
		wg.Add(1)
		go func(w config.WitnessDescriptor) {
			defer wg.Done()
			witnessCtx, witnessCancel := context.WithTimeout(totalCtx, DefaultWitnessTimeout)
			defer witnessCancel()

			resp, err := a.client.Sign(witnessCtx, w.WitnessID, w.Endpoint, req)
			if err != nil {
				return
			}
			sig, err := hex.DecodeString(resp.Signature)
			if err != nil {
				return
			}
			pub, err := w.PublicKeyBytes()
			if err != nil {
				return
			}
			if !a.scheme.Verify(pub, payload, sig) {
				return
			}
			select {
			case results <- collected{witnessID: w.WitnessID, signature: sig}:
			case <-totalCtx.Done():
			}
		}(w)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	valid := make(map[string][]byte)
	for {
		select {
		case r, ok := <-results:
			if !ok {
				return a.assembleOrFail(valid)
			}
			if _, dup := valid[r.witnessID]; !dup {
				valid[r.witnessID] = r.signature
				metrics.RecordWitnessSignature(a.network.NetworkID, r.witnessID)
			}
			if len(valid) >= a.network.Threshold {
				cancel() // cancel outstanding in-flight requests
				return a.assembleFromValid(valid)
			}
		case <-totalCtx.Done():
			return a.assembleOrFail(valid)
		}
	}
}

// activeWitnesses filters the network's configured witnesses down to
// those currently marked active in the trust record set, mirroring
// internal/federation.Anchorer.activePeers: a suspended or revoked
// witness is skipped during fan-out even though its key remains valid
// for verifying already-issued attestations.
func (a *Aggregator) activeWitnesses(ctx context.Context) []config.WitnessDescriptor {
	records, err := a.st.TrustRecords(ctx, a.network.NetworkID)
	if err != nil {
		return nil
	}
	active := make(map[string]bool, len(records))
	for _, r := range records {
		if r.Status == store.TrustActive {
			active[r.SubjectID] = true
		}
	}
	witnesses := make([]config.WitnessDescriptor, 0, len(a.network.Witnesses))
	for _, w := range a.network.Witnesses {
		if active[w.WitnessID] {
			witnesses = append(witnesses, w)
		}
	}
	return witnesses
}

func (a *Aggregator) assembleOrFail(valid map[string][]byte) (attestation.SignatureBundle, error) {
	if len(valid) >= a.network.Threshold {
		return a.assembleFromValid(valid)
	}
	return attestation.SignatureBundle{}, apperr.InsufficientSignatures(a.network.NetworkID, len(valid), a.network.Threshold)
}

// assembleFromValid retains the lexicographically smallest `threshold`
// witness ids for reproducibility across retries, per spec §4.5.
func (a *Aggregator) assembleFromValid(valid map[string][]byte) (attestation.SignatureBundle, error) {
	ids := make([]string, 0, len(valid))
	for id := range valid {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > a.network.Threshold {
		ids = ids[:a.network.Threshold]
	}

	switch a.network.SignatureScheme {
	case crypto.BLS:
		agg, ok := a.scheme.(crypto.AggregatingScheme)
		if !ok {
			return attestation.SignatureBundle{}, fmt.Errorf("quorum: BLS scheme does not support aggregation")
		}
		sigs := make([][]byte, len(ids))
		for i, id := range ids {
			sigs[i] = valid[id]
		}
		aggSig, err := agg.Aggregate(sigs)
		if err != nil {
			return attestation.SignatureBundle{}, fmt.Errorf("quorum: aggregate signatures: %w", err)
		}
		return attestation.NewAggregatedBundle(hex.EncodeToString(aggSig), ids)
	default:
		sigs := make([]attestation.WitnessSignature, len(ids))
		for i, id := range ids {
			sigs[i] = attestation.WitnessSignature{WitnessID: id, Signature: hex.EncodeToString(valid[id])}
		}
		return attestation.NewMultiSigBundle(sigs)
	}
}

// Verify checks a signed attestation's signature bundle against the
// network's configured witness public keys.
func (a *Aggregator) Verify(signed attestation.SignedAttestation) (bool, string) {
	payload := signed.Attestation.Encode()
	pubByID := make(map[string][]byte, len(a.network.Witnesses))
	for _, w := range a.network.Witnesses {
		if key, err := w.PublicKeyBytes(); err == nil {
			pubByID[w.WitnessID] = key
		}
	}

	switch signed.Signatures.Kind {
	case attestation.MultiSig:
		if len(signed.Signatures.MultiSig) < a.network.Threshold {
			return false, "fewer than threshold signatures present"
		}
		for _, s := range signed.Signatures.MultiSig {
			pub, ok := pubByID[s.WitnessID]
			if !ok {
				return false, fmt.Sprintf("unknown witness_id %q", s.WitnessID)
			}
			sig, err := hex.DecodeString(s.Signature)
			if err != nil || !a.scheme.Verify(pub, payload, sig) {
				return false, fmt.Sprintf("invalid signature from witness %q", s.WitnessID)
			}
		}
		return true, ""
	case attestation.Aggregated:
		agg, ok := a.scheme.(crypto.AggregatingScheme)
		if !ok {
			return false, "network scheme does not support aggregation"
		}
		if len(signed.Signatures.Signers) < a.network.Threshold {
			return false, "fewer than threshold signers present"
		}
		pubs := make([][]byte, 0, len(signed.Signatures.Signers))
		for _, id := range signed.Signatures.Signers {
			pub, ok := pubByID[id]
			if !ok {
				return false, fmt.Sprintf("unknown witness_id %q", id)
			}
			pubs = append(pubs, pub)
		}
		aggPub, err := agg.AggregatePublicKeys(pubs)
		if err != nil {
			return false, "failed to aggregate public keys"
		}
		sig, err := hex.DecodeString(signed.Signatures.AggregatedSignature)
		if err != nil || !agg.VerifyAggregate(aggPub, payload, sig) {
			return false, "aggregate signature verification failed"
		}
		return true, ""
	default:
		return false, "unknown signature bundle kind"
	}
}

// NetworkID returns the network this aggregator serves.
func (a *Aggregator) NetworkID() string { return a.network.NetworkID }
