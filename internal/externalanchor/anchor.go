// Package externalanchor defines the pluggable interface for anchoring
// a batch's merkle root into an external, out-of-network system (a
// public blockchain, a third-party timestamping authority, and so on).
// No concrete provider ships here: spec.md's scope explicitly excludes
// building any specific external anchor integration, leaving only the
// contract a future provider would implement.
package externalanchor

import (
	"context"
	"time"
)

// Receipt is the opaque token a provider returns after accepting a
// submission; its shape is provider-specific and never interpreted by
// the gateway beyond storing it alongside the batch's cross-anchors.
type Receipt struct {
	Provider string
	Opaque   []byte
}

// Proof is a provider-specific inclusion or existence proof, returned
// verbatim to callers rather than parsed.
type Proof struct {
	Provider string
	Data     []byte
}

// Anchor is implemented by an external anchoring provider. Submissions
// and proof lookups are best-effort: a failing provider never fails the
// batch close that triggered it and never invalidates the batch.
type Anchor interface {
	Submit(ctx context.Context, batchID uint64, merkleRoot [32]byte, closedAt time.Time) (Receipt, error)
	Proof(ctx context.Context, batchID uint64) (Proof, error)
}

// Registry looks providers up by the `kind` named in a network's
// configured ExternalAnchorRef entries.
type Registry map[string]Anchor

// Lookup returns the provider registered under kind, if any.
func (r Registry) Lookup(kind string) (Anchor, bool) {
	a, ok := r[kind]
	return a, ok
}
