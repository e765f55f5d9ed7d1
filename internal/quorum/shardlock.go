package quorum

import (
	"sync"

	"github.com/witnessnet/gateway/internal/shared/types"
)

// shardLock is a sharded per-fingerprint lock table: rather than one
// global mutex serializing every timestamp request, a fingerprint hashes
// to one of N shards and only contends with other fingerprints in the
// same shard. The store's PutAttestationIfAbsent remains the ultimate
// arbiter across process restarts or multiple gateway instances; this
// lock only serializes concurrent requests within one process.
type shardLock struct {
	shards []sync.Mutex
}

func newShardLock(n int) *shardLock {
	if n <= 0 {
		n = 256
	}
	return &shardLock{shards: make([]sync.Mutex, n)}
}

func (s *shardLock) shardFor(fp types.Fingerprint) *sync.Mutex {
	// fingerprints are already uniformly distributed (SHA-256 output),
	// so the low byte is a fine shard selector.
	idx := int(fp[len(fp)-1]) % len(s.shards)
	return &s.shards[idx]
}

func (s *shardLock) Lock(fp types.Fingerprint) func() {
	m := s.shardFor(fp)
	m.Lock()
	return m.Unlock
}
