package quorum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/witnessnet/gateway/internal/witness"
)

// WitnessClient fans signing requests out to witness HTTP endpoints
// through a bounded, connection-pooled http.Client and a per-witness
// rate limiter, satisfying the backpressure requirement in spec §5.
type WitnessClient struct {
	httpClient *http.Client
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	rps        int
	burst      int
}

// NewWitnessClient constructs a client with a bounded connection pool
// and per-witness token-bucket rate limiting.
func NewWitnessClient(rps, burst int) *WitnessClient {
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &WitnessClient{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (c *WitnessClient) limiterFor(witnessID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[witnessID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.rps), c.burst)
		c.limiters[witnessID] = l
	}
	return l
}

// Sign issues a signing request to a witness at endpoint, respecting the
// context deadline (T_witness) and the witness's rate limit.
func (c *WitnessClient) Sign(ctx context.Context, witnessID, endpoint string, req witness.SignRequest) (witness.SignedResponse, error) {
	if err := c.limiterFor(witnessID).Wait(ctx); err != nil {
		return witness.SignedResponse{}, fmt.Errorf("witness client: rate limit wait: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return witness.SignedResponse{}, fmt.Errorf("witness client: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/sign", bytes.NewReader(body))
	if err != nil {
		return witness.SignedResponse{}, fmt.Errorf("witness client: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return witness.SignedResponse{}, fmt.Errorf("witness client: request to %s: %w", witnessID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return witness.SignedResponse{}, fmt.Errorf("witness client: %s responded %d", witnessID, resp.StatusCode)
	}

	var signed witness.SignedResponse
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return witness.SignedResponse{}, fmt.Errorf("witness client: decode response from %s: %w", witnessID, err)
	}
	return signed, nil
}
