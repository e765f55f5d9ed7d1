// Package httpserver exposes one witness network's gateway operations
// over HTTP: submitting fingerprints for timestamping, retrieving and
// verifying attestations, batch inclusion proofs, cross-network anchor
// records, and the admin endpoints that manage witness trust. One
// Server instance serves exactly one config.NetworkConfig.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/witnessnet/gateway/internal/apperr"
	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/batch"
	"github.com/witnessnet/gateway/internal/config"
	"github.com/witnessnet/gateway/internal/eventbus"
	"github.com/witnessnet/gateway/internal/quorum"
	"github.com/witnessnet/gateway/internal/shared/auth"
	sharedconfig "github.com/witnessnet/gateway/internal/shared/config"
	sharedmiddleware "github.com/witnessnet/gateway/internal/shared/middleware"
	"github.com/witnessnet/gateway/internal/shared/metrics"
	"github.com/witnessnet/gateway/internal/shared/types"
	"github.com/witnessnet/gateway/internal/store"
)

// EventSubscriber is the slice of *eventbus.Bus that GET /ws/events
// needs; narrowing the dependency keeps the handler testable without an
// EventStoreDB instance.
type EventSubscriber interface {
	Subscribe(ctx context.Context, networkID string, handler eventbus.Handler) error
}

// Server holds the wiring for one network's gateway process.
type Server struct {
	network    config.NetworkConfig
	aggregator *quorum.Aggregator
	batchMgr   *batch.Manager
	store      store.Store
	bus        EventSubscriber
	auth       sharedconfig.AuthConfig
	ipLimiter  *sharedmiddleware.IPRateLimiter
	startedAt  time.Time
}

// New constructs a Server. bus may be nil, in which case GET /ws/events
// upgrades the connection but never relays any events.
func New(network config.NetworkConfig, aggregator *quorum.Aggregator, batchMgr *batch.Manager, st store.Store, bus EventSubscriber, authCfg sharedconfig.AuthConfig) *Server {
	return &Server{
		network:    network,
		aggregator: aggregator,
		batchMgr:   batchMgr,
		store:      st,
		bus:        bus,
		auth:       authCfg,
		ipLimiter:  sharedmiddleware.NewIPRateLimiter(50, 100),
		startedAt:  time.Now(),
	}
}

// Routes builds the full router for this network's gateway.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(sharedmiddleware.SecurityHeaders)
	r.Use(sharedmiddleware.InputSanitizer)
	r.Use(sharedmiddleware.RequestLogger)
	r.Use(metrics.Middleware)
	r.Use(s.ipLimiter.Middleware)

	r.Get("/health", s.health)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/ws/events", s.wsEvents)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/timestamp", s.postTimestamp)
		r.Get("/timestamp/{hash}", s.getTimestamp)
		r.Post("/verify", s.postVerify)
		r.Get("/proof/{hash}", s.getProof)
		r.Get("/anchors/{hash}", s.getAnchors)
		r.Get("/config", s.getConfig)
		r.Post("/federation/anchor", s.postFederationAnchor)

		r.Get("/witnesses", s.listWitnesses)
		r.Get("/stats", s.getStats)
		r.Get("/recent", s.getRecent)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.auth))
			r.With(auth.RequireRoles("admin")).Post("/witnesses/{id}/suspend", s.suspendWitness)
			r.With(auth.RequireRoles("admin")).Post("/witnesses/{id}/revoke", s.revokeWitness)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "network_id": s.network.NetworkID})
}

type timestampRequest struct {
	Hash string `json:"hash"`
}

func (s *Server) postTimestamp(w http.ResponseWriter, r *http.Request) {
	var req timestampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.BadRequest("malformed request body"))
		return
	}
	fp, err := types.ParseFingerprint(req.Hash)
	if err != nil {
		writeError(w, apperr.BadRequest("hash must be 64 lowercase hex characters"))
		return
	}

	signed, err := s.aggregator.Timestamp(r.Context(), fp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

func (s *Server) getTimestamp(w http.ResponseWriter, r *http.Request) {
	fp, err := types.ParseFingerprint(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, apperr.BadRequest("hash must be 64 lowercase hex characters"))
		return
	}
	signed, err := s.store.GetAttestation(r.Context(), fp)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, apperr.NotFound("attestation", fp.String()))
			return
		}
		writeError(w, apperr.StoreUnavailable(err))
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) postVerify(w http.ResponseWriter, r *http.Request) {
	var signed attestation.SignedAttestation
	if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false, Reason: "malformed request body"})
		return
	}
	if signed.Attestation.NetworkID != s.network.NetworkID {
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false, Reason: "unknown network"})
		return
	}
	ok, reason := s.aggregator.Verify(signed)
	writeJSON(w, http.StatusOK, verifyResponse{Valid: ok, Reason: reason})
}

type proofStepDTO struct {
	Sibling string `json:"sibling"`
	Side    string `json:"side"`
}

type proofResponse struct {
	Status           string         `json:"status"`
	BatchID          uint64         `json:"batch_id,omitempty"`
	MerkleRoot       string         `json:"merkle_root,omitempty"`
	Proof            []proofStepDTO `json:"proof,omitempty"`
	FederationStatus string         `json:"federation_status,omitempty"`
}

func (s *Server) getProof(w http.ResponseWriter, r *http.Request) {
	fp, err := types.ParseFingerprint(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, apperr.BadRequest("hash must be 64 lowercase hex characters"))
		return
	}
	result, err := s.batchMgr.Proof(r.Context(), fp)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	switch result.Status {
	case batch.ProofPending:
		writeJSON(w, http.StatusAccepted, proofResponse{Status: string(batch.ProofPending)})
	case batch.ProofNotFound:
		writeError(w, apperr.NotFound("proof", fp.String()))
	case batch.ProofReady:
		steps := make([]proofStepDTO, len(result.Proof))
		for i, step := range result.Proof {
			steps[i] = proofStepDTO{Sibling: types.Fingerprint(step.Sibling).String(), Side: string(step.Side)}
		}
		root := types.Fingerprint(result.MerkleRoot)
		crossAnchorCount := 0
		if b, err := s.store.GetBatch(r.Context(), s.network.NetworkID, result.BatchID); err == nil {
			crossAnchorCount = len(b.CrossAnchors)
		}
		writeJSON(w, http.StatusOK, proofResponse{
			Status:           string(batch.ProofReady),
			BatchID:          result.BatchID,
			MerkleRoot:       root.String(),
			Proof:            steps,
			FederationStatus: s.federationStatus(crossAnchorCount),
		})
	default:
		writeError(w, apperr.Internal(nil))
	}
}

type crossAnchorDTO struct {
	PeerNetworkID string    `json:"peer_network_id"`
	PeerBatchID   *uint64   `json:"peer_batch_id,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

func (s *Server) getAnchors(w http.ResponseWriter, r *http.Request) {
	fp, err := types.ParseFingerprint(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, apperr.BadRequest("hash must be 64 lowercase hex characters"))
		return
	}
	b, err := s.store.GetBatchContaining(r.Context(), s.network.NetworkID, fp)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, apperr.NotFound("batch", fp.String()))
			return
		}
		writeError(w, apperr.StoreUnavailable(err))
		return
	}
	anchors := make([]crossAnchorDTO, len(b.CrossAnchors))
	for i, a := range b.CrossAnchors {
		anchors[i] = crossAnchorDTO{PeerNetworkID: a.PeerNetworkID, PeerBatchID: a.PeerBatchID, ReceivedAt: a.ReceivedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":          b.ID,
		"anchors":           anchors,
		"federation_status": s.federationStatus(len(b.CrossAnchors)),
	})
}

// federationStatus reports whether a batch has heard back from enough
// peers to be "federated", per spec §4.7: at most cross_anchor_threshold
// peers need respond; fewer responses leave it "closed, partially
// federated".
func (s *Server) federationStatus(crossAnchorCount int) string {
	if len(s.network.Federation) == 0 {
		return "federated"
	}
	if crossAnchorCount >= s.network.CrossAnchorThresholdOrDefault() {
		return "federated"
	}
	return "closed, partially federated"
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.network)
}

type anchorRequestDTO struct {
	NetworkID  string `json:"network_id"`
	BatchID    uint64 `json:"batch_id"`
	MerkleRoot string `json:"merkle_root"`
	ClosedAt   string `json:"closed_at"`
}

// postFederationAnchor treats an incoming peer's merkle root as an
// ordinary fingerprint and timestamps it through this network's own
// aggregator, symmetric with what federation.Anchorer.submit sends.
func (s *Server) postFederationAnchor(w http.ResponseWriter, r *http.Request) {
	var req anchorRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.BadRequest("malformed request body"))
		return
	}
	root, err := types.ParseFingerprint(req.MerkleRoot)
	if err != nil {
		writeError(w, apperr.BadRequest("merkle_root must be 64 lowercase hex characters"))
		return
	}
	signed, err := s.aggregator.Timestamp(r.Context(), root)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

type witnessDTO struct {
	WitnessID string `json:"witness_id"`
	Status    string `json:"status"`
}

func (s *Server) listWitnesses(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.TrustRecords(r.Context(), s.network.NetworkID)
	if err != nil {
		writeError(w, apperr.StoreUnavailable(err))
		return
	}
	out := make([]witnessDTO, len(records))
	for i, rec := range records {
		out[i] = witnessDTO{WitnessID: rec.SubjectID, Status: string(rec.Status)}
	}
	writeJSON(w, http.StatusOK, out)
}

type statsResponse struct {
	UptimeSeconds          int64  `json:"uptime_seconds"`
	TotalAttestations      uint64 `json:"total_attestations"`
	Attestations24h        uint64 `json:"attestations_24h"`
	TotalBatches           uint64 `json:"total_batches"`
	FederationEnabled      bool   `json:"federation_enabled"`
	ExternalAnchorsEnabled bool   `json:"external_anchors_enabled"`
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), s.network.NetworkID)
	if err != nil {
		writeError(w, apperr.StoreUnavailable(err))
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		UptimeSeconds:          int64(time.Since(s.startedAt).Seconds()),
		TotalAttestations:      stats.TotalAttestations,
		Attestations24h:        stats.Attestations24h,
		TotalBatches:           stats.TotalBatches,
		FederationEnabled:      len(s.network.Federation) > 0,
		ExternalAnchorsEnabled: len(s.network.ExternalAnchors) > 0,
	})
}

type recentAttestationDTO struct {
	Fingerprint string `json:"fingerprint"`
	Sequence    uint64 `json:"sequence"`
	UnixSeconds uint64 `json:"unix_seconds"`
}

// defaultRecentLimit and maxRecentLimit bound GET /v1/recent, mirroring
// admin.rs's fixed 20-item recent list, but honoring an optional
// ?limit= up to a hard cap.
const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

func (s *Server) getRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	recent, err := s.store.RecentAttestations(r.Context(), s.network.NetworkID, limit)
	if err != nil {
		writeError(w, apperr.StoreUnavailable(err))
		return
	}
	out := make([]recentAttestationDTO, len(recent))
	for i, a := range recent {
		out[i] = recentAttestationDTO{
			Fingerprint: a.Attestation.Fingerprint.String(),
			Sequence:    a.Attestation.Sequence,
			UnixSeconds: a.Attestation.UnixSeconds,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) suspendWitness(w http.ResponseWriter, r *http.Request) {
	s.setWitnessStatus(w, r, store.TrustSuspended)
}

func (s *Server) revokeWitness(w http.ResponseWriter, r *http.Request) {
	s.setWitnessStatus(w, r, store.TrustRevoked)
}

func (s *Server) setWitnessStatus(w http.ResponseWriter, r *http.Request, status store.TrustStatus) {
	id := chi.URLParam(r, "id")
	if err := s.store.SetTrustStatus(r.Context(), s.network.NetworkID, id, status); err != nil {
		if err == store.ErrNotFound {
			writeError(w, apperr.NotFound("witness", id))
			return
		}
		writeError(w, apperr.StoreUnavailable(err))
		return
	}
	writeJSON(w, http.StatusOK, witnessDTO{WitnessID: id, Status: string(status)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal(err)
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(appErr)
}

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
