// Package config loads the network configuration file (JSON or YAML)
// that describes a network's witnesses, threshold, signature scheme,
// and federation peers. Process settings read from the environment
// live in internal/shared/config.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v2"

	"github.com/witnessnet/gateway/internal/crypto"
)

// WitnessDescriptor is (witness_id, public_key, endpoint), unique
// within a network.
type WitnessDescriptor struct {
	WitnessID string `json:"witness_id" yaml:"witness_id"`
	PublicKey string `json:"public_key" yaml:"public_key"` // lowercase hex
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
}

// PublicKeyBytes decodes the descriptor's hex-encoded public key.
func (w WitnessDescriptor) PublicKeyBytes() ([]byte, error) {
	return hexDecode(w.PublicKey)
}

// FederationPeer names a peer network this network cross-anchors with.
type FederationPeer struct {
	NetworkID string `json:"network_id" yaml:"network_id"`
	GatewayURL string `json:"gateway_url" yaml:"gateway_url"`
}

// ExternalAnchorRef names a pluggable external anchor provider by kind;
// the concrete provider is out of scope (spec §1) — only the reference
// travels through config.
type ExternalAnchorRef struct {
	Kind   string            `json:"kind" yaml:"kind"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// NetworkConfig is the full configuration for one witness network.
type NetworkConfig struct {
	NetworkID            string              `json:"network_id" yaml:"network_id"`
	SignatureScheme      crypto.SchemeType   `json:"signature_scheme" yaml:"signature_scheme"`
	Threshold            int                 `json:"threshold" yaml:"threshold"`
	Witnesses            []WitnessDescriptor `json:"witnesses" yaml:"witnesses"`
	Federation           []FederationPeer    `json:"federation,omitempty" yaml:"federation,omitempty"`
	ExternalAnchors      []ExternalAnchorRef `json:"external_anchors,omitempty" yaml:"external_anchors,omitempty"`
	CrossAnchorThreshold int                 `json:"cross_anchor_threshold,omitempty" yaml:"cross_anchor_threshold,omitempty"`
	BatchPeriodSeconds   int                 `json:"batch_period_seconds,omitempty" yaml:"batch_period_seconds,omitempty"`
}

// Validate enforces the invariants from spec §3: 1 <= k <= N, unique
// witness ids, correct public key length for the scheme.
func (c NetworkConfig) Validate() error {
	if c.NetworkID == "" {
		return fmt.Errorf("config: network_id is required")
	}
	if c.Threshold < 1 || c.Threshold > len(c.Witnesses) {
		return fmt.Errorf("config: threshold %d must satisfy 1 <= k <= %d", c.Threshold, len(c.Witnesses))
	}
	scheme, err := crypto.New(c.SignatureScheme)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[string]bool, len(c.Witnesses))
	for _, w := range c.Witnesses {
		if seen[w.WitnessID] {
			return fmt.Errorf("config: duplicate witness_id %q", w.WitnessID)
		}
		seen[w.WitnessID] = true
		key, err := w.PublicKeyBytes()
		if err != nil {
			return fmt.Errorf("config: witness %q: %w", w.WitnessID, err)
		}
		if len(key) != scheme.PublicKeySize() {
			return fmt.Errorf("config: witness %q public key length %d, want %d", w.WitnessID, len(key), scheme.PublicKeySize())
		}
	}
	return nil
}

// BatchPeriod returns the configured batch closure period in seconds,
// or 60 when unset.
func (c NetworkConfig) BatchPeriod() int {
	if c.BatchPeriodSeconds <= 0 {
		return 60
	}
	return c.BatchPeriodSeconds
}

// CrossAnchorThresholdOrDefault returns the number of peer responses
// required to mark a batch "federated".
func (c NetworkConfig) CrossAnchorThresholdOrDefault() int {
	if c.CrossAnchorThreshold <= 0 {
		return len(c.Federation)
	}
	return c.CrossAnchorThreshold
}

// LoadNetworkConfig loads a NetworkConfig from a JSON or YAML file,
// dispatching on extension.
func LoadNetworkConfig(path string) (NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NetworkConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg NetworkConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return NetworkConfig{}, fmt.Errorf("config: parse yaml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return NetworkConfig{}, fmt.Errorf("config: parse json %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return NetworkConfig{}, err
	}
	return cfg, nil
}

func hexDecode(s string) ([]byte, error) {
	if s != strings.ToLower(s) {
		return nil, fmt.Errorf("hex string must be lowercase")
	}
	return hex.DecodeString(s)
}
