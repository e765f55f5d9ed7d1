package config

import (
	"os"
	"strconv"
)

// Config aggregates process-level configuration loaded from the
// environment. Network topology (witnesses, threshold, federation
// peers) lives separately in internal/config's NetworkConfig, loaded
// from a config file rather than the environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	EventStore EventStoreConfig
	Auth       AuthConfig
	Quorum     QuorumConfig
	Batch      BatchConfig
	Federation FederationConfig
	Audit      AuditConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// NetworkConfigPath points at the JSON/YAML NetworkConfig file this
	// gateway instance serves.
	NetworkConfigPath string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Database +
		" sslmode=" + d.SSLMode
}

// EventStoreConfig holds connection settings for the EventStoreDB-backed
// real-time event bus.
type EventStoreConfig struct {
	Host         string
	Port         int
	Insecure     bool
	Username     string
	Password     string
	StreamPrefix string
}

// AuthConfig holds JWT settings for the operator/admin auth middleware.
type AuthConfig struct {
	JWTSecret string
}

// QuorumConfig tunes the witness fan-out rate limits and lock sharding
// (C5). WitnessTimeoutSeconds and TotalTimeoutSeconds are loaded but not
// passed to the aggregator, which always uses quorum.DefaultWitnessTimeout
// and quorum.DefaultTotalTimeout.
type QuorumConfig struct {
	WitnessTimeoutSeconds int
	TotalTimeoutSeconds   int
	WitnessRatePerSecond  int
	WitnessRateBurst      int
	LockShards            int
}

func (q QuorumConfig) WitnessTimeoutOrDefault() int {
	if q.WitnessTimeoutSeconds <= 0 {
		return 2
	}
	return q.WitnessTimeoutSeconds
}

func (q QuorumConfig) TotalTimeoutOrDefault() int {
	if q.TotalTimeoutSeconds <= 0 {
		return 5
	}
	return q.TotalTimeoutSeconds
}

func (q QuorumConfig) LockShardsOrDefault() int {
	if q.LockShards <= 0 {
		return 256
	}
	return q.LockShards
}

// BatchConfig tunes the batch manager tick period (C6), overridable per
// process even though NetworkConfig also carries a per-network period.
type BatchConfig struct {
	TickSeconds int
}

// AuditConfig configures the optional MSSQL secondary audit sink. Left
// with an empty DSN, no sink is started.
type AuditConfig struct {
	MSSQLDSN string
}

// FederationConfig tunes the federation anchorer (C7).
type FederationConfig struct {
	PeerTimeoutSeconds int
	MaxRetries         int
	QueueDepth         int
}

func (f FederationConfig) PeerTimeoutOrDefault() int {
	if f.PeerTimeoutSeconds <= 0 {
		return 30
	}
	return f.PeerTimeoutSeconds
}

func (f FederationConfig) MaxRetriesOrDefault() int {
	if f.MaxRetries <= 0 {
		return 3
	}
	return f.MaxRetries
}

func (f FederationConfig) QueueDepthOrDefault() int {
	if f.QueueDepth <= 0 {
		return 64
	}
	return f.QueueDepth
}

// Load reads process configuration from the environment.
func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvInt("SERVER_PORT", 8080),
			Env:               getEnv("ENV", "development"),
			NetworkConfigPath: getEnv("NETWORK_CONFIG_PATH", "network.json"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "witness"),
			Password: getEnv("DB_PASSWORD", "witness"),
			Database: getEnv("DB_NAME", "witness"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		EventStore: EventStoreConfig{
			Host:         getEnv("EVENTSTORE_HOST", "localhost"),
			Port:         getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure:     getEnvBool("EVENTSTORE_INSECURE", true),
			Username:     getEnv("EVENTSTORE_USERNAME", ""),
			Password:     getEnv("EVENTSTORE_PASSWORD", ""),
			StreamPrefix: getEnv("EVENTSTORE_STREAM_PREFIX", "witness"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Quorum: QuorumConfig{
			WitnessTimeoutSeconds: getEnvInt("QUORUM_WITNESS_TIMEOUT_SECONDS", 2),
			TotalTimeoutSeconds:   getEnvInt("QUORUM_TOTAL_TIMEOUT_SECONDS", 5),
			WitnessRatePerSecond:  getEnvInt("QUORUM_WITNESS_RATE_PER_SECOND", 50),
			WitnessRateBurst:      getEnvInt("QUORUM_WITNESS_RATE_BURST", 100),
			LockShards:            getEnvInt("QUORUM_LOCK_SHARDS", 256),
		},
		Batch: BatchConfig{
			TickSeconds: getEnvInt("BATCH_TICK_SECONDS", 60),
		},
		Federation: FederationConfig{
			PeerTimeoutSeconds: getEnvInt("FEDERATION_PEER_TIMEOUT_SECONDS", 30),
			MaxRetries:         getEnvInt("FEDERATION_MAX_RETRIES", 3),
			QueueDepth:         getEnvInt("FEDERATION_QUEUE_DEPTH", 64),
		},
		Audit: AuditConfig{
			MSSQLDSN: getEnv("AUDIT_MSSQL_DSN", ""),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

