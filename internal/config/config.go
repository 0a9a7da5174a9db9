// Package config loads the process-wide configuration for the cognitive
// orchestration core from the environment (optionally via a .env file) with
// a YAML overlay, following the same firstNonEmpty/typed-field convention
// across every sub-config.
package config

import "time"

// GatewayConfig configures the Model Gateway (C1).
type GatewayConfig struct {
	// BaseURL points at an OpenAI-compatible local backend (llama.cpp,
	// vLLM, MLX server, ...).
	BaseURL string
	APIKey  string

	// AnthropicAPIKey/AnthropicModel configure the optional Anthropic cloud
	// backend; when the key is set it serves the large role in place of
	// the OpenAI-compatible backend.
	AnthropicAPIKey string
	AnthropicModel  string

	// GoogleAPIKey configures the optional Gemini vision backend.
	GoogleAPIKey string
	GoogleModel  string

	NumCtxCap          int
	MinRequestInterval time.Duration
	RequestTimeout     time.Duration
}

// EmbeddingConfig configures the Embedding Service (C2).
type EmbeddingConfig struct {
	Host          string
	APIKey        string
	Dimensions    int
	CacheCapacity int
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPrefix   string
}

// RouterConfig configures the Semantic Router (C4).
type RouterConfig struct {
	// ProbeTextsPath optionally points at a file of intent-probe seed
	// phrases, one category's phrases per line prefixed "CATEGORY: ".
	ProbeTextsPath string
}

// PrimerConfig configures the Context Primer (C5).
type PrimerConfig struct {
	CacheCapacity       int
	CacheTTL            time.Duration
	HitSimilarity       float64
	MemoriesPerCategory int
	PatternsPerCategory int
	InstructionsDir     string
}

// MemoryConfig configures the Memory Store (C6).
type MemoryConfig struct {
	Backend              string // "memory" or "postgres"
	DSN                  string
	VectorBackend        string // "memory", "postgres", "qdrant"
	QdrantAddr           string
	QdrantCollection     string
	SummaryRecentRatio   float64
	SummarySummaryRatio  float64
	SummaryFactsRatio    float64
	MaxCompressRetries   int
	KafkaBrokers         []string
	KafkaFactTopic       string
}

// PrivacyConfig configures the Privacy Lock (C7).
type PrivacyConfig struct {
	Credential  string
	IdleTimeout time.Duration
}

// ErrorMemoryConfig configures Error Memory (C9).
type ErrorMemoryConfig struct {
	MaxAgeDays        int
	MaxCandidates     int
	SimilarityFloor   float64
	TopK              int
}

// ConductorConfig configures the Cognitive Conductor (C10).
type ConductorConfig struct {
	CheckWindow       int
	MaxCheckTokens    int
	MaxRegenRetries   int
	CheckWidenFactor  int
	CheckWidenCap     int
	ConfidenceFloor   float64
	AcquireTimeout    time.Duration
	PrepareTimeout    time.Duration
	StreamTimeout     time.Duration
	CheckTimeout      time.Duration
}

// SlotConfig configures the Slot Manager (C11).
type SlotConfig struct {
	UserConcurrency   int
	QueueCap          int
	HeartbeatInterval time.Duration
}

// MetricsConfig configures the Metrics & Reflection Recorder (C12).
type MetricsConfig struct {
	Backend           string // "memory" or "clickhouse"
	ClickHouseAddr    string
	ClickHouseDB      string
	RollbackWindow    int
	RollbackThreshold float64
}

// ObsConfig configures ambient logging/tracing.
type ObsConfig struct {
	LogPath     string
	LogLevel    string
	OTelEnabled bool
	OTLP        string
	Insecure    bool
	ServiceName string
	Environment string
}

// Config aggregates every component's sub-config.
type Config struct {
	Gateway      GatewayConfig
	Embedding    EmbeddingConfig
	Router       RouterConfig
	Primer       PrimerConfig
	Memory       MemoryConfig
	Privacy      PrivacyConfig
	ErrorMemory  ErrorMemoryConfig
	Conductor    ConductorConfig
	Slot         SlotConfig
	Metrics      MetricsConfig
	Obs          ObsConfig
}
