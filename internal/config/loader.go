package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load builds a Config from environment variables (optionally loaded from a
// .env file via godotenv.Overload, so repo-local config deterministically
// wins over a stale shell environment) and applies documented defaults for
// anything left unset. If path is non-empty, a YAML overlay is applied on
// top of the env-derived values before defaults are filled in.
func Load(path string) (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}
	cfg.Gateway.BaseURL = strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL"))
	cfg.Gateway.APIKey = strings.TrimSpace(os.Getenv("GATEWAY_API_KEY"))
	cfg.Gateway.AnthropicAPIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.Gateway.AnthropicModel = strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))
	cfg.Gateway.GoogleAPIKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	cfg.Gateway.GoogleModel = strings.TrimSpace(os.Getenv("GOOGLE_MODEL"))
	cfg.Gateway.NumCtxCap = envInt("GATEWAY_NUM_CTX_CAP", 0)
	cfg.Gateway.MinRequestInterval = envDuration("GATEWAY_MIN_INTERVAL", 0)
	cfg.Gateway.RequestTimeout = envDuration("GATEWAY_TIMEOUT", 0)

	cfg.Embedding.Host = strings.TrimSpace(os.Getenv("EMBEDDING_HOST"))
	cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY"))
	cfg.Embedding.Dimensions = envInt("EMBEDDING_DIMENSIONS", 0)
	cfg.Embedding.CacheCapacity = envInt("EMBEDDING_CACHE_CAPACITY", 0)
	cfg.Embedding.CacheTTL = envDuration("EMBEDDING_CACHE_TTL", 0)
	cfg.Embedding.RedisAddr = strings.TrimSpace(os.Getenv("EMBEDDING_REDIS_ADDR"))
	cfg.Embedding.RedisPrefix = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBEDDING_REDIS_PREFIX")), "emb:")

	cfg.Router.ProbeTextsPath = strings.TrimSpace(os.Getenv("ROUTER_PROBE_TEXTS_PATH"))

	cfg.Primer.CacheCapacity = envInt("PRIMER_CACHE_CAPACITY", 0)
	cfg.Primer.CacheTTL = envDuration("PRIMER_CACHE_TTL", 0)
	cfg.Primer.HitSimilarity = envFloat("PRIMER_HIT_SIMILARITY", 0)
	cfg.Primer.MemoriesPerCategory = envInt("PRIMER_MEMORIES_PER_CATEGORY", 0)
	cfg.Primer.PatternsPerCategory = envInt("PRIMER_PATTERNS_PER_CATEGORY", 0)
	cfg.Primer.InstructionsDir = strings.TrimSpace(os.Getenv("PRIMER_INSTRUCTIONS_DIR"))

	cfg.Memory.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMORY_BACKEND")), "memory")
	cfg.Memory.DSN = strings.TrimSpace(os.Getenv("MEMORY_DSN"))
	cfg.Memory.VectorBackend = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMORY_VECTOR_BACKEND")), "memory")
	cfg.Memory.QdrantAddr = strings.TrimSpace(os.Getenv("MEMORY_QDRANT_ADDR"))
	cfg.Memory.QdrantCollection = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMORY_QDRANT_COLLECTION")), "facts")
	cfg.Memory.SummaryRecentRatio = envFloat("MEMORY_SUMMARY_RECENT_RATIO", 0)
	cfg.Memory.SummarySummaryRatio = envFloat("MEMORY_SUMMARY_SUMMARY_RATIO", 0)
	cfg.Memory.SummaryFactsRatio = envFloat("MEMORY_SUMMARY_FACTS_RATIO", 0)
	cfg.Memory.MaxCompressRetries = envInt("MEMORY_MAX_COMPRESS_RETRIES", 0)
	if v := strings.TrimSpace(os.Getenv("MEMORY_KAFKA_BROKERS")); v != "" {
		cfg.Memory.KafkaBrokers = strings.Split(v, ",")
	}
	cfg.Memory.KafkaFactTopic = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMORY_KAFKA_FACT_TOPIC")), "fact-extraction")

	cfg.Privacy.Credential = strings.TrimSpace(os.Getenv("PRIVACY_CREDENTIAL"))
	cfg.Privacy.IdleTimeout = envDuration("PRIVACY_IDLE_TIMEOUT", 0)

	cfg.ErrorMemory.MaxAgeDays = envInt("ERROR_MEMORY_MAX_AGE_DAYS", 0)
	cfg.ErrorMemory.MaxCandidates = envInt("ERROR_MEMORY_MAX_CANDIDATES", 0)
	cfg.ErrorMemory.SimilarityFloor = envFloat("ERROR_MEMORY_SIMILARITY_FLOOR", 0)
	cfg.ErrorMemory.TopK = envInt("ERROR_MEMORY_TOP_K", 0)

	cfg.Conductor.CheckWindow = envInt("CONDUCTOR_CHECK_WINDOW", 0)
	cfg.Conductor.MaxCheckTokens = envInt("CONDUCTOR_MAX_CHECK_TOKENS", 0)
	cfg.Conductor.MaxRegenRetries = envInt("CONDUCTOR_MAX_REGEN_RETRIES", 0)
	cfg.Conductor.CheckWidenFactor = envInt("CONDUCTOR_CHECK_WIDEN_FACTOR", 0)
	cfg.Conductor.CheckWidenCap = envInt("CONDUCTOR_CHECK_WIDEN_CAP", 0)
	cfg.Conductor.ConfidenceFloor = envFloat("CONDUCTOR_CONFIDENCE_FLOOR", 0)
	cfg.Conductor.AcquireTimeout = envDuration("CONDUCTOR_ACQUIRE_TIMEOUT", 0)
	cfg.Conductor.PrepareTimeout = envDuration("CONDUCTOR_PREPARE_TIMEOUT", 0)
	cfg.Conductor.StreamTimeout = envDuration("CONDUCTOR_STREAM_TIMEOUT", 0)
	cfg.Conductor.CheckTimeout = envDuration("CONDUCTOR_CHECK_TIMEOUT", 0)

	cfg.Slot.UserConcurrency = envInt("SLOT_USER_CONCURRENCY", 0)
	cfg.Slot.QueueCap = envInt("SLOT_QUEUE_CAP", 0)
	cfg.Slot.HeartbeatInterval = envDuration("SLOT_HEARTBEAT_INTERVAL", 0)

	cfg.Metrics.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("METRICS_BACKEND")), "memory")
	cfg.Metrics.ClickHouseAddr = strings.TrimSpace(os.Getenv("METRICS_CLICKHOUSE_ADDR"))
	cfg.Metrics.ClickHouseDB = firstNonEmpty(strings.TrimSpace(os.Getenv("METRICS_CLICKHOUSE_DB")), "cognitivecore")
	cfg.Metrics.RollbackWindow = envInt("METRICS_ROLLBACK_WINDOW", 0)
	cfg.Metrics.RollbackThreshold = envFloat("METRICS_ROLLBACK_THRESHOLD", 0)

	cfg.Obs.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.Obs.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info")
	cfg.Obs.OTelEnabled = envBool("OTEL_ENABLED", false)
	cfg.Obs.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.Obs.Insecure = envBool("OTEL_INSECURE", true)
	cfg.Obs.ServiceName = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "cognitivecore")
	cfg.Obs.Environment = firstNonEmpty(strings.TrimSpace(os.Getenv("ENVIRONMENT")), "development")

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}

	applyDefaults(&cfg)
	return cfg, nil
}

// applyDefaults fills in the process-wide defaults named in the external
// interface configuration table: num_ctx cap 8192, primer cache capacity
// 2000/TTL 3600s/hit-similarity 0.92, CHECK window 20, max regenerate
// retries 2, privacy idle-lock interval 1800s, slot pool 2 with queue cap 5.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.NumCtxCap <= 0 {
		cfg.Gateway.NumCtxCap = 8192
	}
	if cfg.Gateway.MinRequestInterval <= 0 {
		cfg.Gateway.MinRequestInterval = 50 * time.Millisecond
	}
	if cfg.Gateway.RequestTimeout <= 0 {
		cfg.Gateway.RequestTimeout = 120 * time.Second
	}

	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.CacheCapacity <= 0 {
		cfg.Embedding.CacheCapacity = 4096
	}
	if cfg.Embedding.CacheTTL <= 0 {
		cfg.Embedding.CacheTTL = time.Hour
	}

	if cfg.Primer.CacheCapacity <= 0 {
		cfg.Primer.CacheCapacity = 2000
	}
	if cfg.Primer.CacheTTL <= 0 {
		cfg.Primer.CacheTTL = 3600 * time.Second
	}
	if cfg.Primer.HitSimilarity <= 0 {
		cfg.Primer.HitSimilarity = 0.92
	}
	if cfg.Primer.MemoriesPerCategory <= 0 {
		cfg.Primer.MemoriesPerCategory = 5
	}
	if cfg.Primer.PatternsPerCategory <= 0 {
		cfg.Primer.PatternsPerCategory = 3
	}

	if cfg.Memory.SummaryRecentRatio <= 0 {
		cfg.Memory.SummaryRecentRatio = 0.70
	}
	if cfg.Memory.SummarySummaryRatio <= 0 {
		cfg.Memory.SummarySummaryRatio = 0.20
	}
	if cfg.Memory.SummaryFactsRatio <= 0 {
		cfg.Memory.SummaryFactsRatio = 0.10
	}
	if cfg.Memory.MaxCompressRetries <= 0 {
		cfg.Memory.MaxCompressRetries = 3
	}

	if cfg.Privacy.IdleTimeout <= 0 {
		cfg.Privacy.IdleTimeout = 30 * time.Minute
	}

	if cfg.ErrorMemory.MaxAgeDays <= 0 {
		cfg.ErrorMemory.MaxAgeDays = 30
	}
	if cfg.ErrorMemory.MaxCandidates <= 0 {
		cfg.ErrorMemory.MaxCandidates = 100
	}
	if cfg.ErrorMemory.SimilarityFloor <= 0 {
		cfg.ErrorMemory.SimilarityFloor = 0.7
	}
	if cfg.ErrorMemory.TopK <= 0 {
		cfg.ErrorMemory.TopK = 5
	}

	if cfg.Conductor.CheckWindow <= 0 {
		cfg.Conductor.CheckWindow = 20
	}
	if cfg.Conductor.MaxCheckTokens <= 0 {
		cfg.Conductor.MaxCheckTokens = 64
	}
	if cfg.Conductor.MaxRegenRetries <= 0 {
		cfg.Conductor.MaxRegenRetries = 2
	}
	if cfg.Conductor.CheckWidenFactor <= 0 {
		cfg.Conductor.CheckWidenFactor = 2
	}
	if cfg.Conductor.CheckWidenCap <= 0 {
		cfg.Conductor.CheckWidenCap = 80
	}
	if cfg.Conductor.ConfidenceFloor <= 0 {
		cfg.Conductor.ConfidenceFloor = 0.6
	}
	if cfg.Conductor.AcquireTimeout <= 0 {
		cfg.Conductor.AcquireTimeout = 10 * time.Second
	}
	if cfg.Conductor.PrepareTimeout <= 0 {
		cfg.Conductor.PrepareTimeout = 5 * time.Second
	}
	if cfg.Conductor.StreamTimeout <= 0 {
		cfg.Conductor.StreamTimeout = 120 * time.Second
	}
	if cfg.Conductor.CheckTimeout <= 0 {
		cfg.Conductor.CheckTimeout = 5 * time.Second
	}

	if cfg.Slot.UserConcurrency <= 0 {
		cfg.Slot.UserConcurrency = 2
	}
	if cfg.Slot.QueueCap <= 0 {
		cfg.Slot.QueueCap = 5
	}
	if cfg.Slot.HeartbeatInterval <= 0 {
		cfg.Slot.HeartbeatInterval = time.Second
	}

	if cfg.Metrics.RollbackWindow <= 0 {
		cfg.Metrics.RollbackWindow = 20
	}
	if cfg.Metrics.RollbackThreshold <= 0 {
		cfg.Metrics.RollbackThreshold = 0.5
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
