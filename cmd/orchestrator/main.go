package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"cognitivecore/internal/config"
	"cognitivecore/internal/conductor"
	"cognitivecore/internal/embedding"
	"cognitivecore/internal/errormemory"
	"cognitivecore/internal/facade"
	"cognitivecore/internal/gateway"
	"cognitivecore/internal/memory"
	"cognitivecore/internal/metrics"
	"cognitivecore/internal/model"
	"cognitivecore/internal/primer"
	"cognitivecore/internal/privacy"
	"cognitivecore/internal/reflection"
	"cognitivecore/internal/resolver"
	"cognitivecore/internal/router"
	"cognitivecore/internal/slots"
	"cognitivecore/internal/telemetry"
)

// main is a thin demo driver: the process this file builds is not the
// external interface itself (spec §6 keeps HTTP/SSE/CLI as an external
// collaborator's concern), just a composition root wiring every component
// into a facade.Core and exercising it over stdin, the same role the
// teacher's cmd/orchestrator main() played for its Kafka adapter.
func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("cognitivecore")
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("COGNITIVECORE_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	telemetry.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)

	baseCtx := context.Background()
	shutdown, err := telemetry.Init(baseCtx, telemetry.Config{
		Enabled:     cfg.Obs.OTelEnabled,
		Endpoint:    cfg.Obs.OTLP,
		Insecure:    cfg.Obs.Insecure,
		ServiceName: cfg.Obs.ServiceName,
		Environment: cfg.Obs.Environment,
	})
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without telemetry")
		shutdown = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdown(context.Background()) }()

	httpClient := tunedHTTPClient()

	core, closeFn, err := buildCore(baseCtx, cfg, httpClient)
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}
	defer closeFn()

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("cognitivecore ready, reading queries from stdin")
	return runREPL(ctx, core)
}

// tunedHTTPClient mirrors the teacher's pooled transport for talking to
// local/cloud model backends: generous keep-alive, bounded idle conns.
func tunedHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// gatewayAdapter satisfies memory.Gateway by forwarding to a *gateway.Gateway,
// keeping memory's dependency on the Model Gateway structural rather than a
// direct import.
type gatewayAdapter struct {
	gw *gateway.Gateway
}

func (a gatewayAdapter) Chat(ctx context.Context, role model.ModelRole, msgs []memory.GatewayMessage, maxTokens int) (string, error) {
	converted := make([]gateway.Message, len(msgs))
	for i, m := range msgs {
		converted[i] = gateway.Message{Role: m.Role, Content: m.Content}
	}
	return a.gw.Chat(ctx, role, converted, gateway.Params{MaxTokens: maxTokens})
}

// buildCore assembles every component from cfg, returning the facade and a
// close function releasing any pooled resources (Postgres, Qdrant).
func buildCore(ctx context.Context, cfg config.Config, httpClient *http.Client) (*facade.Core, func(), error) {
	var closers []func()
	closeFn := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	gw := gateway.New(
		gateway.WithNumCtxCap(cfg.Gateway.NumCtxCap),
		gateway.WithMinRequestInterval(cfg.Gateway.MinRequestInterval),
	)
	openai := gateway.NewOpenAIBackend(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, "", httpClient)
	gw.Register(model.RoleSmall, openai)
	gw.Register(model.RoleLarge, openai)
	gw.Register(model.RoleVision, openai)

	if cfg.Gateway.AnthropicAPIKey != "" {
		gw.Register(model.RoleLarge, gateway.NewAnthropicBackend(cfg.Gateway.AnthropicAPIKey, cfg.Gateway.AnthropicModel, httpClient))
	}
	if cfg.Gateway.GoogleAPIKey != "" {
		if g, err := gateway.NewGoogleBackend(ctx, cfg.Gateway.GoogleAPIKey, cfg.Gateway.GoogleModel, httpClient); err == nil {
			gw.Register(model.RoleVision, g)
		} else {
			log.Warn().Err(err).Msg("google vision backend unavailable")
		}
	}

	embedder := embedding.New(openai, cfg.Embedding.Dimensions, cfg.Embedding.CacheCapacity, cfg.Embedding.CacheTTL)

	memBackend, memCloser, err := buildMemoryBackend(ctx, cfg.Memory)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	if memCloser != nil {
		closers = append(closers, memCloser)
	}

	gwAdapter := gatewayAdapter{gw: gw}
	memStore := memory.New(memBackend, &memory.GatewayExtractor{Gateway: gwAdapter}, &memory.GatewaySummarizer{Gateway: gwAdapter}, nil, memory.Config{
		RecentRatio:        cfg.Memory.SummaryRecentRatio,
		SummaryRatio:       cfg.Memory.SummarySummaryRatio,
		FactsRatio:         cfg.Memory.SummaryFactsRatio,
		MaxCompressRetries: cfg.Memory.MaxCompressRetries,
	})
	if cfg.Memory.VectorBackend == "qdrant" && cfg.Memory.QdrantAddr != "" {
		if idx, err := memory.NewQdrantFactIndex(cfg.Memory.QdrantAddr, cfg.Memory.QdrantCollection, cfg.Embedding.Dimensions); err == nil {
			memStore = memStore.WithFactIndex(idx)
			if c, ok := idx.(interface{ Close() error }); ok {
				closers = append(closers, func() { _ = c.Close() })
			}
		} else {
			log.Warn().Err(err).Msg("qdrant fact index unavailable, falling back to linear scan")
		}
	}

	rtr := router.New(embedder, router.DefaultProbes)
	if err := rtr.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("router probe refresh failed, falling back to keyword classification")
	}

	pr := primer.New(
		embedder,
		&primer.MemoryStoreProvider{Facts: memStore},
		primer.NoSuccessPatterns{},
		primer.StaticToolHints{},
		primer.NewFileInstructionLoader(cfg.Primer.InstructionsDir),
		primer.Config{
			CacheCapacity:       cfg.Primer.CacheCapacity,
			CacheTTL:            cfg.Primer.CacheTTL,
			HitSimilarity:       cfg.Primer.HitSimilarity,
			MemoriesPerCategory: cfg.Primer.MemoriesPerCategory,
			PatternsPerCategory: cfg.Primer.PatternsPerCategory,
		},
	)

	errMem := errormemory.New(embedder, errormemory.NewMemoryStore())

	metricsBackend, err := buildMetricsBackend(ctx, cfg.Metrics)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	rec := metrics.New(metricsBackend)

	refl := reflection.New(rec, errMem, noPatterns{}, noStreak{})

	cond := conductor.New(gw, gw, conductor.Config{
		CheckWindow:     cfg.Conductor.CheckWindow,
		MaxCheckWindow:  cfg.Conductor.CheckWidenCap,
		MaxRegenRetries: cfg.Conductor.MaxRegenRetries,
		SmallParams:     gateway.Params{MaxTokens: cfg.Conductor.MaxCheckTokens},
	})

	sm := slots.New(slots.Config{
		UserConcurrency:   cfg.Slot.UserConcurrency,
		QueueDepthCap:     cfg.Slot.QueueCap,
		HeartbeatInterval: cfg.Slot.HeartbeatInterval,
	})

	lock := privacy.New(cfg.Privacy.IdleTimeout)

	core := &facade.Core{
		Gateway:     gw,
		Router:      rtr,
		Primer:      pr,
		Memory:      memStore,
		ErrorMemory: errMem,
		Reflection:  refl,
		Conductor:   cond,
		Slots:       sm,
		Metrics:     rec,
		Privacy:     lock,
		Patterns:    resolver.DefaultPatterns,
	}
	return core, closeFn, nil
}

// noStreak reports no positive-feedback streak; this build has nowhere to
// persist per-day streak state outside the Metrics Recorder's own
// append-only outcomes, which ScoresAsOf already derives IQ/Empathy from.
type noStreak struct{}

func (noStreak) PositiveStreak(ctx context.Context) (int, error) { return 0, nil }

// noPatterns mirrors primer.NoSuccessPatterns for the Self-Reflection
// Builder's distinct PatternSource shape (TopSuccessPatterns vs
// SuccessPatterns): this build has no per-category or global store of
// which approaches scored well, so both report none.
type noPatterns struct{}

func (noPatterns) TopSuccessPatterns(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}

func buildMemoryBackend(ctx context.Context, cfg config.MemoryConfig) (memory.Backend, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("memory: connect postgres: %w", err)
		}
		backend := memory.NewPostgresBackend(pool)
		if init, ok := backend.(memory.Initializer); ok {
			if err := init.Init(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("memory: init postgres schema: %w", err)
			}
		}
		return backend, pool.Close, nil
	default:
		return memory.NewMemoryBackend(), nil, nil
	}
}

func buildMetricsBackend(ctx context.Context, cfg config.MetricsConfig) (metrics.OutcomeBackend, error) {
	switch cfg.Backend {
	case "clickhouse":
		return metrics.NewClickHouseBackend(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDB, "interaction_outcomes")
	default:
		return metrics.NewRingBufferBackend(10000), nil
	}
}

// runREPL drives the facade from stdin: one line is one chat query against
// a single standing conversation, printing streamed tokens as they arrive.
// A real deployment's HTTP/SSE layer would call facade.Core.Chat the same
// way, just fanning events out over a network connection instead of stdout.
func runREPL(ctx context.Context, core *facade.Core) error {
	scanner := bufio.NewScanner(os.Stdin)
	var convID string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, events, err := core.Chat(ctx, facade.ChatRequest{Query: line, ConversationID: convID})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		for ev := range events {
			switch ev.Kind {
			case facade.EventToken:
				fmt.Print(ev.Text)
			case facade.EventDone:
				fmt.Println()
			case facade.EventError:
				fmt.Fprintln(os.Stderr, "\nerror:", ev.ErrKind, ev.ErrMessage)
			case facade.EventCancelled:
				fmt.Fprintln(os.Stderr, "\ncancelled")
			}
		}

		if convID == "" {
			if convs, err := core.ListConversations(ctx); err == nil && len(convs) > 0 {
				convID = convs[0].ID
			}
		}
	}
	return scanner.Err()
}
