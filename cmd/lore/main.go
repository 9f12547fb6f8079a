// Command lore runs the document question-answering service.
//
// It wires the configured store, LLM provider, embedding provider, retrieval
// tool, and ingestion pipeline into an Assistant, then serves a small JSON
// API: POST /api/chat, POST /api/documents, GET /api/conversations/{uid}/...
// Configuration comes from lore.toml plus LORE_* env overrides.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lore "github.com/nevindra/lore"
	"github.com/nevindra/lore/ingest"
	"github.com/nevindra/lore/internal/config"
	"github.com/nevindra/lore/observer"
	"github.com/nevindra/lore/provider/openaicompat"
	"github.com/nevindra/lore/store/postgres"
	"github.com/nevindra/lore/store/sqlite"
	"github.com/nevindra/lore/tools/retrieval"

	"github.com/jackc/pgx/v5/pgxpool"
)

// dataStore is the full persistence surface the service needs. Both store
// backends satisfy it.
type dataStore interface {
	lore.ConversationStore
	lore.RecordStore
	lore.DocumentStore
	Init(ctx context.Context) error
	Close() error
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Load(os.Getenv("LORE_CONFIG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		log.Fatalf("init store: %v", err)
	}

	var provider lore.Provider = openaicompat.NewProvider(
		cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		openaicompat.WithName(cfg.LLM.Name),
	)
	var embedding lore.EmbeddingProvider = openaicompat.NewEmbedding(
		cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL,
		cfg.Embedding.Dimensions,
	)

	var tracer lore.Tracer
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			log.Fatalf("init observer: %v", err)
		}
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(shutCtx); err != nil {
				logger.Error("observer shutdown", "error", err)
			}
		}()
		provider = observer.WrapProvider(provider, cfg.LLM.Model, inst)
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
		tracer = observer.NewTracer()
	}

	var searchTool lore.Tool = retrieval.New(store, embedding,
		retrieval.WithTopK(cfg.Agent.VectorTopK))
	if inst != nil {
		searchTool = observer.WrapTool(searchTool, inst)
	}

	assistantOpts := []lore.AssistantOption{
		lore.WithTools(searchTool),
		lore.WithLogger(logger),
		lore.WithAgentMaxIterations(cfg.Agent.MaxIterations),
		lore.WithAgentTemperature(cfg.Agent.Temperature),
		lore.WithAgentTopK(cfg.Agent.VectorTopK),
		lore.WithAgentMaxContextChars(cfg.Agent.MaxContextChars),
	}
	if tracer != nil {
		assistantOpts = append(assistantOpts, lore.WithTracer(tracer))
	}
	assistant := lore.NewAssistant(provider, store, store, assistantOpts...)

	var turns turnRunner = assistant
	if inst != nil {
		turns = observer.WrapTurns(assistant, inst)
	}

	ingestor := ingest.NewIngestor(store, embedding,
		ingest.WithChunker(ingest.NewRecursiveChunker(
			ingest.WithMaxChars(cfg.Ingest.MaxChunkChars),
			ingest.WithOverlapChars(cfg.Ingest.OverlapChars),
		)),
		ingest.WithLogger(logger),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newServer(turns, assistant, ingestor, logger).routes(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "llm", cfg.LLM.Model, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (dataStore, error) {
	if cfg.Database.Driver == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, err
		}
		return postgres.New(pool,
			postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions)), nil
	}
	return sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger)), nil
}
