// Package main implements the docpilot API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docpilot-ai/docpilot/engine/chunk"
	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/ingest"
	"github.com/docpilot-ai/docpilot/engine/rag"
	"github.com/docpilot-ai/docpilot/engine/semantic"
	"github.com/docpilot-ai/docpilot/pkg/ai"
	"github.com/docpilot-ai/docpilot/pkg/fn"
	"github.com/docpilot-ai/docpilot/pkg/metrics"
	"github.com/docpilot-ai/docpilot/pkg/mid"
	"github.com/docpilot-ai/docpilot/pkg/resilience"
	"github.com/nats-io/nats.go"
)

// maxUploadBytes caps document uploads.
const maxUploadBytes = 64 << 20

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	Provider     string
	OpenAIURL    string
	OpenAIKey    string
	EmbedModel   string
	ChatModel    string
	ProviderRPS  float64
	QdrantURL    string
	Collection   string
	ChunkSize    int
	ChunkOverlap int
	EmbedDim     int
	TopK         int
	NATSURL      string
	CORSOrigin   string
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		Provider:     envOr("MODEL_PROVIDER", "openai"),
		OpenAIURL:    envOr("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIKey:    envOr("OPENAI_API_KEY", ""),
		EmbedModel:   envOr("EMBED_MODEL", "text-embedding-3-small"),
		ChatModel:    envOr("CHAT_MODEL", "gpt-4o-mini"),
		ProviderRPS:  envFloat("PROVIDER_RPS", 10),
		QdrantURL:    envOr("QDRANT_URL", "localhost:6334"),
		Collection:   envOr("QDRANT_COLLECTION", "docpilot"),
		ChunkSize:    envInt("CHUNK_SIZE", chunk.DefaultSize),
		ChunkOverlap: envInt("CHUNK_OVERLAP", chunk.DefaultOverlap),
		EmbedDim:     envInt("EMBED_DIM", domain.DefaultEmbeddingDim),
		TopK:         envInt("TOP_K", rag.DefaultOptions().TopK),
		NATSURL:      envOr("NATS_URL", ""),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()

	// --- Chunker ---
	splitter, err := chunk.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("chunker config: %w", err)
	}

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	ensure := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, vectorStore.EnsureCollection(ctx, cfg.EmbedDim))
	})
	if _, err := ensure.Unwrap(); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	// --- Model provider with circuit breakers ---
	var provider modelProvider
	switch cfg.Provider {
	case "ollama":
		provider = ai.NewOllama(cfg.OpenAIURL, cfg.EmbedModel, cfg.ChatModel)
	default:
		provider = ai.NewOpenAI(ai.OpenAIOptions{
			BaseURL:           cfg.OpenAIURL,
			APIKey:            cfg.OpenAIKey,
			EmbedModel:        cfg.EmbedModel,
			ChatModel:         cfg.ChatModel,
			RequestsPerSecond: cfg.ProviderRPS,
		})
	}
	embedder := &breakerEmbedder{
		inner:   provider,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
	generator := &breakerGenerator{
		inner:   provider,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}

	// --- Build services ---
	ingestSvc := ingest.NewService(ingest.Deps{
		Embedder: embedder,
		Index:    vectorStore,
		Splitter: splitter,
		Logger:   logger,
		Metrics:  met,
	})
	ragSvc := rag.New(embedder, generator, vectorStore,
		rag.Options{TopK: cfg.TopK}, logger, met)

	// --- Optional NATS consumer for async ingestion ---
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		sub, err := ingest.StartConsumer(nc, ingestSvc, logger)
		if err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer sub.Unsubscribe()
		logger.Info("ingest consumer started", "subject", ingest.IngestSubject)
	}

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/documents", handleUpload(ingestSvc, logger))
	mux.HandleFunc("PUT /api/documents/{id}", handleUpdate(ingestSvc, logger))
	mux.HandleFunc("DELETE /api/documents/{id}", handleDelete(ingestSvc, logger))
	mux.HandleFunc("POST /api/chat", handleChat(ragSvc, logger))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.MaxBody(maxUploadBytes),
		mid.OTel("docpilot-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// UploadResponse is the JSON response for document ingestion.
type UploadResponse struct {
	DocumentID string `json:"document_id"`
}

// readUpload pulls the PDF bytes and display title out of a request. It
// accepts multipart form uploads under the "file" field and falls back to a
// raw body with an optional "title" query parameter.
func readUpload(r *http.Request) ([]byte, string, error) {
	ct := r.Header.Get("Content-Type")
	if len(ct) >= 19 && ct[:19] == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("missing file field: %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		title := r.FormValue("title")
		if title == "" {
			title = header.Filename
		}
		return data, title, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	return data, r.URL.Query().Get("title"), nil
}

func handleUpload(svc *ingest.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, title, err := readUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid upload")
			return
		}

		docID, err := svc.Ingest(r.Context(), data, title)
		if err != nil {
			writeIngestError(w, logger, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(UploadResponse{DocumentID: docID})
	}
}

func handleUpdate(svc *ingest.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := r.PathValue("id")
		data, title, err := readUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid upload")
			return
		}

		if _, err := svc.Update(r.Context(), docID, data, title); err != nil {
			writeIngestError(w, logger, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(UploadResponse{DocumentID: docID})
	}
}

func handleDelete(svc *ingest.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := r.PathValue("id")
		existed, err := svc.Delete(r.Context(), docID)
		if err != nil {
			writeIngestError(w, logger, err)
			return
		}
		if !existed {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Question string `json:"question"`
}

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	Answer  string       `json:"answer"`
	Sources []rag.Source `json:"sources"`
}

func handleChat(ragSvc *rag.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		answer, err := ragSvc.Query(r.Context(), req.Question)
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				writeError(w, http.StatusBadRequest, ve.Error())
				return
			}
			logger.Error("rag query failed", "err", err)
			writeError(w, http.StatusBadGateway, "upstream service failure")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			Answer:  answer.Text,
			Sources: answer.Sources,
		})
	}
}

// writeIngestError maps pipeline errors onto HTTP statuses. Partial failures
// get their own code so clients know a retry of the same update repairs the
// document.
func writeIngestError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, domain.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	default:
		logger.Error("ingest failed", "err", err)
		var pf *domain.PartialFailureError
		if errors.As(err, &pf) {
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":       "document left without segments, retry the update",
				"code":        "partial_failure",
				"document_id": pf.DocumentID,
			})
			return
		}
		writeError(w, http.StatusBadGateway, "upstream service failure")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- Adapters ---

// modelProvider is what both pkg/ai clients offer.
type modelProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

// breakerEmbedder guards the embedding endpoint with a circuit breaker shared
// by the ingest and query paths.
type breakerEmbedder struct {
	inner   modelProvider
	breaker *resilience.Breaker
}

func (b *breakerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.inner.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

// breakerGenerator guards the chat completion endpoint.
type breakerGenerator struct {
	inner   modelProvider
	breaker *resilience.Breaker
}

func (b *breakerGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.inner.Generate(ctx, prompt)
		return err
	})
	return out, err
}
