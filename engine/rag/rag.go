// Package rag orchestrates the query-time pipeline: it embeds a user
// question, retrieves the nearest segments from the vector index, renders
// them into a context block, and conditions the generation client's answer
// on it. Each state advances linearly; any collaborator failure terminates
// the run with an error naming the failing stage.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/semantic"
	"github.com/docpilot-ai/docpilot/pkg/metrics"
)

// Embedder maps a batch of texts to dense vectors, order-preserving.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator maps a prompt to a single generated answer. No streaming.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever abstracts vector similarity search against the index.
type Retriever interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]semantic.SearchResult, error)
}

// Options configures the pipeline behaviour.
type Options struct {
	TopK        int
	Instruction string
}

// DefaultOptions returns the default retrieval depth and instruction
// template.
func DefaultOptions() Options {
	return Options{
		TopK:        4,
		Instruction: defaultInstruction,
	}
}

const defaultInstruction = "You are a helpful assistant. Use the following document context:"

// Service is the retrieval-generation orchestration service.
type Service struct {
	embed  Embedder
	gen    Generator
	search Retriever
	opts   Options
	logger *slog.Logger

	mQueries  *metrics.Counter
	mDuration *metrics.Histogram
}

// New creates a Service. All collaborator handles are injected; the service
// holds no other state and is safe for concurrent use.
func New(embed Embedder, gen Generator, search Retriever, opts Options, logger *slog.Logger, met *metrics.Registry) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if met == nil {
		met = metrics.New()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.Instruction == "" {
		opts.Instruction = defaultInstruction
	}
	return &Service{
		embed:     embed,
		gen:       gen,
		search:    search,
		opts:      opts,
		logger:    logger,
		mQueries:  met.Counter("docpilot_rag_queries_total", "Answered queries"),
		mDuration: met.Histogram("docpilot_rag_query_duration_seconds", "Full query pipeline time", nil),
	}
}

// Answer is the pipeline result: the generated text plus the provenance of
// the segments that conditioned it, in retrieval order.
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// Source is one contributing segment.
type Source struct {
	SegmentID  string  `json:"segment_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Score      float32 `json:"score"`
}

// Query runs the full pipeline for a user question. An empty index yields an
// answer with no sources, not an error; the model answers from the
// instruction template alone.
func (s *Service) Query(ctx context.Context, question string) (*Answer, error) {
	if err := domain.ValidateQueryText(question); err != nil {
		return nil, err
	}
	start := time.Now()
	s.logger.Info("rag query start", "question_len", len(question))

	q := domain.Query{Text: question}

	// 1. Embed the query.
	vectors, err := s.embed.EmbedBatch(ctx, []string{q.Text})
	if err != nil {
		return nil, domain.Upstream(domain.StageEmbed, err)
	}
	if len(vectors) != 1 {
		return nil, domain.Upstream(domain.StageEmbed, fmt.Errorf("got %d vectors for one query", len(vectors)))
	}
	q.Embedding = vectors[0]

	// 2. Retrieve the top-k nearest segments.
	results, err := s.search.Search(ctx, q.Embedding, s.opts.TopK)
	if err != nil {
		return nil, domain.Upstream(domain.StageRetrieve, err)
	}
	s.logger.Info("rag retrieval done", "results", len(results))

	// 3. Build the prompt from the retrieved context.
	prompt := s.buildPrompt(results, question)

	// 4. Generate the answer.
	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, domain.Upstream(domain.StageGenerate, err)
	}

	// 5. Assemble the answer with sources in retrieval order.
	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			SegmentID:  r.SegmentID,
			DocumentID: r.DocumentID,
			Title:      r.Title,
			Score:      r.Score,
		}
	}

	s.mQueries.Inc()
	s.mDuration.Since(start)
	s.logger.Info("rag query done", "sources", len(sources), "duration", time.Since(start))
	return &Answer{Text: text, Sources: sources}, nil
}

// buildPrompt renders the retrieved segments into a deterministic context
// block, each tagged with its rank so the model can reference it, followed
// by the original question. No truncation happens here; segment length is
// already bounded by the chunker.
func (s *Service) buildPrompt(results []semantic.SearchResult, question string) string {
	var b strings.Builder
	b.WriteString(s.opts.Instruction)
	b.WriteString("\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n", i, r.Text)
	}
	fmt.Fprintf(&b, "\nUser question: %s\nAnswer concisely.", question)
	return b.String()
}
