// Package ingest provides the ingestion pipeline that processes uploaded
// documents through extraction, chunking, embedding, and vector index
// storage, producing a stable document identifier.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docpilot-ai/docpilot/engine/chunk"
	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/extract"
	"github.com/docpilot-ai/docpilot/engine/semantic"
	"github.com/docpilot-ai/docpilot/pkg/fn"
	"github.com/docpilot-ai/docpilot/pkg/metrics"
	"github.com/google/uuid"
)

// Embedder maps a batch of texts to dense vectors, order-preserving. An
// empty input yields an empty output without a remote call.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the subset of the vector store the ingestion pipeline
// writes to. The ingestion pipeline is the sole writer.
type VectorIndex interface {
	Upsert(ctx context.Context, records []semantic.Record) error
	DeleteByDocID(ctx context.Context, docID string) error
	CountByDocID(ctx context.Context, docID string) (uint64, error)
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder Embedder
	Index    VectorIndex
	Splitter *chunk.Splitter
	Logger   *slog.Logger
	Metrics  *metrics.Registry
}

// SegmentID derives the deterministic point ID for a segment from its owning
// document and ordinal, so re-ingestion of the same document replaces the
// prior points instead of accumulating next to them.
func SegmentID(docID string, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", docID, ordinal))).String()
}

// --- Pipeline Stages ---

// Extract converts the raw byte stream into plain text. Unsupported formats
// fail here; an empty extraction result is not an error.
var Extract fn.Stage[RawDocument, ExtractedDoc] = func(_ context.Context, raw RawDocument) fn.Result[ExtractedDoc] {
	text, err := extract.Text(raw.Data)
	if err != nil {
		return fn.Err[ExtractedDoc](err)
	}
	return fn.Ok(ExtractedDoc{
		DocumentID: raw.DocumentID,
		Title:      raw.Title,
		Text:       text,
		Replace:    raw.Replace,
	})
}

// NewChunk creates the chunking stage. Segment order follows source order
// and defines each segment's ordinal.
func NewChunk(sp *chunk.Splitter) fn.Stage[ExtractedDoc, ChunkedDoc] {
	return func(_ context.Context, doc ExtractedDoc) fn.Result[ChunkedDoc] {
		pieces := sp.Split(doc.Text)
		segments := make([]domain.Segment, len(pieces))
		for i, text := range pieces {
			segments[i] = domain.Segment{
				ID:         SegmentID(doc.DocumentID, i),
				DocumentID: doc.DocumentID,
				Ordinal:    i,
				Text:       text,
			}
		}
		return fn.Ok(ChunkedDoc{ExtractedDoc: doc, Segments: segments})
	}
}

// NewEmbed creates the embedding stage: one batch call for all segments. A
// document with zero segments short-circuits without a collaborator call.
func NewEmbed(client Embedder) fn.Stage[ChunkedDoc, EmbeddedDoc] {
	return func(ctx context.Context, doc ChunkedDoc) fn.Result[EmbeddedDoc] {
		if len(doc.Segments) == 0 {
			return fn.Ok(EmbeddedDoc{ChunkedDoc: doc})
		}

		texts := fn.Map(doc.Segments, func(s domain.Segment) string { return s.Text })
		vectors, err := client.EmbedBatch(ctx, texts)
		if err != nil {
			return fn.Err[EmbeddedDoc](domain.UpstreamDoc(domain.StageEmbed, doc.DocumentID, err))
		}
		if len(vectors) != len(doc.Segments) {
			return fn.Err[EmbeddedDoc](domain.UpstreamDoc(domain.StageEmbed, doc.DocumentID,
				fmt.Errorf("got %d vectors for %d segments", len(vectors), len(doc.Segments))))
		}
		for i := range doc.Segments {
			doc.Segments[i].Embedding = vectors[i]
		}
		return fn.Ok(EmbeddedDoc{ChunkedDoc: doc})
	}
}

// NewStore creates the storage stage. On the update path the document's old
// segments are deleted first, so an update is observably delete-then-insert
// and never leaves a superset of old and new segments. If the delete lands
// but the upsert fails, the document is left empty and the failure is
// surfaced as a PartialFailureError; no rollback is attempted.
func NewStore(idx VectorIndex) fn.Stage[EmbeddedDoc, string] {
	return func(ctx context.Context, doc EmbeddedDoc) fn.Result[string] {
		if doc.Replace {
			if err := idx.DeleteByDocID(ctx, doc.DocumentID); err != nil {
				return fn.Err[string](domain.UpstreamDoc(domain.StageIndex, doc.DocumentID, err))
			}
		}

		records := make([]semantic.Record, len(doc.Segments))
		for i, seg := range doc.Segments {
			records[i] = semantic.Record{
				ID:        seg.ID,
				Embedding: seg.Embedding,
				Payload: map[string]any{
					"document_id": seg.DocumentID,
					"ordinal":     seg.Ordinal,
					"title":       doc.Title,
					"text":        domain.Excerpt(seg.Text),
				},
			}
		}
		if err := idx.Upsert(ctx, records); err != nil {
			if doc.Replace {
				return fn.Err[string](&domain.PartialFailureError{DocumentID: doc.DocumentID, Wrapped: err})
			}
			return fn.Err[string](domain.UpstreamDoc(domain.StageIndex, doc.DocumentID, err))
		}

		return fn.Ok(doc.DocumentID)
	}
}

// Service exposes the boundary operations over the pipeline. Each request is
// an independent, stateless pipeline invocation; the only shared state is
// the collaborator handles and the per-document write locks.
type Service struct {
	pipeline fn.Stage[RawDocument, string]
	index    VectorIndex
	locks    *lockTable
	log      *slog.Logger

	mIngests  *metrics.Counter
	mSegments *metrics.Counter
	mInFlight *metrics.Gauge
	mDuration *metrics.Histogram
}

// NewService builds the ingestion service from its dependencies.
func NewService(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	met := deps.Metrics
	if met == nil {
		met = metrics.New()
	}
	s := &Service{
		index:     deps.Index,
		locks:     newLockTable(),
		log:       log,
		mIngests:  met.Counter("docpilot_ingest_docs_total", "Documents ingested"),
		mSegments: met.Counter("docpilot_ingest_segments_total", "Segments indexed"),
		mInFlight: met.Gauge("docpilot_ingest_in_flight", "Pipeline runs in progress"),
		mDuration: met.Histogram("docpilot_ingest_duration_seconds", "Per-document pipeline time", nil),
	}

	extracted := fn.Then(
		fn.TracedStage("ingest.extract", Extract),
		fn.TracedStage("ingest.chunk", NewChunk(deps.Splitter)),
	)
	embedded := fn.Then(extracted, fn.TracedStage("ingest.embed", NewEmbed(deps.Embedder)))
	counted := fn.Then(embedded, fn.TapStage(func(_ context.Context, d EmbeddedDoc) {
		s.mSegments.Add(int64(len(d.Segments)))
	}))
	s.pipeline = fn.Then(counted, fn.TracedStage("ingest.store", NewStore(deps.Index)))
	return s
}

// Ingest processes a new document and returns its freshly generated id. An
// empty extracted document still succeeds with zero segments indexed.
func (s *Service) Ingest(ctx context.Context, data []byte, title string) (string, error) {
	docID := uuid.NewString()
	return s.run(ctx, RawDocument{DocumentID: docID, Title: title, Data: data})
}

// Update re-ingests a document under an existing id, replacing its segments.
// An unknown id is not rejected; it simply gets fresh segments.
func (s *Service) Update(ctx context.Context, docID string, data []byte, title string) (string, error) {
	unlock := s.locks.acquire(docID)
	defer unlock()
	return s.run(ctx, RawDocument{DocumentID: docID, Title: title, Data: data, Replace: true})
}

// Delete removes all segments of a document. It reports whether any segments
// existed; the boundary maps "none existed" to not-found.
func (s *Service) Delete(ctx context.Context, docID string) (bool, error) {
	unlock := s.locks.acquire(docID)
	defer unlock()

	n, err := s.index.CountByDocID(ctx, docID)
	if err != nil {
		return false, domain.UpstreamDoc(domain.StageIndex, docID, err)
	}
	if n == 0 {
		return false, nil
	}
	if err := s.index.DeleteByDocID(ctx, docID); err != nil {
		return false, domain.UpstreamDoc(domain.StageIndex, docID, err)
	}
	s.log.Info("document deleted", "doc_id", docID, "segments", n)
	return true, nil
}

func (s *Service) run(ctx context.Context, raw RawDocument) (string, error) {
	start := time.Now()
	s.mInFlight.Inc()
	defer s.mInFlight.Dec()
	result := s.pipeline(ctx, raw)
	docID, err := result.Unwrap()
	if err != nil {
		s.log.Error("ingest pipeline failed", "doc_id", raw.DocumentID, "error", err)
		return "", err
	}
	s.mIngests.Inc()
	s.mDuration.Since(start)
	doc := raw.Doc()
	s.log.Info("document ingested", "doc_id", docID, "title", doc.Title, "replace", raw.Replace, "duration", time.Since(start))
	return docID, nil
}
