package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/docpilot-ai/docpilot/engine/chunk"
	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/semantic"
	"github.com/docpilot-ai/docpilot/pkg/fn"
)

// --- fakes ---

type fakeEmbedder struct {
	dim   int
	err   error
	calls int
	texts []string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.texts = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

type fakeIndex struct {
	ops       []string
	upserted  []semantic.Record
	upsertErr error
	deleteErr error
	count     uint64
	countErr  error
}

func (f *fakeIndex) Upsert(_ context.Context, records []semantic.Record) error {
	f.ops = append(f.ops, "upsert")
	f.upserted = records
	return f.upsertErr
}

func (f *fakeIndex) DeleteByDocID(_ context.Context, _ string) error {
	f.ops = append(f.ops, "delete")
	return f.deleteErr
}

func (f *fakeIndex) CountByDocID(_ context.Context, _ string) (uint64, error) {
	f.ops = append(f.ops, "count")
	return f.count, f.countErr
}

func splitter(t *testing.T) *chunk.Splitter {
	t.Helper()
	sp, err := chunk.New(40, 8)
	if err != nil {
		t.Fatal(err)
	}
	return sp
}

// chunked runs the chunk stage over pre-extracted text.
func chunked(t *testing.T, doc ExtractedDoc) ChunkedDoc {
	t.Helper()
	res := NewChunk(splitter(t))(context.Background(), doc)
	out, err := res.Unwrap()
	if err != nil {
		t.Fatalf("chunk stage: %v", err)
	}
	return out
}

// --- stage tests ---

func TestSegmentID_Deterministic(t *testing.T) {
	a := SegmentID("doc-1", 0)
	b := SegmentID("doc-1", 0)
	c := SegmentID("doc-1", 1)
	d := SegmentID("doc-2", 0)
	if a != b {
		t.Error("same doc and ordinal must derive the same id")
	}
	if a == c || a == d {
		t.Error("distinct ordinal or doc must derive distinct ids")
	}
}

func TestChunkStage_AssignsOrdinals(t *testing.T) {
	doc := chunked(t, ExtractedDoc{
		DocumentID: "doc-1",
		Text:       "First sentence here. Second sentence here. Third sentence follows after that one.",
	})
	if len(doc.Segments) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(doc.Segments))
	}
	for i, seg := range doc.Segments {
		if seg.Ordinal != i {
			t.Errorf("segment %d has ordinal %d", i, seg.Ordinal)
		}
		if seg.DocumentID != "doc-1" {
			t.Errorf("segment %d has document %s", i, seg.DocumentID)
		}
		if seg.ID != SegmentID("doc-1", i) {
			t.Errorf("segment %d id not deterministic", i)
		}
	}
}

func TestChunkStage_EmptyText(t *testing.T) {
	doc := chunked(t, ExtractedDoc{DocumentID: "doc-1", Text: ""})
	if len(doc.Segments) != 0 {
		t.Errorf("empty text: expected zero segments, got %d", len(doc.Segments))
	}
}

func TestEmbedStage_EmptyShortCircuits(t *testing.T) {
	emb := &fakeEmbedder{dim: 4}
	res := NewEmbed(emb)(context.Background(), ChunkedDoc{})
	if _, err := res.Unwrap(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.calls != 0 {
		t.Error("zero segments must not reach the embedding client")
	}
}

func TestEmbedStage_OneBatchCall(t *testing.T) {
	emb := &fakeEmbedder{dim: 4}
	doc := chunked(t, ExtractedDoc{
		DocumentID: "doc-1",
		Text:       "First sentence here. Second sentence here. Third sentence follows after that one.",
	})
	res := NewEmbed(emb)(context.Background(), doc)
	out, err := res.Unwrap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.calls != 1 {
		t.Errorf("expected exactly one batch call, got %d", emb.calls)
	}
	if len(emb.texts) != len(doc.Segments) {
		t.Errorf("batch size %d, want %d", len(emb.texts), len(doc.Segments))
	}
	for i, seg := range out.Segments {
		if len(seg.Embedding) != 4 {
			t.Errorf("segment %d missing embedding", i)
		}
	}
}

func TestEmbedStage_UpstreamError(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("provider down")}
	doc := chunked(t, ExtractedDoc{DocumentID: "doc-1", Text: "Some content to embed."})
	_, err := NewEmbed(emb)(context.Background(), doc).Unwrap()
	var up *domain.UpstreamServiceError
	if !errors.As(err, &up) {
		t.Fatalf("expected UpstreamServiceError, got %v", err)
	}
	if up.Stage != domain.StageEmbed {
		t.Errorf("stage: got %s", up.Stage)
	}
}

func TestStoreStage_InsertOnly(t *testing.T) {
	idx := &fakeIndex{}
	doc := EmbeddedDoc{ChunkedDoc: chunked(t, ExtractedDoc{DocumentID: "doc-1", Title: "guide.pdf", Text: "Hello world content."})}
	docID, err := NewStore(idx)(context.Background(), doc).Unwrap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docID != "doc-1" {
		t.Errorf("returned id: got %s", docID)
	}
	if len(idx.ops) != 1 || idx.ops[0] != "upsert" {
		t.Errorf("fresh ingestion must not delete, ops: %v", idx.ops)
	}
	if idx.upserted[0].Payload["title"] != "guide.pdf" {
		t.Error("title missing from payload")
	}
}

func TestStoreStage_UpdateDeletesFirst(t *testing.T) {
	idx := &fakeIndex{}
	doc := EmbeddedDoc{ChunkedDoc: chunked(t, ExtractedDoc{DocumentID: "doc-1", Text: "New revision content.", Replace: true})}
	if _, err := NewStore(idx)(context.Background(), doc).Unwrap(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.ops) != 2 || idx.ops[0] != "delete" || idx.ops[1] != "upsert" {
		t.Errorf("update must be delete-then-insert, ops: %v", idx.ops)
	}
}

func TestStoreStage_PartialFailure(t *testing.T) {
	idx := &fakeIndex{upsertErr: errors.New("index down")}
	doc := EmbeddedDoc{ChunkedDoc: chunked(t, ExtractedDoc{DocumentID: "doc-1", Text: "New revision content.", Replace: true})}
	_, err := NewStore(idx)(context.Background(), doc).Unwrap()
	var pf *domain.PartialFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("expected PartialFailureError, got %v", err)
	}
	if pf.DocumentID != "doc-1" {
		t.Errorf("document id: got %s", pf.DocumentID)
	}
}

func TestStoreStage_InsertFailureIsUpstream(t *testing.T) {
	idx := &fakeIndex{upsertErr: errors.New("index down")}
	doc := EmbeddedDoc{ChunkedDoc: chunked(t, ExtractedDoc{DocumentID: "doc-1", Text: "Fresh content."})}
	_, err := NewStore(idx)(context.Background(), doc).Unwrap()
	var pf *domain.PartialFailureError
	if errors.As(err, &pf) {
		t.Fatal("fresh ingestion failure must not be a partial failure")
	}
	var up *domain.UpstreamServiceError
	if !errors.As(err, &up) || up.Stage != domain.StageIndex {
		t.Fatalf("expected index-stage upstream error, got %v", err)
	}
}

// --- service tests ---

func newTestService(t *testing.T, idx *fakeIndex, emb *fakeEmbedder) *Service {
	t.Helper()
	return NewService(Deps{Embedder: emb, Index: idx, Splitter: splitter(t)})
}

func TestService_IngestRejectsNonPDF(t *testing.T) {
	svc := newTestService(t, &fakeIndex{}, &fakeEmbedder{dim: 4})
	_, err := svc.Ingest(context.Background(), []byte("not a pdf"), "notes.txt")
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestService_EmptyDocumentSucceeds(t *testing.T) {
	idx := &fakeIndex{}
	svc := newTestService(t, idx, &fakeEmbedder{dim: 4})
	// Bypass extraction: feed the pipeline stages from the chunk stage on.
	svc.pipeline = func(ctx context.Context, raw RawDocument) fn.Result[string] {
		doc := ExtractedDoc{DocumentID: raw.DocumentID, Title: raw.Title, Text: "", Replace: raw.Replace}
		res := NewChunk(splitter(t))(ctx, doc)
		ch, _ := res.Unwrap()
		emb, _ := NewEmbed(&fakeEmbedder{dim: 4})(ctx, ch).Unwrap()
		return NewStore(idx)(ctx, emb)
	}
	docID, err := svc.Ingest(context.Background(), nil, "empty.pdf")
	if err != nil {
		t.Fatalf("empty document must still succeed: %v", err)
	}
	if docID == "" {
		t.Fatal("expected a document id")
	}
	if len(idx.upserted) != 0 {
		t.Errorf("expected zero segments indexed, got %d", len(idx.upserted))
	}
}

func TestService_DeleteNotFound(t *testing.T) {
	idx := &fakeIndex{count: 0}
	svc := newTestService(t, idx, &fakeEmbedder{dim: 4})
	existed, err := svc.Delete(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if existed {
		t.Error("document without segments must report not found")
	}
	for _, op := range idx.ops {
		if op == "delete" {
			t.Error("nothing to delete: index delete must not run")
		}
	}
}

func TestService_DeleteExisting(t *testing.T) {
	idx := &fakeIndex{count: 5}
	svc := newTestService(t, idx, &fakeEmbedder{dim: 4})
	existed, err := svc.Delete(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !existed {
		t.Error("document with segments must report removed")
	}
	if idx.ops[len(idx.ops)-1] != "delete" {
		t.Errorf("expected delete op, got %v", idx.ops)
	}
}
