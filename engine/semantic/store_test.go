package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- mocks ---

type mockPoints struct {
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	upsertReq  *pb.UpsertPoints
	deleteResp *pb.PointsOperationResponse
	deleteErr  error
	deleteReq  *pb.DeletePoints
	searchResp *pb.SearchResponse
	searchErr  error
	searchReq  *pb.SearchPoints
	countResp  *pb.CountResponse
	countErr   error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleteReq = in
	return m.deleteResp, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}
func (m *mockPoints) Count(_ context.Context, _ *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	return m.countResp, m.countErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	created    bool
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = true
	return m.createResp, m.createErr
}

// --- tests ---

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "segments"}},
		},
	}
	vs := NewWithClients(&mockPoints{}, cols, "segments")
	if err := vs.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.created {
		t.Error("existing collection must not be recreated")
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols, "segments")
	if err := vs.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cols.created {
		t.Error("missing collection should be created")
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	vs := NewWithClients(&mockPoints{}, cols, "segments")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_Empty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "segments")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.upsertReq != nil {
		t.Error("empty batch must not reach the index")
	}
}

func TestUpsert_BuildsPayload(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "segments")
	recs := []Record{
		{
			ID:        "11111111-1111-1111-1111-111111111111",
			Embedding: []float32{0.1, 0.2},
			Payload: map[string]any{
				"text":        "segment text",
				"document_id": "doc-1",
				"title":       "manual.pdf",
				"ordinal":     3,
			},
		},
	}
	if err := vs.Upsert(context.Background(), recs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.upsertReq == nil || len(pts.upsertReq.GetPoints()) != 1 {
		t.Fatal("expected one point")
	}
	p := pts.upsertReq.GetPoints()[0]
	if p.GetPayload()["document_id"].GetStringValue() != "doc-1" {
		t.Error("document_id payload missing")
	}
	if p.GetPayload()["ordinal"].GetIntegerValue() != 3 {
		t.Error("ordinal payload missing")
	}
}

func TestDeleteByDocID(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "segments")
	if err := vs.DeleteByDocID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	filter := pts.deleteReq.GetPoints().GetFilter()
	if filter == nil || len(filter.GetMust()) != 1 {
		t.Fatal("expected a single filter condition")
	}
	cond := filter.GetMust()[0].GetField()
	if cond.GetKey() != "document_id" {
		t.Errorf("filter key: got %s", cond.GetKey())
	}
}

func TestCountByDocID(t *testing.T) {
	pts := &mockPoints{countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 7}}}
	vs := NewWithClients(pts, &mockCollections{}, "segments")
	n, err := vs.CountByDocID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("count: got %d, want 7", n)
	}
}

func TestSearch_MapsPayload(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "seg-1"}},
					Score: 0.92,
					Payload: map[string]*pb.Value{
						"text":        {Kind: &pb.Value_StringValue{StringValue: "hello"}},
						"document_id": {Kind: &pb.Value_StringValue{StringValue: "doc-1"}},
						"title":       {Kind: &pb.Value_StringValue{StringValue: "guide.pdf"}},
						"ordinal":     {Kind: &pb.Value_IntegerValue{IntegerValue: 2}},
					},
				},
			},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, "segments")
	results, err := vs.Search(context.Background(), []float32{0.5}, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.SegmentID != "seg-1" || r.DocumentID != "doc-1" || r.Ordinal != 2 || r.Text != "hello" {
		t.Errorf("unexpected result: %+v", r)
	}
	// Vectors must not be requested back.
	if pts.searchReq.GetWithVectors().GetEnable() {
		t.Error("search should not request raw vectors")
	}
}

func TestSearch_Error(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("index down")}
	vs := NewWithClients(pts, &mockCollections{}, "segments")
	if _, err := vs.Search(context.Background(), []float32{0.5}, 4); err == nil {
		t.Fatal("expected error")
	}
}
