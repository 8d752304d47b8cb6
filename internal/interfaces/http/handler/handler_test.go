package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-rag-api/internal/application/extract"
	"docqa-rag-api/internal/application/ingest"
	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/internal/domain/entity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePipeline struct {
	queryRes  *rag.QueryResult
	queryErr  error
	ingestErr error
	lastQuery rag.QueryInput
	ingested  []rag.IngestInput
	count     int64
	cleared   bool
	sources   []rag.SourceSummary
}

func (f *fakePipeline) Query(_ context.Context, in rag.QueryInput) (*rag.QueryResult, error) {
	f.lastQuery = in
	return f.queryRes, f.queryErr
}

func (f *fakePipeline) Ingest(_ context.Context, in rag.IngestInput) (*rag.IngestResult, error) {
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	f.ingested = append(f.ingested, in)
	return &rag.IngestResult{ChunksCreated: 2, TotalTokens: 10, EstimatedCost: 0.001}, nil
}

func (f *fakePipeline) Count(context.Context) (int64, error) { return f.count, nil }

func (f *fakePipeline) Clear(context.Context) error {
	f.cleared = true
	return nil
}

func (f *fakePipeline) Sources(context.Context) ([]rag.SourceSummary, error) {
	return f.sources, nil
}

type fakeJobs struct {
	submitted *ingest.Request
	jobs      map[string]*ingest.Job
}

func (f *fakeJobs) Submit(_ context.Context, req *ingest.Request) (*ingest.Job, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("%w: empty text", rag.ErrValidation)
	}
	f.submitted = req
	return &ingest.Job{ID: "job-1", Status: ingest.JobStatusQueued, Source: req.Source}, nil
}

func (f *fakeJobs) Status(_ context.Context, id string) (*ingest.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, ingest.ErrJobNotFound
	}
	return job, nil
}

type fakeUsageRepo struct {
	since, until time.Time
	items        []*entity.UsageSummary
}

func (f *fakeUsageRepo) Create(context.Context, *entity.UsageEvent) error { return nil }

func (f *fakeUsageRepo) Summarize(_ context.Context, since, until time.Time) ([]*entity.UsageSummary, error) {
	f.since, f.until = since, until
	return f.items, nil
}

func newTestEngine(p *fakePipeline, jobs JobService, usage *UsageHandler) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("request_id", "req-test")
		c.Next()
	})
	q := NewQueryHandler(p)
	d := NewDocumentHandler(p, jobs, extract.NewExtractor(1024))
	r.POST("/v1/query", q.Query)
	r.POST("/v1/documents", d.Ingest)
	r.DELETE("/v1/documents", d.Clear)
	r.POST("/v1/documents/upload", d.Upload)
	r.POST("/v1/documents/async", d.IngestAsync)
	r.GET("/v1/documents/jobs/:id", d.GetJob)
	r.GET("/v1/documents/sources", d.Sources)
	r.GET("/v1/documents/count", d.Count)
	if usage != nil {
		r.GET("/v1/usage/summary", usage.Summary)
	}
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestQueryHandler_Success(t *testing.T) {
	p := &fakePipeline{queryRes: &rag.QueryResult{
		Answer:    "Go was created at Google [1].",
		Citations: []rag.Citation{{Index: 1, Source: "go.md", Content: "Go was created at Google."}},
	}}
	w := doJSON(t, newTestEngine(p, nil, nil), http.MethodPost, "/v1/query", map[string]any{"query": "who made go", "top_k": 3})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, p.lastQuery.TopK)
	body := decode(t, w)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Go was created at Google [1].", data["answer"])
	assert.Len(t, data["citations"], 1)
	assert.Equal(t, "req-test", body["request_id"])
}

func TestQueryHandler_MissingQuery(t *testing.T) {
	w := doJSON(t, newTestEngine(&fakePipeline{}, nil, nil), http.MethodPost, "/v1/query", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryHandler_StageFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "embedding",
			err:    &rag.StageError{Stage: rag.StageRetrieving, Err: fmt.Errorf("%w: upstream 500", rag.ErrEmbeddingFailed)},
			status: http.StatusBadGateway,
			code:   "4006",
		},
		{
			name:   "timeout",
			err:    &rag.StageError{Stage: rag.StageSynthesizing, Err: rag.ErrStageTimeout},
			status: http.StatusGatewayTimeout,
			code:   "4008",
		},
		{
			name:   "validation",
			err:    fmt.Errorf("%w: empty query", rag.ErrValidation),
			status: http.StatusBadRequest,
			code:   "4002",
		},
		{
			name:   "unknown",
			err:    fmt.Errorf("boom"),
			status: http.StatusInternalServerError,
			code:   "1007",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{queryErr: tt.err}
			w := doJSON(t, newTestEngine(p, nil, nil), http.MethodPost, "/v1/query", map[string]any{"query": "q"})

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.code, body["error_code"])
			data := body["data"].(map[string]any)
			assert.Equal(t, "", data["answer"])
			assert.Empty(t, data["citations"])
		})
	}
}

func TestDocumentHandler_Ingest(t *testing.T) {
	p := &fakePipeline{}
	w := doJSON(t, newTestEngine(p, nil, nil), http.MethodPost, "/v1/documents", map[string]any{
		"text": "hello world", "source": "a.txt", "chunk_size": 100, "overlap": 10,
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, p.ingested, 1)
	require.NotNil(t, p.ingested[0].Chunking)
	assert.Equal(t, 100, p.ingested[0].Chunking.ChunkSize)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "a.txt", data["source"])
	assert.EqualValues(t, 2, data["chunks_created"])
}

func TestDocumentHandler_IngestRejectsOversizedChunkSize(t *testing.T) {
	p := &fakePipeline{}
	w := doJSON(t, newTestEngine(p, nil, nil), http.MethodPost, "/v1/documents", map[string]any{
		"text": "hello world", "source": "a.txt", "chunk_size": rag.DefaultMaxChunkSize + 1,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, p.ingested)
}

func TestDocumentHandler_IngestNoValidChunks(t *testing.T) {
	p := &fakePipeline{ingestErr: &rag.StageError{Stage: rag.StageChunking, Err: rag.ErrNoValidChunks}}
	w := doJSON(t, newTestEngine(p, nil, nil), http.MethodPost, "/v1/documents", map[string]any{
		"text": "   ", "source": "blank.txt",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "4007", body["error"].(map[string]any)["error_code"])
}

func upload(t *testing.T, r http.Handler, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDocumentHandler_Upload(t *testing.T) {
	t.Run("markdown defaults source to filename", func(t *testing.T) {
		p := &fakePipeline{}
		w := upload(t, newTestEngine(p, nil, nil), "notes.md", "# Title\n\nbody", nil)

		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, p.ingested, 1)
		assert.Equal(t, "notes.md", p.ingested[0].Source)
		assert.Equal(t, "# Title\n\nbody", p.ingested[0].Text)
	})

	t.Run("explicit source and title", func(t *testing.T) {
		p := &fakePipeline{}
		w := upload(t, newTestEngine(p, nil, nil), "data.csv", "a,b\n1,2", map[string]string{"source": "kb/data", "title": "Data"})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "kb/data", p.ingested[0].Source)
		assert.Equal(t, "Data", p.ingested[0].Title)
	})

	t.Run("unsupported type", func(t *testing.T) {
		p := &fakePipeline{}
		w := upload(t, newTestEngine(p, nil, nil), "scan.png", "\x89PNG", nil)

		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		assert.Empty(t, p.ingested)
	})

	t.Run("missing file", func(t *testing.T) {
		w := doJSON(t, newTestEngine(&fakePipeline{}, nil, nil), http.MethodPost, "/v1/documents/upload", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDocumentHandler_Async(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		w := doJSON(t, newTestEngine(&fakePipeline{}, nil, nil), http.MethodPost, "/v1/documents/async", map[string]any{"text": "x", "source": "s"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("accepted", func(t *testing.T) {
		jobs := &fakeJobs{}
		w := doJSON(t, newTestEngine(&fakePipeline{}, jobs, nil), http.MethodPost, "/v1/documents/async", map[string]any{"text": "x", "source": "s"})

		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "job-1", decode(t, w)["data"].(map[string]any)["job_id"])
		require.NotNil(t, jobs.submitted)
		assert.Equal(t, "req-test", jobs.submitted.RequestID)
	})

	t.Run("job lookup", func(t *testing.T) {
		jobs := &fakeJobs{jobs: map[string]*ingest.Job{
			"j1": {ID: "j1", Status: ingest.JobStatusSucceeded, Result: &rag.IngestResult{ChunksCreated: 3}},
		}}
		r := newTestEngine(&fakePipeline{}, jobs, nil)

		w := doJSON(t, r, http.MethodGet, "/v1/documents/jobs/j1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "succeeded", decode(t, w)["data"].(map[string]any)["status"])

		w = doJSON(t, r, http.MethodGet, "/v1/documents/jobs/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDocumentHandler_IndexManagement(t *testing.T) {
	p := &fakePipeline{
		count:   7,
		sources: []rag.SourceSummary{{Source: "a.txt", ChunkCount: 4}, {Source: "b.txt", ChunkCount: 3}},
	}
	r := newTestEngine(p, nil, nil)

	w := doJSON(t, r, http.MethodGet, "/v1/documents/count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, decode(t, w)["data"].(map[string]any)["count"])

	w = doJSON(t, r, http.MethodGet, "/v1/documents/sources", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["data"].(map[string]any)["total"])

	w = doJSON(t, r, http.MethodDelete, "/v1/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, p.cleared)
}

func TestUsageHandler_Summary(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		r := newTestEngine(&fakePipeline{}, nil, NewUsageHandler(nil))
		w := doJSON(t, r, http.MethodGet, "/v1/usage/summary", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("window", func(t *testing.T) {
		repo := &fakeUsageRepo{items: []*entity.UsageSummary{
			{Pipeline: "query", Status: "success", Runs: 2, PromptTokens: 100, EstimatedCost: 0.5},
			{Pipeline: "ingest", Status: "success", Runs: 1, EmbeddingTokens: 40, EstimatedCost: 0.25},
		}}
		h := NewUsageHandler(repo)
		fixed := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
		h.now = func() time.Time { return fixed }
		r := newTestEngine(&fakePipeline{}, nil, h)

		w := doJSON(t, r, http.MethodGet, "/v1/usage/summary?window=2h", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, fixed.Add(-2*time.Hour), repo.since)
		assert.Equal(t, fixed, repo.until)

		totals := decode(t, w)["data"].(map[string]any)["totals"].(map[string]any)
		assert.EqualValues(t, 3, totals["runs"])
		assert.InDelta(t, 0.75, totals["estimated_cost"], 1e-9)
	})

	t.Run("bad window", func(t *testing.T) {
		r := newTestEngine(&fakePipeline{}, nil, NewUsageHandler(&fakeUsageRepo{}))
		w := doJSON(t, r, http.MethodGet, "/v1/usage/summary?window=-1h", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

type stubChecker struct{ err error }

func (s stubChecker) HealthCheck(context.Context) error { return s.err }

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name   string
		deps   []Dependency
		status int
	}{
		{"all ok", []Dependency{{Name: "milvus", Checker: stubChecker{}, Required: true}}, http.StatusOK},
		{"optional degraded", []Dependency{{Name: "redis", Checker: stubChecker{err: fmt.Errorf("down")}}}, http.StatusOK},
		{"required down", []Dependency{{Name: "milvus", Checker: stubChecker{err: fmt.Errorf("down")}, Required: true}}, http.StatusServiceUnavailable},
		{"disabled", []Dependency{{Name: "postgres"}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("test", tt.deps...)
			r := gin.New()
			r.GET("/ready", h.Ready)
			w := doJSON(t, r, http.MethodGet, "/ready", nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
