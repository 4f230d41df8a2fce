package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lexigraph/lexrag/internal/rag"
	"github.com/lexigraph/lexrag/pkg/config"
)

type keywordEmbedder struct{}

func (keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := []float32{0, 0}
		if strings.Contains(lower, "murder") {
			vec[0] = 1
		}
		if strings.Contains(lower, "contract") {
			vec[1] = 1
		}
		out[i] = vec
	}
	return out, nil
}

type stubGenerator struct{ out string }

func (s stubGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return s.out, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	retCfg := config.RetrievalConfig{DefaultTopK: 3, MaxTopK: 50, SemanticWeight: 0.7}
	engine, err := rag.NewEngine(
		config.EngineConfig{DataDir: t.TempDir(), ChunkMaxChars: 600, ChunkMinChars: 30, BM25K1: 1.5, BM25B: 0.75},
		retCfg,
		config.AnswerConfig{MaxContextDocs: 5, ExcerptMaxChars: 400, MaxTokens: 300, MinAnswerChars: 20},
		rag.Options{
			Embedder:  keywordEmbedder{},
			Generator: stubGenerator{out: "Murder carries death or imprisonment for life."},
		},
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return New(engine, nil, nil, nil, retCfg, nil)
}

func ingestDoc(t *testing.T, h *Handler, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"filename": filename, "content": content})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	h.Ingest(w, req)
	return w
}

func TestIngestSynchronous(t *testing.T) {
	h := newTestHandler(t)
	w := ingestDoc(t, h, "ipc.txt", "Section 302 prescribes the punishment for murder: death or imprisonment for life.")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["status"] != "INDEXED" {
		t.Errorf("status field = %v, want INDEXED", resp["status"])
	}
}

func TestIngestRejectsInvalidJSON(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.Ingest(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIngestRejectsBlankContent(t *testing.T) {
	h := newTestHandler(t)
	w := ingestDoc(t, h, "blank.txt", "   ")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "validation failed" {
		t.Errorf("error field = %v, want validation failure", resp["error"])
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	w := httptest.NewRecorder()
	h.Search(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearchRejectsBadParams(t *testing.T) {
	h := newTestHandler(t)
	for _, url := range []string{
		"/api/v1/search?q=murder&top_k=zero",
		"/api/v1/search?q=murder&top_k=-1",
		"/api/v1/search?q=murder&weight=2",
		"/api/v1/search?q=murder&weight=abc",
	} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		w := httptest.NewRecorder()
		h.Search(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, w.Code)
		}
	}
}

func TestSearchReturnsRankedResults(t *testing.T) {
	h := newTestHandler(t)
	ingestDoc(t, h, "ipc.txt", "Section 302 prescribes the punishment for murder: death or imprisonment for life.")
	ingestDoc(t, h, "contract.txt", "A valid contract requires offer, acceptance, and consideration between the parties.")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=punishment+for+murder&top_k=1", nil)
	w := httptest.NewRecorder()
	h.Search(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}

	var resp struct {
		Query   string `json:"query"`
		Total   int    `json:"total"`
		Results []struct {
			Filename string  `json:"filename"`
			Content  string  `json:"content"`
			Score    float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(resp.Results))
	}
	if resp.Results[0].Filename != "ipc.txt" {
		t.Errorf("top result = %+v, want the murder chunk", resp.Results[0])
	}
}

func TestSearchEmptyCorpusReturnsEmptyList(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=anything", nil)
	w := httptest.NewRecorder()
	h.Search(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp searchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("total = %d, want 0", resp.Total)
	}
}

func TestAsk(t *testing.T) {
	h := newTestHandler(t)
	ingestDoc(t, h, "ipc.txt", "Section 302 prescribes the punishment for murder: death or imprisonment for life.")

	body := `{"question":"what is the punishment for murder","top_k":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Ask(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}

	var resp struct {
		Answer  string `json:"answer"`
		Mode    string `json:"mode"`
		Sources []any  `json:"sources"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Mode != "generated" {
		t.Errorf("mode = %q, want generated", resp.Mode)
	}
	if len(resp.Sources) == 0 {
		t.Error("expected sources in the response")
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"top_k":2}`))
	w := httptest.NewRecorder()
	h.Ask(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIndexStats(t *testing.T) {
	h := newTestHandler(t)
	ingestDoc(t, h, "ipc.txt", "Section 302 prescribes the punishment for murder: death or imprisonment for life.")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/index/stats", nil)
	w := httptest.NewRecorder()
	h.IndexStats(w, req)
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["chunks"] != float64(1) {
		t.Errorf("chunks = %v, want 1", resp["chunks"])
	}
}

func TestIndexReloadPicksUpExternalWrites(t *testing.T) {
	dir := t.TempDir()
	retCfg := config.RetrievalConfig{DefaultTopK: 3, MaxTopK: 50, SemanticWeight: 0.7}
	newEngine := func() *rag.Engine {
		t.Helper()
		engine, err := rag.NewEngine(
			config.EngineConfig{DataDir: dir, ChunkMaxChars: 600, ChunkMinChars: 30, BM25K1: 1.5, BM25B: 0.75},
			retCfg,
			config.AnswerConfig{MaxContextDocs: 5, ExcerptMaxChars: 400, MaxTokens: 300, MinAnswerChars: 20},
			rag.Options{Embedder: keywordEmbedder{}},
		)
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}
		return engine
	}
	serving := newEngine()
	h := New(serving, nil, nil, nil, retCfg, nil)

	// Another process indexes into the shared data directory; the serving
	// engine only sees it after a reload.
	writer := newEngine()
	if _, err := writer.AddDocument(context.Background(),
		"Section 302 prescribes the punishment for murder.", "ipc.txt"); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if serving.Size() != 0 {
		t.Fatalf("serving engine saw the write without a reload: size = %d", serving.Size())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/index/reload", nil)
	w := httptest.NewRecorder()
	h.IndexReload(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["chunks"] != float64(1) {
		t.Errorf("chunks = %v, want 1", resp["chunks"])
	}

	searchReq := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=punishment+for+murder&top_k=1", nil)
	searchW := httptest.NewRecorder()
	h.Search(searchW, searchReq)
	var searchResp searchResponse
	if err := json.Unmarshal(searchW.Body.Bytes(), &searchResp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if searchResp.Total != 1 {
		t.Errorf("search after reload returned %d results, want 1", searchResp.Total)
	}
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil)
	w := httptest.NewRecorder()
	h.CacheStats(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("stats status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil)
	w = httptest.NewRecorder()
	h.CacheInvalidate(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("invalidate status = %d, want 503", w.Code)
	}
}
