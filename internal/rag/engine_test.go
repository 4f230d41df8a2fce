package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lexigraph/lexrag/internal/rag/answer"
	"github.com/lexigraph/lexrag/pkg/config"
	apperrors "github.com/lexigraph/lexrag/pkg/errors"
)

// keywordEmbedder is a deterministic stand-in for the embedding model: each
// dimension is a keyword-presence feature, so texts about the same topic land
// near each other and tests can predict nearest neighbours exactly.
type keywordEmbedder struct {
	calls int
}

func (e *keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		out[i] = []float32{
			feature(lower, "murder"),
			feature(lower, "bail"),
			feature(lower, "contract"),
		}
	}
	return out, nil
}

func feature(text, keyword string) float32 {
	if strings.Contains(text, keyword) {
		return 1
	}
	return 0
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding backend down")
}

type stubGenerator struct {
	out string
	err error
}

func (s stubGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return s.out, s.err
}

func engineConfig(dataDir string) (config.EngineConfig, config.RetrievalConfig, config.AnswerConfig) {
	eng := config.EngineConfig{
		DataDir:       dataDir,
		ChunkMaxChars: 600,
		ChunkMinChars: 30,
		BM25K1:        1.5,
		BM25B:         0.75,
	}
	ret := config.RetrievalConfig{
		DefaultTopK:    3,
		MaxTopK:        50,
		SemanticWeight: 0.7,
	}
	ans := config.AnswerConfig{
		MaxContextDocs:  5,
		ExcerptMaxChars: 400,
		MaxTokens:       300,
		MinAnswerChars:  20,
		GenerateTimeout: time.Second,
	}
	return eng, ret, ans
}

func newTestEngine(t *testing.T, dataDir string, opts Options) *Engine {
	t.Helper()
	eng, ret, ans := engineConfig(dataDir)
	e, err := NewEngine(eng, ret, ans, opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

const (
	murderDoc   = "Section 302 prescribes the punishment for murder: death or imprisonment for life."
	bailDoc     = "The court granted bail to the appellant pending the hearing of the appeal."
	contractDoc = "A valid contract requires offer, acceptance, and consideration between the parties."
)

func loadCorpus(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	docs := []struct{ text, file string }{
		{murderDoc, "ipc.txt"},
		{bailDoc, "crpc.txt"},
		{contractDoc, "contract.txt"},
	}
	for _, doc := range docs {
		if _, err := e.AddDocument(ctx, doc.text, doc.file); err != nil {
			t.Fatalf("AddDocument(%s): %v", doc.file, err)
		}
	}
}

func TestNewEngineRequiresEmbedder(t *testing.T) {
	eng, ret, ans := engineConfig(t.TempDir())
	if _, err := NewEngine(eng, ret, ans, Options{}); err == nil {
		t.Fatal("expected error for missing embedder")
	}
}

func TestAddDocumentAndSearch(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{Embedder: &keywordEmbedder{}})
	loadCorpus(t, e)

	if e.Size() != 3 {
		t.Fatalf("Size = %d, want 3", e.Size())
	}

	cands, err := e.Search(context.Background(), "punishment for murder", 1, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	if cands[0].Filename != "ipc.txt" || !strings.Contains(cands[0].Content, "Section 302") {
		t.Errorf("top candidate = %+v, want the murder chunk", cands[0])
	}
}

func TestAddDocumentEmptyText(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{Embedder: &keywordEmbedder{}})
	if _, err := e.AddDocument(context.Background(), "   \n ", "blank.txt"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
	if e.Size() != 0 {
		t.Errorf("rejected document mutated the index: size = %d", e.Size())
	}
}

func TestAddDocumentEmbeddingFailureLeavesIndexUntouched(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir, Options{Embedder: &keywordEmbedder{}})
	loadCorpus(t, e)

	broken := newTestEngine(t, dir, Options{Embedder: failingEmbedder{}})
	if broken.Size() != 3 {
		t.Fatalf("persisted corpus not loaded: size = %d", broken.Size())
	}
	if _, err := broken.AddDocument(context.Background(), "A new document about sentencing policy.", "new.txt"); err == nil {
		t.Fatal("expected embedding failure")
	}
	if broken.Size() != 3 {
		t.Errorf("failed ingest mutated the index: size = %d", broken.Size())
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{Embedder: &keywordEmbedder{}})
	if _, err := e.Search(context.Background(), "   ", 3, 0.7); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}

func TestSearchEmptyCorpus(t *testing.T) {
	emb := &keywordEmbedder{}
	e := newTestEngine(t, t.TempDir(), Options{Embedder: emb})
	cands, err := e.Search(context.Background(), "anything", 3, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("empty corpus returned %d candidates", len(cands))
	}
	// No embedding call should be spent on an empty corpus.
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for empty corpus", emb.calls)
	}
}

func TestSearchClampsTopK(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{Embedder: &keywordEmbedder{}})
	loadCorpus(t, e)

	// topK <= 0 falls back to the default (3).
	cands, err := e.Search(context.Background(), "murder bail contract", 0, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(cands) != 3 {
		t.Errorf("default topK returned %d candidates, want 3", len(cands))
	}

	// Oversized topK is capped, not an error.
	if _, err := e.Search(context.Background(), "murder", 10000, 0.7); err != nil {
		t.Errorf("oversized topK: %v", err)
	}
}

func TestSearchOutOfRangeWeightUsesDefault(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{Embedder: &keywordEmbedder{}})
	loadCorpus(t, e)
	cands, err := e.Search(context.Background(), "punishment for murder", 1, 7.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if cands[0].Filename != "ipc.txt" {
		t.Errorf("top candidate = %+v, want the murder chunk", cands[0])
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir, Options{Embedder: &keywordEmbedder{}})
	loadCorpus(t, e)

	restarted := newTestEngine(t, dir, Options{Embedder: &keywordEmbedder{}})
	if restarted.Size() != 3 {
		t.Fatalf("restarted size = %d, want 3", restarted.Size())
	}
	cands, err := restarted.Search(context.Background(), "bail for the appellant", 1, 0.7)
	if err != nil {
		t.Fatalf("Search after restart: %v", err)
	}
	if cands[0].Filename != "crpc.txt" {
		t.Errorf("top candidate after restart = %+v, want the bail chunk", cands[0])
	}
}

func TestReloadPicksUpWorkerWrites(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	writer := newTestEngine(t, dir, Options{Embedder: &keywordEmbedder{}})
	if _, err := writer.AddDocument(ctx, murderDoc, "ipc.txt"); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	// The reader loads the first generation at startup, then the writer
	// persists another document behind its back.
	reader := newTestEngine(t, dir, Options{Embedder: &keywordEmbedder{}})
	if reader.Size() != 1 {
		t.Fatalf("reader size = %d, want 1", reader.Size())
	}
	if _, err := writer.AddDocument(ctx, bailDoc, "crpc.txt"); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	size, err := reader.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if size != 2 || reader.Size() != 2 {
		t.Fatalf("reloaded size = %d, want 2", reader.Size())
	}
	cands, err := reader.Search(ctx, "bail for the appellant", 1, 0.7)
	if err != nil {
		t.Fatalf("Search after reload: %v", err)
	}
	if len(cands) != 1 || cands[0].Filename != "crpc.txt" {
		t.Errorf("top candidate after reload = %+v, want the bail chunk", cands)
	}
}

func TestWatchPersistedPicksUpWorkerWrites(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	writer := newTestEngine(t, dir, Options{Embedder: &keywordEmbedder{}})
	if _, err := writer.AddDocument(ctx, murderDoc, "ipc.txt"); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	reader := newTestEngine(t, dir, Options{Embedder: &keywordEmbedder{}})
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go reader.WatchPersisted(watchCtx, 10*time.Millisecond)

	if _, err := writer.AddDocument(ctx, bailDoc, "crpc.txt"); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for reader.Size() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher never reloaded: size = %d, want 2", reader.Size())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAnswerGenerated(t *testing.T) {
	gen := stubGenerator{out: "Murder carries death or life imprisonment under Section 302."}
	e := newTestEngine(t, t.TempDir(), Options{Embedder: &keywordEmbedder{}, Generator: gen})
	loadCorpus(t, e)

	res, sources, err := e.Answer(context.Background(), "punishment for murder", 2)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Mode != answer.ModeGenerated {
		t.Errorf("Mode = %q, want generated", res.Mode)
	}
	if len(sources) == 0 {
		t.Error("expected sources alongside the answer")
	}
}

func TestAnswerFallsBackOnGeneratorFailure(t *testing.T) {
	gen := stubGenerator{err: errors.New("model unavailable")}
	e := newTestEngine(t, t.TempDir(), Options{Embedder: &keywordEmbedder{}, Generator: gen})
	loadCorpus(t, e)

	res, _, err := e.Answer(context.Background(), "punishment for murder", 2)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Mode != answer.ModeFallback {
		t.Fatalf("Mode = %q, want fallback", res.Mode)
	}
	if !strings.Contains(res.Answer, "Section 302") {
		t.Errorf("fallback answer not grounded in sources: %q", res.Answer)
	}
}

func TestAnswerEmptyCorpus(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), Options{Embedder: &keywordEmbedder{}, Generator: stubGenerator{out: "unused"}})
	res, sources, err := e.Answer(context.Background(), "anything at all", 3)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Mode != answer.ModeEmpty || res.Answer != answer.NoContextAnswer {
		t.Errorf("result = %+v, want the fixed no-context answer", res)
	}
	if len(sources) != 0 {
		t.Errorf("got %d sources, want 0", len(sources))
	}
}
