package capability

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lexigraph/lexrag/pkg/config"
	apperrors "github.com/lexigraph/lexrag/pkg/errors"
	"github.com/lexigraph/lexrag/pkg/logger"
	"github.com/lexigraph/lexrag/pkg/resilience"
)

// OpenAIClient implements Embedder, Reranker, and Generator against the
// OpenAI API. Embedding calls are retried with backoff; rerank calls go
// through a circuit breaker so a flapping model degrades retrieval to fused
// order quickly instead of adding latency to every query.
type OpenAIClient struct {
	client  *openai.Client
	cfg     config.OpenAIConfig
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewOpenAIClient creates a client from the given API key and config.
func NewOpenAIClient(apiKey string, cfg config.OpenAIConfig) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is empty")
	}
	return &OpenAIClient{
		client:  openai.NewClient(apiKey),
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker("reranker", resilience.CircuitBreakerConfig{}),
		logger:  logger.WithComponent("openai"),
	}, nil
}

// Embed returns one L2-normalized vector per input text. Inputs are sent in
// batches of at most EmbedBatchMax; each batch is retried on failure.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batchMax := c.cfg.EmbedBatchMax
	if batchMax <= 0 {
		batchMax = 64
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchMax {
		end := start + batchMax
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var resp openai.EmbeddingResponse
		call := func() error {
			return resilience.WithTimeout(ctx, c.cfg.EmbedTimeout, "embed", func(ctx context.Context) error {
				var err error
				resp, err = c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Model: openai.EmbeddingModel(c.cfg.EmbedModel),
					Input: batch,
				})
				return err
			})
		}
		retryCfg := resilience.RetryConfig{MaxAttempts: c.cfg.MaxRetries}
		if err := resilience.Retry(ctx, "embed", retryCfg, call); err != nil {
			return nil, fmt.Errorf("%w: embedding batch [%d:%d]: %v", apperrors.ErrCapabilityFailure, start, end, err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("%w: embedding API returned %d vectors for %d inputs",
				apperrors.ErrCapabilityFailure, len(resp.Data), len(batch))
		}
		for _, item := range resp.Data {
			v := make([]float32, len(item.Embedding))
			copy(v, item.Embedding)
			l2normalize(v)
			out = append(out, v)
		}
	}
	return out, nil
}

// Rerank scores each (query, passage) pair with a constrained scoring prompt
// and deterministic decoding. A single failed pair fails the whole call; the
// retriever treats that as a silent degrade.
func (c *OpenAIClient) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	scores := make([]float64, len(passages))
	err := c.breaker.Execute(func() error {
		for i, passage := range passages {
			score, err := c.scorePair(ctx, query, passage)
			if err != nil {
				return err
			}
			scores[i] = score
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: rerank: %v", apperrors.ErrCapabilityFailure, err)
	}
	return scores, nil
}

const rerankSystemPrompt = "You grade how relevant a passage is to a question. " +
	"Reply with a single number from 0 to 100 and nothing else."

// scorePair runs under the caller's deadline; the retriever owns the rerank
// timeout for the whole candidate batch.
func (c *OpenAIClient) scorePair(ctx context.Context, query, passage string) (float64, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Temperature: 0,
		MaxTokens:   4,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rerankSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Question: " + query + "\n\nPassage: " + passage},
		},
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("rerank returned no choices")
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	score, err := strconv.ParseFloat(strings.TrimSuffix(raw, "."), 64)
	if err != nil {
		return 0, fmt.Errorf("rerank returned non-numeric score %q", raw)
	}
	return score / 100, nil
}

// Generate produces text from the prompt with temperature 0 so repeated
// calls on the same index state reproduce the same answer.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var resp openai.ChatCompletionResponse
	err := resilience.WithTimeout(ctx, 0, "generate", func(ctx context.Context) error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.cfg.ChatModel,
			Temperature: 0,
			MaxTokens:   maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: generate: %v", apperrors.ErrCapabilityFailure, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: generate returned no choices", apperrors.ErrCapabilityFailure)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// l2normalize scales v to unit length in place.
func l2normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}
