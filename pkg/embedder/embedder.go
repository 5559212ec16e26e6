package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/llamafarm/llamafarm/pkg/log"
	"github.com/llamafarm/llamafarm/pkg/metrics"
)

var (
	// ErrUnreachable is returned when the runtime cannot be reached
	// after the configured retries
	ErrUnreachable = errors.New("embedder unreachable")

	// ErrBadVector is returned for NaN values or a count mismatch in
	// the runtime's response
	ErrBadVector = errors.New("embedder returned invalid vectors")
)

// Embedder turns a batch of texts into vectors. All vectors returned
// for a single database must share one dimension; the vector store
// enforces that on write.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config for the runtime-backed embedder
type Config struct {
	// BaseURL of the Universal Runtime (e.g. "http://127.0.0.1:11540")
	BaseURL string

	// Model is the embedding model id
	Model string

	// Retries is how many times a failed request is retried
	Retries int

	// Backoff is the initial retry delay, doubled per attempt
	Backoff time.Duration
}

// Client calls the Universal Runtime's embeddings endpoint
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates an embedder client
func New(cfg Config) *Client {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 120 * time.Second},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed submits one batch. Transport failures are retried with
// exponential backoff; response validation failures are not, since the
// runtime will answer the same way again.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.EmbeddingBatchDuration)

	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}

	logger := log.WithComponent("embedder")
	var lastErr error
	backoff := c.cfg.Backoff
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		vectors, retryable, err := c.once(ctx, body, len(texts))
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("embed request failed")
	}
	return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

func (c *Client) once(ctx context.Context, body []byte, want int) ([][]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("runtime returned %d: %s", resp.StatusCode, data)
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, false, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(er.Data) != want {
		return nil, false, fmt.Errorf("%w: asked for %d vectors, got %d", ErrBadVector, want, len(er.Data))
	}

	vectors := make([][]float32, want)
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, false, fmt.Errorf("%w: index %d out of range", ErrBadVector, d.Index)
		}
		for _, v := range d.Embedding {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return nil, false, fmt.Errorf("%w: non-finite value", ErrBadVector)
			}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, false, nil
}
