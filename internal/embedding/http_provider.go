package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"contextfs/internal/cerrors"
	"contextfs/internal/logging"
)

// HTTPProvider calls an external embedding service's HTTP API
// (spec.md §4.5, §6 "embeddingBaseURL"/"embeddingModel"/"embeddingApiKey").
type HTTPProvider struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider returns an HTTPProvider posting to baseURL with the given
// default model and bearer apiKey. timeout bounds each request.
func NewHTTPProvider(baseURL, model, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return fmt.Sprintf("http:%s", p.model) }

type httpEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type httpEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed posts text to the provider's embeddings endpoint and returns a
// unit-normalized Result. It makes a single request per call and does not
// retry; the embedding view does not retry either, and the
// embedding_max_retries config value is not read anywhere.
func (p *HTTPProvider) Embed(ctx context.Context, text string, opts Options) (Result, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "HTTPProvider.Embed")
	defer timer.Stop()

	model := opts.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(httpEmbedRequest{Model: model, Input: text})
	if err != nil {
		return Result{}, cerrors.Internal(err, "embedding: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return Result{}, cerrors.Internal(err, "embedding: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, cerrors.Provider(err, "embedding: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		logging.Get(logging.CategoryEmbedding).Error("HTTPProvider.Embed: status %d: %s", resp.StatusCode, string(b))
		return Result{}, cerrors.Provider(fmt.Errorf("status %d", resp.StatusCode), "embedding: non-OK response")
	}

	var decoded httpEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, cerrors.Internal(err, "embedding: decode response")
	}
	if len(decoded.Data) == 0 {
		return Result{}, cerrors.Provider(nil, "embedding: empty response data")
	}

	vec := Normalize(decoded.Data[0].Embedding)
	respModel := decoded.Model
	if respModel == "" {
		respModel = model
	}

	return Result{
		Model:            respModel,
		Dim:              len(vec),
		Vector:           vec,
		Text:             text,
		TextHash:         TextHash(text),
		EmbeddingVersion: "http-v1",
	}, nil
}

// IsRetryableStatus reports whether an HTTP status code should be retried
// with backoff (spec.md §4.7: "retryable HTTP (408/409/425/429/5xx)").
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
