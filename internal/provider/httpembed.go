package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/athenamind/athena/internal/envelope"
)

// HTTPEmbedder calls a JSON embedding endpoint: POST {texts: [...]} ->
// {embeddings: [[f32...], ...]}. The request/response/error-wrap shape
// follows the HTTP-client convention used for other local-model adapters in
// this codebase's lineage (POST JSON, decode JSON, wrap errors with the
// endpoint URL).
type HTTPEmbedder struct {
	endpoint string
	dims     int
	client   *http.Client
}

// NewHTTPEmbedder creates an embedder against endpoint, with a fixed
// dimensionality set at configuration time.
func NewHTTPEmbedder(endpoint string, dims int, client *http.Client) *HTTPEmbedder {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEmbedder{endpoint: endpoint, dims: dims, client: client}
}

func (e *HTTPEmbedder) Dimension() int { return e.dims }

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindDependencyUnavailable, fmt.Sprintf("embed request to %s", e.endpoint), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, envelope.New(envelope.KindDependencyUnavailable, fmt.Sprintf("embed endpoint %s returned status %d", e.endpoint, resp.StatusCode))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, envelope.Wrap(envelope.KindDependencyUnavailable, fmt.Sprintf("decode embed response from %s", e.endpoint), err)
	}
	return out.Embeddings, nil
}

var _ EmbeddingProvider = (*HTTPEmbedder)(nil)
