package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/athenamind/athena/internal/envelope"
)

// HTTPValidator calls a JSON LLM-validation endpoint: POST {prompt, schema}
// -> {verdict, refined_summary, confidence}.
type HTTPValidator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPValidator creates a validator against endpoint.
func NewHTTPValidator(endpoint string, client *http.Client) *HTTPValidator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPValidator{endpoint: endpoint, client: client}
}

type validateRequest struct {
	Prompt string         `json:"prompt"`
	Schema map[string]any `json:"schema"`
}

type validateResponse struct {
	Verdict        string  `json:"verdict"`
	RefinedSummary string  `json:"refined_summary"`
	Confidence     float32 `json:"confidence"`
}

func (v *HTTPValidator) Validate(ctx context.Context, prompt string, schema map[string]any) (Verdict, error) {
	body, err := json.Marshal(validateRequest{Prompt: prompt, Schema: schema})
	if err != nil {
		return Verdict{}, envelope.Wrap(envelope.KindInternal, "marshal validate request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, envelope.Wrap(envelope.KindInternal, "build validate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Verdict{}, envelope.Wrap(envelope.KindDependencyUnavailable, fmt.Sprintf("validate request to %s", v.endpoint), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, envelope.New(envelope.KindDependencyUnavailable, fmt.Sprintf("validate endpoint %s returned status %d", v.endpoint, resp.StatusCode))
	}

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verdict{}, envelope.Wrap(envelope.KindDependencyUnavailable, fmt.Sprintf("decode validate response from %s", v.endpoint), err)
	}
	return Verdict{
		Decision:       VerdictKind(out.Verdict),
		RefinedSummary: out.RefinedSummary,
		Confidence:     out.Confidence,
	}, nil
}

var _ LLMValidator = (*HTTPValidator)(nil)
