// Package provider implements the Provider Adaptor (C1): one HTTP client
// per vendor exposing a uniform stream_raw/classify contract so upper
// layers never depend on vendor-specific wire shapes or error types.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
)

// sseLine is the shape common to the OpenAI-compatible SSE delta streams
// (OpenAI, DeepSeek, and Gemini's OpenAI-compatibility endpoint all speak
// this wire format; Anthropic gets its own extractor below).
type sseLine struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// anthropicLine is Anthropic's native content_block_delta event payload.
type anthropicLine struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

// Adaptor is a single vendor's HTTP streaming client, grounded on olla's
// sherpa proxy streaming loop but speaking to an upstream vendor API
// rather than to a client-facing response writer.
type Adaptor struct {
	provider   string
	endpoint   string
	apiKey     string
	httpClient *http.Client
	buildBody  func(model, prompt string) ([]byte, error)
	extractor  func(line string) (token string, skip bool, done bool)
}

// NewOpenAICompatAdaptor builds an adaptor for any vendor speaking the
// OpenAI-compatible `data: {...}` / `data: [DONE]` SSE shape (OpenAI,
// DeepSeek, and Gemini's compatibility endpoint).
func NewOpenAICompatAdaptor(providerName, endpoint, apiKey string, client *http.Client) *Adaptor {
	return &Adaptor{
		provider:   providerName,
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: client,
		buildBody: func(model, prompt string) ([]byte, error) {
			return json.Marshal(map[string]any{
				"model":  model,
				"stream": true,
				"messages": []map[string]string{
					{"role": "user", "content": prompt},
				},
			})
		},
		extractor: extractOpenAICompatLine,
	}
}

// NewAnthropicAdaptor builds an adaptor for Anthropic's native
// content_block_delta SSE event shape.
func NewAnthropicAdaptor(apiKey, endpoint string, client *http.Client) *Adaptor {
	return &Adaptor{
		provider:   "anthropic",
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: client,
		buildBody: func(model, prompt string) ([]byte, error) {
			return json.Marshal(map[string]any{
				"model":      model,
				"stream":     true,
				"max_tokens": 4096,
				"messages": []map[string]string{
					{"role": "user", "content": prompt},
				},
			})
		},
		extractor: extractAnthropicLine,
	}
}

func (a *Adaptor) Provider() string { return a.provider }

// StreamRaw opens a fresh HTTP request against the vendor and returns a
// single-shot lazy token stream (C1). It does not retry: retry is C4's
// responsibility, implemented by calling StreamRaw again.
func (a *Adaptor) StreamRaw(ctx context.Context, model, prompt string) (ports.RawTokenStream, error) {
	body, err := a.buildBody(model, prompt)
	if err != nil {
		return nil, domain.NewProviderError(a.provider, model, domain.ClassFatal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewProviderError(a.provider, model, domain.ClassFatal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.setAuth(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewProviderError(a.provider, model, ClassifyTransport(err), err)
	}

	if resp.StatusCode >= 300 {
		class := ClassifyStatus(resp.StatusCode)
		_ = resp.Body.Close()
		return nil, domain.NewProviderError(a.provider, model, class, fmt.Errorf("vendor returned status %d", resp.StatusCode))
	}

	return newHTTPTokenStream(resp, a.extractor), nil
}

// Classify maps an error previously returned by StreamRaw (or by the
// resulting stream's Err) to the shared FailureClass taxonomy.
func (a *Adaptor) Classify(err error) domain.FailureClass {
	var pe *domain.ProviderError
	if ok := asProviderError(err, &pe); ok {
		return pe.Class
	}
	return ClassifyTransport(err)
}

func asProviderError(err error, target **domain.ProviderError) bool {
	pe, ok := err.(*domain.ProviderError)
	if ok {
		*target = pe
	}
	return ok
}

func (a *Adaptor) setAuth(req *http.Request) {
	if a.provider == "anthropic" {
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
}

func extractOpenAICompatLine(line string) (token string, skip bool, done bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "data:") {
		return "", true, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
	if payload == "[DONE]" {
		return "", false, true
	}
	var sl sseLine
	if err := json.Unmarshal([]byte(payload), &sl); err != nil {
		return "", true, false
	}
	if len(sl.Choices) == 0 || sl.Choices[0].Delta.Content == "" {
		return "", true, false
	}
	return sl.Choices[0].Delta.Content, false, false
}

func extractAnthropicLine(line string) (token string, skip bool, done bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "data:") {
		return "", true, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
	var al anthropicLine
	if err := json.Unmarshal([]byte(payload), &al); err != nil {
		return "", true, false
	}
	if al.Type == "message_stop" {
		return "", false, true
	}
	if al.Type != "content_block_delta" || al.Delta.Text == "" {
		return "", true, false
	}
	return al.Delta.Text, false, false
}

// DefaultHTTPClient is a shared client with no overall deadline; C4 and
// the caller's context enforce timeouts instead.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 0}
}
