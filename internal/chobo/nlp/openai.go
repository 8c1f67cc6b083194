package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/chobo/common/redact"
)

const (
	defaultNLPBase  = "https://api.openai.com/v1"
	defaultNLPModel = "gpt-4o-mini"
	defaultTimeout  = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// Config configures the OpenAI-compatible classifier.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint (Ollama, Azure OpenAI, ...).
	// Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini.
	Model string

	// Timeout is the HTTP client timeout. The router applies its own,
	// usually shorter, per-call deadline on top. Defaults to 10 s.
	Timeout time.Duration
}

// openAIProvider implements Provider using the chat completions API in JSON
// mode.
type openAIProvider struct {
	cfg    Config
	client *http.Client
}

// New returns a Provider backed by the OpenAI (or compatible) chat API.
func New(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNLPBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultNLPModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	Temperature    float64      `json:"temperature"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// systemPromptTmpl is sent as the "system" message. Two verbs are filled in:
// the pending draft summary and the known counter-party names.
const systemPromptTmpl = `You classify short messages from a shop owner who records sales and purchases.

Pending draft: %s
Known counterparties: %s

Respond ONLY with a JSON object:
{
  "intent_type": "new_transaction" | "slot_fill" | "confirmation" | "cancellation" |
                 "modification" | "bare_value" | "conversation" | "unknown",
  "confidence": 0.0-1.0,
  "extracted_command_hint": {
    "direction": "SALE" | "PURCHASE",
    "counterparty": "<customer or supplier name>",
    "items": [{"name": "<product>", "quantity": <number>, "unit_price": <number>}]
  }
}

Rules:
1. "slot_fill" adds missing details to the pending draft; "modification" changes details already given.
2. "bare_value" is a lone number or price such as "500 each".
3. Only include hint fields that the message states explicitly. Never guess prices.
4. Map an obviously misspelled counterparty onto a known one.
5. If unsure, use "unknown" with a low confidence.`

// Classify sends the utterance to the API and decodes the JSON answer.
func (p *openAIProvider) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	pending := req.PendingDraft
	if pending == "" {
		pending = "(none)"
	}
	known := strings.Join(req.KnownCounterparties, ", ")
	if known == "" {
		known = "(none)"
	}

	body := oaiRequest{
		Model: p.cfg.Model,
		Messages: []oaiMessage{
			{Role: "system", Content: fmt.Sprintf(systemPromptTmpl, pending, known)},
			{Role: "user", Content: req.Message},
		},
		MaxTokens:      256,
		ResponseFormat: &oaiFormat{Type: "json_object"},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("nlp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("nlp: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("nlp: http request: %s", redact.String(err.Error(), p.cfg.APIKey))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, ErrRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w (HTTP %d)", ErrUnauthorized, resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("nlp: read response body: %w", err)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("nlp: decode API response (HTTP %d): %w", resp.StatusCode, err)
	}
	if oaiResp.Error != nil {
		return nil, fmt.Errorf("nlp: API error (%s): %s", oaiResp.Error.Type,
			redact.Bearer(redact.String(oaiResp.Error.Message, p.cfg.APIKey)))
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("nlp: no choices returned (HTTP %d)", resp.StatusCode)
	}

	return DecodeResponse([]byte(oaiResp.Choices[0].Message.Content))
}
