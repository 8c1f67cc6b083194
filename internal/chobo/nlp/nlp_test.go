package nlp_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/chobo/internal/chobo/nlp"
)

// buildOAIResponse builds a minimal OpenAI-style response body whose single
// choice message has the given content string.
func buildOAIResponse(content string) []byte {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type choice struct {
		Message      msg    `json:"message"`
		FinishReason string `json:"finish_reason"`
	}
	type resp struct {
		Choices []choice `json:"choices"`
	}
	data, _ := json.Marshal(resp{Choices: []choice{{
		Message:      msg{Role: "assistant", Content: content},
		FinishReason: "stop",
	}}})
	return data
}

func newServer(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProvider_Classify(t *testing.T) {
	content := `{
		"intent_type": "new_transaction",
		"confidence": 0.93,
		"extracted_command_hint": {
			"direction": "PURCHASE",
			"counterparty": "Feng Tianyi",
			"items": [{"name": "laptop", "quantity": 50}]
		}
	}`
	var captured string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		captured = string(b)
		w.Write(buildOAIResponse(content))
	}))
	defer srv.Close()

	p := nlp.New(nlp.Config{APIKey: "test-key", BaseURL: srv.URL + "/"})
	got, err := p.Classify(context.Background(), nlp.ClassifyRequest{
		Message:             "buy 50 laptops from Feng Tianyi",
		KnownCounterparties: []string{"Feng Tianyi", "Zhang San"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &nlp.ClassifyResponse{
		Intent:     nlp.IntentNewTransaction,
		Confidence: 0.93,
		Hint: &nlp.CommandHint{
			Direction:    "PURCHASE",
			Counterparty: "Feng Tianyi",
			Items:        []nlp.HintItem{{Name: "laptop", Quantity: 50}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(captured, "Feng Tianyi, Zhang San") {
		t.Errorf("known counterparties missing from prompt: %s", captured)
	}
	if !strings.Contains(captured, `"json_object"`) {
		t.Errorf("request did not ask for JSON mode: %s", captured)
	}
}

func TestOpenAIProvider_RateLimited(t *testing.T) {
	srv := newServer(t, http.StatusTooManyRequests, []byte(`{}`))
	p := nlp.New(nlp.Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := p.Classify(context.Background(), nlp.ClassifyRequest{Message: "hi"})
	if !errors.Is(err, nlp.ErrRateLimit) {
		t.Errorf("expected ErrRateLimit, got %v", err)
	}
}

func TestOpenAIProvider_APIErrorIsRedacted(t *testing.T) {
	srv := newServer(t, http.StatusBadRequest,
		[]byte(`{"error":{"type":"invalid_request_error","message":"bad key test-key"}}`))
	p := nlp.New(nlp.Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := p.Classify(context.Background(), nlp.ClassifyRequest{Message: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "test-key") {
		t.Errorf("API key leaked into error: %v", err)
	}
}

func TestOpenAIProvider_Unauthorized(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := newServer(t, status, []byte(`{"error":{"message":"nope"}}`))
		p := nlp.New(nlp.Config{APIKey: "test-key", BaseURL: srv.URL})
		_, err := p.Classify(context.Background(), nlp.ClassifyRequest{Message: "hi"})
		if !errors.Is(err, nlp.ErrUnauthorized) {
			t.Errorf("HTTP %d: expected ErrUnauthorized, got %v", status, err)
		}
	}
}

func TestOpenAIProvider_MalformedContent(t *testing.T) {
	for name, content := range map[string]string{
		"not json":       "sure thing!",
		"unknown intent": `{"intent_type": "dance", "confidence": 0.9}`,
		"no confidence":  `{"intent_type": "confirmation"}`,
		"bad confidence": `{"intent_type": "confirmation", "confidence": 7}`,
		"item no name":   `{"intent_type": "slot_fill", "confidence": 0.9, "extracted_command_hint": {"items": [{"quantity": 3}]}}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, http.StatusOK, buildOAIResponse(content))
			p := nlp.New(nlp.Config{APIKey: "test-key", BaseURL: srv.URL})
			_, err := p.Classify(context.Background(), nlp.ClassifyRequest{Message: "hi"})
			if !errors.Is(err, nlp.ErrMalformedOutput) {
				t.Errorf("expected ErrMalformedOutput, got %v", err)
			}
		})
	}
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := newServer(t, http.StatusOK, []byte(`{"choices":[]}`))
	p := nlp.New(nlp.Config{APIKey: "test-key", BaseURL: srv.URL})
	if _, err := p.Classify(context.Background(), nlp.ClassifyRequest{Message: "hi"}); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestOpenAIProvider_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := nlp.New(nlp.Config{APIKey: "test-key", BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := p.Classify(ctx, nlp.ClassifyRequest{Message: "hi"}); err == nil {
		t.Fatal("expected deadline error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("classify ignored the context deadline (took %v)", elapsed)
	}
}

func TestDecodeResponse_NormalisesIntent(t *testing.T) {
	got, err := nlp.DecodeResponse([]byte(`{"intent_type": "confirmation", "confidence": 1, "extracted_command_hint": null}`))
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if got.Intent != nlp.IntentConfirmation || got.Hint != nil {
		t.Errorf("unexpected response: %+v", got)
	}
	if !got.Intent.Valid() || nlp.Intent("dance").Valid() {
		t.Error("Intent.Valid misbehaves")
	}
}

func TestProviderFunc(t *testing.T) {
	var p nlp.Provider = nlp.ProviderFunc(func(_ context.Context, req nlp.ClassifyRequest) (*nlp.ClassifyResponse, error) {
		return &nlp.ClassifyResponse{Intent: nlp.IntentConversation, Confidence: 0.5}, nil
	})
	got, err := p.Classify(context.Background(), nlp.ClassifyRequest{Message: "hello"})
	if err != nil || got.Intent != nlp.IntentConversation {
		t.Errorf("ProviderFunc: got %+v, %v", got, err)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := nlp.NewRateLimiter(2, 50*time.Millisecond)
	if !rl.Allow("s1") || !rl.Allow("s1") {
		t.Fatal("first two calls should be allowed")
	}
	if rl.Allow("s1") {
		t.Error("third call within the window should be denied")
	}
	if !rl.Allow("s2") {
		t.Error("sessions must be limited independently")
	}
	if got := rl.Remaining("s1"); got != 0 {
		t.Errorf("Remaining(s1) = %d, want 0", got)
	}

	time.Sleep(70 * time.Millisecond)
	if got := rl.Remaining("s1"); got != 2 {
		t.Errorf("Remaining(s1) after window = %d, want 2", got)
	}
	if !rl.Allow("s1") {
		t.Error("call after the window should be allowed")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := nlp.NewRateLimiter(0, 0)
	if got := rl.Remaining("anyone"); got != nlp.DefaultRateLimit {
		t.Errorf("Remaining = %d, want %d", got, nlp.DefaultRateLimit)
	}
}
