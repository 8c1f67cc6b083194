// Package nlp is the client side of the optional upstream classifier.
//
// The classifier reads a raw utterance and proposes an intent plus a
// pre-structured hint (direction, counter-party, line items). Its output is
// advisory: the intent router validates it, drops anything below the
// confidence floor and falls back to local rules whenever the provider errors,
// times out or returns something malformed.
package nlp

import (
	"context"
	"errors"
	"strings"
)

// ErrRateLimit is returned by a Provider when the upstream API reports a
// rate-limiting condition (HTTP 429).
var ErrRateLimit = errors.New("nlp: upstream rate limit exceeded")

// ErrUnauthorized is returned when the API rejects the key (HTTP 401 or
// 403). Retrying does not help.
var ErrUnauthorized = errors.New("nlp: upstream rejected the API key")

// ErrMalformedOutput is returned by a Provider when the upstream answer
// cannot be interpreted as a ClassifyResponse. Retrying does not help.
var ErrMalformedOutput = errors.New("nlp: malformed response from classifier")

// Intent is the classifier's reading of an utterance.
type Intent string

const (
	IntentNewTransaction Intent = "new_transaction"
	IntentSlotFill       Intent = "slot_fill"
	IntentConfirmation   Intent = "confirmation"
	IntentCancellation   Intent = "cancellation"
	IntentModification   Intent = "modification"
	IntentBareValue      Intent = "bare_value"
	IntentConversation   Intent = "conversation"
	IntentUnknown        Intent = "unknown"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentNewTransaction, IntentSlotFill, IntentConfirmation, IntentCancellation,
		IntentModification, IntentBareValue, IntentConversation, IntentUnknown:
		return true
	}
	return false
}

// ClassifyRequest is the input to one classification call.
type ClassifyRequest struct {
	// Message is the raw utterance.
	Message string

	// SessionID identifies the conversation; used for rate limiting only and
	// never sent upstream.
	SessionID string

	// PendingDraft is a one-line summary of the draft in progress, if any, so
	// the model can tell a correction from a new transaction.
	PendingDraft string

	// KnownCounterparties lists names the model may map misspellings onto.
	KnownCounterparties []string
}

// HintItem is one line item proposed by the classifier.
type HintItem struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity,omitempty"`
	UnitPrice float64 `json:"unit_price,omitempty"`
}

// CommandHint is the pre-structured slot payload proposed by the classifier.
type CommandHint struct {
	Direction    string     `json:"direction,omitempty"`
	Counterparty string     `json:"counterparty,omitempty"`
	Items        []HintItem `json:"items,omitempty"`
}

// ClassifyResponse is the classifier's answer.
type ClassifyResponse struct {
	Intent     Intent       `json:"intent_type"`
	Confidence float64      `json:"confidence"`
	Hint       *CommandHint `json:"extracted_command_hint,omitempty"`
}

// Provider classifies utterances. Implementations must be safe for concurrent
// use.
type Provider interface {
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error)

// Classify calls f.
func (f ProviderFunc) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	return f(ctx, req)
}

func normaliseIntent(s string) Intent {
	return Intent(strings.ToLower(strings.TrimSpace(s)))
}
