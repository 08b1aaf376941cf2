package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/calloway-ai/switchboard/pkg/provider/llm"
)

// charsPerToken is the estimation heuristic: English call transcripts run
// about four characters per token across common tokenizers, close enough to
// stay clear of a tokenizer dependency.
const charsPerToken = 4

// compactThreshold is the fraction of the context window at which the
// oldest turns are folded into a recap.
const compactThreshold = 0.75

// callRecapPrompt keeps digit material out of summaries: only masked renders
// may appear in a recap.
const callRecapPrompt = `Summarise the following phone conversation between an automated agent and a caller.
Preserve: the purpose of the call, decisions made, information the caller provided or confirmed,
any digit entries (referred to only by their masked form), follow-ups promised, and how the call ended.
Be concise. Never include full card, account, or code digits.`

// RecapFunc folds a run of conversation turns into one recap line.
type RecapFunc func(ctx context.Context, turns []llm.Message) (string, error)

// History is the working transcript a session hands to the conversation
// model. A long call is compacted in place: once the estimated token count
// crosses compactThreshold of the context window, the oldest half of the
// turns is replaced by a recap line that precedes the remaining turns as
// system context. Recaps accumulate over the call, so even an hour-long call
// keeps its early decisions visible to the model.
//
// All methods are safe for concurrent use.
type History struct {
	window int
	recap  RecapFunc

	mu     sync.Mutex
	tokens int
	turns  []llm.Message
	recaps []string
}

// NewHistory creates a History bounded by the provider's context window.
// recap may be nil, in which case the history grows without compaction.
func NewHistory(window int, recap RecapFunc) *History {
	return &History{window: window, recap: recap}
}

// Append records turns in order. When the call runs long the oldest turns
// are compacted; the error reports a failed recap, with the turns kept.
func (h *History) Append(ctx context.Context, turns ...llm.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range turns {
		h.turns = append(h.turns, m)
		h.tokens += turnTokens(m)
	}
	if h.recap != nil && len(h.turns) > 1 &&
		h.tokens > int(float64(h.window)*compactThreshold) {
		if err := h.compact(ctx); err != nil {
			return fmt.Errorf("session: history compaction: %w", err)
		}
	}
	return nil
}

// Messages returns accumulated recap lines as system context followed by the
// live turns, ready to hand to the model.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, 0, len(h.recaps)+len(h.turns))
	for _, r := range h.recaps {
		out = append(out, llm.Message{
			Role:    "system",
			Content: "[Earlier in this call]: " + r,
		})
	}
	return append(out, h.turns...)
}

// TokenEstimate returns the current estimate, recap lines included.
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens
}

// Reset discards all turns and recaps.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = h.turns[:0]
	h.recaps = h.recaps[:0]
	h.tokens = 0
}

// compact folds the oldest half of the turns into a recap line. Caller holds
// h.mu; the lock is released around the model call.
func (h *History) compact(ctx context.Context) error {
	half := len(h.turns) / 2
	if half == 0 {
		half = 1
	}
	oldest := make([]llm.Message, half)
	copy(oldest, h.turns[:half])

	h.mu.Unlock()
	recap, err := h.recap(ctx, oldest)
	h.mu.Lock()
	if err != nil {
		return err
	}

	for _, m := range h.turns[:half] {
		h.tokens -= turnTokens(m)
	}
	h.turns = h.turns[half:]
	h.recaps = append(h.recaps, recap)
	h.tokens += len(recap) / charsPerToken
	return nil
}

// turnTokens estimates one message at one token per four characters, tool
// call payloads included.
func turnTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Arguments) + len(tc.ID)
	}
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}

// CallRecap builds the RecapFunc backed by the conversation model. The same
// function serves in-call compaction and the end-of-call summary.
func CallRecap(provider llm.Provider) RecapFunc {
	return func(ctx context.Context, turns []llm.Message) (string, error) {
		if len(turns) == 0 {
			return "", nil
		}
		var sb strings.Builder
		for _, m := range turns {
			speaker := m.Role
			if m.Name != "" {
				speaker = m.Name
			}
			fmt.Fprintf(&sb, "[%s]: %s\n", speaker, m.Content)
		}
		resp, err := provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: callRecapPrompt,
			Messages:     []llm.Message{{Role: "user", Content: sb.String()}},
			Temperature:  0.3,
		})
		if err != nil {
			return "", fmt.Errorf("session: recap: %w", err)
		}
		return resp.Content, nil
	}
}
