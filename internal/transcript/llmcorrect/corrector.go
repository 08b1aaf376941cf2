// Package llmcorrect implements the language-model correction stage for
// caller utterances: term mishearings the phonetic matcher could not resolve
// are handed to an [llm.Provider] together with the known-term list.
//
// The model is held to a conservative system prompt and must answer with a
// structured JSON object carrying the corrected text and an itemised
// substitution list. Every substitution the model claims is then verified
// against the actual token-level diff between input and output; changes the
// model made but did not declare are reverted. An unparseable response
// degrades to the original text with no error, so a flaky model never stalls
// the utterance path.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/calloway-ai/switchboard/pkg/provider/llm"
)

const defaultTemperature = 0.1

// systemPromptTemplate is the base system prompt. The term list is appended
// at call time so each request carries the current call's vocabulary.
const systemPromptTemplate = `You are a transcript correction assistant for phone call transcripts.

Your task: fix mishearings of the known terms listed below in the provided transcript text.

Rules:
- ONLY correct words that appear to be misheard versions of the known terms (names, brands, places).
- Do NOT change ordinary words, numbers, grammar, punctuation, or sentence structure.
- Never alter spoken digit sequences or anything that looks like a code.
- Be conservative. If you are not confident a word is a misheard term, leave it unchanged.
- Corrected terms must match the canonical spelling from the list exactly.

Known terms:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected transcript>",
  "corrections": [
    {"original": "<original word>", "corrected": "<corrected word>", "confidence": <0.0-1.0>}
  ]
}

If no corrections are needed, return an empty corrections array and corrected_text equal to the input.`

// Correction is a single substitution produced by the model. The pipeline
// maps these to transcript.Correction values with Method "llm".
type Correction struct {
	// Original is the word as it appeared in the input transcript.
	Original string

	// Corrected is the canonical term the model substituted.
	Corrected string

	// Confidence is the model's reported confidence (0.0-1.0).
	Confidence float64
}

// llmResponse is the JSON structure the model is instructed to return.
type llmResponse struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) { c.temperature = temp }
}

// Corrector asks an [llm.Provider] to fix term mishearings in utterance
// text. Safe for concurrent use.
//
// Model selection follows the one-provider-per-model pattern: construct the
// provider with the correction model configured rather than overriding per
// request.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

// New returns a Corrector backed by provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct sends text to the model with the term list as context.
// lowConfidenceSpans are called out in the user message as candidate
// mishearings. The returned text contains only verified substitutions:
// undeclared changes in the model output are reverted.
//
// An unparseable response returns the original text with a nil error.
// Context cancellation and transport errors are returned as errors.
func (c *Corrector) Correct(
	ctx context.Context,
	text string,
	terms []string,
	lowConfidenceSpans []string,
) (string, []Correction, error) {
	if len(terms) == 0 {
		return text, nil, nil
	}

	userMsg := text
	if len(lowConfidenceSpans) > 0 {
		userMsg = fmt.Sprintf(
			"Transcript: %s\n\nLow-confidence spans that may be misheard: %s",
			text,
			strings.Join(lowConfidenceSpans, ", "),
		)
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(terms),
		Temperature:  c.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: userMsg},
		},
	}

	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return text, nil, fmt.Errorf("llmcorrect: complete: %w", err)
	}

	corrected, corrections, parseErr := parseResponse(resp.Content, text)
	if parseErr != nil {
		return text, nil, nil
	}

	verified, confirmed := verifyCorrectedText(text, corrected, corrections)
	return verified, confirmed, nil
}

// buildSystemPrompt formats the system prompt template with the term list.
func buildSystemPrompt(terms []string) string {
	var sb strings.Builder
	for _, t := range terms {
		sb.WriteString("- ")
		sb.WriteString(t)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse unmarshals the model output, stripping markdown code fences
// some models wrap JSON in.
func parseResponse(content, originalText string) (string, []Correction, error) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", nil, fmt.Errorf("llmcorrect: parse response: %w", err)
	}

	if r.CorrectedText == "" {
		return originalText, nil, nil
	}

	corrections := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == c.Corrected || c.Original == "" {
			continue
		}
		corrections = append(corrections, Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
		})
	}

	return r.CorrectedText, corrections, nil
}

// stripMarkdown removes optional ```json fences around the model output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
