package transcript

import (
	"context"
	"strings"

	"github.com/calloway-ai/switchboard/internal/transcript/llmcorrect"
	"github.com/calloway-ai/switchboard/pkg/provider/stt"
)

const defaultLLMConfidenceThreshold = 0.5

// Correction records a single substitution made while correcting a caller
// utterance.
type Correction struct {
	// Original is the text as produced by the STT provider.
	Original string

	// Corrected is the replacement term.
	Corrected string

	// Confidence is the corrector's confidence in this substitution (0.0-1.0).
	Confidence float64

	// Method is "phonetic" or "llm".
	Method string
}

// CorrectedUtterance pairs the raw transcript with the corrected text and an
// itemised record of every substitution applied. An empty Corrections slice
// means the utterance passed through unchanged.
type CorrectedUtterance struct {
	Original    stt.Transcript
	Corrected   string
	Corrections []Correction
}

// Corrector fixes vocabulary mishearings in caller utterances. terms is the
// per-call list of words the recogniser is expected to get wrong: the
// customer's name, brand and product names, street names.
//
// Implementations must be safe for concurrent use.
type Corrector interface {
	Correct(ctx context.Context, t stt.Transcript, terms []string) (*CorrectedUtterance, error)
}

// TermMatcher resolves a word, or a short space-separated phrase, to a known
// term based on pronunciation similarity. It runs in-process with no network
// calls, fast enough for the live utterance path.
//
// When matched is false, corrected must equal word unchanged and confidence
// must be 0.
type TermMatcher interface {
	Match(word string, terms []string) (corrected string, confidence float64, matched bool)
}

// PipelineOption configures a [CorrectionPipeline].
type PipelineOption func(*CorrectionPipeline)

// WithTermMatcher attaches the first correction stage. Nil skips the stage.
func WithTermMatcher(m TermMatcher) PipelineOption {
	return func(p *CorrectionPipeline) { p.matcher = m }
}

// WithLLMCorrector attaches the second correction stage. Nil skips the stage.
func WithLLMCorrector(c *llmcorrect.Corrector) PipelineOption {
	return func(p *CorrectionPipeline) { p.llmCorrector = c }
}

// WithLLMOnLowConfidence sets the per-word STT confidence below which a word
// not already fixed by the matcher is handed to the LLM stage. Utterances
// without per-word confidence data always reach the LLM stage when one is
// configured. Default: 0.5.
func WithLLMOnLowConfidence(threshold float64) PipelineOption {
	return func(p *CorrectionPipeline) { p.llmThreshold = threshold }
}

// CorrectionPipeline is the two-stage [Corrector]: a [TermMatcher] first,
// then an optional [llmcorrect.Corrector] for low-confidence spans the
// matcher left alone. Both stages are optional; with neither configured, or
// with no terms, Correct passes the utterance through unchanged.
//
// Safe for concurrent use.
type CorrectionPipeline struct {
	matcher      TermMatcher
	llmCorrector *llmcorrect.Corrector
	llmThreshold float64
}

var _ Corrector = (*CorrectionPipeline)(nil)

// NewPipeline constructs a [CorrectionPipeline] with the supplied options.
func NewPipeline(opts ...PipelineOption) *CorrectionPipeline {
	p := &CorrectionPipeline{llmThreshold: defaultLLMConfidenceThreshold}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Correct applies the configured stages to t and returns the corrected
// utterance. The matcher stage tests every token window up to the longest
// term against the term list; the LLM stage then reviews any remaining
// low-confidence words. Context cancellation surfaces from the LLM stage.
func (p *CorrectionPipeline) Correct(ctx context.Context, t stt.Transcript, terms []string) (*CorrectedUtterance, error) {
	result := &CorrectedUtterance{
		Original:    t,
		Corrected:   t.Text,
		Corrections: []Correction{},
	}
	if len(terms) == 0 {
		return result, nil
	}

	working := t.Text
	var matcherCorrections []Correction
	if p.matcher != nil {
		working, matcherCorrections = p.applyMatcher(t.Text, terms)
	}

	fixed := make(map[string]struct{}, len(matcherCorrections))
	for _, c := range matcherCorrections {
		fixed[strings.ToLower(c.Original)] = struct{}{}
	}

	var llmCorrections []Correction
	if p.llmCorrector != nil {
		spans := p.lowConfidenceSpans(t.Words, fixed)
		// Without per-word confidence data the LLM always reviews; with it,
		// only flagged spans trigger the round trip.
		if len(t.Words) == 0 || len(spans) > 0 {
			corrected, raw, err := p.llmCorrector.Correct(ctx, working, terms, spans)
			if err != nil {
				return nil, err
			}
			working = corrected
			for _, rc := range raw {
				llmCorrections = append(llmCorrections, Correction{
					Original:   rc.Original,
					Corrected:  rc.Corrected,
					Confidence: rc.Confidence,
					Method:     "llm",
				})
			}
		}
	}

	result.Corrected = working
	result.Corrections = append(result.Corrections, matcherCorrections...)
	result.Corrections = append(result.Corrections, llmCorrections...)
	return result, nil
}

// applyMatcher slides over the utterance tokens testing n-gram windows, the
// widest first so multi-word terms win over partial single-word matches. The
// cursor advances by the number of tokens a match consumed.
func (p *CorrectionPipeline) applyMatcher(text string, terms []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}
	maxTermWords := maxWordCount(terms)

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := p.matcher.Match(window, terms)
			if !ok {
				continue
			}
			output = append(output, strings.Fields(term)...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
				Method:     "phonetic",
			})
			i += n
			matched = true
			break
		}
		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// lowConfidenceSpans returns words under the threshold that the matcher did
// not already fix.
func (p *CorrectionPipeline) lowConfidenceSpans(words []stt.WordDetail, fixed map[string]struct{}) []string {
	var spans []string
	for _, w := range words {
		if _, ok := fixed[strings.ToLower(w.Word)]; ok {
			continue
		}
		if w.Confidence < p.llmThreshold {
			spans = append(spans, w.Word)
		}
	}
	return spans
}

// maxWordCount returns the longest term length in whitespace-separated words,
// at least 1.
func maxWordCount(terms []string) int {
	n := 1
	for _, t := range terms {
		if c := len(strings.Fields(t)); c > n {
			n = c
		}
	}
	return n
}
