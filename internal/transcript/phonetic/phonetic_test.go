package phonetic_test

import (
	"testing"

	"github.com/calloway-ai/switchboard/internal/transcript/phonetic"
)

func TestMatcher_MishearingResolves(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"Kowalski", "Delacroix", "Hargrove Plumbing"}

	// A trailing-vowel mishearing shares all Metaphone codes with the term.
	corrected, conf, matched := m.Match("kowalsky", terms)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "kowalsky")
	}
	if corrected != "Kowalski" {
		t.Errorf("Match(%q): corrected=%q, want %q", "kowalsky", corrected, "Kowalski")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "kowalsky", conf)
	}
}

func TestMatcher_MultiWordTerm(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"Hargrove Plumbing", "Kowalski"}

	corrected, conf, matched := m.Match("hargrove pluming", terms)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "hargrove pluming")
	}
	if corrected != "Hargrove Plumbing" {
		t.Errorf("Match(%q): corrected=%q, want %q", "hargrove pluming", corrected, "Hargrove Plumbing")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "hargrove pluming", conf)
	}
}

func TestMatcher_OrdinaryWordPassesThrough(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"Kowalski", "Delacroix"}

	corrected, conf, matched := m.Match("hello", terms)
	if matched {
		t.Fatalf("Match(%q): matched=true, want false", "hello")
	}
	if corrected != "hello" {
		t.Errorf("Match(%q): corrected=%q, want the original word", "hello", corrected)
	}
	if conf != 0 {
		t.Errorf("Match(%q): confidence=%f, want 0", "hello", conf)
	}
}

func TestMatcher_CaseInsensitive(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	corrected, _, matched := m.Match("KOWALSKI", []string{"Kowalski"})
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "KOWALSKI")
	}
	// The canonical casing from the term list wins.
	if corrected != "Kowalski" {
		t.Errorf("Match(%q): corrected=%q, want %q", "KOWALSKI", corrected, "Kowalski")
	}
}

func TestMatcher_ExactMatchHighConfidence(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	corrected, conf, matched := m.Match("delacroix", []string{"Delacroix", "Kowalski"})
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "delacroix")
	}
	if corrected != "Delacroix" {
		t.Errorf("Match(%q): corrected=%q, want %q", "delacroix", corrected, "Delacroix")
	}
	if conf < 0.9 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.9", "delacroix", conf)
	}
}

func TestMatcher_ThresholdRejectsNearMiss(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)

	_, _, matched := m.Match("kowalsky", []string{"Kowalski"})
	if matched {
		t.Fatal("threshold 0.99 accepted a near-miss, want rejection")
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	if _, conf, matched := m.Match("kowalski", nil); matched || conf != 0 {
		t.Errorf("Match with no terms: matched=%v conf=%f, want false/0", matched, conf)
	}
	if corrected, _, matched := m.Match("", []string{"Kowalski"}); matched || corrected != "" {
		t.Errorf("Match with empty word: matched=%v corrected=%q, want false/empty", matched, corrected)
	}
}
