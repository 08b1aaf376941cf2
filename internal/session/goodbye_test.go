package session

import "testing"

func TestIsGoodbye(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"thanks", true},
		{"Thank you!", true},
		{"bye", true},
		{"Goodbye.", true},
		{"bye bye", true},
		{"that's all", true},
		{"That is all.", true},
		{"okay thanks, goodbye", true},
		{"have a good day", true},
		{"alright, have a good one", true},
		// STT artifact, matched fuzzily.
		{"goodby", true},
		// Goodbye buried in a longer sentence keeps the call going.
		{"thanks, one more question", false},
		{"i think we are all set here so goodbye", false},
		{"can you repeat that", false},
		{"what was the total again", false},
		{"", false},
		{"   ", false},
	}
	for _, tc := range cases {
		if got := isGoodbye(tc.text); got != tc.want {
			t.Errorf("isGoodbye(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestNormalizeUtterance(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Thanks, Bye!  ", "thanks bye"},
		{"That's   all.", "that's all"},
		{"GOODBYE", "goodbye"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeUtterance(tc.in); got != tc.want {
			t.Errorf("normalizeUtterance(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
