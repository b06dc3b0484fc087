package transcript

import "testing"

func TestValidator_Check(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	tests := []struct {
		text string
		want Reason
	}{
		{"", ReasonEmpty},
		{"   \n", ReasonEmpty},
		{"a", ReasonTooShort},
		{" . ", ReasonTooShort},
		{"..", ReasonNoWords},
		{"...", ReasonHallucination},
		{"Thank you.", ReasonHallucination},
		{"thank you!", ReasonHallucination},
		{"Thanks for watching!", ReasonHallucination},
		{"  Thank you for watching.  ", ReasonHallucination},
		{"Thank you for watchin", ReasonHallucination},
		{"Thank you for the argument", ReasonOK},
		{"no", ReasonOK},
		{"I came here for a good argument.", ReasonOK},
	}
	for _, tt := range tests {
		if got := v.Check(tt.text); got != tt.want {
			t.Errorf("Check(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestValidator_Options(t *testing.T) {
	t.Parallel()

	v := NewValidator(WithMinRunes(5), WithHallucinations("Subtitles by the community"), WithSimilarity(0.9))
	if v.Valid("nope") {
		t.Error("4-rune transcript accepted with min length 5")
	}
	if v.Valid("subtitles by the comunity") {
		t.Error("near match of custom phrase accepted")
	}
	if !v.Valid("Thank you.") {
		t.Error("default phrases should be replaced")
	}
}
