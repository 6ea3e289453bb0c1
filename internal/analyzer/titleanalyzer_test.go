package analyzer

import "testing"

func TestSanitizeStripsReleaseNoiseAndResolution(t *testing.T) {
	got := Sanitize("The.Expanse.S03E05.1080p.WEB-DL.x264-GROUP.mkv")
	if got == "" {
		t.Fatal("sanitized title must never be empty for a non-empty input")
	}
	for _, bad := range []string{"1080p", "WEB-DL", "x264", ".mkv"} {
		if contains(got, bad) {
			t.Fatalf("expected %q stripped from sanitized title, got %q", bad, got)
		}
	}
}

func TestSanitizeNeverEmptyForNonEmptyInput(t *testing.T) {
	inputs := []string{"a.mkv", "____", "1080p.mkv", ""}
	for _, in := range inputs {
		got := Sanitize(in)
		if in != "" && got == "" {
			t.Fatalf("Sanitize(%q) returned empty string", in)
		}
	}
}

func TestAnalyzeTitleMatchesCanonicalSxxExx(t *testing.T) {
	r := AnalyzeTitle("The Expanse - S03E05 - Abaddons Gate.mkv")
	if !r.Matched {
		t.Fatalf("expected SxxExx pattern to match, got %+v", r)
	}
	if r.Season != 3 || r.Episode != 5 {
		t.Fatalf("expected season 3 episode 5, got season=%d episode=%d", r.Season, r.Episode)
	}
	if r.ShowName != "The Expanse" {
		t.Fatalf("expected show name %q, got %q", "The Expanse", r.ShowName)
	}
}

func TestAnalyzeTitleMatchesNxMForm(t *testing.T) {
	r := AnalyzeTitle("Friends 4x12.mkv")
	if !r.Matched || r.Season != 4 || r.Episode != 12 {
		t.Fatalf("expected 4x12 to parse as season 4 episode 12, got %+v", r)
	}
}

func TestAnalyzeTitleNoMatchForPlainMovie(t *testing.T) {
	r := AnalyzeTitle("Aliens (1986) 1080p.mkv")
	if r.Matched {
		t.Fatalf("expected a plain movie filename not to match an episode pattern, got %+v", r)
	}
	if r.SanitizedTitle == "" {
		t.Fatal("expected a non-empty sanitized title even without a match")
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
