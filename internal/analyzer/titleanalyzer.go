package analyzer

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Grounded on the teacher's internal/scanner/filename_parser.go pattern
// table, generalised from per-library-type dispatch into the single
// pure function §4.7.2 asks for: strip noise, canonicalise separators,
// then try to recognise an episode pattern.

// noiseWords are dropped wholesale wherever they appear as a standalone
// token once separators are canonicalised to spaces (§4.7.2: "strips
// release-group noise, resolution and codec tokens").
var noiseWords = map[string]bool{
	"web": true, "dl": true, "webdl": true, "webrip": true,
	"bluray": true, "brrip": true, "bdrip": true, "hdtv": true,
	"dvdrip": true, "remux": true, "proper": true, "repack": true,
	"x264": true, "x265": true, "h264": true, "h265": true, "hevc": true,
	"avc": true, "aac": true, "ac3": true, "dts": true, "flac": true,
	"480p": true, "576p": true, "720p": true, "1080p": true, "2160p": true,
}

var (
	separatorPattern = regexp.MustCompile(`[._-]`)
	multiSpacePattern = regexp.MustCompile(`\s{2,}`)

	// Episode patterns, most specific first. Localised "season x episode"
	// forms are folded in alongside the canonical SxxEyy and NxM shapes.
	// They run against the space-canonicalised (but not noise-stripped)
	// title, since stripping runs after episode extraction would risk
	// eating season/episode tokens that look like noise.
	episodePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(.*?)\s+S(\d{1,3})E(\d{1,3})(?:\s+(.*))?$`),
		regexp.MustCompile(`(?i)^(.*?)\s+(\d{1,2})x(\d{1,3})(?:\s+(.*))?$`),
		regexp.MustCompile(`(?i)^(.*?)\s+saison\s*(\d{1,3})\s+episode\s*(\d{1,3})(?:\s+(.*))?$`),
		regexp.MustCompile(`(?i)^(.*?)\s+temporada\s*(\d{1,3})\s+episodio\s*(\d{1,3})(?:\s+(.*))?$`),
	}
)

// canonicalize replaces `.`, `_` and `-` with spaces and collapses runs
// of whitespace, without removing any token (§4.7.2 "canonicalises
// separators... between word boundaries become spaces").
func canonicalize(s string) string {
	s = separatorPattern.ReplaceAllString(s, " ")
	s = multiSpacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Sanitize strips release-group noise and resolution/codec tokens, the
// container extension, and canonicalises separators into spaces. The
// result is always a non-empty prefix-reduction of the input when the
// input itself is non-empty (§4.7.2).
func Sanitize(filename string) string {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	if base == "" {
		base = filename
	}
	canonical := canonicalize(base)

	tokens := strings.Fields(canonical)
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if noiseWords[strings.ToLower(tok)] {
			continue
		}
		kept = append(kept, tok)
	}

	result := strings.TrimSpace(strings.Join(kept, " "))
	if result == "" {
		result = canonical
	}
	if result == "" {
		result = strings.TrimSpace(filename)
	}
	return result
}

// TitleResult is the outcome of AnalyzeTitle.
type TitleResult struct {
	Matched        bool
	Season         int
	Episode        int
	ShowName       string
	EpisodeTitle   string
	SanitizedTitle string
}

// AnalyzeTitle sanitises filename, then attempts every episode pattern
// in turn and returns the first match (§4.7.2).
func AnalyzeTitle(filename string) TitleResult {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	if base == "" {
		base = filename
	}
	canonical := canonicalize(base)
	sanitized := Sanitize(filename)

	for _, pat := range episodePatterns {
		m := pat.FindStringSubmatch(canonical)
		if m == nil {
			continue
		}
		season, _ := strconv.Atoi(m[2])
		episode, _ := strconv.Atoi(m[3])
		showName := strings.TrimSpace(m[1])
		episodeTitle := ""
		if len(m) > 4 {
			episodeTitle = strings.TrimSpace(m[4])
		}
		if showName == "" {
			continue
		}
		return TitleResult{
			Matched:        true,
			Season:         season,
			Episode:        episode,
			ShowName:       showName,
			EpisodeTitle:   episodeTitle,
			SanitizedTitle: sanitized,
		}
	}

	return TitleResult{Matched: false, SanitizedTitle: sanitized}
}
