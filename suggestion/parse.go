package suggestion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"disputeflow/dispute"
)

// AnalysisPlaceholder stands in when the model gave no usable analysis.
const AnalysisPlaceholder = "No separate analysis was provided. Please review the options below."

const (
	maxOptions      = 3
	maxOptionLength = 800
)

// Strategy names the parsing step that produced the options.
type Strategy string

const (
	StrategySplit  Strategy = "split"
	StrategySearch Strategy = "search"
	StrategyNone   Strategy = "none"
)

// Parsed is the structured form of a completion. Options holds 0 to 3 entries.
type Parsed struct {
	Analysis string
	Options  []dispute.Suggestion
	Strategy Strategy
}

var (
	analysisRe = regexp.MustCompile(`(?is)analysis[*_]*[ \t]*[:\-][*_]*\s*(.*?)(?:\s[*#_>\-\s]*(?:option|verdict|solution)[ \t]*\d|\n[ \t]*\d[ \t]*[.)]|\z)`)

	headerRe = regexp.MustCompile(`(?im)^[ \t]*[*#_>\-]*[ \t]*(?:(?:option|verdict|solution)[ \t]*[1-9][ \t]*[*_]*[ \t]*[:.)\-]?|[1-9][.)](?:[ \t]|$))[*_]*[ \t]*`)

	optionTokenRe = regexp.MustCompile(`(?i)\b(?:option|verdict|solution)\b`)

	looksLikeOptionRe = regexp.MustCompile(`(?i)^[*#_>\-\s]*(?:(?:option|verdict|solution)\s*\d|\d\s*[.)])`)

	fenceRe = regexp.MustCompile("(?m)^[ \t]*```[a-zA-Z]*[ \t]*$")

	searchRes = buildSearchPatterns()
)

// buildSearchPatterns returns one bounded pattern per option number, each
// capturing the text between marker N and marker N+1 (or a blank line, or the
// end of input).
func buildSearchPatterns() []*regexp.Regexp {
	marker := func(n int) string {
		return fmt.Sprintf(`(?:(?:option|verdict|solution)[ \t]*)?%d[ \t]*[:.)]`, n)
	}
	out := make([]*regexp.Regexp, 0, maxOptions)
	for n := 1; n <= maxOptions; n++ {
		pattern := fmt.Sprintf(`(?is)(?:^|\s)%s\s*(.{1,%d}?)\s*(?:\s%s|\n\s*\n|\z)`, marker(n), maxOptionLength, marker(n+1))
		out = append(out, regexp.MustCompile(pattern))
	}
	return out
}

// Parse turns free-form completion text into an analysis and up to three
// options. It never fails: each step falls back to a weaker one, and the worst
// case is the placeholder analysis with no options.
func Parse(text string) Parsed {
	text = normalize(text)

	analysis, rest := extractAnalysis(text)
	out := Parsed{Analysis: analysis, Strategy: StrategyNone}

	if opts, ok := splitOptions(rest); ok {
		out.Options = opts
		out.Strategy = StrategySplit
	} else if opts := searchOptions(rest); len(opts) > 0 {
		out.Options = opts
		out.Strategy = StrategySearch
	}

	for i := range out.Options {
		out.Options[i].ID = strconv.Itoa(i + 1)
	}
	return out
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = fenceRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// extractAnalysis returns the analysis text and the remainder that may hold
// the options.
func extractAnalysis(text string) (string, string) {
	if loc := analysisRe.FindStringSubmatchIndex(text); loc != nil {
		analysis := cleanOption(text[loc[2]:loc[3]])
		if analysis != "" {
			return analysis, text[loc[3]:]
		}
	}

	cut := len(text)
	if loc := headerRe.FindStringIndex(text); loc != nil {
		cut = loc[0]
	}
	if loc := optionTokenRe.FindStringIndex(text); loc != nil && loc[0] < cut {
		cut = loc[0]
	}

	prose := strings.TrimSpace(text[:cut])
	if prose == "" || looksLikeOptionRe.MatchString(prose) {
		return AnalysisPlaceholder, text
	}
	return prose, text[cut:]
}

// splitOptions splits on option headers and succeeds only when a preamble and
// at least three options come out of it.
func splitOptions(text string) ([]dispute.Suggestion, bool) {
	locs := headerRe.FindAllStringIndex(text, -1)
	if len(locs)+1 < maxOptions+1 {
		return nil, false
	}

	segments := make([]string, 0, len(locs)+1)
	segments = append(segments, text[:locs[0][0]])
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segments = append(segments, text[loc[1]:end])
	}

	opts := make([]dispute.Suggestion, 0, maxOptions)
	for i := 1; i <= maxOptions; i++ {
		seg := segments[i]
		if i == maxOptions {
			seg = cutTrailer(seg)
		}
		if cleaned := cleanOption(seg); cleaned != "" {
			opts = append(opts, dispute.Suggestion{Text: cleaned})
		}
	}
	return opts, true
}

func searchOptions(text string) []dispute.Suggestion {
	opts := make([]dispute.Suggestion, 0, maxOptions)
	for _, re := range searchRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if cleaned := cleanOption(cutTrailer(m[1])); cleaned != "" {
			opts = append(opts, dispute.Suggestion{Text: cleaned})
		}
	}
	return opts
}

// cutTrailer drops commentary after the last option.
func cutTrailer(s string) string {
	s = strings.TrimLeft(s, " \t\n")
	if i := strings.Index(s, "\n\n"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "Note:"); i >= 0 {
		s = s[:i]
	}
	return s
}

func cleanOption(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, ":.-)*_# \t\n")
	s = strings.TrimRight(s, "*_ \t\n")
	return strings.TrimSpace(s)
}
