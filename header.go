package notelayout

import (
	"regexp"
	"strings"
	"unicode"
)

// HeaderConfig tunes the header classifier. Keyword is the literal section
// marker the document family uses in its titles (typically "NOTES").
type HeaderConfig struct {
	Keyword       string  `yaml:"keyword"`
	MinUpperRatio float64 `yaml:"min_upper_ratio"`
	MinWords      int     `yaml:"min_words"`
	MaxWords      int     `yaml:"max_words"`
}

// DefaultHeaderConfig returns the classifier settings calibrated on
// engineering drawing sets.
func DefaultHeaderConfig() HeaderConfig {
	return HeaderConfig{
		Keyword:       "NOTES",
		MinUpperRatio: 0.80,
		MinWords:      2,
		MaxWords:      14,
	}
}

var (
	wsRe = regexp.MustCompile(`\s+`)

	// Cross-references ("SEE SHEET C-101", "REFER TO NOTES") are not headers.
	crossRefRe = regexp.MustCompile(`(?i)\b(SEE|REFER TO)\b`)

	// Continuation markers rescue text the cross-reference rule would reject.
	continuationRe = regexp.MustCompile(`(?i)\bCONT(?:'D|’D|INUED|\.)?\b`)

	// Trailing "(CONT'D)" and friends, stripped during normalization.
	contSuffixRe = regexp.MustCompile(`(?i)\s*\(\s*CONT(?:'D|’D|INUED|\.)?\s*\)\s*$`)

	// Characters a header may contain once the trailing colon is stripped.
	headerShapeRe = regexp.MustCompile(`^[A-Z0-9\s/&'’\-(),.:]+$`)
)

// headerRule is one predicate in the classifier's rule table. Rules run in
// order; the first failing rule decides.
type headerRule struct {
	Name string
	Pass func(text string) bool
}

// HeaderClassifier decides whether a text span is a section header. The
// decision is binary and deterministic: each rule either passes or names
// itself as the reason for rejection, so individual rules stay testable.
type HeaderClassifier struct {
	cfg       HeaderConfig
	keywordRe *regexp.Regexp
	rules     []headerRule
}

// NewHeaderClassifier compiles the rule table for cfg.
func NewHeaderClassifier(cfg HeaderConfig) *HeaderClassifier {
	hc := &HeaderClassifier{
		cfg:       cfg,
		keywordRe: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(cfg.Keyword) + `\b`),
	}
	hc.rules = []headerRule{
		{Name: "non_empty", Pass: func(s string) bool {
			return s != ""
		}},
		{Name: "keyword", Pass: func(s string) bool {
			return hc.keywordRe.MatchString(s)
		}},
		{Name: "cross_reference", Pass: func(s string) bool {
			return !crossRefRe.MatchString(s) || continuationRe.MatchString(s)
		}},
		{Name: "sentence_like", Pass: func(s string) bool {
			sentence := strings.HasSuffix(s, ".") && strings.Contains(s, "(")
			return !sentence || continuationRe.MatchString(s)
		}},
		{Name: "uppercase_ratio", Pass: func(s string) bool {
			return uppercaseRatio(s) >= cfg.MinUpperRatio
		}},
		{Name: "word_count", Pass: func(s string) bool {
			wc := len(strings.Fields(s))
			return wc >= cfg.MinWords && wc <= cfg.MaxWords
		}},
		{Name: "shape", Pass: func(s string) bool {
			stripped := strings.TrimRight(s, " :")
			return headerShapeRe.MatchString(strings.ToUpper(stripped))
		}},
	}
	return hc
}

// Classify reports whether text is a header. On rejection it also returns the
// name of the rule that disqualified it.
func (hc *HeaderClassifier) Classify(text string) (bool, string) {
	s := collapseSpaces(text)
	for _, rule := range hc.rules {
		if !rule.Pass(s) {
			return false, rule.Name
		}
	}
	return true, ""
}

// IsHeader reports whether text is a header.
func (hc *HeaderClassifier) IsHeader(text string) bool {
	ok, _ := hc.Classify(text)
	return ok
}

// IsContinuation reports whether text carries a continuation marker
// ("CONT'D", "CONTINUED", ...).
func (hc *HeaderClassifier) IsContinuation(text string) bool {
	return continuationRe.MatchString(text)
}

// NormalizeHeader produces the stable key used to de-duplicate headers and
// match continuations across pages: whitespace collapsed, trailing colon and
// continuation suffix stripped, upper-cased.
func NormalizeHeader(s string) string {
	s = collapseSpaces(s)
	s = strings.TrimRight(s, " :")
	s = contSuffixRe.ReplaceAllString(s, "")
	return strings.ToUpper(collapseSpaces(s))
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

func uppercaseRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// TagHeaders classifies every text_line chunk and promotes matches to header,
// recording the normalized title and continuation flag. Returns the number of
// chunks tagged.
func TagHeaders(chunks []*Chunk, hc *HeaderClassifier) (int, error) {
	tagged := 0
	for _, c := range chunks {
		if c.Type != CategoryTextLine {
			continue
		}
		ok, _ := hc.Classify(c.Text)
		if !ok {
			continue
		}

		prev := string(c.Type)
		if err := c.Promote(CategoryHeader); err != nil {
			return tagged, err
		}
		c.SetMeta(MetaPrevType, prev)
		c.SetMeta(MetaHeaderCandidate, true)
		c.SetMeta(MetaHeaderNorm, NormalizeHeader(c.Text))
		c.SetMeta(MetaIsContinuation, hc.IsContinuation(c.Text))
		c.RecordStage(StageTagHeaders, "header", map[string]any{
			"keyword":         hc.cfg.Keyword,
			"min_upper_ratio": hc.cfg.MinUpperRatio,
		})
		tagged++
	}
	return tagged, nil
}

// PromoteConfig tunes the fallback header promotion pass.
type PromoteConfig struct {
	// Keyword mirrors HeaderConfig.Keyword.
	Keyword string `yaml:"keyword"`

	// MinOverlapExisting skips a candidate whose rectangle already overlaps an
	// existing header by at least this fraction, to avoid duplicates.
	MinOverlapExisting float64 `yaml:"min_overlap_existing"`
}

// DefaultPromoteConfig returns the promotion settings used in production runs.
func DefaultPromoteConfig() PromoteConfig {
	return PromoteConfig{Keyword: "NOTES", MinOverlapExisting: 0.60}
}

func (cfg PromoteConfig) pattern() *regexp.Regexp {
	return regexp.MustCompile(`^[A-Z0-9\s\-()'’.&/]+` + regexp.QuoteMeta(cfg.Keyword) + `(\s*\(CONT['’]D\))?:\s*$`)
}

// PromoteHeaders is a second-chance pass for titles the main classifier
// missed: a text_line whose full text matches the strict "... NOTES:" shape is
// promoted to header unless it substantially overlaps one that already
// exists. Returns the number of chunks promoted.
func PromoteHeaders(chunks []*Chunk, cfg PromoteConfig) (int, error) {
	re := cfg.pattern()
	promoted := 0

	for _, pageChunks := range ByPage(chunks) {
		var headers []*Chunk
		for _, c := range pageChunks {
			if c.IsHeader() {
				headers = append(headers, c)
			}
		}

		for _, c := range pageChunks {
			if c.Type != CategoryTextLine {
				continue
			}
			norm := collapseSpaces(c.Text)
			if norm == "" || !re.MatchString(norm) {
				continue
			}

			duplicate := false
			for _, h := range headers {
				if OverlapRatio(c.Rect, h.Rect) >= cfg.MinOverlapExisting {
					duplicate = true
					break
				}
			}
			if duplicate {
				continue
			}

			if err := c.Promote(CategoryHeader); err != nil {
				return promoted, err
			}
			c.Text = norm
			c.SetMeta(MetaHeaderCandidate, true)
			c.SetMeta(MetaHeaderNorm, NormalizeHeader(norm))
			c.SetMeta(MetaPromotedFrom, string(CategoryTextLine))
			c.RecordStage(StagePromoteHeaders, "promoted", map[string]any{
				"min_overlap_existing": cfg.MinOverlapExisting,
			})
			headers = append(headers, c)
			promoted++
		}
	}
	return promoted, nil
}
