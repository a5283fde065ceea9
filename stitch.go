package notelayout

import (
	"regexp"
	"strings"
	"unicode"
)

// StitchConfig tunes the post-merge stitch pass.
type StitchConfig struct {
	// MaxGap is the largest vertical gap between the growing unit and a
	// continuation line.
	MaxGap float64 `yaml:"max_gap"`

	// MinOverlap is the minimum horizontal overlap ratio for a continuation.
	// Deliberately stricter than the merge pass: this is a repair tool, not a
	// second merger.
	MinOverlap float64 `yaml:"min_overlap"`

	// X0Tolerance is the left-edge clustering tolerance used when no visual
	// column hints are available.
	X0Tolerance float64 `yaml:"x0_tolerance"`
}

// DefaultStitchConfig returns the stitch thresholds used in production runs.
func DefaultStitchConfig() StitchConfig {
	return StitchConfig{
		MaxGap:      28,
		MinOverlap:  0.60,
		X0Tolerance: 100,
	}
}

func (cfg StitchConfig) params() map[string]any {
	return map[string]any{
		"max_gap":      cfg.MaxGap,
		"min_overlap":  cfg.MinOverlap,
		"x0_tolerance": cfg.X0Tolerance,
	}
}

// bulletRe matches note starts: "12.", "3)", "A.", "B)", "-", "*", "•", "+".
var bulletRe = regexp.MustCompile(`^\s*(?:\d{1,3}[.)]|[A-Z][.)]|[-*•+])(?:\s+|$)`)

// LooksLikeBullet reports whether text opens with a bullet or numbering
// marker.
func LooksLikeBullet(text string) bool {
	return bulletRe.MatchString(text)
}

// PostMergeStitcher repairs notes the primary merger left split. The merge
// pass refuses to bridge headers and large indent shifts; a wrapped
// continuation line can legitimately end up stranded below its bullet. The
// stitcher re-attaches it using a narrower, bullet-aware rule.
type PostMergeStitcher struct {
	cfg StitchConfig
}

// NewPostMergeStitcher builds a stitcher for cfg.
func NewPostMergeStitcher(cfg StitchConfig) *PostMergeStitcher {
	return &PostMergeStitcher{cfg: cfg}
}

// Stitch runs the pass over the whole collection and returns the new
// collection plus the number of units that absorbed at least one
// continuation.
func (ps *PostMergeStitcher) Stitch(chunks []*Chunk) ([]*Chunk, int, error) {
	var out []*Chunk
	stitched := 0

	byPage := ByPage(chunks)
	for _, page := range PageNumbers(chunks) {
		pageOut, n, err := ps.stitchPage(byPage[page])
		if err != nil {
			return nil, stitched, err
		}
		out = append(out, pageOut...)
		stitched += n
	}
	return out, stitched, nil
}

func (ps *PostMergeStitcher) stitchPage(chunks []*Chunk) ([]*Chunk, int, error) {
	assign, ok := visualColumnAssignment(chunks)
	if !ok {
		assign = AssignColumnsByLeftEdge(chunks, ps.cfg.X0Tolerance)
	}

	out := make([]*Chunk, 0, len(chunks))
	stitched := 0

	for _, colChunks := range SplitByColumn(chunks, assign) {
		SortReadingOrder(colChunks)

		i := 0
		for i < len(colChunks) {
			c := colChunks[i]
			if !ps.opensUnit(c) {
				out = append(out, c)
				i++
				continue
			}

			unit := c
			unitRect := c.Rect
			text := c.Text
			ids := []string{c.ID}

			j := i + 1
			for j < len(colChunks) {
				next := colChunks[j]
				if !ps.absorbs(unitRect, next) {
					break
				}
				text = joinWrapped(text, next.Text)
				unitRect = unitRect.Union(next.Rect)
				ids = append(ids, next.ID)
				j++
			}

			if len(ids) > 1 {
				if err := unit.Promote(CategoryMergedNote); err != nil {
					return nil, stitched, err
				}
				unit.Text = text
				unit.Rect = unitRect
				unit.SetMeta(MetaStitched, true)
				unit.SetMeta(MetaStitchedFromIDs, ids)
				unit.SetMeta(MetaStitchColumnIndex, assign[unit.ID])
				unit.RecordStage(StageStitch, "stitched", ps.cfg.params())
				stitched++
			}

			out = append(out, unit)
			i = j
		}
	}

	SortReadingOrder(out)
	return out, stitched, nil
}

// opensUnit reports whether c can start a stitched unit: a bullet-starting
// line or note group. Headers and masked noise never open units.
func (ps *PostMergeStitcher) opensUnit(c *Chunk) bool {
	if c.Type != CategoryTextLine && c.Type != CategoryNoteGroup && c.Type != CategoryMergedNote {
		return false
	}
	return LooksLikeBullet(c.Text)
}

// absorbs reports whether next continues the growing unit. The next bullet
// always ends the unit, and a header is never swallowed.
func (ps *PostMergeStitcher) absorbs(unitRect Rect, next *Chunk) bool {
	if next.Type != CategoryTextLine && next.Type != CategoryNoteGroup {
		return false
	}
	if LooksLikeBullet(next.Text) {
		return false
	}
	if unitRect.VerticalGap(next.Rect) > ps.cfg.MaxGap {
		return false
	}
	return unitRect.HorizontalOverlapRatio(next.Rect) >= ps.cfg.MinOverlap
}

// joinWrapped joins a wrapped continuation onto its note with a single space,
// since this stage repairs line wrapping rather than stacking separate lines.
func joinWrapped(a, b string) string {
	a = strings.TrimRightFunc(a, unicode.IsSpace)
	b = strings.TrimLeftFunc(b, unicode.IsSpace)
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}
