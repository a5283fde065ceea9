package notelayout

import (
	"math"
	"strings"
)

// MergeConfig tunes the primary fragment merge pass. Values are calibrated
// per document family; the defaults come from production runs over civil
// drawing sets.
type MergeConfig struct {
	// MaxGap is the largest vertical gap (page units) between the running
	// group rectangle and a candidate that still reads as one note.
	MaxGap float64 `yaml:"max_gap"`

	// MinOverlap is the minimum horizontal overlap ratio between the running
	// group rectangle and a candidate.
	MinOverlap float64 `yaml:"min_overlap"`

	// XBinTolerance is the left-edge clustering tolerance used to assign
	// candidates to columns before merging.
	XBinTolerance float64 `yaml:"x_bin_tolerance"`

	// XShiftHard is the hard ceiling on how far a candidate's left edge may
	// sit from the group's left edge.
	XShiftHard float64 `yaml:"x_shift_hard"`

	// HeaderOverlap is the horizontal overlap ratio at which a header acts as
	// a merge barrier, and the containment at which a candidate is excluded
	// from merging for sitting under a header.
	HeaderOverlap float64 `yaml:"header_overlap"`
}

// DefaultMergeConfig returns the merge thresholds used in production runs.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		MaxGap:        34,
		MinOverlap:    0.28,
		XBinTolerance: 140,
		XShiftHard:    150,
		HeaderOverlap: 0.30,
	}
}

func (cfg MergeConfig) params() map[string]any {
	return map[string]any{
		"max_gap":         cfg.MaxGap,
		"min_overlap":     cfg.MinOverlap,
		"x_bin_tolerance": cfg.XBinTolerance,
		"x_shift_hard":    cfg.XShiftHard,
		"header_overlap":  cfg.HeaderOverlap,
	}
}

// FragmentMerger fuses adjacent text lines into note groups, column by
// column. Headers are hard barriers: a group never bridges across one and a
// line sitting under a header is left alone.
type FragmentMerger struct {
	cfg MergeConfig
}

// NewFragmentMerger builds a merger for cfg.
func NewFragmentMerger(cfg MergeConfig) *FragmentMerger {
	return &FragmentMerger{cfg: cfg}
}

// Merge runs the merge pass over the whole collection and returns the new
// collection plus the number of groups created. Absorbed lines are dropped
// from the output; their ids survive on the representative under
// merged_from_ids. Only text_line chunks merge, so re-running Merge on its
// own output is a no-op.
func (fm *FragmentMerger) Merge(chunks []*Chunk) ([]*Chunk, int, error) {
	var out []*Chunk
	groups := 0

	byPage := ByPage(chunks)
	for _, page := range PageNumbers(chunks) {
		merged, n, err := fm.mergePage(byPage[page])
		if err != nil {
			return nil, groups, err
		}
		out = append(out, merged...)
		groups += n
	}
	return out, groups, nil
}

func (fm *FragmentMerger) mergePage(chunks []*Chunk) ([]*Chunk, int, error) {
	var headers, mergeable, passthrough []*Chunk
	for _, c := range chunks {
		switch {
		case c.IsHeader():
			headers = append(headers, c)
		case c.Type == CategoryTextLine:
			mergeable = append(mergeable, c)
		default:
			passthrough = append(passthrough, c)
		}
	}

	// Exclusion pre-pass: lines sitting under a header are emitted standalone
	// rather than silently dropped or merged into the wrong note.
	var candidates []*Chunk
	for _, c := range mergeable {
		if h := fm.headerOver(c, headers); h != nil {
			c.SetMeta(MetaMergeExcluded, true)
			c.RecordStage(StageMerge, "excluded_under_header", map[string]any{
				"header_id":      h.ID,
				"header_overlap": fm.cfg.HeaderOverlap,
			})
			passthrough = append(passthrough, c)
			continue
		}
		candidates = append(candidates, c)
	}

	out := make([]*Chunk, 0, len(chunks))
	out = append(out, headers...)
	out = append(out, passthrough...)

	groups := 0
	assign := AssignColumnsByLeftEdge(candidates, fm.cfg.XBinTolerance)
	for col, colChunks := range SplitByColumn(candidates, assign) {
		merged, n, err := fm.mergeColumn(colChunks, headers, col)
		if err != nil {
			return nil, groups, err
		}
		out = append(out, merged...)
		groups += n
	}

	SortReadingOrder(out)
	return out, groups, nil
}

// mergeColumn walks one column top to bottom, growing a group while every
// gate holds against the running group rectangle and flushing it otherwise.
func (fm *FragmentMerger) mergeColumn(colChunks, headers []*Chunk, col int) ([]*Chunk, int, error) {
	SortReadingOrder(colChunks)

	var out []*Chunk
	var group []*Chunk
	var groupRect Rect
	groups := 0

	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		if len(group) == 1 {
			out = append(out, group[0])
			group = nil
			return nil
		}

		rep := group[0]
		texts := make([]string, 0, len(group))
		ids := make([]string, 0, len(group))
		for _, m := range group {
			texts = append(texts, m.Text)
			ids = append(ids, m.ID)
		}

		if err := rep.Promote(CategoryNoteGroup); err != nil {
			return err
		}
		rep.Text = strings.Join(texts, "\n")
		rep.Rect = groupRect
		rep.SetMeta(MetaMergedFromIDs, ids)
		rep.SetMeta(MetaMergedCount, len(ids))
		rep.SetMeta(MetaMergeColumnIndex, col)
		rep.SetMeta(MetaMergeParams, fm.cfg.params())
		rep.RecordStage(StageMerge, "merged", fm.cfg.params())

		out = append(out, rep)
		group = nil
		groups++
		return nil
	}

	for _, c := range colChunks {
		if len(group) == 0 {
			group = []*Chunk{c}
			groupRect = c.Rect
			continue
		}
		if fm.continues(groupRect, c, headers) {
			group = append(group, c)
			groupRect = groupRect.Union(c.Rect)
			continue
		}
		if err := flush(); err != nil {
			return nil, groups, err
		}
		group = []*Chunk{c}
		groupRect = c.Rect
	}
	if err := flush(); err != nil {
		return nil, groups, err
	}
	return out, groups, nil
}

// continues reports whether candidate c extends the group with rectangle g.
func (fm *FragmentMerger) continues(g Rect, c *Chunk, headers []*Chunk) bool {
	if g.VerticalGap(c.Rect) > fm.cfg.MaxGap {
		return false
	}
	if g.HorizontalOverlapRatio(c.Rect) < fm.cfg.MinOverlap {
		return false
	}
	if math.Abs(c.Rect.X0-g.X0) > fm.cfg.XShiftHard {
		return false
	}
	return !fm.headerBetween(g, c.Rect, headers)
}

// headerBetween reports whether a header band separates the group from the
// candidate: one of the header's horizontal edges falls strictly inside the
// vertical gap while the header overlaps both rectangles horizontally.
func (fm *FragmentMerger) headerBetween(g, cand Rect, headers []*Chunk) bool {
	top, bottom := g.Y1, cand.Y0
	if bottom <= top {
		// Overlapping or touching rectangles leave no room for a barrier.
		return false
	}
	for _, h := range headers {
		inside := (h.Rect.Y0 > top && h.Rect.Y0 < bottom) || (h.Rect.Y1 > top && h.Rect.Y1 < bottom)
		if !inside {
			continue
		}
		if h.Rect.HorizontalOverlapRatio(g) >= fm.cfg.HeaderOverlap &&
			h.Rect.HorizontalOverlapRatio(cand) >= fm.cfg.HeaderOverlap {
			return true
		}
	}
	return false
}

// headerOver returns the header that containment-overlaps c enough to exclude
// it from merging, or nil.
func (fm *FragmentMerger) headerOver(c *Chunk, headers []*Chunk) *Chunk {
	for _, h := range headers {
		if OverlapRatio(c.Rect, h.Rect) >= fm.cfg.HeaderOverlap {
			return h
		}
	}
	return nil
}
