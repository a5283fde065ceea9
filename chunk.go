package notelayout

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Category classifies a chunk's role on the page. Categories only move
// forward along the promotion chain; a stage may never demote a chunk.
type Category string

const (
	// CategoryTextLine is a raw positioned span as ingested from the page
	// source. Every chunk starts here.
	CategoryTextLine Category = "text_line"

	// CategoryHeader marks a section header (e.g. a notes column title).
	CategoryHeader Category = "header"

	// CategoryNoteGroup is a group of lines fused by the primary merge pass.
	CategoryNoteGroup Category = "note_group"

	// CategoryMergedNote is a finalized semantic note, produced by the
	// post-merge stitcher.
	CategoryMergedNote Category = "merged_note"

	// CategoryMaskedNoise marks structural noise (title block text, border
	// artifacts) excluded from note reconstruction.
	CategoryMaskedNoise Category = "masked_noise"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryTextLine, CategoryHeader, CategoryNoteGroup, CategoryMergedNote, CategoryMaskedNoise:
		return true
	}
	return false
}

// promotions lists the legal forward transitions per category. Absent
// categories are terminal.
var promotions = map[Category][]Category{
	CategoryTextLine:  {CategoryHeader, CategoryNoteGroup, CategoryMergedNote, CategoryMaskedNoise},
	CategoryNoteGroup: {CategoryMergedNote},
}

// Metadata keys written by the pipeline stages. Kept as stable strings since
// they are part of the stage file format.
const (
	MetaVisualRegionClass = "visual_region_class"
	MetaVisualRegionID    = "visual_region_id"
	MetaVisualColumnIndex = "visual_column_index"
	MetaVisualNoteID      = "visual_note_id"
	MetaVisualConfidence  = "visual_confidence"

	MetaMergedFromIDs    = "merged_from_ids"
	MetaMergedCount      = "merged_count"
	MetaMergeColumnIndex = "merge_column_index"
	MetaMergeParams      = "merge_params"
	MetaMergeExcluded    = "merge_excluded_under_header"

	MetaSplitFrom  = "split_from"
	MetaSplitIndex = "split_index"
	MetaSplitTotal = "split_total"

	MetaStitched          = "postmerge_stitched"
	MetaStitchedFromIDs   = "postmerge_stitched_from_ids"
	MetaStitchColumnIndex = "postmerge_column_index"

	MetaMaskedReason = "masked_reason"

	MetaHeaderNorm      = "header_norm"
	MetaHeaderCandidate = "header_candidate"
	MetaIsContinuation  = "is_continuation"
	MetaPromotedFrom    = "promoted_from"
	MetaPrevType        = "prev_type"
)

// StageRecord is one entry in a chunk's provenance trail: which stage touched
// the chunk, what it decided, and the parameters it ran with. Stages append
// records and never rewrite earlier ones.
type StageRecord struct {
	Stage  string         `json:"stage"`
	Result string         `json:"result"`
	Params map[string]any `json:"params,omitempty"`
}

// Chunk is one positioned text fragment on a page: either an atomic line from
// the page source or a composite built by merging. Geometry, category, and
// metadata are mutated in place as the chunk moves through the pipeline;
// identity is fixed at creation.
type Chunk struct {
	ID       string
	Page     int // 1-based
	Type     Category
	Text     string
	Rect     Rect
	Metadata map[string]any
	Trail    []StageRecord
}

// NewChunk creates a text_line chunk with a fresh id.
func NewChunk(page int, text string, r Rect) *Chunk {
	return &Chunk{
		ID:   uuid.NewString(),
		Page: page,
		Type: CategoryTextLine,
		Text: text,
		Rect: r,
	}
}

// Promote moves the chunk to a later category. Promoting to the current
// category is a no-op; any backward or sideways transition is an error.
func (c *Chunk) Promote(to Category) error {
	if to == c.Type {
		return nil
	}
	if !to.Valid() {
		return errors.Errorf("chunk %s: unknown category %q", c.ID, to)
	}
	if !slices.Contains(promotions[c.Type], to) {
		return errors.Errorf("chunk %s: illegal category transition %s -> %s", c.ID, c.Type, to)
	}
	c.Type = to
	return nil
}

// IsHeader reports whether the chunk is classified as a section header.
func (c *Chunk) IsHeader() bool {
	return c.Type == CategoryHeader
}

// IsComposite reports whether the chunk was built by fusing other chunks.
func (c *Chunk) IsComposite() bool {
	return c.Type == CategoryNoteGroup || c.Type == CategoryMergedNote
}

// SetMeta stores a metadata value, allocating the map on first use.
func (c *Chunk) SetMeta(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}

// Meta returns a metadata value and whether it was present.
func (c *Chunk) Meta(key string) (any, bool) {
	v, ok := c.Metadata[key]
	return v, ok
}

// MetaString returns a metadata value as a string, or "" when absent or not
// a string.
func (c *Chunk) MetaString(key string) string {
	s, _ := c.Metadata[key].(string)
	return s
}

// MetaInt returns an integer metadata value. JSON decoding stores numbers as
// float64, so both representations are accepted.
func (c *Chunk) MetaInt(key string) (int, bool) {
	switch v := c.Metadata[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// MetaFloat returns a numeric metadata value, false when absent.
func (c *Chunk) MetaFloat(key string) (float64, bool) {
	switch v := c.Metadata[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// MetaBool returns a boolean metadata value, false when absent.
func (c *Chunk) MetaBool(key string) bool {
	b, _ := c.Metadata[key].(bool)
	return b
}

// MetaStringSlice returns a list-valued metadata entry as strings. JSON
// decoding yields []any, so both forms are accepted.
func (c *Chunk) MetaStringSlice(key string) []string {
	switch v := c.Metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// RecordStage appends a provenance record for the named stage.
func (c *Chunk) RecordStage(stage, result string, params map[string]any) {
	c.Trail = append(c.Trail, StageRecord{Stage: stage, Result: result, Params: params})
}

// LastStage returns the most recent provenance record, if any.
func (c *Chunk) LastStage() (StageRecord, bool) {
	if len(c.Trail) == 0 {
		return StageRecord{}, false
	}
	return c.Trail[len(c.Trail)-1], true
}

// SortReadingOrder sorts chunks top-to-bottom, then left-to-right. The sort
// is stable so ingestion order breaks remaining ties.
func SortReadingOrder(chunks []*Chunk) {
	slices.SortStableFunc(chunks, func(a, b *Chunk) int {
		if v := cmp.Compare(a.Rect.Y0, b.Rect.Y0); v != 0 {
			return v
		}
		return cmp.Compare(a.Rect.X0, b.Rect.X0)
	})
}

// PageNumbers returns the sorted distinct page indices present in chunks.
func PageNumbers(chunks []*Chunk) []int {
	seen := make(map[int]struct{})
	var pages []int
	for _, c := range chunks {
		if _, ok := seen[c.Page]; ok {
			continue
		}
		seen[c.Page] = struct{}{}
		pages = append(pages, c.Page)
	}
	slices.Sort(pages)
	return pages
}

// ByPage partitions chunks by page index, preserving order within each page.
func ByPage(chunks []*Chunk) map[int][]*Chunk {
	out := make(map[int][]*Chunk)
	for _, c := range chunks {
		out[c.Page] = append(out[c.Page], c)
	}
	return out
}
