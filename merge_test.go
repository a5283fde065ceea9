package notelayout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findByType(chunks []*Chunk, cat Category) []*Chunk {
	var out []*Chunk
	for _, c := range chunks {
		if c.Type == cat {
			out = append(out, c)
		}
	}
	return out
}

func TestMergeTwoFragmentNote(t *testing.T) {
	line1 := chunkAt(1, "1. Install backflow preventer.", 50, 100, 300, 112)
	line2 := chunkAt(1, "per manufacturer specs.", 55, 114, 290, 126)
	header := chunkAt(1, "PLUMBING NOTES:", 50, 60, 300, 80)
	header.Type = CategoryHeader

	cfg := DefaultMergeConfig()
	cfg.MaxGap = 28
	cfg.MinOverlap = 0.28

	out, groups, err := NewFragmentMerger(cfg).Merge([]*Chunk{line1, line2, header})
	require.NoError(t, err)
	assert.Equal(t, 1, groups)
	require.Len(t, out, 2)

	notes := findByType(out, CategoryNoteGroup)
	require.Len(t, notes, 1)
	note := notes[0]

	assert.Equal(t, Rect{X0: 50, Y0: 100, X1: 300, Y1: 126}, note.Rect)
	assert.Equal(t, "1. Install backflow preventer.\nper manufacturer specs.", note.Text)

	count, ok := note.MetaInt(MetaMergedCount)
	require.True(t, ok)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{line1.ID, line2.ID}, note.MetaStringSlice(MetaMergedFromIDs))

	col, ok := note.MetaInt(MetaMergeColumnIndex)
	require.True(t, ok)
	assert.Equal(t, 0, col)

	// The parameter set is recorded for reproducibility.
	params, ok := note.Meta(MetaMergeParams)
	require.True(t, ok)
	assert.Equal(t, 28.0, params.(map[string]any)["max_gap"])

	// Header passes through untouched.
	hdrs := findByType(out, CategoryHeader)
	require.Len(t, hdrs, 1)
	assert.Same(t, header, hdrs[0])
	assert.Equal(t, Rect{X0: 50, Y0: 60, X1: 300, Y1: 80}, hdrs[0].Rect)
}

func TestMergeHeaderBarrier(t *testing.T) {
	above := chunkAt(1, "grout all voids solid.", 50, 100, 300, 112)
	header := chunkAt(1, "MASONRY NOTES:", 50, 118, 300, 130)
	header.Type = CategoryHeader
	below := chunkAt(1, "1. Reinforce per plan.", 50, 136, 300, 148)

	out, groups, err := NewFragmentMerger(DefaultMergeConfig()).Merge([]*Chunk{above, header, below})
	require.NoError(t, err)

	// Gap is within MaxGap, but the header band between them blocks the merge.
	assert.Equal(t, 0, groups)
	assert.Len(t, out, 3)
	assert.Empty(t, findByType(out, CategoryNoteGroup))
}

func TestMergeGapCeiling(t *testing.T) {
	a := chunkAt(1, "first note line", 50, 100, 300, 112)
	b := chunkAt(1, "unrelated note far below", 50, 200, 300, 212)

	out, groups, err := NewFragmentMerger(DefaultMergeConfig()).Merge([]*Chunk{a, b})
	require.NoError(t, err)

	assert.Equal(t, 0, groups)
	assert.Len(t, out, 2)
}

func TestMergeShiftCeiling(t *testing.T) {
	cfg := DefaultMergeConfig()
	cfg.XBinTolerance = 400 // keep both in one bin so the shift gate decides
	cfg.XShiftHard = 150

	a := chunkAt(1, "left aligned line", 50, 100, 400, 112)
	b := chunkAt(1, "deep indent line", 250, 114, 400, 126)

	out, groups, err := NewFragmentMerger(cfg).Merge([]*Chunk{a, b})
	require.NoError(t, err)

	assert.Equal(t, 0, groups)
	assert.Len(t, out, 2)
}

func TestMergeExcludedUnderHeader(t *testing.T) {
	header := chunkAt(1, "SITE NOTES:", 50, 60, 300, 80)
	header.Type = CategoryHeader
	// Sits mostly inside the header band.
	caption := chunkAt(1, "(THIS SHEET ONLY)", 50, 70, 300, 85)
	line := chunkAt(1, "1. Strip topsoil.", 50, 100, 300, 112)

	out, groups, err := NewFragmentMerger(DefaultMergeConfig()).Merge([]*Chunk{header, caption, line})
	require.NoError(t, err)

	assert.Equal(t, 0, groups)
	require.Len(t, out, 3)

	assert.True(t, caption.MetaBool(MetaMergeExcluded))
	assert.Equal(t, CategoryTextLine, caption.Type)

	rec, ok := caption.LastStage()
	require.True(t, ok)
	assert.Equal(t, "excluded_under_header", rec.Result)

	// The untouched line is not tagged.
	assert.False(t, line.MetaBool(MetaMergeExcluded))
}

func TestMergeColumnsIsolated(t *testing.T) {
	// Two columns, two lines each, all within MaxGap vertically.
	l1 := chunkAt(1, "left one", 50, 100, 280, 112)
	l2 := chunkAt(1, "left two", 50, 114, 280, 126)
	r1 := chunkAt(1, "right one", 400, 100, 620, 112)
	r2 := chunkAt(1, "right two", 400, 114, 620, 126)

	out, groups, err := NewFragmentMerger(DefaultMergeConfig()).Merge([]*Chunk{l1, r1, l2, r2})
	require.NoError(t, err)

	assert.Equal(t, 2, groups)
	notes := findByType(out, CategoryNoteGroup)
	require.Len(t, notes, 2)

	// Each note stays within its own column's horizontal extent.
	for _, n := range notes {
		if n.Rect.X0 < 300 {
			assert.Equal(t, "left one\nleft two", n.Text)
		} else {
			assert.Equal(t, "right one\nright two", n.Text)
		}
	}
}

func TestMergeRunningRect(t *testing.T) {
	// The third line is within gap of the group's running rectangle even
	// though it is far from the first line alone.
	a := chunkAt(1, "line a", 50, 100, 300, 112)
	b := chunkAt(1, "line b", 50, 130, 300, 142)
	c := chunkAt(1, "line c", 50, 160, 300, 172)

	out, groups, err := NewFragmentMerger(DefaultMergeConfig()).Merge([]*Chunk{a, b, c})
	require.NoError(t, err)

	assert.Equal(t, 1, groups)
	notes := findByType(out, CategoryNoteGroup)
	require.Len(t, notes, 1)
	count, _ := notes[0].MetaInt(MetaMergedCount)
	assert.Equal(t, 3, count)
	assert.Equal(t, Rect{X0: 50, Y0: 100, X1: 300, Y1: 172}, notes[0].Rect)
}

func TestMergeIdempotent(t *testing.T) {
	l1 := chunkAt(1, "left one", 50, 100, 280, 112)
	l2 := chunkAt(1, "left two", 50, 114, 280, 126)
	header := chunkAt(1, "SITE NOTES:", 50, 60, 280, 80)
	header.Type = CategoryHeader
	stray := chunkAt(1, "stray line", 50, 400, 280, 412)

	fm := NewFragmentMerger(DefaultMergeConfig())

	first, groups, err := fm.Merge([]*Chunk{l1, l2, header, stray})
	require.NoError(t, err)
	assert.Equal(t, 1, groups)

	second, groups2, err := fm.Merge(first)
	require.NoError(t, err)
	assert.Equal(t, 0, groups2, "second pass must not create new groups")
	assert.Len(t, second, len(first))
}

func TestMergeNoLoss(t *testing.T) {
	chunks := []*Chunk{
		chunkAt(1, "a1", 50, 100, 280, 112),
		chunkAt(1, "a2", 50, 114, 280, 126),
		chunkAt(1, "a3", 50, 128, 280, 140),
		chunkAt(1, "b1", 400, 100, 620, 112),
		chunkAt(1, "stranded", 400, 300, 620, 312),
	}
	original := len(chunks)

	out, _, err := NewFragmentMerger(DefaultMergeConfig()).Merge(chunks)
	require.NoError(t, err)

	// Sum of merged counts plus standalone chunks equals the input count.
	total := 0
	for _, c := range out {
		if n, ok := c.MetaInt(MetaMergedCount); ok {
			total += n
		} else {
			total++
		}
	}
	assert.Equal(t, original, total)
}

func TestMergeOutputSorted(t *testing.T) {
	b := chunkAt(1, "second", 50, 200, 300, 212)
	a := chunkAt(1, "first", 50, 100, 300, 112)
	h := chunkAt(1, "SITE NOTES:", 50, 60, 300, 80)
	h.Type = CategoryHeader

	out, _, err := NewFragmentMerger(DefaultMergeConfig()).Merge([]*Chunk{b, a, h})
	require.NoError(t, err)

	require.Len(t, out, 3)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].Rect.Y0, out[i].Rect.Y0)
	}
	assert.Same(t, h, out[0])
}
