package notelayout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooksLikeBullet(t *testing.T) {
	bullets := []string{
		"1. Install valve.",
		"12) See detail.",
		"123. Long list.",
		"A. Coordinate with owner.",
		"B) Field verify.",
		"- dash item",
		"* star item",
		"• unicode bullet",
		"+ plus item",
		"  3. leading spaces",
		"-",
	}
	for _, s := range bullets {
		assert.True(t, LooksLikeBullet(s), "%q should read as a bullet", s)
	}

	notBullets := []string{
		"",
		"continuation of the line above",
		"1234. four digits is a measurement",
		"1.Install no space",
		"a. lowercase letter",
		"PLUMBING NOTES:",
		"(1) parenthesized",
	}
	for _, s := range notBullets {
		assert.False(t, LooksLikeBullet(s), "%q should not read as a bullet", s)
	}
}

func TestStitchWrappedContinuation(t *testing.T) {
	bullet := chunkAt(1, "9. Provide temporary fencing around", 50, 100, 300, 112)
	wrapped := chunkAt(1, "all open excavations.", 52, 114, 290, 126)

	out, stitched, err := NewPostMergeStitcher(DefaultStitchConfig()).Stitch([]*Chunk{bullet, wrapped})
	require.NoError(t, err)

	assert.Equal(t, 1, stitched)
	require.Len(t, out, 1)

	unit := out[0]
	assert.Equal(t, CategoryMergedNote, unit.Type)
	assert.Equal(t, "9. Provide temporary fencing around all open excavations.", unit.Text)
	assert.Equal(t, Rect{X0: 50, Y0: 100, X1: 300, Y1: 126}, unit.Rect)
	assert.True(t, unit.MetaBool(MetaStitched))
	assert.Equal(t, []string{bullet.ID, wrapped.ID}, unit.MetaStringSlice(MetaStitchedFromIDs))
}

func TestStitchStopsAtNextBullet(t *testing.T) {
	first := chunkAt(1, "1. First note.", 50, 100, 300, 112)
	second := chunkAt(1, "2. Second note.", 50, 114, 300, 126)

	out, stitched, err := NewPostMergeStitcher(DefaultStitchConfig()).Stitch([]*Chunk{first, second})
	require.NoError(t, err)

	assert.Equal(t, 0, stitched)
	require.Len(t, out, 2)
	assert.Equal(t, "1. First note.", out[0].Text)
	assert.Equal(t, "2. Second note.", out[1].Text)

	// Singleton units are left exactly as they arrived: no marker, no
	// promotion.
	assert.False(t, out[0].MetaBool(MetaStitched))
	assert.Equal(t, CategoryTextLine, out[0].Type)
}

func TestStitchNeverSwallowsHeader(t *testing.T) {
	bullet := chunkAt(1, "4. Backfill in 8 inch lifts", 50, 100, 300, 112)
	header := chunkAt(1, "COMPACTION NOTES:", 50, 114, 300, 126)
	header.Type = CategoryHeader
	line := chunkAt(1, "compacted to 95 percent.", 50, 128, 300, 140)

	out, stitched, err := NewPostMergeStitcher(DefaultStitchConfig()).Stitch([]*Chunk{bullet, header, line})
	require.NoError(t, err)

	// The header ends the unit even though it is geometrically adjacent.
	assert.Equal(t, 0, stitched)
	assert.Len(t, out, 3)
	assert.Equal(t, CategoryHeader, header.Type)
	assert.Equal(t, "COMPACTION NOTES:", header.Text)
}

func TestStitchGapAndOverlapGates(t *testing.T) {
	bullet := chunkAt(1, "7. Seed and mulch", 50, 100, 300, 112)
	farBelow := chunkAt(1, "disturbed areas.", 50, 200, 300, 212)

	out, stitched, err := NewPostMergeStitcher(DefaultStitchConfig()).Stitch([]*Chunk{bullet, farBelow})
	require.NoError(t, err)
	assert.Equal(t, 0, stitched)
	assert.Len(t, out, 2)

	// Same column and gap, but poor horizontal overlap.
	bullet2 := chunkAt(2, "7. Seed", 50, 100, 150, 112)
	offset := chunkAt(2, "disturbed areas, see landscape plan.", 140, 114, 400, 126)

	out, stitched, err = NewPostMergeStitcher(DefaultStitchConfig()).Stitch([]*Chunk{bullet2, offset})
	require.NoError(t, err)
	assert.Equal(t, 0, stitched)
	assert.Len(t, out, 2)
}

func TestStitchFollowsVisualColumns(t *testing.T) {
	// Geometrically the continuation is closest to the bullet, but the
	// overlay puts them in different columns.
	bullet := chunkAt(1, "3. Route conduit below", 50, 100, 300, 112)
	bullet.SetMeta(MetaVisualColumnIndex, 0)
	stray := chunkAt(1, "grade, typical.", 52, 114, 295, 126)
	stray.SetMeta(MetaVisualColumnIndex, 1)

	out, stitched, err := NewPostMergeStitcher(DefaultStitchConfig()).Stitch([]*Chunk{bullet, stray})
	require.NoError(t, err)

	assert.Equal(t, 0, stitched)
	assert.Len(t, out, 2)
}

func TestStitchNoteGroupAbsorbsStrandedLine(t *testing.T) {
	// A note group produced by the merge pass picks up the line its stricter
	// gates left behind.
	group := chunkAt(1, "5. Install silt fence\nalong the north property line", 50, 100, 300, 126)
	group.Type = CategoryNoteGroup
	stranded := chunkAt(1, "prior to clearing.", 55, 130, 290, 142)

	out, stitched, err := NewPostMergeStitcher(DefaultStitchConfig()).Stitch([]*Chunk{group, stranded})
	require.NoError(t, err)

	assert.Equal(t, 1, stitched)
	require.Len(t, out, 1)
	assert.Equal(t, CategoryMergedNote, out[0].Type)
	assert.Equal(t, "5. Install silt fence\nalong the north property line prior to clearing.", out[0].Text)
}

func TestJoinWrapped(t *testing.T) {
	assert.Equal(t, "a b", joinWrapped("a  ", "  b"))
	assert.Equal(t, "b", joinWrapped("", "b"))
	assert.Equal(t, "a", joinWrapped("a", "   "))
}
