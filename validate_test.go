package notelayout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChunksAcceptsSaneList(t *testing.T) {
	chunks := []*Chunk{
		chunkAt(1, "GENERAL NOTES:", 50, 60, 300, 80),
		chunkAt(1, "1. VERIFY DIMENSIONS", 50, 100, 300, 112),
		chunkAt(2, "2. PROVIDE BLOCKING", 50, 100, 300, 112),
	}

	stats, err := ValidateChunks("stage0", chunks, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Validated)
}

func TestValidateChunksPageFilter(t *testing.T) {
	bad := chunkAt(2, "", 10, 10, 10, 20) // zero width, but on another page
	good := chunkAt(1, "ok", 50, 100, 300, 112)

	stats, err := ValidateChunks("stage0", []*Chunk{good, bad}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Validated)

	_, err = ValidateChunks("stage0", []*Chunk{good, bad}, 2)
	require.Error(t, err)
}

func TestValidateChunksRejectsZeroWidthBBox(t *testing.T) {
	bad := chunkAt(1, "degenerate", 10, 10, 10, 20)

	_, err := ValidateChunks("stage2", []*Chunk{bad}, 0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "stage2", verr.Stage)
	assert.Equal(t, bad.ID, verr.ChunkID)
	assert.Equal(t, CategoryTextLine, verr.ChunkType)
	assert.Contains(t, verr.Error(), "degenerate")
}

func TestValidateChunksRejectsMissingID(t *testing.T) {
	bad := chunkAt(1, "x", 1, 2, 3, 4)
	bad.ID = ""

	_, err := ValidateChunks("stage1", []*Chunk{bad}, 0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "missing id")
}

func TestValidateChunksRejectsDuplicateID(t *testing.T) {
	a := chunkAt(1, "a", 1, 2, 3, 4)
	b := chunkAt(1, "b", 5, 6, 7, 8)
	b.ID = a.ID

	_, err := ValidateChunks("stage3", []*Chunk{a, b}, 0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "duplicate")
}

func TestValidateChunksRejectsUnknownType(t *testing.T) {
	bad := chunkAt(1, "x", 1, 2, 3, 4)
	bad.Type = Category("note_blob")

	_, err := ValidateChunks("stage3", []*Chunk{bad}, 0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "note_blob")
}

func TestValidateStageRootAndEncodingStrictness(t *testing.T) {
	doc := `[{"id": "a", "type": "text_line", "page": 1, "text": "x", "bbox": [1, 2, 3, 4]}]`
	sf, err := DecodeStage([]byte(doc))
	require.NoError(t, err)

	// Tolerant by default.
	_, err = ValidateStage("stage0", sf, 0, DefaultValidateConfig())
	require.NoError(t, err)

	strictRoot := DefaultValidateConfig()
	strictRoot.RequireWrappedRoot = true
	_, err = ValidateStage("stage0", sf, 0, strictRoot)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "bare list")

	strictBBox := DefaultValidateConfig()
	strictBBox.RequireObjectBBox = true
	sf.ListRoot = false
	_, err = ValidateStage("stage0", sf, 0, strictBBox)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "a", verr.ChunkID)
}

func TestCheckHeaderContainmentFlagsSwallowedHeader(t *testing.T) {
	header := chunkAt(1, "DEMOLITION NOTES:", 60, 105, 290, 120)
	require.NoError(t, header.Promote(CategoryHeader))
	group := chunkAt(1, "1. REMOVE\n2. CAP", 50, 100, 300, 200)
	require.NoError(t, group.Promote(CategoryNoteGroup))

	err := CheckHeaderContainment("stage3", []*Chunk{header, group}, 0.80)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, header.ID, verr.ChunkID)
	assert.Equal(t, CategoryHeader, verr.ChunkType)
}

func TestCheckHeaderContainmentAllowsPartialOverlap(t *testing.T) {
	// Group starts right under the header; only the bottom quarter of the
	// header grazes it.
	header := chunkAt(1, "DEMOLITION NOTES:", 50, 60, 300, 80)
	require.NoError(t, header.Promote(CategoryHeader))
	group := chunkAt(1, "1. REMOVE", 50, 75, 300, 200)
	require.NoError(t, group.Promote(CategoryNoteGroup))

	assert.NoError(t, CheckHeaderContainment("stage3", []*Chunk{header, group}, 0.80))
}

func TestCheckHeaderContainmentIgnoresOtherPages(t *testing.T) {
	header := chunkAt(1, "NOTES:", 60, 105, 290, 120)
	require.NoError(t, header.Promote(CategoryHeader))
	group := chunkAt(2, "1. REMOVE", 50, 100, 300, 200)
	require.NoError(t, group.Promote(CategoryNoteGroup))

	assert.NoError(t, CheckHeaderContainment("stage3", []*Chunk{header, group}, 0.80))
}
