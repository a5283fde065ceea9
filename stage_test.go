package notelayout

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStageWrappedRoot(t *testing.T) {
	doc := `{
	  "chunks": [
	    {
	      "id": "c-1",
	      "type": "text_line",
	      "page": 3,
	      "content": "1. GC SHALL VERIFY ALL DIMENSIONS",
	      "bbox": {"x0": 50, "y0": 100, "x1": 300, "y1": 112},
	      "metadata": {"visual_column_index": 1}
	    }
	  ]
	}`

	sf, err := DecodeStage([]byte(doc))
	require.NoError(t, err)
	require.Len(t, sf.Chunks, 1)
	assert.False(t, sf.ListRoot)
	assert.Empty(t, sf.LooseBBoxIDs)

	c := sf.Chunks[0]
	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, CategoryTextLine, c.Type)
	assert.Equal(t, 3, c.Page)
	assert.Equal(t, "1. GC SHALL VERIFY ALL DIMENSIONS", c.Text)
	assert.Equal(t, NewRect(50, 100, 300, 112), c.Rect)
	col, ok := c.MetaInt(MetaVisualColumnIndex)
	require.True(t, ok)
	assert.Equal(t, 1, col)
}

func TestDecodeStageLegacyShapes(t *testing.T) {
	// Bare list root, "text" instead of "content", array and scalar bboxes.
	doc := `[
	  {"id": "a", "type": "text_line", "page": 1, "text": "ARRAY BBOX", "bbox": [10, 20, 110, 32]},
	  {"id": "b", "type": "text_line", "page": 1, "text": "SCALAR BBOX", "x0": 10, "y0": 40, "x1": 110, "y1": 52}
	]`

	sf, err := DecodeStage([]byte(doc))
	require.NoError(t, err)
	require.Len(t, sf.Chunks, 2)
	assert.True(t, sf.ListRoot)
	assert.ElementsMatch(t, []string{"a", "b"}, sf.LooseBBoxIDs)

	assert.Equal(t, "ARRAY BBOX", sf.Chunks[0].Text)
	assert.Equal(t, NewRect(10, 20, 110, 32), sf.Chunks[0].Rect)
	assert.Equal(t, NewRect(10, 40, 110, 52), sf.Chunks[1].Rect)
}

func TestDecodeStageSwappedCoordinatesNormalized(t *testing.T) {
	doc := `[{"id": "a", "type": "text_line", "page": 1, "text": "x", "bbox": [110, 32, 10, 20]}]`

	sf, err := DecodeStage([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, NewRect(10, 20, 110, 32), sf.Chunks[0].Rect)
}

func TestDecodeStageMissingBBoxDecodesToZeroRect(t *testing.T) {
	doc := `[{"id": "a", "type": "text_line", "page": 1, "text": "no geometry"}]`

	sf, err := DecodeStage([]byte(doc))
	require.NoError(t, err)
	assert.True(t, sf.Chunks[0].Rect.Degenerate())
	assert.Equal(t, []string{"a"}, sf.LooseBBoxIDs)

	_, err = ValidateChunks("stage0", sf.Chunks, 0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "a", verr.ChunkID)
}

func TestDecodeStageNullBBoxTreatedAsMissing(t *testing.T) {
	doc := `[{"id": "a", "type": "text_line", "page": 1, "text": "x", "bbox": null}]`

	sf, err := DecodeStage([]byte(doc))
	require.NoError(t, err)
	assert.True(t, sf.Chunks[0].Rect.Degenerate())
}

func TestDecodeStageCorruptBBoxFails(t *testing.T) {
	doc := `[{"id": "a", "type": "text_line", "page": 1, "text": "x", "bbox": [1, 2]}]`

	_, err := DecodeStage([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bbox")
}

func TestDecodeStageRejectsBadRoots(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":     ``,
		"scalar":    `42`,
		"no chunks": `{"pages": {}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeStage([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestWriteStageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stage1_headers_tagged.json")

	header := chunkAt(1, "GENERAL NOTES:", 50, 60, 300, 80)
	require.NoError(t, header.Promote(CategoryHeader))
	header.SetMeta(MetaHeaderNorm, "GENERAL NOTES")
	header.RecordStage(StageTagHeaders, "tagged", map[string]any{"keyword": "NOTES"})
	line := chunkAt(1, "1. VERIFY DIMENSIONS", 50, 100, 300, 112)

	require.NoError(t, WriteStage(path, NewStageFile([]*Chunk{header, line})))

	sf, err := ReadStage(path)
	require.NoError(t, err)
	require.Len(t, sf.Chunks, 2)
	assert.False(t, sf.ListRoot)
	assert.Empty(t, sf.LooseBBoxIDs, "writer always emits canonical bboxes")

	got := sf.Chunks[0]
	assert.Equal(t, header.ID, got.ID)
	assert.Equal(t, CategoryHeader, got.Type)
	assert.Equal(t, header.Rect, got.Rect)
	assert.Equal(t, "GENERAL NOTES", got.MetaString(MetaHeaderNorm))
	require.Len(t, got.Trail, 1)
	assert.Equal(t, StageTagHeaders, got.Trail[0].Stage)
	assert.Equal(t, "tagged", got.Trail[0].Result)
}

func TestWriteStageMirrorsScalarBBoxFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "final.json")

	require.NoError(t, WriteStage(path, NewStageFile([]*Chunk{chunkAt(2, "x", 10, 20, 110, 32)})))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var root struct {
		Chunks []map[string]any `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal(data, &root))
	require.Len(t, root.Chunks, 1)

	rec := root.Chunks[0]
	assert.Contains(t, rec, "bbox")
	assert.Equal(t, 10.0, rec["x0"])
	assert.Equal(t, 20.0, rec["y0"])
	assert.Equal(t, 110.0, rec["x1"])
	assert.Equal(t, 32.0, rec["y1"])
}

func TestWriteStagePreservesListRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.json")

	in := `[{"id": "a", "type": "text_line", "page": 1, "text": "x", "bbox": [1, 2, 3, 4]}]`
	sf, err := DecodeStage([]byte(in))
	require.NoError(t, err)

	require.NoError(t, WriteStage(path, sf))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var asList []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &asList), "list root must survive a rewrite")
	require.Len(t, asList, 1)
}

func TestWriteStageCreatesParentDirAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Runs", "20260825_00001", "stage0_base.json")

	require.NoError(t, WriteStage(path, NewStageFile([]*Chunk{chunkAt(1, "x", 1, 2, 3, 4)})))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stage0_base.json", entries[0].Name())
}
