package notelayout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachRegionsCenterHit(t *testing.T) {
	line := chunkAt(1, "2. PROVIDE BLOCKING", 60, 110, 280, 122)
	regions := []Region{
		{ID: "note-7", Class: RegionNote, Page: 1, Box: NewRect(50, 100, 300, 180), ColumnIndex: 2, Confidence: 0.91},
	}

	n := AttachRegions([]*Chunk{line}, regions)
	require.Equal(t, 1, n)

	assert.Equal(t, RegionNote, line.MetaString(MetaVisualRegionClass))
	assert.Equal(t, "note-7", line.MetaString(MetaVisualRegionID))
	assert.Equal(t, "note-7", line.MetaString(MetaVisualNoteID))
	col, ok := line.MetaInt(MetaVisualColumnIndex)
	require.True(t, ok)
	assert.Equal(t, 2, col)
	conf, ok := line.Meta(MetaVisualConfidence)
	require.True(t, ok)
	assert.InDelta(t, 0.91, conf.(float64), 1e-9)
}

func TestAttachRegionsNoteOutranksEnclosingColumn(t *testing.T) {
	line := chunkAt(1, "GC SHALL VERIFY", 60, 110, 280, 122)
	regions := []Region{
		{ID: "col-1", Class: RegionColumn, Page: 1, Box: NewRect(40, 0, 320, 600), ColumnIndex: 1},
		{ID: "note-3", Class: RegionNote, Page: 1, Box: NewRect(50, 100, 300, 180)},
	}

	AttachRegions([]*Chunk{line}, regions)

	assert.Equal(t, RegionNote, line.MetaString(MetaVisualRegionClass))
	assert.Equal(t, "note-3", line.MetaString(MetaVisualNoteID))
}

func TestAttachRegionsColumnStampsIndex(t *testing.T) {
	left := chunkAt(1, "left line", 60, 110, 280, 122)
	right := chunkAt(1, "right line", 360, 110, 580, 122)
	regions := []Region{
		{ID: "col-1", Class: RegionColumn, Page: 1, Box: NewRect(40, 0, 320, 600), ColumnIndex: 1},
		{ID: "col-2", Class: RegionColumn, Page: 1, Box: NewRect(340, 0, 620, 600), ColumnIndex: 2},
	}

	n := AttachRegions([]*Chunk{left, right}, regions)
	require.Equal(t, 2, n)

	lc, ok := left.MetaInt(MetaVisualColumnIndex)
	require.True(t, ok)
	rc, ok := right.MetaInt(MetaVisualColumnIndex)
	require.True(t, ok)
	assert.Equal(t, 1, lc)
	assert.Equal(t, 2, rc)
	assert.Equal(t, "", left.MetaString(MetaVisualNoteID), "column regions carry no note id")
}

func TestAttachRegionsPaddedFallback(t *testing.T) {
	// Center is outside the region, but the rect comes within the pad.
	line := chunkAt(1, "edge line", 302, 110, 420, 122)
	regions := []Region{
		{ID: "note-1", Class: RegionNote, Page: 1, Box: NewRect(50, 100, 300, 180)},
	}

	n := AttachRegions([]*Chunk{line}, regions)
	require.Equal(t, 1, n)
	assert.Equal(t, "note-1", line.MetaString(MetaVisualNoteID))
}

func TestAttachRegionsMissLeavesChunkUntouched(t *testing.T) {
	line := chunkAt(1, "stray line", 500, 500, 600, 512)
	regions := []Region{
		{ID: "note-1", Class: RegionNote, Page: 1, Box: NewRect(50, 100, 300, 180)},
	}

	n := AttachRegions([]*Chunk{line}, regions)
	assert.Equal(t, 0, n)
	_, ok := line.Meta(MetaVisualRegionClass)
	assert.False(t, ok)
}

func TestAttachRegionsRespectsPage(t *testing.T) {
	line := chunkAt(2, "page two line", 60, 110, 280, 122)
	regions := []Region{
		{ID: "note-1", Class: RegionNote, Page: 1, Box: NewRect(50, 100, 300, 180)},
	}

	assert.Equal(t, 0, AttachRegions([]*Chunk{line}, regions))
}

func TestAttachRegionsFeedsColumnAssignment(t *testing.T) {
	a := chunkAt(1, "a", 60, 100, 280, 112)
	b := chunkAt(1, "b", 62, 130, 281, 142)
	c := chunkAt(1, "c", 360, 100, 580, 112)
	regions := []Region{
		{ID: "col-1", Class: RegionColumn, Page: 1, Box: NewRect(40, 0, 320, 600), ColumnIndex: 1},
		{ID: "col-2", Class: RegionColumn, Page: 1, Box: NewRect(340, 0, 620, 600), ColumnIndex: 2},
	}
	chunks := []*Chunk{a, b, c}
	AttachRegions(chunks, regions)

	// Two distinct hints present, so the overlay drives column assignment.
	assign := AssignColumns(chunks, 140)
	assert.Equal(t, assign[a.ID], assign[b.ID])
	assert.NotEqual(t, assign[a.ID], assign[c.ID])
}

func TestNoteRegionsFilter(t *testing.T) {
	regions := []Region{
		{ID: "note-1", Class: RegionNote, Page: 1, Box: NewRect(0, 0, 10, 10)},
		{ID: "col-1", Class: RegionColumn, Page: 1, Box: NewRect(0, 0, 10, 10)},
		{ID: "note-2", Class: RegionNote, Page: 2, Box: NewRect(0, 0, 10, 10)},
	}

	got := NoteRegions(regions, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "note-1", got[0].ID)
}

func TestDecodeRegionsBareList(t *testing.T) {
	data := []byte(`[
		{"id": "note-1", "class": "note", "page": 1,
		 "bbox": {"x0": 50, "y0": 100, "x1": 300, "y1": 180},
		 "column_index": 2, "confidence": 0.91}
	]`)

	regions, err := DecodeRegions(data)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "note-1", regions[0].ID)
	assert.Equal(t, RegionNote, regions[0].Class)
	assert.Equal(t, Rect{X0: 50, Y0: 100, X1: 300, Y1: 180}, regions[0].Box)
	assert.Equal(t, 2, regions[0].ColumnIndex)
}

func TestDecodeRegionsWrappedRoot(t *testing.T) {
	data := []byte(`{"regions": [{"id": "legend-1", "class": "legend", "page": 1,
		"bbox": {"x0": 610, "y0": 0, "x1": 700, "y1": 400}}]}`)

	regions, err := DecodeRegions(data)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, RegionLegend, regions[0].Class)
}

func TestDecodeRegionsRejectsBadRoots(t *testing.T) {
	for _, data := range []string{"", "42", `{"pages": []}`} {
		_, err := DecodeRegions([]byte(data))
		assert.Error(t, err, data)
	}
}

func TestLoadRegionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "note-1", "class": "note", "page": 1,
		"bbox": {"x0": 0, "y0": 0, "x1": 10, "y1": 10}}]`), 0o644))

	regions, err := LoadRegions(path)
	require.NoError(t, err)
	assert.Len(t, regions, 1)

	_, err = LoadRegions(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
