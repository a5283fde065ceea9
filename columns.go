package notelayout

import (
	"cmp"
	"math"
	"slices"
)

// AssignColumns clusters a page's chunks into left-to-right column bins by
// horizontal center and returns a chunk id -> 0-based column index map.
//
// When at least two distinct visual column hints are present on the page the
// hints win outright: explicit annotation outranks geometric inference.
// Unhinted chunks fall into column 0 in that mode. An empty input yields an
// empty map.
func AssignColumns(chunks []*Chunk, tol float64) map[string]int {
	if hinted, ok := visualColumnAssignment(chunks); ok {
		return hinted
	}
	return clusterByX(chunks, tol, func(c *Chunk) float64 { return c.Rect.CenterX() })
}

// AssignColumnsByLeftEdge clusters chunks into columns by left edge. The merge
// pass uses this variant: note bodies share a left margin even when their
// widths differ, so the left edge is the more stable signal there.
func AssignColumnsByLeftEdge(chunks []*Chunk, tol float64) map[string]int {
	return clusterByX(chunks, tol, func(c *Chunk) float64 { return c.Rect.X0 })
}

// clusterByX performs greedy 1-D clustering: walk positions in ascending
// order, extend the current cluster while the next position is within tol of
// the cluster's running mean, otherwise open a new cluster. Clusters are then
// ordered by mean and numbered left to right.
func clusterByX(chunks []*Chunk, tol float64, key func(*Chunk) float64) map[string]int {
	assign := make(map[string]int, len(chunks))
	if len(chunks) == 0 {
		return assign
	}

	type entry struct {
		id string
		x  float64
	}
	entries := make([]entry, 0, len(chunks))
	for _, c := range chunks {
		entries = append(entries, entry{id: c.ID, x: key(c)})
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		return cmp.Compare(a.x, b.x)
	})

	type cluster struct {
		mean float64
		sum  float64
		ids  []string
	}
	var clusters []*cluster
	for _, e := range entries {
		if n := len(clusters); n > 0 && math.Abs(e.x-clusters[n-1].mean) <= tol {
			last := clusters[n-1]
			last.ids = append(last.ids, e.id)
			last.sum += e.x
			last.mean = last.sum / float64(len(last.ids))
			continue
		}
		clusters = append(clusters, &cluster{mean: e.x, sum: e.x, ids: []string{e.id}})
	}

	slices.SortStableFunc(clusters, func(a, b *cluster) int {
		return cmp.Compare(a.mean, b.mean)
	})

	for col, cl := range clusters {
		for _, id := range cl.ids {
			assign[id] = col
		}
	}
	return assign
}

// visualColumnAssignment builds a column map from visual overlay hints. ok is
// false when fewer than two distinct hinted columns exist: a lone hint is too
// thin to trust over geometry.
func visualColumnAssignment(chunks []*Chunk) (map[string]int, bool) {
	distinct := make(map[int]struct{})
	for _, c := range chunks {
		if col, ok := c.MetaInt(MetaVisualColumnIndex); ok {
			distinct[col] = struct{}{}
		}
	}
	if len(distinct) < 2 {
		return nil, false
	}

	assign := make(map[string]int, len(chunks))
	for _, c := range chunks {
		if col, ok := c.MetaInt(MetaVisualColumnIndex); ok {
			assign[c.ID] = col
		} else {
			assign[c.ID] = 0
		}
	}
	return assign, true
}

// SplitByColumn partitions chunks into per-column groups ordered left to
// right. Chunks absent from assign land in column 0.
func SplitByColumn(chunks []*Chunk, assign map[string]int) [][]*Chunk {
	byCol := make(map[int][]*Chunk)
	for _, c := range chunks {
		byCol[assign[c.ID]] = append(byCol[assign[c.ID]], c)
	}

	cols := make([]int, 0, len(byCol))
	for col := range byCol {
		cols = append(cols, col)
	}
	slices.Sort(cols)

	out := make([][]*Chunk, 0, len(cols))
	for _, col := range cols {
		out = append(out, byCol[col])
	}
	return out
}

// ColumnCount returns the number of distinct columns in an assignment.
func ColumnCount(assign map[string]int) int {
	distinct := make(map[int]struct{}, len(assign))
	for _, col := range assign {
		distinct[col] = struct{}{}
	}
	return len(distinct)
}
