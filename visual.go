package notelayout

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Visual overlay integration. A separate detector (shape-based, not textual)
// produces classed regions per page; attaching them to chunks gives downstream
// stages layout hints that outrank geometric inference: note membership,
// column index, and structural-noise zones.

// Region classes produced by the overlay detector.
const (
	RegionNote        = "note"
	RegionColumn      = "column"
	RegionLegend      = "legend"
	RegionSheetInfo   = "sheet_info"
	RegionTitleBlock  = "title_block"
	RegionSpecialNote = "special_note"
)

// regionClassRank orders classes by attachment priority. When a chunk center
// falls inside regions of several classes, the lowest rank wins, so a note
// region beats the column that contains it.
var regionClassRank = map[string]int{
	RegionNote:        0,
	RegionColumn:      1,
	RegionLegend:      2,
	RegionSheetInfo:   3,
	RegionTitleBlock:  4,
	RegionSpecialNote: 5,
}

// Region is one classed rectangle from the visual overlay for a single page.
// ColumnIndex is 1-based and only meaningful for column regions (or note
// regions that carry their enclosing column along).
type Region struct {
	ID          string  `json:"id" yaml:"id"`
	Class       string  `json:"class" yaml:"class"`
	Page        int     `json:"page" yaml:"page"`
	Box         Rect    `json:"bbox" yaml:"bbox"`
	ColumnIndex int     `json:"column_index,omitempty" yaml:"column_index,omitempty"`
	Confidence  float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// intersectPad is the slack applied during fallback region matching, tolerant
// of OCR boxes that poke slightly outside their region.
const intersectPad = 4.0

// AttachRegions stamps visual overlay metadata onto chunks. For each chunk the
// best region is chosen in two passes: first the highest-priority region whose
// box contains the chunk center, then, failing that, the highest-priority
// region whose box intersects the chunk's padded rect. Chunks with no match
// are left untouched. Returns the number of chunks stamped.
func AttachRegions(chunks []*Chunk, regions []Region) int {
	if len(chunks) == 0 || len(regions) == 0 {
		return 0
	}

	byPage := make(map[int][]Region)
	for _, reg := range regions {
		byPage[reg.Page] = append(byPage[reg.Page], reg)
	}

	stamped := 0
	for _, c := range chunks {
		pageRegions := byPage[c.Page]
		if len(pageRegions) == 0 {
			continue
		}

		best, ok := matchRegion(c.Rect, pageRegions)
		if !ok {
			continue
		}

		c.SetMeta(MetaVisualRegionClass, best.Class)
		if best.ID != "" {
			c.SetMeta(MetaVisualRegionID, best.ID)
		}
		switch best.Class {
		case RegionNote:
			c.SetMeta(MetaVisualNoteID, best.ID)
			c.SetMeta(MetaVisualConfidence, best.Confidence)
			if best.ColumnIndex > 0 {
				c.SetMeta(MetaVisualColumnIndex, best.ColumnIndex)
			}
		case RegionColumn:
			if best.ColumnIndex > 0 {
				c.SetMeta(MetaVisualColumnIndex, best.ColumnIndex)
			}
		}
		stamped++
	}
	return stamped
}

// matchRegion picks the region for a chunk rect: center containment first,
// padded intersection second, class priority breaking ties within each pass.
func matchRegion(r Rect, regions []Region) (Region, bool) {
	cx, cy := r.CenterX(), r.CenterY()

	var best Region
	found := false
	for _, reg := range regions {
		if !reg.Box.ContainsPoint(cx, cy) {
			continue
		}
		if !found || classRank(reg.Class) < classRank(best.Class) {
			best, found = reg, true
		}
	}
	if found {
		return best, true
	}

	for _, reg := range regions {
		if !paddedHit(r, reg.Box, intersectPad) {
			continue
		}
		if !found || classRank(reg.Class) < classRank(best.Class) {
			best, found = reg, true
		}
	}
	return best, found
}

// classRank returns the priority rank for a region class; unknown classes sort
// after all known ones.
func classRank(class string) int {
	if rank, ok := regionClassRank[class]; ok {
		return rank
	}
	return len(regionClassRank)
}

// paddedHit reports whether a, grown by pad on every side, overlaps b. Unlike
// Rect.Intersect, edge contact counts as a hit.
func paddedHit(a, b Rect, pad float64) bool {
	if a.X1+pad < b.X0 || b.X1 < a.X0-pad {
		return false
	}
	if a.Y1+pad < b.Y0 || b.Y1 < a.Y0-pad {
		return false
	}
	return true
}

// LoadRegions reads visual overlay regions from a JSON file. The root may be
// a bare list or an object with a "regions" key.
func LoadRegions(path string) ([]Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read regions file %s", path)
	}
	regions, err := DecodeRegions(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse regions file %s", path)
	}
	return regions, nil
}

// DecodeRegions parses a regions document.
func DecodeRegions(data []byte) ([]Region, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("regions document is empty")
	}

	switch trimmed[0] {
	case '[':
		var regions []Region
		if err := json.Unmarshal(trimmed, &regions); err != nil {
			return nil, errors.Wrap(err, "parse regions list")
		}
		return regions, nil
	case '{':
		var root struct {
			Regions []Region `json:"regions"`
		}
		if err := json.Unmarshal(trimmed, &root); err != nil {
			return nil, errors.Wrap(err, "parse regions document")
		}
		if root.Regions == nil {
			return nil, errors.New(`regions document has no "regions" key`)
		}
		return root.Regions, nil
	}
	return nil, errors.New("regions document root must be a list or object")
}

// NoteRegions filters the overlay down to note regions for a page, in input
// order.
func NoteRegions(regions []Region, page int) []Region {
	var out []Region
	for _, reg := range regions {
		if reg.Page == page && reg.Class == RegionNote {
			out = append(out, reg)
		}
	}
	return out
}
