package notelayout

import "slices"

// TightenConfig tunes group-rectangle tightening.
type TightenConfig struct {
	// GroupTypes are the categories whose rectangles get recomputed.
	GroupTypes []Category `yaml:"group_types"`

	// ChildTypes are the categories counted as children.
	ChildTypes []Category `yaml:"child_types"`

	// MinChildOverlap is the intersection-area / child-area threshold for a
	// child to count as belonging to the group.
	MinChildOverlap float64 `yaml:"min_child_overlap"`

	// Pad is applied after tightening. Positive expands, negative shrinks.
	Pad float64 `yaml:"pad"`
}

// DefaultTightenConfig tightens note groups against their text lines.
func DefaultTightenConfig() TightenConfig {
	return TightenConfig{
		GroupTypes:      []Category{CategoryNoteGroup},
		ChildTypes:      []Category{CategoryTextLine},
		MinChildOverlap: 0.20,
		Pad:             0,
	}
}

// HeaderTightenConfig tightens header rectangles after banner splitting,
// with a small pad so the box still clears the glyphs.
func HeaderTightenConfig() TightenConfig {
	return TightenConfig{
		GroupTypes:      []Category{CategoryHeader},
		ChildTypes:      []Category{CategoryTextLine},
		MinChildOverlap: 0.20,
		Pad:             1.5,
	}
}

// TightenGroups recomputes each group rectangle as the union of only the
// child chunks that actually overlap it, correcting boxes inherited from
// banner slicing or coarse extraction blocks. Groups with no qualifying
// children keep their rectangle. Returns the number of groups tightened.
func TightenGroups(chunks []*Chunk, cfg TightenConfig) int {
	tightened := 0
	for _, pageChunks := range ByPage(chunks) {
		var children []*Chunk
		for _, c := range pageChunks {
			if slices.Contains(cfg.ChildTypes, c.Type) && !c.Rect.Degenerate() {
				children = append(children, c)
			}
		}

		for _, g := range pageChunks {
			if !slices.Contains(cfg.GroupTypes, g.Type) {
				continue
			}

			var matched []Rect
			for _, child := range children {
				if child == g {
					continue
				}
				inter, ok := g.Rect.Intersect(child.Rect)
				if !ok {
					continue
				}
				if inter.Area()/child.Rect.Area() >= cfg.MinChildOverlap {
					matched = append(matched, child.Rect)
				}
			}
			if len(matched) == 0 {
				continue
			}

			tight, _ := UnionAll(matched)
			g.Rect = tight.Pad(cfg.Pad)
			g.RecordStage(StageTightenGroups, "tightened", map[string]any{
				"min_child_overlap": cfg.MinChildOverlap,
				"pad":               cfg.Pad,
				"children":          len(matched),
			})
			tightened++
		}
	}
	return tightened
}

// TrimConfig tunes trimming of group tops under headers.
type TrimConfig struct {
	// GroupType is the category whose rectangles get trimmed.
	GroupType Category `yaml:"group_type"`

	// Gap is the clearance left under the header.
	Gap float64 `yaml:"gap"`

	// MinXOverlap is the fraction of the header's width that must overlap the
	// group horizontally.
	MinXOverlap float64 `yaml:"min_x_overlap"`

	// TopTolerance limits trimming to headers sitting near the group's top.
	TopTolerance float64 `yaml:"top_tolerance"`
}

// DefaultTrimConfig returns the trim settings used in production runs.
func DefaultTrimConfig() TrimConfig {
	return TrimConfig{
		GroupType:    CategoryNoteGroup,
		Gap:          2.0,
		MinXOverlap:  0.50,
		TopTolerance: 25.0,
	}
}

// TrimGroupsUnderHeaders pushes a group's top edge below a header whose band
// the group has swallowed. A geometry-only repair: children and text are
// untouched. Returns the number of groups trimmed.
func TrimGroupsUnderHeaders(chunks []*Chunk, cfg TrimConfig) int {
	trimmed := 0
	for _, pageChunks := range ByPage(chunks) {
		var headers []*Chunk
		for _, c := range pageChunks {
			if c.IsHeader() {
				headers = append(headers, c)
			}
		}

		for _, g := range pageChunks {
			if g.Type != cfg.GroupType {
				continue
			}
			for _, h := range headers {
				if h.Rect.Y0-g.Rect.Y0 > cfg.TopTolerance {
					continue
				}
				if xOverlapOfHeader(h.Rect, g.Rect) < cfg.MinXOverlap {
					continue
				}
				// Header's bottom edge inside the group's vertical span.
				if h.Rect.Y1 < g.Rect.Y0 || h.Rect.Y1 > g.Rect.Y1 {
					continue
				}

				newTop := h.Rect.Y1 + cfg.Gap
				if newTop > g.Rect.Y0 && newTop < g.Rect.Y1-1.0 {
					g.Rect.Y0 = newTop
					g.RecordStage(StageTrimGroups, "trimmed", map[string]any{
						"header_id": h.ID,
						"gap":       cfg.Gap,
					})
					trimmed++
				}
				break
			}
		}
	}
	return trimmed
}

// xOverlapOfHeader returns the horizontal overlap as a fraction of the
// header's own width.
func xOverlapOfHeader(h, g Rect) float64 {
	inter := min(h.X1, g.X1) - max(h.X0, g.X0)
	if inter < 0 {
		inter = 0
	}
	w := h.Width()
	if w < 1e-6 {
		w = 1e-6
	}
	return inter / w
}
