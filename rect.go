package notelayout

import (
	"encoding/json"
	"fmt"
	"math"
)

// Rect is an axis-aligned bounding box in page coordinates (x right, y down).
// A well-formed Rect satisfies X0 <= X1 and Y0 <= Y1; use NewRect to build one
// from untrusted coordinates.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// NewRect builds a normalized Rect, swapping coordinate pairs if they arrive
// reversed. Degenerate (zero-area) rectangles are representable; they are
// rejected later by validation, never clamped into shape.
func NewRect(x0, y0, x1, y1 float64) Rect {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

// Width returns the width of the rectangle.
func (r Rect) Width() float64 {
	return r.X1 - r.X0
}

// Height returns the height of the rectangle.
func (r Rect) Height() float64 {
	return r.Y1 - r.Y0
}

// Area returns the area of the rectangle, never negative.
func (r Rect) Area() float64 {
	return math.Max(0, r.Width()) * math.Max(0, r.Height())
}

// CenterX returns the horizontal center of the rectangle.
func (r Rect) CenterX() float64 {
	return (r.X0 + r.X1) / 2
}

// CenterY returns the vertical center of the rectangle.
func (r Rect) CenterY() float64 {
	return (r.Y0 + r.Y1) / 2
}

// Degenerate reports whether the rectangle has zero or negative extent in
// either axis.
func (r Rect) Degenerate() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// ContainsPoint reports whether the point (x, y) lies inside the rectangle.
// Boundary points count as inside.
func (r Rect) ContainsPoint(x, y float64) bool {
	return x >= r.X0 && x <= r.X1 && y >= r.Y0 && y <= r.Y1
}

// Union returns the minimal rectangle containing both r and other.
func (r Rect) Union(other Rect) Rect {
	return Rect{
		X0: math.Min(r.X0, other.X0),
		Y0: math.Min(r.Y0, other.Y0),
		X1: math.Max(r.X1, other.X1),
		Y1: math.Max(r.Y1, other.Y1),
	}
}

// Intersect returns the overlapping region of r and other. ok is false when
// the rectangles are disjoint or touch only along an edge.
func (r Rect) Intersect(other Rect) (Rect, bool) {
	x0 := math.Max(r.X0, other.X0)
	y0 := math.Max(r.Y0, other.Y0)
	x1 := math.Min(r.X1, other.X1)
	y1 := math.Min(r.Y1, other.Y1)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}, false
	}
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}, true
}

// Pad grows the rectangle by pad on every side. Negative pad shrinks it.
func (r Rect) Pad(pad float64) Rect {
	return Rect{X0: r.X0 - pad, Y0: r.Y0 - pad, X1: r.X1 + pad, Y1: r.Y1 + pad}
}

// VerticalGap returns the vertical distance between two rectangles, or 0 when
// they overlap or touch vertically.
func (r Rect) VerticalGap(other Rect) float64 {
	if other.Y0 >= r.Y1 {
		return other.Y0 - r.Y1
	}
	if r.Y0 >= other.Y1 {
		return r.Y0 - other.Y1
	}
	return 0
}

// HorizontalOverlapRatio returns the horizontal overlap width divided by the
// smaller of the two widths. The denominator is floored at 1.0 so hairline
// fragments cannot inflate the ratio.
func (r Rect) HorizontalOverlapRatio(other Rect) float64 {
	overlap := math.Max(0, math.Min(r.X1, other.X1)-math.Max(r.X0, other.X0))
	denom := math.Max(math.Min(r.Width(), other.Width()), 1.0)
	return overlap / denom
}

// OverlapRatio returns intersection area divided by the area of `of`: how much
// of `of` sits inside `onto`. Returns 0 for disjoint or degenerate inputs.
func OverlapRatio(of, onto Rect) float64 {
	inter, ok := of.Intersect(onto)
	if !ok {
		return 0
	}
	area := of.Area()
	if area <= 0 {
		return 0
	}
	return inter.Area() / area
}

// UnionAll returns the union of all rectangles in the slice. ok is false for
// an empty slice.
func UnionAll(rects []Rect) (Rect, bool) {
	if len(rects) == 0 {
		return Rect{}, false
	}
	out := rects[0]
	for _, r := range rects[1:] {
		out = out.Union(r)
	}
	return out, true
}

// ParseRect decodes a rectangle from any of the encodings that have appeared
// in stage files over time:
//
//	[x0, y0, x1, y1]
//	{"x0": ..., "y0": ..., "x1": ..., "y1": ...}
//
// Swapped coordinate pairs are normalized. Anything else is an error; a
// rectangle is never guessed from partial data.
func ParseRect(raw json.RawMessage) (Rect, error) {
	if len(raw) == 0 {
		return Rect{}, fmt.Errorf("missing bbox")
	}

	var arr []float64
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) < 4 {
			return Rect{}, fmt.Errorf("bbox array has %d elements, want 4", len(arr))
		}
		return NewRect(arr[0], arr[1], arr[2], arr[3]), nil
	}

	var obj struct {
		X0 *float64 `json:"x0"`
		Y0 *float64 `json:"y0"`
		X1 *float64 `json:"x1"`
		Y1 *float64 `json:"y1"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Rect{}, fmt.Errorf("bbox is neither array nor object: %w", err)
	}
	if obj.X0 == nil || obj.Y0 == nil || obj.X1 == nil || obj.Y1 == nil {
		return Rect{}, fmt.Errorf("bbox object missing one of x0/y0/x1/y1")
	}
	return NewRect(*obj.X0, *obj.Y0, *obj.X1, *obj.Y1), nil
}

// RectFromScalars builds a rectangle from the flattened top-level x0/y0/x1/y1
// fields some historical stage files carry instead of a bbox value. All four
// fields must be present.
func RectFromScalars(x0, y0, x1, y1 *float64) (Rect, error) {
	if x0 == nil || y0 == nil || x1 == nil || y1 == nil {
		return Rect{}, fmt.Errorf("incomplete scalar bbox fields")
	}
	return NewRect(*x0, *y0, *x1, *y1), nil
}
