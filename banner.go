package notelayout

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// BannerConfig tunes banner-header splitting.
type BannerConfig struct {
	// Keyword is the section marker used to segment banner text, normally the
	// same keyword the header classifier matches on.
	Keyword string `yaml:"keyword"`

	// MinBannerWidth is the narrowest header rectangle treated as a banner.
	MinBannerWidth float64 `yaml:"min_banner_width"`

	// SplitGap is the gutter between adjacent slices; half is subtracted from
	// each side of an internal boundary so siblings never touch.
	SplitGap float64 `yaml:"split_gap"`

	// EdgeInset shrinks every slice from both ends.
	EdgeInset float64 `yaml:"edge_inset"`

	// MinSliceWidth is the floor a slice is widened back to (around its
	// center) when gutter and inset would leave it degenerate.
	MinSliceWidth float64 `yaml:"min_slice_width"`
}

// DefaultBannerConfig returns the banner splitting settings used in
// production runs.
func DefaultBannerConfig() BannerConfig {
	return BannerConfig{
		Keyword:        "NOTES",
		MinBannerWidth: 250,
		SplitGap:       2.0,
		EdgeInset:      0.75,
		MinSliceWidth:  12,
	}
}

// BannerSplitter breaks one wide header spanning several columns ("SITE
// NOTES: UTILITY NOTES:") into per-column headers. The source banner is
// replaced by its slices; each slice records where it came from.
type BannerSplitter struct {
	cfg       BannerConfig
	segmentRe *regexp.Regexp
}

// NewBannerSplitter builds a splitter for cfg.
func NewBannerSplitter(cfg BannerConfig) *BannerSplitter {
	return &BannerSplitter{
		cfg:       cfg,
		segmentRe: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(cfg.Keyword) + `\b\s*:`),
	}
}

// SplitBanners walks the collection and replaces every banner header with its
// per-column slices. Non-banner chunks pass through untouched, in order.
// Returns the new collection and the number of banners split.
func (bs *BannerSplitter) SplitBanners(chunks []*Chunk) ([]*Chunk, int) {
	out := make([]*Chunk, 0, len(chunks))
	split := 0

	for _, c := range chunks {
		if !c.IsHeader() || c.Rect.Width() < bs.cfg.MinBannerWidth {
			out = append(out, c)
			continue
		}
		segments := bs.segments(c.Text)
		if len(segments) < 2 {
			out = append(out, c)
			continue
		}

		out = append(out, bs.slice(c, segments)...)
		split++
	}
	return out, split
}

// segments cuts banner text into per-column titles. Preferred: one segment
// per "... KEYWORD:" occurrence. Fallback: colon-delimited parts. Fewer than
// two segments means the text does not read as a banner.
func (bs *BannerSplitter) segments(text string) []string {
	locs := bs.segmentRe.FindAllStringIndex(text, -1)
	if len(locs) >= 2 {
		segs := make([]string, 0, len(locs))
		prev := 0
		for _, loc := range locs {
			if seg := strings.TrimSpace(text[prev:loc[1]]); seg != "" {
				segs = append(segs, seg)
			}
			prev = loc[1]
		}
		// A trailing remainder ("(CONT'D)") belongs to the last title.
		if tail := strings.TrimSpace(text[prev:]); tail != "" && len(segs) > 0 {
			segs[len(segs)-1] += " " + tail
		}
		return segs
	}

	var segs []string
	for _, part := range strings.Split(text, ":") {
		if part = strings.TrimSpace(part); part != "" {
			segs = append(segs, part+":")
		}
	}
	return segs
}

// slice divides the banner rectangle into len(segments) equal slices, gutters
// internal boundaries, insets both ends of each slice, and floors the width.
func (bs *BannerSplitter) slice(banner *Chunk, segments []string) []*Chunk {
	n := len(segments)
	sliceWidth := banner.Rect.Width() / float64(n)
	halfGap := bs.cfg.SplitGap / 2

	out := make([]*Chunk, 0, n)
	for i, seg := range segments {
		left := banner.Rect.X0 + float64(i)*sliceWidth
		right := left + sliceWidth
		if i > 0 {
			left += halfGap
		}
		if i < n-1 {
			right -= halfGap
		}
		left += bs.cfg.EdgeInset
		right -= bs.cfg.EdgeInset

		if right-left < bs.cfg.MinSliceWidth {
			center := (left + right) / 2
			left = center - bs.cfg.MinSliceWidth/2
			right = center + bs.cfg.MinSliceWidth/2
		}

		child := &Chunk{
			ID:   uuid.NewString(),
			Page: banner.Page,
			Type: CategoryHeader,
			Text: seg,
			Rect: Rect{X0: left, Y0: banner.Rect.Y0, X1: right, Y1: banner.Rect.Y1},
		}
		child.SetMeta(MetaSplitFrom, banner.ID)
		child.SetMeta(MetaSplitIndex, i)
		child.SetMeta(MetaSplitTotal, n)
		child.SetMeta(MetaHeaderCandidate, true)
		child.SetMeta(MetaHeaderNorm, NormalizeHeader(seg))
		child.RecordStage(StageSplitBanners, "split", map[string]any{
			"min_banner_width": bs.cfg.MinBannerWidth,
			"split_gap":        bs.cfg.SplitGap,
			"edge_inset":       bs.cfg.EdgeInset,
		})
		out = append(out, child)
	}
	return out
}
