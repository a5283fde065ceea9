package notelayout

// Structural noise masking. Sheet furniture (legend text, title block fields,
// border labels) reads like notes to the merger, so it is masked before any
// classification runs. Masked chunks are re-typed, never deleted: they stay in
// stage files for inspection and are dropped only when the final output is
// assembled.

// MaskConfig controls which overlay region classes count as structural noise
// and how much of a chunk must sit inside one to be masked.
type MaskConfig struct {
	// Classes lists the region classes whose interior text is noise.
	Classes []string `yaml:"classes"`
	// MinOverlap is the fraction of the chunk's area that must lie inside a
	// noise region. A chunk whose center falls inside the region is masked
	// regardless of the fraction.
	MinOverlap float64 `yaml:"min_overlap"`
}

// DefaultMaskConfig masks legend and title block interiors at the production
// overlap fraction.
func DefaultMaskConfig() MaskConfig {
	return MaskConfig{
		Classes:    []string{RegionLegend, RegionTitleBlock, RegionSheetInfo},
		MinOverlap: 0.25,
	}
}

// NoiseMasker re-types text lines inside noise regions as masked_noise.
type NoiseMasker struct {
	cfg     MaskConfig
	classes map[string]struct{}
}

// NewNoiseMasker builds a masker for the given config.
func NewNoiseMasker(cfg MaskConfig) *NoiseMasker {
	classes := make(map[string]struct{}, len(cfg.Classes))
	for _, class := range cfg.Classes {
		classes[class] = struct{}{}
	}
	return &NoiseMasker{cfg: cfg, classes: classes}
}

// Mask marks text lines that sit inside noise regions. Only raw text lines
// are considered; headers and composites are never masked, so running the pass
// twice is harmless. Returns the number of chunks masked.
func (m *NoiseMasker) Mask(chunks []*Chunk, regions []Region) (int, error) {
	if len(regions) == 0 {
		return 0, nil
	}

	byPage := make(map[int][]Region)
	for _, reg := range regions {
		if _, ok := m.classes[reg.Class]; !ok {
			continue
		}
		byPage[reg.Page] = append(byPage[reg.Page], reg)
	}

	masked := 0
	for _, c := range chunks {
		if c.Type != CategoryTextLine {
			continue
		}
		for _, reg := range byPage[c.Page] {
			overlap := OverlapRatio(c.Rect, reg.Box)
			centerIn := reg.Box.ContainsPoint(c.Rect.CenterX(), c.Rect.CenterY())
			if overlap < m.cfg.MinOverlap && !centerIn {
				continue
			}
			if err := c.Promote(CategoryMaskedNoise); err != nil {
				return masked, err
			}
			c.SetMeta(MetaMaskedReason, reg.Class)
			c.RecordStage(StageMaskNoise, "masked", map[string]any{
				"region_id":    reg.ID,
				"region_class": reg.Class,
				"overlap":      overlap,
			})
			masked++
			break
		}
	}
	return masked, nil
}

// Band fractions for the regionless fallback. Plan sheets keep the legend in
// the right margin and the title block along the bottom; the cuts match the
// historical absolute thresholds on a US Letter page.
const (
	legendBandFrac     = 0.65
	titleBlockBandFrac = 0.76
)

// StandardMaskRegions synthesizes noise regions for a page when no visual
// overlay is available: a legend band on the right edge and a title block band
// along the bottom.
func StandardMaskRegions(page int, pageWidth, pageHeight float64) []Region {
	return []Region{
		{
			ID:    "legend-band",
			Class: RegionLegend,
			Page:  page,
			Box:   NewRect(pageWidth*legendBandFrac, 0, pageWidth, pageHeight),
		},
		{
			ID:    "title-block-band",
			Class: RegionTitleBlock,
			Page:  page,
			Box:   NewRect(0, pageHeight*titleBlockBandFrac, pageWidth, pageHeight),
		},
	}
}
