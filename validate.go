package notelayout

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stage contract validation. This is not business-logic validation: it
// enforces the pipeline contract that a stage claiming success produced a
// minimally sane chunk list. The orchestrator runs it between stages and
// aborts on the first violation.

// ValidateConfig controls how strict the contract checks are.
type ValidateConfig struct {
	// RequireObjectBBox fails chunks whose stage-file bbox used a legacy
	// encoding (coordinate array or flattened scalars) instead of the
	// canonical object form.
	RequireObjectBBox bool `yaml:"require_object_bbox"`
	// RequireWrappedRoot fails stage files whose root is a bare chunk list
	// instead of the canonical {"chunks": [...]} wrapper.
	RequireWrappedRoot bool `yaml:"require_wrapped_root"`
	// HeaderContainment is the overlap ratio at or above which a header
	// counts as swallowed by a note group.
	HeaderContainment float64 `yaml:"header_containment"`
}

// DefaultValidateConfig returns the production contract settings: tolerant of
// legacy encodings, strict about geometry and the header containment bound.
func DefaultValidateConfig() ValidateConfig {
	return ValidateConfig{HeaderContainment: 0.80}
}

// ValidationError reports a single contract violation, identifying the chunk
// and stage so the failure is actionable without re-running anything.
type ValidationError struct {
	Stage     string
	ChunkID   string
	ChunkType Category
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.ChunkID == "" {
		return fmt.Sprintf("stage %s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("stage %s: chunk %s (%s): %s", e.Stage, e.ChunkID, e.ChunkType, e.Reason)
}

// ValidationStats summarizes a validation pass.
type ValidationStats struct {
	Total     int // chunks seen
	Validated int // chunks checked after page filtering
}

// ValidateChunks checks the structural contract on a decoded chunk list: every
// chunk has an id, a known type, and non-degenerate geometry, and no id
// appears twice. page limits the check to one page; 0 checks all. The first
// violation is returned as a *ValidationError.
func ValidateChunks(stage string, chunks []*Chunk, page int) (ValidationStats, error) {
	stats := ValidationStats{Total: len(chunks)}
	seen := make(map[string]struct{}, len(chunks))

	for _, c := range chunks {
		if page > 0 && c.Page != page {
			continue
		}
		stats.Validated++

		if c.ID == "" {
			return stats, &ValidationError{Stage: stage, ChunkType: c.Type, Reason: "missing id"}
		}
		if _, dup := seen[c.ID]; dup {
			return stats, &ValidationError{Stage: stage, ChunkID: c.ID, ChunkType: c.Type, Reason: "duplicate id"}
		}
		seen[c.ID] = struct{}{}

		if c.Type == "" {
			return stats, &ValidationError{Stage: stage, ChunkID: c.ID, Reason: "missing type"}
		}
		if !c.Type.Valid() {
			return stats, &ValidationError{Stage: stage, ChunkID: c.ID, ChunkType: c.Type, Reason: fmt.Sprintf("unknown type %q", c.Type)}
		}
		if c.Rect.Degenerate() {
			return stats, &ValidationError{
				Stage:     stage,
				ChunkID:   c.ID,
				ChunkType: c.Type,
				Reason: fmt.Sprintf("degenerate bbox (%.2f, %.2f, %.2f, %.2f)",
					c.Rect.X0, c.Rect.Y0, c.Rect.X1, c.Rect.Y1),
			}
		}
	}
	return stats, nil
}

// ValidateStage checks a decoded stage file against the contract: root shape
// and bbox encodings per the config, then the structural chunk checks.
func ValidateStage(stage string, sf *StageFile, page int, cfg ValidateConfig) (ValidationStats, error) {
	if sf == nil {
		return ValidationStats{}, errors.Errorf("stage %s: nil stage file", stage)
	}
	if cfg.RequireWrappedRoot && sf.ListRoot {
		return ValidationStats{}, &ValidationError{
			Stage:  stage,
			Reason: `root is a bare list, want {"chunks": [...]}`,
		}
	}
	if cfg.RequireObjectBBox && len(sf.LooseBBoxIDs) > 0 {
		id := sf.LooseBBoxIDs[0]
		return ValidationStats{}, &ValidationError{
			Stage:   stage,
			ChunkID: id,
			Reason:  "bbox uses a legacy encoding, want object form",
		}
	}
	return ValidateChunks(stage, sf.Chunks, page)
}

// CheckHeaderContainment fails when any header bbox is mostly contained
// within a note group or merged note bbox. A header swallowed by a note means
// the merge gate leaked across a section boundary, which is a data
// correctness bug, not a rendering artifact.
func CheckHeaderContainment(stage string, chunks []*Chunk, maxRatio float64) error {
	var headers, notes []*Chunk
	for _, c := range chunks {
		switch c.Type {
		case CategoryHeader:
			headers = append(headers, c)
		case CategoryNoteGroup, CategoryMergedNote:
			notes = append(notes, c)
		}
	}

	for _, h := range headers {
		for _, n := range notes {
			if h.Page != n.Page {
				continue
			}
			ratio := OverlapRatio(h.Rect, n.Rect)
			if ratio >= maxRatio {
				return &ValidationError{
					Stage:     stage,
					ChunkID:   h.ID,
					ChunkType: h.Type,
					Reason: fmt.Sprintf("header %.0f%% inside %s %s (threshold %.0f%%)",
						ratio*100, n.Type, n.ID, maxRatio*100),
				}
			}
		}
	}
	return nil
}
