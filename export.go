package notelayout

import (
	"bytes"
	"cmp"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Canonical names for the downstream export set. cleanLatest knows these.
const (
	NotesExportFile = "notes.json"
	NotesTableFile  = "notes_table.csv"
	StageReportFile = "stage_report.md"
)

// NotesExportOptions filters which chunks land in the notes export.
type NotesExportOptions struct {
	// Page limits the export to a single 1-based page; 0 exports all pages.
	Page int
	// NotesOnly keeps only note-like chunks: composite notes, or chunks a
	// visual note/special_note region claimed.
	NotesOnly bool
	// MinConfidence drops chunks whose visual confidence is below the
	// threshold. Chunks with no visual match count as confidence 0.
	MinConfidence float64
}

// ExportedNote is the JSON-friendly form of a chunk, with the visual
// alignment fields promoted to the top level for downstream consumers.
type ExportedNote struct {
	ID                string         `json:"id"`
	Content           string         `json:"content"`
	Type              Category       `json:"type"`
	Page              int            `json:"page"`
	BBox              Rect           `json:"bbox"`
	VisualRegionClass string         `json:"visual_region_class,omitempty"`
	VisualRegionID    string         `json:"visual_region_id,omitempty"`
	VisualNoteID      string         `json:"visual_note_id,omitempty"`
	VisualColumnIndex int            `json:"visual_column_index,omitempty"`
	VisualConfidence  float64        `json:"visual_confidence,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// ExportFilter echoes the options a notes export was built with.
type ExportFilter struct {
	Page          int     `json:"page"`
	NotesOnly     bool    `json:"notes_only"`
	MinConfidence float64 `json:"min_confidence"`
}

// ExportSummary carries headline counts for a notes export.
type ExportSummary struct {
	TotalExportedChunks int            `json:"total_exported_chunks"`
	PerPageCounts       map[string]int `json:"per_page_counts"`
}

// NotesExport is the envelope written to notes.json.
type NotesExport struct {
	Source  string         `json:"source"`
	Filter  ExportFilter   `json:"filter"`
	Summary ExportSummary  `json:"summary"`
	Chunks  []ExportedNote `json:"chunks"`
}

// noteLike reports whether a chunk should survive a notes-only export:
// composite notes by type, or anything a visual note region claimed.
func noteLike(c *Chunk) bool {
	if c.Type == CategoryNoteGroup || c.Type == CategoryMergedNote {
		return true
	}
	class := c.MetaString(MetaVisualRegionClass)
	return class == RegionNote || class == RegionSpecialNote
}

func exportNote(c *Chunk) ExportedNote {
	note := ExportedNote{
		ID:       c.ID,
		Content:  strings.TrimSpace(c.Text),
		Type:     c.Type,
		Page:     c.Page,
		BBox:     c.Rect,
		Metadata: c.Metadata,
	}
	note.VisualRegionClass = c.MetaString(MetaVisualRegionClass)
	note.VisualRegionID = c.MetaString(MetaVisualRegionID)
	note.VisualNoteID = c.MetaString(MetaVisualNoteID)
	note.VisualColumnIndex, _ = c.MetaInt(MetaVisualColumnIndex)
	note.VisualConfidence, _ = c.MetaFloat(MetaVisualConfidence)
	return note
}

// BuildNotesExport filters chunks and assembles the notes.json envelope.
// Chunks are exported in the order given, so callers that want reading
// order should pass finalized pipeline output.
func BuildNotesExport(source string, chunks []*Chunk, opts NotesExportOptions) *NotesExport {
	export := &NotesExport{
		Source: source,
		Filter: ExportFilter{
			Page:          opts.Page,
			NotesOnly:     opts.NotesOnly,
			MinConfidence: opts.MinConfidence,
		},
		Summary: ExportSummary{PerPageCounts: map[string]int{}},
		Chunks:  []ExportedNote{},
	}

	for _, c := range chunks {
		if opts.Page > 0 && c.Page != opts.Page {
			continue
		}
		if opts.NotesOnly && !noteLike(c) {
			continue
		}
		if opts.MinConfidence > 0 {
			conf, _ := c.MetaFloat(MetaVisualConfidence)
			if conf < opts.MinConfidence {
				continue
			}
		}
		export.Chunks = append(export.Chunks, exportNote(c))
		export.Summary.PerPageCounts[strconv.Itoa(c.Page)]++
	}
	export.Summary.TotalExportedChunks = len(export.Chunks)

	return export
}

// WriteNotesExport writes the export as indented JSON.
func WriteNotesExport(path string, export *NotesExport) error {
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal notes export")
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// Repeat detection defaults for the notes table. Boilerplate notes repeat
// across sheets; very short strings repeat by accident.
const (
	DefaultMinOccurrences   = 2
	DefaultMinContentLength = 10

	previewMaxLen = 120
)

type repeatGroup struct {
	Occurrences int
	GroupID     string // "RN1", "RN2", ... empty when not repeated
}

// normalizeNoteText collapses whitespace so reflowed copies of the same
// note compare equal.
func normalizeNoteText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// textPreview shortens text to a single skimmable CSV cell.
func textPreview(s string, maxLen int) string {
	t := strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if utf8.RuneCountInString(t) <= maxLen {
		return t
	}
	runes := []rune(t)
	return string(runes[:maxLen-3]) + "..."
}

// buildRepeatGroups counts normalized note texts and assigns RN group ids to
// those that repeat. Group ids are ordered by occurrence count, then text,
// so reruns over the same notes produce the same ids.
func buildRepeatGroups(texts []string, minOccurrences, minLength int) map[string]repeatGroup {
	counts := map[string]int{}
	for _, t := range texts {
		counts[normalizeNoteText(t)]++
	}

	var repeated []string
	for norm, n := range counts {
		if norm == "" || n < minOccurrences || utf8.RuneCountInString(norm) < minLength {
			continue
		}
		repeated = append(repeated, norm)
	}
	slices.SortFunc(repeated, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	groups := make(map[string]repeatGroup, len(counts))
	for i, norm := range repeated {
		groups[norm] = repeatGroup{Occurrences: counts[norm], GroupID: fmt.Sprintf("RN%d", i+1)}
	}
	for norm, n := range counts {
		if _, ok := groups[norm]; !ok {
			groups[norm] = repeatGroup{Occurrences: n}
		}
	}
	return groups
}

// WriteNotesTable writes the notes as a flat CSV for inspection and tagging
// in a spreadsheet. Pass the chunks of a notes export so the table matches
// the JSON it sits next to.
func WriteNotesTable(path string, notes []ExportedNote, minOccurrences, minLength int) error {
	if minOccurrences <= 0 {
		minOccurrences = DefaultMinOccurrences
	}
	if minLength <= 0 {
		minLength = DefaultMinContentLength
	}

	texts := make([]string, len(notes))
	for i, n := range notes {
		texts[i] = n.Content
	}
	groups := buildRepeatGroups(texts, minOccurrences, minLength)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{
		"global_index", "page", "column", "visual_note_id", "visual_region",
		"is_repeated", "repeated_group_id", "repeated_occurrences",
		"text_preview", "text",
	}
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "write notes table header")
	}

	for i, n := range notes {
		info := groups[normalizeNoteText(n.Content)]
		repeated := "no"
		if info.GroupID != "" {
			repeated = "yes"
		}
		column := ""
		if n.VisualColumnIndex > 0 {
			column = strconv.Itoa(n.VisualColumnIndex)
		}
		row := []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(n.Page),
			column,
			n.VisualNoteID,
			n.VisualRegionClass,
			repeated,
			info.GroupID,
			strconv.Itoa(info.Occurrences),
			textPreview(n.Content, previewMaxLen),
			n.Content,
		}
		if err := w.Write(row); err != nil {
			return errors.Wrapf(err, "write notes table row %d", i+1)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush notes table")
	}

	return writeFileAtomic(path, buf.Bytes())
}

// StageStats summarizes one stage document for the run report.
type StageStats struct {
	Stage      string
	File       string
	Total      int
	Headers    int
	Notes      int
	TypeCounts map[Category]int
	Examples   map[Category][]string
}

// ComputeStageStats tallies chunk types on a page (0 = all pages) and keeps
// the first few texts of each type as examples.
func ComputeStageStats(stage, file string, chunks []*Chunk, page, examplesPerType int) StageStats {
	stats := StageStats{
		Stage:      stage,
		File:       file,
		TypeCounts: map[Category]int{},
		Examples:   map[Category][]string{},
	}

	for _, c := range chunks {
		if page > 0 && c.Page != page {
			continue
		}
		stats.Total++
		stats.TypeCounts[c.Type]++
		switch c.Type {
		case CategoryHeader:
			stats.Headers++
		case CategoryNoteGroup, CategoryMergedNote:
			stats.Notes++
		}

		if examplesPerType > 0 && len(stats.Examples[c.Type]) < examplesPerType {
			if text := textPreview(c.Text, previewMaxLen); text != "" {
				stats.Examples[c.Type] = append(stats.Examples[c.Type], fmt.Sprintf("`[%s]` %s", c.ID, text))
			}
		}
	}

	return stats
}

// sortedTypes returns the stage's categories by count descending, name
// ascending, the order a reader scans first.
func sortedTypes(counts map[Category]int) []Category {
	types := make([]Category, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	slices.SortFunc(types, func(a, b Category) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(string(a), string(b))
	})
	return types
}

// RenderRunReport renders per-stage statistics as a Markdown document.
func RenderRunReport(runID string, page int, stats []StageStats) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run report: %s\n\n", runID)
	if page > 0 {
		fmt.Fprintf(&b, "Page filter: %d\n\n", page)
	}

	for _, st := range stats {
		fmt.Fprintf(&b, "## %s (`%s`)\n\n", st.Stage, st.File)
		fmt.Fprintf(&b, "- Total chunks: **%d**\n", st.Total)
		fmt.Fprintf(&b, "- Headers: **%d**\n", st.Headers)
		fmt.Fprintf(&b, "- Notes: **%d**\n\n", st.Notes)

		if len(st.TypeCounts) > 0 {
			b.WriteString("Type counts:\n\n")
			for _, t := range sortedTypes(st.TypeCounts) {
				fmt.Fprintf(&b, "- `%s`: %d\n", t, st.TypeCounts[t])
			}
			b.WriteString("\n")
		}

		var exampleTypes []Category
		for t, ex := range st.Examples {
			if len(ex) > 0 {
				exampleTypes = append(exampleTypes, t)
			}
		}
		if len(exampleTypes) > 0 {
			slices.SortFunc(exampleTypes, func(a, b Category) int {
				return cmp.Compare(string(a), string(b))
			})
			b.WriteString("Examples:\n\n")
			for _, t := range exampleTypes {
				for _, ex := range st.Examples[t] {
					fmt.Fprintf(&b, "- `%s` %s\n", t, ex)
				}
			}
			b.WriteString("\n")
		}
	}

	return []byte(b.String())
}

// BuildRunReport re-reads every stage file of a finished run and renders the
// report. Reading from disk keeps the report honest: it describes what the
// run wrote, not what was in memory.
func BuildRunReport(result *RunResult, page, examplesPerType int) ([]byte, error) {
	stats := make([]StageStats, 0, len(result.Stages))
	for _, st := range result.Stages {
		sf, err := ReadStage(filepath.Join(result.RunDir, st.File))
		if err != nil {
			return nil, errors.Wrapf(err, "read stage %s for report", st.Stage)
		}
		stats = append(stats, ComputeStageStats(st.Stage, st.File, sf.Chunks, page, examplesPerType))
	}
	return RenderRunReport(result.RunID, page, stats), nil
}

// WriteRunExports writes the downstream export set next to a finished run
// and publishes it to the latest view: notes.json, notes_table.csv, and
// stage_report.md. Returns the paths written in the run directory.
func WriteRunExports(result *RunResult, source string, opts NotesExportOptions) ([]string, error) {
	export := BuildNotesExport(source, result.Chunks, opts)

	notesPath := filepath.Join(result.RunDir, NotesExportFile)
	if err := WriteNotesExport(notesPath, export); err != nil {
		return nil, err
	}

	tablePath := filepath.Join(result.RunDir, NotesTableFile)
	if err := WriteNotesTable(tablePath, export.Chunks, DefaultMinOccurrences, DefaultMinContentLength); err != nil {
		return nil, err
	}

	report, err := BuildRunReport(result, opts.Page, 5)
	if err != nil {
		return nil, err
	}
	reportPath := filepath.Join(result.RunDir, StageReportFile)
	if err := writeFileAtomic(reportPath, report); err != nil {
		return nil, err
	}

	files := []string{notesPath, tablePath, reportPath}
	rc := &RunContext{RunID: result.RunID, RunDir: result.RunDir, LatestDir: result.LatestDir}
	if err := publishLatest(rc, files); err != nil {
		return nil, err
	}
	return files, nil
}
