package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/sheetwise/notelayout"
)

func main() {
	exportsDir, err := os.MkdirTemp("", "notelayout-example-*")
	if err != nil {
		log.Fatal(err)
	}

	cfg := notelayout.DefaultPipelineConfig()
	cfg.ExportsDir = exportsDir

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	pipeline := notelayout.NewPipeline(cfg, logger)

	result, err := pipeline.RunSource(context.Background(), demoSheet(), nil, "demo-sheet")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Run %s finished\n\n", result.RunID)
	for _, st := range result.Stages {
		fmt.Printf("  %-16s %3d chunks  (%d changed)\n", st.Stage, st.Chunks, st.Changed)
	}

	fmt.Println("\nReconstructed layout:")
	for _, c := range result.Chunks {
		fmt.Printf("  [%-10s] %s\n", c.Type, c.Text)
	}

	files, err := notelayout.WriteRunExports(result, "demo-sheet", notelayout.NotesExportOptions{})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("\nExports:")
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}
}

// demoSheet builds a small notes column the way it would arrive from a page
// source: a section title, a two-line wrapped note, a second note further
// down, and a cross-reference in the right column.
func demoSheet() notelayout.StaticSource {
	box := func(x0, y0, x1, y1 float64) notelayout.Rect {
		return notelayout.Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}
	}
	return notelayout.StaticSource{{
		Number: 1,
		Width:  612,
		Height: 792,
		Fragments: []notelayout.Fragment{
			{Text: "GENERAL NOTES:", Box: box(60, 72, 204, 86)},
			{Text: "1. ALL DIMENSIONS ARE IN MILLIMETERS UNLESS", Box: box(60, 100, 298, 112)},
			{Text: "NOTED OTHERWISE.", Box: box(72, 116, 160, 128)},
			{Text: "2. VERIFY ALL DIMENSIONS IN FIELD PRIOR TO", Box: box(60, 180, 295, 192)},
			{Text: "FABRICATION OF ANY STRUCTURAL MEMBERS.", Box: box(72, 196, 290, 208)},
			{Text: "SEE SHEET S-501 FOR TYPICAL WELD DETAILS.", Box: box(360, 100, 580, 112)},
		},
	}}
}
