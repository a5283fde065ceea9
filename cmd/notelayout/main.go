package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/klippa-app/go-pdfium/webassembly"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/sheetwise/notelayout"
)

func main() {
	cmd := &cli.Command{
		Name:  "notelayout",
		Usage: "Reconstruct columns, headers, and notes from plan sheet text",
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
			exportCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		color.Red("FAIL: %v", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	merge := notelayout.DefaultMergeConfig()
	stitch := notelayout.DefaultStitchConfig()
	banner := notelayout.DefaultBannerConfig()
	tighten := notelayout.DefaultTightenConfig()

	return &cli.Command{
		Name:  "run",
		Usage: "Run the full layout pipeline over a PDF or stage JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Input file: a PDF or a stage JSON document",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Pipeline config YAML; flags override its values",
			},
			&cli.StringFlag{
				Name:  "regions",
				Usage: "Visual overlay regions JSON (bare list or {\"regions\": [...]})",
			},
			&cli.IntFlag{
				Name:    "page",
				Aliases: []string{"p"},
				Usage:   "Restrict the run to one 1-based page (0 = all pages)",
			},
			&cli.StringFlag{
				Name:  "exports-dir",
				Usage: "Root directory for Runs/ and MostRecent/",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Page-level parallelism inside each stage",
			},
			&cli.BoolFlag{
				Name:  "standard-mask",
				Usage: "Mask the standard legend and title block bands (PDF input only)",
			},
			&cli.StringFlag{
				Name:  "header-keyword",
				Usage: "Section keyword for header tagging, promotion, and banner splitting",
				Value: notelayout.DefaultHeaderConfig().Keyword,
			},
			&cli.FloatFlag{
				Name:  "max-gap",
				Usage: "Merge: largest vertical gap that still reads as one note",
				Value: merge.MaxGap,
			},
			&cli.FloatFlag{
				Name:  "min-overlap",
				Usage: "Merge: minimum horizontal overlap ratio",
				Value: merge.MinOverlap,
			},
			&cli.FloatFlag{
				Name:  "x-bin-tol",
				Usage: "Merge: left-edge column binning tolerance",
				Value: merge.XBinTolerance,
			},
			&cli.FloatFlag{
				Name:  "x-shift-hard",
				Usage: "Merge: hard ceiling on left-edge shift within a group",
				Value: merge.XShiftHard,
			},
			&cli.FloatFlag{
				Name:  "header-overlap-thresh",
				Usage: "Merge: horizontal overlap at which a header blocks merging",
				Value: merge.HeaderOverlap,
			},
			&cli.FloatFlag{
				Name:  "min-banner-width",
				Usage: "Banner split: narrowest header treated as a banner",
				Value: banner.MinBannerWidth,
			},
			&cli.FloatFlag{
				Name:  "split-gap",
				Usage: "Banner split: gutter between adjacent slices",
				Value: banner.SplitGap,
			},
			&cli.FloatFlag{
				Name:  "edge-inset",
				Usage: "Banner split: inset applied to both ends of each slice",
				Value: banner.EdgeInset,
			},
			&cli.FloatFlag{
				Name:  "min-child-overlap",
				Usage: "Tighten: intersection/child-area ratio for a child to count",
				Value: tighten.MinChildOverlap,
			},
			&cli.FloatFlag{
				Name:  "pad",
				Usage: "Tighten: padding applied around tightened rectangles",
				Value: tighten.Pad,
			},
			&cli.FloatFlag{
				Name:  "stitch-max-gap",
				Usage: "Stitch: largest vertical gap for a continuation line",
				Value: stitch.MaxGap,
			},
			&cli.FloatFlag{
				Name:  "stitch-min-overlap",
				Usage: "Stitch: minimum horizontal overlap for a continuation line",
				Value: stitch.MinOverlap,
			},
			&cli.FloatFlag{
				Name:  "x0-tolerance",
				Usage: "Stitch: left-edge column clustering tolerance",
				Value: stitch.X0Tolerance,
			},
			&cli.BoolFlag{
				Name:  "notes-only",
				Usage: "Export only note-like chunks in notes.json",
			},
			&cli.FloatFlag{
				Name:  "min-confidence",
				Usage: "Export: minimum visual confidence for notes.json",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Action: runPipeline,
	}
}

// applyFlags overrides config values with explicitly set flags, so a config
// file and flags compose: file first, flags win.
func applyFlags(cmd *cli.Command, cfg *notelayout.PipelineConfig) {
	if cmd.IsSet("page") {
		cfg.Page = int(cmd.Int("page"))
	}
	if cmd.IsSet("exports-dir") {
		cfg.ExportsDir = cmd.String("exports-dir")
	}
	if cmd.IsSet("workers") {
		cfg.Workers = int(cmd.Int("workers"))
	}
	if cmd.IsSet("header-keyword") {
		keyword := cmd.String("header-keyword")
		cfg.Header.Keyword = keyword
		cfg.Promote.Keyword = keyword
		cfg.Banner.Keyword = keyword
	}
	if cmd.IsSet("max-gap") {
		cfg.Merge.MaxGap = cmd.Float("max-gap")
	}
	if cmd.IsSet("min-overlap") {
		cfg.Merge.MinOverlap = cmd.Float("min-overlap")
	}
	if cmd.IsSet("x-bin-tol") {
		cfg.Merge.XBinTolerance = cmd.Float("x-bin-tol")
	}
	if cmd.IsSet("x-shift-hard") {
		cfg.Merge.XShiftHard = cmd.Float("x-shift-hard")
	}
	if cmd.IsSet("header-overlap-thresh") {
		cfg.Merge.HeaderOverlap = cmd.Float("header-overlap-thresh")
	}
	if cmd.IsSet("min-banner-width") {
		cfg.Banner.MinBannerWidth = cmd.Float("min-banner-width")
	}
	if cmd.IsSet("split-gap") {
		cfg.Banner.SplitGap = cmd.Float("split-gap")
	}
	if cmd.IsSet("edge-inset") {
		cfg.Banner.EdgeInset = cmd.Float("edge-inset")
	}
	if cmd.IsSet("min-child-overlap") {
		v := cmd.Float("min-child-overlap")
		cfg.Tighten.MinChildOverlap = v
		cfg.HeaderTighten.MinChildOverlap = v
	}
	if cmd.IsSet("pad") {
		v := cmd.Float("pad")
		cfg.Tighten.Pad = v
		cfg.HeaderTighten.Pad = v
	}
	if cmd.IsSet("stitch-max-gap") {
		cfg.Stitch.MaxGap = cmd.Float("stitch-max-gap")
	}
	if cmd.IsSet("stitch-min-overlap") {
		cfg.Stitch.MinOverlap = cmd.Float("stitch-min-overlap")
	}
	if cmd.IsSet("x0-tolerance") {
		cfg.Stitch.X0Tolerance = cmd.Float("x0-tolerance")
	}
}

func runPipeline(ctx context.Context, cmd *cli.Command) error {
	input := cmd.String("input")

	cfg := notelayout.DefaultPipelineConfig()
	if path := cmd.String("config"); path != "" {
		loaded, err := notelayout.LoadPipelineConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyFlags(cmd, &cfg)

	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var regions []notelayout.Region
	if path := cmd.String("regions"); path != "" {
		loaded, err := notelayout.LoadRegions(path)
		if err != nil {
			return err
		}
		regions = loaded
	}

	var chunks []*notelayout.Chunk
	if strings.EqualFold(filepath.Ext(input), ".pdf") {
		pages, err := extractPDF(input)
		if err != nil {
			return err
		}
		chunks = notelayout.ChunksFromPages(pages)
		if cmd.Bool("standard-mask") {
			for _, p := range pages {
				regions = append(regions, notelayout.StandardMaskRegions(p.Number, p.Width, p.Height)...)
			}
		}
	} else {
		sf, err := notelayout.ReadStage(input)
		if err != nil {
			return err
		}
		chunks = sf.Chunks
		if cmd.Bool("standard-mask") {
			color.Yellow("--standard-mask needs page dimensions and only works with PDF input; skipping")
		}
	}

	start := time.Now()
	result, err := notelayout.NewPipeline(cfg, logger).Run(ctx, chunks, regions, input)
	if err != nil {
		return err
	}

	for _, st := range result.Stages {
		color.Green("OK %-16s %5d chunks  %s", st.Stage, st.Chunks, st.File)
	}

	files, err := notelayout.WriteRunExports(result, input, notelayout.NotesExportOptions{
		Page:          cfg.Page,
		NotesOnly:     cmd.Bool("notes-only"),
		MinConfidence: cmd.Float("min-confidence"),
	})
	if err != nil {
		return err
	}
	for _, f := range files {
		color.Green("OK export           %s", filepath.Base(f))
	}

	color.Green("Run %s complete in %s", result.RunID, time.Since(start).Round(time.Millisecond))
	fmt.Printf("Run directory:  %s\n", result.RunDir)
	fmt.Printf("Latest view:    %s\n", result.LatestDir)
	return nil
}

// extractPDF pulls text line fragments out of every page of a PDF with a
// single-instance pdfium pool.
func extractPDF(path string) ([]notelayout.SourcePage, error) {
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise pdfium: %w", err)
	}
	defer pool.Close()

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		return nil, fmt.Errorf("failed to get pdfium instance: %w", err)
	}

	extractor := notelayout.NewExtractor(instance)

	info, err := extractor.DocumentInfo(path)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Processing PDF with %d pages...\n", info.PageCount)

	bar := pageBar(info.PageCount, "Extracting pages...")
	extractor.Progress = func(page, total int) {
		bar.Add(1)
	}

	pages, err := extractor.PagesFromFile(path)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return pages, nil
}

func pageBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)
}

func validateCommand() *cli.Command {
	validate := notelayout.DefaultValidateConfig()

	return &cli.Command{
		Name:  "validate",
		Usage: "Check a stage JSON document against the stage contract",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Stage JSON document to validate",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "page",
				Aliases: []string{"p"},
				Usage:   "Validate a single 1-based page (0 = all pages)",
			},
			&cli.BoolFlag{
				Name:  "strict-bbox",
				Usage: "Require the canonical object bbox encoding",
			},
			&cli.BoolFlag{
				Name:  "strict-root",
				Usage: "Require the wrapped {\"chunks\": [...]} root",
			},
			&cli.FloatFlag{
				Name:  "containment",
				Usage: "Header-inside-note containment threshold (0 disables)",
				Value: validate.HeaderContainment,
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			input := cmd.String("input")
			stage := filepath.Base(input)

			sf, err := notelayout.ReadStage(input)
			if err != nil {
				return err
			}

			cfg := notelayout.DefaultValidateConfig()
			cfg.RequireObjectBBox = cmd.Bool("strict-bbox")
			cfg.RequireWrappedRoot = cmd.Bool("strict-root")

			stats, err := notelayout.ValidateStage(stage, sf, int(cmd.Int("page")), cfg)
			if err != nil {
				return err
			}
			if ratio := cmd.Float("containment"); ratio > 0 {
				if err := notelayout.CheckHeaderContainment(stage, sf.Chunks, ratio); err != nil {
					return err
				}
			}

			color.Green("OK %s: %d/%d chunks validated", stage, stats.Validated, stats.Total)
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write notes JSON, CSV table, and a Markdown report from a stage file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Stage JSON document, normally a run's final.json",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "out-dir",
				Aliases: []string{"o"},
				Usage:   "Directory for notes.json, notes_table.csv, stage_report.md",
				Value:   "exports",
			},
			&cli.IntFlag{
				Name:    "page",
				Aliases: []string{"p"},
				Usage:   "Export a single 1-based page (0 = all pages)",
			},
			&cli.BoolFlag{
				Name:  "notes-only",
				Usage: "Export only note-like chunks",
			},
			&cli.FloatFlag{
				Name:  "min-confidence",
				Usage: "Minimum visual confidence (e.g. 0.7)",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			input := cmd.String("input")
			outDir := cmd.String("out-dir")
			stage := filepath.Base(input)

			sf, err := notelayout.ReadStage(input)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			opts := notelayout.NotesExportOptions{
				Page:          int(cmd.Int("page")),
				NotesOnly:     cmd.Bool("notes-only"),
				MinConfidence: cmd.Float("min-confidence"),
			}
			export := notelayout.BuildNotesExport(input, sf.Chunks, opts)

			notesPath := filepath.Join(outDir, notelayout.NotesExportFile)
			if err := notelayout.WriteNotesExport(notesPath, export); err != nil {
				return err
			}

			tablePath := filepath.Join(outDir, notelayout.NotesTableFile)
			if err := notelayout.WriteNotesTable(tablePath, export.Chunks, 0, 0); err != nil {
				return err
			}

			stats := notelayout.ComputeStageStats(stage, stage, sf.Chunks, opts.Page, 5)
			report := notelayout.RenderRunReport(stage, opts.Page, []notelayout.StageStats{stats})
			reportPath := filepath.Join(outDir, notelayout.StageReportFile)
			if err := os.WriteFile(reportPath, report, 0o644); err != nil {
				return err
			}

			color.Green("OK exported %d chunks", export.Summary.TotalExportedChunks)
			for _, p := range []string{notesPath, tablePath, reportPath} {
				fmt.Println(p)
			}
			return nil
		},
	}
}
