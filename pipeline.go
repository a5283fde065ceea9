package notelayout

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Stage names, used in provenance records, logs, and error messages.
const (
	StageIngest         = "ingest"
	StageMaskNoise      = "mask_noise"
	StageTagHeaders     = "tag_headers"
	StagePromoteHeaders = "promote_headers"
	StageTightenGroups  = "tighten_groups"
	StageSplitBanners   = "split_banners"
	StageTightenHeaders = "tighten_headers"
	StageMerge          = "merge_notes"
	StageTrimGroups     = "trim_groups"
	StageStitch         = "stitch_notes"
	StageFinalize       = "finalize"
)

// PipelineConfig aggregates every stage's thresholds plus run-level settings.
// No stage reads a package-level constant: everything tunable lives here and
// is recorded in output metadata for reproducibility.
type PipelineConfig struct {
	// Page restricts the run to one 1-based page; 0 processes all pages.
	Page int `yaml:"page"`
	// ExportsDir is the root under which Runs/ and MostRecent/ live.
	ExportsDir string `yaml:"exports_dir"`
	// Workers enables page-level parallelism inside each stage when > 1.
	// Pages are independent, so stages fan out per page and concatenate
	// results in page order.
	Workers int `yaml:"workers"`

	Mask          MaskConfig     `yaml:"mask"`
	Header        HeaderConfig   `yaml:"header"`
	Promote       PromoteConfig  `yaml:"promote"`
	Tighten       TightenConfig  `yaml:"tighten"`
	HeaderTighten TightenConfig  `yaml:"header_tighten"`
	Banner        BannerConfig   `yaml:"banner"`
	Merge         MergeConfig    `yaml:"merge"`
	Trim          TrimConfig     `yaml:"trim"`
	Stitch        StitchConfig   `yaml:"stitch"`
	Validate      ValidateConfig `yaml:"validate"`
}

// DefaultPipelineConfig returns the production thresholds for every stage.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ExportsDir:    "exports",
		Workers:       1,
		Mask:          DefaultMaskConfig(),
		Header:        DefaultHeaderConfig(),
		Promote:       DefaultPromoteConfig(),
		Tighten:       DefaultTightenConfig(),
		HeaderTighten: HeaderTightenConfig(),
		Banner:        DefaultBannerConfig(),
		Merge:         DefaultMergeConfig(),
		Trim:          DefaultTrimConfig(),
		Stitch:        DefaultStitchConfig(),
		Validate:      DefaultValidateConfig(),
	}
}

// LoadPipelineConfig reads a YAML config file over the defaults, so a config
// file only needs to name the thresholds it changes.
func LoadPipelineConfig(path string) (PipelineConfig, error) {
	cfg := DefaultPipelineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// latestDirName is the stable "latest view" directory under the exports root.
// It is never renamed or moved, only refreshed in place.
const latestDirName = "MostRecent"

var runIDRe = regexp.MustCompile(`^\d{8}_\d{5}$`)

// RunContext identifies one pipeline run: a fresh directory under Runs/ named
// <YYYYMMDD>_<seq> and the shared latest-view directory.
type RunContext struct {
	RunID     string
	RunDir    string
	LatestDir string
	Created   time.Time
}

// NewRunContext allocates the next run directory for today (UTC) and cleans
// the latest view. Directory creation is the collision check: if two runs
// race for the same id, the loser bumps the sequence and retries.
func NewRunContext(exportsDir string) (*RunContext, error) {
	runsDir := filepath.Join(exportsDir, "Runs")
	latest := filepath.Join(exportsDir, latestDirName)
	for _, dir := range []string{runsDir, latest} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}

	now := time.Now().UTC()
	today := now.Format("20060102")
	seq := nextRunSeq(runsDir, today)

	var runID, runDir string
	for {
		runID = fmt.Sprintf("%s_%05d", today, seq)
		runDir = filepath.Join(runsDir, runID)
		err := os.Mkdir(runDir, 0o755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, errors.Wrapf(err, "create run dir %s", runDir)
		}
		seq++
	}

	if err := cleanLatest(latest); err != nil {
		return nil, err
	}

	return &RunContext{RunID: runID, RunDir: runDir, LatestDir: latest, Created: now}, nil
}

// nextRunSeq scans existing run directories and returns one past today's
// highest sequence number.
func nextRunSeq(runsDir, today string) int {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return 1
	}
	maxSeq := 0
	for _, e := range entries {
		if !e.IsDir() || !runIDRe.MatchString(e.Name()) {
			continue
		}
		if !strings.HasPrefix(e.Name(), today+"_") {
			continue
		}
		if n, err := strconv.Atoi(e.Name()[9:]); err == nil && n > maxSeq {
			maxSeq = n
		}
	}
	return maxSeq + 1
}

// cleanLatest removes pipeline artifacts from the latest view so stale files
// from an older run can never masquerade as current output. The manifest and
// any subdirectories are kept.
func cleanLatest(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "read latest dir %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == "run_manifest.json" {
			continue
		}
		name := strings.ToLower(e.Name())
		stale := strings.HasPrefix(name, "stage") && strings.HasSuffix(name, ".json") ||
			name == "final.json" || name == "notes.json" ||
			name == "notes_table.csv" || name == "stage_report.md" ||
			strings.HasPrefix(name, "overlay") ||
			strings.Contains(name, "__")
		if !stale {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return errors.Wrapf(err, "clean latest file %s", e.Name())
		}
	}
	return nil
}

// RunManifest records what a run processed and where its outputs live.
type RunManifest struct {
	RunID      string `json:"run_id"`
	CreatedUTC string `json:"created_utc"`
	RunDir     string `json:"run_dir"`
	LatestDir  string `json:"most_recent"`
	Input      string `json:"input,omitempty"`
	Page       int    `json:"page,omitempty"`
}

// WriteManifest writes run_manifest.json into both the run directory and the
// latest view, so the run is identifiable even if later stages fail.
func (rc *RunContext) WriteManifest(input string, page int) error {
	m := RunManifest{
		RunID:      rc.RunID,
		CreatedUTC: rc.Created.Format(time.RFC3339),
		RunDir:     rc.RunDir,
		LatestDir:  rc.LatestDir,
		Input:      input,
		Page:       page,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal run manifest")
	}
	data = append(data, '\n')
	for _, dir := range []string{rc.RunDir, rc.LatestDir} {
		if err := writeFileAtomic(filepath.Join(dir, "run_manifest.json"), data); err != nil {
			return err
		}
	}
	return nil
}

// stampedName inserts the run id before the extension: stage3_notes_merged.json
// becomes stage3_notes_merged__20260825_00001.json.
func stampedName(filename, runID string) string {
	ext := filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext) + "__" + runID + ext
}

// publishLatest copies run artifacts into the latest view. Run-stamped copies
// are written first, canonical names second: if a canonical overwrite fails
// (a viewer holding the file open), the stamped copies already landed.
func publishLatest(rc *RunContext, files []string) error {
	copyTo := func(dst, src string) error {
		data, err := os.ReadFile(src)
		if err != nil {
			return errors.Wrapf(err, "read %s for publish", src)
		}
		return writeFileAtomic(dst, data)
	}
	for _, f := range files {
		base := filepath.Base(f)
		if err := copyTo(filepath.Join(rc.LatestDir, stampedName(base, rc.RunID)), f); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := copyTo(filepath.Join(rc.LatestDir, filepath.Base(f)), f); err != nil {
			return err
		}
	}
	return nil
}

// StageResult summarizes one executed stage.
type StageResult struct {
	Stage    string        `json:"stage"`
	File     string        `json:"file"`
	Chunks   int           `json:"chunks"`
	Changed  int           `json:"changed"`
	Duration time.Duration `json:"duration"`
}

// RunResult is the outcome of a successful pipeline run.
type RunResult struct {
	RunID     string
	RunDir    string
	LatestDir string
	Stages    []StageResult
	Chunks    []*Chunk
	FinalFile string
}

// stageFunc transforms a chunk collection and reports how many chunks it
// changed (tagged, merged, masked, and so on).
type stageFunc func([]*Chunk) ([]*Chunk, int, error)

// pipelineStage binds a stage name to its output file and transformation.
// check, when set, runs against the stage's re-read output.
type pipelineStage struct {
	name  string
	file  string
	fn    stageFunc
	check func([]*Chunk) error
}

// Pipeline executes the fixed stage order against a chunk collection,
// persisting and validating every intermediate stage file.
type Pipeline struct {
	cfg PipelineConfig
	log *slog.Logger
}

// NewPipeline builds a pipeline. A nil logger falls back to slog.Default.
func NewPipeline(cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, log: logger}
}

// RunFile loads a stage document from disk and runs the pipeline on it.
func (p *Pipeline) RunFile(ctx context.Context, inputPath string, regions []Region) (*RunResult, error) {
	sf, err := ReadStage(inputPath)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, sf.Chunks, regions, inputPath)
}

// RunSource drains a page source and runs the pipeline over its chunks.
func (p *Pipeline) RunSource(ctx context.Context, src PageSource, regions []Region, inputName string) (*RunResult, error) {
	pages, err := src.Pages()
	if err != nil {
		return nil, errors.Wrap(err, "reading page source")
	}
	return p.Run(ctx, ChunksFromPages(pages), regions, inputName)
}

// Run executes every stage in order against the input chunks. After each
// stage the output file must exist and validate; after the merge stage no
// header may sit ≥ the configured ratio inside a note rectangle. The first
// violation aborts the run, and nothing is published to the latest view
// unless every stage succeeded.
func (p *Pipeline) Run(ctx context.Context, input []*Chunk, regions []Region, inputName string) (*RunResult, error) {
	rc, err := NewRunContext(p.cfg.ExportsDir)
	if err != nil {
		return nil, err
	}
	if err := rc.WriteManifest(inputName, p.cfg.Page); err != nil {
		return nil, err
	}
	p.log.Info("run started",
		slog.String("run_id", rc.RunID),
		slog.String("input", inputName),
		slog.Int("chunks", len(input)),
		slog.Int("page", p.cfg.Page))

	chunks := input
	if p.cfg.Page > 0 {
		chunks = filterPage(chunks, p.cfg.Page)
	}

	result := &RunResult{RunID: rc.RunID, RunDir: rc.RunDir, LatestDir: rc.LatestDir}
	var files []string

	for _, st := range p.stages(regions) {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "run %s aborted before stage %s", rc.RunID, st.name)
		}

		start := time.Now()
		out, changed, err := p.applyStage(chunks, st.fn)
		if err != nil {
			return nil, errors.Wrapf(err, "stage %s", st.name)
		}

		path := filepath.Join(rc.RunDir, st.file)
		if err := WriteStage(path, NewStageFile(out)); err != nil {
			return nil, errors.Wrapf(err, "stage %s", st.name)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "stage %s: output missing after write", st.name)
		}

		// Validate what actually landed on disk, not the in-memory view, and
		// feed the re-read chunks forward so every stage consumes exactly
		// what the file contract carries.
		reread, err := ReadStage(path)
		if err != nil {
			return nil, errors.Wrapf(err, "stage %s: re-read output", st.name)
		}
		if _, err := ValidateStage(st.name, reread, p.cfg.Page, p.cfg.Validate); err != nil {
			return nil, err
		}
		if st.check != nil {
			if err := st.check(reread.Chunks); err != nil {
				return nil, err
			}
		}

		chunks = reread.Chunks
		files = append(files, path)
		dur := time.Since(start)
		result.Stages = append(result.Stages, StageResult{
			Stage: st.name, File: st.file, Chunks: len(chunks), Changed: changed, Duration: dur,
		})
		p.log.Info("stage complete",
			slog.String("stage", st.name),
			slog.Int("chunks", len(chunks)),
			slog.Int("changed", changed),
			slog.Duration("duration", dur))
	}

	files = append(files, filepath.Join(rc.RunDir, "run_manifest.json"))
	if err := publishLatest(rc, files); err != nil {
		return nil, err
	}

	result.Chunks = chunks
	result.FinalFile = filepath.Join(rc.RunDir, "final.json")
	p.log.Info("run complete",
		slog.String("run_id", rc.RunID),
		slog.Int("chunks", len(chunks)),
		slog.String("final", result.FinalFile))
	return result, nil
}

// stages builds the fixed stage order with the configured thresholds.
func (p *Pipeline) stages(regions []Region) []pipelineStage {
	masker := NewNoiseMasker(p.cfg.Mask)
	classifier := NewHeaderClassifier(p.cfg.Header)
	splitter := NewBannerSplitter(p.cfg.Banner)
	merger := NewFragmentMerger(p.cfg.Merge)
	stitcher := NewPostMergeStitcher(p.cfg.Stitch)

	return []pipelineStage{
		{name: StageIngest, file: "stage0_base.json", fn: func(cs []*Chunk) ([]*Chunk, int, error) {
			n := AttachRegions(cs, regions)
			return cs, n, nil
		}},
		{name: StageMaskNoise, file: "stage0b_noise_masked.json", fn: func(cs []*Chunk) ([]*Chunk, int, error) {
			n, err := masker.Mask(cs, regions)
			return cs, n, err
		}},
		{name: StageTagHeaders, file: "stage1_headers_tagged.json", fn: func(cs []*Chunk) ([]*Chunk, int, error) {
			n, err := TagHeaders(cs, classifier)
			return cs, n, err
		}},
		{name: StagePromoteHeaders, file: "stage1b_headers_promoted.json", fn: func(cs []*Chunk) ([]*Chunk, int, error) {
			n, err := PromoteHeaders(cs, p.cfg.Promote)
			return cs, n, err
		}},
		{name: StageTightenGroups, file: "stage1c_groups_tight.json", fn: func(cs []*Chunk) ([]*Chunk, int, error) {
			return cs, TightenGroups(cs, p.cfg.Tighten), nil
		}},
		{name: StageSplitBanners, file: "stage2_headers_split.json", fn: func(cs []*Chunk) ([]*Chunk, int, error) {
			out, n := splitter.SplitBanners(cs)
			return out, n, nil
		}},
		{name: StageTightenHeaders, file: "stage2b_headers_split_tight.json", fn: func(cs []*Chunk) ([]*Chunk, int, error) {
			return cs, TightenGroups(cs, p.cfg.HeaderTighten), nil
		}},
		{name: StageMerge, file: "stage3_notes_merged.json", fn: merger.Merge, check: func(cs []*Chunk) error {
			return CheckHeaderContainment(StageMerge, cs, p.cfg.Validate.HeaderContainment)
		}},
		{name: StageTrimGroups, file: "stage3b_groups_trimmed.json", fn: func(cs []*Chunk) ([]*Chunk, int, error) {
			return cs, TrimGroupsUnderHeaders(cs, p.cfg.Trim), nil
		}},
		{name: StageStitch, file: "stage4_notes_stitched.json", fn: stitcher.Stitch},
		{name: StageFinalize, file: "final.json", fn: finalize},
	}
}

// applyStage runs a stage, fanning out per page when workers allow. Pages are
// independent by construction, so results are simply concatenated back in
// page order.
func (p *Pipeline) applyStage(chunks []*Chunk, fn stageFunc) ([]*Chunk, int, error) {
	pages := PageNumbers(chunks)
	if p.cfg.Workers <= 1 || len(pages) <= 1 {
		return fn(chunks)
	}

	byPage := ByPage(chunks)
	sem := make(chan struct{}, p.cfg.Workers)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outs     = make(map[int][]*Chunk, len(pages))
		total    int
		firstErr error
	)
	for _, page := range pages {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out, n, err := fn(byPage[page])
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "page %d", page)
				return
			}
			outs[page] = out
			total += n
		}(page)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, 0, firstErr
	}

	var merged []*Chunk
	for _, page := range pages {
		merged = append(merged, outs[page]...)
	}
	return merged, total, nil
}

// finalize drops masked noise from the collection and orders what remains by
// page and reading position. Masked chunks stay visible in every intermediate
// stage file; only the final output omits them.
func finalize(chunks []*Chunk) ([]*Chunk, int, error) {
	out := make([]*Chunk, 0, len(chunks))
	dropped := 0
	for _, c := range chunks {
		if c.Type == CategoryMaskedNoise {
			dropped++
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b *Chunk) int {
		if v := cmp.Compare(a.Page, b.Page); v != 0 {
			return v
		}
		if v := cmp.Compare(a.Rect.Y0, b.Rect.Y0); v != 0 {
			return v
		}
		return cmp.Compare(a.Rect.X0, b.Rect.X0)
	})
	return out, dropped, nil
}

// filterPage keeps only the chunks on the given 1-based page.
func filterPage(chunks []*Chunk, page int) []*Chunk {
	out := make([]*Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Page == page {
			out = append(out, c)
		}
	}
	return out
}
