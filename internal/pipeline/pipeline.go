// Package pipeline runs a document through parsing, region classification,
// segmentation, translation, typesetting and reconstruction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pdf-translator/internal/config"
	"pdf-translator/internal/document"
	"pdf-translator/internal/layout"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/rebuild"
	"pdf-translator/internal/segment"
	"pdf-translator/internal/translate"
	"pdf-translator/internal/typeset"
)

// Input is a document to translate.
type Input struct {
	// Name identifies the document in logs and the report.
	Name string
	Data []byte
}

// Translator is the main controller of a translation run. It is safe to
// call Status concurrently with Translate; runs themselves should not overlap.
type Translator struct {
	cfg        *config.Config
	classifier layout.Classifier
	rasterizer layout.Rasterizer
	backend    translate.Backend
	cache      *translate.Cache
	fonts      *typeset.FontRegistry
	segOpts    segment.Options
	progress   ProgressFunc
	closers    []func() error

	mu     sync.RWMutex
	status Status
}

// Option customizes a Translator.
type Option func(*Translator)

// WithClassifier replaces the configured region classifier.
func WithClassifier(c layout.Classifier) Option {
	return func(t *Translator) { t.classifier = c }
}

// WithRasterizer replaces the configured rasterizer.
func WithRasterizer(r layout.Rasterizer) Option {
	return func(t *Translator) { t.rasterizer = r }
}

// WithBackend replaces the OpenAI backend.
func WithBackend(b translate.Backend) Option {
	return func(t *Translator) { t.backend = b }
}

// WithCache replaces the configured translation cache.
func WithCache(c *translate.Cache) Option {
	return func(t *Translator) { t.cache = c }
}

// WithFontRegistry replaces the registry built from the configured fonts.
func WithFontRegistry(r *typeset.FontRegistry) Option {
	return func(t *Translator) { t.fonts = r }
}

// WithProgress registers a status callback.
func WithProgress(fn ProgressFunc) Option {
	return func(t *Translator) { t.progress = fn }
}

// New creates a Translator from cfg. Components not supplied as options are
// built from the configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Translator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	t := &Translator{cfg: cfg, status: Status{Stage: StageIdle}}
	for _, opt := range opts {
		opt(t)
	}

	var err error
	if t.segOpts, err = segmentOptions(cfg); err != nil {
		return nil, err
	}

	if t.classifier == nil {
		if t.classifier, err = newClassifier(cfg); err != nil {
			t.Close()
			return nil, err
		}
		if c, ok := t.classifier.(interface{ Close() error }); ok {
			t.closers = append(t.closers, c.Close)
		}
	}

	if t.rasterizer == nil {
		kind := cfg.Classifier.Rasterizer
		if cfg.Classifier.Kind == "rules" {
			// the rule classifier reads page content, not pixels
			kind = "vector"
		}
		if t.rasterizer, err = layout.NewRasterizer(kind, 0); err != nil {
			t.Close()
			return nil, err
		}
		if c, ok := t.rasterizer.(interface{ Cleanup() }); ok {
			t.closers = append(t.closers, func() error { c.Cleanup(); return nil })
		}
	}

	if t.backend == nil {
		if cfg.OpenAI.APIKey == "" {
			t.Close()
			return nil, fmt.Errorf("OpenAI API key is not configured (set %s)", config.EnvOpenAIAPIKey)
		}
		t.backend, err = translate.NewOpenAIBackend(ctx, translate.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: time.Duration(cfg.Translation.TimeoutSec) * time.Second,
			QPS:     cfg.Translation.QPS,
		})
		if err != nil {
			t.Close()
			return nil, err
		}
	}

	if t.cache == nil {
		path := cfg.Translation.CachePath
		if cfg.Translation.CacheBackend == config.CacheMemory {
			path = ""
		}
		store, err := translate.OpenStore(cfg.Translation.CacheBackend, path)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("failed to open translation cache: %w", err)
		}
		if t.cache, err = translate.NewCache(store); err != nil {
			t.Close()
			return nil, err
		}
		t.closers = append(t.closers, t.cache.Close)
	}

	if t.fonts == nil {
		t.fonts = typeset.NewFontRegistry(cfg.Typeset.Fonts)
	}
	return t, nil
}

func segmentOptions(cfg *config.Config) (segment.Options, error) {
	opts := segment.DefaultOptions()
	sc := cfg.Segment
	if sc.StraddleThreshold > 0 {
		opts.StraddleThreshold = sc.StraddleThreshold
	}
	if sc.ParagraphBreakFactor > 0 {
		opts.ParagraphBreakFactor = sc.ParagraphBreakFactor
	}
	if sc.WordGapFactor > 0 {
		opts.WordGapFactor = sc.WordGapFactor
	}
	if sc.ShortLineSplitFactor > 0 {
		opts.ShortLineSplitFactor = sc.ShortLineSplitFactor
	}
	opts.SplitShortLines = sc.SplitShortLines
	opts.MinTextLength = sc.MinTextLength
	opts.TranslateTableText = sc.TranslateTableText
	opts.LanguageHint = cfg.SourceLanguage

	var err error
	if sc.FormulaFontPattern != "" {
		if opts.FormulaFont, err = regexp.Compile(sc.FormulaFontPattern); err != nil {
			return opts, fmt.Errorf("invalid formula font pattern: %w", err)
		}
	}
	if sc.FormulaCharPattern != "" {
		if opts.FormulaChar, err = regexp.Compile(sc.FormulaCharPattern); err != nil {
			return opts, fmt.Errorf("invalid formula character pattern: %w", err)
		}
	}
	return opts, nil
}

func newClassifier(cfg *config.Config) (layout.Classifier, error) {
	switch cfg.Classifier.Kind {
	case "onnx":
		return layout.NewDocLayoutModel(layout.ModelConfig{
			ModelPath:   cfg.Classifier.ModelPath,
			LibraryPath: cfg.Classifier.OnnxLibraryPath,
			Confidence:  cfg.Classifier.Confidence,
			IoU:         cfg.Classifier.IoU,
		})
	default:
		return layout.NewRuleBased(cfg.Segment.FormulaFontPattern)
	}
}

// Close releases the classifier, rasterizer and cache.
func (t *Translator) Close() error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	t.closers = nil
	return errors.Join(errs...)
}

// Status returns a copy of the current status.
func (t *Translator) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// setStatus updates the status and notifies the progress callback.
func (t *Translator) setStatus(stage Stage, progress int, message string) {
	if !IsValidStage(stage) {
		logger.Warn("invalid stage, defaulting to error", logger.String("stage", string(stage)))
		stage = StageFailed
	}
	progress = max(0, min(progress, 100))

	t.mu.Lock()
	t.status.Stage = stage
	t.status.Progress = progress
	t.status.Message = message
	if stage != StageFailed {
		t.status.Error = ""
	}
	s := t.status
	t.mu.Unlock()

	if t.progress != nil {
		t.progress(s)
	}
}

func (t *Translator) setUnitProgress(completed, total int) {
	t.mu.Lock()
	t.status.CompletedUnits, t.status.TotalUnits = completed, total
	t.mu.Unlock()
	// translation spans 30-80%
	progress := 30
	if total > 0 {
		progress += completed * 50 / total
	}
	t.setStatus(StageTranslate, progress, fmt.Sprintf("translating (%d/%d)", completed, total))
}

func (t *Translator) fail(err error) {
	t.mu.Lock()
	t.status.Stage = StageFailed
	t.status.Error = err.Error()
	s := t.status
	t.mu.Unlock()
	if t.progress != nil {
		t.progress(s)
	}
}

// pageTask carries one page through classification and segmentation.
type pageTask struct {
	page    *document.Page
	raster  layout.Raster
	regions []layout.Region
	units   []*segment.TranslationUnit
	failed  bool
}

// Translate runs the whole pipeline on one document. Per-page and per-unit
// problems are recorded in the report; errors are returned as *StageError
// only when no output can be produced.
func (t *Translator) Translate(ctx context.Context, in Input) (res *Result, err error) {
	start := time.Now()
	report := newReport(in.Name, t.cfg.TargetLanguage)
	defer func() {
		if err != nil {
			t.fail(err)
			logger.Error("translation failed", err, logger.String("source", in.Name))
		}
	}()

	logger.Info("starting PDF translation",
		logger.String("source", in.Name),
		logger.String("target", t.cfg.TargetLanguage),
		logger.Int("bytes", len(in.Data)))

	t.setStatus(StageParse, 0, "parsing document")
	doc, err := t.parse(in.Data)
	if err != nil {
		return nil, err
	}
	report.Pages = doc.PageCount()

	tasks := make([]*pageTask, 0, doc.PageCount())
	for _, p := range doc.Pages {
		if !p.Skipped {
			tasks = append(tasks, &pageTask{page: p})
		}
	}
	report.SelectedPages = len(tasks)

	t.setStatus(StageClassify, 10, fmt.Sprintf("analysing %d pages", len(tasks)))
	if err := t.extract(ctx, in.Data, tasks, report); err != nil {
		return nil, stageError(StageClassify, err)
	}

	var units []*segment.TranslationUnit
	for _, task := range tasks {
		units = append(units, task.units...)
	}
	report.Units = len(units)

	t.setStatus(StageTranslate, 30, fmt.Sprintf("translating %d units", len(units)))
	orch := translate.NewOrchestrator(t.backend, t.cache, translate.Options{
		MaxBatchUnits: t.cfg.Translation.MaxBatchUnits,
		MaxBatchChars: t.cfg.Translation.MaxBatchChars,
		Concurrency:   t.cfg.Translation.Concurrency,
		MaxRetries:    t.cfg.Translation.MaxRetries,
		IgnoreCache:   t.cfg.Translation.IgnoreCache,
		Progress:      t.setUnitProgress,
	})
	if _, err := orch.TranslateBatch(ctx, units, t.cfg.TargetLanguage); err != nil {
		return nil, stageError(StageTranslate, err)
	}
	report.Translation = orch.Stats()
	for _, f := range orch.Failures() {
		report.Fallbacks = append(report.Fallbacks, UnitRecord{UnitID: f.UnitID, Page: f.Page, Text: f.Text, Detail: f.Error})
	}
	if tb, ok := t.backend.(interface{ Tokens() (int64, int64) }); ok {
		p, c := tb.Tokens()
		report.Tokens = &TokenUsage{Prompt: p, Completion: c}
	}

	t.setStatus(StageTypeset, 85, "laying out translations")
	engine := typeset.NewEngine(t.fonts, typeset.Options{
		SizeFloor:      t.cfg.Typeset.SizeFloor,
		SizeStep:       t.cfg.Typeset.SizeStep,
		MinLineSpacing: t.cfg.Typeset.MinLineSpacing,
		SpacingStep:    t.cfg.Typeset.SpacingStep,
		Target:         t.cfg.TargetLanguage,
	})
	boxes, err := t.typeset(ctx, engine, tasks, report)
	if err != nil {
		return nil, stageError(StageTypeset, err)
	}

	t.setStatus(StageRebuild, 90, "rebuilding pages")
	if _, err := rebuild.Rebuild(doc, boxes); err != nil {
		return nil, stageError(StageRebuild, err)
	}
	for _, f := range engine.Substitutes() {
		if f.Ref != nil {
			report.Fonts = append(report.Fonts, f.BaseFont)
		}
	}
	pagesWithBoxes := make(map[int]bool)
	for _, b := range boxes {
		pagesWithBoxes[b.Unit.Page] = true
	}
	report.TranslatedPages = len(pagesWithBoxes)

	t.setStatus(StageSerialize, 95, "writing document")
	out, err := doc.Serialize()
	if err != nil {
		return nil, stageError(StageSerialize, err)
	}

	t.setStatus(StagePostprocess, 97, "producing output files")
	artifacts, err := t.postprocess(in.Data, out)
	if err != nil {
		return nil, stageError(StagePostprocess, err)
	}

	report.finish()
	if t.cfg.ReportPath != "" {
		if err := report.Save(t.cfg.ReportPath); err != nil {
			logger.Warn("failed to save report", logger.String("path", t.cfg.ReportPath), logger.Err(err))
		}
	}

	t.setStatus(StageComplete, 100, "translation complete")
	logger.Info("PDF translation completed",
		logger.String("source", in.Name),
		logger.Int("pages", report.Pages),
		logger.Int("units", report.Units),
		logger.Int("fallbacks", len(report.Fallbacks)),
		logger.Int("overflows", len(report.Overflows)),
		logger.Int("pageFailures", len(report.PageFailures)),
		logger.Duration("duration", time.Since(start)))
	return &Result{Artifacts: artifacts, Report: report}, nil
}

func (t *Translator) parse(data []byte) (*document.Document, error) {
	if !t.cfg.SkipScannedDetection {
		info, err := document.Inspect(data)
		switch {
		case err != nil:
			logger.Warn("text check failed, continuing", logger.Err(err))
		case info.Scanned():
			return nil, stageError(StageParse, document.ErrScannedDocument)
		}
	}

	sel, err := config.ParsePages(t.cfg.Pages)
	if err != nil {
		return nil, stageError(StageParse, err)
	}
	doc, err := document.Parse(data, document.WithPageFilter(sel.Contains))
	if err != nil {
		return nil, stageError(StageParse, err)
	}
	return doc, nil
}

// protect runs fn and turns a panic into an error.
func protect(page int, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: panic: %v", page+1, r)
		}
	}()
	return fn()
}

// forPages runs fn for every task that has not failed, Workers at a time. A
// task error marks the page failed and releases its runs; only context
// errors stop the group.
func (t *Translator) forPages(ctx context.Context, tasks []*pageTask, report *Report, fn func(ctx context.Context, task *pageTask) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Workers)
	for _, task := range tasks {
		if task.failed {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := protect(task.page.Index, func() error { return fn(gctx, task) })
			if err == nil {
				return nil
			}
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Error("page failed, keeping original content", err, logger.Page(task.page.Index))
			report.addPageFailure(task.page.Index, err)
			task.failed = true
			task.units = nil
			for _, r := range task.page.Runs {
				task.page.Release(r)
			}
			return nil
		})
	}
	return g.Wait()
}

// extract rasterizes, classifies and segments the pages.
func (t *Translator) extract(ctx context.Context, src []byte, tasks []*pageTask, report *Report) error {
	err := t.forPages(ctx, tasks, report, func(ctx context.Context, task *pageTask) error {
		if len(task.page.Runs) == 0 {
			return nil
		}
		r, err := t.rasterizer.Rasterize(ctx, src, task.page)
		if err != nil {
			return fmt.Errorf("rasterize: %w", err)
		}
		task.raster = r
		return nil
	})
	if err != nil {
		return err
	}

	var pending []*pageTask
	for _, task := range tasks {
		if !task.failed && len(task.page.Runs) > 0 {
			pending = append(pending, task)
		}
	}

	if size := t.cfg.Classifier.BatchSize; size > 1 {
		if _, ok := t.classifier.(layout.BatchClassifier); ok {
			rasters := make([]layout.Raster, len(pending))
			for i, task := range pending {
				rasters[i] = task.raster
			}
			regions, errs, err := layout.Batched{Classifier: t.classifier, Size: size}.ClassifyAll(ctx, rasters)
			if err != nil {
				return err
			}
			for i, task := range pending {
				task.regions = regions[i]
				if errs[i] != nil {
					t.degrade(task, errs[i], report)
				}
			}
			return t.segment(ctx, pending, report)
		}
	}

	err = t.forPages(ctx, pending, report, func(ctx context.Context, task *pageTask) error {
		regions, err := layout.ClassifyPage(ctx, t.classifier, task.raster)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		task.regions = regions
		if err != nil {
			t.degrade(task, err, report)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return t.segment(ctx, pending, report)
}

func (t *Translator) degrade(task *pageTask, err error, report *Report) {
	logger.Warn("classification degraded to a single text region", logger.Page(task.page.Index), logger.Err(err))
	report.addDegraded(task.page.Index, err)
}

func (t *Translator) segment(ctx context.Context, tasks []*pageTask, report *Report) error {
	return t.forPages(ctx, tasks, report, func(ctx context.Context, task *pageTask) error {
		task.units = segment.Segment(task.page, task.regions, t.segOpts)
		logger.Debug("page segmented",
			logger.Page(task.page.Index),
			logger.Int("regions", len(task.regions)),
			logger.Int("units", len(task.units)))
		return nil
	})
}

// typeset lays out every translated unit. Units that cannot be laid out,
// and fallback units, keep their original text.
func (t *Translator) typeset(ctx context.Context, engine *typeset.Engine, tasks []*pageTask, report *Report) ([]*typeset.LayoutBox, error) {
	perPage := make([][]*typeset.LayoutBox, len(tasks))
	index := make(map[*pageTask]int, len(tasks))
	for i, task := range tasks {
		index[task] = i
	}

	err := t.forPages(ctx, tasks, report, func(ctx context.Context, task *pageTask) error {
		var boxes []*typeset.LayoutBox
		for _, u := range task.units {
			if err := ctx.Err(); err != nil {
				return err
			}
			if u.Status == segment.StatusFallback {
				release(task.page, u)
				continue
			}
			box, err := engine.Typeset(u)
			if err != nil {
				logger.Warn("cannot typeset unit, keeping original text",
					logger.Page(u.Page), logger.String("unit", u.ID), logger.Err(err))
				release(task.page, u)
				report.addUntypeset(UnitRecord{UnitID: u.ID, Page: u.Page, Text: u.SourceText, Detail: err.Error()})
				continue
			}
			if box.Overflow {
				report.addOverflow(UnitRecord{UnitID: u.ID, Page: u.Page, Text: u.TranslatedText,
					Detail: fmt.Sprintf("%d lines in a box of %d", box.Lines, u.LineCount)})
			}
			boxes = append(boxes, box)
		}
		perPage[index[task]] = boxes
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []*typeset.LayoutBox
	for i, task := range tasks {
		if !task.failed {
			out = append(out, perPage[i]...)
		}
	}
	return out, nil
}

func release(page *document.Page, u *segment.TranslationUnit) {
	for _, r := range u.Runs {
		page.Release(r)
	}
}

// postprocess produces the configured mono and dual documents in the
// configured watermark variants.
func (t *Translator) postprocess(original, translated []byte) ([]Artifact, error) {
	oc := t.cfg.Output
	var variants []bool
	switch oc.WatermarkMode {
	case config.WatermarkOn:
		variants = []bool{true}
	case config.WatermarkBoth:
		variants = []bool{false, true}
	default:
		variants = []bool{false}
	}

	var out []Artifact
	for _, watermarked := range variants {
		mono := translated
		if watermarked {
			var err error
			if mono, err = document.Watermark(translated, oc.WatermarkText); err != nil {
				return nil, err
			}
		}
		if !oc.NoMono {
			out = append(out, Artifact{Kind: KindMono, Watermarked: watermarked, Data: mono})
		}
		if !oc.NoDual {
			dual, err := document.Interleave(original, mono, oc.DualTranslateFirst)
			if err != nil {
				return nil, err
			}
			out = append(out, Artifact{Kind: KindDual, Watermarked: watermarked, Data: dual})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Kind > out[j].Kind })
	return out, nil
}
