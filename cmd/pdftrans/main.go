// Command pdftrans translates PDF documents while keeping their layout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"pdf-translator/internal/config"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/pipeline"
	"pdf-translator/internal/results"
)

const version = "0.1.0"

// CLI defines the command-line interface for pdftrans.
var CLI struct {
	Config string `name:"config" short:"c" help:"Configuration file (default ~/.config/pdf-translator/pdf-translator-config.json)" type:"path"`
	Debug  bool   `help:"Enable debug logging"`

	Translate TranslateCmd `cmd:"" default:"withargs" help:"Translate PDF files"`
	History   HistoryGroup `cmd:"" help:"Previously translated documents"`
	Init      InitCmd      `cmd:"" help:"Write a configuration file with default settings"`
	Version   VersionCmd   `cmd:"" help:"Print version information"`
}

// TranslateCmd translates one or more documents.
type TranslateCmd struct {
	Files  []string `arg:"" optional:"" help:"PDF files or directories to translate" type:"path"`
	Output string   `short:"o" help:"Output directory (default: next to each input)" type:"path"`

	Target  string `short:"t" help:"Target language code"`
	Source  string `short:"s" help:"Source language code"`
	Pages   string `short:"p" help:"Pages to translate, e.g. 1,3-5,-2,7-"`
	Workers int    `short:"w" help:"Pages processed in parallel"`

	Model   string  `help:"OpenAI model"`
	BaseURL string  `name:"base-url" help:"OpenAI-compatible API base URL"`
	QPS     float64 `help:"Backend requests per second"`

	Classifier string `help:"Region classifier (rules or onnx)"`
	ModelPath  string `name:"model-path" help:"ONNX layout model" type:"path"`

	Cache       string `help:"Translation cache backend (json, sqlite or memory)"`
	CachePath   string `name:"cache-path" help:"Translation cache file" type:"path"`
	IgnoreCache bool   `name:"ignore-cache" help:"Translate again even when a cached translation exists"`

	NoMono          bool   `name:"no-mono" help:"Do not write the translated document"`
	NoDual          bool   `name:"no-dual" help:"Do not write the side-by-side document"`
	TranslatedFirst bool   `name:"dual-translate-first" help:"Put translated pages first in the dual document"`
	Watermark       string `help:"Watermark output mode"`
	SkipScanned     bool   `name:"skip-scanned-detection" help:"Translate even when no extractable text is found"`
	Report          bool   `help:"Write a JSON report next to the outputs"`
	Force           bool   `short:"f" help:"Translate again even when the outputs already exist"`
}

// apply overrides configuration values with the flags that were set.
func (c *TranslateCmd) apply(cfg *config.Config) {
	setString(&cfg.TargetLanguage, c.Target)
	setString(&cfg.SourceLanguage, c.Source)
	setString(&cfg.Pages, c.Pages)
	setString(&cfg.OpenAI.Model, c.Model)
	setString(&cfg.OpenAI.BaseURL, c.BaseURL)
	setString(&cfg.Classifier.Kind, c.Classifier)
	setString(&cfg.Classifier.ModelPath, c.ModelPath)
	setString(&cfg.Translation.CacheBackend, c.Cache)
	setString(&cfg.Translation.CachePath, c.CachePath)
	setString(&cfg.Output.WatermarkMode, c.Watermark)
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	if c.QPS > 0 {
		cfg.Translation.QPS = c.QPS
	}
	cfg.Translation.IgnoreCache = cfg.Translation.IgnoreCache || c.IgnoreCache
	cfg.Output.NoMono = cfg.Output.NoMono || c.NoMono
	cfg.Output.NoDual = cfg.Output.NoDual || c.NoDual
	cfg.Output.DualTranslateFirst = cfg.Output.DualTranslateFirst || c.TranslatedFirst
	cfg.SkipScannedDetection = cfg.SkipScannedDetection || c.SkipScanned
	// reports are written per input below
	cfg.ReportPath = ""
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// expandInputs replaces each directory in paths with the PDF files found
// under it, in lexical order.
func expandInputs(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", p, err)
		}
	}
	return files, nil
}

func (c *TranslateCmd) Run() error {
	files, err := expandInputs(c.Files)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no input files")
	}
	cm, err := config.NewConfigManager(CLI.Config)
	if err != nil {
		return err
	}
	if err := cm.Load(); err != nil {
		return err
	}
	cfg := cm.GetConfig()
	c.apply(cfg)
	if CLI.Debug {
		cfg.Debug = true
		cfg.Log.Level = "debug"
	}
	if cfg.Translation.CachePath == "" && cfg.Translation.CacheBackend != config.CacheMemory {
		cfg.Translation.CachePath = defaultCachePath(cm.GetConfigPath(), cfg.Translation.CacheBackend)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mu sync.Mutex
	var last pipeline.Stage
	tr, err := pipeline.New(ctx, cfg, pipeline.WithProgress(func(s pipeline.Status) {
		mu.Lock()
		defer mu.Unlock()
		if s.Stage == last && s.Stage != pipeline.StageTranslate {
			return
		}
		last = s.Stage
		fmt.Fprintf(os.Stderr, "  [%3d%%] %s\n", s.Progress, s.Message)
	}))
	if err != nil {
		return err
	}
	defer tr.Close()

	history, err := results.NewResultManager(historyDir(cm.GetConfigPath()))
	if err != nil {
		logger.Warn("translation history unavailable", logger.Err(err))
		history = nil
	}

	var failed []string
	for _, file := range files {
		if err := c.translateFile(ctx, tr, history, cfg, file); err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", file, err)
			failed = append(failed, file)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files failed", len(failed), len(files))
	}
	return nil
}

func (c *TranslateCmd) translateFile(ctx context.Context, tr *pipeline.Translator, history *results.ResultManager, cfg *config.Config, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	abs, _ := filepath.Abs(file)
	info := &results.DocumentInfo{
		SourceHash:     results.HashBytes(data),
		SourceFileName: filepath.Base(file),
		SourcePath:     abs,
		TargetLanguage: cfg.TargetLanguage,
	}
	if history != nil && !c.Force {
		existing, err := history.CheckExisting(info.SourceHash, cfg.TargetLanguage)
		if err == nil && existing.IsComplete {
			fmt.Printf("Skipping %s: %s (use --force to translate again)\n", file, existing.Message)
			return nil
		}
	}
	record := func(fn func() error) {
		if history == nil {
			return
		}
		if err := fn(); err != nil {
			logger.Warn("failed to update translation history", logger.String("file", file), logger.Err(err))
		}
	}
	record(func() error { return history.RecordStart(info) })

	outDir := c.Output
	if outDir == "" {
		outDir = filepath.Dir(file)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))

	fmt.Printf("Translating %s -> %s\n", file, cfg.TargetLanguage)
	start := time.Now()
	res, err := tr.Translate(ctx, pipeline.Input{Name: filepath.Base(file), Data: data})
	if err != nil {
		stage := string(pipeline.StageFailed)
		var se *pipeline.StageError
		if errors.As(err, &se) {
			stage = string(se.Stage)
		}
		record(func() error { return history.RecordError(info, stage, err) })
		return err
	}

	outputs := make(map[string]string, len(res.Artifacts))
	for _, a := range res.Artifacts {
		path := filepath.Join(outDir, outputName(base, cfg.TargetLanguage, a))
		if err := os.WriteFile(path, a.Data, 0644); err != nil {
			record(func() error { return history.RecordError(info, "write", err) })
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		key := a.Kind
		if a.Watermarked {
			key += ".watermarked"
		}
		if p, err := filepath.Abs(path); err == nil {
			outputs[key] = p
		} else {
			outputs[key] = path
		}
		fmt.Printf("  %s\n", path)
	}
	var reportPath string
	if c.Report {
		reportPath = filepath.Join(outDir, base+"."+cfg.TargetLanguage+".report.json")
		if err := res.Report.Save(reportPath); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("  %s\n", reportPath)
	}
	record(func() error { return history.RecordComplete(info, outputs, reportPath) })

	r := res.Report
	fmt.Printf("Done in %s: %d/%d pages, %d units (%d cached, %d fallback, %d overflow)\n",
		time.Since(start).Round(time.Millisecond), r.TranslatedPages, r.SelectedPages, r.Units,
		r.Translation.CacheHits, len(r.Fallbacks), len(r.Overflows))
	for _, p := range r.PageFailures {
		fmt.Printf("  page %d kept its original content: %s\n", p.Page+1, p.Error)
	}
	return nil
}

// outputName follows <name>.<lang>.<kind>.pdf, marking watermarked copies.
func outputName(base, lang string, a pipeline.Artifact) string {
	parts := []string{base, lang}
	if a.Watermarked {
		parts = append(parts, "watermarked")
	}
	parts = append(parts, a.Kind, "pdf")
	return strings.Join(parts, ".")
}

func defaultCachePath(configPath, backend string) string {
	name := "translation-cache.json"
	if backend == config.CacheSQLite {
		name = "translation-cache.db"
	}
	return filepath.Join(filepath.Dir(configPath), name)
}

func historyDir(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "history")
}

func initLogger(cfg *config.Config) error {
	lc := logger.ConsoleConfig(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.File != "" {
		lc.LogFilePath = cfg.Log.File
		lc.MaxFileSize = logger.DefaultConfig().MaxFileSize
		lc.MaxBackups = logger.DefaultConfig().MaxBackups
	}
	return logger.Init(lc)
}

// HistoryGroup inspects and replays earlier runs.
type HistoryGroup struct {
	List  HistoryListCmd  `cmd:"" help:"List translated and failed documents"`
	Retry HistoryRetryCmd `cmd:"" help:"Translate failed documents again"`
	Clear HistoryClearCmd `cmd:"" help:"Forget all history records"`
}

func openHistory() (*results.ResultManager, error) {
	cm, err := config.NewConfigManager(CLI.Config)
	if err != nil {
		return nil, err
	}
	return results.NewResultManager(historyDir(cm.GetConfigPath()))
}

// HistoryListCmd prints the history records.
type HistoryListCmd struct {
	Failed bool `help:"Only list failed documents"`
}

func (c *HistoryListCmd) Run() error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	docs, err := history.List()
	if err != nil {
		return err
	}
	for _, d := range docs {
		if c.Failed && d.Status != results.StatusError {
			continue
		}
		line := fmt.Sprintf("%s  %-11s %s -> %s  %s", d.TranslatedAt.Format("2006-01-02 15:04"), d.Status, d.SourceFileName, d.TargetLanguage, d.SourcePath)
		if d.Status == results.StatusError {
			line += fmt.Sprintf("\n    %s failed (retries %d): %s", d.Stage, d.RetryCount, d.ErrorMessage)
		}
		fmt.Println(line)
	}
	return nil
}

// HistoryRetryCmd translates every failed document again with the
// translate flags given.
type HistoryRetryCmd struct {
	TranslateCmd `embed:""`
}

func (c *HistoryRetryCmd) Run() error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	failed, err := history.Failed()
	if err != nil {
		return err
	}
	c.Files = c.Files[:0]
	for _, d := range failed {
		if _, err := os.Stat(d.SourcePath); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", d.SourcePath, err)
			continue
		}
		if c.Target == "" {
			c.Target = d.TargetLanguage
		}
		c.Files = append(c.Files, d.SourcePath)
	}
	if len(c.Files) == 0 {
		fmt.Println("No failed documents to retry")
		return nil
	}
	return c.TranslateCmd.Run()
}

// HistoryClearCmd removes all records.
type HistoryClearCmd struct{}

func (c *HistoryClearCmd) Run() error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	docs, err := history.List()
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := history.Delete(d.ID); err != nil {
			return err
		}
	}
	fmt.Printf("Removed %d records\n", len(docs))
	return nil
}

// InitCmd writes the default configuration.
type InitCmd struct {
	Force bool `help:"Overwrite an existing file"`
}

func (c *InitCmd) Run() error {
	cm, err := config.NewConfigManager(CLI.Config)
	if err != nil {
		return err
	}
	path := cm.GetConfigPath()
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := cm.Save(); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("pdftrans version %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("pdftrans"),
		kong.Description("Translate PDF documents while preserving their layout."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
