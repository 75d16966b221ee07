// Package config provides configuration management for the PDF translator.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"pdf-translator/internal/logger"
)

const (
	DefaultConfigFileName = "pdf-translator-config.json"
	EnvOpenAIAPIKey       = "OPENAI_API_KEY"
	EnvOpenAIBaseURL      = "OPENAI_BASE_URL"
	EnvOpenAIModel        = "OPENAI_MODEL"
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultModel          = "gpt-4o-mini"
	DefaultTargetLanguage = "zh"

	// DefaultFormulaFontPattern matches the font names TeX and office suites
	// use for math, symbol and monospace text.
	DefaultFormulaFontPattern = `(CM[^R]|MS.M|XY|MT|BL|RM|EU|LA|RS|LINE|LCIRCLE|TeX-|rsfs|txsy|wasy|stmary|.*Mono|.*Code|.*Ital|.*Sym|.*Math)`
)

// Watermark output modes.
const (
	WatermarkOn   = "watermarked"
	WatermarkOff  = "no_watermark"
	WatermarkBoth = "both"
)

// Cache store kinds.
const (
	CacheJSON   = "json"
	CacheSQLite = "sqlite"
	CacheMemory = "memory"
)

// Config is the complete pipeline configuration.
type Config struct {
	TargetLanguage string `json:"target_language"`
	SourceLanguage string `json:"source_language,omitempty"`
	// Pages selects pages using the "1,3-5,-2,7-" syntax. Empty means all.
	Pages   string `json:"pages,omitempty"`
	Workers int    `json:"workers"`
	Debug   bool   `json:"debug"`
	// SkipScannedDetection disables the extractable-text check.
	SkipScannedDetection bool `json:"skip_scanned_detection"`
	// ReportPath is where the JSON run report is written. Empty skips it.
	ReportPath string `json:"report_path,omitempty"`

	OpenAI      OpenAIConfig      `json:"openai"`
	Classifier  ClassifierConfig  `json:"classifier"`
	Segment     SegmentConfig     `json:"segment"`
	Typeset     TypesetConfig     `json:"typeset"`
	Translation TranslationConfig `json:"translation"`
	Output      OutputConfig      `json:"output"`
	Log         LogConfig         `json:"log"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// ClassifierConfig selects and tunes the region classifier.
type ClassifierConfig struct {
	// Kind is "onnx" or "rules".
	Kind            string  `json:"kind"`
	ModelPath       string  `json:"model_path,omitempty"`
	OnnxLibraryPath string  `json:"onnx_library_path,omitempty"`
	Confidence      float64 `json:"confidence"`
	IoU             float64 `json:"iou"`
	BatchSize       int     `json:"batch_size"`
	// Rasterizer is "auto", "poppler" or "vector".
	Rasterizer string `json:"rasterizer"`
}

type SegmentConfig struct {
	StraddleThreshold    float64 `json:"straddle_threshold"`
	ParagraphBreakFactor float64 `json:"paragraph_break_factor"`
	WordGapFactor        float64 `json:"word_gap_factor"`
	FormulaFontPattern   string  `json:"formula_font_pattern"`
	FormulaCharPattern   string  `json:"formula_char_pattern,omitempty"`
	SplitShortLines      bool    `json:"split_short_lines"`
	ShortLineSplitFactor float64 `json:"short_line_split_factor"`
	MinTextLength        int     `json:"min_text_length"`
	TranslateTableText   bool    `json:"translate_table_text"`
}

type TypesetConfig struct {
	SizeFloor      float64 `json:"size_floor"`
	SizeStep       float64 `json:"size_step"`
	MinLineSpacing float64 `json:"min_line_spacing"`
	SpacingStep    float64 `json:"spacing_step"`
	// Fonts maps an ISO 15924 script code (e.g. "Hani", "Cyrl") to a TrueType file.
	Fonts map[string]string `json:"fonts,omitempty"`
}

type TranslationConfig struct {
	MaxBatchUnits int     `json:"max_batch_units"`
	MaxBatchChars int     `json:"max_batch_chars"`
	Concurrency   int     `json:"concurrency"`
	MaxRetries    int     `json:"max_retries"`
	TimeoutSec    int     `json:"timeout_sec"`
	QPS           float64 `json:"qps"`
	CacheBackend  string  `json:"cache_backend"`
	CachePath     string  `json:"cache_path,omitempty"`
	IgnoreCache   bool    `json:"ignore_cache"`
}

type OutputConfig struct {
	NoMono             bool   `json:"no_mono"`
	NoDual             bool   `json:"no_dual"`
	DualTranslateFirst bool   `json:"dual_translate_first"`
	WatermarkMode      string `json:"watermark_mode"`
	WatermarkText      string `json:"watermark_text,omitempty"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file,omitempty"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		TargetLanguage: DefaultTargetLanguage,
		Workers:        4,
		OpenAI: OpenAIConfig{
			BaseURL: DefaultBaseURL,
			Model:   DefaultModel,
		},
		Classifier: ClassifierConfig{
			Kind:       "rules",
			Confidence: 0.25,
			IoU:        0.45,
			BatchSize:  1,
			Rasterizer: "auto",
		},
		Segment: SegmentConfig{
			StraddleThreshold:    0.5,
			ParagraphBreakFactor: 1.8,
			WordGapFactor:        1.5,
			FormulaFontPattern:   DefaultFormulaFontPattern,
			ShortLineSplitFactor: 0.8,
			MinTextLength:        5,
			TranslateTableText:   false,
		},
		Typeset: TypesetConfig{
			SizeFloor:      0.6,
			SizeStep:       0.05,
			MinLineSpacing: 1.0,
			SpacingStep:    0.05,
		},
		Translation: TranslationConfig{
			MaxBatchUnits: 20,
			MaxBatchChars: 4000,
			Concurrency:   3,
			MaxRetries:    3,
			TimeoutSec:    120,
			QPS:           4,
			CacheBackend:  CacheJSON,
		},
		Output: OutputConfig{
			WatermarkMode: WatermarkOff,
			WatermarkText: "Machine translated",
		},
		Log: LogConfig{Level: "info"},
	}
}

// applyEnv lets the environment supply OpenAI settings the file leaves empty.
func (c *Config) applyEnv() {
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if v := os.Getenv(EnvOpenAIBaseURL); v != "" && (c.OpenAI.BaseURL == "" || c.OpenAI.BaseURL == DefaultBaseURL) {
		c.OpenAI.BaseURL = v
	}
	if v := os.Getenv(EnvOpenAIModel); v != "" && (c.OpenAI.Model == "" || c.OpenAI.Model == DefaultModel) {
		c.OpenAI.Model = v
	}
}

var chatCompletionsSuffix = regexp.MustCompile(`/chat/completions/?$`)

// Validate checks option consistency and normalises the OpenAI base URL.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.TargetLanguage) == "" {
		errs = append(errs, errors.New("target_language is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("workers must be greater than 0"))
	}
	if c.Output.NoMono && c.Output.NoDual {
		errs = append(errs, errors.New("cannot disable both dual and mono output modes"))
	}
	switch c.Output.WatermarkMode {
	case WatermarkOn, WatermarkOff, WatermarkBoth:
	default:
		errs = append(errs, fmt.Errorf("invalid watermark output mode: %q", c.Output.WatermarkMode))
	}
	if c.Segment.FormulaFontPattern != "" {
		if _, err := regexp.Compile(c.Segment.FormulaFontPattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid formula_font_pattern: %w", err))
		}
	}
	if c.Segment.FormulaCharPattern != "" {
		if _, err := regexp.Compile(c.Segment.FormulaCharPattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid formula_char_pattern: %w", err))
		}
	}
	if c.Segment.StraddleThreshold <= 0 || c.Segment.StraddleThreshold > 1 {
		errs = append(errs, errors.New("straddle_threshold must be in (0, 1]"))
	}
	if c.Segment.MinTextLength < 0 {
		errs = append(errs, errors.New("min_text_length must be greater than or equal to 0"))
	}
	if c.Segment.SplitShortLines && c.Segment.ShortLineSplitFactor < 0.1 {
		errs = append(errs, errors.New("short_line_split_factor must be greater than or equal to 0.1"))
	}
	if c.Typeset.SizeFloor <= 0 || c.Typeset.SizeFloor > 1 {
		errs = append(errs, errors.New("size_floor must be in (0, 1]"))
	}
	if c.Typeset.SizeStep <= 0 || c.Typeset.SpacingStep <= 0 {
		errs = append(errs, errors.New("size_step and spacing_step must be positive"))
	}
	if c.Typeset.MinLineSpacing <= 0 {
		errs = append(errs, errors.New("min_line_spacing must be positive"))
	}
	if c.Translation.QPS <= 0 {
		errs = append(errs, errors.New("qps must be greater than 0"))
	}
	if c.Translation.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must be greater than or equal to 0"))
	}
	if c.Translation.MaxBatchUnits < 1 || c.Translation.MaxBatchChars < 1 {
		errs = append(errs, errors.New("batch limits must be positive"))
	}
	switch c.Translation.CacheBackend {
	case CacheJSON, CacheSQLite, CacheMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend: %q", c.Translation.CacheBackend))
	}
	switch c.Classifier.Kind {
	case "rules":
	case "onnx":
		if c.Classifier.ModelPath == "" {
			errs = append(errs, errors.New("classifier.model_path is required for the onnx classifier"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown classifier kind: %q", c.Classifier.Kind))
	}
	if _, err := ParsePages(c.Pages); err != nil {
		errs = append(errs, err)
	}

	c.OpenAI.BaseURL = chatCompletionsSuffix.ReplaceAllString(c.OpenAI.BaseURL, "")

	return errors.Join(errs...)
}

// ConfigManager loads and saves the configuration file.
type ConfigManager struct {
	configPath string
	config     *Config
}

// NewConfigManager creates a ConfigManager. An empty path selects
// ~/.config/pdf-translator/pdf-translator-config.json.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, ".config", "pdf-translator", DefaultConfigFileName)
	}

	return &ConfigManager{
		configPath: configPath,
		config:     Default(),
	}, nil
}

// Load reads the config file. A missing file yields defaults; a malformed
// file is an error. Environment variables fill OpenAI settings the file leaves empty.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	data, err := os.ReadFile(m.configPath)
	switch {
	case os.IsNotExist(err):
		logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
		m.config = Default()
	case err != nil:
		return fmt.Errorf("failed to read config file: %w", err)
	default:
		// fields absent from the file keep their defaults
		cfg := Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("invalid config file %s: %w", m.configPath, err)
		}
		m.config = cfg
		logger.Info("configuration loaded",
			logger.String("path", m.configPath),
			logger.String("target", cfg.TargetLanguage),
			logger.String("model", cfg.OpenAI.Model))
	}

	m.config.applyEnv()
	return nil
}

// Save writes the configuration with owner-only permissions.
func (m *ConfigManager) Save() error {
	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	logger.Info("configuration saved", logger.String("path", m.configPath))
	return nil
}

func (m *ConfigManager) GetConfig() *Config {
	if m.config == nil {
		return Default()
	}
	return m.config
}

func (m *ConfigManager) SetConfig(cfg *Config) {
	m.config = cfg
}

func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}
