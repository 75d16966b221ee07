package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pdf-translator/internal/config"
	"pdf-translator/internal/pipeline"
)

func TestOutputName(t *testing.T) {
	tests := []struct {
		name string
		a    pipeline.Artifact
		want string
	}{
		{"mono", pipeline.Artifact{Kind: pipeline.KindMono}, "paper.de.mono.pdf"},
		{"dual", pipeline.Artifact{Kind: pipeline.KindDual}, "paper.de.dual.pdf"},
		{"watermarked", pipeline.Artifact{Kind: pipeline.KindMono, Watermarked: true}, "paper.de.watermarked.mono.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outputName("paper", "de", tt.a); got != tt.want {
				t.Errorf("outputName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyOverridesOnlySetFlags(t *testing.T) {
	cfg := config.Default()
	cfg.OpenAI.Model = "from-file"
	cfg.ReportPath = "/tmp/report.json"

	cmd := &TranslateCmd{Target: "fr", Workers: 8, NoDual: true, Watermark: config.WatermarkBoth}
	cmd.apply(cfg)

	if cfg.TargetLanguage != "fr" || cfg.Workers != 8 || !cfg.Output.NoDual {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.OpenAI.Model != "from-file" {
		t.Errorf("Model = %q, want the file value", cfg.OpenAI.Model)
	}
	if cfg.Output.WatermarkMode != config.WatermarkBoth {
		t.Errorf("WatermarkMode = %q", cfg.Output.WatermarkMode)
	}
	if cfg.Translation.QPS != config.Default().Translation.QPS {
		t.Errorf("QPS = %v, want default", cfg.Translation.QPS)
	}
	if cfg.ReportPath != "" {
		t.Errorf("ReportPath = %q, want cleared", cfg.ReportPath)
	}
}

func TestApplyFractionalQPS(t *testing.T) {
	tests := []struct {
		name string
		qps  float64
		want float64
	}{
		{"unset", 0, config.Default().Translation.QPS},
		{"fractional", 2.5, 2.5},
		{"below one", 0.5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			(&TranslateCmd{QPS: tt.qps}).apply(cfg)
			if cfg.Translation.QPS != tt.want {
				t.Errorf("QPS = %v, want %v", cfg.Translation.QPS, tt.want)
			}
		})
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string) string {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("%PDF-1.7"), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	a := write("papers/a.pdf")
	b := write("papers/nested/b.PDF")
	write("papers/notes.txt")
	single := write("single.pdf")

	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr bool
	}{
		{"file", []string{single}, []string{single}, false},
		{"directory is walked recursively", []string{filepath.Join(dir, "papers")}, []string{a, b}, false},
		{"mixed", []string{single, filepath.Join(dir, "papers")}, []string{single, a, b}, false},
		{"missing", []string{filepath.Join(dir, "nope.pdf")}, nil, true},
		{"empty directory", []string{t.TempDir()}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandInputs(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expandInputs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("expandInputs() (-want +got):\n%s", diff)
			}
		})
	}
}
