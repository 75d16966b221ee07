package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewDefaultLoggerCreatesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "run.log")

	l, err := NewDefaultLogger(&Config{LogFilePath: logPath, MaxFileSize: 1024, MaxBackups: 3, Level: LevelDebug})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}
}

func TestConsoleOnlyLogger(t *testing.T) {
	l, err := NewDefaultLogger(&Config{Level: LevelInfo})
	if err != nil {
		t.Fatalf("console-only logger: %v", err)
	}
	if l.file != nil {
		t.Error("expected no log file when LogFilePath is empty")
	}
	l.Info("discarded")
	if err := l.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestLogLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelDebug)

	l.Debug("debug message", String("key", "value"))
	l.Info("info message", Int("units", 42), Page(3))
	l.Warn("warn message", Bool("overflow", true), Duration("took", 1500*time.Millisecond))
	l.Error("error message", errors.New("backend down"), Float64("ratio", 0.75))

	out := buf.String()
	for _, want := range []string{
		"[DEBUG] debug message key=value",
		"[INFO] info message units=42 page=3",
		"[WARN] warn message overflow=true took=1.5s",
		"[ERROR] error message error=\"backend down\" ratio=0.75",
		"Stack trace:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q\n%s", want, out)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelWarn)

	l.Debug("hidden debug")
	l.Info("hidden info")
	l.Warn("shown warn")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("messages below level were written: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "shown warn") {
		t.Error("warn message missing")
	}

	l.SetLevel(LevelDebug)
	l.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("SetLevel did not lower the threshold")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestQuotedValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelInfo)
	l.Info("unit", String("text", "Hello world"), String("empty", ""))

	if !strings.Contains(buf.String(), `text="Hello world"`) {
		t.Errorf("value with space not quoted: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `empty=""`) {
		t.Errorf("empty value not quoted: %s", buf.String())
	}
}

func TestWithAppendsFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger(&buf, LevelInfo)

	l := With(With(base, String("component", "segment")), Page(1))
	l.Info("segmented", Int("units", 4))

	if !strings.Contains(buf.String(), "segmented component=segment page=1 units=4") {
		t.Errorf("unexpected entry: %s", buf.String())
	}
	if With(base) != Logger(base) {
		t.Error("With without fields should return the base logger")
	}
}

func TestLogRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")

	l, err := NewDefaultLogger(&Config{LogFilePath: logPath, MaxFileSize: 200, MaxBackups: 2, Level: LevelInfo})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	for i := 0; i < 20; i++ {
		l.Info("a message long enough to trigger rotation quickly", Int("i", i))
	}
	l.Close()

	if _, err := os.Stat(logPath + ".1"); os.IsNotExist(err) {
		t.Error("expected first backup after rotation")
	}
	if _, err := os.Stat(logPath + ".3"); err == nil {
		t.Error("backups beyond MaxBackups should be removed")
	}
}

func TestGlobalLogger(t *testing.T) {
	defer SetGlobalLogger(nil)

	// no-op before initialisation
	Info("nothing happens")

	var buf bytes.Buffer
	SetGlobalLogger(NewWriterLogger(&buf, LevelDebug))

	Component("rebuild").Info("page rewritten", Page(0))
	Warn("global warn")

	out := buf.String()
	if !strings.Contains(out, "page rewritten component=rebuild page=0") {
		t.Errorf("component logger output wrong: %s", out)
	}
	if !strings.Contains(out, "global warn") {
		t.Error("global Warn not written")
	}
}

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  Field
		want Field
	}{
		{"string", String("file", "a.pdf"), Field{Key: "file", Value: "a.pdf"}},
		{"int", Int("lines", 3), Field{Key: "lines", Value: 3}},
		{"int64", Int64("bytes", 1<<40), Field{Key: "bytes", Value: int64(1 << 40)}},
		{"float64", Float64("size", 9.5), Field{Key: "size", Value: 9.5}},
		{"bool", Bool("ok", true), Field{Key: "ok", Value: true}},
		{"duration", Duration("took", 1234567*time.Microsecond), Field{Key: "took", Value: "1.235s"}},
		{"page", Page(4), Field{Key: "page", Value: 4}},
		{"error", Err(errors.New("boom")), Field{Key: "error", Value: "boom"}},
		{"nil error", Err(nil), Field{Key: "error", Value: nil}},
		{"any", Any("ids", []string{"u1"}), Field{Key: "ids", Value: []string{"u1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.got); diff != "" {
				t.Errorf("field (-want +got):\n%s", diff)
			}
		})
	}
}
