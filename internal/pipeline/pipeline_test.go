package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pdf-translator/internal/config"
	"pdf-translator/internal/document"
	"pdf-translator/internal/layout"
	"pdf-translator/internal/testpdf"
	"pdf-translator/internal/translate"
)

// dictBackend translates from a fixed table and lower-cases anything else.
// Texts containing "reject" fail every request they are part of.
type dictBackend struct {
	mu    sync.Mutex
	calls int
	table map[string]string
}

func (d *dictBackend) Translate(ctx context.Context, texts []string, target string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	out := make([]string, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "reject") {
			return nil, &translate.BackendError{StatusCode: 400, Message: "rejected"}
		}
		if v, ok := d.table[t]; ok {
			out[i] = v
		} else {
			out[i] = strings.ToLower(t)
		}
	}
	return out, nil
}

func (d *dictBackend) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TargetLanguage = "de"
	cfg.Workers = 2
	cfg.Classifier.Rasterizer = "vector"
	cfg.Translation.CacheBackend = config.CacheMemory
	cfg.Translation.MaxRetries = 0
	return cfg
}

func newTranslator(t *testing.T, cfg *config.Config, backend translate.Backend, opts ...Option) *Translator {
	t.Helper()
	tr, err := New(context.Background(), cfg, append([]Option{WithBackend(backend)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func twoPages() []byte {
	b := testpdf.New()
	b.Page(612, 792).Text(72, 700, 12, "Hello world").Rect(300, 300, 100, 50)
	b.Page(612, 792).Text(72, 700, 12, "Second page text")
	return b.Bytes()
}

func pageText(t *testing.T, data []byte) []string {
	t.Helper()
	doc, err := document.Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	out := make([]string, doc.PageCount())
	for i, p := range doc.Pages {
		var parts []string
		for _, r := range p.Runs {
			if r.Text != "" {
				parts = append(parts, r.Text)
			}
		}
		out[i] = strings.Join(parts, " ")
	}
	return out
}

func TestTranslateTwoPages(t *testing.T) {
	backend := &dictBackend{table: map[string]string{"Hello world": "Hallo Welt"}}
	var mu sync.Mutex
	var stages []Stage
	tr := newTranslator(t, testConfig(), backend, WithProgress(func(s Status) {
		mu.Lock()
		stages = append(stages, s.Stage)
		mu.Unlock()
	}))

	res, err := tr.Translate(context.Background(), Input{Name: "two.pdf", Data: twoPages()})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	mono, ok := res.Get(KindMono, false)
	if !ok {
		t.Fatal("no mono output")
	}
	want := []string{"Hallo Welt", "second page text"}
	if diff := cmp.Diff(want, pageText(t, mono)); diff != "" {
		t.Errorf("mono text (-want +got):\n%s", diff)
	}

	dual, ok := res.Get(KindDual, false)
	if !ok {
		t.Fatal("no dual output")
	}
	wantDual := []string{"Hello world", "Hallo Welt", "Second page text", "second page text"}
	if diff := cmp.Diff(wantDual, pageText(t, dual)); diff != "" {
		t.Errorf("dual text (-want +got):\n%s", diff)
	}

	r := res.Report
	if r.Pages != 2 || r.SelectedPages != 2 || r.TranslatedPages != 2 || r.Units != 2 {
		t.Errorf("report pages=%d selected=%d translated=%d units=%d", r.Pages, r.SelectedPages, r.TranslatedPages, r.Units)
	}
	if len(r.Fallbacks) != 0 || len(r.PageFailures) != 0 {
		t.Errorf("unexpected problems: %+v %+v", r.Fallbacks, r.PageFailures)
	}

	if got := tr.Status(); got.Stage != StageComplete || got.Progress != 100 {
		t.Errorf("Status() = %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(stages) == 0 || stages[0] != StageParse || stages[len(stages)-1] != StageComplete {
		t.Errorf("stages = %v", stages)
	}
}

func TestTranslateFallbackKeepsSource(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).Text(72, 700, 12, "Please reject this").Text(72, 600, 12, "Keep Going")
	backend := &dictBackend{}
	tr := newTranslator(t, testConfig(), backend)

	res, err := tr.Translate(context.Background(), Input{Data: b.Bytes()})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	got := pageText(t, res.Mono())
	if !strings.Contains(got[0], "Please reject this") || !strings.Contains(got[0], "keep going") {
		t.Errorf("page text = %q", got[0])
	}
	if strings.Contains(got[0], "Keep Going") {
		t.Errorf("translated unit still painted in the source: %q", got[0])
	}

	fb := res.Report.Fallbacks
	if len(fb) != 1 || fb[0].Text != "Please reject this" || fb[0].Page != 0 || fb[0].Detail == "" {
		t.Errorf("Fallbacks = %+v", fb)
	}
	if res.Report.Translation.Fallbacks != 1 {
		t.Errorf("Stats.Fallbacks = %d", res.Report.Translation.Fallbacks)
	}
}

// failingBackend rejects every request.
type failingBackend struct{}

func (failingBackend) Translate(ctx context.Context, texts []string, target string) ([]string, error) {
	return nil, &translate.BackendError{StatusCode: 400, Message: "rejected"}
}

// classifierFunc adapts a function to layout.Classifier.
type classifierFunc func(ctx context.Context, r layout.Raster) ([]layout.Region, error)

func (f classifierFunc) Classify(ctx context.Context, r layout.Raster) ([]layout.Region, error) {
	return f(ctx, r)
}

func textRegion(r layout.Raster) layout.Region {
	return layout.Region{Label: layout.Text, BBox: r.PageBox, Confidence: 1}
}

func TestTranslateAllRequestsFail(t *testing.T) {
	data := twoPages()
	tr := newTranslator(t, testConfig(), failingBackend{})

	res, err := tr.Translate(context.Background(), Input{Data: data})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if diff := cmp.Diff(pageText(t, data), pageText(t, res.Mono())); diff != "" {
		t.Errorf("mono text differs from the source (-source +mono):\n%s", diff)
	}

	r := res.Report
	var got []string
	for _, u := range r.Fallbacks {
		got = append(got, u.Text)
		if u.Detail == "" {
			t.Errorf("fallback %s has no detail", u.UnitID)
		}
	}
	sort.Strings(got)
	if diff := cmp.Diff([]string{"Hello world", "Second page text"}, got); diff != "" {
		t.Errorf("fallbacks (-want +got):\n%s", diff)
	}
	if len(r.Fallbacks) != r.Units || r.Translation.Fallbacks != r.Units {
		t.Errorf("units=%d fallbacks=%d stats=%d", r.Units, len(r.Fallbacks), r.Translation.Fallbacks)
	}
	if len(r.Overflows) != 0 || len(r.PageFailures) != 0 {
		t.Errorf("unexpected problems: %+v %+v", r.Overflows, r.PageFailures)
	}
}

func TestTranslateKeepsTextInsideItsBox(t *testing.T) {
	src := testpdf.New()
	src.Page(612, 792).Text(72, 700, 12, "Hello world")
	src.Page(612, 792).Paragraph(72, 700, 12, 14, "A short first line of text", "and a second one below")
	data := src.Bytes()

	cfg := testConfig()
	cfg.TargetLanguage = "ru"
	backend := &dictBackend{table: map[string]string{
		"Hello world": "Привет мир",
		"A short first line of text and a second one below": "Короткая первая строка текста и вторая строка под ней",
	}}
	tr := newTranslator(t, cfg, backend)

	res, err := tr.Translate(context.Background(), Input{Data: data})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if len(res.Report.Overflows) != 0 {
		t.Fatalf("Overflows = %+v", res.Report.Overflows)
	}

	before, err := document.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	after, err := document.Parse(res.Mono())
	if err != nil {
		t.Fatal(err)
	}
	const tol = 1.0
	for i, page := range after.Pages {
		var box document.Rect
		for k, r := range before.Pages[i].Runs {
			if k == 0 {
				box = r.BBox
			} else {
				box = box.Union(r.BBox)
			}
		}
		painted := 0
		for _, r := range page.Runs {
			if strings.TrimSpace(r.Text) == "" {
				continue
			}
			painted++
			b := r.BBox
			if b.LLX < box.LLX-tol || b.LLY < box.LLY-tol || b.URX > box.URX+tol || b.URY > box.URY+tol {
				t.Errorf("page %d: run %q at %+v leaves the source box %+v", i, r.Text, b, box)
			}
		}
		if painted == 0 {
			t.Errorf("page %d: no translated text", i)
		}
	}
	if got := pageText(t, res.Mono())[0]; got != "Привет мир" {
		t.Errorf("page 0 text = %q", got)
	}
}

func TestTranslateFormulaOverText(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).
		Text(72, 700, 12, "First Line").
		Text(72, 650, 12, "Formula Line").
		Text(72, 600, 12, "Third Line")
	data := b.Bytes()

	formula := document.Rect{LLX: 60, LLY: 640, URX: 300, URY: 665}
	classifier := classifierFunc(func(ctx context.Context, r layout.Raster) ([]layout.Region, error) {
		return []layout.Region{
			textRegion(r),
			{Label: layout.Formula, BBox: formula, Confidence: 0.4},
		}, nil
	})
	tr := newTranslator(t, testConfig(), &dictBackend{}, WithClassifier(classifier))

	res, err := tr.Translate(context.Background(), Input{Data: data})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	got := pageText(t, res.Mono())[0]
	for _, want := range []string{"first line", "Formula Line", "third line"} {
		if !strings.Contains(got, want) {
			t.Errorf("page text %q lacks %q", got, want)
		}
	}
	if strings.Contains(got, "formula line") {
		t.Errorf("formula text was translated: %q", got)
	}
	if res.Report.Units != 2 {
		t.Errorf("Units = %d, want 2", res.Report.Units)
	}
}

func TestTranslatePageFailureIsolated(t *testing.T) {
	classifier := classifierFunc(func(ctx context.Context, r layout.Raster) ([]layout.Region, error) {
		if r.Page.Index == 0 {
			panic("corrupt raster")
		}
		return []layout.Region{textRegion(r)}, nil
	})
	tr := newTranslator(t, testConfig(), &dictBackend{}, WithClassifier(classifier))

	res, err := tr.Translate(context.Background(), Input{Data: twoPages()})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	want := []string{"Hello world", "second page text"}
	if diff := cmp.Diff(want, pageText(t, res.Mono())); diff != "" {
		t.Errorf("mono text (-want +got):\n%s", diff)
	}

	r := res.Report
	if len(r.PageFailures) != 1 || r.PageFailures[0].Page != 0 || !strings.Contains(r.PageFailures[0].Error, "corrupt raster") {
		t.Errorf("PageFailures = %+v", r.PageFailures)
	}
	if r.TranslatedPages != 1 || r.Units != 1 {
		t.Errorf("translated=%d units=%d", r.TranslatedPages, r.Units)
	}
}

func TestTranslateFigureWithCaption(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).
		Text(72, 700, 12, "Results Overview").
		Image(72, 420, 200, 150).
		Text(72, 405, 10, "Figure 1: Accuracy By Epoch")
	b.Page(612, 792).Text(72, 700, 12, "Closing Remarks")
	data := b.Bytes()

	tr := newTranslator(t, testConfig(), &dictBackend{})
	res, err := tr.Translate(context.Background(), Input{Data: data})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	got := pageText(t, res.Mono())
	for _, want := range []string{"results overview", "figure 1: accuracy by epoch"} {
		if !strings.Contains(got[0], want) {
			t.Errorf("page 0 text %q lacks %q", got[0], want)
		}
	}
	if got[1] != "closing remarks" {
		t.Errorf("page 1 text = %q", got[1])
	}

	before, err := document.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	after, err := document.Parse(res.Mono())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before.Pages[0].Images, after.Pages[0].Images); diff != "" {
		t.Errorf("figure changed (-before +after):\n%s", diff)
	}
	if r := res.Report; r.Units != 3 || r.TranslatedPages != 2 || len(r.Fallbacks) != 0 {
		t.Errorf("units=%d translated=%d fallbacks=%d", r.Units, r.TranslatedPages, len(r.Fallbacks))
	}
}

func TestTranslateUsesCacheOnRerun(t *testing.T) {
	backend := &dictBackend{}
	tr := newTranslator(t, testConfig(), backend)
	data := twoPages()

	first, err := tr.Translate(context.Background(), Input{Data: data})
	if err != nil {
		t.Fatal(err)
	}
	calls := backend.callCount()
	second, err := tr.Translate(context.Background(), Input{Data: data})
	if err != nil {
		t.Fatal(err)
	}

	if backend.callCount() != calls {
		t.Errorf("backend called %d more times", backend.callCount()-calls)
	}
	if second.Report.Translation.CacheHits != 2 {
		t.Errorf("CacheHits = %d, want 2", second.Report.Translation.CacheHits)
	}
	if diff := cmp.Diff(pageText(t, first.Mono()), pageText(t, second.Mono())); diff != "" {
		t.Errorf("rerun output differs (-first +second):\n%s", diff)
	}
}

func TestTranslatePageSelection(t *testing.T) {
	cfg := testConfig()
	cfg.Pages = "2"
	cfg.Output.NoDual = true
	tr := newTranslator(t, cfg, &dictBackend{})

	res, err := tr.Translate(context.Background(), Input{Data: twoPages()})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Get(KindDual, false); ok {
		t.Error("dual output produced with NoDual")
	}
	want := []string{"Hello world", "second page text"}
	if diff := cmp.Diff(want, pageText(t, res.Mono())); diff != "" {
		t.Errorf("mono text (-want +got):\n%s", diff)
	}
	if res.Report.SelectedPages != 1 || res.Report.TranslatedPages != 1 {
		t.Errorf("selected=%d translated=%d", res.Report.SelectedPages, res.Report.TranslatedPages)
	}
}

func TestTranslateWatermarkVariants(t *testing.T) {
	cfg := testConfig()
	cfg.Output.WatermarkMode = config.WatermarkBoth
	tr := newTranslator(t, cfg, &dictBackend{})

	res, err := tr.Translate(context.Background(), Input{Data: twoPages()})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Artifacts) != 4 {
		t.Fatalf("artifacts = %d, want 4", len(res.Artifacts))
	}
	for _, kind := range []string{KindMono, KindDual} {
		plain, ok1 := res.Get(kind, false)
		marked, ok2 := res.Get(kind, true)
		if !ok1 || !ok2 {
			t.Fatalf("%s variants missing", kind)
		}
		if len(marked) <= len(plain) {
			t.Errorf("%s watermarked output is not larger", kind)
		}
	}
	if res.Mono() == nil {
		t.Error("Mono() = nil")
	}
}

func TestTranslateStageErrors(t *testing.T) {
	scanned := testpdf.New()
	scanned.Page(612, 792).Image(0, 0, 612, 792)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		data  []byte
		stage Stage
		is    error
	}{
		{"not a pdf", context.Background(), []byte("plain text"), StageParse, nil},
		{"scanned", context.Background(), scanned.Bytes(), StageParse, document.ErrScannedDocument},
		{"cancelled", cancelled, twoPages(), StageClassify, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTranslator(t, testConfig(), &dictBackend{})
			_, err := tr.Translate(tt.ctx, Input{Data: tt.data})
			var se *StageError
			if !errors.As(err, &se) {
				t.Fatalf("Translate() error = %v, want *StageError", err)
			}
			if se.Stage != tt.stage {
				t.Errorf("Stage = %s, want %s", se.Stage, tt.stage)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("error %v is not %v", err, tt.is)
			}
			if got := tr.Status(); got.Stage != StageFailed || got.Error == "" {
				t.Errorf("Status() = %+v", got)
			}
		})
	}
}

func TestTranslateWritesReport(t *testing.T) {
	cfg := testConfig()
	cfg.ReportPath = filepath.Join(t.TempDir(), "out", "report.json")
	tr := newTranslator(t, cfg, &dictBackend{})

	if _, err := tr.Translate(context.Background(), Input{Name: "two.pdf", Data: twoPages()}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(cfg.ReportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var got struct {
		Source    string       `json:"source"`
		Target    string       `json:"target_language"`
		Units     int          `json:"units"`
		Fallbacks []UnitRecord `json:"fallbacks"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Source != "two.pdf" || got.Target != "de" || got.Units != 2 || got.Fallbacks == nil {
		t.Errorf("report = %+v", got)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAI.APIKey = ""
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("New() without backend or API key succeeded")
	}
}

func TestSetStatusClampsProgress(t *testing.T) {
	tr := &Translator{}
	tests := []struct {
		stage Stage
		in    int
		want  Status
	}{
		{StageTranslate, -5, Status{Stage: StageTranslate, Progress: 0, Message: "m"}},
		{StageTranslate, 150, Status{Stage: StageTranslate, Progress: 100, Message: "m"}},
		{Stage("bogus"), 10, Status{Stage: StageFailed, Progress: 10, Message: "m"}},
	}
	for _, tt := range tests {
		tr.setStatus(tt.stage, tt.in, "m")
		if diff := cmp.Diff(tt.want, tr.Status()); diff != "" {
			t.Errorf("setStatus(%s, %d) (-want +got):\n%s", tt.stage, tt.in, diff)
		}
	}
}

func TestStageErrorWrapsCause(t *testing.T) {
	cause := document.ErrScannedDocument
	tests := []struct {
		name  string
		stage Stage
		want  string
	}{
		{"parse", StageParse, "parse failed: "},
		{"rebuild", StageRebuild, "rebuild failed: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error = stageError(tt.stage, cause)
			var se *StageError
			if !errors.As(err, &se) || se.Stage != tt.stage {
				t.Fatalf("errors.As() = %v", err)
			}
			if !errors.Is(err, cause) {
				t.Errorf("%v does not wrap %v", err, cause)
			}
			if !strings.HasPrefix(err.Error(), tt.want) {
				t.Errorf("Error() = %q", err.Error())
			}
			if !IsValidStage(se.Stage) {
				t.Errorf("IsValidStage(%s) = false", se.Stage)
			}
		})
	}
	if !IsValidStage(StageFailed) || IsValidStage(Stage("bogus")) {
		t.Error("IsValidStage misreports StageFailed or an unknown stage")
	}
}
