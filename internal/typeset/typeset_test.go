package typeset

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pdf-translator/internal/document"
	"pdf-translator/internal/segment"
	"pdf-translator/internal/testpdf"
)

// textUnit is a unit in a box of lines lines of width w at size 10. The box
// leaves room for the ascent of the bundled substitute fonts.
func textUnit(text string, w float64, lines int) *segment.TranslationUnit {
	const size, pitch, top = 10.0, 12.0, 700.0
	baseline := top - 0.95*size
	bottom := baseline - float64(lines-1)*pitch - 0.25*size
	return &segment.TranslationUnit{
		ID:             "u1",
		SourceText:     "source",
		TranslatedText: text,
		BBox:           document.Rect{LLX: 72, LLY: bottom, URX: 72 + w, URY: top},
		FontName:       "Helvetica",
		FontSize:       size,
		LineCount:      lines,
		LinePitch:      pitch,
		FirstBaseline:  baseline,
		Status:         segment.StatusTranslated,
	}
}

func runText(box *LayoutBox) string {
	var parts []string
	for _, r := range box.Runs {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, " ")
}

func TestTypesetFits(t *testing.T) {
	e := NewEngine(NewFontRegistry(nil), DefaultOptions())
	u := textUnit("Hallo Welt", 300, 2)
	box, err := e.Typeset(u)
	if err != nil {
		t.Fatalf("Typeset() error = %v", err)
	}
	if box.Stage != StageFit || box.Overflow || box.Size != 10 || box.Lines != 1 {
		t.Errorf("box = stage %s size %v lines %d overflow %v", box.Stage, box.Size, box.Lines, box.Overflow)
	}
	if runText(box) != "Hallo Welt" {
		t.Errorf("runs = %q", runText(box))
	}
	run := box.Runs[0]
	if run.Origin.X != 72 || run.BBox.URY > u.BBox.URY+fitTolerance {
		t.Errorf("run origin %v bbox %v outside box %v", run.Origin, run.BBox, u.BBox)
	}
	if len(run.Glyphs) != len("Hallo Welt") {
		t.Errorf("got %d glyphs", len(run.Glyphs))
	}

	subs := e.Substitutes()
	if len(subs) != 1 || subs[0] != box.Font || subs[0].Substitute == nil {
		t.Fatalf("Substitutes() = %v", subs)
	}
	ids, glyphs := subs[0].Substitute.Glyphs()
	var text []string
	for _, id := range ids {
		if glyphs[id].Width <= 0 && glyphs[id].Text != " " {
			t.Errorf("glyph %d has width %v", id, glyphs[id].Width)
		}
		text = append(text, glyphs[id].Text)
	}
	for _, want := range []string{"H", "a", "l", "o", "W", "e", "t"} {
		found := false
		for _, s := range text {
			found = found || s == want
		}
		if !found {
			t.Errorf("glyph for %q not recorded", want)
		}
	}
}

func TestTypesetReusesFont(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).Text(72, 700, 10, "Source text")
	doc, err := document.Parse(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	run := doc.Pages[0].Runs[0]

	u := textUnit("Quelltext", 300, 1)
	u.Font = run.Font
	e := NewEngine(nil, DefaultOptions())
	box, err := e.Typeset(u)
	if err != nil {
		t.Fatalf("Typeset() error = %v", err)
	}
	if box.Font != run.Font {
		t.Errorf("font not reused: %v", box.Font.BaseFont)
	}
	if len(e.Substitutes()) != 0 {
		t.Error("substitute font created for encodable text")
	}
	codes := box.Runs[0].Glyphs
	if got := string(document.CodeBytes(glyphCodes(codes))); got != "Quelltext" {
		t.Errorf("codes = %q", got)
	}
	// Helvetica widths: Q 778 u 556 e 556 l 222 l 222 t 278 e 556 x 500 t 278
	want := (778 + 556 + 556 + 222 + 222 + 278 + 556 + 500 + 278) / 1000.0 * 10
	if math.Abs(box.Runs[0].Advance-want) > 1e-6 {
		t.Errorf("advance = %v, want %v", box.Runs[0].Advance, want)
	}
}

func glyphCodes(gs []document.Glyph) []document.Code {
	out := make([]document.Code, len(gs))
	for i, g := range gs {
		out[i] = g.Code
	}
	return out
}

func TestTypesetNonLatinSubstitute(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).Text(72, 700, 10, "Hello")
	doc, err := document.Parse(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}

	u := textUnit("Привет, мир", 300, 1)
	u.Font = doc.Pages[0].Runs[0].Font
	box, err := NewEngine(nil, DefaultOptions()).Typeset(u)
	if err != nil {
		t.Fatalf("Typeset() error = %v", err)
	}
	if box.Font == u.Font || box.Font.Substitute == nil {
		t.Fatalf("expected a substitute font, got %s", box.Font.BaseFont)
	}
	if runText(box) != "Привет, мир" {
		t.Errorf("runs = %q", runText(box))
	}
	for _, g := range box.Runs[0].Glyphs {
		if g.Code.Value == 0 {
			t.Error("missing glyph in output")
		}
	}
}

// inside reports whether r lies in box, allowing fitTolerance on each edge.
func inside(box, r document.Rect) bool {
	return r.LLX >= box.LLX-fitTolerance && r.LLY >= box.LLY-fitTolerance &&
		r.URX <= box.URX+fitTolerance && r.URY <= box.URY+fitTolerance
}

func TestTypesetContainment(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).Text(72, 700, 12, "Hello world")
	doc, err := document.Parse(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	src := doc.Pages[0].Runs[0]
	sourceUnit := func(text string) *segment.TranslationUnit {
		return &segment.TranslationUnit{
			ID:             "u1",
			SourceText:     src.Text,
			TranslatedText: text,
			BBox:           src.BBox,
			Font:           src.Font,
			FontName:       src.Font.BaseFont,
			FontSize:       12,
			LineCount:      1,
			FirstBaseline:  src.Baseline(),
			Status:         segment.StatusTranslated,
		}
	}

	tests := []struct {
		name   string
		unit   *segment.TranslationUnit
		target string
	}{
		{"cyrillic substitute in a one line box", sourceUnit("Привет мир"), "ru"},
		{"source font in a one line box", sourceUnit("Hallo Welt"), "de"},
		{"taller substitute on the first line", textUnit("Привет, мир", 300, 1), "ru"},
		{"wrapped into the original lines", textUnit("one two three four five six", 80, 3), "en"},
		{"longer than the original", textUnit("eins zwei drei vier fünf sechs sieben", 80, 2), "de"},
		{"emergency wrap", textUnit("Donaudampfschifffahrtsgesellschaft", 60, 6), "de"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box, err := NewEngine(nil, Options{Target: tt.target}).Typeset(tt.unit)
			if err != nil {
				t.Fatalf("Typeset() error = %v", err)
			}
			if box.Overflow {
				t.Fatalf("stage = %s, want a layout inside the box", box.Stage)
			}
			if len(box.Runs) == 0 {
				t.Fatal("no runs")
			}
			for _, r := range box.Runs {
				if !inside(tt.unit.BBox, r.BBox) {
					t.Errorf("run %q bbox %+v outside unit box %+v (stage %s, size %v)", r.Text, r.BBox, tt.unit.BBox, box.Stage, box.Size)
				}
			}
		})
	}
}

func TestTypesetStages(t *testing.T) {
	opts := DefaultOptions()
	long := strings.Repeat("translation ", 12)
	tests := []struct {
		name      string
		unit      *segment.TranslationUnit
		wantStage []Stage
	}{
		{"fits", textUnit("short", 200, 1), []Stage{StageFit}},
		{"wraps within original lines", textUnit("one two three four five six", 80, 3), []Stage{StageFit}},
		{"needs smaller text", textUnit("one two three four five six", 90, 1), []Stage{StageSize}},
		{"overflows", textUnit(long, 60, 1), []Stage{StageOverflow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box, err := NewEngine(nil, opts).Typeset(tt.unit)
			if err != nil {
				t.Fatalf("Typeset() error = %v", err)
			}
			ok := false
			for _, s := range tt.wantStage {
				ok = ok || box.Stage == s
			}
			if !ok {
				t.Errorf("stage = %s, want %v (size %v, lines %d)", box.Stage, tt.wantStage, box.Size, box.Lines)
			}
			if box.Size < opts.SizeFloor*tt.unit.FontSize-1e-9 || box.Size > tt.unit.FontSize {
				t.Errorf("size %v out of bounds", box.Size)
			}
			if box.Overflow != (box.Stage == StageOverflow) {
				t.Errorf("Overflow = %v at stage %s", box.Overflow, box.Stage)
			}
			got := strings.ReplaceAll(runText(box), " ", "")
			want := strings.ReplaceAll(strings.TrimSpace(tt.unit.TranslatedText), " ", "")
			if got != want {
				t.Errorf("text changed: %q, want %q", got, want)
			}
			for i := 1; i < len(box.Runs); i++ {
				if d := box.Runs[i-1].Origin.Y - box.Runs[i].Origin.Y; math.Abs(d-box.LinePitch) > 1e-6 {
					t.Errorf("line %d pitch %v, want %v", i, d, box.LinePitch)
				}
			}
		})
	}
}

func TestTypesetEmergencyWrap(t *testing.T) {
	u := textUnit("Donaudampfschifffahrtsgesellschaft", 60, 6)
	box, err := NewEngine(nil, DefaultOptions()).Typeset(u)
	if err != nil {
		t.Fatal(err)
	}
	if box.Stage != StageWrap {
		t.Fatalf("stage = %s, want wrap", box.Stage)
	}
	if box.Lines < 2 {
		t.Errorf("lines = %d", box.Lines)
	}
	for _, r := range box.Runs {
		if r.BBox.Width() > u.BBox.Width()+fitTolerance {
			t.Errorf("line %q is %v wide", r.Text, r.BBox.Width())
		}
	}
}

func TestTypesetMandatoryBreak(t *testing.T) {
	box, err := NewEngine(nil, DefaultOptions()).Typeset(textUnit("first\nsecond", 300, 2))
	if err != nil {
		t.Fatal(err)
	}
	var texts []string
	for _, r := range box.Runs {
		texts = append(texts, r.Text)
	}
	if diff := cmp.Diff([]string{"first", "second"}, texts); diff != "" {
		t.Errorf("lines (-want +got):\n%s", diff)
	}
}

func TestTypesetCoverage(t *testing.T) {
	_, err := NewEngine(nil, Options{Target: "zh"}).Typeset(textUnit("机器翻译", 300, 1))
	var ce *CoverageError
	if !errors.As(err, &ce) {
		t.Fatalf("Typeset() error = %v, want CoverageError", err)
	}
	if diff := cmp.Diff([]string{"Hani"}, ce.Scripts); diff != "" {
		t.Errorf("scripts (-want +got):\n%s", diff)
	}
}

func TestDescending(t *testing.T) {
	tests := []struct {
		from, to, step float64
		want           []float64
	}{
		{1.2, 1.0, 0.1, []float64{1.1, 1.0}},
		{1.0, 1.0, 0.1, nil},
		{10, 6, 1.5, []float64{8.5, 7, 6}},
	}
	for _, tt := range tests {
		got := descending(tt.from, tt.to, tt.step)
		if len(got) != len(tt.want) {
			t.Errorf("descending(%v, %v, %v) = %v, want %v", tt.from, tt.to, tt.step, got, tt.want)
			continue
		}
		for i := range got {
			if math.Abs(got[i]-tt.want[i]) > 1e-9 {
				t.Errorf("descending(%v, %v, %v) = %v, want %v", tt.from, tt.to, tt.step, got, tt.want)
			}
		}
	}
}

func TestFontHelpers(t *testing.T) {
	styles := map[string]Style{
		"Helvetica":              Regular,
		"Times-BoldItalic":       BoldItalic,
		"ABCDEF+NimbusSans-Bold": Bold,
		"Arial-ItalicMT":         Italic,
	}
	for name, want := range styles {
		if got := StyleOf(name); got != want {
			t.Errorf("StyleOf(%q) = %v, want %v", name, got, want)
		}
	}
	if diff := cmp.Diff([]string{"Latn", "Cyrl"}, ScriptsOf("abc мир 123")); diff != "" {
		t.Errorf("ScriptsOf (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Hani"}, targetScripts("zh")); diff != "" {
		t.Errorf("targetScripts(zh) (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Hani", "Hira", "Kana"}, targetScripts("ja")); diff != "" {
		t.Errorf("targetScripts(ja) (-want +got):\n%s", diff)
	}
}

func TestBreakPieces(t *testing.T) {
	pieces := breakPieces([]rune("hello world, again"))
	var got []string
	runes := []rune("hello world, again")
	for _, p := range pieces {
		got = append(got, string(runes[p.start:p.end]))
	}
	if diff := cmp.Diff([]string{"hello ", "world, ", "again"}, got); diff != "" {
		t.Errorf("breakPieces (-want +got):\n%s", diff)
	}
}
