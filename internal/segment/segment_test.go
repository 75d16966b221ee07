package segment

import (
	"math"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pdf-translator/internal/document"
	"pdf-translator/internal/layout"
	"pdf-translator/internal/testpdf"
)

var letter = document.Rect{URX: 612, URY: 792}

func parsePage(t *testing.T, b *testpdf.Builder) *document.Page {
	t.Helper()
	doc, err := document.Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return doc.Pages[0]
}

func wholePage() []layout.Region {
	return []layout.Region{{Label: layout.Text, BBox: letter, Confidence: 1}}
}

func texts(units []*TranslationUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.SourceText
	}
	return out
}

func TestSegmentParagraph(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).Paragraph(72, 700, 10, 12,
		"The quick brown fox jumps over",
		"the lazy dog. This is a transla-",
		"tion test.")
	page := parsePage(t, b)

	units := Segment(page, wholePage(), DefaultOptions())
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1: %q", len(units), texts(units))
	}
	u := units[0]
	want := "The quick brown fox jumps over the lazy dog. This is a translation test."
	if u.SourceText != want {
		t.Errorf("SourceText = %q, want %q", u.SourceText, want)
	}
	if u.LineCount != 3 || math.Abs(u.LinePitch-12) > 1e-9 {
		t.Errorf("LineCount = %d, LinePitch = %v", u.LineCount, u.LinePitch)
	}
	if u.FirstBaseline != 700 || u.FontSize != 10 {
		t.Errorf("FirstBaseline = %v, FontSize = %v", u.FirstBaseline, u.FontSize)
	}
	if u.Status != StatusPending || u.Label != layout.Text || u.ID == "" {
		t.Errorf("unit = %+v", u)
	}
	if page.ClaimedCount() != 3 {
		t.Errorf("claimed %d runs, want 3", page.ClaimedCount())
	}
	for _, run := range page.Runs {
		if owner, _ := page.Owner(run); owner != u.ID {
			t.Errorf("run %d owner = %q", run.Index, owner)
		}
	}
}

func TestSegmentRegions(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).
		Text(72, 700, 12, "Left column text here.").
		Text(330, 700, 12, "Right column text here.").
		Text(100, 300, 10, "Figure 2: caption text.")
	page := parsePage(t, b)

	regions := []layout.Region{
		{Label: layout.Text, BBox: letter, Confidence: 0.5},
		{Label: layout.Text, BBox: document.Rect{LLX: 60, LLY: 600, URX: 300, URY: 750}, Confidence: 0.9},
		{Label: layout.Text, BBox: document.Rect{LLX: 320, LLY: 600, URX: 580, URY: 750}, Confidence: 0.9},
		{Label: layout.Caption, BBox: document.Rect{LLX: 90, LLY: 290, URX: 400, URY: 320}, Confidence: 0.9},
	}
	units := Segment(page, regions, DefaultOptions())

	want := []string{"Left column text here.", "Right column text here.", "Figure 2: caption text."}
	if diff := cmp.Diff(want, texts(units)); diff != "" {
		t.Fatalf("units (-want +got):\n%s", diff)
	}
	if units[2].Label != layout.Caption {
		t.Errorf("caption unit label = %s", units[2].Label)
	}
}

func TestSegmentStraddle(t *testing.T) {
	build := func() *document.Page {
		b := testpdf.New()
		b.Page(612, 792).Text(100, 500, 12, "Straddling label text")
		return parsePage(t, b)
	}

	tests := []struct {
		name      string
		covered   float64
		wantUnits int
	}{
		{"mostly covered by figure", 0.6, 0},
		{"lightly covered by figure", 0.3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := build()
			box := page.Runs[0].BBox
			fig := document.Rect{
				LLX: box.LLX - 10, LLY: box.LLY - 10,
				URX: box.LLX + tt.covered*box.Width(), URY: box.URY + 10,
			}
			regions := append(wholePage(), layout.Region{Label: layout.Figure, BBox: fig, Confidence: 0.9})
			units := Segment(page, regions, DefaultOptions())
			if len(units) != tt.wantUnits {
				t.Errorf("got %d units, want %d", len(units), tt.wantUnits)
			}
			if tt.wantUnits == 0 && page.ClaimedCount() != 0 {
				t.Error("preserved run was claimed")
			}
		})
	}
}

func TestSegmentFormulaOverText(t *testing.T) {
	build := func() *document.Page {
		b := testpdf.New()
		b.Page(612, 792).
			Text(72, 700, 12, "Opening sentence here").
			Text(72, 650, 12, "Inline equation line").
			Text(72, 600, 12, "Closing sentence here")
		return parsePage(t, b)
	}
	grow := func(r document.Rect, d float64) document.Rect {
		return document.Rect{LLX: r.LLX - d, LLY: r.LLY - d, URX: r.URX + d, URY: r.URY + d}
	}

	tests := []struct {
		name    string
		regions func(line document.Rect) []layout.Region
		want    []string
	}{
		{
			name: "formula inside a text region",
			regions: func(line document.Rect) []layout.Region {
				return append(wholePage(), layout.Region{Label: layout.Formula, BBox: grow(line, 2), Confidence: 0.6})
			},
			want: []string{"Opening sentence here", "Closing sentence here"},
		},
		{
			name: "smaller text region inside a formula",
			regions: func(line document.Rect) []layout.Region {
				return append(wholePage(),
					layout.Region{Label: layout.Formula, BBox: grow(line, 20), Confidence: 0.5},
					layout.Region{Label: layout.Text, BBox: grow(line, 1), Confidence: 0.99})
			},
			want: []string{"Opening sentence here", "Closing sentence here"},
		},
		{
			name: "formula touching the line edge",
			regions: func(line document.Rect) []layout.Region {
				edge := document.Rect{LLX: line.URX - 0.1*line.Width(), LLY: line.LLY - 2, URX: line.URX + 10, URY: line.URY + 2}
				return append(wholePage(), layout.Region{Label: layout.Formula, BBox: edge, Confidence: 0.9})
			},
			want: []string{"Opening sentence here", "Inline equation line", "Closing sentence here"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := build()
			line := page.Runs[1]
			units := Segment(page, tt.regions(line.BBox), DefaultOptions())
			if diff := cmp.Diff(tt.want, texts(units)); diff != "" {
				t.Errorf("units (-want +got):\n%s", diff)
			}
			_, claimed := page.Owner(line)
			if wantClaimed := len(tt.want) == 3; claimed != wantClaimed {
				t.Errorf("formula line claimed = %v, want %v", claimed, wantClaimed)
			}
		})
	}
}

func TestSegmentPreservedRuns(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).
		Font("F2", "CMMI10").
		Text(72, 700, 12, "Before the formula text").
		TextIn("F2", 72, 686, 12, "xyz").
		Text(72, 672, 12, "after the formula text").
		Raw("BT /F1 12 Tf 0 1 -1 0 500 300 Tm (Rotated margin label) Tj ET")
	page := parsePage(t, b)

	opts := DefaultOptions()
	opts.FormulaFont = regexp.MustCompile(`CM[^R]`)
	units := Segment(page, wholePage(), opts)

	want := []string{"Before the formula text", "after the formula text"}
	if diff := cmp.Diff(want, texts(units)); diff != "" {
		t.Errorf("units (-want +got):\n%s", diff)
	}
}

func TestSegmentMinTextLength(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).Text(72, 700, 12, "abc").Text(72, 500, 12, "long enough")
	page := parsePage(t, b)

	opts := DefaultOptions()
	opts.MinTextLength = 5
	units := Segment(page, wholePage(), opts)
	if diff := cmp.Diff([]string{"long enough"}, texts(units)); diff != "" {
		t.Errorf("units (-want +got):\n%s", diff)
	}
	if owner, ok := page.Owner(page.Runs[0]); ok {
		t.Errorf("short run claimed by %q", owner)
	}
}

func TestSegmentSplitShortLines(t *testing.T) {
	lines := []string{
		"A long first line of the first paragraph",
		"ends here.",
		"A second paragraph starts right after it",
	}
	for _, split := range []bool{false, true} {
		b := testpdf.New()
		b.Page(612, 792).Paragraph(72, 700, 10, 12, lines...)
		page := parsePage(t, b)

		opts := DefaultOptions()
		opts.SplitShortLines = split
		units := Segment(page, wholePage(), opts)
		want := 1
		if split {
			want = 2
		}
		if len(units) != want {
			t.Errorf("split=%v: got %d units %q, want %d", split, len(units), texts(units), want)
		}
	}
}

func TestSegmentSameLineRuns(t *testing.T) {
	b := testpdf.New()
	b.Page(612, 792).Raw("BT /F1 10 Tf 72 700 Td (Kerned) Tj ET BT /F1 10 Tf 110 700 Td (word) Tj (s) Tj ET")
	page := parsePage(t, b)

	units := Segment(page, wholePage(), DefaultOptions())
	if diff := cmp.Diff([]string{"Kerned words"}, texts(units)); diff != "" {
		t.Errorf("units (-want +got):\n%s", diff)
	}
}

func TestUnionArea(t *testing.T) {
	tests := []struct {
		name  string
		rects []document.Rect
		want  float64
	}{
		{"none", nil, 0},
		{"single", []document.Rect{{URX: 2, URY: 3}}, 6},
		{"overlap", []document.Rect{{URX: 2, URY: 2}, {LLX: 1, LLY: 1, URX: 3, URY: 3}}, 7},
		{"nested", []document.Rect{{URX: 4, URY: 4}, {LLX: 1, LLY: 1, URX: 2, URY: 2}}, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unionArea(tt.rects); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("unionArea() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize("  ﬁne\t text  "); got != "fine text" {
		t.Errorf("normalize = %q", got)
	}
	if !symbolOnly("∑ ≤") || symbolOnly("a ≤ b") || symbolOnly(" ") {
		t.Error("symbolOnly mismatch")
	}
}
