package segment

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"pdf-translator/internal/document"
	"pdf-translator/internal/layout"
	"pdf-translator/internal/logger"
)

// Options tunes run assignment and merging.
type Options struct {
	// StraddleThreshold is the fraction of a run's area that must fall in its
	// region, outside any preserved region, for the run to be translated.
	StraddleThreshold float64
	// ParagraphBreakFactor bounds the baseline drop (in ems) between lines of a unit.
	ParagraphBreakFactor float64
	// WordGapFactor bounds the horizontal gap (in ems) between runs of a line.
	WordGapFactor float64
	FormulaFont   *regexp.Regexp
	FormulaChar   *regexp.Regexp
	// SplitShortLines ends a unit after a line shorter than
	// ShortLineSplitFactor times the unit's widest line.
	SplitShortLines      bool
	ShortLineSplitFactor float64
	// MinTextLength leaves units with fewer runes untouched.
	MinTextLength int
	// TranslateTableText treats table regions as text.
	TranslateTableText bool
	LanguageHint       string
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		StraddleThreshold:    0.5,
		ParagraphBreakFactor: 1.8,
		WordGapFactor:        1.5,
		ShortLineSplitFactor: 0.8,
	}
}

// sizeTolerance is the relative size difference still treated as the same size.
const sizeTolerance = 0.05

type builder struct {
	page    *document.Page
	regions []layout.Region
	opts    Options

	units []*TranslationUnit
	cur   *TranslationUnit
	// curRegion is the index of cur's region; lastRun is cur's last run.
	curRegion int
	lastRun   *document.GlyphRun
	lineStart float64
	lineEnd   float64
	maxLine   float64
	text      strings.Builder
}

// Segment assigns the page's runs to regions and merges them into units.
// Runs placed in a unit are claimed on the page; everything else stays
// untouched content.
func Segment(page *document.Page, regions []layout.Region, opts Options) []*TranslationUnit {
	if opts.StraddleThreshold <= 0 {
		opts.StraddleThreshold = 0.5
	}
	if opts.ParagraphBreakFactor <= 0 {
		opts.ParagraphBreakFactor = 1.8
	}
	if opts.WordGapFactor <= 0 {
		opts.WordGapFactor = 1.5
	}

	b := &builder{page: page, regions: regions, opts: opts, curRegion: -1}
	preserved := 0
	for _, run := range page.Runs {
		if strings.TrimSpace(run.Text) == "" {
			continue
		}
		region, ok := b.assign(run)
		if !ok {
			preserved++
			b.flush()
			continue
		}
		b.add(run, region)
	}
	b.flush()

	units := b.claim()
	logger.Debug("page segmented",
		logger.Page(page.Index),
		logger.Int("runs", len(page.Runs)),
		logger.Int("preserved", preserved),
		logger.Int("units", len(units)))
	return units
}

// assign returns the index of the region a run is translated in, or false
// when the run is preserved.
func (b *builder) assign(run *document.GlyphRun) (int, bool) {
	if !run.Upright || run.RenderMode == 3 {
		return -1, false
	}
	if b.isFormula(run) {
		return -1, false
	}

	best := -1
	center := document.Point{X: (run.BBox.LLX + run.BBox.URX) / 2, Y: (run.BBox.LLY + run.BBox.URY) / 2}
	for i, r := range b.regions {
		if !b.translatable(r.Label) || !containsPoint(r.BBox, center) {
			continue
		}
		if best < 0 || b.before(i, best) {
			best = i
		}
	}
	if best < 0 {
		return -1, false
	}
	return best, b.effectiveFraction(run, best) > b.opts.StraddleThreshold
}

func (b *builder) translatable(l layout.Label) bool {
	return l.Translatable() || (b.opts.TranslateTableText && l == layout.Table)
}

func (b *builder) preserves(l layout.Label) bool {
	return l.Preserve() && !(b.opts.TranslateTableText && l == layout.Table)
}

// before orders candidate regions: smaller area, higher confidence, then
// reading order (top to bottom, left to right).
func (b *builder) before(i, j int) bool {
	ri, rj := b.regions[i], b.regions[j]
	ai, aj := ri.BBox.Area(), rj.BBox.Area()
	if math.Abs(ai-aj) > 1e-6 {
		return ai < aj
	}
	if ri.Confidence != rj.Confidence {
		return ri.Confidence > rj.Confidence
	}
	if ri.BBox.URY != rj.BBox.URY {
		return ri.BBox.URY > rj.BBox.URY
	}
	return ri.BBox.LLX < rj.BBox.LLX
}

// effectiveFraction is the share of the run inside region idx that is not
// covered by a higher-priority preserved region.
func (b *builder) effectiveFraction(run *document.GlyphRun, idx int) float64 {
	box := run.BBox
	if box.Area() <= 0 {
		// degenerate boxes count as a point
		c := document.Point{X: (box.LLX + box.URX) / 2, Y: (box.LLY + box.URY) / 2}
		for _, r := range b.regions {
			if b.preserves(r.Label) && r.Label.Priority() > b.regions[idx].Label.Priority() && containsPoint(r.BBox, c) {
				return 0
			}
		}
		return 1
	}

	inside := box.Intersect(b.regions[idx].BBox)
	if inside.Empty() {
		return 0
	}
	var covered []document.Rect
	prio := b.regions[idx].Label.Priority()
	for _, r := range b.regions {
		if !b.preserves(r.Label) || r.Label.Priority() <= prio {
			continue
		}
		if c := inside.Intersect(r.BBox); !c.Empty() {
			covered = append(covered, c)
		}
	}
	return (inside.Area() - unionArea(covered)) / box.Area()
}

func (b *builder) isFormula(run *document.GlyphRun) bool {
	if b.opts.FormulaFont != nil && run.Font != nil && b.opts.FormulaFont.MatchString(run.Font.BaseFont) {
		return true
	}
	if b.opts.FormulaChar != nil && b.opts.FormulaChar.MatchString(run.Text) {
		return true
	}
	return symbolOnly(run.Text)
}

// symbolOnly reports whether every non-space rune is a math symbol, modifier
// or combining mark.
func symbolOnly(s string) bool {
	seen := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		if !unicode.In(r, unicode.Sm, unicode.Sk, unicode.Lm, unicode.Mn) {
			return false
		}
		seen = true
	}
	return seen
}

func (b *builder) add(run *document.GlyphRun, region int) {
	if b.cur != nil && b.continues(run, region) {
		return
	}
	b.flush()
	b.cur = newUnit(b.page.Index, b.regions[region].Label, run)
	b.cur.LanguageHint = b.opts.LanguageHint
	b.curRegion = region
	b.lastRun = run
	b.lineStart, b.lineEnd = run.BBox.LLX, run.BBox.URX
	b.maxLine = 0
	b.text.Reset()
	b.text.WriteString(run.Text)
}

// continues appends run to the current unit when it belongs there.
func (b *builder) continues(run *document.GlyphRun, region int) bool {
	u, prev := b.cur, b.lastRun
	if region != b.curRegion || !sameFont(u.Font, run.Font) {
		return false
	}
	if math.Abs(run.Size-u.FontSize) > sizeTolerance*u.FontSize {
		return false
	}

	em := u.FontSize
	drop := prev.Baseline() - run.Baseline()
	gap := run.BBox.LLX - prev.BBox.URX

	switch {
	case math.Abs(drop) < 0.5*em && gap > -0.5*em && gap < b.opts.WordGapFactor*em:
		if gap > 0.15*em {
			b.joinWord()
		}
		b.text.WriteString(run.Text)
		b.lineEnd = math.Max(b.lineEnd, run.BBox.URX)

	case drop >= 0.5*em && drop <= b.opts.ParagraphBreakFactor*em &&
		run.BBox.LLX < u.BBox.URX && run.BBox.URX > u.BBox.LLX:
		width := b.lineEnd - b.lineStart
		b.maxLine = math.Max(b.maxLine, width)
		if b.opts.SplitShortLines && b.maxLine > 0 && width < b.opts.ShortLineSplitFactor*b.maxLine {
			return false
		}
		b.joinLine(run.Text)
		if u.LineCount == 1 {
			u.LinePitch = drop
		} else {
			u.LinePitch = (u.LinePitch*float64(u.LineCount-1) + drop) / float64(u.LineCount)
		}
		u.LineCount++
		b.lineStart, b.lineEnd = run.BBox.LLX, run.BBox.URX

	default:
		return false
	}

	u.Runs = append(u.Runs, run)
	u.BBox = u.BBox.Union(run.BBox)
	b.lastRun = run
	return true
}

func sameFont(a, b *document.FontResource) bool {
	if a == b {
		return true
	}
	return a != nil && b != nil && a.BaseFont != "" && a.BaseFont == b.BaseFont
}

// joinWord inserts a space between runs of a line unless one is already there.
func (b *builder) joinWord() {
	s := b.text.String()
	if s != "" && !strings.HasSuffix(s, " ") {
		b.text.WriteByte(' ')
	}
}

// joinLine appends the next line, removing end-of-line hyphenation.
func (b *builder) joinLine(next string) {
	s := b.text.String()
	last, _ := utf8.DecodeLastRuneInString(strings.TrimRight(s, " "))
	first, _ := utf8.DecodeRuneInString(strings.TrimLeft(next, " "))

	trimmed := strings.TrimRight(s, " ")
	if strings.HasSuffix(trimmed, "-") && len(trimmed) > 1 {
		before, _ := utf8.DecodeLastRuneInString(trimmed[:len(trimmed)-1])
		if unicode.IsLetter(before) && unicode.IsLower(first) {
			b.text.Reset()
			b.text.WriteString(trimmed[:len(trimmed)-1])
			b.text.WriteString(strings.TrimLeft(next, " "))
			return
		}
	}
	if isCJK(last) && isCJK(first) {
		b.text.Reset()
		b.text.WriteString(trimmed)
		b.text.WriteString(strings.TrimLeft(next, " "))
		return
	}
	b.joinWord()
	b.text.WriteString(strings.TrimLeft(next, " "))
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func (b *builder) flush() {
	if b.cur == nil {
		return
	}
	u := b.cur
	u.SourceText = normalize(b.text.String())
	if u.LineCount == 1 {
		u.LinePitch = 1.2 * u.FontSize
	}
	b.units = append(b.units, u)
	b.cur, b.lastRun, b.curRegion = nil, nil, -1
}

var spaces = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	s = norm.NFKC.String(s)
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// claim drops units too short to translate and claims the runs of the rest.
func (b *builder) claim() []*TranslationUnit {
	out := b.units[:0]
	for _, u := range b.units {
		if u.SourceText == "" || utf8.RuneCountInString(u.SourceText) < b.opts.MinTextLength {
			continue
		}
		ok := true
		for k, run := range u.Runs {
			if err := b.page.Claim(run, u.ID); err != nil {
				if !errors.Is(err, document.ErrAlreadyClaimed) {
					logger.Warn("claim failed", logger.Page(b.page.Index), logger.Err(err))
				}
				for _, r := range u.Runs[:k] {
					b.page.Release(r)
				}
				ok = false
				break
			}
		}
		if ok {
			out = append(out, u)
		}
	}
	return out
}

func containsPoint(r document.Rect, p document.Point) bool {
	return p.X >= r.LLX && p.X <= r.URX && p.Y >= r.LLY && p.Y <= r.URY
}

// unionArea computes the area covered by rects using coordinate compression.
func unionArea(rects []document.Rect) float64 {
	switch len(rects) {
	case 0:
		return 0
	case 1:
		return rects[0].Area()
	}
	xs := make([]float64, 0, 2*len(rects))
	ys := make([]float64, 0, 2*len(rects))
	for _, r := range rects {
		xs = append(xs, r.LLX, r.URX)
		ys = append(ys, r.LLY, r.URY)
	}
	sort.Float64s(xs)
	sort.Float64s(ys)

	area := 0.0
	for i := 0; i+1 < len(xs); i++ {
		for j := 0; j+1 < len(ys); j++ {
			cx, cy := (xs[i]+xs[i+1])/2, (ys[j]+ys[j+1])/2
			for _, r := range rects {
				if cx > r.LLX && cx < r.URX && cy > r.LLY && cy < r.URY {
					area += (xs[i+1] - xs[i]) * (ys[j+1] - ys[j])
					break
				}
			}
		}
	}
	return area
}
