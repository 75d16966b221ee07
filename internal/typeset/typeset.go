// Package typeset lays translated text out inside the box of the text it
// replaces, shrinking spacing and size in bounded steps when it does not fit.
package typeset

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"pdf-translator/internal/document"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/segment"
)

// Options bound the overflow relaxations. Sizes and spacings are relative:
// SizeFloor and SizeStep to the unit's font size, MinLineSpacing and
// SpacingStep to the font size in use.
type Options struct {
	SizeFloor      float64
	SizeStep       float64
	MinLineSpacing float64
	SpacingStep    float64
	// Target is the language the text is in, for font choice and shaping.
	Target string
}

func DefaultOptions() Options {
	return Options{SizeFloor: 0.6, SizeStep: 0.05, MinLineSpacing: 1.0, SpacingStep: 0.05}
}

// Stage names the relaxation a layout needed.
type Stage string

const (
	StageFit      Stage = "fit"
	StageSpacing  Stage = "spacing"
	StageSize     Stage = "size"
	StageWrap     Stage = "wrap"
	StageOverflow Stage = "overflow"
)

// fitTolerance absorbs rounding in box comparisons, in points.
const fitTolerance = 0.5

// LayoutBox is a unit's translated text laid out as new glyph runs in page space.
type LayoutBox struct {
	Unit *segment.TranslationUnit
	Runs []*document.GlyphRun
	Font *document.FontResource
	Size float64
	// Lines is the number of lines; LinePitch their baseline distance.
	Lines     int
	LinePitch float64
	Stage     Stage
	// Overflow is set when the text extends beyond the unit's box.
	Overflow bool
}

// Engine typesets units of one document. It owns the substitute fonts
// created for that document.
type Engine struct {
	registry *FontRegistry
	opts     Options

	mu          sync.Mutex
	substitutes map[*Face]*document.FontResource
}

func NewEngine(registry *FontRegistry, opts Options) *Engine {
	def := DefaultOptions()
	if opts.SizeFloor <= 0 || opts.SizeFloor > 1 {
		opts.SizeFloor = def.SizeFloor
	}
	if opts.SizeStep <= 0 {
		opts.SizeStep = def.SizeStep
	}
	if opts.MinLineSpacing <= 0 {
		opts.MinLineSpacing = def.MinLineSpacing
	}
	if opts.SpacingStep <= 0 {
		opts.SpacingStep = def.SpacingStep
	}
	if registry == nil {
		registry = NewFontRegistry(nil)
	}
	return &Engine{registry: registry, opts: opts, substitutes: make(map[*Face]*document.FontResource)}
}

// Substitutes returns the substitute fonts created so far, ordered by name.
func (e *Engine) Substitutes() []*document.FontResource {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*document.FontResource, 0, len(e.substitutes))
	for _, f := range e.substitutes {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BaseFont < out[j].BaseFont })
	return out
}

func (e *Engine) substitute(face *Face) *document.FontResource {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.substitutes[face]; ok {
		return f
	}
	f := document.NewSubstituteFont(face.PostScriptName, face.Data, face.UnitsPerEm, face.Ascent, face.Descent)
	e.substitutes[face] = f
	return f
}

// Typeset lays out the unit's translated text.
func (e *Engine) Typeset(u *segment.TranslationUnit) (*LayoutBox, error) {
	if u.FontSize <= 0 {
		return nil, fmt.Errorf("unit %s has no font size", u.ID)
	}
	text := strings.TrimSpace(u.Text())
	runes := []rune(text)

	var sh *shaped
	var face *Face
	font := u.Font
	if font != nil && font.Substitute == nil {
		if s, ok := shapeSimple(font, runes); ok {
			sh = s
		}
	}
	if sh == nil {
		var err error
		face, err = e.registry.FaceFor(text, e.opts.Target, StyleOf(u.FontName))
		if err != nil {
			return nil, err
		}
		font = e.substitute(face)
		sh = shapeFace(face, runes, e.opts.Target)
	}

	l := &layouter{unit: u, sh: sh, pieces: breakPieces(runes), font: font}
	a, stage := e.fit(l)

	box := &LayoutBox{
		Unit:      u,
		Font:      font,
		Size:      a.size,
		Lines:     len(a.lines),
		LinePitch: a.pitch,
		Stage:     stage,
		Overflow:  stage == StageOverflow,
	}
	box.Runs = l.runs(a)
	if face != nil {
		l.recordGlyphs(face, font, a)
	}

	if box.Overflow {
		logger.Warn("translated text overflows its box",
			logger.Page(u.Page),
			logger.String("unit", u.ID),
			logger.Int("lines", box.Lines),
			logger.Int("originalLines", u.LineCount))
	} else {
		logger.Debug("unit typeset",
			logger.Page(u.Page),
			logger.String("unit", u.ID),
			logger.String("stage", string(stage)),
			logger.Float64("size", a.size))
	}
	return box, nil
}

// fit tries the relaxations in order and returns the first layout that fits.
func (e *Engine) fit(l *layouter) (*attempt, Stage) {
	u := l.unit
	size0 := u.FontSize
	ratio0 := 1.2
	if u.LinePitch > 0 {
		ratio0 = u.LinePitch / size0
	}
	minRatio := math.Min(ratio0, e.opts.MinLineSpacing)
	floor := size0 * e.opts.SizeFloor

	if a := l.layout(size0, ratio0, false); a.fits {
		return a, StageFit
	}
	for _, r := range descending(ratio0, minRatio, e.opts.SpacingStep) {
		if a := l.layout(size0, r, false); a.fits {
			return a, StageSpacing
		}
	}
	for _, s := range descending(size0, floor, e.opts.SizeStep*size0) {
		if a := l.layout(s, minRatio, false); a.fits {
			return a, StageSize
		}
	}
	a := l.layout(floor, minRatio, true)
	if a.fits {
		return a, StageWrap
	}
	return a, StageOverflow
}

// descending lists from-step, from-2·step, … down to to, always ending at
// to when to < from.
func descending(from, to, step float64) []float64 {
	var out []float64
	if step <= 0 || to >= from-1e-9 {
		return nil
	}
	for v := from - step; v > to+1e-9; v -= step {
		out = append(out, v)
	}
	return append(out, to)
}

type span struct {
	start, end int
	// width in 1/1000 em, trailing whitespace excluded.
	width float64
}

type attempt struct {
	size, pitch float64
	lines       []span
	baseline    float64
	fits        bool
}

type layouter struct {
	unit   *segment.TranslationUnit
	sh     *shaped
	pieces []piece
	font   *document.FontResource
}

func (l *layouter) ascent(size float64) float64 {
	return l.font.Ascent / 1000 * size
}

func (l *layouter) descent(size float64) float64 {
	return l.font.Descent / 1000 * size
}

// layout breaks the text at size with the given pitch ratio. With emergency
// set, pieces wider than the box are split between characters.
func (l *layouter) layout(size, ratio float64, emergency bool) *attempt {
	u := l.unit
	maxW := u.BBox.Width() / size * 1000
	tol := fitTolerance / size * 1000

	var lines []span
	cur := span{start: -1}
	push := func() {
		if cur.start >= 0 {
			cur.width = l.sh.width(cur.start, l.sh.trimEnd(cur.start, cur.end))
			lines = append(lines, cur)
		}
		cur = span{start: -1}
	}
	for _, p := range l.pieces {
		for _, q := range l.split(p, maxW, emergency) {
			trimmed := l.sh.width(q.start, l.sh.trimEnd(q.start, q.end))
			if cur.start >= 0 && l.sh.width(cur.start, cur.end)+trimmed > maxW+tol {
				push()
			}
			if cur.start < 0 {
				cur.start = q.start
			}
			cur.end = q.end
		}
		if p.mandatory {
			push()
		}
	}
	push()

	a := &attempt{size: size, pitch: ratio * size, lines: lines}
	asc, desc := l.ascent(size), l.descent(size)
	depth := float64(max(len(lines)-1, 0)) * a.pitch

	// The first baseline stays where the source text had it unless the
	// font's extent pushes the block out of the box; then it moves inside.
	top := u.BBox.URY - asc
	a.baseline = u.FirstBaseline
	if a.baseline == 0 || a.baseline > top {
		a.baseline = top
	}
	if bottom := u.BBox.LLY - desc + depth; a.baseline < bottom {
		a.baseline = min(bottom, top)
	}

	widthOK := true
	for _, ln := range lines {
		if ln.width > maxW+tol {
			widthOK = false
		}
	}
	heightOK := a.baseline+asc <= u.BBox.URY+fitTolerance &&
		a.baseline-depth+desc >= u.BBox.LLY-fitTolerance
	a.fits = widthOK && heightOK
	return a
}

// split cuts a piece wider than maxW into chunks that fit, when allowed.
func (l *layouter) split(p piece, maxW float64, emergency bool) []piece {
	end := l.sh.trimEnd(p.start, p.end)
	if !emergency || l.sh.width(p.start, end) <= maxW {
		return []piece{p}
	}
	var out []piece
	start, w := p.start, 0.0
	for i := p.start; i < end; i++ {
		if i > start && w+l.sh.adv[i] > maxW {
			out = append(out, piece{start: start, end: i})
			start, w = i, 0
		}
		w += l.sh.adv[i]
	}
	return append(out, piece{start: start, end: p.end})
}

// runs builds one glyph run per line, left aligned (right aligned for
// right-to-left text) at the unit's box edge.
func (l *layouter) runs(a *attempt) []*document.GlyphRun {
	u := l.unit
	out := make([]*document.GlyphRun, 0, len(a.lines))
	for i, ln := range a.lines {
		end := l.sh.trimEnd(ln.start, ln.end)
		glyphs := l.sh.lineGlyphs(ln.start, end)
		if len(glyphs) == 0 {
			continue
		}
		width := ln.width / 1000 * a.size
		y := a.baseline - float64(i)*a.pitch
		x := u.BBox.LLX
		if l.sh.rtl {
			x = u.BBox.URX - width
		}

		run := &document.GlyphRun{
			Index:         -1,
			OpIndex:       -1,
			TextObjectEnd: -1,
			Font:          l.font,
			FontSize:      a.size,
			Size:          a.size,
			Text:          string(l.sh.runes[ln.start:end]),
			Origin:        document.Point{X: x, Y: y},
			BBox:          document.NewRect(x, y+l.descent(a.size), x+width, y+l.ascent(a.size)),
			Color:         u.Color,
			CTM:           document.Identity,
			TextMatrix:    document.Matrix{1, 0, 0, 1, x, y},
			HScale:        1,
			Advance:       width,
			Upright:       true,
		}
		pen := x
		for _, g := range glyphs {
			adv := g.advance / 1000 * a.size
			run.Glyphs = append(run.Glyphs, document.Glyph{Code: g.code, Origin: document.Point{X: pen, Y: y}, Advance: adv})
			pen += adv
		}
		out = append(out, run)
	}
	return out
}

// recordGlyphs marks the glyphs painted by the layout as used in the
// substitute font, with their nominal widths and text.
func (l *layouter) recordGlyphs(face *Face, font *document.FontResource, a *attempt) {
	used := make(map[int]bool)
	for _, ln := range a.lines {
		end := l.sh.trimEnd(ln.start, ln.end)
		for i, g := range l.sh.glyphs {
			if g.cluster >= ln.start && g.cluster < end {
				used[i] = true
			}
		}
	}
	for i, g := range l.sh.glyphs {
		if !used[i] {
			continue
		}
		gid := uint16(g.code.Value)
		font.Substitute.Use(gid, face.Advance(gid), l.sh.clusterText(i))
	}
}
