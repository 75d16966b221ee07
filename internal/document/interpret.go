package document

import (
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Glyph is one painted character of a run, positioned in page space.
type Glyph struct {
	Code    Code
	Origin  Point
	Advance float64
}

// GlyphRun is the output of one text-showing operation: glyphs sharing font,
// size, colour and baseline.
type GlyphRun struct {
	// Index is the position in Page.Runs.
	Index int
	// OpIndex is the position of the show operation in Page.Ops.
	OpIndex int
	// TextObjectEnd is the index of the ET closing the enclosing text object, or -1.
	TextObjectEnd int

	Font     *FontResource
	FontName string
	// FontSize is the Tf operand; Size is the effective size in page space.
	FontSize float64
	Size     float64
	Text     string
	Glyphs   []Glyph
	Origin   Point
	BBox     Rect
	Color    Color
	CTM      Matrix
	// TextMatrix is Tm at the start of the operation.
	TextMatrix  Matrix
	HScale      float64
	Rise        float64
	CharSpacing float64
	WordSpacing float64
	RenderMode  int
	// Advance is the horizontal text-space displacement the operation applies to Tm.
	Advance float64
	// Upright is false for rotated or skewed text.
	Upright bool
}

// Baseline is the page-space y of the run's baseline.
func (r *GlyphRun) Baseline() float64 { return r.Origin.Y }

type textState struct {
	font       *FontResource
	fontName   string
	size       float64
	charSpace  float64
	wordSpace  float64
	hScale     float64
	leading    float64
	rise       float64
	renderMode int
}

type graphicsState struct {
	ctm  Matrix
	fill Color
	text textState
}

type interpreter struct {
	ctx       *model.Context
	doc       *Document
	page      *Page
	resources types.Dict

	gs    graphicsState
	stack []graphicsState

	tm, tlm  Matrix
	inText   bool
	textRuns []int

	path    Rect
	hasPath bool
}

func newInterpreter(doc *Document, page *Page) *interpreter {
	return &interpreter{
		ctx:       doc.ctx,
		doc:       doc,
		page:      page,
		resources: page.resources,
		gs: graphicsState{
			ctm:  Identity,
			fill: Black,
			text: textState{hScale: 1},
		},
		tm:  Identity,
		tlm: Identity,
	}
}

func (in *interpreter) run() {
	for i, op := range in.page.Ops {
		in.step(i, op)
	}
}

func (in *interpreter) step(i int, op Op) {
	args := op.Operands
	num := func(k int) float64 {
		if k < len(args) && args[k].Kind == OperandNumber {
			return args[k].Num
		}
		return 0
	}

	switch op.Operator {
	case "q":
		in.stack = append(in.stack, in.gs)
	case "Q":
		if n := len(in.stack); n > 0 {
			in.gs = in.stack[n-1]
			in.stack = in.stack[:n-1]
		}
	case "cm":
		if len(args) == 6 {
			m := Matrix{num(0), num(1), num(2), num(3), num(4), num(5)}
			in.gs.ctm = m.Mul(in.gs.ctm)
		}

	case "g":
		in.gs.fill = grayColor(num(0))
	case "rg":
		in.gs.fill = Color{num(0), num(1), num(2)}
	case "k":
		in.gs.fill = cmykColor(num(0), num(1), num(2), num(3))
	case "cs":
		in.gs.fill = Black
	case "sc", "scn":
		switch countNumbers(args) {
		case 1:
			in.gs.fill = grayColor(num(0))
		case 3:
			in.gs.fill = Color{num(0), num(1), num(2)}
		case 4:
			in.gs.fill = cmykColor(num(0), num(1), num(2), num(3))
		}

	case "BT":
		in.inText = true
		in.tm, in.tlm = Identity, Identity
	case "ET":
		in.inText = false
		for _, idx := range in.textRuns {
			in.page.Runs[idx].TextObjectEnd = i
		}
		in.textRuns = in.textRuns[:0]
	case "Tf":
		if len(args) == 2 && args[0].Kind == OperandName {
			name := string(args[0].Str)
			in.gs.text.fontName = name
			in.gs.text.font = in.page.font(in.doc, name)
			in.gs.text.size = num(1)
		}
	case "Tc":
		in.gs.text.charSpace = num(0)
	case "Tw":
		in.gs.text.wordSpace = num(0)
	case "Tz":
		in.gs.text.hScale = num(0) / 100
	case "TL":
		in.gs.text.leading = num(0)
	case "Ts":
		in.gs.text.rise = num(0)
	case "Tr":
		in.gs.text.renderMode = int(num(0))
	case "Td":
		in.moveLine(num(0), num(1))
	case "TD":
		in.gs.text.leading = -num(1)
		in.moveLine(num(0), num(1))
	case "Tm":
		if len(args) == 6 {
			in.tlm = Matrix{num(0), num(1), num(2), num(3), num(4), num(5)}
			in.tm = in.tlm
		}
	case "T*":
		in.moveLine(0, -in.gs.text.leading)

	case "Tj":
		if len(args) == 1 {
			in.show(i, []Operand{args[0]})
		}
	case "TJ":
		if len(args) == 1 && args[0].Kind == OperandArray {
			in.show(i, args[0].Items)
		}
	case "'":
		in.moveLine(0, -in.gs.text.leading)
		if len(args) == 1 {
			in.show(i, []Operand{args[0]})
		}
	case "\"":
		if len(args) == 3 {
			in.gs.text.wordSpace = num(0)
			in.gs.text.charSpace = num(1)
			in.moveLine(0, -in.gs.text.leading)
			in.show(i, []Operand{args[2]})
		}

	case "Do":
		if len(args) == 1 && args[0].Kind == OperandName {
			in.paintXObject(string(args[0].Str))
		}
	case "BI":
		in.page.Images = append(in.page.Images, in.gs.ctm.TransformRect(Rect{0, 0, 1, 1}))

	case "m", "l":
		in.addPathPoints(Point{num(0), num(1)})
	case "c":
		in.addPathPoints(Point{num(0), num(1)}, Point{num(2), num(3)}, Point{num(4), num(5)})
	case "v", "y":
		in.addPathPoints(Point{num(0), num(1)}, Point{num(2), num(3)})
	case "re":
		x, y, w, h := num(0), num(1), num(2), num(3)
		in.addPathPoints(Point{x, y}, Point{x + w, y + h})
	case "S", "s", "f", "F", "f*", "B", "B*", "b", "b*":
		if in.hasPath {
			in.page.Paths = append(in.page.Paths, in.path)
		}
		in.path, in.hasPath = Rect{}, false
	case "n":
		in.path, in.hasPath = Rect{}, false
	}
}

func countNumbers(args []Operand) int {
	n := 0
	for _, a := range args {
		if a.Kind == OperandNumber {
			n++
		}
	}
	return n
}

func (in *interpreter) moveLine(tx, ty float64) {
	in.tlm = Matrix{1, 0, 0, 1, tx, ty}.Mul(in.tlm)
	in.tm = in.tlm
}

func (in *interpreter) addPathPoints(pts ...Point) {
	for _, p := range pts {
		q := in.gs.ctm.Apply(p)
		r := Rect{q.X, q.Y, q.X, q.Y}
		if !in.hasPath {
			in.path, in.hasPath = r, true
			continue
		}
		in.path = Rect{
			LLX: math.Min(in.path.LLX, q.X), LLY: math.Min(in.path.LLY, q.Y),
			URX: math.Max(in.path.URX, q.X), URY: math.Max(in.path.URY, q.Y),
		}
	}
}

func (in *interpreter) paintXObject(name string) {
	xobjects := dictOf(in.ctx, in.resources["XObject"])
	if xobjects == nil {
		return
	}
	sd, _, err := in.ctx.DereferenceStreamDict(xobjects[name])
	if err != nil || sd == nil {
		return
	}
	switch nameOf(in.ctx, sd.Dict["Subtype"]) {
	case "Image":
		in.page.Images = append(in.page.Images, in.gs.ctm.TransformRect(Rect{0, 0, 1, 1}))
	case "Form":
		bbox, ok := rectOf(in.ctx, sd.Dict["BBox"])
		if !ok {
			return
		}
		m, _ := matrixOf(in.ctx, sd.Dict["Matrix"])
		in.page.Forms = append(in.page.Forms, m.Mul(in.gs.ctm).TransformRect(bbox))
	}
}

// show paints a show string or TJ array and records a GlyphRun.
func (in *interpreter) show(opIndex int, items []Operand) {
	ts := in.gs.text
	font := ts.font
	if font == nil {
		font = in.page.font(in.doc, ts.fontName)
	}

	run := &GlyphRun{
		Index:         len(in.page.Runs),
		OpIndex:       opIndex,
		TextObjectEnd: -1,
		Font:          font,
		FontName:      ts.fontName,
		FontSize:      ts.size,
		Color:         in.gs.fill,
		CTM:           in.gs.ctm,
		TextMatrix:    in.tm,
		HScale:        ts.hScale,
		Rise:          ts.rise,
		CharSpacing:   ts.charSpace,
		WordSpacing:   ts.wordSpace,
		RenderMode:    ts.renderMode,
	}
	start := in.tm.Mul(in.gs.ctm)
	run.Size = ts.size * start.VerticalScale()
	run.Upright = start.Upright()
	run.Origin = start.Apply(Point{0, ts.rise})

	var text []byte
	tx := 0.0
	for _, item := range items {
		switch item.Kind {
		case OperandNumber:
			tx -= item.Num / 1000 * ts.size * ts.hScale
		case OperandString:
			for _, c := range font.Decode(item.Str) {
				font.observe(c.Value)
				w := font.Width(c.Value) / 1000
				adv := w*ts.size + ts.charSpace
				if font.IsWordSpace(c) {
					adv += ts.wordSpace
				}
				adv *= ts.hScale

				trm := Matrix{1, 0, 0, 1, tx, ts.rise}.Mul(start)
				origin := trm.Apply(Point{})
				end := trm.Apply(Point{adv, 0})
				run.Glyphs = append(run.Glyphs, Glyph{
					Code:    c,
					Origin:  origin,
					Advance: math.Hypot(end.X-origin.X, end.Y-origin.Y),
				})
				text = append(text, c.Text...)
				tx += adv
			}
		}
	}

	run.Advance = tx
	run.Text = string(text)

	asc := font.Ascent / 1000 * ts.size
	desc := font.Descent / 1000 * ts.size
	if asc-desc <= 0 {
		asc, desc = 0.75*ts.size, -0.25*ts.size
	}
	run.BBox = start.TransformRect(NewRect(0, ts.rise+desc, tx, ts.rise+asc))

	in.tm = Matrix{1, 0, 0, 1, tx, 0}.Mul(in.tm)

	in.page.Runs = append(in.page.Runs, run)
	if in.inText {
		in.textRuns = append(in.textRuns, run.Index)
	}
}
