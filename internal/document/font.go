package document

import (
	"sort"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Code is one decoded character code of a show string.
type Code struct {
	Value uint32
	// Len is the number of bytes the code occupies in the string.
	Len  int
	Text string
}

// FontResource is a font usable in a content stream: either a font read
// from the document or a substitute TrueType program added for translated text.
type FontResource struct {
	// Name is the resource name the font was first seen under.
	Name     string
	BaseFont string
	Subtype  string
	// Ref is the font dictionary in the source document. Nil for substitutes.
	Ref *types.IndirectRef
	// Composite fonts use two-byte codes.
	Composite bool
	Embedded  bool
	// Ascent and Descent are in 1/1000 em; Descent is negative.
	Ascent  float64
	Descent float64

	// Substitute is set for fonts created during typesetting.
	Substitute *SubstituteProgram

	toUnicode    *toUnicodeMap
	encoding     [256]string
	widths       map[uint32]float64
	defaultWidth float64
	stdWidths    func(r rune) float64
	widthScale   float64

	mu       sync.Mutex
	observed map[uint32]bool
	reverse  map[rune]uint32
}

// loadFont builds a FontResource from a font dictionary.
func loadFont(ctx *model.Context, name string, obj types.Object) *FontResource {
	d := dictOf(ctx, obj)
	f := &FontResource{
		Name:       name,
		widths:     make(map[uint32]float64),
		observed:   make(map[uint32]bool),
		widthScale: 1,
		Ascent:     750,
		Descent:    -250,
	}
	if ref, ok := obj.(types.IndirectRef); ok {
		r := ref
		f.Ref = &r
	}
	if d == nil {
		f.defaultWidth = 500
		return f
	}

	f.BaseFont = nameOf(ctx, d["BaseFont"])
	f.Subtype = nameOf(ctx, d["Subtype"])

	if tu := d["ToUnicode"]; tu != nil {
		if data, err := streamData(ctx, tu); err == nil && len(data) > 0 {
			f.toUnicode = parseToUnicode(data)
		}
	}

	if f.Subtype == "Type0" {
		f.Composite = true
		f.defaultWidth = 1000
		desc := arrayOf(ctx, d["DescendantFonts"])
		if len(desc) > 0 {
			cid := dictOf(ctx, desc[0])
			if cid != nil {
				if f.BaseFont == "" {
					f.BaseFont = nameOf(ctx, cid["BaseFont"])
				}
				if dw, ok := numberOf(ctx, cid["DW"]); ok {
					f.defaultWidth = dw
				}
				f.loadCIDWidths(ctx, cid["W"])
				f.loadDescriptor(ctx, cid["FontDescriptor"])
			}
		}
		return f
	}

	f.loadSimpleEncoding(ctx, d["Encoding"])
	f.loadSimpleWidths(ctx, d)
	f.loadDescriptor(ctx, d["FontDescriptor"])

	if f.Subtype == "Type3" {
		if m, ok := matrixOf(ctx, d["FontMatrix"]); ok {
			f.widthScale = m[0] * 1000
		}
	}

	if std, asc, des, ok := standardMetrics(f.BaseFont); ok {
		f.stdWidths = std
		if !f.Embedded {
			f.Ascent, f.Descent = asc, des
		}
	}
	return f
}

func (f *FontResource) loadSimpleEncoding(ctx *model.Context, enc types.Object) {
	base := standard
	if strings.Contains(f.Subtype, "TrueType") {
		base = winAnsi
	}

	var diffs types.Array
	switch v := resolve(ctx, enc).(type) {
	case types.Name:
		if e := encodingByName(string(v)); e != nil {
			base = e
		}
	case types.Dict:
		if e := encodingByName(nameOf(ctx, v["BaseEncoding"])); e != nil {
			base = e
		}
		diffs = arrayOf(ctx, v["Differences"])
	}

	if f.BaseFont == "Symbol" || f.BaseFont == "ZapfDingbats" {
		base = func(code byte) rune { return rune(code) }
	}

	for c := 0; c < 256; c++ {
		if r := base(byte(c)); r != 0 {
			f.encoding[c] = string(r)
		}
	}

	code := 0
	for _, item := range diffs {
		switch v := resolve(ctx, item).(type) {
		case types.Integer:
			code = int(v)
		case types.Name:
			if code >= 0 && code < 256 {
				if s := runeForGlyphName(string(v)); s != "" {
					f.encoding[code] = s
				} else {
					f.encoding[code] = ""
				}
			}
			code++
		}
	}
}

func (f *FontResource) loadSimpleWidths(ctx *model.Context, d types.Dict) {
	first, _ := numberOf(ctx, d["FirstChar"])
	for i, w := range arrayOf(ctx, d["Widths"]) {
		if v, ok := numberOf(ctx, w); ok {
			f.widths[uint32(int(first)+i)] = v
		}
	}
	f.defaultWidth = 500
	if fd := dictOf(ctx, d["FontDescriptor"]); fd != nil {
		if mw, ok := numberOf(ctx, fd["MissingWidth"]); ok && mw > 0 {
			f.defaultWidth = mw
		}
	}
}

// loadCIDWidths parses a /W array: "c [w1 w2 ...]" or "cFirst cLast w".
func (f *FontResource) loadCIDWidths(ctx *model.Context, o types.Object) {
	w := arrayOf(ctx, o)
	for i := 0; i < len(w); {
		start, ok := numberOf(ctx, w[i])
		if !ok || i+1 >= len(w) {
			return
		}
		if list := arrayOf(ctx, w[i+1]); list != nil {
			for k, item := range list {
				if v, ok := numberOf(ctx, item); ok {
					f.widths[uint32(int(start)+k)] = v
				}
			}
			i += 2
			continue
		}
		if i+2 >= len(w) {
			return
		}
		end, _ := numberOf(ctx, w[i+1])
		v, _ := numberOf(ctx, w[i+2])
		for c := int(start); c <= int(end) && c-int(start) <= 0xFFFF; c++ {
			f.widths[uint32(c)] = v
		}
		i += 3
	}
}

func (f *FontResource) loadDescriptor(ctx *model.Context, o types.Object) {
	fd := dictOf(ctx, o)
	if fd == nil {
		return
	}
	for _, key := range []string{"FontFile", "FontFile2", "FontFile3"} {
		if _, ok := fd[key]; ok {
			f.Embedded = true
		}
	}
	if a, ok := numberOf(ctx, fd["Ascent"]); ok && a > 0 {
		f.Ascent = a
	}
	if d, ok := numberOf(ctx, fd["Descent"]); ok && d < 0 {
		f.Descent = d
	}
}

// Decode splits a show string into character codes.
func (f *FontResource) Decode(b []byte) []Code {
	n := 1
	if f.Composite {
		n = 2
		if f.toUnicode != nil && f.toUnicode.codeBytes == 1 && f.Substitute == nil {
			n = 1
		}
	}
	codes := make([]Code, 0, len(b)/n+1)
	for i := 0; i < len(b); i += n {
		end := i + n
		if end > len(b) {
			end = len(b)
		}
		v := codeValue(b[i:end])
		codes = append(codes, Code{Value: v, Len: end - i, Text: f.text(v)})
	}
	return codes
}

func (f *FontResource) text(code uint32) string {
	if f.toUnicode != nil {
		if s, ok := f.toUnicode.chars[code]; ok {
			return s
		}
	}
	if f.Substitute != nil {
		return f.Substitute.text(uint16(code))
	}
	if !f.Composite && code < 256 {
		return f.encoding[code]
	}
	return ""
}

// Width returns the advance of code in 1/1000 em.
func (f *FontResource) Width(code uint32) float64 {
	if f.Substitute != nil {
		return f.Substitute.width(uint16(code))
	}
	if w, ok := f.widths[code]; ok {
		return w * f.widthScale
	}
	if f.stdWidths != nil && !f.Composite && code < 256 {
		if r := []rune(f.encoding[code]); len(r) == 1 {
			return f.stdWidths(r[0])
		}
	}
	return f.defaultWidth * f.widthScale
}

// IsWordSpace reports whether Tw applies to the code (single-byte code 32).
func (f *FontResource) IsWordSpace(c Code) bool {
	return c.Len == 1 && c.Value == 32
}

// observe records that code was painted with this font.
func (f *FontResource) observe(code uint32) {
	f.mu.Lock()
	f.observed[code] = true
	f.reverse = nil
	f.mu.Unlock()
}

// reverseMap builds rune → code for codes whose glyph is known to be present.
// ToUnicode entries always qualify; for embedded simple fonts the base encoding
// only counts for codes the document actually paints.
func (f *FontResource) reverseMap() map[rune]uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reverse != nil {
		return f.reverse
	}
	rev := make(map[rune]uint32)
	add := func(code uint32, s string) {
		r := []rune(s)
		if len(r) != 1 {
			return
		}
		if old, ok := rev[r[0]]; !ok || code < old {
			rev[r[0]] = code
		}
	}

	subset := f.Embedded
	if f.toUnicode != nil {
		codes := make([]uint32, 0, len(f.toUnicode.chars))
		for c := range f.toUnicode.chars {
			codes = append(codes, c)
		}
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
		for _, c := range codes {
			add(c, f.toUnicode.chars[c])
		}
	}
	if !f.Composite {
		for c := 0; c < 256; c++ {
			if subset && !f.observed[uint32(c)] {
				continue
			}
			if _, ok := rev[firstRune(f.encoding[c])]; !ok {
				add(uint32(c), f.encoding[c])
			}
		}
	}
	f.reverse = rev
	return rev
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return -1
}

// Encode maps text to codes. ok is false if any rune has no glyph in the font.
func (f *FontResource) Encode(text string) (codes []Code, ok bool) {
	if f.Substitute != nil {
		return nil, false
	}
	rev := f.reverseMap()
	for _, r := range text {
		c, found := rev[r]
		if !found {
			return nil, false
		}
		n := 1
		if f.Composite {
			n = 2
		}
		codes = append(codes, Code{Value: c, Len: n, Text: string(r)})
	}
	return codes, true
}

// CanEncode reports whether every rune of text is available.
func (f *FontResource) CanEncode(text string) bool {
	_, ok := f.Encode(text)
	return ok
}

// CodeBytes serializes codes for a show operator.
func CodeBytes(codes []Code) []byte {
	out := make([]byte, 0, len(codes)*2)
	for _, c := range codes {
		if c.Len == 2 {
			out = append(out, byte(c.Value>>8), byte(c.Value))
		} else {
			out = append(out, byte(c.Value))
		}
	}
	return out
}

// SubstituteProgram is a TrueType font added to carry translated text.
// Codes are glyph IDs (Identity-H).
type SubstituteProgram struct {
	Data       []byte
	PostScript string
	UnitsPerEm int

	mu     sync.Mutex
	glyphs map[uint16]SubstituteGlyph
}

// SubstituteGlyph records the advance (1/1000 em) and text of a used glyph.
type SubstituteGlyph struct {
	Width float64
	Text  string
}

// NewSubstituteFont wraps a TrueType program as a composite font resource.
func NewSubstituteFont(postScriptName string, data []byte, unitsPerEm int, ascent, descent float64) *FontResource {
	return &FontResource{
		BaseFont:  postScriptName,
		Subtype:   "Type0",
		Composite: true,
		Embedded:  true,
		Ascent:    ascent,
		Descent:   descent,
		Substitute: &SubstituteProgram{
			Data:       data,
			PostScript: postScriptName,
			UnitsPerEm: unitsPerEm,
			glyphs:     make(map[uint16]SubstituteGlyph),
		},
		widthScale: 1,
	}
}

// Use records a glyph as used; the first text seen for a glyph wins.
func (s *SubstituteProgram) Use(gid uint16, width float64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.glyphs[gid]; ok && g.Text != "" {
		return
	}
	s.glyphs[gid] = SubstituteGlyph{Width: width, Text: text}
}

// Glyphs returns the used glyph IDs in ascending order with their records.
func (s *SubstituteProgram) Glyphs() ([]uint16, map[uint16]SubstituteGlyph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint16, 0, len(s.glyphs))
	out := make(map[uint16]SubstituteGlyph, len(s.glyphs))
	for id, g := range s.glyphs {
		ids = append(ids, id)
		out[id] = g
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, out
}

func (s *SubstituteProgram) width(gid uint16) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.glyphs[gid].Width
}

func (s *SubstituteProgram) text(gid uint16) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.glyphs[gid].Text
}
