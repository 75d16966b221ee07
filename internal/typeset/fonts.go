package typeset

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	gotext "github.com/go-text/typesetting/font"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/language"

	"pdf-translator/internal/logger"
)

// Face is a parsed TrueType font usable as a substitute.
type Face struct {
	PostScriptName string
	Data           []byte
	UnitsPerEm     int
	// Ascent and Descent are in 1/1000 em; Descent is negative.
	Ascent  float64
	Descent float64

	sf     *sfnt.Font
	shaper *gotext.Face

	mu  sync.Mutex
	buf sfnt.Buffer
}

// LoadFace parses a TrueType program.
func LoadFace(data []byte) (*Face, error) {
	sf, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	shaper, err := gotext.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to load font for shaping: %w", err)
	}

	f := &Face{Data: data, sf: sf, shaper: shaper}
	f.UnitsPerEm = int(sf.UnitsPerEm())
	if f.UnitsPerEm == 0 {
		return nil, fmt.Errorf("font has no units per em")
	}
	name, err := sf.Name(&f.buf, sfnt.NameIDPostScript)
	if err != nil || name == "" {
		name = "Substitute"
	}
	f.PostScriptName = strings.ReplaceAll(name, " ", "")

	m, err := sf.Metrics(&f.buf, fixed.I(f.UnitsPerEm), font.HintingNone)
	if err != nil {
		return nil, fmt.Errorf("failed to read font metrics: %w", err)
	}
	f.Ascent = f.toThousandths(m.Ascent)
	f.Descent = -f.toThousandths(m.Descent)
	return f, nil
}

func (f *Face) toThousandths(v fixed.Int26_6) float64 {
	return float64(v) / 64 * 1000 / float64(f.UnitsPerEm)
}

// GlyphIndex returns the glyph for r, or false when the font lacks it.
func (f *Face) GlyphIndex(r rune) (uint16, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gid, err := f.sf.GlyphIndex(&f.buf, r)
	if err != nil || gid == 0 {
		return 0, false
	}
	return uint16(gid), true
}

// Advance returns the nominal advance of gid in 1/1000 em.
func (f *Face) Advance(gid uint16) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	adv, err := f.sf.GlyphAdvance(&f.buf, sfnt.GlyphIndex(gid), fixed.I(f.UnitsPerEm), font.HintingNone)
	if err != nil {
		return 0
	}
	return f.toThousandths(adv)
}

// Covers reports whether every printable rune of text has a glyph.
func (f *Face) Covers(text string) bool {
	return f.missing(text) == 0
}

func (f *Face) missing(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			continue
		}
		if _, ok := f.GlyphIndex(r); !ok {
			n++
		}
	}
	return n
}

// Style selects among the built-in faces.
type Style int

const (
	Regular Style = iota
	Bold
	Italic
	BoldItalic
)

// StyleOf guesses the style from a PostScript font name.
func StyleOf(baseFont string) Style {
	name := strings.ToLower(baseFont)
	bold := strings.Contains(name, "bold") || strings.Contains(name, "black") || strings.Contains(name, "heavy")
	italic := strings.Contains(name, "italic") || strings.Contains(name, "oblique")
	switch {
	case bold && italic:
		return BoldItalic
	case bold:
		return Bold
	case italic:
		return Italic
	}
	return Regular
}

// scriptTables maps ISO 15924 codes to the runes they cover.
var scriptTables = map[string]*unicode.RangeTable{
	"Latn": unicode.Latin,
	"Grek": unicode.Greek,
	"Cyrl": unicode.Cyrillic,
	"Hani": unicode.Han,
	"Hira": unicode.Hiragana,
	"Kana": unicode.Katakana,
	"Hang": unicode.Hangul,
	"Arab": unicode.Arabic,
	"Hebr": unicode.Hebrew,
	"Thai": unicode.Thai,
	"Deva": unicode.Devanagari,
}

// scriptAliases expands composite script codes.
var scriptAliases = map[string][]string{
	"Hans": {"Hani"},
	"Hant": {"Hani"},
	"Jpan": {"Hani", "Hira", "Kana"},
	"Kore": {"Hang", "Hani"},
}

// ScriptsOf lists the scripts used by text in order of first appearance.
func ScriptsOf(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range text {
		for code, table := range scriptTables {
			if !seen[code] && unicode.Is(table, r) {
				seen[code] = true
				out = append(out, code)
			}
		}
	}
	return out
}

// targetScripts returns the scripts a target language is written in.
func targetScripts(target string) []string {
	tag, err := language.Parse(target)
	if err != nil {
		return nil
	}
	script, _ := tag.Script()
	code := script.String()
	if alias, ok := scriptAliases[code]; ok {
		return alias
	}
	return []string{code}
}

// FontRegistry resolves fallback faces. Configured fonts are tried per
// script first; the Go fonts cover Latin, Greek and Cyrillic.
type FontRegistry struct {
	paths map[string][]string

	mu      sync.Mutex
	faces   map[string]*Face
	builtin map[Style]*Face
}

// NewFontRegistry creates a registry from script code → font file path.
// Values may list several files separated by commas.
func NewFontRegistry(fonts map[string]string) *FontRegistry {
	r := &FontRegistry{
		paths: make(map[string][]string),
		faces: make(map[string]*Face),
	}
	for script, list := range fonts {
		for _, p := range strings.Split(list, ",") {
			if p = strings.TrimSpace(p); p != "" {
				r.paths[script] = append(r.paths[script], p)
			}
		}
	}
	return r
}

// Register adds an already parsed face for a script.
func (r *FontRegistry) Register(script string, name string, face *Face) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faces[name] = face
	r.paths[script] = append(r.paths[script], name)
}

func (r *FontRegistry) load(path string) (*Face, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.faces[path]; ok {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := LoadFace(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.faces[path] = f
	return f, nil
}

var builtinData = map[Style][]byte{
	Regular:    goregular.TTF,
	Bold:       gobold.TTF,
	Italic:     goitalic.TTF,
	BoldItalic: gobolditalic.TTF,
}

func (r *FontRegistry) builtinFace(style Style) (*Face, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.builtin == nil {
		r.builtin = make(map[Style]*Face)
	}
	if f, ok := r.builtin[style]; ok {
		return f, nil
	}
	f, err := LoadFace(builtinData[style])
	if err != nil {
		return nil, err
	}
	r.builtin[style] = f
	return f, nil
}

// FaceFor returns the first face that covers every rune of text: fonts
// configured for the text's scripts, then for the target language's
// scripts, then the built-in face of the given style.
func (r *FontRegistry) FaceFor(text, target string, style Style) (*Face, error) {
	var candidates []string
	seen := make(map[string]bool)
	for _, script := range append(ScriptsOf(text), targetScripts(target)...) {
		for _, p := range r.paths[script] {
			if !seen[p] {
				seen[p] = true
				candidates = append(candidates, p)
			}
		}
	}

	var best *Face
	bestMissing := -1
	for _, p := range candidates {
		f, err := r.load(p)
		if err != nil {
			logger.Warn("failed to load fallback font", logger.String("path", p), logger.Err(err))
			continue
		}
		n := f.missing(text)
		if n == 0 {
			return f, nil
		}
		if bestMissing < 0 || n < bestMissing {
			best, bestMissing = f, n
		}
	}

	f, err := r.builtinFace(style)
	if err != nil {
		return nil, err
	}
	n := f.missing(text)
	if n == 0 {
		return f, nil
	}
	if best == nil || n < bestMissing {
		best, bestMissing = f, n
	}
	return nil, &CoverageError{Text: text, Scripts: ScriptsOf(text), Missing: bestMissing, Closest: best.PostScriptName}
}

// CoverageError reports that no registered font can render a text.
type CoverageError struct {
	Text    string
	Scripts []string
	Missing int
	Closest string
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("no font covers scripts %v (closest %s misses %d characters)", e.Scripts, e.Closest, e.Missing)
}
