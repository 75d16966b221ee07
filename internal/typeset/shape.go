package typeset

import (
	"unicode"

	"github.com/go-text/typesetting/di"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/segmenter"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"

	"pdf-translator/internal/document"
)

// glyph is one shaped glyph. Advances are in 1/1000 em.
type glyph struct {
	code    document.Code
	advance float64
	// cluster is the index of the first rune the glyph renders.
	cluster int
}

// shaped is a paragraph shaped once at unit size; lines are cut from it.
type shaped struct {
	runes  []rune
	glyphs []glyph
	// adv is the advance attributed to each rune.
	adv []float64
	rtl bool
}

func newShaped(runes []rune, glyphs []glyph, rtl bool) *shaped {
	s := &shaped{runes: runes, glyphs: glyphs, adv: make([]float64, len(runes)), rtl: rtl}
	for _, g := range glyphs {
		if g.cluster >= 0 && g.cluster < len(runes) {
			s.adv[g.cluster] += g.advance
		}
	}
	return s
}

// shapeSimple maps each rune through an existing font's encoding.
func shapeSimple(f *document.FontResource, runes []rune) (*shaped, bool) {
	glyphs := make([]glyph, 0, len(runes))
	for i, r := range runes {
		if isBreakRune(r) {
			continue
		}
		codes, ok := f.Encode(string(r))
		if !ok {
			return nil, false
		}
		for _, c := range codes {
			glyphs = append(glyphs, glyph{code: c, advance: f.Width(c.Value), cluster: i})
		}
	}
	return newShaped(runes, glyphs, false), true
}

// shapeFace runs the HarfBuzz shaper over the paragraph. Codes are glyph IDs.
func shapeFace(face *Face, runes []rune, target string) *shaped {
	text := make([]rune, len(runes))
	for i, r := range runes {
		if isBreakRune(r) {
			r = ' '
		}
		text[i] = r
	}
	script := dominantScript(text)
	dir := di.DirectionLTR
	if script == language.Arabic || script == language.Hebrew {
		dir = di.DirectionRTL
	}

	face.mu.Lock()
	out := (&shaping.HarfbuzzShaper{}).Shape(shaping.Input{
		Text:      text,
		RunStart:  0,
		RunEnd:    len(text),
		Direction: dir,
		Face:      face.shaper,
		Size:      fixed.I(1000),
		Script:    script,
		Language:  language.NewLanguage(target),
	})
	face.mu.Unlock()

	glyphs := make([]glyph, 0, len(out.Glyphs))
	for _, g := range out.Glyphs {
		if g.ClusterIndex < len(runes) && isBreakRune(runes[g.ClusterIndex]) {
			continue
		}
		glyphs = append(glyphs, glyph{
			code:    document.Code{Value: uint32(g.GlyphID), Len: 2},
			advance: float64(g.XAdvance) / 64,
			cluster: g.ClusterIndex,
		})
	}
	return newShaped(runes, glyphs, dir == di.DirectionRTL)
}

func isBreakRune(r rune) bool {
	return r == '\n' || r == '\r' || r == '\u2028' || r == '\u2029'
}

// dominantScript returns the most frequent script among the runes.
func dominantScript(runes []rune) language.Script {
	counts := make(map[language.Script]int)
	best, bestCount := language.Latin, 0
	for _, r := range runes {
		s := scriptOf(r)
		if s == language.Unknown {
			continue
		}
		counts[s]++
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}
	return best
}

func scriptOf(r rune) language.Script {
	switch {
	case unicode.Is(unicode.Latin, r):
		return language.Latin
	case unicode.Is(unicode.Han, r):
		return language.Han
	case unicode.Is(unicode.Hiragana, r):
		return language.Hiragana
	case unicode.Is(unicode.Katakana, r):
		return language.Katakana
	case unicode.Is(unicode.Hangul, r):
		return language.Hangul
	case unicode.Is(unicode.Cyrillic, r):
		return language.Cyrillic
	case unicode.Is(unicode.Greek, r):
		return language.Greek
	case unicode.Is(unicode.Arabic, r):
		return language.Arabic
	case unicode.Is(unicode.Hebrew, r):
		return language.Hebrew
	case unicode.Is(unicode.Thai, r):
		return language.Thai
	case unicode.Is(unicode.Devanagari, r):
		return language.Devanagari
	}
	return language.Unknown
}

// piece is text between two line break opportunities.
type piece struct {
	start, end int
	mandatory  bool
}

// breakPieces splits runes at UAX #14 line break opportunities.
func breakPieces(runes []rune) []piece {
	var seg segmenter.Segmenter
	seg.Init(runes)
	iter := seg.LineIterator()
	var out []piece
	for iter.Next() {
		l := iter.Line()
		out = append(out, piece{start: l.Offset, end: l.Offset + len(l.Text), mandatory: l.IsMandatoryBreak})
	}
	return out
}

// width sums the advances of runes[start:end].
func (s *shaped) width(start, end int) float64 {
	w := 0.0
	for i := start; i < end; i++ {
		w += s.adv[i]
	}
	return w
}

// trimEnd returns end moved back over trailing whitespace and breaks.
func (s *shaped) trimEnd(start, end int) int {
	for end > start && (unicode.IsSpace(s.runes[end-1]) || isBreakRune(s.runes[end-1])) {
		end--
	}
	return end
}

// lineGlyphs returns the glyphs whose cluster lies in [start,end).
func (s *shaped) lineGlyphs(start, end int) []glyph {
	var out []glyph
	for _, g := range s.glyphs {
		if g.cluster >= start && g.cluster < end {
			out = append(out, g)
		}
	}
	return out
}

// clusterText returns the text of the cluster starting at g, or "" when g
// is not the first glyph of its cluster.
func (s *shaped) clusterText(idx int) string {
	g := s.glyphs[idx]
	if idx > 0 && s.glyphs[idx-1].cluster == g.cluster {
		return ""
	}
	end := len(s.runes)
	for _, o := range s.glyphs {
		if o.cluster > g.cluster && o.cluster < end {
			end = o.cluster
		}
	}
	for k := g.cluster; k < end; k++ {
		if isBreakRune(s.runes[k]) {
			end = k
		}
	}
	if g.cluster >= end {
		return ""
	}
	return string(s.runes[g.cluster:end])
}
