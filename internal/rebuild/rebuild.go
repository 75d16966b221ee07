// Package rebuild writes typeset translations back into a document: the
// original show operations are neutralized and the new glyph runs painted
// in their place with embedded substitute fonts where needed.
package rebuild

import (
	"fmt"
	"math"
	"sort"

	"pdf-translator/internal/document"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/typeset"
)

// adjustEpsilon is the smallest advance difference, in points, written as a
// TJ adjustment.
const adjustEpsilon = 1e-3

// Rebuild replaces the text of every laid out unit in doc. Boxes may span
// several pages; pages without boxes keep their content objects.
func Rebuild(doc *document.Document, boxes []*typeset.LayoutBox) (*document.Document, error) {
	if err := embedFonts(doc, boxes); err != nil {
		return nil, err
	}

	byPage := make(map[int][]*typeset.LayoutBox)
	for _, b := range boxes {
		if b == nil || b.Unit == nil || len(b.Runs) == 0 {
			continue
		}
		byPage[b.Unit.Page] = append(byPage[b.Unit.Page], b)
	}
	pages := make([]int, 0, len(byPage))
	for idx := range byPage {
		pages = append(pages, idx)
	}
	sort.Ints(pages)

	for _, idx := range pages {
		if idx < 0 || idx >= doc.PageCount() {
			return nil, document.NewSerializeError(document.DanglingReference, fmt.Sprintf("box on missing page %d", idx), idx, nil)
		}
		if err := rebuildPage(doc, doc.Pages[idx], byPage[idx]); err != nil {
			return nil, err
		}
	}
	logger.Info("document rebuilt", logger.Int("pages", len(pages)), logger.Int("boxes", len(boxes)))
	return doc, nil
}

// embedFonts adds every substitute font used by a box, once per document.
func embedFonts(doc *document.Document, boxes []*typeset.LayoutBox) error {
	seen := make(map[*document.FontResource]bool)
	var fonts []*document.FontResource
	for _, b := range boxes {
		if b == nil {
			continue
		}
		for _, r := range b.Runs {
			f := r.Font
			if f == nil || f.Substitute == nil || f.Ref != nil || seen[f] {
				continue
			}
			seen[f] = true
			fonts = append(fonts, f)
		}
	}
	sort.Slice(fonts, func(i, j int) bool { return fonts[i].BaseFont < fonts[j].BaseFont })
	for _, f := range fonts {
		if err := embedFont(doc, f); err != nil {
			return err
		}
	}
	return nil
}

// endOfPage marks blocks appended after the original content.
const endOfPage = -1

func rebuildPage(doc *document.Document, page *document.Page, boxes []*typeset.LayoutBox) error {
	removed := make(map[int]*document.GlyphRun)
	inserts := make(map[int][]document.Op)
	var order []int

	for _, b := range boxes {
		var anchor *document.GlyphRun
		for _, r := range b.Unit.Runs {
			if owner, ok := page.Owner(r); !ok || owner != b.Unit.ID {
				logger.Warn("run not owned by unit, leaving it in place",
					logger.Page(page.Index), logger.String("unit", b.Unit.ID), logger.Int("run", r.Index))
				continue
			}
			if r.OpIndex < 0 || r.OpIndex >= len(page.Ops) || page.Ops[r.OpIndex].Kind != document.OpText {
				continue
			}
			removed[r.OpIndex] = r
			if anchor == nil || r.OpIndex < anchor.OpIndex {
				anchor = r
			}
		}

		if anchor == nil {
			continue
		}
		pos, ctm := endOfPage, document.Identity
		if anchor.TextObjectEnd >= 0 && invertible(anchor.CTM) {
			pos, ctm = anchor.TextObjectEnd, anchor.CTM
		}
		block, err := textBlock(doc, page, b, ctm)
		if err != nil {
			return err
		}
		if _, ok := inserts[pos]; !ok {
			order = append(order, pos)
		}
		inserts[pos] = append(inserts[pos], block...)
	}

	ops := make([]document.Op, 0, len(page.Ops)+8*len(boxes))
	tail, wrap := inserts[endOfPage]
	if wrap {
		ops = append(ops, document.NewOp("q"))
	}
	for i, op := range page.Ops {
		if run, ok := removed[i]; ok {
			ops = append(ops, blank(op, run)...)
		} else {
			ops = append(ops, op)
		}
		ops = append(ops, inserts[i]...)
	}
	if wrap {
		ops = append(ops, document.NewOp("Q"))
		ops = append(ops, tail...)
	}

	if err := doc.ReplaceContent(page.Index, ops); err != nil {
		return document.NewSerializeError(document.DanglingReference, "cannot replace content", page.Index, err)
	}
	logger.Debug("page rebuilt",
		logger.Page(page.Index),
		logger.Int("boxes", len(boxes)),
		logger.Int("removedOps", len(removed)),
		logger.Int("insertPoints", len(order)))
	return nil
}

func invertible(m document.Matrix) bool {
	return math.Abs(m[0]*m[3]-m[1]*m[2]) > 1e-12
}

// blank returns operations that move the text position like op without
// painting anything.
func blank(op document.Op, run *document.GlyphRun) []document.Op {
	var out []document.Op
	switch op.Operator {
	case "'":
		out = append(out, document.NewOp("T*"))
	case `"`:
		if len(op.Operands) >= 2 {
			out = append(out,
				document.NewOp("Tw", op.Operands[0]),
				document.NewOp("Tc", op.Operands[1]))
		}
		out = append(out, document.NewOp("T*"))
	}
	scale := run.FontSize * run.HScale
	if scale != 0 && run.Advance != 0 {
		k := -run.Advance * 1000 / scale
		out = append(out, document.NewOp("TJ", document.Array(document.Number(k))))
	}
	return out
}

// textBlock paints a box's runs in a self-contained text object. ctm is the
// transform in effect at the insertion point; its inverse returns to page space.
func textBlock(doc *document.Document, page *document.Page, b *typeset.LayoutBox, ctm document.Matrix) ([]document.Op, error) {
	ops := []document.Op{document.NewOp("q")}
	if ctm != document.Identity {
		inv := ctm.Inverse()
		ops = append(ops, document.NewOp("cm", numbers(inv[:]...)...))
	}
	ops = append(ops,
		document.NewOp("BT"),
		document.NewOp("Tc", document.Number(0)),
		document.NewOp("Tw", document.Number(0)),
		document.NewOp("Tz", document.Number(100)),
		document.NewOp("Ts", document.Number(0)),
		document.NewOp("Tr", document.Number(0)),
	)

	var font *document.FontResource
	var size float64
	var color *document.Color
	for _, r := range b.Runs {
		if r.Font != font || r.FontSize != size {
			name, err := fontName(doc, page, r.Font)
			if err != nil {
				return nil, err
			}
			ops = append(ops, document.NewOp("Tf", document.Name(name), document.Number(r.FontSize)))
			font, size = r.Font, r.FontSize
		}
		if color == nil || *color != r.Color {
			c := r.Color
			ops = append(ops, document.NewOp("rg", numbers(c.R, c.G, c.B)...))
			color = &c
		}
		ops = append(ops,
			document.NewOp("Tm", numbers(r.TextMatrix[:]...)...),
			showOp(r))
	}
	return append(ops, document.NewOp("ET"), document.NewOp("Q")), nil
}

// fontName returns the page resource name for f, adding it when the page
// does not use it yet.
func fontName(doc *document.Document, page *document.Page, f *document.FontResource) (string, error) {
	names := make([]string, 0, len(page.Fonts))
	for name := range page.Fonts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if page.Fonts[name] == f {
			return name, nil
		}
	}
	return doc.AddFont(page.Index, f)
}

// showOp paints the run's glyphs, adding TJ adjustments where a glyph's
// advance differs from the font's width for it.
func showOp(r *document.GlyphRun) document.Op {
	var items []document.Operand
	var pending []document.Code
	adjusted := false
	for _, g := range r.Glyphs {
		pending = append(pending, g.Code)
		nominal := r.Font.Width(g.Code.Value) * r.FontSize / 1000
		if d := g.Advance - nominal; math.Abs(d) > adjustEpsilon && r.FontSize > 0 {
			items = append(items,
				document.String(document.CodeBytes(pending)),
				document.Number(-d*1000/r.FontSize))
			pending = nil
			adjusted = true
		}
	}
	if !adjusted {
		return document.NewOp("Tj", document.String(document.CodeBytes(pending)))
	}
	if len(pending) > 0 {
		items = append(items, document.String(document.CodeBytes(pending)))
	}
	return document.NewOp("TJ", document.Array(items...))
}

func numbers(vs ...float64) []document.Operand {
	out := make([]document.Operand, len(vs))
	for i, v := range vs {
		out[i] = document.Number(v)
	}
	return out
}
