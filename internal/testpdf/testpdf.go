// Package testpdf builds small, valid PDF files for tests.
package testpdf

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Builder accumulates pages and writes a complete PDF.
type Builder struct {
	pages []*Page
	// Encrypt adds an /Encrypt entry to the trailer.
	Encrypt bool
}

// Page is one page under construction.
type Page struct {
	Width, Height float64
	content       strings.Builder
	images        int
	fonts         map[string]string
}

// New returns an empty builder.
func New() *Builder { return &Builder{} }

// Page appends a page of the given size in points.
func (b *Builder) Page(width, height float64) *Page {
	p := &Page{Width: width, Height: height, fonts: map[string]string{"F1": "Helvetica"}}
	b.pages = append(b.pages, p)
	return p
}

// Font declares a standard-14 font under a resource name.
func (p *Page) Font(name, baseFont string) *Page {
	p.fonts[name] = baseFont
	return p
}

// Text shows a single line in F1 at (x, y).
func (p *Page) Text(x, y, size float64, text string) *Page {
	return p.TextIn("F1", x, y, size, text)
}

// TextIn shows a single line in the named font at (x, y).
func (p *Page) TextIn(font string, x, y, size float64, text string) *Page {
	fmt.Fprintf(&p.content, "BT /%s %s Tf %s %s Td (%s) Tj ET\n", font, num(size), num(x), num(y), escape(text))
	return p
}

// Paragraph shows lines top-down with the given leading in one text object.
func (p *Page) Paragraph(x, y, size, leading float64, lines ...string) *Page {
	fmt.Fprintf(&p.content, "BT /F1 %s Tf %s TL %s %s Td\n", num(size), num(leading), num(x), num(y))
	for i, l := range lines {
		if i > 0 {
			p.content.WriteString("T*\n")
		}
		fmt.Fprintf(&p.content, "(%s) Tj\n", escape(l))
	}
	p.content.WriteString("ET\n")
	return p
}

// Image paints a 1x1 grey image XObject scaled to the rectangle.
func (p *Page) Image(x, y, w, h float64) *Page {
	p.images++
	fmt.Fprintf(&p.content, "q %s 0 0 %s %s %s cm /Im%d Do Q\n", num(w), num(h), num(x), num(y), p.images)
	return p
}

// Rect strokes a rectangle.
func (p *Page) Rect(x, y, w, h float64) *Page {
	fmt.Fprintf(&p.content, "%s %s %s %s re S\n", num(x), num(y), num(w), num(h))
	return p
}

// Raw appends content stream text verbatim.
func (p *Page) Raw(ops string) *Page {
	p.content.WriteString(ops)
	if !strings.HasSuffix(ops, "\n") {
		p.content.WriteByte('\n')
	}
	return p
}

// Bytes writes the document.
func (b *Builder) Bytes() []byte {
	w := &writer{}
	w.buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	// object numbers: 1 catalog, 2 page tree, then per page: page, content, fonts..., images...
	next := 3
	type pageObjs struct {
		page, content int
		fonts         map[string]int
		images        []int
	}
	layout := make([]pageObjs, len(b.pages))
	for i, p := range b.pages {
		po := pageObjs{page: next, content: next + 1, fonts: map[string]int{}}
		next += 2
		for _, name := range sortedKeys(p.fonts) {
			po.fonts[name] = next
			next++
		}
		for k := 0; k < p.images; k++ {
			po.images = append(po.images, next)
			next++
		}
		layout[i] = po
	}
	encrypt := 0
	if b.Encrypt {
		encrypt = next
		next++
	}

	w.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, len(layout))
	for i, po := range layout {
		kids[i] = fmt.Sprintf("%d 0 R", po.page)
	}
	w.object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(layout)))

	for i, p := range b.pages {
		po := layout[i]
		var res strings.Builder
		res.WriteString("<< /Font <<")
		for _, name := range sortedKeys(p.fonts) {
			fmt.Fprintf(&res, " /%s %d 0 R", name, po.fonts[name])
		}
		res.WriteString(" >>")
		if len(po.images) > 0 {
			res.WriteString(" /XObject <<")
			for k, obj := range po.images {
				fmt.Fprintf(&res, " /Im%d %d 0 R", k+1, obj)
			}
			res.WriteString(" >>")
		}
		res.WriteString(" >>")

		w.object(po.page, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %s %s] /Resources %s /Contents %d 0 R >>",
			num(p.Width), num(p.Height), res.String(), po.content))
		w.stream(po.content, "", []byte(p.content.String()))
		for _, name := range sortedKeys(p.fonts) {
			w.object(po.fonts[name], fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /%s /Encoding /WinAnsiEncoding >>", p.fonts[name]))
		}
		for _, obj := range po.images {
			w.stream(obj, "/Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", []byte{0x80})
		}
	}
	if encrypt > 0 {
		w.object(encrypt, "<< /Filter /Standard /V 1 /R 2 /O <00> /U <00> /P -4 >>")
	}

	xref := w.buf.Len()
	fmt.Fprintf(&w.buf, "xref\n0 %d\n0000000000 65535 f \n", next)
	for n := 1; n < next; n++ {
		fmt.Fprintf(&w.buf, "%010d 00000 n \n", w.offsets[n])
	}
	trailer := fmt.Sprintf("<< /Size %d /Root 1 0 R", next)
	if encrypt > 0 {
		trailer += fmt.Sprintf(" /Encrypt %d 0 R /ID [<01> <01>]", encrypt)
	}
	fmt.Fprintf(&w.buf, "trailer\n%s >>\nstartxref\n%d\n%%%%EOF\n", trailer, xref)
	return w.buf.Bytes()
}

type writer struct {
	buf     bytes.Buffer
	offsets map[int]int
}

func (w *writer) object(n int, body string) {
	w.mark(n)
	fmt.Fprintf(&w.buf, "%d 0 obj\n%s\nendobj\n", n, body)
}

func (w *writer) stream(n int, dict string, data []byte) {
	w.mark(n)
	fmt.Fprintf(&w.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", n, dict, len(data))
	w.buf.Write(data)
	w.buf.WriteString("\nendstream\nendobj\n")
}

func (w *writer) mark(n int) {
	if w.offsets == nil {
		w.offsets = make(map[int]int)
	}
	w.offsets[n] = w.buf.Len()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func num(v float64) string {
	s := fmt.Sprintf("%.3f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
