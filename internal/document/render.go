package document

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/vector"
)

// RenderPage draws a layout raster of the page at dpi: glyph runs as solid
// line boxes, images and forms as grey blocks, vector paths as outlines.
// It is not a faithful rendering; it preserves the geometry a layout
// classifier needs.
func RenderPage(p *Page, dpi float64) *image.Gray {
	if dpi <= 0 {
		dpi = 72
	}
	box := p.CropBox
	if box.Empty() {
		box = p.MediaBox
	}
	scale := dpi / 72
	w := max(1, int(box.Width()*scale+0.5))
	h := max(1, int(box.Height()*scale+0.5))

	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	toPx := func(r Rect) (x0, y0, x1, y1 float32) {
		r = r.Clip(box)
		return float32((r.LLX - box.LLX) * scale), float32((box.URY - r.URY) * scale),
			float32((r.URX - box.LLX) * scale), float32((box.URY - r.LLY) * scale)
	}

	fill := func(rects []Rect, shade uint8) {
		z := vector.NewRasterizer(w, h)
		n := 0
		for _, r := range rects {
			x0, y0, x1, y1 := toPx(r)
			if x1-x0 < 0.5 || y1-y0 < 0.5 {
				continue
			}
			addRect(z, x0, y0, x1, y1)
			n++
		}
		if n > 0 {
			z.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: shade}), image.Point{})
		}
	}

	outline := func(rects []Rect, shade uint8) {
		z := vector.NewRasterizer(w, h)
		n := 0
		for _, r := range rects {
			x0, y0, x1, y1 := toPx(r)
			if x1-x0 < 2 || y1-y0 < 2 {
				// rules and hairlines are drawn solid
				addRect(z, x0, y0, max(x1, x0+1), max(y1, y0+1))
				n++
				continue
			}
			addRect(z, x0, y0, x1, y0+1)
			addRect(z, x0, y1-1, x1, y1)
			addRect(z, x0, y0, x0+1, y1)
			addRect(z, x1-1, y0, x1, y1)
			n++
		}
		if n > 0 {
			z.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: shade}), image.Point{})
		}
	}

	fill(append(append([]Rect(nil), p.Images...), p.Forms...), 160)
	outline(p.Paths, 96)

	text := make([]Rect, 0, len(p.Runs))
	for _, r := range p.Runs {
		if r.RenderMode == 3 || r.BBox.Empty() {
			continue
		}
		text = append(text, r.BBox)
	}
	fill(text, 0)
	return img
}

func addRect(z *vector.Rasterizer, x0, y0, x1, y1 float32) {
	z.MoveTo(x0, y0)
	z.LineTo(x1, y0)
	z.LineTo(x1, y1)
	z.LineTo(x0, y1)
	z.ClosePath()
}
