package layout

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// padGray is the letterbox fill the detector was trained with.
const padGray = 114

// letterbox records how a raster was fitted into the square model input.
type letterbox struct {
	scale      float64
	padX, padY float64
}

// unmap converts a model-input pixel coordinate back to raster pixels.
func (lb letterbox) unmap(x, y float64) (float64, float64) {
	return (x - lb.padX) / lb.scale, (y - lb.padY) / lb.scale
}

// letterboxImage scales img to fit a size×size square keeping its aspect
// ratio and centres it on a grey background.
func letterboxImage(img image.Image, size int) (*image.RGBA, letterbox) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.RGBA{padGray, padGray, padGray, 255}), image.Point{}, draw.Src)
	draw.ApproxBiLinear.Scale(dst, image.Rect(padX, padY, padX+nw, padY+nh), img, b, draw.Src, nil)

	return dst, letterbox{scale: scale, padX: float64(padX), padY: float64(padY)}
}

// tensorCHW converts an RGBA image to a [3, H, W] float tensor in [0, 1].
func tensorCHW(img *image.RGBA, out []float32) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	if out == nil {
		out = make([]float32, 3*plane)
	}
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			idx := y*w + x
			px := row[4*x:]
			out[idx] = float32(px[0]) / 255
			out[plane+idx] = float32(px[1]) / 255
			out[2*plane+idx] = float32(px[2]) / 255
		}
	}
	return out
}
