package layout

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/zeebo/blake3"

	"pdf-translator/internal/document"
	"pdf-translator/internal/logger"
)

// Rasterizer produces the classifier input for a page.
type Rasterizer interface {
	Rasterize(ctx context.Context, src []byte, page *document.Page) (Raster, error)
}

// DefaultDPI gives a page of US Letter roughly the model input height.
const DefaultDPI = 96

// NewRasterizer returns the rasterizer named by kind: "poppler", "vector" or "auto".
func NewRasterizer(kind string, dpi int) (Rasterizer, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	switch kind {
	case "vector":
		return VectorRasterizer{DPI: float64(dpi)}, nil
	case "poppler":
		if !PopplerAvailable() {
			return nil, fmt.Errorf("pdftoppm not found, install poppler-utils")
		}
		return NewPopplerRasterizer(dpi), nil
	case "", "auto":
		return AutoRasterizer{
			Poppler: NewPopplerRasterizer(dpi),
			Vector:  VectorRasterizer{DPI: float64(dpi)},
			enabled: PopplerAvailable(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown rasterizer %q", kind)
	}
}

// VectorRasterizer draws the page's layout raster in pure Go.
type VectorRasterizer struct {
	DPI float64
}

func (v VectorRasterizer) Rasterize(ctx context.Context, _ []byte, page *document.Page) (Raster, error) {
	return Raster{
		Image:   document.RenderPage(page, v.DPI),
		DPI:     v.DPI,
		PageBox: pageBox(page),
		Page:    page,
	}, nil
}

func pageBox(p *document.Page) document.Rect {
	if !p.CropBox.Empty() {
		return p.CropBox
	}
	return p.MediaBox
}

var (
	popplerOnce bool
	popplerOK   bool
	popplerMu   sync.Mutex
)

// PopplerAvailable reports whether pdftoppm can be executed.
func PopplerAvailable() bool {
	popplerMu.Lock()
	defer popplerMu.Unlock()
	if !popplerOnce {
		cmd := exec.Command("pdftoppm", "-v")
		hideWindow(cmd)
		popplerOK = cmd.Run() == nil
		popplerOnce = true
	}
	return popplerOK
}

// PopplerRasterizer renders pages with pdftoppm. The source document is
// written to a temporary file once per distinct content.
type PopplerRasterizer struct {
	dpi int

	mu      sync.Mutex
	tempDir string
	srcKey  [32]byte
	srcPath string
}

// NewPopplerRasterizer creates a rasterizer rendering at dpi.
func NewPopplerRasterizer(dpi int) *PopplerRasterizer {
	return &PopplerRasterizer{dpi: dpi}
}

func (c *PopplerRasterizer) sourceFile(src []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tempDir == "" {
		dir, err := os.MkdirTemp("", "pdf2img_*")
		if err != nil {
			return "", fmt.Errorf("failed to create temp dir: %w", err)
		}
		c.tempDir = dir
	}
	key := blake3.Sum256(src)
	if c.srcPath != "" && key == c.srcKey {
		return c.srcPath, nil
	}
	path := filepath.Join(c.tempDir, "source.pdf")
	if err := os.WriteFile(path, src, 0600); err != nil {
		return "", fmt.Errorf("failed to write source: %w", err)
	}
	c.srcKey, c.srcPath = key, path
	return path, nil
}

func (c *PopplerRasterizer) Rasterize(ctx context.Context, src []byte, page *document.Page) (Raster, error) {
	pdfPath, err := c.sourceFile(src)
	if err != nil {
		return Raster{}, err
	}
	pageNum := strconv.Itoa(page.Index + 1)
	outputPrefix := filepath.Join(c.tempDir, "page_"+pageNum)

	logger.Debug("converting PDF page to image",
		logger.Page(page.Index),
		logger.Int("dpi", c.dpi))

	args := []string{
		"-f", pageNum,
		"-l", pageNum,
		"-png",
		"-r", strconv.Itoa(c.dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	}
	cmd := exec.CommandContext(ctx, "pdftoppm", args...)
	hideWindow(cmd)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Raster{}, fmt.Errorf("pdftoppm failed: %w, output: %s", err, string(output))
	}

	imgPath := outputPrefix + ".png"
	data, err := os.ReadFile(imgPath)
	if err != nil {
		return Raster{}, fmt.Errorf("failed to load image: %w", err)
	}
	os.Remove(imgPath)
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Raster{}, fmt.Errorf("failed to decode image: %w", err)
	}

	return Raster{
		Image:   img,
		DPI:     float64(c.dpi),
		PageBox: pageBox(page),
		Page:    page,
	}, nil
}

// Cleanup removes temporary files.
func (c *PopplerRasterizer) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
		c.tempDir, c.srcPath = "", ""
	}
}

// AutoRasterizer uses poppler when it is installed and the page is not
// rotated, and the vector rasterizer otherwise.
type AutoRasterizer struct {
	Poppler *PopplerRasterizer
	Vector  VectorRasterizer
	enabled bool
}

func (a AutoRasterizer) Rasterize(ctx context.Context, src []byte, page *document.Page) (Raster, error) {
	if a.enabled && page.Rotate == 0 {
		r, err := a.Poppler.Rasterize(ctx, src, page)
		if err == nil {
			return r, nil
		}
		logger.Warn("poppler rasterization failed, using vector raster", logger.Page(page.Index), logger.Err(err))
	}
	return a.Vector.Rasterize(ctx, src, page)
}

// Cleanup removes poppler's temporary files.
func (a AutoRasterizer) Cleanup() {
	if a.Poppler != nil {
		a.Poppler.Cleanup()
	}
}
