// Package layout classifies page areas into text, captions, figures, tables
// and formulas so that only prose is sent for translation.
package layout

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"

	"pdf-translator/internal/document"
	"pdf-translator/internal/logger"
)

const (
	// CalibrationDPI is the resolution at which one raster pixel equals one point.
	CalibrationDPI = 72
	// ModelInputSize is the square input edge of the layout model.
	ModelInputSize = 1024
)

// Label is the class of a region.
type Label int

const (
	Other Label = iota
	Text
	Caption
	Figure
	Table
	Formula
)

func (l Label) String() string {
	switch l {
	case Text:
		return "text"
	case Caption:
		return "caption"
	case Figure:
		return "figure"
	case Table:
		return "table"
	case Formula:
		return "formula"
	default:
		return "other"
	}
}

// MarshalText encodes the label name for reports.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Priority orders labels when regions overlap: Formula > Table > Figure > Caption > Text > Other.
func (l Label) Priority() int {
	switch l {
	case Formula:
		return 5
	case Table:
		return 4
	case Figure:
		return 3
	case Caption:
		return 2
	case Text:
		return 1
	default:
		return 0
	}
}

// Preserve reports whether content under the label is kept verbatim.
func (l Label) Preserve() bool {
	return l == Figure || l == Table || l == Formula
}

// Translatable reports whether runs may be assigned to regions with this label.
func (l Label) Translatable() bool {
	return l == Text || l == Caption
}

// Region is a classified area of a page in PDF user space.
type Region struct {
	Label      Label         `json:"label"`
	BBox       document.Rect `json:"bbox"`
	Confidence float64       `json:"confidence"`
}

// Raster is the input to a classifier: a page image together with the
// geometry needed to map pixels back to points.
type Raster struct {
	Image image.Image
	DPI   float64
	// PageBox is the page area the image covers.
	PageBox document.Rect
	// Page gives model-free classifiers access to the interpreted content.
	Page *document.Page
}

// ToPage maps a pixel rectangle (origin top-left) to page space.
func (r Raster) ToPage(x0, y0, x1, y1 float64) document.Rect {
	s := CalibrationDPI / r.DPI
	return document.NewRect(
		r.PageBox.LLX+x0*s, r.PageBox.URY-y1*s,
		r.PageBox.LLX+x1*s, r.PageBox.URY-y0*s,
	)
}

// Classifier detects regions on a rasterized page.
type Classifier interface {
	Classify(ctx context.Context, raster Raster) ([]Region, error)
}

// BatchClassifier classifies several pages in one call.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, rasters []Raster) ([][]Region, error)
}

// ClassificationError records that a page fell back to a single text region.
type ClassificationError struct {
	Page  int
	Cause error
}

func (e *ClassificationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("classify page %d: no regions", e.Page)
	}
	return fmt.Sprintf("classify page %d: %v", e.Page, e.Cause)
}

func (e *ClassificationError) Unwrap() error { return e.Cause }

// errNoRegions is the cause recorded when a classifier returns nothing.
var errNoRegions = errors.New("classifier returned no regions")

// ClassifyPage runs c and normalizes its output: regions are clipped to the
// page, empty ones dropped, and the rest ordered by label priority and then
// descending confidence. When c fails or finds nothing the whole page becomes
// one Text region and a *ClassificationError is returned alongside it.
// Only context cancellation is returned without regions.
func ClassifyPage(ctx context.Context, c Classifier, raster Raster) ([]Region, error) {
	regions, err := c.Classify(ctx, raster)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return Normalize(raster, regions, err)
}

// Normalize applies ClassifyPage's post-processing to classifier output.
func Normalize(raster Raster, regions []Region, err error) ([]Region, error) {
	page := pageIndex(raster)
	if err == nil {
		regions = clipRegions(regions, raster.PageBox)
		if len(regions) == 0 {
			err = errNoRegions
		}
	}
	if err != nil {
		logger.Warn("layout classification degraded to whole page",
			logger.Page(page), logger.Err(err))
		return []Region{{Label: Text, BBox: raster.PageBox}}, &ClassificationError{Page: page, Cause: err}
	}
	SortRegions(regions)
	return regions, nil
}

func pageIndex(r Raster) int {
	if r.Page != nil {
		return r.Page.Index
	}
	return -1
}

func clipRegions(regions []Region, box document.Rect) []Region {
	out := regions[:0:0]
	for _, r := range regions {
		r.BBox = r.BBox.Clip(box)
		if r.BBox.Empty() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SortRegions orders regions by descending priority, then descending confidence.
func SortRegions(regions []Region) {
	sort.SliceStable(regions, func(i, j int) bool {
		pi, pj := regions[i].Label.Priority(), regions[j].Label.Priority()
		if pi != pj {
			return pi > pj
		}
		return regions[i].Confidence > regions[j].Confidence
	})
}
