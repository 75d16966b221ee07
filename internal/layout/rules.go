package layout

import (
	"context"
	"fmt"
	"math"
	"regexp"

	"pdf-translator/internal/document"
	"pdf-translator/internal/logger"
)

var captionPrefix = regexp.MustCompile(`^\s*(Figure|Fig\.|FIGURE|Table|TABLE|Tab\.|Algorithm)\s*[0-9IVX]+`)

// RuleBased classifies a page from its interpreted content without a model:
// images and dense vector art are figures, runs in formula fonts are
// formulas, numbered "Figure"/"Table" lines next to a figure are captions and
// everything else is text.
type RuleBased struct {
	// FormulaFont matches font names whose runs are formulas.
	FormulaFont *regexp.Regexp
	// MinArtPaths is how many nearby vector paths make a drawing.
	MinArtPaths int
}

// NewRuleBased creates a classifier using the given formula font pattern (may be empty).
func NewRuleBased(formulaFontPattern string) (*RuleBased, error) {
	rb := &RuleBased{MinArtPaths: 8}
	if formulaFontPattern != "" {
		re, err := regexp.Compile(formulaFontPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid formula font pattern: %w", err)
		}
		rb.FormulaFont = re
	}
	return rb, nil
}

// Classify implements Classifier.
func (c *RuleBased) Classify(ctx context.Context, raster Raster) ([]Region, error) {
	page := raster.Page
	if page == nil {
		return nil, fmt.Errorf("rule-based classification needs page content")
	}
	box := raster.PageBox
	if box.Empty() {
		box = page.MediaBox
	}

	var regions []Region
	var figures []document.Rect
	for _, r := range append(append([]document.Rect(nil), page.Images...), page.Forms...) {
		if r.Clip(box).Area() < 4 {
			continue
		}
		figures = append(figures, r)
		regions = append(regions, Region{Label: Figure, BBox: r, Confidence: 1})
	}
	for _, art := range c.drawings(page.Paths) {
		figures = append(figures, art)
		regions = append(regions, Region{Label: Figure, BBox: art, Confidence: 0.8})
	}

	for i := 0; i < len(page.Runs); i++ {
		run := page.Runs[i]
		if c.FormulaFont != nil && run.Font != nil && c.FormulaFont.MatchString(run.Font.BaseFont) {
			regions = append(regions, Region{Label: Formula, BBox: run.BBox, Confidence: 0.9})
			continue
		}
		if !captionPrefix.MatchString(run.Text) {
			continue
		}
		caption, next := captionBlock(page.Runs, i)
		if nearAny(caption, figures, 3*run.Size) {
			regions = append(regions, Region{Label: Caption, BBox: caption, Confidence: 0.9})
			i = next - 1
		}
	}

	regions = append(regions, Region{Label: Text, BBox: box, Confidence: 0.5})

	logger.Debug("rule-based detection complete",
		logger.Page(page.Index),
		logger.Int("regions", len(regions)))
	return regions, nil
}

// drawings groups nearby vector paths and returns the groups dense enough to be art.
func (c *RuleBased) drawings(paths []document.Rect) []document.Rect {
	if c.MinArtPaths <= 0 || len(paths) < c.MinArtPaths {
		return nil
	}
	const gap = 2.0
	type cluster struct {
		box   document.Rect
		count int
	}
	var clusters []cluster
	for _, p := range paths {
		grown := document.Rect{LLX: p.LLX - gap, LLY: p.LLY - gap, URX: p.URX + gap, URY: p.URY + gap}
		merged := -1
		for k := range clusters {
			if clusters[k].box.Intersect(grown).Empty() {
				continue
			}
			if merged < 0 {
				clusters[k].box = clusters[k].box.Union(p)
				clusters[k].count++
				merged = k
				continue
			}
			// p bridges two clusters
			clusters[merged].box = clusters[merged].box.Union(clusters[k].box)
			clusters[merged].count += clusters[k].count
			clusters[k].count = 0
			clusters[k].box = document.Rect{LLX: math.Inf(1), LLY: math.Inf(1), URX: math.Inf(-1), URY: math.Inf(-1)}
		}
		if merged < 0 {
			clusters = append(clusters, cluster{box: p, count: 1})
		}
	}

	var out []document.Rect
	for _, cl := range clusters {
		if cl.count >= c.MinArtPaths && cl.box.Width() > 10 && cl.box.Height() > 10 {
			out = append(out, cl.box)
		}
	}
	return out
}

// captionBlock extends the caption starting at runs[i] over following lines of
// the same paragraph. It returns the block and the index after its last run.
func captionBlock(runs []*document.GlyphRun, i int) (document.Rect, int) {
	first := runs[i]
	box := first.BBox
	prev := first
	j := i + 1
	for ; j < len(runs); j++ {
		r := runs[j]
		drop := prev.Baseline() - r.Baseline()
		sameLine := math.Abs(drop) < 0.5*prev.Size
		nextLine := drop > 0 && drop <= 1.8*prev.Size &&
			r.BBox.LLX < box.URX && r.BBox.URX > box.LLX
		if !sameLine && !nextLine {
			break
		}
		if math.Abs(r.Size-first.Size) > 0.2*first.Size {
			break
		}
		box = box.Union(r.BBox)
		prev = r
	}
	return box, j
}

func nearAny(r document.Rect, others []document.Rect, dist float64) bool {
	for _, o := range others {
		dx := math.Max(0, math.Max(o.LLX-r.URX, r.LLX-o.URX))
		dy := math.Max(0, math.Max(o.LLY-r.URY, r.LLY-o.URY))
		if dx <= dist && dy <= dist {
			return true
		}
	}
	return false
}
