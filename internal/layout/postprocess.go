package layout

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// detection is one row of detector output in model-input pixels.
type detection struct {
	x0, y0, x1, y1 float64
	score          float64
	class          int
}

// DocStructBenchClasses are the class names of the DocLayout-YOLO
// DocStructBench checkpoint, indexed by class id.
var DocStructBenchClasses = []string{
	"title", "plain text", "abandon", "figure", "figure_caption",
	"table", "table_caption", "table_footnote", "isolate_formula", "formula_caption",
}

// LabelForClass maps a detector class name to a Label.
func LabelForClass(name string) Label {
	name = strings.ToLower(strings.TrimSpace(name))
	switch {
	case name == "title", name == "plain text", name == "text", name == "list":
		return Text
	case name == "figure", name == "picture", name == "image":
		return Figure
	case name == "table":
		return Table
	case name == "isolate_formula", name == "formula", name == "formula_caption", name == "equation":
		return Formula
	case strings.HasSuffix(name, "_caption"), name == "caption", name == "table_footnote":
		return Caption
	default:
		return Other
	}
}

// parseDetections reads an [N, 6] output of (x0, y0, x1, y1, score, class) rows.
func parseDetections(data []float32, shape []int64) ([]detection, error) {
	if len(shape) < 2 || shape[len(shape)-1] != 6 {
		return nil, fmt.Errorf("unsupported output shape %v", shape)
	}
	n := len(data) / 6
	out := make([]detection, 0, n)
	for i := 0; i < n; i++ {
		row := data[i*6 : i*6+6]
		out = append(out, detection{
			x0: float64(row[0]), y0: float64(row[1]),
			x1: float64(row[2]), y1: float64(row[3]),
			score: float64(row[4]),
			class: int(row[5]),
		})
	}
	return out, nil
}

func filterByConfidence(dets []detection, threshold float64) []detection {
	var out []detection
	for _, d := range dets {
		if d.score >= threshold && d.x1 > d.x0 && d.y1 > d.y0 {
			out = append(out, d)
		}
	}
	return out
}

// nmsPerClass suppresses overlapping detections of the same class.
func nmsPerClass(dets []detection, iouThreshold float64) []detection {
	byClass := make(map[int][]detection)
	var classes []int
	for _, d := range dets {
		if _, ok := byClass[d.class]; !ok {
			classes = append(classes, d.class)
		}
		byClass[d.class] = append(byClass[d.class], d)
	}
	sort.Ints(classes)

	var out []detection
	for _, c := range classes {
		out = append(out, nms(byClass[c], iouThreshold)...)
	}
	return out
}

func nms(dets []detection, iouThreshold float64) []detection {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].score > dets[j].score })
	var keep []detection
	for len(dets) > 0 {
		best := dets[0]
		keep = append(keep, best)
		var rest []detection
		for _, d := range dets[1:] {
			if iou(best, d) < iouThreshold {
				rest = append(rest, d)
			}
		}
		dets = rest
	}
	return keep
}

func iou(a, b detection) float64 {
	x0, y0 := math.Max(a.x0, b.x0), math.Max(a.y0, b.y0)
	x1, y1 := math.Min(a.x1, b.x1), math.Min(a.y1, b.y1)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := (x1 - x0) * (y1 - y0)
	union := (a.x1-a.x0)*(a.y1-a.y0) + (b.x1-b.x0)*(b.y1-b.y0) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// toRegions maps detections back through the letterbox onto the page.
func toRegions(dets []detection, lb letterbox, raster Raster, classes []string) []Region {
	regions := make([]Region, 0, len(dets))
	for _, d := range dets {
		label := Other
		if d.class >= 0 && d.class < len(classes) {
			label = LabelForClass(classes[d.class])
		}
		x0, y0 := lb.unmap(d.x0, d.y0)
		x1, y1 := lb.unmap(d.x1, d.y1)
		regions = append(regions, Region{
			Label:      label,
			BBox:       raster.ToPage(x0, y0, x1, y1),
			Confidence: d.score,
		})
	}
	return regions
}
