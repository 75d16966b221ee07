package layout

import (
	"context"

	"pdf-translator/internal/logger"
)

// Batched feeds pages to a classifier in groups of Size. Classifiers that
// implement BatchClassifier receive a whole group per call; a failed group is
// retried page by page so one bad page does not degrade its neighbours.
type Batched struct {
	Classifier Classifier
	Size       int
}

// ClassifyAll classifies every raster and returns normalized regions plus
// the per-page degradation errors (nil entries for pages that succeeded).
func (b Batched) ClassifyAll(ctx context.Context, rasters []Raster) ([][]Region, []error, error) {
	size := b.Size
	if size <= 0 {
		size = 1
	}
	regions := make([][]Region, len(rasters))
	errs := make([]error, len(rasters))

	bc, batched := b.Classifier.(BatchClassifier)
	for start := 0; start < len(rasters); start += size {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		end := min(start+size, len(rasters))
		group := rasters[start:end]

		if batched && len(group) > 1 {
			out, err := bc.ClassifyBatch(ctx, group)
			if err == nil && len(out) == len(group) {
				for k := range group {
					regions[start+k], errs[start+k] = Normalize(group[k], out[k], nil)
				}
				continue
			}
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			logger.Warn("batch classification failed, retrying pages individually",
				logger.Int("pages", len(group)), logger.Err(err))
		}

		for k, r := range group {
			out, err := ClassifyPage(ctx, b.Classifier, r)
			if err != nil && ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			regions[start+k], errs[start+k] = out, err
		}
	}
	return regions, errs, nil
}
