package document

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"pdf-translator/internal/logger"
)

// Whole-file post-processing on serialized documents.

// PageCount returns the page count of a serialized document.
func PageCount(data []byte) (int, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), newConfiguration())
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return ctx.PageCount, nil
}

// Interleave builds a dual document in which every original page is paired
// with its translation. With translatedFirst the translated page leads each pair.
func Interleave(original, translated []byte, translatedFirst bool) ([]byte, error) {
	n, err := PageCount(original)
	if err != nil {
		return nil, err
	}
	m, err := PageCount(translated)
	if err != nil {
		return nil, err
	}
	if n != m {
		return nil, fmt.Errorf("page count mismatch: original %d, translated %d", n, m)
	}

	logger.Info("building dual document",
		logger.Int("pages", n),
		logger.Bool("translatedFirst", translatedFirst))

	first, second := original, translated
	if translatedFirst {
		first, second = translated, original
	}

	var merged bytes.Buffer
	conf := newConfiguration()
	rsc := []io.ReadSeeker{bytes.NewReader(first), bytes.NewReader(second)}
	if err := api.MergeRaw(rsc, &merged, false, conf); err != nil {
		return nil, fmt.Errorf("failed to merge PDFs: %w", err)
	}

	order := make([]string, 0, 2*n)
	for i := 1; i <= n; i++ {
		order = append(order, strconv.Itoa(i), strconv.Itoa(n+i))
	}

	var out bytes.Buffer
	if err := api.Collect(bytes.NewReader(merged.Bytes()), &out, order, conf); err != nil {
		return nil, fmt.Errorf("failed to order dual pages: %w", err)
	}
	return out.Bytes(), nil
}

// Watermark stamps text on every page.
func Watermark(data []byte, text string) ([]byte, error) {
	logger.Info("adding watermark", logger.String("watermark", text))

	wm, err := api.TextWatermark(text, "pos:bl, rot:0, op:0.5, scale:0.4 rel", true, false, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create watermark: %w", err)
	}

	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(data), &out, nil, wm, newConfiguration()); err != nil {
		return nil, fmt.Errorf("failed to add watermark: %w", err)
	}
	return out.Bytes(), nil
}
