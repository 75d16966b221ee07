package document

import (
	"bytes"
	"fmt"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// inspectPages is how many leading pages the text check reads.
const inspectPages = 3

// Inspection summarizes a quick pass over a document before full parsing.
type Inspection struct {
	PageCount int
	// TextChars counts non-space characters extracted from the sampled pages.
	TextChars int
	Sampled   int
}

// Scanned reports whether no text was extracted from any sampled page.
func (i Inspection) Scanned() bool { return i.Sampled > 0 && i.TextChars == 0 }

// Inspect counts extractable characters on the first pages using an
// independent reader, so image-only documents can be rejected early.
func Inspect(data []byte) (info Inspection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inspect: reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Inspection{}, fmt.Errorf("inspect: %w", err)
	}
	info.PageCount = r.NumPage()

	n := min(inspectPages, info.PageCount)
	for pageNum := 1; pageNum <= n; pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		info.Sampled++
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		for _, c := range content {
			if !unicode.IsSpace(c) {
				info.TextChars++
			}
		}
	}
	return info, nil
}
