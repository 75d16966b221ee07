// Package segment groups a page's glyph runs into translation units:
// paragraph-sized pieces of prose bounded by one text or caption region.
package segment

import (
	"github.com/google/uuid"

	"pdf-translator/internal/document"
	"pdf-translator/internal/layout"
)

// Status tracks a unit through translation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusTranslated Status = "translated"
	StatusCached     Status = "cached"
	// StatusFallback units carry their source text after translation failed.
	StatusFallback Status = "fallback"
)

// TranslationUnit is a block of source text with the geometry needed to set
// its translation back into the page.
type TranslationUnit struct {
	ID         string               `json:"id"`
	Page       int                  `json:"page"`
	Label      layout.Label         `json:"label"`
	SourceText string               `json:"source_text"`
	Runs       []*document.GlyphRun `json:"-"`
	BBox       document.Rect        `json:"bbox"`

	Font     *document.FontResource `json:"-"`
	FontName string                 `json:"font"`
	// FontSize is the effective size in page space.
	FontSize float64        `json:"font_size"`
	Color    document.Color `json:"-"`

	LineCount int `json:"line_count"`
	// LinePitch is the baseline distance between consecutive lines.
	LinePitch     float64 `json:"line_pitch"`
	FirstBaseline float64 `json:"-"`
	LanguageHint  string  `json:"language_hint,omitempty"`

	TranslatedText string `json:"translated_text,omitempty"`
	Status         Status `json:"status"`
	// Error describes why a fallback unit could not be translated.
	Error string `json:"error,omitempty"`
}

func newUnit(page int, label layout.Label, first *document.GlyphRun) *TranslationUnit {
	return &TranslationUnit{
		ID:            uuid.NewString(),
		Page:          page,
		Label:         label,
		Runs:          []*document.GlyphRun{first},
		BBox:          first.BBox,
		Font:          first.Font,
		FontName:      first.FontName,
		FontSize:      first.Size,
		Color:         first.Color,
		LineCount:     1,
		FirstBaseline: first.Baseline(),
		Status:        StatusPending,
	}
}

// Text returns the translated text when present, else the source text.
func (u *TranslationUnit) Text() string {
	if u.TranslatedText != "" {
		return u.TranslatedText
	}
	return u.SourceText
}
