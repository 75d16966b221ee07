package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"pdf-translator/internal/translate"
)

// Report describes what a run did to a document. It is written as a JSON
// side artifact next to the output.
type Report struct {
	Source         string    `json:"source,omitempty"`
	TargetLanguage string    `json:"target_language"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	DurationMS     int64     `json:"duration_ms"`

	Pages           int `json:"pages"`
	SelectedPages   int `json:"selected_pages"`
	TranslatedPages int `json:"translated_pages"`
	Units           int `json:"units"`

	Translation translate.Stats `json:"translation"`
	Tokens      *TokenUsage     `json:"tokens,omitempty"`

	// Fallbacks lists units left in the source language.
	Fallbacks []UnitRecord `json:"fallbacks"`
	// Overflows lists units whose translation extends beyond their box.
	Overflows []UnitRecord `json:"overflows"`
	// Untypeset lists units whose original text was kept because the
	// translation could not be laid out.
	Untypeset []UnitRecord `json:"untypeset"`
	// PageFailures lists pages that kept their original content.
	PageFailures []PageRecord `json:"page_failures"`
	// Degraded lists pages classified as a single text region.
	Degraded []PageRecord `json:"degraded"`
	// Fonts lists the substitute fonts embedded.
	Fonts []string `json:"fonts,omitempty"`

	mu sync.Mutex
}

// UnitRecord identifies a unit in the report.
type UnitRecord struct {
	UnitID string `json:"unit_id"`
	Page   int    `json:"page"`
	Text   string `json:"text"`
	Detail string `json:"detail,omitempty"`
}

// PageRecord explains what happened to a page.
type PageRecord struct {
	Page  int    `json:"page"`
	Error string `json:"error"`
}

// TokenUsage counts backend tokens for backends that report them.
type TokenUsage struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
}

func newReport(source, target string) *Report {
	return &Report{
		Source:         source,
		TargetLanguage: target,
		StartedAt:      time.Now(),
		Fallbacks:      []UnitRecord{},
		Overflows:      []UnitRecord{},
		Untypeset:      []UnitRecord{},
		PageFailures:   []PageRecord{},
		Degraded:       []PageRecord{},
	}
}

func (r *Report) addPageFailure(page int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PageFailures = append(r.PageFailures, PageRecord{Page: page, Error: err.Error()})
}

func (r *Report) addDegraded(page int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Degraded = append(r.Degraded, PageRecord{Page: page, Error: err.Error()})
}

func (r *Report) addOverflow(rec UnitRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Overflows = append(r.Overflows, rec)
}

func (r *Report) addUntypeset(rec UnitRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Untypeset = append(r.Untypeset, rec)
}

// finish stamps the end time and orders every list by page.
func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now()
	r.DurationMS = r.FinishedAt.Sub(r.StartedAt).Milliseconds()
	for _, list := range [][]UnitRecord{r.Fallbacks, r.Overflows, r.Untypeset} {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Page < list[j].Page })
	}
	for _, list := range [][]PageRecord{r.PageFailures, r.Degraded} {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Page < list[j].Page })
	}
}

// Save writes the report as indented JSON.
func (r *Report) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	r.mu.Lock()
	data, err := json.MarshalIndent(r, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
