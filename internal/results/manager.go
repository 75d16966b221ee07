// Package results keeps a history of translated documents. Each document is
// identified by the hash of its bytes and the target language; its record
// lists the produced files and, for failed runs, the failing stage.
package results

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
)

// TranslationStatus represents the status of a translation
type TranslationStatus string

const (
	// StatusTranslating is recorded before a run starts.
	StatusTranslating TranslationStatus = "translating"
	// StatusComplete indicates the outputs were written.
	StatusComplete TranslationStatus = "complete"
	// StatusError indicates the run stopped at Stage.
	StatusError TranslationStatus = "error"
)

// DocumentInfo describes a document translated into one language.
type DocumentInfo struct {
	ID             string            `json:"id"`
	SourceHash     string            `json:"source_hash"`
	SourceFileName string            `json:"source_file_name"`
	SourcePath     string            `json:"source_path"`
	TargetLanguage string            `json:"target_language"`
	TranslatedAt   time.Time         `json:"translated_at"`
	Status         TranslationStatus `json:"status"`
	// Outputs maps an output name such as "mono" or "dual.watermarked" to its path.
	Outputs map[string]string `json:"outputs,omitempty"`
	Report  string            `json:"report,omitempty"`

	Stage        string    `json:"stage,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RetryCount   int       `json:"retry_count"`
	LastRetry    time.Time `json:"last_retry,omitzero"`
}

// ResultManager stores one metadata file per document under baseDir.
type ResultManager struct {
	baseDir string
}

// NewResultManager creates a ResultManager. An empty baseDir selects
// ~/.config/pdf-translator/history.
func NewResultManager(baseDir string) (*ResultManager, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(homeDir, ".config", "pdf-translator", "history")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &ResultManager{baseDir: baseDir}, nil
}

func (m *ResultManager) GetBaseDir() string {
	return m.baseDir
}

// DocumentID derives the record identifier of a source translated to target.
func DocumentID(sourceHash, target string) string {
	return sourceHash[:min(16, len(sourceHash))] + "_" + target
}

func (m *ResultManager) metaPath(id string) string {
	return filepath.Join(m.baseDir, id, "metadata.json")
}

// Save writes info, deriving its ID when empty.
func (m *ResultManager) Save(info *DocumentInfo) error {
	if info.SourceHash == "" {
		return os.ErrInvalid
	}
	if info.ID == "" {
		info.ID = DocumentID(info.SourceHash, info.TargetLanguage)
	}
	path := m.metaPath(info.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads the record with the given ID.
func (m *ResultManager) Load(id string) (*DocumentInfo, error) {
	data, err := os.ReadFile(m.metaPath(id))
	if err != nil {
		return nil, err
	}
	var info DocumentInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// List returns every record, newest first. Unreadable records are skipped.
func (m *ResultManager) List() ([]*DocumentInfo, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*DocumentInfo{}, nil
		}
		return nil, err
	}

	docs := []*DocumentInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := m.Load(entry.Name())
		if err != nil {
			continue
		}
		docs = append(docs, info)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].TranslatedAt.After(docs[j].TranslatedAt)
	})
	return docs, nil
}

// Delete removes a record.
func (m *ResultManager) Delete(id string) error {
	return os.RemoveAll(filepath.Join(m.baseDir, id))
}

// Failed returns the records of failed runs, oldest first.
func (m *ResultManager) Failed() ([]*DocumentInfo, error) {
	docs, err := m.List()
	if err != nil {
		return nil, err
	}
	var out []*DocumentInfo
	for i := len(docs) - 1; i >= 0; i-- {
		if docs[i].Status == StatusError {
			out = append(out, docs[i])
		}
	}
	return out, nil
}

// RecordStart marks a run as started. A repeated run of a failed document
// counts as a retry.
func (m *ResultManager) RecordStart(info *DocumentInfo) error {
	if info.ID == "" {
		info.ID = DocumentID(info.SourceHash, info.TargetLanguage)
	}
	if prev, err := m.Load(info.ID); err == nil {
		info.RetryCount = prev.RetryCount
		info.LastRetry = prev.LastRetry
		if prev.Status == StatusError {
			info.RetryCount++
			info.LastRetry = time.Now()
		}
	}
	info.Status = StatusTranslating
	info.TranslatedAt = time.Now()
	return m.Save(info)
}

// RecordError marks the run as failed at stage.
func (m *ResultManager) RecordError(info *DocumentInfo, stage string, err error) error {
	info.Status = StatusError
	info.Stage = stage
	info.ErrorMessage = err.Error()
	info.TranslatedAt = time.Now()
	return m.Save(info)
}

// RecordComplete marks the run as finished with the given outputs.
func (m *ResultManager) RecordComplete(info *DocumentInfo, outputs map[string]string, report string) error {
	info.Status = StatusComplete
	info.Outputs = outputs
	info.Report = report
	info.Stage = ""
	info.ErrorMessage = ""
	info.TranslatedAt = time.Now()
	return m.Save(info)
}

// ExistingTranslationInfo tells whether a document needs translating again.
type ExistingTranslationInfo struct {
	Exists     bool          `json:"exists"`
	Info       *DocumentInfo `json:"info,omitempty"`
	IsComplete bool          `json:"is_complete"`
	Message    string        `json:"message"`
}

// CheckExisting looks up the record for a source translated to target. A
// completed record whose outputs were removed is not complete.
func (m *ResultManager) CheckExisting(sourceHash, target string) (*ExistingTranslationInfo, error) {
	res := &ExistingTranslationInfo{}
	info, err := m.Load(DocumentID(sourceHash, target))
	if os.IsNotExist(err) {
		res.Message = "no previous translation"
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Exists = true
	res.Info = info

	switch info.Status {
	case StatusComplete:
		for _, path := range info.Outputs {
			if _, err := os.Stat(path); err != nil {
				res.Message = fmt.Sprintf("output %s is missing", path)
				return res, nil
			}
		}
		res.IsComplete = true
		res.Message = fmt.Sprintf("translated on %s", info.TranslatedAt.Format("2006-01-02 15:04"))
	case StatusError:
		res.Message = fmt.Sprintf("previous run failed at %s: %s", info.Stage, info.ErrorMessage)
	default:
		res.Message = fmt.Sprintf("previous run did not finish (status: %s)", info.Status)
	}
	return res, nil
}

// HashFile returns the hex BLAKE3 hash of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex BLAKE3 hash of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
