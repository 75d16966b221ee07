package document

import (
	"errors"
	"fmt"
)

// ParseErrorKind classifies why a document could not be loaded.
type ParseErrorKind string

const (
	MalformedStructure    ParseErrorKind = "MALFORMED_STRUCTURE"
	UnsupportedEncryption ParseErrorKind = "UNSUPPORTED_ENCRYPTION"
	TruncatedStream       ParseErrorKind = "TRUNCATED_STREAM"
)

// ParseError is returned by Parse. It is always fatal for the document.
type ParseError struct {
	Kind    ParseErrorKind `json:"kind"`
	Message string         `json:"message"`
	Page    int            `json:"page,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

func newParseError(kind ParseErrorKind, message string, cause error) *ParseError {
	return &ParseError{Kind: kind, Message: message, Cause: cause}
}

// SerializeErrorKind classifies an internal invariant violation found while writing.
type SerializeErrorKind string

const (
	DanglingReference SerializeErrorKind = "DANGLING_REFERENCE"
	InvalidFontSubset SerializeErrorKind = "INVALID_FONT_SUBSET"
)

// SerializeError is returned when the document cannot be written.
type SerializeError struct {
	Kind    SerializeErrorKind `json:"kind"`
	Message string             `json:"message"`
	Page    int                `json:"page,omitempty"`
	Cause   error              `json:"-"`
}

func (e *SerializeError) Error() string {
	msg := fmt.Sprintf("serialize %s: %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SerializeError) Unwrap() error {
	return e.Cause
}

// NewSerializeError creates a SerializeError for the given page (-1 for document level).
func NewSerializeError(kind SerializeErrorKind, message string, page int, cause error) *SerializeError {
	return &SerializeError{Kind: kind, Message: message, Page: page, Cause: cause}
}

// ErrScannedDocument reports a document without extractable text.
var ErrScannedDocument = errors.New("document has no extractable text (scanned PDF?)")

// ErrAlreadyClaimed is returned when a glyph run is claimed by a second unit.
var ErrAlreadyClaimed = errors.New("glyph run already claimed")

// IsParseKind reports whether err is a ParseError of the given kind.
func IsParseKind(err error, kind ParseErrorKind) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == kind
}
