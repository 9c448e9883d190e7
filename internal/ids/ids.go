package ids

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	// DocumentIDLen is the hex length of document and folder identifiers.
	DocumentIDLen = 24
	// FieldIDLen is the hex length of a field identifier.
	FieldIDLen = 48
	// TemplateFieldIDLen is the hex length of the template-relative suffix.
	TemplateFieldIDLen = FieldIDLen - DocumentIDLen

	templateTailLen = 16
	indexLen        = TemplateFieldIDLen - templateTailLen
)

// DocumentID identifies a document (12 bytes, lowercase hex).
type DocumentID string

// FolderID identifies a folder (same encoding as DocumentID).
type FolderID string

// FieldID identifies a field: owning document + 12-byte suffix.
type FieldID string

// TemplateFieldID is the template-relative suffix of a FieldID.
type TemplateFieldID string

// Generator produces new 12-byte identifiers.
// Implemented by UUIDv7Generator (production) and testutil.SequentialIDs.
type Generator interface {
	Generate() DocumentID
}

// UUIDv7Generator derives identifiers from UUIDv7: the first 12 bytes keep
// the 48-bit millisecond timestamp, so ids sort by creation time.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new time-sortable DocumentID.
func (UUIDv7Generator) Generate() DocumentID {
	u := uuid.Must(uuid.NewV7())
	return DocumentID(hex.EncodeToString(u[:DocumentIDLen/2]))
}

var (
	defaultMu  sync.RWMutex
	defaultGen Generator = UUIDv7Generator{}
)

// NewDocumentID returns a new DocumentID from the default generator.
func NewDocumentID() DocumentID {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultGen.Generate()
}

// NewFolderID returns a new FolderID from the default generator.
func NewFolderID() FolderID {
	return FolderID(NewDocumentID())
}

// IDError reports a malformed identifier.
type IDError struct {
	Kind  string
	Value string
	Msg   string
}

func (e *IDError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Value, e.Msg)
}

func checkHex(kind, s string, width int) error {
	if len(s) != width {
		return &IDError{Kind: kind, Value: s, Msg: fmt.Sprintf("want %d hex characters, got %d", width, len(s))}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return &IDError{Kind: kind, Value: s, Msg: fmt.Sprintf("non-hex character %q at %d", c, i)}
		}
	}
	return nil
}

// ParseDocumentID validates s as a DocumentID. Uppercase hex is accepted and
// normalized to lowercase.
func ParseDocumentID(s string) (DocumentID, error) {
	s = strings.ToLower(s)
	if err := checkHex("document id", s, DocumentIDLen); err != nil {
		return "", err
	}
	return DocumentID(s), nil
}

// ParseFolderID validates s as a FolderID.
func ParseFolderID(s string) (FolderID, error) {
	s = strings.ToLower(s)
	if err := checkHex("folder id", s, DocumentIDLen); err != nil {
		return "", err
	}
	return FolderID(s), nil
}

// ParseFieldID validates s as a FieldID.
func ParseFieldID(s string) (FieldID, error) {
	s = strings.ToLower(s)
	if err := checkHex("field id", s, FieldIDLen); err != nil {
		return "", err
	}
	return FieldID(s), nil
}

// MaxFieldIndex is the largest template field index that fits the 4-byte
// index suffix of a field id.
const MaxFieldIndex = math.MaxUint32

// ValidFieldIndex reports whether index can be encoded into a field id.
func ValidFieldIndex(index int) bool {
	return index >= 0 && uint64(index) <= MaxFieldIndex
}

// TemplateField derives the template-relative id of the index-th field of a
// template: the template id's last 8 bytes followed by the index as 4 bytes.
// index must satisfy ValidFieldIndex; templates are checked for that when
// they are validated.
func TemplateField(template DocumentID, index int) TemplateFieldID {
	tail := string(template)
	if len(tail) > templateTailLen {
		tail = tail[len(tail)-templateTailLen:]
	}
	tail = strings.Repeat("0", templateTailLen-len(tail)) + tail
	return TemplateFieldID(fmt.Sprintf("%s%0*x", tail, indexLen, uint32(index)))
}

// DeriveFieldID returns the id of the index-th template field inside doc.
// The result is stable: equal inputs always produce equal ids.
func DeriveFieldID(doc, template DocumentID, index int) FieldID {
	return FieldID(string(doc) + string(TemplateField(template, index)))
}

// Document returns the owning document of a field.
func (f FieldID) Document() DocumentID {
	if len(f) < DocumentIDLen {
		return ""
	}
	return DocumentID(f[:DocumentIDLen])
}

// TemplateRelative returns the suffix that is shared by the same template
// field across documents.
func (f FieldID) TemplateRelative() TemplateFieldID {
	if len(f) < FieldIDLen {
		return ""
	}
	return TemplateFieldID(f[DocumentIDLen:])
}

// InDocument rebases a field onto another document, keeping its
// template-relative suffix. Used to address "the same field" of a fetched
// nested document.
func (f FieldID) InDocument(doc DocumentID) FieldID {
	return FieldID(string(doc) + string(f.TemplateRelative()))
}

// FieldInDocument builds the id of a template field inside doc.
func FieldInDocument(doc DocumentID, field TemplateFieldID) FieldID {
	return FieldID(string(doc) + string(field))
}
