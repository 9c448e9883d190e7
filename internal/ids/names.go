package ids

import (
	"fmt"
	"strings"
)

// BlockID composes the address of a computation block:
// "documentId/fieldKey" plus optional path suffixes for sub-expressions,
// import arguments and loop indices.
func BlockID(doc DocumentID, key string, suffix ...string) string {
	parts := append([]string{string(doc), key}, suffix...)
	return strings.Join(parts, "/")
}

// ParseBlockID splits a composite block id.
func ParseBlockID(id string) (doc DocumentID, key string, suffix []string, err error) {
	parts := strings.Split(id, "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", "", nil, &IDError{Kind: "block id", Value: id, Msg: "want documentId/fieldKey"}
	}
	doc, err = ParseDocumentID(parts[0])
	if err != nil {
		return "", "", nil, err
	}
	return doc, parts[1], parts[2:], nil
}

// TargetKind classifies transaction targets.
type TargetKind string

// Target kinds.
const (
	// TargetField is a field's token stream (splice).
	TargetField TargetKind = "field"
	// TargetConfig is a document's configuration (toggle, splice on lists).
	TargetConfig TargetKind = "config"
	// TargetFolder is a folder's ordered child documents (splice).
	TargetFolder TargetKind = "folder"
)

// FieldTarget names the transaction target of a field stream.
func FieldTarget(f FieldID) string {
	return string(TargetField) + ":" + string(f)
}

// ConfigTarget names the configuration target of a document.
func ConfigTarget(doc DocumentID) string {
	return string(TargetConfig) + ":" + string(doc)
}

// FolderTarget names the document-tree target of a folder.
func FolderTarget(folder FolderID) string {
	return string(TargetFolder) + ":" + string(folder)
}

// ParseTarget splits "kind:id". Unknown kinds are returned as-is so callers
// can treat them as opaque targets.
func ParseTarget(name string) (TargetKind, string, error) {
	kind, id, ok := strings.Cut(name, ":")
	if !ok || kind == "" || id == "" {
		return "", "", fmt.Errorf("invalid target name %q: want kind:id", name)
	}
	return TargetKind(kind), id, nil
}

// FieldBlockID is the block address of a field's stream: the owning document
// and the field's template-relative suffix as the key.
func FieldBlockID(f FieldID) string {
	return BlockID(f.Document(), string(f.TemplateRelative()))
}

// BlockField recovers the FieldID addressed by a field block id.
func BlockField(blockID string) (FieldID, error) {
	doc, key, suffix, err := ParseBlockID(blockID)
	if err != nil {
		return "", err
	}
	if len(suffix) > 0 {
		return "", &IDError{Kind: "field block id", Value: blockID, Msg: "unexpected path suffix"}
	}
	return ParseFieldID(string(doc) + key)
}
