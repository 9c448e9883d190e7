// Package ids derives and validates the fixed-width hexadecimal identifiers
// that address documents, folders, fields and computation blocks.
//
// A DocumentID is 12 bytes (24 hex characters). A FieldID is 24 bytes: the
// owning DocumentID followed by a 12-byte suffix. Fields created from a
// template get a suffix derived from (template, index), so the same template
// field compares equal across every document built from that template
// without any coordination.
package ids
