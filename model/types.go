package model

import "fmt"

// Document is the unit of storage: a binary-serializable record with a
// stable string identity. The store treats its encoded form as opaque
// bytes; only ID matters for indexing.
type Document struct {
	ID       string         `json:"id"`
	Content  []byte         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a shallow copy of the document. Content bytes and
// metadata values are shared.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Location identifies where a document's encoded payload lives in the
// body file.
type Location struct {
	// Ordinal is the slot position recorded in the header map. After a
	// load it equals the physical slot index; entries appended after a
	// mid-array deletion within the same load cycle record a stale
	// ordinal until the next reload.
	Ordinal int
	// PageOffset is the page-aligned base of the payload's mapping.
	PageOffset int64
	// Start and End delimit the payload relative to PageOffset.
	Start int64
	End   int64
}

// String returns a string representation of the Location.
func (l Location) String() string {
	return fmt.Sprintf("Loc(%d:%d+%d..%d)", l.Ordinal, l.PageOffset, l.Start, l.End)
}
