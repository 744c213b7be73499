// Package model defines core types used throughout docmap.
//
// # Identity Types
//
//   - Document: the stored record, identified by a string ID
//   - Location: physical address of an encoded payload
//     (header ordinal, page-aligned offset, intra-page byte range)
//
// Locations are transient: they are only meaningful for the store
// instance that produced them and may change after compaction.
package model
