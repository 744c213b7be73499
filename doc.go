// Package docmap provides a disk-backed, append-oriented document store for Go.
//
// Docmap keeps a compact header index in memory, memory-maps document payloads
// on demand, and absorbs repeated reads through an LRU buffer pool. Deletions
// are tombstones; Prune rewrites the store to reclaim their space.
//
// # Quick Start
//
//	store, _ := docmap.New("./data")
//	defer store.Close()
//
//	_ = store.Append(&model.Document{ID: "doc-1", Content: []byte("hello")})
//	doc, _ := store.Get("doc-1")
//
// Keys are fixed-width (36 characters by default, sized for UUIDs) and
// documents are encoded with a pluggable codec. All state lives in two files,
// header.bin and body.bin, inside the store directory; a directory can be
// reopened with the same options it was created with.
//
// # Write Modes
//
//	// 1. APPEND — durable single write, flushed before returning.
//	_ = store.Append(doc)
//
//	// 2. EXTEND — durable batch write with a single flush at the end.
//	_ = store.Extend(docs)
//
//	// 3. STAGE — buffered write, persisted by Save, Close, or eviction.
//	_ = store.Stage(doc)
//	_ = store.Save()
//
// # Maintenance
//
// Prune compacts the store in place, Verify re-reads every live document from
// disk, and Snapshot/Restore move a whole store through a single compressed
// stream:
//
//	_ = store.Prune()
//	_ = store.Verify(ctx)
//	_ = store.Snapshot(ctx, w)
//	restored, _ := docmap.Restore("./copy", r)
package docmap
