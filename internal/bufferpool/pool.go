// Package bufferpool implements the bounded write-back cache of recently
// written or accessed documents.
//
// Entries are either clean (their canonical value is already durable) or
// dirty (staged in memory, pending a flush). Eviction only drops clean
// entries; a dirty victim is written through the DurableSink first, so no
// staged state is ever lost to capacity pressure.
package bufferpool

import (
	"container/list"
	"fmt"

	"github.com/hupe1980/docmap/model"
)

// DurableSink is the write-back capability the pool uses to persist dirty
// entries. The owning store implements it; passing it in at construction
// avoids a mutual-ownership cycle between pool and store.
type DurableSink interface {
	// AppendDurable writes one document to the header and body files.
	// It must not touch the pool.
	AppendDurable(doc *model.Document, flush bool) error
	// FlushFiles forces header and body writes to stable storage.
	FlushFiles() error
}

// Pool is a bounded LRU cache of fully-materialized documents.
// It is not safe for concurrent use; the owning store synchronizes access.
type Pool struct {
	capacity  int
	sink      DurableSink
	items     map[string]*list.Element
	evictList *list.List
}

type entry struct {
	key   string
	doc   *model.Document
	dirty bool
}

// New creates a pool holding at most capacity documents.
func New(capacity int, sink DurableSink) *Pool {
	return &Pool{
		capacity:  capacity,
		sink:      sink,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// AddOrUpdate caches a document whose durable copy is current (the caller
// just wrote or read it). An existing dirty entry for the same key becomes
// clean: the cached value is the durable one again.
func (p *Pool) AddOrUpdate(key string, doc *model.Document) error {
	return p.put(key, doc, false)
}

// Stage caches a document ahead of durability. The entry stays dirty until
// Flush or a write-back eviction persists it.
func (p *Pool) Stage(key string, doc *model.Document) error {
	return p.put(key, doc, true)
}

func (p *Pool) put(key string, doc *model.Document, dirty bool) error {
	if ent, ok := p.items[key]; ok {
		p.evictList.MoveToFront(ent)
		e := ent.Value.(*entry)
		e.doc = doc
		e.dirty = dirty
		return nil
	}

	ent := p.evictList.PushFront(&entry{key: key, doc: doc, dirty: dirty})
	p.items[key] = ent

	return p.evict()
}

// Get returns the cached document for key and marks it recently used.
func (p *Pool) Get(key string) (*model.Document, bool) {
	ent, ok := p.items[key]
	if !ok {
		return nil, false
	}
	p.evictList.MoveToFront(ent)
	return ent.Value.(*entry).doc, true
}

// Contains reports whether key is cached, without touching recency.
func (p *Pool) Contains(key string) bool {
	_, ok := p.items[key]
	return ok
}

// DeleteIfExists drops the entry for key, flushed or not. Used on document
// deletion, where pending state must not resurface.
func (p *Pool) DeleteIfExists(key string) {
	if ent, ok := p.items[key]; ok {
		p.removeElement(ent)
	}
}

// Flush persists every dirty entry through the sink, then flushes the
// files once. Entries stay cached, now clean.
func (p *Pool) Flush() error {
	flushed := false

	// Oldest first, so replay order matches staging order.
	for ent := p.evictList.Back(); ent != nil; ent = ent.Prev() {
		e := ent.Value.(*entry)
		if !e.dirty {
			continue
		}
		if err := p.sink.AppendDurable(e.doc, false); err != nil {
			return fmt.Errorf("bufferpool: flush %q: %w", e.key, err)
		}
		e.dirty = false
		flushed = true
	}

	if flushed {
		return p.sink.FlushFiles()
	}
	return nil
}

// Clear drops all cached entries without flushing. Used on reload, where
// on-disk truth must prevail.
func (p *Pool) Clear() {
	p.items = make(map[string]*list.Element)
	p.evictList.Init()
}

// Len returns the number of cached entries.
func (p *Pool) Len() int {
	return p.evictList.Len()
}

// evict drops entries until the pool is within capacity. Clean entries go
// first, least recently used order; if every candidate is dirty the LRU
// entry is written through the sink and then dropped.
func (p *Pool) evict() error {
	for p.evictList.Len() > p.capacity {
		var victim *list.Element
		for ent := p.evictList.Back(); ent != nil; ent = ent.Prev() {
			if !ent.Value.(*entry).dirty {
				victim = ent
				break
			}
		}

		if victim == nil {
			victim = p.evictList.Back()
			if victim == nil {
				return nil
			}
			e := victim.Value.(*entry)
			if err := p.sink.AppendDurable(e.doc, true); err != nil {
				return fmt.Errorf("bufferpool: write back %q: %w", e.key, err)
			}
		}

		p.removeElement(victim)
	}
	return nil
}

func (p *Pool) removeElement(ent *list.Element) {
	p.evictList.Remove(ent)
	delete(p.items, ent.Value.(*entry).key)
}
