package docmap

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/docmap/model"
)

// Verify reads every live document back from disk and checks that its
// payload decodes and carries the key it is indexed under. It reports the
// first corruption found. The scan bypasses the buffer pool, so it
// exercises the on-disk state rather than cached copies.
func (s *Store) Verify(ctx context.Context) error {
	s.mu.Lock()
	type item struct {
		key string
		loc model.Location
	}
	items := make([]item, 0, s.header.Len())
	for _, key := range s.header.Keys() {
		loc, ok := s.header.Lookup(key)
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("verify %q: %w", key, ErrNotFound)
		}
		items = append(items, item{key: key, loc: loc})
	}
	body := s.body
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	// Limit concurrency to bound mmap pressure
	g.SetLimit(16)

	for _, it := range items {
		g.Go(func() error {
			payload, err := body.Read(it.loc.PageOffset, it.loc.Start, it.loc.End)
			if err != nil {
				return fmt.Errorf("verify %q: %w", it.key, err)
			}

			var doc model.Document
			if err := s.opts.Codec.Unmarshal(payload, &doc); err != nil {
				return fmt.Errorf("verify %q: decode payload: %w", it.key, err)
			}

			if doc.ID != it.key {
				return fmt.Errorf("verify %q: payload carries key %q", it.key, doc.ID)
			}

			return nil
		})
	}

	return g.Wait()
}
