package catalog

import (
	"context"
	"sync"
)

type variantSearcher interface {
	SearchVariants(ctx context.Context, query string) ([]Variant, error)
}

// Searcher runs search-as-you-type queries. Starting a search cancels the
// one still in flight, whose caller then gets context.Canceled.
type Searcher struct {
	client variantSearcher

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func NewSearcher(client variantSearcher) *Searcher {
	return &Searcher{client: client}
}

func (s *Searcher) Search(ctx context.Context, query string) ([]Variant, error) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	results, err := s.client.SearchVariants(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return results, nil
}

// Cancel aborts the in-flight search, if any.
func (s *Searcher) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
