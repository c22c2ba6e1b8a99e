package queue

import (
	"context"
	"sync"
)

// MemoryStore keeps projections in process. It serves single-instance
// deployments and tests.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[Key]Projection
	seq    map[Key]int64
	subs   map[Key]map[chan Projection]struct{}
	buffer int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[Key]Projection),
		seq:    make(map[Key]int64),
		subs:   make(map[Key]map[chan Projection]struct{}),
		buffer: 16,
	}
}

func (s *MemoryStore) Load(_ context.Context, key Key) (*Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) Update(_ context.Context, key Key, mutate func(*Projection)) (Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[key]
	if !ok {
		p = Empty(key)
	}
	mutate(&p)
	s.seq[key]++
	p.Seq = s.seq[key]
	s.items[key] = p

	for ch := range s.subs[key] {
		// a slow watcher loses its oldest pending snapshot, never the newest
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
	return p, nil
}

func (s *MemoryStore) Watch(ctx context.Context, key Key) (<-chan Projection, error) {
	ch := make(chan Projection, s.buffer)

	s.mu.Lock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[chan Projection]struct{})
	}
	s.subs[key][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[key], ch)
		if len(s.subs[key]) == 0 {
			delete(s.subs, key)
		}
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]Key, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys, nil
}
