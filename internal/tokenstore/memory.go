package tokenstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryBacking struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[string][]chan Change
}

// MemoryStore keeps everything in process memory. Peers created with Peer
// share the data and see each other's writes through Watch.
type MemoryStore struct {
	b      *memoryBacking
	origin string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		b: &memoryBacking{
			data:     make(map[string]string),
			watchers: make(map[string][]chan Change),
		},
		origin: uuid.NewString(),
	}
}

// Peer returns a second handle on the same data, like another browser tab.
func (m *MemoryStore) Peer() *MemoryStore {
	return &MemoryStore{b: m.b, origin: uuid.NewString()}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.b.mu.RLock()
	defer m.b.mu.RUnlock()
	v, ok := m.b.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	m.b.data[key] = value
	m.broadcast(Change{Key: key, Value: value, Origin: m.origin})
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	for _, key := range keys {
		if _, ok := m.b.data[key]; !ok {
			continue
		}
		delete(m.b.data, key)
		m.broadcast(Change{Key: key, Deleted: true, Origin: m.origin})
	}
	return nil
}

// broadcast must be called with the lock held.
func (m *MemoryStore) broadcast(c Change) {
	for origin, chans := range m.b.watchers {
		if origin == c.Origin {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- c:
			default:
			}
		}
	}
}

func (m *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 16)

	m.b.mu.Lock()
	m.b.watchers[m.origin] = append(m.b.watchers[m.origin], ch)
	m.b.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.b.mu.Lock()
		defer m.b.mu.Unlock()
		chans := m.b.watchers[m.origin]
		for i, c := range chans {
			if c == ch {
				m.b.watchers[m.origin] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
