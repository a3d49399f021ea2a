package adapter

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxPooledTransports caps the transports an adapter keeps. Per-session proxy
// descriptors give every task its own key, so the pool must not grow freely.
const maxPooledTransports = 64

// poolKey identifies connection state that can be shared between tasks.
type poolKey struct {
	proxy    string
	insecure bool
	profile  string
	http1    bool
}

type closer interface {
	Close() error
}

// transportPool caches transports per key. The least recently used one is
// closed when the pool is full; requests still running on it finish normally.
type transportPool[T closer] struct {
	mu    sync.Mutex
	items *lru.Cache[poolKey, T]
}

func newTransportPool[T closer](size int) *transportPool[T] {
	if size <= 0 {
		size = maxPooledTransports
	}
	items, err := lru.NewWithEvict[poolKey, T](size, func(_ poolKey, t T) {
		t.Close()
	})
	if err != nil {
		panic(err)
	}
	return &transportPool[T]{items: items}
}

func (p *transportPool[T]) get(key poolKey, build func() (T, error)) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.items.Get(key); ok {
		return t, nil
	}
	t, err := build()
	if err != nil {
		var zero T
		return zero, err
	}
	p.items.Add(key, t)
	return t, nil
}

func (p *transportPool[T]) len() int {
	return p.items.Len()
}

// closeAll closes and drops every transport.
func (p *transportPool[T]) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items.Purge()
}
