package cache

import (
	"context"
	"sync"

	"github.com/openworship/cast/internal/domain"
)

type MemorySlugDirectory struct {
	mu    sync.RWMutex
	slugs map[domain.RoomSlug]Binding
}

func NewMemorySlugDirectory() *MemorySlugDirectory {
	return &MemorySlugDirectory{slugs: make(map[domain.RoomSlug]Binding)}
}

func (d *MemorySlugDirectory) Bind(_ context.Context, slug domain.RoomSlug, b Binding) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slugs[slug] = b
	return nil
}

func (d *MemorySlugDirectory) Resolve(_ context.Context, slug domain.RoomSlug) (Binding, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.slugs[slug]
	if !ok {
		return Binding{}, ErrNotBound
	}
	return b, nil
}

func (d *MemorySlugDirectory) Unbind(_ context.Context, slug domain.RoomSlug) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.slugs, slug)
	return nil
}

func (d *MemorySlugDirectory) Close() error { return nil }
