package repository

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/0m3kk/eventlog/sample/query/view"
)

// MemoryUserViews keeps user views in a map. Used with the memory and sqlite stores.
type MemoryUserViews struct {
	mu    sync.RWMutex
	views map[string]view.UserView
}

func NewMemoryUserViews() *MemoryUserViews {
	return &MemoryUserViews{views: map[string]view.UserView{}}
}

func (r *MemoryUserViews) GetVersion(_ context.Context, aggregateID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.views[aggregateID].Version, nil
}

func (r *MemoryUserViews) GetUserView(_ context.Context, id string) (*view.UserView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r *MemoryUserViews) ListUserViews(context.Context) ([]view.UserView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]view.UserView, 0, len(r.views))
	for _, v := range r.views {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b view.UserView) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *MemoryUserViews) SaveUserView(_ context.Context, v view.UserView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[v.ID] = v
	return nil
}

// Reset drops every view, before a rebuild.
func (r *MemoryUserViews) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = map[string]view.UserView{}
}

var _ UserViews = (*MemoryUserViews)(nil)
