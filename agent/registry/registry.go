// Package registry tracks the cancellation handles of active relay sessions so they can all be aborted at once.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handle is a revocable capability to cancel one session.
type Handle struct {
	ID     uuid.UUID
	cancel context.CancelFunc
}

// Cancel requests the owning session to stop. It is safe to call more than once.
func (h *Handle) Cancel() {
	h.cancel()
}

// Registry is a goroutine-safe collection of handles.
// Sessions register on start and unregister themselves on completion; AbortAll never removes entries.
type Registry struct {
	Log *zap.SugaredLogger

	mut     sync.Mutex
	handles []*Handle
}

func New(log *zap.SugaredLogger) *Registry {
	return &Registry{Log: log}
}

// Register adds a handle wrapping cancel and returns it.
func (r *Registry) Register(cancel context.CancelFunc) *Handle {
	h := &Handle{ID: uuid.New(), cancel: cancel}
	r.mut.Lock()
	r.handles = append(r.handles, h)
	n := len(r.handles)
	r.mut.Unlock()
	r.debugf("registered handle %s, %d active", h.ID, n)
	return h
}

// Unregister removes the handle. Removing an unknown handle is a no-op.
func (r *Registry) Unregister(h *Handle) {
	r.mut.Lock()
	for i := 0; i < len(r.handles); i++ {
		if r.handles[i] == h {
			r.handles = append(r.handles[:i], r.handles[i+1:]...)
			break
		}
	}
	n := len(r.handles)
	r.mut.Unlock()
	r.debugf("unregistered handle %s, %d active", h.ID, n)
}

// AbortAll cancels every registered handle and returns how many were signaled.
func (r *Registry) AbortAll() int {
	r.mut.Lock()
	handles := make([]*Handle, len(r.handles))
	copy(handles, r.handles)
	r.mut.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	r.debugf("aborted %d handles", len(handles))
	return len(handles)
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mut.Lock()
	defer r.mut.Unlock()
	return len(r.handles)
}

func (r *Registry) debugf(template string, args ...interface{}) {
	if r.Log != nil {
		r.Log.Debugf(template, args...)
	}
}
