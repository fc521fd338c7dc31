// Package registry tracks in-flight requests and their cancellation handles,
// supporting cooperative cancellation from outside the request handler.
package registry

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// shardCount fixes the number of lock shards; operations on different
// request ids do not contend.
const shardCount = 16

// Registry is a process-wide map from request identifier to cancellation
// handle. Every registered id is removed exactly once regardless of which
// exit path releases it.
type Registry struct {
	shards [shardCount]*shard
}

type shard struct {
	mu       sync.Mutex
	inflight map[string]*entry
}

type entry struct {
	cancel    context.CancelFunc
	createdAt time.Time
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{inflight: make(map[string]*entry)}
	}
	return r
}

// Register derives a cancellable context from parent and records it under a
// fresh request id. The caller must guarantee release on every exit path,
// typically by deferring Complete(id).
func (r *Registry) Register(parent context.Context) (string, context.Context, context.CancelFunc) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)

	sh := r.shardFor(id)
	sh.mu.Lock()
	sh.inflight[id] = &entry{cancel: cancel, createdAt: time.Now()}
	sh.mu.Unlock()

	return id, ctx, cancel
}

// Cancel fires the request's cancellation signal and removes it. It reports
// whether the id was still registered.
func (r *Registry) Cancel(id string) bool {
	e := r.remove(id)
	if e == nil {
		return false
	}
	e.cancel()
	return true
}

// Complete removes the request without signalling cancellation beyond
// releasing the derived context. Safe to call multiple times; calls after
// the first are no-ops.
func (r *Registry) Complete(id string) {
	if e := r.remove(id); e != nil {
		// Release the context's resources. The request already finished,
		// so nothing observes the signal.
		e.cancel()
	}
}

// CancelAll cancels every in-flight request, e.g. on shutdown.
func (r *Registry) CancelAll() {
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, e := range sh.inflight {
			e.cancel()
			delete(sh.inflight, id)
		}
		sh.mu.Unlock()
	}
}

// Len returns the number of in-flight requests.
func (r *Registry) Len() int {
	total := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		total += len(sh.inflight)
		sh.mu.Unlock()
	}
	return total
}

func (r *Registry) remove(id string) *entry {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.inflight[id]
	if !ok {
		return nil
	}
	delete(sh.inflight, id)
	return e
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}
