// Package hub fans classified records out to the live subscribers of each
// user after persisting them.
package hub

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one live push connection.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

type bucket struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// Registry tracks subscribers per user. Each user has its own lock, so
// pushes to one user never wait on registrations of another.
type Registry struct {
	buckets  sync.Map // int -> *bucket
	total    atomic.Int64
	onChange func(total int64)
}

// NewRegistry returns an empty registry. onChange, if not nil, receives the
// total subscriber count after every change.
func NewRegistry(onChange func(total int64)) *Registry {
	return &Registry{onChange: onChange}
}

func (r *Registry) bucket(userID int) *bucket {
	if b, ok := r.buckets.Load(userID); ok {
		return b.(*bucket)
	}
	b, _ := r.buckets.LoadOrStore(userID, &bucket{subs: make(map[Subscriber]struct{})})
	return b.(*bucket)
}

func (r *Registry) Register(userID int, s Subscriber) {
	b := r.bucket(userID)
	b.mu.Lock()
	_, exists := b.subs[s]
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	if !exists {
		r.changed(1)
	}
}

// Unregister removes s and reports whether it was registered. Removing an
// unknown subscriber is a no-op.
func (r *Registry) Unregister(userID int, s Subscriber) bool {
	v, ok := r.buckets.Load(userID)
	if !ok {
		return false
	}
	b := v.(*bucket)
	b.mu.Lock()
	_, exists := b.subs[s]
	delete(b.subs, s)
	b.mu.Unlock()

	if exists {
		r.changed(-1)
	}
	return exists
}

// Subscribers returns a snapshot of the user's subscribers.
func (r *Registry) Subscribers(userID int) []Subscriber {
	v, ok := r.buckets.Load(userID)
	if !ok {
		return nil
	}
	b := v.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Subscriber, 0, len(b.subs))
	for s := range b.subs {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Count(userID int) int {
	v, ok := r.buckets.Load(userID)
	if !ok {
		return 0
	}
	b := v.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (r *Registry) Total() int64 {
	return r.total.Load()
}

// CloseAll closes and removes every subscriber.
func (r *Registry) CloseAll() {
	r.buckets.Range(func(key, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		subs := b.subs
		b.subs = make(map[Subscriber]struct{})
		b.mu.Unlock()

		for s := range subs {
			_ = s.Close()
			r.changed(-1)
		}
		return true
	})
}

func (r *Registry) changed(delta int64) {
	total := r.total.Add(delta)
	if r.onChange != nil {
		r.onChange(total)
	}
}
