// Package treestore provides a tree-structured key-value store: values live
// at slash separated paths, writes either replace or merge, and listeners
// receive child level change events.
//
// No operation is transactional across paths. Callers that update several
// paths issue independent writes and must tolerate partial failure.
package treestore

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidPath is returned for paths an implementation cannot address.
var ErrInvalidPath = errors.New("invalid path")

// Gateway is the read/write contract every store implementation satisfies.
type Gateway interface {
	// Get returns the value at path, or nil when nothing is stored there.
	Get(ctx context.Context, path string) (any, error)
	// Keys returns the child keys at path without their values.
	Keys(ctx context.Context, path string) ([]string, error)
	// Set replaces the value at path. A nil value removes it.
	Set(ctx context.Context, path string, value any) error
	// Update merges fields into the value at path leaving siblings intact.
	// A nil field value removes that key.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Remove deletes the value at path and everything below it.
	Remove(ctx context.Context, path string) error
	// ChildByAutoID allocates a new child key under path.
	ChildByAutoID(path string) string
	// Observe registers fn for events of kind on the children of path.
	// Every Subscription must be cancelled, either via Cancel or by
	// cancelling ctx, or it stays registered for the life of the store.
	Observe(ctx context.Context, path string, kind EventKind, fn func(Event)) (*Subscription, error)
}

// EventKind identifies a child level change.
type EventKind int

const (
	ChildAdded EventKind = iota
	ChildChanged
	ChildRemoved
)

func (k EventKind) String() string {
	switch k {
	case ChildAdded:
		return "child_added"
	case ChildChanged:
		return "child_changed"
	case ChildRemoved:
		return "child_removed"
	default:
		return "unknown"
	}
}

// Event describes one child of an observed path.
type Event struct {
	Kind  EventKind
	Path  string
	Key   string
	Value any
}

// newAutoID returns a time-ordered collision-free key.
func newAutoID() string {
	return uuid.Must(uuid.NewV7()).String()
}

type fetchFunc func(ctx context.Context, segs []string) (any, error)

// registry tracks observers and turns writes into child events by diffing
// the last seen children of each observed path against a fresh read.
type registry struct {
	mu    sync.Mutex
	subs  map[uint64]*Subscription
	next  uint64
	fetch fetchFunc
}

func newRegistry(fetch fetchFunc) *registry {
	return &registry{
		subs:  make(map[uint64]*Subscription),
		fetch: fetch,
	}
}

// Subscription is a live listener registration.
type Subscription struct {
	id       uint64
	segs     []string
	kind     EventKind
	fn       func(Event)
	reg      *registry
	mu       sync.Mutex
	snapshot map[string]any
	done     chan struct{}
	once     sync.Once
}

// Cancel removes the listener. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.reg.mu.Lock()
		delete(s.reg.subs, s.id)
		s.reg.mu.Unlock()
		close(s.done)
	})
}

// Done is closed once the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (r *registry) observe(ctx context.Context, path string, kind EventKind, fn func(Event)) (*Subscription, error) {
	segs := SplitPath(path)
	current, err := r.fetch(ctx, segs)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.next++
	sub := &Subscription{
		id:       r.next,
		segs:     segs,
		kind:     kind,
		fn:       fn,
		reg:      r,
		snapshot: clone(children(current)).(map[string]any),
		done:     make(chan struct{}),
	}
	if sub.snapshot == nil {
		sub.snapshot = map[string]any{}
	}
	r.subs[sub.id] = sub
	r.mu.Unlock()

	if kind == ChildAdded {
		sub.mu.Lock()
		var initial []Event
		for _, key := range sortedKeys(sub.snapshot) {
			initial = append(initial, Event{Kind: ChildAdded, Path: JoinPath(JoinPath(segs...), key), Key: key, Value: clone(sub.snapshot[key])})
		}
		sub.mu.Unlock()
		for _, ev := range initial {
			fn(ev)
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// changed dispatches events to every observer whose path overlaps the
// written path.
func (r *registry) changed(ctx context.Context, written []string) {
	r.mu.Lock()
	var affected []*Subscription
	for _, sub := range r.subs {
		if overlaps(written, sub.segs) {
			affected = append(affected, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range affected {
		sub.refresh(ctx)
	}
}

// refresh diffs the observed children and invokes the callback outside of
// the subscription lock so callbacks may write back to the store.
func (s *Subscription) refresh(ctx context.Context) {
	for _, ev := range s.diff(ctx) {
		select {
		case <-s.done:
			return
		default:
		}
		s.fn(ev)
	}
}

func (s *Subscription) diff(ctx context.Context) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}

	current, err := s.reg.fetch(ctx, s.segs)
	if err != nil {
		return nil
	}
	next := children(clone(current))
	if next == nil {
		next = map[string]any{}
	}
	base := JoinPath(s.segs...)

	var events []Event
	switch s.kind {
	case ChildAdded, ChildChanged:
		for _, key := range sortedKeys(next) {
			prev, existed := s.snapshot[key]
			switch {
			case !existed && s.kind == ChildAdded:
				events = append(events, Event{Kind: ChildAdded, Path: JoinPath(base, key), Key: key, Value: next[key]})
			case existed && s.kind == ChildChanged && !reflect.DeepEqual(prev, next[key]):
				events = append(events, Event{Kind: ChildChanged, Path: JoinPath(base, key), Key: key, Value: next[key]})
			}
		}
	case ChildRemoved:
		for _, key := range sortedKeys(s.snapshot) {
			if _, ok := next[key]; !ok {
				events = append(events, Event{Kind: ChildRemoved, Path: JoinPath(base, key), Key: key, Value: s.snapshot[key]})
			}
		}
	}
	s.snapshot = next
	return events
}
