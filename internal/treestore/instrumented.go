package treestore

import (
	"context"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/metrics"
)

// Instrumented records the latency and outcome of every call to the
// wrapped gateway.
type Instrumented struct {
	next Gateway
}

// NewInstrumented wraps next with Prometheus metrics.
func NewInstrumented(next Gateway) *Instrumented {
	return &Instrumented{next: next}
}

var _ Gateway = (*Instrumented)(nil)

func collection(path string) string {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return "root"
	}
	return segs[0]
}

func recordCall(op, path string, start time.Time, err error) {
	metrics.RecordStoreOperation(op, collection(path), err, time.Since(start).Seconds())
}

func (s *Instrumented) Get(ctx context.Context, path string) (v any, err error) {
	defer func(start time.Time) { recordCall("get", path, start, err) }(time.Now())
	return s.next.Get(ctx, path)
}

func (s *Instrumented) Keys(ctx context.Context, path string) (keys []string, err error) {
	defer func(start time.Time) { recordCall("keys", path, start, err) }(time.Now())
	return s.next.Keys(ctx, path)
}

func (s *Instrumented) Set(ctx context.Context, path string, value any) (err error) {
	defer func(start time.Time) { recordCall("set", path, start, err) }(time.Now())
	return s.next.Set(ctx, path, value)
}

func (s *Instrumented) Update(ctx context.Context, path string, fields map[string]any) (err error) {
	defer func(start time.Time) { recordCall("update", path, start, err) }(time.Now())
	return s.next.Update(ctx, path, fields)
}

func (s *Instrumented) Remove(ctx context.Context, path string) (err error) {
	defer func(start time.Time) { recordCall("remove", path, start, err) }(time.Now())
	return s.next.Remove(ctx, path)
}

func (s *Instrumented) ChildByAutoID(path string) string {
	return s.next.ChildByAutoID(path)
}

// Observe tracks the subscription in the active gauge until it is done.
func (s *Instrumented) Observe(ctx context.Context, path string, kind EventKind, fn func(Event)) (*Subscription, error) {
	sub, err := s.next.Observe(ctx, path, kind, fn)
	if err != nil {
		return nil, err
	}
	metrics.StoreSubscriptionsActive.Inc()
	go func() {
		<-sub.Done()
		metrics.StoreSubscriptionsActive.Dec()
	}()
	return sub, nil
}
