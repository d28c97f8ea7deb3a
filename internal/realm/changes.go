package realm

import (
	"context"

	"github.com/roach88/realm/internal/core"
)

// ChangeKind tells an initial event from an update.
type ChangeKind int

const (
	// ChangeInitial is the first event of a stream: the state at
	// subscription time.
	ChangeInitial ChangeKind = iota + 1
	// ChangeUpdated reports a newly published version.
	ChangeUpdated
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInitial:
		return "initial"
	case ChangeUpdated:
		return "updated"
	}
	return "unknown"
}

// RealmChange is one event of a Changes stream.
type RealmChange struct {
	Kind    ChangeKind
	Version core.VersionID
}

type subscription struct {
	events *queue[RealmChange]
}

// Changes streams an initial event followed by one event per published
// version. The channel closes when ctx is done or the Realm closes.
// Versions published while the consumer is behind are queued, not dropped.
func (r *Realm) Changes(ctx context.Context) (<-chan RealmChange, error) {
	sub := &subscription{events: newQueue[RealmChange]()}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	sub.events.Enqueue(RealmChange{Kind: ChangeInitial, Version: r.version})
	r.subscribers[sub] = struct{}{}
	r.mu.Unlock()

	out := make(chan RealmChange)
	go func() {
		forward(ctx, r.done, sub.events, out, nil)
		r.mu.Lock()
		if r.subscribers != nil {
			delete(r.subscribers, sub)
		}
		r.mu.Unlock()
	}()
	return out, nil
}

// ObserveChanges is Observe delivered over a channel. The channel closes
// after the deletion event, when ctx is done, or when the Realm closes.
func (r *Realm) ObserveChanges(ctx context.Context, obj *Object) (<-chan ObjectChange, error) {
	events := newQueue[ObjectChange]()
	token, err := r.Observe(obj, func(c ObjectChange) {
		events.Enqueue(c)
	})
	if err != nil {
		return nil, err
	}

	out := make(chan ObjectChange)
	go func() {
		defer token.Cancel()
		forward(ctx, r.done, events, out, func(c ObjectChange) bool { return c.Deleted })
	}()
	return out, nil
}

// forward moves items from q to out until ctx is done, done is closed, q is
// closed and drained, or last reports true for a delivered item. It closes
// out on return.
func forward[T any](ctx context.Context, done <-chan struct{}, q *queue[T], out chan<- T, last func(T) bool) {
	defer close(out)
	for {
		if v, ok := q.TryDequeue(); ok {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
			if last != nil && last(v) {
				return
			}
			continue
		}
		if q.IsClosed() {
			return
		}

		select {
		case <-q.Wait():
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}
