package partialz

import (
	"sync"
)

// pendingEnd is a span whose end has been signaled but which is still in open.
type pendingEnd struct {
	ref SpanReader
	id  SpanID
}

// Registry tracks open spans for the heartbeat loop.
//
// Producers (lifecycle hooks on any goroutine) only ever insert into open or
// append to the ended queue. Removal from open happens exclusively in
// Reconcile, which the heartbeat loop calls before every snapshot, so a
// snapshot never races with a delete.
type Registry struct {
	open    sync.Map // SpanID -> SpanReader
	ended   []pendingEnd
	endedMu sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register inserts ref as the open span for id.
// A second start with the same id replaces the first.
func (r *Registry) Register(id SpanID, ref SpanReader) {
	r.open.Store(id, ref)
}

// MarkEnded queues id for removal at the next reconciliation.
// The span stays in open until then.
func (r *Registry) MarkEnded(id SpanID, ref SpanReader) {
	r.endedMu.Lock()
	r.ended = append(r.ended, pendingEnd{id: id, ref: ref})
	r.endedMu.Unlock()
}

// Reconcile drains the ended queue and removes each span from open.
// An id that is not open is skipped. Returns the number of spans removed.
// Must be called from the heartbeat loop only.
func (r *Registry) Reconcile() int {
	r.endedMu.Lock()
	drained := r.ended
	r.ended = nil
	r.endedMu.Unlock()

	removed := 0
	for _, e := range drained {
		if _, ok := r.open.LoadAndDelete(e.id); ok {
			removed++
		}
	}
	return removed
}

// SnapshotOpen returns the spans currently open. The view is weakly
// consistent: spans registered while it is taken may or may not appear.
// Must be called from the heartbeat loop only, after Reconcile.
func (r *Registry) SnapshotOpen() []SpanReader {
	var refs []SpanReader
	r.open.Range(func(_, value any) bool {
		refs = append(refs, value.(SpanReader))
		return true
	})
	return refs
}

// Len returns the number of open spans.
func (r *Registry) Len() int {
	n := 0
	r.open.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// PendingEnded returns the number of ended spans awaiting reconciliation.
func (r *Registry) PendingEnded() int {
	r.endedMu.Lock()
	defer r.endedMu.Unlock()
	return len(r.ended)
}
