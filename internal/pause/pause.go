// Package pause implements C6: the UUID-keyed registry of suspended
// transactions awaiting operator resume. Grounded on the original's
// paused_traffic map and PausedTrafficInfo/Notify (state.rs); Notify's
// single-shot wake is expressed here as an unbuffered channel that
// Resume closes,
// the idiomatic Go stand-in the teacher's codebase doesn't need since
// it has no pause concept, so this follows Go's standard
// "done channel" idiom instead of importing a notify library.
package pause

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ezshark/ezshark-go/internal/model"
)

// ErrNotFound is returned by Modify/Resume for an unknown or
// already-resumed id, and by Wait for an unknown or already-waited id.
var ErrNotFound = errors.New("pause: id not found")

// Entry is one suspended transaction, holding whatever the operator
// may rewrite before resume.
type Entry struct {
	Direction model.Direction
	URL       string
	Method    string
	Headers   *model.Headers
	Body      []byte

	resume  chan struct{}
	resumed bool
}

// Patch is a partial update applied by Modify. Nil fields are left
// untouched; Headers entries are merged case-insensitively.
type Patch struct {
	URL     *string
	Method  *string
	Headers *model.Headers
	Body    []byte
}

// Registry holds suspended transactions keyed by a generated UUID.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Pause registers a suspended transaction and returns its id. The
// caller blocks on Wait(id) until Resume is called.
func (r *Registry) Pause(direction model.Direction, url, method string, headers *model.Headers, body []byte) string {
	id := uuid.NewString()
	e := &Entry{
		Direction: direction,
		URL:       url,
		Method:    method,
		Headers:   headers,
		Body:      body,
		resume:    make(chan struct{}),
	}
	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
	return id
}

// Modify merges patch into the stored entry for id. Rejected once id
// has been resumed, matching the spec's ordering rule that a modify
// racing a resume loses — checked via the resumed flag rather than mere
// map presence, since Resume no longer deletes the entry immediately
// (Wait does), so a Modify landing between Resume and Wait must still
// see the id as already resumed.
func (r *Registry) Modify(id string, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.resumed {
		return ErrNotFound
	}
	if patch.URL != nil {
		e.URL = *patch.URL
	}
	if patch.Method != nil {
		e.Method = *patch.Method
	}
	if patch.Headers != nil {
		if e.Headers == nil {
			e.Headers = &model.Headers{}
		}
		for _, h := range patch.Headers.Items {
			e.Headers.Set(h.Name, h.Value)
		}
	}
	if patch.Body != nil {
		e.Body = patch.Body
	}
	return nil
}

// Resume signals the notifier for id so the blocked pipeline goroutine
// wakes. The entry is NOT removed here: Wait removes it once the
// pipeline reads the final state. It is marked resumed immediately
// under the same lock, so a Modify racing in after Resume but before
// Wait is rejected rather than silently applying to an entry that has
// already been handed back to the pipeline.
func (r *Registry) Resume(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.resumed {
		return ErrNotFound
	}
	e.resumed = true
	close(e.resume)
	return nil
}

// Wait blocks until id is resumed (or ctx-less forever if never
// resumed), then removes the entry and returns its final state.
func (r *Registry) Wait(id string) (*Entry, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	<-e.resume

	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	return e, nil
}

// Len returns the number of currently suspended transactions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the ids of every currently suspended transaction, for
// the debugger command surface to list and target.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Peek returns a snapshot of the entry for id without consuming it,
// for read-only inspection (e.g. rendering a paused transaction in the
// UI) without racing Wait's removal.
func (r *Registry) Peek(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{Direction: e.Direction, URL: e.URL, Method: e.Method, Headers: e.Headers, Body: e.Body}, true
}
