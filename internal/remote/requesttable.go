package remote

import (
	"sync"

	"github.com/google/uuid"
)

// RemoteResponse is whatever a correlated outstanding request is waiting
// for: a FindActor lookup's resolved node, or a RemoteEntityRequest's
// payload/error.
type RemoteResponse struct {
	Payload []byte
	NodeID  uint64
	Err     error
}

// RequestTable correlates outbound requests with their eventual response, as
// described in §4.8. PopRequest is pop-once: a duplicate or late response for
// an id that has already been popped (by success or by caller timeout) is
// silently dropped.
type RequestTable struct {
	mu    sync.Mutex
	sinks map[string]chan<- RemoteResponse
}

// NewRequestTable creates an empty request table.
func NewRequestTable() *RequestTable {
	return &RequestTable{sinks: make(map[string]chan<- RemoteResponse)}
}

// NewRequestID mints a fresh correlation id.
func NewRequestID() string {
	return uuid.NewString()
}

// PushRequest registers sink to receive the response correlated with id.
func (t *RequestTable) PushRequest(id string, sink chan<- RemoteResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sinks[id] = sink
}

// PopRequest removes and returns the sink registered for id, if any. A
// second call for the same id (duplicate response, or the caller already
// timed out and evicted it) returns ok=false.
func (t *RequestTable) PopRequest(id string) (chan<- RemoteResponse, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sink, ok := t.sinks[id]
	if ok {
		delete(t.sinks, id)
	}
	return sink, ok
}

// Evict removes id without delivering a response, used when a caller's
// deadline expires before a reply arrives.
func (t *RequestTable) Evict(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sinks, id)
}
