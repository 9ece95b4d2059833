package titipan

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"sync"
)

// DedupEntry is one in-flight request shared between concurrent
// identical callers. All joiners receive the owner's eventual outcome:
// the same *Response and error values.
type DedupEntry struct {
	done chan struct{}
	resp *Response
	err  error
}

// Wait blocks until the owning request completes or the joiner's own
// context is done. A joiner's cancellation detaches only that joiner.
func (e *DedupEntry) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-e.done:
		return e.resp, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DedupTracker coalesces concurrent identical requests. Entries live
// exactly as long as the underlying call: Complete removes the entry
// before releasing waiters, so a caller arriving afterwards always
// issues a fresh network call. Nothing is ever persisted.
type DedupTracker struct {
	mu      sync.Mutex
	entries map[string]*DedupEntry
}

// NewDedupTracker returns an empty in-memory tracker.
func NewDedupTracker() *DedupTracker {
	return &DedupTracker{entries: make(map[string]*DedupEntry)}
}

// GetOrCreateEntry returns the pending entry for key, or creates one.
// owner is true for the caller that must perform the network call and
// eventually invoke Complete.
func (dt *DedupTracker) GetOrCreateEntry(key string) (entry *DedupEntry, owner bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, ok := dt.entries[key]; ok {
		return entry, false
	}

	entry = &DedupEntry{done: make(chan struct{})}
	dt.entries[key] = entry
	return entry, true
}

// Complete finalizes the entry with the owner's outcome and releases
// all waiters. The key is removed immediately, including when the
// owner was cancelled, so a cancelled predecessor never blocks a fresh
// caller.
func (dt *DedupTracker) Complete(key string, resp *Response, err error) {
	dt.mu.Lock()
	entry, ok := dt.entries[key]
	if ok {
		delete(dt.entries, key)
	}
	dt.mu.Unlock()

	if !ok {
		return
	}

	entry.resp = resp
	entry.err = err
	close(entry.done)
}

// Pending reports the number of in-flight entries, for tests and metrics.
func (dt *DedupTracker) Pending() int {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return len(dt.entries)
}

// DefaultDedupKeyFunc hashes method, path, and encoded query with
// FNV-64a. The marshaled body is folded in for mutating methods so two
// different idempotent writes never share an entry.
func DefaultDedupKeyFunc(req *Request, body []byte) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	h.Write([]byte(req.Path))
	if len(req.Query) > 0 {
		h.Write([]byte(req.Query.Encode()))
	}

	if len(body) > 0 && isMutating(req.Method) {
		sum := sha256.Sum256(body)
		h.Write(sum[:])
	}

	return fmt.Sprintf("%x", h.Sum64())
}
