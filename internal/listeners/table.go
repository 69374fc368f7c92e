// Package listeners holds the per-connection table of message listeners keyed
// by canonical topic string, and dispatches inbound messages to them.
package listeners

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nfrund/brokerlink/internal/domain"
	"github.com/nfrund/brokerlink/internal/topics"
)

// Callback receives the contents of a message whose topics matched the listener.
type Callback func(contents any)

// Deregister removes the listener it was returned for. It is idempotent.
type Deregister func()

type entry struct {
	callback   Callback
	persistent bool
	removed    atomic.Bool
}

// Table maps canonical topic strings to ordered listener entries.
//
// The lock is never held while callbacks run, so callbacks may register,
// deregister or dispatch on the same table.
type Table struct {
	mu      sync.Mutex
	entries map[string][]*entry
	logger  *slog.Logger
}

// NewTable creates an empty listener table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		entries: make(map[string][]*entry),
		logger:  logger,
	}
}

// Register appends a listener for topic. Persistent listeners survive
// invocation; one-shot listeners are removed after the first dispatch that
// reaches them. The returned handle is bound to this entry by identity.
func (t *Table) Register(topic topics.Descriptor, cb Callback, persistent bool) Deregister {
	key := topics.Encode(topic)
	e := &entry{callback: cb, persistent: persistent}

	t.mu.Lock()
	t.entries[key] = append(t.entries[key], e)
	t.mu.Unlock()

	return func() {
		if e.removed.Swap(true) {
			return
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		t.removeLocked(key, func(candidate *entry) bool { return candidate == e })
	}
}

// Dispatch invokes every listener registered for topic, in registration order,
// with contents. A panicking callback is recovered into a
// domain.DispatchCallbackError and does not stop the remaining callbacks. Once
// all callbacks ran, the one-shot entries that were part of this dispatch are
// removed regardless of their outcome. The returned error joins all callback
// failures.
func (t *Table) Dispatch(topic topics.Descriptor, contents any) error {
	key := topics.Encode(topic)

	t.mu.Lock()
	live := t.entries[key]
	if len(live) == 0 {
		t.mu.Unlock()
		return nil
	}
	snapshot := make([]*entry, len(live))
	copy(snapshot, live)
	t.mu.Unlock()

	var errs []error
	fired := make(map[*entry]struct{})
	for _, e := range snapshot {
		// Deregistered by an earlier callback in this dispatch.
		if e.removed.Load() {
			continue
		}
		if !e.persistent {
			fired[e] = struct{}{}
		}
		if err := t.invoke(key, e.callback, contents); err != nil {
			errs = append(errs, err)
		}
	}

	if len(fired) > 0 {
		t.mu.Lock()
		t.removeLocked(key, func(candidate *entry) bool {
			if _, ok := fired[candidate]; ok {
				candidate.removed.Store(true)
				return true
			}
			return false
		})
		t.mu.Unlock()
	}

	return errors.Join(errs...)
}

func (t *Table) invoke(key string, cb Callback, contents any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.DispatchCallbackError{Topic: key, Recovered: r}
			t.logger.Error("Listener callback panicked", "topic", key, "panic", fmt.Sprint(r))
		}
	}()
	cb(contents)
	return nil
}

// removeLocked drops the entries matched by drop from key's list and deletes
// the key once its list is empty. Callers hold t.mu.
func (t *Table) removeLocked(key string, drop func(*entry) bool) {
	live, ok := t.entries[key]
	if !ok {
		return
	}
	kept := make([]*entry, 0, len(live))
	for _, e := range live {
		if !drop(e) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(t.entries, key)
		return
	}
	t.entries[key] = kept
}

// Len returns the number of listeners registered for topic.
func (t *Table) Len(topic topics.Descriptor) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries[topics.Encode(topic)])
}

// Topics returns the canonical strings that currently have listeners.
func (t *Table) Topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	return keys
}
