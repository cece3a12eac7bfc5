package querysync

import (
	"net/url"
	"sync"
)

// Location is the external key-value channel the sync adapter binds to.
// The adapter does not know whether it is a URL query string, a file, or
// another store; it only reads, writes, and subscribes.
type Location interface {
	// Read returns the current string for a key.
	Read(key string) (string, bool)

	// Write sets the string for a key. Writes originate from the sync
	// adapter; implementations must not feed them back through Subscribe
	// callbacks on the same location (the adapter tolerates echoes, but
	// they are wasted work).
	Write(key, value string)

	// Subscribe registers a callback for externally originated changes.
	// The returned function cancels the subscription.
	Subscribe(fn func(key, value string)) (cancel func())
}

// ValuesLocation is a url.Values-backed Location. Externally originated
// edits enter through Apply, which notifies subscribers; adapter writes
// through Write do not.
type ValuesLocation struct {
	mu     sync.Mutex
	values url.Values
	subs   map[uint64]func(key, value string)
	nextID uint64
}

// NewValuesLocation creates a location seeded with initial query values.
func NewValuesLocation(initial url.Values) *ValuesLocation {
	values := url.Values{}
	for k, vs := range initial {
		values[k] = append([]string(nil), vs...)
	}
	return &ValuesLocation{
		values: values,
		subs:   make(map[uint64]func(string, string)),
	}
}

// Read implements Location.
func (l *ValuesLocation) Read(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.values.Has(key) {
		return "", false
	}
	return l.values.Get(key), true
}

// Write implements Location.
func (l *ValuesLocation) Write(key, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values.Set(key, value)
}

// Subscribe implements Location.
func (l *ValuesLocation) Subscribe(fn func(key, value string)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

// Apply records an externally originated change and notifies subscribers.
func (l *ValuesLocation) Apply(key, value string) {
	l.mu.Lock()
	l.values.Set(key, value)
	subs := make([]func(string, string), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(key, value)
	}
}

// Query returns a snapshot of the location's current values.
func (l *ValuesLocation) Query() url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := url.Values{}
	for k, vs := range l.values {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Encode returns the location's current values as a query string.
func (l *ValuesLocation) Encode() string {
	return l.Query().Encode()
}
