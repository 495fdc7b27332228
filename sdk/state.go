package coach

import "sync"

// Store is the observable key-value state container shared across the app.
// Transports never read it to decide protocol behavior; they only write into
// it through orchestrator callbacks. It is injected rather than ambient so
// transports stay independently testable.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	// Subscribe registers fn for changes to key and returns an unsubscribe
	// function. fn runs synchronously on the writer's goroutine.
	Subscribe(key string, fn func(value any)) (unsubscribe func())
}

// Well-known store keys written by the orchestrator.
const (
	StateKeySession         = "session"
	StateKeySessionStatus   = "sessionStatus"
	StateKeyConnectionState = "connectionState"
	StateKeyLastError       = "lastError"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any
	subs   map[string]map[int]func(any)
	nextID int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]any),
		subs:   make(map[string]map[int]func(any)),
	}
}

func (s *MemoryStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	var fns []func(any)
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

func (s *MemoryStore) Subscribe(key string, fn func(value any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(any))
	}
	id := s.nextID
	s.nextID++
	s.subs[key][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
	}
}
