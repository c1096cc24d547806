package domain

// Registry owns the collection of sessions keyed by item index.
//
// It is deliberately not self-locking: the state store's consumer
// goroutine is the single writer, and all reads go through the store's
// short-lived read lock. Readers always receive value copies, never
// live pointers.
type Registry struct {
	sessions map[int]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int]*Session)}
}

// Ensure returns the session for index, creating it on first use.
// Creation is idempotent: a second call for the same index returns the
// existing session untouched.
func (r *Registry) Ensure(index int, sourceURL string) (s *Session, created bool) {
	if s, ok := r.sessions[index]; ok {
		return s, false
	}
	s = NewSession(index, sourceURL)
	r.sessions[index] = s
	return s, true
}

// Get returns a copy of the session for index.
func (r *Registry) Get(index int) (Session, bool) {
	s, ok := r.sessions[index]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Live returns the owned pointer for index. Only the single writer may
// call this.
func (r *Registry) Live(index int) (*Session, bool) {
	s, ok := r.sessions[index]
	return s, ok
}

// Set upserts a session by value.
func (r *Registry) Set(s Session) {
	copied := s
	r.sessions[s.Index] = &copied
}

// All returns a snapshot copy of every session.
func (r *Registry) All() map[int]Session {
	out := make(map[int]Session, len(r.sessions))
	for idx, s := range r.sessions {
		out[idx] = *s
	}
	return out
}

// Each visits every owned session. Only the single writer may call
// this.
func (r *Registry) Each(fn func(*Session)) {
	for _, s := range r.sessions {
		fn(s)
	}
}

func (r *Registry) Remove(index int) {
	delete(r.sessions, index)
}

func (r *Registry) Clear() {
	r.sessions = make(map[int]*Session)
}

func (r *Registry) Len() int {
	return len(r.sessions)
}
