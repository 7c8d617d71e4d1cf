package core

import (
	"sync"
	"time"
)

// messageRef points at a posted chat message, used to clean up the latest
// now-playing announcement when a session dies.
type messageRef struct {
	ChannelID string
	MessageID string
}

// Tenant is one guild's serialization unit. Its mutex orders every mutation
// of the guild's session, idle timer, and error tracker, no matter which of
// the three event sources asked for it. The idle timer handle lives here,
// outside the session object, so teardown can always find and cancel it.
type Tenant struct {
	guildID string

	mu         sync.Mutex
	session    *Session
	idleTimer  *time.Timer
	nowPlaying *messageRef
}

func (t *Tenant) GuildID() string {
	return t.guildID
}

// Session returns the tenant's session, nil when none exists. Callers hold
// the tenant lock via Registry.With.
func (t *Tenant) Session() *Session {
	return t.session
}

// GetOrCreateSession returns the live session, creating one iff the slot is
// empty or holds a destroyed session.
func (t *Tenant) GetOrCreateSession(textChannelID, voiceChannelID string) (*Session, bool) {
	if t.session != nil && !t.session.Destroyed() {
		return t.session, false
	}
	t.session = newSession(t.guildID, textChannelID, voiceChannelID)
	return t.session, true
}

// Registry maps guild IDs to tenants. The registry mutex guards only the map
// itself; per-guild work is ordered by each tenant's own mutex, so guilds
// never block each other.
type Registry struct {
	mu      sync.Mutex
	tenants map[string]*Tenant
}

func NewRegistry() *Registry {
	return &Registry{tenants: make(map[string]*Tenant)}
}

// With runs fn while holding the guild's serialization lock, creating the
// tenant entry on first use. The registry lock is never held across fn, and
// never while waiting for a tenant lock.
func (r *Registry) With(guildID string, fn func(*Tenant)) {
	r.mu.Lock()
	t, ok := r.tenants[guildID]
	if !ok {
		t = &Tenant{guildID: guildID}
		r.tenants[guildID] = t
	}
	r.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t)
}

// Remove drops the tenant entry. Idempotent; called from inside the tenant's
// own critical section during teardown. A goroutine still waiting on the old
// tenant's lock will observe the destroyed session and no-op.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	delete(r.tenants, guildID)
	r.mu.Unlock()
}

// SessionState peeks at a guild's session state, absent-safe. A read-side
// helper, not part of the serialized mutation paths.
func (r *Registry) SessionState(guildID string) (SessionState, bool) {
	r.mu.Lock()
	t, ok := r.tenants[guildID]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return 0, false
	}
	return t.session.state, true
}

// ActiveSessions counts non-destroyed sessions across all tenants.
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	tenants := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		tenants = append(tenants, t)
	}
	r.mu.Unlock()

	n := 0
	for _, t := range tenants {
		t.mu.Lock()
		if t.session != nil && !t.session.Destroyed() {
			n++
		}
		t.mu.Unlock()
	}
	return n
}
