// Package server tracks which identity is bound to which live connection.
// The session registry is the single source of truth for "who is online".
package server

import (
	"encoding/json"
	"sort"
	"sync"
)

type session struct {
	client    *Client
	publicKey json.RawMessage
}

// sessionRegistry maps usernames to live sessions. It is keyed by username,
// so "one online identity, one current connection handle" holds by
// construction: a second login overwrites the first binding.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session)}
}

// put installs or replaces the session for username and returns the client
// that held the binding before, if it was a different connection.
func (r *sessionRegistry) put(username string, c *Client, publicKey json.RawMessage) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	var replaced *Client
	if prior, ok := r.sessions[username]; ok && prior.client != c {
		replaced = prior.client
	}
	r.sessions[username] = &session{client: c, publicKey: publicKey}
	return replaced
}

// remove deletes the binding for username, but only while it still points at
// c. A replaced connection closing late must not knock out the session its
// successor installed.
func (r *sessionRegistry) remove(username string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[username]
	if !ok || current.client != c {
		return false
	}
	delete(r.sessions, username)
	return true
}

// updateKey replaces the public-key material announced for username.
// Offline usernames are a no-op.
func (r *sessionRegistry) updateKey(username string, publicKey json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[username]
	if !ok {
		return false
	}
	current.publicKey = publicKey
	return true
}

// lookup resolves username to its live connection, or nil when offline.
func (r *sessionRegistry) lookup(username string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if current, ok := r.sessions[username]; ok {
		return current.client
	}
	return nil
}

// snapshot returns the online users with their announced key material,
// sorted by username for stable presence payloads.
func (r *sessionRegistry) snapshot() []UserEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]UserEntry, 0, len(r.sessions))
	for username, s := range r.sessions {
		entries = append(entries, UserEntry{Username: username, PublicKey: s.publicKey})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Username < entries[j].Username })
	return entries
}

// clients returns every connection that currently holds a session.
func (r *sessionRegistry) clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.client)
	}
	return out
}
