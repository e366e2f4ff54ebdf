// Package server dispatches inbound envelopes: authentication and group
// management mutate the registries, forwardable envelopes are resolved to a
// live session or a group fan-out. Forwarding is best-effort; unresolvable
// destinations are dropped without an error to the sender.
package server

import (
	"errors"
	"log"
	"strings"

	"github.com/loomchat/relay/internal/accounts"
)

// route handles one decoded envelope from client c. It runs on c's reader
// goroutine, so per-sender ordering follows from the read loop alone.
func (h *Hub) route(c *Client, env Envelope) {
	switch env.Type {
	case TypeRegisterAccount:
		h.handleRegister(c, env)
		return
	case TypeLogin:
		h.handleLogin(c, env)
		return
	}

	// Everything else requires an authenticated connection. Anything that
	// arrives early is dropped, not answered; failing loudly would let an
	// unauthenticated peer probe the dispatch table.
	sender := c.identity()
	if sender == "" {
		log.Printf("Dropping %q envelope from unauthenticated connection %s", env.Type, c.id)
		return
	}

	switch env.Type {
	case TypeLogout:
		h.handleLogout(c, sender)
	case TypeUpdatePublicKey:
		if h.sessions.updateKey(sender, env.PublicKey) {
			h.broadcastPresence()
		}
	case TypeCreateGroup:
		if h.groups.Create(env.Name, sender) {
			h.broadcastGroups()
		}
	case TypeJoinGroup:
		if h.groups.Join(env.Name, sender) {
			h.broadcastGroups()
		}
	case TypeLeaveGroup:
		h.groups.Leave(env.Name, sender)
		h.broadcastGroups()
	case TypeGroupMessage:
		h.forwardGroupMessage(c, sender, env)
	default:
		if directForwardable(env.Type) {
			h.forward(c, sender, env)
			return
		}
		// Unknown types are a normal condition: newer clients may speak
		// message kinds this relay does not know yet.
		log.Printf("Dropping unrecognized %q envelope from %q (connection %s)", env.Type, sender, c.id)
	}
}

// handleRegister creates an account. It never authenticates the connection;
// the client follows up with a login.
func (h *Hub) handleRegister(c *Client, env Envelope) {
	err := h.accounts.Register(env.Username, env.Password)
	switch {
	case err == nil:
		log.Printf("Registered account %q (connection %s)", env.Username, c.id)
		h.respond(c, marshalAuth(PhaseRegister, true, "", env.Username))
	case errors.Is(err, accounts.ErrUsernameTaken):
		h.respond(c, marshalAuth(PhaseRegister, false, ReasonUsernameTaken, ""))
	case errors.Is(err, accounts.ErrInvalidInput):
		h.respond(c, marshalAuth(PhaseRegister, false, ReasonInvalidInput, ""))
	default:
		log.Printf("Account registration for %q failed: %v", env.Username, err)
		h.respond(c, marshalAuth(PhaseRegister, false, ReasonInvalidInput, ""))
	}
}

// handleLogin verifies credentials and binds the session. The verifier is
// computed inside the account store before any registry is touched, so the
// slow hash never holds a lock. A login on an already-authenticated
// connection is dropped; a fresh identity arrives on a fresh connection.
func (h *Hub) handleLogin(c *Client, env Envelope) {
	if c.identity() != "" {
		log.Printf("Dropping login for %q on already-authenticated connection %s", env.Username, c.id)
		return
	}

	// Sessions are keyed by the same trimmed form the account store uses.
	username := strings.TrimSpace(env.Username)

	if !h.accounts.Verify(username, env.Password) {
		log.Printf("Failed login for %q (connection %s)", username, c.id)
		h.respond(c, marshalAuth(PhaseLogin, false, ReasonBadCredentials, ""))
		return
	}

	log.Printf("Login for %q (connection %s)", username, c.id)
	h.respond(c, marshalAuth(PhaseLogin, true, "", username))
	h.bindSession(c, username, env.PublicKey)
}

// handleLogout unbinds the session but leaves the transport open. The
// connection returns to the unauthenticated state and may log in again.
func (h *Hub) handleLogout(c *Client, sender string) {
	log.Printf("Logout for %q (connection %s)", sender, c.id)
	h.unbindSession(c)
	c.setIdentity("")
}

// forward resolves a direct-forwardable envelope: a live session for `to`
// wins; otherwise a group named `to` fans out to its members; otherwise the
// envelope is dropped silently.
func (h *Hub) forward(c *Client, sender string, env Envelope) {
	frame := forwardFrame(env, sender)
	if frame == nil {
		return
	}

	if h.deliverTo(env.To, frame) {
		return
	}
	if h.groups.Exists(env.To) {
		h.fanOut(env.To, sender, frame)
		return
	}
	log.Printf("Dropping %q envelope from %q to unknown destination %q", env.Type, sender, env.To)
}

// forwardGroupMessage resolves purely through the explicit group field.
func (h *Hub) forwardGroupMessage(c *Client, sender string, env Envelope) {
	if !h.groups.Exists(env.Group) {
		log.Printf("Dropping group-message from %q to unknown group %q", sender, env.Group)
		return
	}
	frame := forwardFrame(env, sender)
	if frame == nil {
		return
	}
	h.fanOut(env.Group, sender, frame)
}

// respond writes a control envelope back to the originating connection.
func (h *Hub) respond(c *Client, frame []byte) {
	if !h.safeSend(c, frame) {
		log.Printf("Could not respond on connection %s; peer unreachable", c.id)
	}
}
