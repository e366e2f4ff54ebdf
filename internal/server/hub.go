// Package server coordinates connection lifecycle, session binding, and
// presence/group broadcasting for the relay via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/loomchat/relay/internal/accounts"
	"github.com/loomchat/relay/internal/groups"
)

// Hub owns every live connection and the three shared registries: the
// account store, the session registry, and the group registry. Connection
// registration and teardown run on the hub's event loop; routing runs on the
// reader goroutines against the mutex-guarded registries.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	accounts *accounts.Store
	sessions *sessionRegistry
	groups   *groups.Registry
}

// NewHub creates a Hub with empty registries, ready to accept connections.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		accounts:   accounts.NewStore(accounts.DefaultKDFParams()),
		sessions:   newSessionRegistry(),
		groups:     groups.NewRegistry(),
	}
}

var (
	hubOnce sync.Once
	hub     *Hub
)

// activeHub returns the process-wide hub, creating it on first use so that
// configuration applied in main is honored before any connection arrives.
func activeHub() *Hub {
	hubOnce.Do(func() {
		hub = NewHub()
	})
	return hub
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	// Try to send the message (channel might be closed, so we need to recover from panic)
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling connection registration and
// teardown. This method should be called in a separate goroutine as it runs
// indefinitely.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Connection %s opened from %s. Total connections: %d", client.id, client.addr, clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.dropClient(client)
		}
	}
}

// dropClient tears a connection down: it leaves the client map, its send
// channel is closed, and any session it held is unbound, which rebroadcasts
// presence to everyone still online.
func (h *Hub) dropClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closed = true
		clientCount := len(h.clients)
		h.mutex.Unlock()
		// Close the channel after releasing the lock
		close(client.send)
		log.Printf("Connection %s from %s closed. Total connections: %d", client.id, client.addr, clientCount)
	} else {
		h.mutex.Unlock()
	}

	h.unbindSession(client)
}

// bindSession installs username's session for client and announces the new
// presence view. A prior binding for the same username is replaced in place;
// the replaced connection stays open but is no longer addressable.
func (h *Hub) bindSession(client *Client, username string, publicKey []byte) {
	if replaced := h.sessions.put(username, client, publicKey); replaced != nil {
		log.Printf("Session for %q moved to connection %s, replacing connection %s", username, client.id, replaced.id)
	}
	client.setIdentity(username)
	h.broadcastPresence()
	h.broadcastGroups()
}

// unbindSession removes the client's session if it still owns one and
// rebroadcasts presence. Safe to call for connections that never logged in.
func (h *Hub) unbindSession(client *Client) {
	if client == nil {
		return
	}
	username := client.identity()
	if username == "" {
		return
	}
	if h.sessions.remove(username, client) {
		log.Printf("Session for %q removed (connection %s)", username, client.id)
		h.broadcastPresence()
	}
}

// deliverTo routes one frame to the named user's live connection. A missing
// session or a saturated/closed connection both count as "offline": the
// frame is dropped silently and the dead connection is evicted.
func (h *Hub) deliverTo(username string, frame []byte) bool {
	target := h.sessions.lookup(username)
	if target == nil {
		return false
	}
	if !h.safeSend(target, frame) {
		h.evictClients([]*Client{target})
		return false
	}
	return true
}

// fanOut delivers one frame to every group member except the sender,
// skipping offline members silently.
func (h *Hub) fanOut(groupName, sender string, frame []byte) {
	var failed []*Client
	for _, member := range h.groups.MembersOf(groupName) {
		if member == sender {
			continue
		}
		target := h.sessions.lookup(member)
		if target == nil {
			continue
		}
		if !h.safeSend(target, frame) {
			failed = append(failed, target)
		}
	}
	h.evictClients(failed)
}

// broadcastPresence pushes the full online-user list, with announced key
// material, to every online session including the one that triggered the
// change.
func (h *Hub) broadcastPresence() {
	h.pushToSessions(marshalUsers(h.sessions.snapshot()))
}

// broadcastGroups pushes the full group list to every online session.
func (h *Hub) broadcastGroups() {
	h.pushToSessions(marshalGroups(h.groups.Snapshot()))
}

func (h *Hub) pushToSessions(frame []byte) {
	var failed []*Client
	for _, client := range h.sessions.clients() {
		if !h.safeSend(client, frame) {
			failed = append(failed, client)
		}
	}
	h.evictClients(failed)
}

// evictClients removes clients whose send buffers were saturated or closed.
// The next presence broadcast self-heals every remaining client's view.
func (h *Hub) evictClients(clients []*Client) {
	if len(clients) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	var evicted []*Client
	for _, client := range clients {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			evicted = append(evicted, client)
			log.Printf("Connection %s from %s evicted due to full send buffer", client.id, client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
	for _, client := range evicted {
		h.unbindSession(client)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	// Close all client connections
	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
