package realtime

import (
	"encoding/json"
	"sync"

	"homebid/internal/utils"
)

// Envelope is the wire format for every outbound frame.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans domain events out to websocket clients. Clients subscribe to
// listing topics; user-addressed events reach every connection the user
// holds, regardless of subscriptions. Hub implements events.Publisher, so
// the services publish through it without knowing about websockets.
type Hub struct {
	mu sync.RWMutex
	// listing topic -> subscribed clients
	topics map[utils.SixID]map[*Client]struct{}
	// authenticated user -> their connections
	users map[utils.SixID]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a hub. Call Run in a goroutine.
func NewHub() *Hub {
	return &Hub{
		topics:     make(map[utils.SixID]map[*Client]struct{}),
		users:      make(map[utils.SixID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run processes client registration until Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-h.shutdown:
			h.closeAll()
			return
		}
	}
}

// Shutdown closes every connection and stops the hub loop. Safe to call
// more than once.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.shutdown) })
	<-h.done
	utils.Info("realtime hub stopped", nil)
}

// PublishListing sends an event to every client subscribed to the listing.
func (h *Hub) PublishListing(listingID utils.SixID, event string, payload any) {
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		utils.Error("failed to encode realtime frame", map[string]any{"event": event, "error": err.Error()})
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.topics[listingID] {
		client.enqueue(frame)
	}
}

// PublishUser sends an event to every connection held by one user.
func (h *Hub) PublishUser(userID utils.SixID, event string, payload any) {
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		utils.Error("failed to encode realtime frame", map[string]any{"event": event, "error": err.Error()})
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.users[userID] {
		client.enqueue(frame)
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[client.userID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.users[client.userID] = conns
	}
	conns[client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[client.userID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.users, client.userID)
		}
	}
	for listingID, subs := range h.topics {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, listingID)
		}
	}
	client.closeSend()
}

// subscribe adds the client to a listing topic.
func (h *Hub) subscribe(client *Client, listingID utils.SixID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[listingID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[listingID] = subs
	}
	subs[client] = struct{}{}
}

// unsubscribe removes the client from a listing topic.
func (h *Hub) unsubscribe(client *Client, listingID utils.SixID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[listingID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, listingID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.users {
		for client := range conns {
			client.closeSend()
		}
	}
	h.users = make(map[utils.SixID]map[*Client]struct{})
	h.topics = make(map[utils.SixID]map[*Client]struct{})
}
