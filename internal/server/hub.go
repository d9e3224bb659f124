// Package server coordinates client registration, event delivery, and
// connection cleanup for the relaychat WebSocket system via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/relaychat/internal/session"
)

// Hub owns the live WebSocket clients and delivers coordinator output to them.
// All deliveries go through the Run loop, so the batches produced by one
// connection reach recipients in the order they were produced.
type Hub struct {
	lifecycle  session.Lifecycle
	clients    map[session.ConnID]*Client
	register   chan *Client
	unregister chan *Client
	deliver    chan []session.Delivery
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub that reports connects and disconnects to lifecycle.
func NewHub(lifecycle session.Lifecycle) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		lifecycle:  lifecycle,
		clients:    make(map[session.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan []session.Delivery, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a freshly upgraded client to the hub. It returns false once
// the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Deliver queues a batch of deliveries. Batches are dropped once the hub is
// shutting down.
func (h *Hub) Deliver(deliveries []session.Delivery) {
	if len(deliveries) == 0 {
		return
	}
	select {
	case h.deliver <- deliveries:
	case <-h.ctx.Done():
	}
}

// ClientCount reports the number of open connections, registered or not.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Warn().Msg("received nil client registration; skipping")
				continue
			}
			h.addClient(client)
			h.dispatch(h.lifecycle.OnConnect(client.id))

		case client := <-h.unregister:
			if client == nil {
				continue
			}
			h.removeClient(client)
			// The coordinator forgets the connection even when the client was
			// already dropped for a full send buffer.
			h.dispatch(h.lifecycle.OnDisconnect(client.id))

		case deliveries := <-h.deliver:
			h.dispatch(deliveries)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	log.Info().Str("conn_id", string(client.id)).Str("addr", client.addr).Int("clients", clientCount).Msg("client connected")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	log.Info().Str("conn_id", string(client.id)).Str("addr", client.addr).Int("clients", clientCount).Msg("client disconnected")
}

// dispatch encodes and queues every delivery. Recipients that vanished are
// skipped; recipients whose buffer is full are dropped.
func (h *Hub) dispatch(deliveries []session.Delivery) {
	var clientsToRemove []*Client

	for _, d := range deliveries {
		payload, err := EncodeEvent(d.Event)
		if err != nil {
			log.Error().Err(err).Str("conn_id", string(d.To)).Msg("dropping undeliverable event")
			continue
		}

		client := h.lookup(d.To)
		if client == nil {
			continue
		}
		if !h.safeSend(client, payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	h.removeFailedClients(clientsToRemove)
}

func (h *Hub) lookup(id session.ConnID) *Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.clients[id]
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic in safeSend")
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	if current, exists := h.clients[client.id]; !exists || current != client || client.closed {
		return true
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// removeFailedClients drops clients that could not keep up. Closing their send
// channel makes the write pump close the connection, after which the read
// pump unregisters the client and the coordinator forgets it.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if current, exists := h.clients[client.id]; exists && current == client {
			delete(h.clients, client.id)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			log.Warn().Str("conn_id", string(client.id)).Str("addr", client.addr).Msg("client removed due to full send buffer")
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	log.Info().Msg("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Warn().Err(err).Str("addr", client.addr).Msg("error closing client connection")
			}
		}
	}

	log.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
