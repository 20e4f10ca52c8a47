// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package websocket pushes core state changes to UI clients. The UI
// never polls the core; it subscribes here and receives connection,
// library, and playback updates as they happen.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/logging"
)

// Message types pushed to UI clients.
const (
	MessageTypeConnectionState = "connection_state"
	MessageTypeConnectionEvent = "connection_event"
	MessageTypeLibraryChanged  = "library_changed"
	MessageTypePlaybackState   = "playback_state"
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
)

// Message is one websocket frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and fans messages out to
// them. Slow clients are dropped rather than allowed to block the
// rest.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub until ctx is cancelled, then closes every
// client. Implements suture.Service.
//
// Selection is priority ordered (shutdown, then lifecycle, then
// broadcast) so client state is consistent before messages fan out;
// a bare select picks randomly among ready channels.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// fanOut delivers a message to every client in ID order. A client
// with a full send buffer is dropped.
func (h *Hub) fanOut(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	count := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	logging.Info().
		Str("component", "websocket-hub").
		AnErr("reason", ctx.Err()).
		Int("clients_closed", count).
		Msg("websocket hub stopped")
}

// Broadcast queues a message for all clients, dropping it when the
// queue is full rather than blocking the publisher.
func (h *Hub) Broadcast(messageType string, data interface{}) {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
	default:
		logging.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BridgeBus forwards the core's event bus topics to websocket
// clients. Subscriptions live until ctx is cancelled.
func (h *Hub) BridgeBus(ctx context.Context, bus *events.Bus) error {
	bindings := []struct {
		topic       string
		messageType string
	}{
		{events.TopicConnectionState, MessageTypeConnectionState},
		{events.TopicConnectionEvent, MessageTypeConnectionEvent},
		{events.TopicLibraryChanged, MessageTypeLibraryChanged},
		{events.TopicPlaybackState, MessageTypePlaybackState},
	}

	for _, b := range bindings {
		messageType := b.messageType
		if err := bus.SubscribeFunc(ctx, b.topic, func(payload []byte) {
			var data map[string]interface{}
			if err := json.Unmarshal(payload, &data); err != nil {
				logging.Warn().Err(err).Str("message_type", messageType).Msg("undecodable bus payload, not forwarding")
				return
			}
			h.Broadcast(messageType, data)
		}); err != nil {
			return err
		}
	}
	return nil
}
