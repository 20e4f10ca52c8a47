// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/resonance/internal/events"
)

func startHub(t *testing.T) (*Hub, context.Context) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Serve(ctx) //nolint:errcheck
	return hub, ctx
}

func registerTestClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := NewClient(hub, nil)
	select {
	case hub.Register <- client:
	case <-time.After(2 * time.Second):
		t.Fatal("register blocked")
	}
	return client
}

func TestHubRegisterUnregister(t *testing.T) {
	hub, _ := startHub(t)

	client := registerTestClient(t, hub)

	deadline := time.After(2 * time.Second)
	for hub.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("clients = %d, want 1", hub.ClientCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case hub.Unregister <- client:
	case <-time.After(2 * time.Second):
		t.Fatal("unregister blocked")
	}

	deadline = time.After(2 * time.Second)
	for hub.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("clients = %d, want 0", hub.ClientCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub, _ := startHub(t)

	a := registerTestClient(t, hub)
	b := registerTestClient(t, hub)

	deadline := time.After(2 * time.Second)
	for hub.ClientCount() != 2 {
		select {
		case <-deadline:
			t.Fatalf("clients = %d, want 2", hub.ClientCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	hub.Broadcast(MessageTypeConnectionEvent, map[string]string{"event": "reconnected"})

	for _, client := range []*Client{a, b} {
		select {
		case msg := <-client.send:
			if msg.Type != MessageTypeConnectionEvent {
				t.Errorf("type = %q, want %q", msg.Type, MessageTypeConnectionEvent)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("client did not receive broadcast")
		}
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub, _ := startHub(t)

	client := registerTestClient(t, hub)

	deadline := time.After(2 * time.Second)
	for hub.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Nothing drains client.send; overflow its buffer.
	for i := 0; i < cap(client.send)+8; i++ {
		hub.Broadcast(MessageTypePlaybackState, i)
	}

	deadline = time.After(3 * time.Second)
	for hub.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("clients = %d, want slow client dropped", hub.ClientCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestServeClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()

	client := registerTestClient(t, hub)
	deadline := time.After(2 * time.Second)
	for hub.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}

	// The client's send channel must be closed.
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected closed send channel")
		}
	default:
		t.Error("send channel still open after shutdown")
	}
}

func TestBridgeBusForwardsTopics(t *testing.T) {
	hub, ctx := startHub(t)

	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() }) //nolint:errcheck

	if err := hub.BridgeBus(ctx, bus); err != nil {
		t.Fatalf("BridgeBus: %v", err)
	}

	client := registerTestClient(t, hub)
	deadline := time.After(2 * time.Second)
	for hub.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := bus.Publish(events.TopicLibraryChanged, events.LibraryChange{
		Class:    "quick",
		NewItems: 7,
		At:       time.Now().UTC(),
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeLibraryChanged {
			t.Errorf("type = %q, want %q", msg.Type, MessageTypeLibraryChanged)
		}
		data, ok := msg.Data.(map[string]interface{})
		if !ok {
			t.Fatalf("data type = %T, want map", msg.Data)
		}
		if got := data["new_items"]; got != float64(7) {
			t.Errorf("new_items = %v, want 7", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("bridged message never arrived")
	}
}
