// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/resonance/internal/logging"
)

// Bus is an in-process pub/sub bus backed by Watermill's gochannel
// transport. Publishing is non-blocking up to the output buffer; a
// subscriber that falls behind delays only its own channel.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates a bus with a bounded per-subscriber buffer.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermillLogger{},
		),
	}
}

// Publish JSON-encodes payload and publishes it on topic.
// Publish failures are returned but are not fatal to callers; the bus
// is a notification channel, not a source of truth.
func (b *Bus) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	if err := b.pubsub.Publish(topic, message.NewMessage(uuid.NewString(), data)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns the raw Watermill message channel for topic.
// Callers must Ack every message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// SubscribeFunc subscribes to topic and invokes handler with each raw
// payload on a dedicated goroutine, acking automatically. The goroutine
// exits when ctx is canceled or the bus closes.
func (b *Bus) SubscribeFunc(ctx context.Context, topic string, handler func(payload []byte)) error {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	go func() {
		for msg := range ch {
			handler(msg.Payload)
			msg.Ack()
		}
	}()
	return nil
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode unmarshals a payload into v.
func Decode(payload []byte, v interface{}) error {
	return json.Unmarshal(payload, v)
}

// watermillLogger adapts watermill.LoggerAdapter onto the global zerolog
// logger. Watermill output is internal plumbing, so info maps to debug
// and debug/trace map to trace.
type watermillLogger struct {
	fields watermill.LogFields
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	applyFields(logging.Error().Err(err), l.fields, fields).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	applyFields(logging.Debug(), l.fields, fields).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	applyFields(logging.Trace(), l.fields, fields).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	applyFields(logging.Trace(), l.fields, fields).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{fields: l.fields.Add(fields)}
}

func applyFields(ev *zerolog.Event, base, extra watermill.LogFields) *zerolog.Event {
	for k, v := range base {
		ev = ev.Interface(k, v)
	}
	for k, v := range extra {
		ev = ev.Interface(k, v)
	}
	return ev
}
