// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package netmon

import (
	"context"
	"net"
	"slices"
	"strings"
	"time"
)

// InterfaceWatcher polls the kernel's interface table and reports the
// set of active transports, inferring the transport from the interface
// name. It is a portable approximation of platform connectivity APIs;
// platform-specific watchers can replace it behind TransportWatcher.
type InterfaceWatcher struct {
	interval   time.Duration
	interfaces func() ([]net.Interface, error)
}

// NewInterfaceWatcher creates a watcher polling at the given interval.
func NewInterfaceWatcher(interval time.Duration) *InterfaceWatcher {
	return &InterfaceWatcher{
		interval:   interval,
		interfaces: net.Interfaces,
	}
}

// Watch implements TransportWatcher. The current set is emitted
// immediately, then on every change.
func (w *InterfaceWatcher) Watch(ctx context.Context) (<-chan []Transport, error) {
	initial, err := w.snapshot()
	if err != nil {
		return nil, err
	}

	ch := make(chan []Transport, 1)
	ch <- initial

	go func() {
		defer close(ch)
		last := initial

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := w.snapshot()
				if err != nil {
					continue // Transient table read failure; keep last set
				}
				if slices.Equal(current, last) {
					continue
				}
				last = current
				select {
				case ch <- current:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// snapshot returns the sorted transports of all up, non-loopback
// interfaces.
func (w *InterfaceWatcher) snapshot() ([]Transport, error) {
	ifaces, err := w.interfaces()
	if err != nil {
		return nil, err
	}

	var transports []Transport
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		transports = append(transports, transportForInterface(iface.Name))
	}
	slices.Sort(transports)
	return slices.Compact(transports), nil
}

// transportForInterface maps a kernel interface name to a transport.
// Naming follows the common Linux and Android conventions.
func transportForInterface(name string) Transport {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "wl"):
		return TransportWifi
	case strings.HasPrefix(lower, "en"), strings.HasPrefix(lower, "eth"):
		return TransportEthernet
	case strings.HasPrefix(lower, "ww"), strings.HasPrefix(lower, "rmnet"), strings.HasPrefix(lower, "ccmni"):
		return TransportMobile
	default:
		return TransportOther
	}
}
