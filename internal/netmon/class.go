// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package netmon classifies OS-level connectivity into a NetworkClass
// and verifies actual internet reachability with a bounded probe.
// "Radio up" and "internet reachable" are distinct facts; the monitor
// only reports non-Offline when both hold.
package netmon

// Transport is one active OS-level network transport.
type Transport int

const (
	TransportWifi Transport = iota
	TransportEthernet
	TransportMobile
	TransportOther
)

func (t Transport) String() string {
	switch t {
	case TransportWifi:
		return "wifi"
	case TransportEthernet:
		return "ethernet"
	case TransportMobile:
		return "mobile"
	default:
		return "other"
	}
}

// NetworkClass is the connectivity class derived from active transports.
// It says nothing about whether the music server is reachable.
type NetworkClass int

const (
	ClassOffline NetworkClass = iota
	ClassMobile
	ClassWifi
)

func (c NetworkClass) String() string {
	switch c {
	case ClassWifi:
		return "wifi"
	case ClassMobile:
		return "mobile"
	default:
		return "offline"
	}
}

// MetricValue encodes the class for the network class gauge.
// 0 = offline, 1 = mobile, 2 = wifi.
func (c NetworkClass) MetricValue() float64 {
	return float64(c)
}

// Classify maps a set of active transports to a NetworkClass.
// Priority: Wifi/Ethernet over Mobile; no transports means Offline;
// unrecognized transports are treated as Mobile so data-usage limits
// stay conservative.
func Classify(transports []Transport) NetworkClass {
	if len(transports) == 0 {
		return ClassOffline
	}

	class := ClassOffline
	for _, t := range transports {
		switch t {
		case TransportWifi, TransportEthernet:
			return ClassWifi
		case TransportMobile, TransportOther:
			class = ClassMobile
		}
	}
	return class
}
