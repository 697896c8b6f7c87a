// Package rib implements the RAN Information Base: the controller's
// authoritative, in-memory store of connected agents, base-station
// configuration, per-UE state, and per-tick statistics (spec.md C4), plus
// the updater that keeps it current from the wire (C5).
//
// It is grounded on rib.cc/rib_updater.h/agent_info.cc from the original
// flexran-rtc controller: a single-writer store guarded by one mutex, keyed
// by agent ID and base-station ID, with the BS/agent relationship formed by
// a handshake rather than static configuration.
package rib

import (
	"time"

	"github.com/flexran/rtc/internal/protocol"
)

// AgentState is where an agent sits in the handshake/liveness state
// machine the Updater drives it through.
type AgentState int

const (
	AgentStateNew AgentState = iota
	AgentStatePending
	AgentStateCapabilityQuery
	AgentStateActive
	AgentStateClosed
)

func (s AgentState) String() string {
	switch s {
	case AgentStateNew:
		return "New"
	case AgentStatePending:
		return "Pending"
	case AgentStateCapabilityQuery:
		return "CapabilityQuery"
	case AgentStateActive:
		return "Active"
	case AgentStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Agent is one connected agent process: a TCP peer implementing some subset
// of the eight RAN capability planes, belonging to exactly one base
// station once the handshake completes.
type Agent struct {
	ID           int
	BSID         uint64
	Capabilities protocol.CapabilitySet
	State        AgentState
	LastLiveness time.Time
}

// IsLive reports whether the agent has been heard from within maxAge.
func (a *Agent) IsLive(now time.Time, maxAge time.Duration) bool {
	return now.Sub(a.LastLiveness) <= maxAge
}
