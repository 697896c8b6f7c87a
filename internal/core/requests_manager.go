// Package core implements the controller's request routing (C3) and its
// single-threaded tick loop (C7), grounded on requests_manager.h and
// task_manager.h from the original controller.
package core

import (
	"fmt"

	"github.com/flexran/rtc/internal/ctlerr"
	"github.com/flexran/rtc/internal/network"
	"github.com/flexran/rtc/internal/protocol"
	"github.com/flexran/rtc/internal/rib"
)

// RequestsManager resolves a base-station-addressed control message to a
// concrete agent connection and sends it, mirroring requests_manager's
// thin wrap around async_xface but adding the capability-based agent
// selection the original leaves to callers.
type RequestsManager struct {
	rib *rib.Rib
	net *network.Manager
}

// NewRequestsManager builds a RequestsManager over the given RIB and
// network manager.
func NewRequestsManager(r *rib.Rib, nm *network.Manager) *RequestsManager {
	return &RequestsManager{rib: r, net: nm}
}

// SendToAgent sends msg directly to a known agent ID, bypassing BS/
// capability resolution. Used by passthrough endpoints that have already
// picked their target agent.
func (rm *RequestsManager) SendToAgent(agentID int, msg protocol.Message) error {
	return rm.net.Send(agentID, msg)
}

// SendToBS sends msg to any agent belonging to bsID, regardless of
// capability. Used for messages every agent can accept, such as
// AgentReconfiguration passthrough.
func (rm *RequestsManager) SendToBS(bsID uint64, msg protocol.Message) error {
	agentID, ok := rm.rib.GetAgentID(bsID)
	if !ok {
		return ctlerr.New(ctlerr.KindNotFound, "core.requests_manager", fmt.Sprintf("no such base station %d", bsID), msg.TxnID())
	}
	return rm.net.Send(agentID, msg)
}

// SendToCapableAgent routes msg to the agent belonging to bsID that
// declares the required capability, mirroring the original's pattern of
// locating an enb_rib_info and delegating to the one agent able to act
// on a given control-plane concern (e.g. only the RRC-capable agent
// handles a UE config reconfiguration).
func (rm *RequestsManager) SendToCapableAgent(bsID uint64, cap protocol.Capability, msg protocol.Message) error {
	bs, ok := rm.rib.GetBS(bsID)
	if !ok {
		return ctlerr.New(ctlerr.KindNotFound, "core.requests_manager", fmt.Sprintf("no such base station %d", bsID), msg.TxnID())
	}
	agent, ok := bs.AgentWithCapability(cap)
	if !ok {
		return ctlerr.New(ctlerr.KindNotFound, "core.requests_manager",
			fmt.Sprintf("no agent of base station %d declares capability %s", bsID, cap), msg.TxnID())
	}
	return rm.net.Send(agent.ID, msg)
}
