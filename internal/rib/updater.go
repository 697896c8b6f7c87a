package rib

import (
	"log/slog"
	"time"

	"github.com/flexran/rtc/internal/ctlerr"
	"github.com/flexran/rtc/internal/eventbus"
	"github.com/flexran/rtc/internal/network"
	"github.com/flexran/rtc/internal/protocol"
)

// defaultRunBudget bounds how many inbound messages Updater.Run drains in
// a single task-manager tick, mirroring rib_updater's n_msg_check default
// of 350: enough to keep up with a busy agent population without letting
// one starved tick block the scheduler apps behind it.
const defaultRunBudget = 350

// Updater records a connected agent as New and marks it Active once its
// hello reply attaches it to a base station, and applies every inbound
// message to the Rib. The Pending and CapabilityQuery states are not
// entered: an agent's capabilities are taken from its hello reply. It owns no goroutines of its own: TaskManager calls
// Run once per tick from the single scheduler thread (spec.md §5).
type Updater struct {
	rib     *Rib
	network *network.Manager
	bus     *eventbus.Bus
	log     *slog.Logger

	runBudget int
}

// NewUpdater builds an Updater. runBudget <= 0 uses defaultRunBudget.
func NewUpdater(r *Rib, nm *network.Manager, bus *eventbus.Bus, runBudget int, log *slog.Logger) *Updater {
	if runBudget <= 0 {
		runBudget = defaultRunBudget
	}
	if log == nil {
		log = slog.Default()
	}
	return &Updater{rib: r, network: nm, bus: bus, runBudget: runBudget, log: log}
}

// Run drains up to the updater's run budget worth of network events and
// control messages, applying each to the Rib and firing the corresponding
// eventbus notification. It never blocks: once the budget is exhausted or
// the network has nothing more to offer, it returns so the tick can
// proceed to the periodic apps.
func (u *Updater) Run() {
	for i := 0; i < u.runBudget; i++ {
		ev, ok := u.network.Poll()
		if !ok {
			return
		}
		u.handleEvent(ev)
	}
}

func (u *Updater) handleEvent(ev network.Event) {
	switch e := ev.(type) {
	case network.ConnectedEvent:
		u.handleNewConnection(e.AgentID)
	case network.DisconnectedEvent:
		u.handleDisconnect(e.AgentID)
	case network.ReceivedEvent:
		u.handleMessage(e.AgentID, e.Message)
	}
}

func (u *Updater) handleNewConnection(agentID int) {
	u.rib.AddPendingAgent(agentID)
	u.log.Info("agent connected", "agent_id", agentID)
	hello := &protocol.HelloRequest{Txn: protocol.NewTxnID()}
	if err := u.network.Send(agentID, hello); err != nil {
		u.log.Warn("failed to send hello request", "agent_id", agentID, "error", err)
	}
}

func (u *Updater) handleDisconnect(agentID int) {
	agent, existed := u.rib.GetAgent(agentID)
	bsID := uint64(0)
	hadBS := false
	if existed && agent.BSID != 0 {
		bsID = agent.BSID
		hadBS = true
	}
	u.rib.DetachAgent(agentID)
	u.log.Info("agent disconnected", "agent_id", agentID)
	if hadBS {
		if _, stillThere := u.rib.GetBS(bsID); !stillThere {
			u.bus.PublishBSRemove(bsID)
		}
	}
}

func (u *Updater) handleMessage(agentID int, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.HelloReply:
		u.handleHello(agentID, m)
	case *protocol.EchoRequest:
		u.handleEchoRequest(agentID, m)
	case *protocol.EchoReply:
		u.rib.UpdateLiveness(agentID)
	case *protocol.SFTrigger:
		u.handleSFTrigger(agentID, m)
	case *protocol.EnbConfigReply:
		u.handleEnbConfigReply(agentID, m)
	case *protocol.UEConfigReply:
		u.handleUEConfigReply(agentID, m)
	case *protocol.LCConfigReply:
		u.rib.LCConfigUpdate(agentID, rntiOf(m.LCConfigs), m.LCConfigs)
	case *protocol.StatsReply:
		u.handleStatsReply(agentID, m)
	case *protocol.UEStateChange:
		u.handleUEStateChange(agentID, m)
	case *protocol.Disconnect:
		u.handleDisconnect(agentID)
	default:
		u.log.Warn("unexpected message kind from agent", "agent_id", agentID, "kind", msg.Kind().String())
	}
}

func rntiOf(cfgs []protocol.LCConfig) protocol.RNTI {
	if len(cfgs) == 0 {
		return 0
	}
	return cfgs[0].RNTI
}

func (u *Updater) handleHello(agentID int, reply *protocol.HelloReply) {
	if reply.Capabilities.Empty() {
		u.log.Error("agent declared zero capabilities, rejecting", "agent_id", agentID)
		u.network.Disconnect(agentID)
		return
	}
	if !u.rib.HasBSEntry(reply.BSID) {
		u.rib.NewBSEntry(reply.BSID)
		u.bus.PublishBSAdd(reply.BSID)
	}
	u.rib.AttachAgent(agentID, reply.BSID, reply.Capabilities)
	u.log.Info("agent hello complete", "agent_id", agentID, "bs_id", reply.BSID,
		"capabilities", reply.Capabilities.List())

	// Once the BS reaches complete capability coverage, request its
	// current configuration so the RIB is populated without waiting for
	// the agent's own periodic reports.
	if bs, ok := u.rib.GetBS(reply.BSID); ok && bs.IsComplete() {
		_ = u.network.Send(agentID, &protocol.EnbConfigRequest{Txn: protocol.NewTxnID()})
		_ = u.network.Send(agentID, &protocol.UEConfigRequest{Txn: protocol.NewTxnID()})
	}
}

func (u *Updater) handleEchoRequest(agentID int, req *protocol.EchoRequest) {
	u.rib.UpdateLiveness(agentID)
	reply := &protocol.EchoReply{Txn: req.Txn, Seq: req.Seq}
	if err := u.network.Send(agentID, reply); err != nil {
		u.log.Warn("failed to send echo reply", "agent_id", agentID, "error", err)
	}
}

func (u *Updater) handleSFTrigger(agentID int, trig *protocol.SFTrigger) {
	u.rib.UpdateLiveness(agentID)
	u.rib.UpdateSubframe(agentID, trig.Frame, trig.Subframe)
}

func (u *Updater) handleEnbConfigReply(agentID int, reply *protocol.EnbConfigReply) {
	u.rib.EnbConfigUpdate(agentID, reply.CellConfigs)
}

func (u *Updater) handleUEConfigReply(agentID int, reply *protocol.UEConfigReply) {
	for _, cfg := range reply.UEConfigs {
		u.rib.UEConfigUpdate(agentID, cfg)
	}
}

func (u *Updater) handleStatsReply(agentID int, reply *protocol.StatsReply) {
	for rnti, stats := range reply.UEStats {
		u.rib.MACStatsUpdate(agentID, rnti, stats)
	}
	if len(reply.CellStats) > 0 {
		u.rib.CellStatsUpdate(agentID, reply.CellStats)
	}
}

func (u *Updater) handleUEStateChange(agentID int, change *protocol.UEStateChange) {
	u.rib.UEStateChange(agentID, change.RNTI, change.Connected, change.Config)
	agent, ok := u.rib.GetAgent(agentID)
	bsID := uint64(0)
	if ok {
		bsID = agent.BSID
	}
	if change.Connected {
		u.bus.PublishUEConnect(bsID, change.RNTI)
	} else {
		u.bus.PublishUEDisconnect(bsID, change.RNTI)
	}
	// The association apps subscribe to ue_update for both connects and
	// in-place reconfigurations; fire it unconditionally.
	u.bus.PublishUEUpdate(bsID, change.RNTI)
}

// DisconnectStale walks the Rib for agents that have exceeded the
// inactivity threshold and tears down their connections, mirroring the
// liveness sweep the original performs alongside echo processing.
func (u *Updater) DisconnectStale() {
	for _, id := range u.rib.StaleAgents(time.Now()) {
		u.log.Warn("agent exceeded inactivity threshold, disconnecting", "agent_id", id)
		u.network.Disconnect(id)
		u.handleDisconnect(id)
	}
}

// RequestAgentReconfiguration pushes a free-form policy string to agentID,
// used by the /yaml passthrough endpoint and by apps that have already
// rendered their own wire payload.
func (u *Updater) RequestAgentReconfiguration(agentID int, policy string) error {
	msg := &protocol.AgentReconfiguration{Txn: protocol.NewTxnID(), AgentID: agentID, Policy: policy}
	if err := u.network.Send(agentID, msg); err != nil {
		return ctlerr.Wrap(ctlerr.KindBackpressure, "rib.updater", "failed to push agent reconfiguration", msg.Txn, err)
	}
	return nil
}
