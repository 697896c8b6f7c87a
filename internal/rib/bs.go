package rib

import (
	"sync"
	"time"

	"github.com/flexran/rtc/internal/protocol"
)

// BS is the per-base-station aggregate the RIB stores: the set of agents
// that together form it, its cell configuration, and its live UE state.
// Mirrors enb_rib_info in the original controller.
type BS struct {
	mu sync.RWMutex

	id     uint64
	agents map[int]*Agent

	cellConfigs []protocol.CellConfig
	ueConfigs   map[protocol.RNTI]protocol.UEConfig
	lcConfigs   map[protocol.RNTI][]protocol.LCConfig
	macStats    map[protocol.RNTI]protocol.UEMACStatsReport
	cellStats   []protocol.CellStatsReport

	// sliceConfig is the BS's current slice configuration. Deployments
	// this controller targets are single-cell per BS, so slice config is
	// tracked at BS granularity rather than per entry of cellConfigs.
	sliceConfig *protocol.SliceConfig

	// currentFrame/currentSubframe are the most recent frame/subframe
	// position an agent of this BS reported via sf_trigger, mirroring
	// enb_rib_info's own current-frame tracking. The scheduler reads these
	// per BS rather than free-running its own clock, since each BS's
	// agents trigger independently.
	currentFrame    uint16
	currentSubframe uint8

	lastSFUpdate time.Time
}

func newBS(id uint64) *BS {
	return &BS{
		id:          id,
		agents:      make(map[int]*Agent),
		ueConfigs:   make(map[protocol.RNTI]protocol.UEConfig),
		lcConfigs:   make(map[protocol.RNTI][]protocol.LCConfig),
		macStats:    make(map[protocol.RNTI]protocol.UEMACStatsReport),
	}
}

// ID returns the base-station ID.
func (b *BS) ID() uint64 { return b.id }

// Capabilities returns the merged capability set of all agents currently
// belonging to this BS.
func (b *BS) Capabilities() protocol.CapabilitySet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var caps protocol.CapabilitySet
	for _, a := range b.agents {
		caps = caps.MergeIn(a.Capabilities)
	}
	return caps
}

// IsComplete reports whether the merged capability set covers all eight
// planes, i.e. this BS can serve every kind of control message.
func (b *BS) IsComplete() bool {
	return b.Capabilities().IsComplete()
}

// AgentIDs returns the IDs of all agents belonging to this BS.
func (b *BS) AgentIDs() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]int, 0, len(b.agents))
	for id := range b.agents {
		ids = append(ids, id)
	}
	return ids
}

// AgentWithCapability returns an agent belonging to this BS that declares
// the given capability, used by the requests manager to route a control
// message to the right peer. Ties are broken by lowest agent ID for
// determinism.
func (b *BS) AgentWithCapability(cap protocol.Capability) (*Agent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var best *Agent
	for _, a := range b.agents {
		if !a.Capabilities.Has(cap) {
			continue
		}
		if best == nil || a.ID < best.ID {
			best = a
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func (b *BS) addAgent(a *Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agents[a.ID] = a
}

func (b *BS) removeAgent(agentID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.agents, agentID)
}

func (b *BS) agentCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.agents)
}

// CellConfigs returns a copy of the current cell configuration.
func (b *BS) CellConfigs() []protocol.CellConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]protocol.CellConfig, len(b.cellConfigs))
	copy(out, b.cellConfigs)
	return out
}

func (b *BS) setCellConfigs(cfgs []protocol.CellConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cellConfigs = cfgs
}

// UEConfig returns the stored configuration for rnti, if any.
func (b *BS) UEConfig(rnti protocol.RNTI) (protocol.UEConfig, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.ueConfigs[rnti]
	return c, ok
}

// UEConfigs returns a copy of all currently known UE configurations.
func (b *BS) UEConfigs() map[protocol.RNTI]protocol.UEConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[protocol.RNTI]protocol.UEConfig, len(b.ueConfigs))
	for k, v := range b.ueConfigs {
		out[k] = v
	}
	return out
}

func (b *BS) setUEConfig(cfg protocol.UEConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ueConfigs[cfg.RNTI] = cfg
}

// UpdateUEConfigNoPush records a UE configuration change that the caller
// is pushing to the agent itself (or has already pushed as part of a
// batch); it updates the RIB's local view without triggering any
// additional wire traffic.
func (b *BS) UpdateUEConfigNoPush(cfg protocol.UEConfig) {
	b.setUEConfig(cfg)
}

func (b *BS) removeUE(rnti protocol.RNTI) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ueConfigs, rnti)
	delete(b.lcConfigs, rnti)
	delete(b.macStats, rnti)
}

// RNTIForIMSI finds the RNTI of the UE with the given IMSI, if connected.
func (b *BS) RNTIForIMSI(imsi uint64) (protocol.RNTI, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for rnti, cfg := range b.ueConfigs {
		if cfg.IMSI != nil && *cfg.IMSI == imsi {
			return rnti, true
		}
	}
	return 0, false
}

func (b *BS) setLCConfigs(rnti protocol.RNTI, cfgs []protocol.LCConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lcConfigs[rnti] = cfgs
}

// LCConfigs returns the logical-channel configuration for rnti.
func (b *BS) LCConfigs(rnti protocol.RNTI) []protocol.LCConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]protocol.LCConfig(nil), b.lcConfigs[rnti]...)
}

func (b *BS) setMACStats(rnti protocol.RNTI, stats protocol.UEMACStatsReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.macStats[rnti] = stats
	b.lastSFUpdate = time.Now()
}

// MACStats returns the most recent MAC statistics for rnti.
func (b *BS) MACStats(rnti protocol.RNTI) (protocol.UEMACStatsReport, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.macStats[rnti]
	return s, ok
}

// AllMACStats returns a copy of all per-UE statistics currently held.
func (b *BS) AllMACStats() map[protocol.RNTI]protocol.UEMACStatsReport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[protocol.RNTI]protocol.UEMACStatsReport, len(b.macStats))
	for k, v := range b.macStats {
		out[k] = v
	}
	return out
}

func (b *BS) setCellStats(stats []protocol.CellStatsReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cellStats = stats
}

// CellStats returns a copy of the most recent per-cell statistics.
func (b *BS) CellStats() []protocol.CellStatsReport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]protocol.CellStatsReport(nil), b.cellStats...)
}

// SliceConfig returns the BS's current slice configuration, if any has
// been pushed or reported yet.
func (b *BS) SliceConfig() (protocol.SliceConfig, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sliceConfig == nil {
		return protocol.SliceConfig{}, false
	}
	return *b.sliceConfig, true
}

// SetSliceConfig stores cfg as the BS's current slice configuration.
func (b *BS) SetSliceConfig(cfg protocol.SliceConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := cfg
	b.sliceConfig = &c
}

// setSubframe records the frame/subframe position an agent just reported
// via sf_trigger.
func (b *BS) setSubframe(frame uint16, subframe uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentFrame = frame
	b.currentSubframe = subframe
}

// CurrentFrame returns the most recently reported frame number for this
// BS, mirroring enb_rib_info::get_current_frame.
func (b *BS) CurrentFrame() uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentFrame
}

// CurrentSubframe returns the most recently reported subframe number for
// this BS, mirroring enb_rib_info::get_current_subframe.
func (b *BS) CurrentSubframe() uint8 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentSubframe
}

// UERNTIs returns all RNTIs currently connected to this BS.
func (b *BS) UERNTIs() []protocol.RNTI {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]protocol.RNTI, 0, len(b.ueConfigs))
	for rnti := range b.ueConfigs {
		out = append(out, rnti)
	}
	return out
}
