package rib

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flexran/rtc/internal/ctlerr"
	"github.com/flexran/rtc/internal/protocol"
)

// agentIDLengthLimit is the decimal-string length at and above which a BS
// identifier string is treated as an eNB ID rather than an internal agent
// ID, mirroring AGENT_ID_LENGTH_LIMIT in the original controller.
const agentIDLengthLimit = 4

// DefaultInactivityThreshold is how long an agent may go without a
// liveness update before it is considered stale (spec.md §4.4/§4.5).
const DefaultInactivityThreshold = 1500 * time.Millisecond

// Rib is the controller's RAN Information Base: the authoritative,
// in-memory record of every connected agent and the base stations they
// form. All mutation happens on the task-manager thread (spec.md §5); the
// mutex exists to let the HTTP layer take consistent read snapshots
// concurrently, not to allow concurrent writers.
type Rib struct {
	mu sync.RWMutex

	pending map[int]struct{}
	agents  map[int]*Agent   // agent id -> agent (includes pending, pre-BS agents)
	bsOf    map[int]uint64   // agent id -> owning BS id, once assigned
	bss     map[uint64]*BS   // BS id -> aggregate

	inactivityThreshold time.Duration
	lastAddedBS         uint64
	haveLastAdded       bool
}

// New constructs an empty Rib.
func New(inactivityThreshold time.Duration) *Rib {
	if inactivityThreshold <= 0 {
		inactivityThreshold = DefaultInactivityThreshold
	}
	return &Rib{
		pending:             make(map[int]struct{}),
		agents:              make(map[int]*Agent),
		bsOf:                make(map[int]uint64),
		bss:                 make(map[uint64]*BS),
		inactivityThreshold: inactivityThreshold,
	}
}

// AddPendingAgent registers a newly connected agent that has not yet
// completed the hello handshake.
func (r *Rib) AddPendingAgent(agentID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[agentID] = struct{}{}
	r.agents[agentID] = &Agent{ID: agentID, State: AgentStateNew, LastLiveness: time.Now()}
}

// RemovePendingAgent drops a pending agent, e.g. because it disconnected
// before completing the handshake.
func (r *Rib) RemovePendingAgent(agentID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, agentID)
	delete(r.agents, agentID)
}

// AgentIsPending reports whether agentID has connected but not yet
// completed its handshake.
func (r *Rib) AgentIsPending(agentID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pending[agentID]
	return ok
}

// NewBSEntry creates the BS record for bsID if it does not already exist.
func (r *Rib) NewBSEntry(bsID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bss[bsID]; !ok {
		r.bss[bsID] = newBS(bsID)
	}
	r.lastAddedBS = bsID
	r.haveLastAdded = true
}

// HasBSEntry reports whether bsID has a BS record.
func (r *Rib) HasBSEntry(bsID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bss[bsID]
	return ok
}

// RemoveBSEntry drops the BS record and its agent associations entirely.
func (r *Rib) RemoveBSEntry(bsID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bs, ok := r.bss[bsID]
	if !ok {
		return
	}
	for _, id := range bs.AgentIDs() {
		delete(r.bsOf, id)
		delete(r.agents, id)
	}
	delete(r.bss, bsID)
	if r.haveLastAdded && r.lastAddedBS == bsID {
		r.haveLastAdded = false
	}
}

// AttachAgent completes an agent's handshake, attaching it to bsID with
// the declared capabilities and moving it out of the pending set.
func (r *Rib) AttachAgent(agentID int, bsID uint64, caps protocol.CapabilitySet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, agentID)

	bs, ok := r.bss[bsID]
	if !ok {
		bs = newBS(bsID)
		r.bss[bsID] = bs
	}
	agent := &Agent{
		ID:           agentID,
		BSID:         bsID,
		Capabilities: caps,
		State:        AgentStateActive,
		LastLiveness: time.Now(),
	}
	r.agents[agentID] = agent
	r.bsOf[agentID] = bsID
	bs.addAgent(agent)
	r.lastAddedBS = bsID
	r.haveLastAdded = true
}

// DetachAgent removes agentID from whatever BS it belongs to. If this was
// the BS's last agent, the BS record itself is removed.
func (r *Rib) DetachAgent(agentID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, agentID)
	delete(r.agents, agentID)
	bsID, ok := r.bsOf[agentID]
	if !ok {
		return
	}
	delete(r.bsOf, agentID)
	bs, ok := r.bss[bsID]
	if !ok {
		return
	}
	bs.removeAgent(agentID)
	if bs.agentCount() == 0 {
		delete(r.bss, bsID)
		if r.haveLastAdded && r.lastAddedBS == bsID {
			r.haveLastAdded = false
		}
	}
}

// UpdateLiveness refreshes agentID's last-seen timestamp.
func (r *Rib) UpdateLiveness(agentID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok {
		a.LastLiveness = time.Now()
	}
}

// StaleAgents returns the IDs of agents not heard from within the
// inactivity threshold, as of now.
func (r *Rib) StaleAgents(now time.Time) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []int
	for id, a := range r.agents {
		if !a.IsLive(now, r.inactivityThreshold) {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// GetAgent returns the agent record for agentID.
func (r *Rib) GetAgent(agentID int) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// GetAvailableAgents returns the IDs of every agent currently known,
// pending or attached.
func (r *Rib) GetAvailableAgents() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// GetAvailableBaseStations returns the IDs of every BS with at least one
// attached agent, used by the periodic apps to iterate cells to schedule.
func (r *Rib) GetAvailableBaseStations() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint64, 0, len(r.bss))
	for id := range r.bss {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetBS returns the BS aggregate for bsID.
func (r *Rib) GetBS(bsID uint64) (*BS, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bs, ok := r.bss[bsID]
	return bs, ok
}

// GetAgentID returns the agent ID of any agent currently attached to bsID,
// mirroring the original's get_agent_id(enb_id): useful when a single
// agent suffices (echo, disconnect) regardless of which capability it
// carries.
func (r *Rib) GetAgentID(bsID uint64) (int, bool) {
	bs, ok := r.GetBS(bsID)
	if !ok {
		return -1, false
	}
	ids := bs.AgentIDs()
	if len(ids) == 0 {
		return -1, false
	}
	sort.Ints(ids)
	return ids[0], true
}

// ParseBSID resolves a user- or operator-supplied BS identifier string
// into a concrete BS ID, following the original's parse_enb_agent_id
// rules exactly:
//
//   - "-1" means "the most recently added base station."
//   - A string of agentIDLengthLimit characters or more that starts with
//     "0x" is a hex-encoded eNB ID.
//   - Otherwise the string is parsed as a decimal number: if its length is
//     agentIDLengthLimit characters or more, it is an eNB ID; if shorter,
//     it names an internal agent ID directly, and is resolved to that
//     agent's owning BS.
//
// An unparsable or unknown identifier returns a NotFound error.
func (r *Rib) ParseBSID(s string) (uint64, error) {
	if s == "-1" {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if !r.haveLastAdded {
			return 0, ctlerr.New(ctlerr.KindNotFound, "rib", "no base station has been added yet", "")
		}
		return r.lastAddedBS, nil
	}

	if len(s) >= agentIDLengthLimit && strings.HasPrefix(s, "0x") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, ctlerr.Wrap(ctlerr.KindParse, "rib", "invalid hex base station id "+s, "", err)
		}
		if !r.HasBSEntry(n) {
			return 0, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no such base station %d", n), "")
		}
		return n, nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ctlerr.Wrap(ctlerr.KindParse, "rib", "invalid base station id "+s, "", err)
	}

	if len(s) >= agentIDLengthLimit {
		bsID := uint64(n)
		if !r.HasBSEntry(bsID) {
			return 0, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no such base station %d", bsID), "")
		}
		return bsID, nil
	}

	// Short form: n is an internal agent ID, resolve to its owning BS.
	r.mu.RLock()
	defer r.mu.RUnlock()
	agentID := int(n)
	bsID, ok := r.bsOf[agentID]
	if !ok {
		return 0, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no such agent %d", agentID), "")
	}
	return bsID, nil
}

// ParseRNTIOrIMSI resolves a UE reference on bsID given possibly-present
// RNTI and IMSI values, mirroring the original's verify_rnti_imsi: if both
// are given they must name the same UE; if only IMSI is given it is
// resolved to the corresponding RNTI.
func (r *Rib) ParseRNTIOrIMSI(bsID uint64, rnti *protocol.RNTI, imsi *uint64) (protocol.RNTI, error) {
	bs, ok := r.GetBS(bsID)
	if !ok {
		return 0, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no such base station %d", bsID), "")
	}
	switch {
	case rnti == nil && imsi == nil:
		return 0, ctlerr.New(ctlerr.KindInvalidArgument, "rib", "one of rnti or imsi is required", "")
	case rnti != nil && imsi == nil:
		if *rnti == 0 {
			return 0, ctlerr.New(ctlerr.KindInvalidArgument, "rib", "rnti must not be 0", "")
		}
		return *rnti, nil
	case rnti == nil && imsi != nil:
		found, ok := bs.RNTIForIMSI(*imsi)
		if !ok {
			return 0, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no ue with imsi %d", *imsi), "")
		}
		return found, nil
	default:
		found, ok := bs.RNTIForIMSI(*imsi)
		if !ok {
			return 0, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no ue with imsi %d", *imsi), "")
		}
		if found != *rnti {
			return 0, ctlerr.New(ctlerr.KindInvalidArgument, "rib", "rnti and imsi do not refer to the same ue", "")
		}
		return *rnti, nil
	}
}

// EnbConfigUpdate stores an agent-reported eNB configuration for its BS.
func (r *Rib) EnbConfigUpdate(agentID int, cells []protocol.CellConfig) {
	bs := r.bsForAgent(agentID)
	if bs == nil {
		return
	}
	bs.setCellConfigs(cells)
}

// UEConfigUpdate stores an agent-reported (or controller-applied) UE
// configuration.
func (r *Rib) UEConfigUpdate(agentID int, cfg protocol.UEConfig) {
	bs := r.bsForAgent(agentID)
	if bs == nil {
		return
	}
	bs.setUEConfig(cfg)
}

// UEStateChange applies a connect/disconnect state change reported by an
// agent.
func (r *Rib) UEStateChange(agentID int, rnti protocol.RNTI, connected bool, cfg *protocol.UEConfig) {
	bs := r.bsForAgent(agentID)
	if bs == nil {
		return
	}
	if !connected {
		bs.removeUE(rnti)
		return
	}
	if cfg != nil {
		bs.setUEConfig(*cfg)
	}
}

// LCConfigUpdate stores an agent-reported logical-channel configuration.
func (r *Rib) LCConfigUpdate(agentID int, rnti protocol.RNTI, cfgs []protocol.LCConfig) {
	bs := r.bsForAgent(agentID)
	if bs == nil {
		return
	}
	bs.setLCConfigs(rnti, cfgs)
}

// MACStatsUpdate stores one UE's latest MAC statistics snapshot.
func (r *Rib) MACStatsUpdate(agentID int, rnti protocol.RNTI, stats protocol.UEMACStatsReport) {
	bs := r.bsForAgent(agentID)
	if bs == nil {
		return
	}
	bs.setMACStats(rnti, stats)
}

// CellStatsUpdate stores a BS's latest per-cell statistics snapshot.
func (r *Rib) CellStatsUpdate(agentID int, stats []protocol.CellStatsReport) {
	bs := r.bsForAgent(agentID)
	if bs == nil {
		return
	}
	bs.setCellStats(stats)
}

// UpdateSubframe records the frame/subframe position reported by an
// agent's sf_trigger message, mirroring Rib::set_subframe_updates.
func (r *Rib) UpdateSubframe(agentID int, frame uint16, subframe uint8) {
	bs := r.bsForAgent(agentID)
	if bs == nil {
		return
	}
	bs.setSubframe(frame, subframe)
}

func (r *Rib) bsForAgent(agentID int) *BS {
	r.mu.RLock()
	bsID, ok := r.bsOf[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	bs, _ := r.GetBS(bsID)
	return bs
}

// DumpAllMACStatsJSON renders every BS's current MAC statistics as JSON,
// mirroring dump_all_mac_stats_to_json_string.
func (r *Rib) DumpAllMACStatsJSON() ([]byte, error) {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.bss))
	for id := range r.bss {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make(map[string]map[protocol.RNTI]protocol.UEMACStatsReport, len(ids))
	for _, id := range ids {
		bs, ok := r.GetBS(id)
		if !ok {
			continue
		}
		out[strconv.FormatUint(id, 10)] = bs.AllMACStats()
	}
	return json.MarshalIndent(out, "", "  ")
}

// DumpMACStatsByBSJSON renders a single BS's MAC statistics as JSON.
func (r *Rib) DumpMACStatsByBSJSON(bsID uint64) ([]byte, error) {
	bs, ok := r.GetBS(bsID)
	if !ok {
		return nil, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no such base station %d", bsID), "")
	}
	return json.MarshalIndent(bs.AllMACStats(), "", "  ")
}

// DumpAllEnbConfigurationsJSON renders every BS's cell configuration as
// JSON, mirroring dump_all_enb_configurations_to_json_string.
func (r *Rib) DumpAllEnbConfigurationsJSON() ([]byte, error) {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.bss))
	for id := range r.bss {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make(map[string][]protocol.CellConfig, len(ids))
	for _, id := range ids {
		bs, ok := r.GetBS(id)
		if !ok {
			continue
		}
		out[strconv.FormatUint(id, 10)] = bs.CellConfigs()
	}
	return json.MarshalIndent(out, "", "  ")
}

// DumpEnbConfigurationJSON renders one BS's cell configuration as JSON.
func (r *Rib) DumpEnbConfigurationJSON(bsID uint64) ([]byte, error) {
	bs, ok := r.GetBS(bsID)
	if !ok {
		return nil, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no such base station %d", bsID), "")
	}
	return json.MarshalIndent(bs.CellConfigs(), "", "  ")
}

// ParseRNTIOrIMSIString resolves a single ambiguous path-param UE
// reference on bsID, mirroring the original's parse_rnti_imsi: a string
// of fewer than 6 characters is an RNTI, accepted if bsID holds a UE
// config or MAC statistics for it; a longer string is an IMSI, resolved
// to its RNTI through bsID's UE configs.
func (r *Rib) ParseRNTIOrIMSIString(bsID uint64, s string) (protocol.RNTI, error) {
	bs, ok := r.GetBS(bsID)
	if !ok {
		return 0, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no such base station %d", bsID), "")
	}
	if len(s) < 6 {
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return 0, ctlerr.Wrap(ctlerr.KindParse, "rib", "invalid rnti", "", err)
		}
		rnti := protocol.RNTI(n)
		_, hasStats := bs.MACStats(rnti)
		if _, ok := bs.UEConfig(rnti); ok || hasStats {
			return rnti, nil
		}
		return 0, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no ue with rnti %s", s), "")
	}
	imsi, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ctlerr.Wrap(ctlerr.KindParse, "rib", "invalid rnti/imsi", "", err)
	}
	found, ok := bs.RNTIForIMSI(imsi)
	if !ok {
		return 0, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no ue with rnti or imsi %s", s), "")
	}
	return found, nil
}

// DumpUEMACStatsJSON renders a single UE's MAC statistics within bsID as
// JSON, mirroring the per-UE slice of dump_all_mac_stats_to_json_string.
func (r *Rib) DumpUEMACStatsJSON(bsID uint64, rnti protocol.RNTI) ([]byte, error) {
	bs, ok := r.GetBS(bsID)
	if !ok {
		return nil, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no such base station %d", bsID), "")
	}
	stats, ok := bs.MACStats(rnti)
	if !ok {
		return nil, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no such ue %d on base station %d", rnti, bsID), "")
	}
	return json.MarshalIndent(stats, "", "  ")
}

// DumpUEMACStatsByRNTIJSON searches every known BS for rnti and renders its
// MAC statistics as JSON, for callers that don't know which BS a UE is
// currently attached to.
func (r *Rib) DumpUEMACStatsByRNTIJSON(rnti protocol.RNTI) ([]byte, error) {
	for _, bsID := range r.GetAvailableBaseStations() {
		bs, ok := r.GetBS(bsID)
		if !ok {
			continue
		}
		if stats, ok := bs.MACStats(rnti); ok {
			return json.MarshalIndent(stats, "", "  ")
		}
	}
	return nil, ctlerr.New(ctlerr.KindNotFound, "rib", fmt.Sprintf("no such ue %d", rnti), "")
}

// DumpAllMACStatsText renders every BS's MAC statistics as a human-readable
// report, mirroring dump_all_mac_stats_to_string. Used by the secondary
// /stats_manager endpoint; the JSON form is primary.
func (r *Rib) DumpAllMACStatsText() string {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.bss))
	for id := range r.bss {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sb strings.Builder
	for _, id := range ids {
		bs, ok := r.GetBS(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "BS %d:\n", id)
		stats := bs.AllMACStats()
		rntis := make([]protocol.RNTI, 0, len(stats))
		for rnti := range stats {
			rntis = append(rntis, rnti)
		}
		sort.Slice(rntis, func(i, j int) bool { return rntis[i] < rntis[j] })
		for _, rnti := range rntis {
			s := stats[rnti]
			fmt.Fprintf(&sb, "  UE %d: phr=%d pdcp_tx=%d pdcp_rx=%d mac_tx=%d mac_rx=%d\n",
				rnti, s.PHR, s.PDCPBytesTX, s.PDCPBytesRX, s.MACBytesTX, s.MACBytesRX)
		}
	}
	return sb.String()
}
