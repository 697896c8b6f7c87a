// Package scheduler implements the remote MAC scheduler application
// (spec.md C9): for every base station with complete capability coverage,
// it computes a downlink scheduling decision for a target subframe ahead
// of the current one, and pushes it as a DLMACConfig message.
//
// Grounded on remote_scheduler.cc from the original controller: frame/
// subframe targeting arithmetic, the HARQ retransmission vs. new-
// transmission split, MCS/TBS adjustment, PUCCH TPC power control with
// frame-wraparound comparison, and the RBG-boundary minimum-RB-unit
// correction are all ported with their original semantics.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/flexran/rtc/internal/core"
	"github.com/flexran/rtc/internal/protocol"
	"github.com/flexran/rtc/internal/rib"
)

const (
	framesPerCycle    = 1024
	subframesPerFrame = 10
	sfnCycleLength    = framesPerCycle * subframesPerFrame
	maxMCS            = 28
	taTimerReset      = 20
	minStaticRBG      = 4
)

// Config parameterizes one Scheduler instance.
type Config struct {
	// ScheduleAhead is how many subframes ahead of "now" the scheduler
	// targets, mirroring the original's schedule_ahead. Must be >= 0: the
	// target-subframe arithmetic ((current+ahead) % 10) is undefined for
	// negative values, so a negative ScheduleAhead is a construction-time
	// error rather than a runtime one.
	ScheduleAhead int

	// Algorithm records the name of a resource-allocation strategy
	// ("round_robin" when empty). The scheduler does not read it: every
	// round hands out RBGs by slice priority, then by ascending RNTI.
	Algorithm string

	// TargetDLMCS caps the MCS a new transmission may use.
	TargetDLMCS int
}

// harqProcess tracks the HARQ state the scheduler needs per UE per HARQ process:
// the original keeps this inside enb_scheduling_info, grouped per base
// station, reset whenever a BS is removed from the RIB.
type harqProcess struct {
	status  protocol.HARQStatus
	mcs     int
	nbRB    int
	ndi     bool
	rvIdx   int
}

// ueSchedState is the scheduler's private per-UE bookkeeping that the RIB
// does not track: TA timer, last scheduled frame/subframe, PUCCH TPC
// accumulator inputs.
type ueSchedState struct {
	taTimer         int
	pendingTAUpdate bool
	lastTxFrame     uint16
	lastTxSubframe  uint8
	harq            map[int]*harqProcess // keyed by HARQ process id
	tpcAccumulated  int32
}

// cellSchedState is per-(BS) scheduler state: last checked frame/subframe
// and each UE's private state.
type cellSchedState struct {
	lastCheckedFrame    uint16
	lastCheckedSubframe uint8
	ues                 map[protocol.RNTI]*ueSchedState
}

// Scheduler is the remote MAC scheduler app, registered with the
// TaskManager as a periodic Component.
type Scheduler struct {
	rib  *rib.Rib
	reqm *core.RequestsManager
	log  *slog.Logger
	cfg  Config

	state map[uint64]*cellSchedState
}

// New builds a Scheduler. Returns an error if cfg.ScheduleAhead < 0.
func New(r *rib.Rib, reqm *core.RequestsManager, cfg Config, log *slog.Logger) (*Scheduler, error) {
	if cfg.ScheduleAhead < 0 {
		return nil, fmt.Errorf("scheduler: schedule_ahead must be >= 0, got %d", cfg.ScheduleAhead)
	}
	if cfg.TargetDLMCS <= 0 || cfg.TargetDLMCS > maxMCS {
		cfg.TargetDLMCS = maxMCS
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "round_robin"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		rib:   r,
		reqm:  reqm,
		log:   log,
		cfg:   cfg,
		state: make(map[uint64]*cellSchedState),
	}, nil
}

// PeriodicTask implements core.Component: once per tick it runs the
// scheduling round for every complete BS, targeting a subframe ahead of
// that BS's own most recently agent-reported frame/subframe position
// (spec.md §4.9's current_frame/current_subframe, tracked per BS in the
// RIB rather than by a scheduler-global clock, since each BS's agents
// trigger subframes independently).
func (s *Scheduler) PeriodicTask(tickCount uint64) {
	for _, bsID := range s.rib.GetAvailableBaseStations() {
		bs, ok := s.rib.GetBS(bsID)
		if !ok || !bs.IsComplete() {
			continue
		}
		s.scheduleCell(bsID, bs)
	}
}

// targetFrameSubframe computes the subframe a scheduling round targets,
// mirroring the original's
// target_subframe = (current_subframe + schedule_ahead) % 10 with the
// frame advanced by the integer number of full frames schedule_ahead
// spans.
func targetFrameSubframe(currentFrame uint16, currentSubframe uint8, scheduleAhead int) (uint16, uint8) {
	total := int(currentSubframe) + scheduleAhead
	targetSubframe := uint8(total % subframesPerFrame)
	additionalFrames := total / subframesPerFrame
	targetFrame := (currentFrame + uint16(additionalFrames)) % framesPerCycle
	return targetFrame, targetSubframe
}

func (s *Scheduler) cellState(bsID uint64) *cellSchedState {
	cs, ok := s.state[bsID]
	if !ok {
		cs = &cellSchedState{ues: make(map[protocol.RNTI]*ueSchedState)}
		s.state[bsID] = cs
	}
	return cs
}

func (s *Scheduler) scheduleCell(bsID uint64, bs *rib.BS) {
	targetFrame, targetSubframe := targetFrameSubframe(bs.CurrentFrame(), bs.CurrentSubframe(), s.cfg.ScheduleAhead)

	// The original skips subframes 0 and 5: these carry PSS/SSS/PBCH and
	// MIB/SIB1 overhead that leaves no room for a DL-SCH allocation in
	// the reference numerology this scheduler targets.
	if targetSubframe == 0 || targetSubframe == 5 {
		return
	}

	cs := s.cellState(bsID)
	if cs.lastCheckedFrame == targetFrame && cs.lastCheckedSubframe == targetSubframe {
		return
	}
	cs.lastCheckedFrame = targetFrame
	cs.lastCheckedSubframe = targetSubframe

	cellConfigs := bs.CellConfigs()
	dlBandwidth := 25
	if len(cellConfigs) > 0 && cellConfigs[0].DLBandwidth > 0 {
		dlBandwidth = cellConfigs[0].DLBandwidth
	}
	minRBUnit := minRBUnitFor(dlBandwidth)
	numRBGs := (dlBandwidth + minRBUnit - 1) / minRBUnit

	sliceConfig, _ := bs.SliceConfig()
	windows := dlSliceWindows(sliceConfig, numRBGs)
	p0NominalPUCCH := cellP0NominalPUCCH(bs)

	rntis := bs.UERNTIs()
	sliceOf := make(map[protocol.RNTI]int, len(rntis))
	uesPerSlice := make(map[int]int, len(rntis))
	for _, rnti := range rntis {
		sliceID := 0
		if cfg, ok := bs.UEConfig(rnti); ok && cfg.DLSliceID != nil {
			sliceID = *cfg.DLSliceID
		}
		sliceOf[rnti] = sliceID
		uesPerSlice[sliceID]++
	}

	// Higher-priority slices get first claim on the round's shared RBG
	// pool; ties are broken by RNTI so allocation order is deterministic.
	sort.Slice(rntis, func(i, j int) bool {
		pi, pj := windows[sliceOf[rntis[i]]].priority, windows[sliceOf[rntis[j]]].priority
		if pi != pj {
			return pi > pj
		}
		return rntis[i] < rntis[j]
	})

	rbgUsed := make([]bool, numRBGs)

	var allocations []protocol.DLUEData
	for _, rnti := range rntis {
		stats, ok := bs.MACStats(rnti)
		if !ok {
			continue
		}

		sliceID := sliceOf[rnti]
		win, restricted := windows[sliceID]
		low, high := 0, numRBGs-1
		if restricted {
			low, high = win.low, win.high
		}

		maxRB := availableRBInRange(rbgUsed, low, high, minRBUnit)
		if restricted && win.accounting == protocol.AccountingFair && uesPerSlice[sliceID] > 0 {
			if fairShare := maxRB / uesPerSlice[sliceID]; fairShare < maxRB {
				maxRB = fairShare
			}
		}

		ue := s.ueState(cs, rnti)
		alloc, ok := s.scheduleUE(rnti, stats, ue, maxRB, dlBandwidth, low, high, rbgUsed, p0NominalPUCCH, targetFrame, targetSubframe)
		if !ok {
			continue
		}
		if restricted {
			uesPerSlice[sliceID]--
		}
		allocations = append(allocations, alloc)
		ue.lastTxFrame = targetFrame
		ue.lastTxSubframe = targetSubframe
	}

	if len(allocations) == 0 {
		return
	}

	sfnsf := targetFrame*subframesPerFrame + uint16(targetSubframe)
	msg := &protocol.DLMACConfig{
		Txn:      protocol.NewTxnID(),
		SFNSF:    sfnsf,
		DLUEData: allocations,
	}
	if err := s.reqm.SendToCapableAgent(bsID, protocol.CapLoMAC, msg); err != nil {
		s.log.Warn("failed to push dl mac config", "bs_id", bsID, "error", err)
	}
}

// sliceWindow is a Static slice's RBG range plus the priority/accounting
// hints the DL preprocessor applies when more than one UE contends for
// it in the same round.
type sliceWindow struct {
	low, high  int // RBG indices, inclusive
	priority   int
	accounting protocol.AccountingPolicy
}

// dlSliceWindows builds the DL slice-ID -> RBG-window map from a BS's
// current slice configuration. Isolation is only meaningful for a fixed
// RBG partition, so a cell not running the Static algorithm, or a slice
// without Static parameters, gets no window: UEs pinned to it schedule
// against the whole cell.
func dlSliceWindows(cfg protocol.SliceConfig, numRBGs int) map[int]sliceWindow {
	windows := make(map[int]sliceWindow)
	if cfg.DL.Algorithm != protocol.SliceAlgorithmStatic {
		return windows
	}
	for _, sl := range cfg.DL.Slices {
		if sl.Static == nil || sl.Static.PosLow == nil || sl.Static.PosHigh == nil {
			continue
		}
		low, high := *sl.Static.PosLow, *sl.Static.PosHigh
		if low < 0 {
			low = 0
		}
		if high >= numRBGs {
			high = numRBGs - 1
		}
		windows[sl.ID] = sliceWindow{low: low, high: high, priority: sl.Priority, accounting: sl.Accounting}
	}
	return windows
}

// availableRBInRange returns how many RBs are still free across RBGs
// low..high of rbgUsed, in units of minRBUnit per unclaimed RBG.
func availableRBInRange(rbgUsed []bool, low, high, minRBUnit int) int {
	free := 0
	for i := low; i <= high && i < len(rbgUsed); i++ {
		if !rbgUsed[i] {
			free++
		}
	}
	return free * minRBUnit
}

// cellP0NominalPUCCH returns the PUCCH power-control reference level the
// agent most recently reported for bs's cell (single-cell-per-BS, so the
// first report applies), falling back to the original's -96 dBm default
// when no cell stats have arrived yet.
func cellP0NominalPUCCH(bs *rib.BS) int16 {
	stats := bs.CellStats()
	if len(stats) == 0 {
		return -96
	}
	return stats[0].NoiseInterReport.P0NominalPUCCH
}

func (s *Scheduler) ueState(cs *cellSchedState, rnti protocol.RNTI) *ueSchedState {
	u, ok := cs.ues[rnti]
	if !ok {
		u = &ueSchedState{harq: make(map[int]*harqProcess)}
		cs.ues[rnti] = u
	}
	return u
}

// scheduleUE computes the scheduling decision for one UE in the target
// subframe, mirroring remote_scheduler.cc's per-UE loop body. low/high
// restrict the RBGs this UE may draw from to its assigned slice's window
// (or the whole cell, for an unrestricted slice), and rbgUsed is the
// cell-wide RBG claim bitmap shared across every UE scheduled this round.
func (s *Scheduler) scheduleUE(
	rnti protocol.RNTI,
	stats protocol.UEMACStatsReport,
	ue *ueSchedState,
	nbAvailableRB int,
	dlBandwidth int,
	low, high int,
	rbgUsed []bool,
	p0NominalPUCCH int16,
	targetFrame uint16,
	targetSubframe uint8,
) (protocol.DLUEData, bool) {
	harqPID := targetSubframe % 8
	h, hasHARQ := ue.harq[int(harqPID)]
	if !hasHARQ {
		h = &harqProcess{status: protocol.HARQStatusACK}
		ue.harq[int(harqPID)] = h
	}

	mcs := cqiToMCS(bestWBCQI(stats.DLCQIReport))
	if mcs > s.cfg.TargetDLMCS {
		mcs = s.cfg.TargetDLMCS
	}

	var data protocol.DLUEData

	if h.status == protocol.HARQStatusNACK {
		// Retransmission: reuse the previous MCS/RB allocation verbatim.
		dciTBS := tbsTable(h.mcs, h.nbRB)
		if h.nbRB > nbAvailableRB {
			return protocol.DLUEData{}, false
		}
		bitmap := allocatePRBsSub(h.nbRB, dlBandwidth, low, high, rbgUsed)
		data = protocol.DLUEData{
			RNTI: rnti, MCS: h.mcs, NbRB: h.nbRB, RBBitmap: bitmap,
			NDI: h.ndi, HARQPID: int(harqPID), RVIdx: (h.rvIdx + 1) % 4, RLCPDUSize: dciTBS,
		}
	} else {
		taLen := 0
		if ue.taTimer <= 0 {
			ue.taTimer = taTimerReset
			if ue.pendingTAUpdate {
				taLen = 2
			}
		} else {
			ue.taTimer--
		}

		headerLen := 0
		dataToRequest := 0
		for range stats.RLCReports {
			headerLen += 3
		}
		dciTBSBudget := tbsTable(mcs, minRBUnitFor(dlBandwidth))
		remaining := dciTBSBudget - taLen - headerLen
		if headerLen < 128 {
			remaining += 128 - headerLen
		}
		for _, r := range stats.RLCReports {
			want := r.TxQueueSize
			if want > remaining {
				want = remaining
			}
			if want < 0 {
				want = 0
			}
			dataToRequest += want
			remaining -= want
			if remaining <= 0 {
				break
			}
		}
		if dataToRequest <= 0 {
			return protocol.DLUEData{}, false
		}

		nbRB := minStaticRBG
		if mcs == 0 {
			nbRB = 4
		} else {
			nbRB = minRBUnitFor(dlBandwidth)
		}
		for nbRB < nbAvailableRB && tbsTable(mcs, nbRB) < dataToRequest {
			nbRB *= 2
			if nbRB > nbAvailableRB {
				nbRB = nbAvailableRB
			}
		}
		if nbRB > nbAvailableRB {
			return protocol.DLUEData{}, false
		}

		required := dataToRequest
		mcsTmp := mcs
		for mcsTmp > 0 && tbsTable(mcsTmp, nbRB) > required {
			mcsTmp--
		}
		for mcsTmp < maxMCS-1 && mcsTmp < s.cfg.TargetDLMCS && tbsTable(mcsTmp, nbRB) < required {
			mcsTmp++
		}
		mcs = mcsTmp

		bitmap := allocatePRBsSub(nbRB, dlBandwidth, low, high, rbgUsed)
		h.status = protocol.HARQStatusACK
		h.mcs = mcs
		h.nbRB = nbRB
		h.ndi = !h.ndi
		h.rvIdx = 0

		data = protocol.DLUEData{
			RNTI: rnti, MCS: mcs, NbRB: nbRB, RBBitmap: bitmap,
			NDI: h.ndi, HARQPID: int(harqPID), RVIdx: 0, RLCPDUSize: dataToRequest,
		}
	}

	data.TPC = s.computeTPC(ue, stats, p0NominalPUCCH, targetFrame, targetSubframe)
	return data, true
}

// computeTPC implements the PUCCH TPC update, including the original's
// exact frame-wraparound gating: a TPC command is only due once at least
// 10 subframes have elapsed since the UE's last transmission, where
// "elapsed" must account for the frame counter wrapping at 1024*10.
// p0NominalPUCCH is the cell's live per-cell RF reference level (from the
// agent's CellStatsReport), not a fixed constant.
func (s *Scheduler) computeTPC(ue *ueSchedState, stats protocol.UEMACStatsReport, p0NominalPUCCH int16, targetFrame uint16, targetSubframe uint8) int {
	lastX10 := int(ue.lastTxFrame)*subframesPerFrame + int(ue.lastTxSubframe)
	targetX10 := int(targetFrame)*subframesPerFrame + int(targetSubframe)

	due := false
	if lastX10+10 <= targetX10 {
		due = true
	} else if lastX10 > targetX10 && (sfnCycleLength-lastX10+targetX10) >= 10 {
		due = true
	}
	if !due {
		return 1 // hold
	}

	normalizedRxPower := pucchDbm(stats.ULCQIReport)
	targetRxPower := p0NominalPUCCH + 10

	switch {
	case normalizedRxPower > targetRxPower+1:
		ue.tpcAccumulated--
		return 0 // decrement
	case normalizedRxPower < targetRxPower-1:
		ue.tpcAccumulated++
		return 2 // increment
	default:
		return 1 // hold
	}
}

func bestWBCQI(report protocol.DLCQIReport) int {
	best := 0
	for _, r := range report.CSIReports {
		if r.WBCQI > best {
			best = r.WBCQI
		}
	}
	return best
}

func pucchDbm(report protocol.ULCQIReport) int16 {
	for _, p := range report.PUCCHDbm {
		if p.P0PUCCHDbm != nil {
			return *p.P0PUCCHDbm
		}
	}
	return -96
}

// cqiToMCS maps a wideband CQI report to an MCS index, following the
// original's rib::cqi_to_mcs lookup table (a simplified, monotone
// mapping: more sophisticated tables layer link-adaptation margins on
// top of this baseline).
var cqiToMCSTable = [16]int{0, 0, 0, 1, 3, 5, 7, 9, 11, 13, 15, 17, 19, 21, 23, 26}

func cqiToMCS(cqi int) int {
	if cqi < 0 {
		cqi = 0
	}
	if cqi >= len(cqiToMCSTable) {
		cqi = len(cqiToMCSTable) - 1
	}
	return cqiToMCSTable[cqi]
}

// minRBUnitFor returns the minimum RBG size (in RBs) for a given channel
// bandwidth, per 3GPP TS 36.213 Table 7.1.6.1-1.
func minRBUnitFor(dlBandwidth int) int {
	switch {
	case dlBandwidth <= 10:
		return 1
	case dlBandwidth <= 26:
		return 2
	case dlBandwidth <= 63:
		return 3
	default:
		return 4
	}
}

// tbsTable is a simplified, monotone transport-block-size estimate
// standing in for the full 3GPP TS 36.213 Table 7.1.7.2.1-1: it is not the
// exact standard table, but preserves the property the scheduler's MCS
// adjustment loops depend on (TBS strictly increasing in both MCS and
// nbRB), which is all their convergence relies on.
func tbsTable(mcs, nbRB int) int {
	if mcs < 0 {
		mcs = 0
	}
	if nbRB < 0 {
		nbRB = 0
	}
	return (mcs + 1) * nbRB * 24
}

// allocatePRBsSub builds a cell-wide per-RBG allocation bitmap covering
// nbRB resource blocks, restricted to RBGs low..high (a UE's slice
// window, or the whole cell when unrestricted) and skipping any RBG
// already claimed in rbgUsed by another UE scheduled earlier this round.
// Claimed RBGs are marked in rbgUsed so later UEs in the same round never
// overlap them. Applies the original's RBG-boundary correction: for 25
// and 50 RB cells, the last RBG is narrower than min_rb_unit, so when the
// walk reaches it the remaining RB count to consume is reduced by
// (min_rb_unit - 1) instead of min_rb_unit to avoid overrunning the
// cell's actual RB count.
func allocatePRBsSub(nbRB, dlBandwidth, low, high int, rbgUsed []bool) []bool {
	minRBUnit := minRBUnitFor(dlBandwidth)
	numRBGs := len(rbgUsed)
	bitmap := make([]bool, numRBGs)

	if high >= numRBGs {
		high = numRBGs - 1
	}

	remaining := nbRB
	for i := low; i <= high && remaining > 0; i++ {
		if rbgUsed[i] {
			continue
		}
		bitmap[i] = true
		rbgUsed[i] = true
		step := minRBUnit
		isLastRBG := i == numRBGs-1
		if isLastRBG && (dlBandwidth == 25 || dlBandwidth == 50) {
			step = minRBUnit - 1
		}
		remaining -= step
	}
	return bitmap
}
