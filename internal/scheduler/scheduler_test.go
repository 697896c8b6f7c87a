package scheduler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexran/rtc/internal/core"
	"github.com/flexran/rtc/internal/network"
	"github.com/flexran/rtc/internal/protocol"
	"github.com/flexran/rtc/internal/rib"
)

func TestNewRejectsNegativeScheduleAhead(t *testing.T) {
	_, err := New(rib.New(0), nil, Config{ScheduleAhead: -1}, nil)
	assert.Error(t, err)
}

func TestNewFillsDefaults(t *testing.T) {
	s, err := New(rib.New(0), nil, Config{ScheduleAhead: 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, maxMCS, s.cfg.TargetDLMCS)
	assert.Equal(t, "round_robin", s.cfg.Algorithm)
}

func TestNewClampsOutOfRangeTargetDLMCS(t *testing.T) {
	s, err := New(rib.New(0), nil, Config{ScheduleAhead: 0, TargetDLMCS: 999}, nil)
	require.NoError(t, err)
	assert.Equal(t, maxMCS, s.cfg.TargetDLMCS)
}

func TestTargetFrameSubframeWrapsIntoNextFrame(t *testing.T) {
	frame, subframe := targetFrameSubframe(0, subframesPerFrame-1, 1)
	assert.Equal(t, uint8(0), subframe)
	assert.Equal(t, uint16(1), frame)
}

func TestTargetFrameSubframeWrapsFrameAtCycleEnd(t *testing.T) {
	frame, _ := targetFrameSubframe(framesPerCycle-1, subframesPerFrame-1, 1)
	assert.Equal(t, uint16(0), frame)
}

func TestTargetFrameSubframeAccountsForScheduleAhead(t *testing.T) {
	frame, subframe := targetFrameSubframe(0, 8, 4)
	assert.Equal(t, uint16(1), frame)
	assert.Equal(t, uint8(2), subframe)
}

func TestCqiToMCSClampsOutOfRange(t *testing.T) {
	assert.Equal(t, cqiToMCSTable[0], cqiToMCS(-5))
	assert.Equal(t, cqiToMCSTable[len(cqiToMCSTable)-1], cqiToMCS(999))
	assert.Equal(t, cqiToMCSTable[7], cqiToMCS(7))
}

func TestMinRBUnitForBoundaries(t *testing.T) {
	assert.Equal(t, 1, minRBUnitFor(6))
	assert.Equal(t, 1, minRBUnitFor(10))
	assert.Equal(t, 2, minRBUnitFor(11))
	assert.Equal(t, 2, minRBUnitFor(26))
	assert.Equal(t, 3, minRBUnitFor(27))
	assert.Equal(t, 3, minRBUnitFor(63))
	assert.Equal(t, 4, minRBUnitFor(100))
}

func TestTbsTableIsMonotoneInMCSAndRB(t *testing.T) {
	assert.Less(t, tbsTable(0, 4), tbsTable(1, 4))
	assert.Less(t, tbsTable(5, 4), tbsTable(5, 8))
}

func TestTbsTableClampsNegativeInputs(t *testing.T) {
	assert.Equal(t, tbsTable(0, 4), tbsTable(-1, 4))
	assert.Equal(t, 0, tbsTable(4, -1))
}

func TestAllocatePRBsSubFills25RBCellWithLastRBGCorrection(t *testing.T) {
	rbgUsed := make([]bool, 13) // 25 RBs / min_rb_unit 2 -> 13 RBGs
	bitmap := allocatePRBsSub(25, 25, 0, len(rbgUsed)-1, rbgUsed)
	assert.NotEmpty(t, bitmap)
	// the full cell must be representable: every RBG turned on.
	for _, b := range bitmap {
		assert.True(t, b)
	}
	assert.Equal(t, bitmap, rbgUsed, "claimed RBGs must be reflected in the shared cell-wide bitmap")
}

func TestAllocatePRBsSubPartialAllocationLeavesTrailingRBGsOff(t *testing.T) {
	rbgUsed := make([]bool, 13)
	bitmap := allocatePRBsSub(2, 25, 0, len(rbgUsed)-1, rbgUsed)
	assert.True(t, bitmap[0])
	assert.False(t, bitmap[len(bitmap)-1])
}

func TestAllocatePRBsSubNeverClaimsRBGOutsideItsWindow(t *testing.T) {
	rbgUsed := make([]bool, 13)
	bitmap := allocatePRBsSub(25, 25, 4, 8, rbgUsed)
	for i, b := range bitmap {
		if i < 4 || i > 8 {
			assert.False(t, b, "RBG %d is outside the slice window and must not be claimed", i)
		}
	}
}

func TestAllocatePRBsSubSkipsRBGsAlreadyClaimedThisRound(t *testing.T) {
	rbgUsed := make([]bool, 13)
	rbgUsed[0] = true
	bitmap := allocatePRBsSub(2, 25, 0, 12, rbgUsed)
	assert.False(t, bitmap[0], "RBG 0 was already claimed by another UE this round")
	assert.True(t, bitmap[1])
}

func TestBestWBCQIPicksMaximum(t *testing.T) {
	report := protocol.DLCQIReport{CSIReports: []protocol.CSIReport{{WBCQI: 3}, {WBCQI: 9}, {WBCQI: 5}}}
	assert.Equal(t, 9, bestWBCQI(report))
}

func TestBestWBCQIEmptyReportIsZero(t *testing.T) {
	assert.Equal(t, 0, bestWBCQI(protocol.DLCQIReport{}))
}

func TestPucchDbmReturnsDefaultWhenAbsent(t *testing.T) {
	assert.Equal(t, int16(-96), pucchDbm(protocol.ULCQIReport{}))
}

func TestPucchDbmReturnsFirstPresentValue(t *testing.T) {
	v := int16(-80)
	report := protocol.ULCQIReport{PUCCHDbm: []protocol.PUCCHDbm{{P0PUCCHDbm: nil}, {P0PUCCHDbm: &v}}}
	assert.Equal(t, v, pucchDbm(report))
}

func TestComputeTPCHoldsWhenNotDueYet(t *testing.T) {
	s, err := New(rib.New(0), nil, Config{}, nil)
	require.NoError(t, err)
	ue := &ueSchedState{lastTxFrame: 0, lastTxSubframe: 0}
	tpc := s.computeTPC(ue, protocol.UEMACStatsReport{}, -96, 0, 3)
	assert.Equal(t, 1, tpc)
}

func TestComputeTPCDueAfterTenSubframesElapsed(t *testing.T) {
	s, err := New(rib.New(0), nil, Config{}, nil)
	require.NoError(t, err)
	ue := &ueSchedState{lastTxFrame: 0, lastTxSubframe: 0}
	tpc := s.computeTPC(ue, protocol.UEMACStatsReport{}, -96, 1, 0)
	// due: with no PUCCH report the -96 dBm default is below the -86 target, so increment
	assert.Equal(t, 2, tpc)
}

func TestComputeTPCHandlesFrameWraparound(t *testing.T) {
	s, err := New(rib.New(0), nil, Config{}, nil)
	require.NoError(t, err)
	ue := &ueSchedState{lastTxFrame: framesPerCycle - 1, lastTxSubframe: 5}
	// 5 subframes from the very end of the cycle into frame 0 subframe 0:
	// true elapsed distance wrapping the cycle is only 5, not due yet.
	tpc := s.computeTPC(ue, protocol.UEMACStatsReport{}, -96, 0, 0)
	assert.Equal(t, 1, tpc)
}

func TestComputeTPCUsesLivePerCellP0NominalPUCCHNotAConstant(t *testing.T) {
	s, err := New(rib.New(0), nil, Config{}, nil)
	require.NoError(t, err)
	v := int16(-70)
	stats := protocol.UEMACStatsReport{ULCQIReport: protocol.ULCQIReport{PUCCHDbm: []protocol.PUCCHDbm{{P0PUCCHDbm: &v}}}}

	// -70 is well above (p0NominalPUCCH=-96)+10=-86+1, so a low
	// p0NominalPUCCH should trigger a decrement...
	ue := &ueSchedState{}
	tpc := s.computeTPC(ue, stats, -96, 1, 0)
	assert.Equal(t, 0, tpc)

	// ...while a high p0NominalPUCCH close to the reported power should not.
	ue2 := &ueSchedState{}
	tpc2 := s.computeTPC(ue2, stats, -79, 1, 0)
	assert.Equal(t, 1, tpc2)
}

func newLoopbackScheduler(t *testing.T, cfg Config) (*Scheduler, *rib.Rib, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	nm := network.NewManager(network.Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go nm.Serve(ctx, ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := nm.Poll(); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	r := rib.New(0)
	r.AttachAgent(1, 1, protocol.NewCapabilitySet(protocol.CapLoMAC))
	reqm := core.NewRequestsManager(r, nm)

	s, err := New(r, reqm, cfg, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		client.Close()
	})
	return s, r, client
}

func TestPeriodicTaskSkipsBSWithoutCompleteCapabilities(t *testing.T) {
	s, _, client := newLoopbackScheduler(t, Config{})
	s.PeriodicTask(1)

	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 64)
	_, err := client.Read(buf)
	assert.Error(t, err, "no DL MAC config should be pushed for an incomplete BS")
}

func TestPeriodicTaskPushesAllocationForUEWithPendingData(t *testing.T) {
	s, r, client := newLoopbackScheduler(t, Config{ScheduleAhead: 0})
	bs, ok := r.GetBS(1)
	require.True(t, ok)

	// force the base station complete by attaching all required planes.
	for _, cap := range []protocol.Capability{
		protocol.CapLoPHY, protocol.CapHiPHY, protocol.CapLoMAC, protocol.CapHiMAC,
		protocol.CapRLC, protocol.CapPDCP, protocol.CapSDAP, protocol.CapRRC,
	} {
		r.AttachAgent(1, 1, protocol.NewCapabilitySet(cap))
	}
	require.True(t, bs.IsComplete())

	r.UEConfigUpdate(1, protocol.UEConfig{RNTI: 7})
	r.MACStatsUpdate(1, 7, protocol.UEMACStatsReport{
		DLCQIReport: protocol.DLCQIReport{CSIReports: []protocol.CSIReport{{WBCQI: 10}}},
		RLCReports:  []protocol.RLCBSR{{LCID: 3, TxQueueSize: 5000}},
	})

	var msg protocol.Message
	// subframes 0 and 5 are deliberately skipped by the scheduler; loop
	// through a full frame of agent-reported positions until a
	// schedulable target subframe is hit.
	for i := 0; i < subframesPerFrame; i++ {
		r.UpdateSubframe(1, 0, uint8(i))
		s.PeriodicTask(uint64(i))
		client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		buf := make([]byte, 4096)
		n, err := client.Read(buf)
		if err == nil {
			decoded, _, derr := protocol.Decode(buf[:n])
			require.NoError(t, derr)
			msg = decoded
			break
		}
	}
	require.NotNil(t, msg, "expected a DLMACConfig push within one full frame")
	cfg, ok := msg.(*protocol.DLMACConfig)
	require.True(t, ok)
	require.Len(t, cfg.DLUEData, 1)
	assert.Equal(t, protocol.RNTI(7), cfg.DLUEData[0].RNTI)
}

func TestScheduleCellNeverAllocatesRBGOutsideUEsSlice(t *testing.T) {
	s, r, client := newLoopbackScheduler(t, Config{ScheduleAhead: 0})
	bs, ok := r.GetBS(1)
	require.True(t, ok)
	for _, cap := range []protocol.Capability{
		protocol.CapLoPHY, protocol.CapHiPHY, protocol.CapLoMAC, protocol.CapHiMAC,
		protocol.CapRLC, protocol.CapPDCP, protocol.CapSDAP, protocol.CapRRC,
	} {
		r.AttachAgent(1, 1, protocol.NewCapabilitySet(cap))
	}
	require.True(t, bs.IsComplete())
	bs.setCellConfigs([]protocol.CellConfig{{CellID: 1, DLBandwidth: 25}})

	// Slice 1 owns only RBGs 8..12 of the 13-RBG, 25-RB cell; RBGs 0..7
	// belong to other slices and must never be touched by this UE.
	low, high := 8, 12
	bs.SetSliceConfig(protocol.SliceConfig{
		DL: protocol.SliceDirConfig{
			Algorithm: protocol.SliceAlgorithmStatic,
			Slices: []protocol.Slice{
				{ID: 1, Static: &protocol.StaticSliceParams{PosLow: &low, PosHigh: &high}},
			},
		},
	})
	sliceID := 1
	r.UEConfigUpdate(1, protocol.UEConfig{RNTI: 7, DLSliceID: &sliceID})
	r.MACStatsUpdate(1, 7, protocol.UEMACStatsReport{
		DLCQIReport: protocol.DLCQIReport{CSIReports: []protocol.CSIReport{{WBCQI: 15}}},
		RLCReports:  []protocol.RLCBSR{{LCID: 3, TxQueueSize: 50000}},
	})

	var msg protocol.Message
	for i := 0; i < subframesPerFrame; i++ {
		r.UpdateSubframe(1, 0, uint8(i))
		s.PeriodicTask(uint64(i))
		client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		buf := make([]byte, 4096)
		n, err := client.Read(buf)
		if err == nil {
			decoded, _, derr := protocol.Decode(buf[:n])
			require.NoError(t, derr)
			msg = decoded
			break
		}
	}
	require.NotNil(t, msg, "expected a DLMACConfig push within one full frame")
	cfg, ok := msg.(*protocol.DLMACConfig)
	require.True(t, ok)
	require.Len(t, cfg.DLUEData, 1)
	for i, on := range cfg.DLUEData[0].RBBitmap {
		if i < low || i > high {
			assert.False(t, on, "RBG %d is outside slice 1's window and must not be allocated", i)
		}
	}
}
