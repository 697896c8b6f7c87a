package rib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexran/rtc/internal/protocol"
)

func TestCapabilitiesMergesAcrossAgents(t *testing.T) {
	bs := newBS(1)
	bs.addAgent(&Agent{ID: 1, Capabilities: protocol.NewCapabilitySet(protocol.CapLoPHY, protocol.CapHiPHY)})
	bs.addAgent(&Agent{ID: 2, Capabilities: protocol.NewCapabilitySet(protocol.CapLoMAC, protocol.CapHiMAC)})

	merged := bs.Capabilities()
	assert.True(t, merged.Has(protocol.CapLoPHY))
	assert.True(t, merged.Has(protocol.CapHiMAC))
	assert.False(t, merged.Has(protocol.CapRRC))
	assert.False(t, bs.IsComplete())
}

func TestIsCompleteWhenAllPlanesCovered(t *testing.T) {
	bs := newBS(1)
	bs.addAgent(&Agent{ID: 1, Capabilities: protocol.NewCapabilitySet(
		protocol.CapLoPHY, protocol.CapHiPHY, protocol.CapLoMAC, protocol.CapHiMAC,
		protocol.CapRLC, protocol.CapPDCP, protocol.CapSDAP, protocol.CapRRC,
	)})
	assert.True(t, bs.IsComplete())
}

func TestAgentWithCapabilityTiebreaksLowestID(t *testing.T) {
	bs := newBS(1)
	bs.addAgent(&Agent{ID: 5, Capabilities: protocol.NewCapabilitySet(protocol.CapHiMAC)})
	bs.addAgent(&Agent{ID: 2, Capabilities: protocol.NewCapabilitySet(protocol.CapHiMAC)})

	a, ok := bs.AgentWithCapability(protocol.CapHiMAC)
	require.True(t, ok)
	assert.Equal(t, 2, a.ID)
}

func TestAgentWithCapabilityNotFound(t *testing.T) {
	bs := newBS(1)
	bs.addAgent(&Agent{ID: 1, Capabilities: protocol.NewCapabilitySet(protocol.CapLoPHY)})
	_, ok := bs.AgentWithCapability(protocol.CapRRC)
	assert.False(t, ok)
}

func TestAddRemoveAgentUpdatesCount(t *testing.T) {
	bs := newBS(1)
	bs.addAgent(&Agent{ID: 1})
	bs.addAgent(&Agent{ID: 2})
	assert.Equal(t, 2, bs.agentCount())
	bs.removeAgent(1)
	assert.Equal(t, 1, bs.agentCount())
	assert.Equal(t, []int{2}, bs.AgentIDs())
}

func TestUEConfigRoundTrip(t *testing.T) {
	bs := newBS(1)
	imsi := uint64(123456789)
	cfg := protocol.UEConfig{RNTI: 10, IMSI: &imsi}
	bs.setUEConfig(cfg)

	got, ok := bs.UEConfig(10)
	require.True(t, ok)
	assert.Equal(t, cfg, got)

	rnti, ok := bs.RNTIForIMSI(imsi)
	require.True(t, ok)
	assert.Equal(t, protocol.RNTI(10), rnti)

	bs.removeUE(10)
	_, ok = bs.UEConfig(10)
	assert.False(t, ok)
}

func TestUpdateUEConfigNoPushUpdatesLocalView(t *testing.T) {
	bs := newBS(1)
	bs.UpdateUEConfigNoPush(protocol.UEConfig{RNTI: 7})
	got, ok := bs.UEConfig(7)
	require.True(t, ok)
	assert.Equal(t, protocol.RNTI(7), got.RNTI)
}

func TestSliceConfigDefaultsToAbsent(t *testing.T) {
	bs := newBS(1)
	_, ok := bs.SliceConfig()
	assert.False(t, ok)

	cfg := protocol.SliceConfig{}
	bs.SetSliceConfig(cfg)
	got, ok := bs.SliceConfig()
	require.True(t, ok)
	assert.Equal(t, cfg, got)
}

func TestCellConfigsIsACopy(t *testing.T) {
	bs := newBS(1)
	bs.setCellConfigs([]protocol.CellConfig{{CellID: 1}})
	out := bs.CellConfigs()
	out[0] = protocol.CellConfig{CellID: 2, PhyCellID: intPtr(5)}
	again := bs.CellConfigs()
	assert.Equal(t, 1, again[0].CellID)
	assert.Nil(t, again[0].PhyCellID)
}

func intPtr(v int) *int { return &v }

func TestMACStatsAndCellStats(t *testing.T) {
	bs := newBS(1)
	bs.setMACStats(3, protocol.UEMACStatsReport{PHR: 10})
	s, ok := bs.MACStats(3)
	require.True(t, ok)
	assert.Equal(t, 10, s.PHR)
	assert.Len(t, bs.AllMACStats(), 1)

	bs.setCellStats([]protocol.CellStatsReport{{}})
	assert.Len(t, bs.CellStats(), 1)
}

func TestSubframeDefaultsToZeroAndTracksLatestReport(t *testing.T) {
	bs := newBS(1)
	assert.Equal(t, uint16(0), bs.CurrentFrame())
	assert.Equal(t, uint8(0), bs.CurrentSubframe())

	bs.setSubframe(42, 7)
	assert.Equal(t, uint16(42), bs.CurrentFrame())
	assert.Equal(t, uint8(7), bs.CurrentSubframe())

	bs.setSubframe(43, 0)
	assert.Equal(t, uint16(43), bs.CurrentFrame())
	assert.Equal(t, uint8(0), bs.CurrentSubframe())
}
