// Package bandtab implements the E-UTRA band and channel-bandwidth
// admission checks used when validating a cell reconfiguration request
// (spec.md §4.8), grounded on rrm_management.cc's
// check_eutra_band/check_eutra_bandwidth and the band plan in 3GPP
// TS 36.101 Table 5.5-1.
package bandtab

import "fmt"

// bandRange is one E-UTRA band's UL/DL duplex frequency ranges, in Hz.
type bandRange struct {
	band               int
	ulLow, ulHigh      float64
	dlLow, dlHigh      float64
	fdd                bool // false = TDD (UL and DL ranges coincide)
}

// bandPlan covers the bands most commonly exercised by the reference
// deployments this controller targets; it is not the full 3GPP table.
var bandPlan = []bandRange{
	{band: 1, ulLow: 1920e6, ulHigh: 1980e6, dlLow: 2110e6, dlHigh: 2170e6, fdd: true},
	{band: 3, ulLow: 1710e6, ulHigh: 1785e6, dlLow: 1805e6, dlHigh: 1880e6, fdd: true},
	{band: 5, ulLow: 824e6, ulHigh: 849e6, dlLow: 869e6, dlHigh: 894e6, fdd: true},
	{band: 7, ulLow: 2500e6, ulHigh: 2570e6, dlLow: 2620e6, dlHigh: 2690e6, fdd: true},
	{band: 8, ulLow: 880e6, ulHigh: 915e6, dlLow: 925e6, dlHigh: 960e6, fdd: true},
	{band: 20, ulLow: 832e6, ulHigh: 862e6, dlLow: 791e6, dlHigh: 821e6, fdd: true},
	{band: 28, ulLow: 703e6, ulHigh: 748e6, dlLow: 758e6, dlHigh: 803e6, fdd: true},
	{band: 38, ulLow: 2570e6, ulHigh: 2620e6, dlLow: 2570e6, dlHigh: 2620e6, fdd: false},
	{band: 40, ulLow: 2300e6, ulHigh: 2400e6, dlLow: 2300e6, dlHigh: 2400e6, fdd: false},
	{band: 41, ulLow: 2496e6, ulHigh: 2690e6, dlLow: 2496e6, dlHigh: 2690e6, fdd: false},
	{band: 42, ulLow: 3400e6, ulHigh: 3600e6, dlLow: 3400e6, dlHigh: 3600e6, fdd: false},
	{band: 43, ulLow: 3600e6, ulHigh: 3800e6, dlLow: 3600e6, dlHigh: 3800e6, fdd: false},
}

// validBandwidths are the channel bandwidths E-UTRA defines, in resource
// blocks.
var validBandwidths = map[int]bool{6: true, 15: true, 25: true, 50: true, 75: true, 100: true}

// CheckBandwidth reports whether rb is a valid E-UTRA channel bandwidth
// (in resource blocks), mirroring check_eutra_bandwidth.
func CheckBandwidth(rb int) error {
	if !validBandwidths[rb] {
		return fmt.Errorf("bandwidth %d RBs is not a valid E-UTRA channel bandwidth", rb)
	}
	return nil
}

// CheckBand reports whether band, at the given UL/DL carrier frequencies
// (Hz) and bandwidth (RBs), is a consistent E-UTRA band assignment,
// mirroring check_eutra_band. requireMatch additionally requires the
// frequencies to actually fall within the named band's plan, as the
// original does for a cell-restart reconfiguration (as opposed to a
// purely informational query).
func CheckBand(band int, ulFreqHz, dlFreqHz float64, bandwidthRB int, requireMatch bool) error {
	if err := CheckBandwidth(bandwidthRB); err != nil {
		return err
	}
	var found *bandRange
	for i := range bandPlan {
		if bandPlan[i].band == band {
			found = &bandPlan[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("E-UTRA band %d is not recognized", band)
	}
	if !requireMatch {
		return nil
	}
	if !found.fdd && ulFreqHz != dlFreqHz {
		return fmt.Errorf("band %d is TDD, but distinct UL/DL frequencies were given", band)
	}
	if ulFreqHz < found.ulLow || ulFreqHz > found.ulHigh {
		return fmt.Errorf("UL frequency %.0fHz is outside band %d's UL range [%.0f, %.0f]", ulFreqHz, band, found.ulLow, found.ulHigh)
	}
	if dlFreqHz < found.dlLow || dlFreqHz > found.dlHigh {
		return fmt.Errorf("DL frequency %.0fHz is outside band %d's DL range [%.0f, %.0f]", dlFreqHz, band, found.dlLow, found.dlHigh)
	}
	return nil
}

// IsTDD reports whether band is a TDD band, for callers that need to
// decide whether equal UL/DL frequencies are required rather than merely
// permitted.
func IsTDD(band int) bool {
	for _, b := range bandPlan {
		if b.band == band {
			return !b.fdd
		}
	}
	return false
}
