package bandtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckBandwidthValidValues(t *testing.T) {
	for _, rb := range []int{6, 15, 25, 50, 75, 100} {
		assert.NoError(t, CheckBandwidth(rb))
	}
}

func TestCheckBandwidthRejectsUnknownValue(t *testing.T) {
	assert.Error(t, CheckBandwidth(20))
}

func TestCheckBandFDDWithinRange(t *testing.T) {
	err := CheckBand(1, 1950e6, 2140e6, 25, true)
	assert.NoError(t, err)
}

func TestCheckBandFDDOutsideRangeRejected(t *testing.T) {
	err := CheckBand(1, 100e6, 2140e6, 25, true)
	assert.Error(t, err)
}

func TestCheckBandTDDRequiresEqualFrequencies(t *testing.T) {
	err := CheckBand(38, 2600e6, 2601e6, 25, true)
	assert.Error(t, err)

	err = CheckBand(38, 2600e6, 2600e6, 25, true)
	assert.NoError(t, err)
}

func TestCheckBandUnknownBandRejected(t *testing.T) {
	assert.Error(t, CheckBand(999, 0, 0, 25, true))
}

func TestCheckBandSkipsRangeCheckWhenMatchNotRequired(t *testing.T) {
	assert.NoError(t, CheckBand(1, 0, 0, 25, false))
}

func TestIsTDD(t *testing.T) {
	assert.True(t, IsTDD(38))
	assert.True(t, IsTDD(40))
	assert.False(t, IsTDD(1))
	assert.False(t, IsTDD(999))
}
