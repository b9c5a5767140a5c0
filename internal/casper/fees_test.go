package casper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeeSchedule_Estimate(t *testing.T) {
	fees := DefaultFeeSchedule()

	breakdown := fees.Estimate(5)
	assert.Equal(t, uint64(100_000_000), breakdown.BaseFee)
	assert.Equal(t, uint64(50_000_000), breakdown.InstructionFee)
	assert.Equal(t, uint64(10_000_000), breakdown.PriorityFee)
	assert.Equal(t, uint64(160_000_000), breakdown.TotalFee)
}

func TestFeeSchedule_ZeroInstructionsCountsAsOne(t *testing.T) {
	fees := DefaultFeeSchedule()
	assert.Equal(t, fees.Estimate(1), fees.Estimate(0))
}

func TestFeeSchedule_CustomRates(t *testing.T) {
	fees := FeeSchedule{BaseRate: 1000, InstructionRate: 10}

	breakdown := fees.Estimate(3)
	assert.Equal(t, uint64(1000), breakdown.BaseFee)
	assert.Equal(t, uint64(30), breakdown.InstructionFee)
	assert.Equal(t, uint64(100), breakdown.PriorityFee)
	assert.Equal(t, uint64(1130), breakdown.TotalFee)
}
