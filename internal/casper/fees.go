package casper

// Default fee schedule in motes (1 CSPR = 1e9 motes).
const (
	DefaultBaseRate        = uint64(100_000_000) // 0.1 CSPR
	DefaultInstructionRate = uint64(10_000_000)  // 0.01 CSPR per instruction
)

// FeeSchedule prices a settlement deploy. The priority fee is a fixed 10% of
// the base rate.
type FeeSchedule struct {
	BaseRate        uint64 `json:"base_rate"`
	InstructionRate uint64 `json:"instruction_rate"`
}

// DefaultFeeSchedule matches the rates the facilitator has always advertised.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		BaseRate:        DefaultBaseRate,
		InstructionRate: DefaultInstructionRate,
	}
}

// FeeBreakdown itemizes an estimate.
type FeeBreakdown struct {
	BaseFee        uint64 `json:"base_fee"`
	InstructionFee uint64 `json:"instruction_fee"`
	PriorityFee    uint64 `json:"priority_fee"`
	TotalFee       uint64 `json:"total_fee"`
}

// Estimate prices a deploy with the given instruction count. A zero count is
// treated as a single instruction.
func (f FeeSchedule) Estimate(instructionCount uint64) FeeBreakdown {
	if instructionCount == 0 {
		instructionCount = 1
	}
	base := f.BaseRate
	instruction := instructionCount * f.InstructionRate
	priority := base / 10
	return FeeBreakdown{
		BaseFee:        base,
		InstructionFee: instruction,
		PriorityFee:    priority,
		TotalFee:       base + instruction + priority,
	}
}
