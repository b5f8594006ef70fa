package orders

// Status is the relational order status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// SettlementState tracks one settlement attempt. There is no resumable
// intermediate state: any failure before Submitted aborts with no on-chain
// side effects, and MinedFailed is terminal.
type SettlementState string

const (
	StateBuilding         SettlementState = "BUILDING"
	StateValidating       SettlementState = "VALIDATING"
	StateSimulating       SettlementState = "SIMULATING"
	StateSigning          SettlementState = "SIGNING"
	StateDelegatedSigning SettlementState = "DELEGATED_SIGNING"
	StateSubmitted        SettlementState = "SUBMITTED"
	StateMinedSuccess     SettlementState = "MINED_SUCCESS"
	StateMinedFailed      SettlementState = "MINED_FAILED"
)

var validNext = map[SettlementState]map[SettlementState]bool{
	StateBuilding:         {StateValidating: true},
	StateValidating:       {StateSimulating: true},
	StateSimulating:       {StateSigning: true, StateDelegatedSigning: true},
	StateSigning:          {StateSubmitted: true},
	StateDelegatedSigning: {StateSubmitted: true},
	StateSubmitted:        {StateMinedSuccess: true, StateMinedFailed: true},
	StateMinedSuccess:     {},
	StateMinedFailed:      {},
}

func CanTransition(from, to SettlementState) bool {
	return validNext[from][to]
}
