package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to SettlementState
		want     bool
	}{
		{StateBuilding, StateValidating, true},
		{StateValidating, StateSimulating, true},
		{StateSimulating, StateSigning, true},
		{StateSimulating, StateDelegatedSigning, true},
		{StateSigning, StateSubmitted, true},
		{StateDelegatedSigning, StateSubmitted, true},
		{StateSubmitted, StateMinedSuccess, true},
		{StateSubmitted, StateMinedFailed, true},

		{StateBuilding, StateSimulating, false},
		{StateValidating, StateBuilding, false},
		{StateSigning, StateDelegatedSigning, false},
		{StateMinedSuccess, StateBuilding, false},
		{StateMinedFailed, StateSubmitted, false},
		{StateSubmitted, StateSubmitted, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []SettlementState{
		StateBuilding, StateValidating, StateSimulating, StateSigning,
		StateDelegatedSigning, StateSubmitted, StateMinedSuccess, StateMinedFailed,
	}
	for _, to := range all {
		assert.False(t, CanTransition(StateMinedSuccess, to))
		assert.False(t, CanTransition(StateMinedFailed, to))
	}
}
