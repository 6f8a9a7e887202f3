package lifecycle_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/pkg/lifecycle"
)

func TestTransition_HappyPath(t *testing.T) {
	path := []lifecycle.State{
		lifecycle.StateNew,
		lifecycle.StateClaimed,
		lifecycle.StateExtracted,
		lifecycle.StateValidated,
		lifecycle.StateStored,
		lifecycle.StateArchived,
	}
	for i := 0; i < len(path)-1; i++ {
		got, err := lifecycle.Transition(path[i], path[i+1])
		require.NoError(t, err)
		assert.Equal(t, path[i+1], got)
	}
}

func TestTransition_ReclaimEdges(t *testing.T) {
	_, err := lifecycle.Transition(lifecycle.StateReviewRequired, lifecycle.StateClaimed)
	assert.NoError(t, err)

	// FAILED is terminal; the re-claim of a FAILED row happens inside the
	// claim store, not through the state machine.
	_, err = lifecycle.Transition(lifecycle.StateFailed, lifecycle.StateClaimed)
	assert.Error(t, err)
}

func TestTransition_TerminalStatesHaveNoSuccessors(t *testing.T) {
	for _, terminal := range []lifecycle.State{lifecycle.StateArchived, lifecycle.StateFailed} {
		assert.True(t, lifecycle.IsTerminal(terminal))
		for _, to := range lifecycle.States() {
			_, err := lifecycle.Transition(terminal, to)
			assert.Error(t, err, "terminal %s must reject -> %s", terminal, to)
		}
	}
}

func TestTransition_UnknownStates(t *testing.T) {
	_, err := lifecycle.Transition("SHIPPED", lifecycle.StateClaimed)
	require.Error(t, err)
	var inv *lifecycle.InvalidTransitionError
	assert.ErrorAs(t, err, &inv)

	_, err = lifecycle.Transition(lifecycle.StateClaimed, "SHIPPED")
	assert.Error(t, err)
}

func TestTransition_NormalizesCase(t *testing.T) {
	got, err := lifecycle.Transition(" claimed ", "extracted")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateExtracted, got)
}

// Property: Transition succeeds exactly when CanTransition reports the edge,
// for every pair of known states.
func TestTransition_MatchesTableProperty(t *testing.T) {
	states := lifecycle.States()
	genState := gen.IntRange(0, len(states)-1).Map(func(i int) lifecycle.State { return states[i] })

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("transition iff edge in table", prop.ForAll(
		func(from, to lifecycle.State) bool {
			got, err := lifecycle.Transition(from, to)
			if lifecycle.CanTransition(from, to) {
				return err == nil && got == to
			}
			return err != nil
		},
		genState, genState,
	))
	properties.TestingRun(t)
}
