package generic

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanReferenceError(t *testing.T) {
	err := fmt.Errorf("save: %w", &PlanReferenceError{AgentName: "Alice", PlanID: "gold"})
	assert.ErrorIs(t, err, ErrPlanNotFound)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), `unknown plan "gold"`)

	err = &PlanReferenceError{AgentName: "Alice", TeamID: "t1", Missing: ErrTeamNotFound}
	assert.ErrorIs(t, err, ErrTeamNotFound)
	assert.Contains(t, err.Error(), `unknown team "t1"`)
}

func TestValidationError(t *testing.T) {
	// GIVEN: A plan with two bad fields
	// WHEN: Collecting them
	// THEN: The error names both and is a client error

	v := &ValidationError{Object: "plan", ID: "gold"}
	assert.NoError(t, v.OrNil())

	v.Add("agent_split_pct", "must be between 0 and 100")
	v.Add("annual_cap", "must not be negative")
	err := v.OrNil()

	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.True(t, IsClientError(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, `invalid plan "gold": agent_split_pct: must be between 0 and 100; annual_cap: must not be negative`, err.Error())

	th := &ValidationError{Object: "thresholds", Kind: ErrInvalidThresholds}
	th.Add("minor", "must be below major")
	assert.ErrorIs(t, th, ErrInvalidThresholds)
	assert.Equal(t, "invalid thresholds: minor: must be below major", th.Error())
}
