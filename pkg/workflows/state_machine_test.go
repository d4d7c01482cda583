package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentStateMachine(t *testing.T) {
	sm := NewDocumentStateMachine()

	tests := []struct {
		from, to string
		want     bool
	}{
		{"Draft", "InTransition", true},
		{"Draft", "Completed", false},
		{"InTransition", "Review", true},
		{"InTransition", "InTransition", true},
		{"Review", "Rejected", true},
		{"Completed", "InTransition", false},
		{"Rejected", "Review", false},
		{"Unknown", "Draft", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sm.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.True(t, sm.IsTerminal("Completed"))
	assert.True(t, sm.IsTerminal("Rejected"))
	assert.False(t, sm.IsTerminal("Review"))
	assert.False(t, sm.IsTerminal("Unknown"))
	assert.Empty(t, sm.GetAllowedTransitions("Unknown"))
}

func TestGetAllowedTransitionsReturnsCopy(t *testing.T) {
	sm := NewDocumentStateMachine()

	got := sm.GetAllowedTransitions("Draft")
	got[0] = "Completed"

	assert.Equal(t, []string{"InTransition"}, sm.GetAllowedTransitions("Draft"))
}
