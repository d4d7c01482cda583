package workflows

// StateMachine enforces document status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine from an explicit transition table
func NewStateMachine(transitions map[string][]string) *StateMachine {
	table := make(map[string][]string, len(transitions))
	for from, to := range transitions {
		table[from] = append([]string(nil), to...)
	}
	return &StateMachine{allowedTransitions: table}
}

// NewDocumentStateMachine returns the approval lifecycle of a document
func NewDocumentStateMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		"Draft":        {"InTransition"},
		"InTransition": {"InTransition", "Review", "Completed", "Rejected"},
		"Review":       {"InTransition", "Review", "Completed", "Rejected"},
		"Completed":    {},
		"Rejected":     {},
	})
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return append([]string(nil), allowed...)
}

// IsTerminal reports whether no transition leaves the status
func (sm *StateMachine) IsTerminal(status string) bool {
	allowed, exists := sm.allowedTransitions[status]
	return exists && len(allowed) == 0
}
