package documents

import (
	"github.com/google/uuid"

	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/internal/workflows"
)

// Gate answers the two authorization questions asked of a stage. Binding a
// user to a stage is a role check. Acting on a bound stage is an identity
// check, regardless of role.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// CanAct reports whether p is the user bound to stage.
func (g *Gate) CanAct(stage *workflows.StageSnapshot, p auth.Principal) bool {
	if stage == nil || stage.ActionByID == nil || p.UserID == uuid.Nil {
		return false
	}
	return *stage.ActionByID == p.UserID
}

// CanBeAssigned reports whether assignee holds the role stage requires.
func (g *Gate) CanBeAssigned(stage *workflows.StageSnapshot, assignee *auth.User) bool {
	if stage == nil || assignee == nil {
		return false
	}
	return assignee.RoleID == stage.RoleID
}
