package documents

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/internal/workflows"
)

func TestGateCanAct(t *testing.T) {
	g := NewGate()
	user, role := uuid.New(), uuid.New()
	bound := &workflows.StageSnapshot{RoleID: role, ActionByID: &user}

	tests := []struct {
		name  string
		stage *workflows.StageSnapshot
		p     auth.Principal
		want  bool
	}{
		{"bound user", bound, auth.Principal{UserID: user, RoleID: role}, true},
		{"bound user with another role", bound, auth.Principal{UserID: user, RoleID: uuid.New()}, true},
		{"same role, other user", bound, auth.Principal{UserID: uuid.New(), RoleID: role}, false},
		{"unassigned stage", &workflows.StageSnapshot{RoleID: role}, auth.Principal{UserID: user, RoleID: role}, false},
		{"nil stage", nil, auth.Principal{UserID: user}, false},
		{"anonymous", bound, auth.Principal{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.CanAct(tt.stage, tt.p))
		})
	}
}

func TestGateCanBeAssigned(t *testing.T) {
	g := NewGate()
	role := uuid.New()
	stage := &workflows.StageSnapshot{RoleID: role}

	assert.True(t, g.CanBeAssigned(stage, &auth.User{ID: uuid.New(), RoleID: role}))
	assert.False(t, g.CanBeAssigned(stage, &auth.User{ID: uuid.New(), RoleID: uuid.New()}))
	assert.False(t, g.CanBeAssigned(stage, nil))
	assert.False(t, g.CanBeAssigned(nil, &auth.User{RoleID: role}))
}
