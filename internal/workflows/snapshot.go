package workflows

import (
	"github.com/google/uuid"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
)

var ErrStageNotInSnapshot = apperrors.NewSentinel(apperrors.KindNotFound, "stage is not part of this document's workflow")

// StageSnapshot is the frozen per-document copy of a template stage.
type StageSnapshot struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      StageStatus `json:"status"`
	RoleID      uuid.UUID   `json:"role_id"`
	ActionByID  *uuid.UUID  `json:"action_by_id"`
	NodeStage   NodeStage   `json:"node_stage"`
	StageType   StageType   `json:"stage_type"`
	WorkflowID  uuid.UUID   `json:"workflow_id"`
	NextStageID *uuid.UUID  `json:"next_stage_id"`
	Sequence    int         `json:"sequence"`
}

// Snapshot is the ordered stage path stored on a document. Sequences are
// 1-based and contiguous, so stage n lives at index n-1.
type Snapshot []StageSnapshot

func (s Snapshot) Len() int { return len(s) }

// StageAt returns the stage with the given sequence number.
func (s Snapshot) StageAt(sequence int) (*StageSnapshot, bool) {
	if sequence < 1 || sequence > len(s) {
		return nil, false
	}
	st := &s[sequence-1]
	if st.Sequence != sequence {
		for i := range s {
			if s[i].Sequence == sequence {
				return &s[i], true
			}
		}
		return nil, false
	}
	return st, true
}

// Find returns the stage with the given template id.
func (s Snapshot) Find(stageID uuid.UUID) (*StageSnapshot, bool) {
	for i := range s {
		if s[i].ID == stageID {
			return &s[i], true
		}
	}
	return nil, false
}

// Assign binds a user to a stage of this snapshot. Nothing else in a
// snapshot is ever rewritten after creation.
func (s Snapshot) Assign(stageID, userID uuid.UUID) error {
	st, ok := s.Find(stageID)
	if !ok {
		return ErrStageNotInSnapshot
	}
	id := userID
	st.ActionByID = &id
	return nil
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for i, st := range s {
		st.ActionByID = cloneID(st.ActionByID)
		st.NextStageID = cloneID(st.NextStageID)
		out[i] = st
	}
	return out
}
