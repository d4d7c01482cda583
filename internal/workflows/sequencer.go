package workflows

import (
	"github.com/google/uuid"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
)

var (
	ErrNoStartStage        = apperrors.NewSentinel(apperrors.KindValidation, "workflow has no Start stage")
	ErrMultipleStartStages = apperrors.NewSentinel(apperrors.KindValidation, "workflow has more than one Start stage")
	ErrCycleDetected       = apperrors.NewSentinel(apperrors.KindValidation, "workflow stages form a cycle")
	ErrMalformedWorkflow   = apperrors.NewSentinel(apperrors.KindValidation, "workflow path does not terminate at an End stage")
)

// Sequence linearizes the stages of one workflow by walking next_stage_id
// from the Start node. Stages not on the Start path are dropped. The input
// is never mutated.
func Sequence(stages []Stage) (Snapshot, error) {
	var start *Stage
	byID := make(map[uuid.UUID]*Stage, len(stages))
	for i := range stages {
		st := &stages[i]
		byID[st.ID] = st
		if st.NodeStage == NodeStart {
			if start != nil {
				return nil, ErrMultipleStartStages
			}
			start = st
		}
	}
	if start == nil {
		return nil, ErrNoStartStage
	}

	seq := make(Snapshot, 0, len(stages))
	visited := make(map[uuid.UUID]struct{}, len(stages))

	for cur := start; cur != nil; {
		if _, seen := visited[cur.ID]; seen {
			return nil, ErrCycleDetected
		}
		visited[cur.ID] = struct{}{}
		seq = append(seq, snapshotOf(cur, len(seq)+1))

		if cur.NextStageID == nil {
			break
		}
		cur = byID[*cur.NextStageID]
	}

	if seq[len(seq)-1].NodeStage != NodeEnd {
		return nil, ErrMalformedWorkflow
	}
	return seq, nil
}

func snapshotOf(st *Stage, sequence int) StageSnapshot {
	return StageSnapshot{
		ID:          st.ID,
		Name:        st.Name,
		Description: st.Description,
		Status:      st.Status,
		RoleID:      st.RoleID,
		ActionByID:  cloneID(st.ActionByID),
		NodeStage:   st.NodeStage,
		StageType:   st.StageType,
		WorkflowID:  st.WorkflowID,
		NextStageID: cloneID(st.NextStageID),
		Sequence:    sequence,
	}
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
