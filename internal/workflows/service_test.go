package workflows

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateWorkflowType(ctx context.Context, wt *WorkflowType) error {
	return m.Called(ctx, wt).Error(0)
}

func (m *MockRepository) GetWorkflowType(ctx context.Context, id uuid.UUID) (*WorkflowType, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*WorkflowType), args.Error(1)
}

func (m *MockRepository) UpdateWorkflowType(ctx context.Context, wt *WorkflowType) error {
	return m.Called(ctx, wt).Error(0)
}

func (m *MockRepository) DeleteWorkflowType(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) SearchWorkflowTypes(ctx context.Context, filter SearchFilter) ([]WorkflowType, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]WorkflowType), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) WorkflowTypeNameTaken(ctx context.Context, name string, exclude *uuid.UUID) (bool, error) {
	args := m.Called(ctx, name, exclude)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	return m.Called(ctx, wf).Error(0)
}

func (m *MockRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Workflow), args.Error(1)
}

func (m *MockRepository) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	return m.Called(ctx, wf).Error(0)
}

func (m *MockRepository) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) SearchWorkflows(ctx context.Context, filter SearchFilter) ([]Workflow, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]Workflow), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) WorkflowNameTaken(ctx context.Context, name string, exclude *uuid.UUID) (bool, error) {
	args := m.Called(ctx, name, exclude)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) CreateStage(ctx context.Context, st *Stage) error {
	return m.Called(ctx, st).Error(0)
}

func (m *MockRepository) GetStage(ctx context.Context, id uuid.UUID) (*Stage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Stage), args.Error(1)
}

func (m *MockRepository) UpdateStage(ctx context.Context, st *Stage) error {
	return m.Called(ctx, st).Error(0)
}

func (m *MockRepository) DeleteStage(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) ListStages(ctx context.Context, workflowID uuid.UUID) ([]Stage, error) {
	args := m.Called(ctx, workflowID)
	return args.Get(0).([]Stage), args.Error(1)
}

func (m *MockRepository) CountNodeStage(ctx context.Context, workflowID uuid.UUID, node NodeStage, exclude *uuid.UUID) (int64, error) {
	args := m.Called(ctx, workflowID, node, exclude)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) UpdateStagePositions(ctx context.Context, updates []PositionUpdate) error {
	return m.Called(ctx, updates).Error(0)
}

type staticRoles map[uuid.UUID]bool

func (r staticRoles) RoleExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r[id], nil
}

func newTestService(roles ...uuid.UUID) (Service, *MockRepository) {
	repo := new(MockRepository)
	known := staticRoles{}
	for _, id := range roles {
		known[id] = true
	}
	return NewService(repo, known, zap.NewNop()), repo
}

func TestCreateWorkflowType(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate name", func(t *testing.T) {
		svc, repo := newTestService()
		repo.On("WorkflowTypeNameTaken", ctx, "Survey", (*uuid.UUID)(nil)).Return(true, nil)

		_, err := svc.CreateWorkflowType(ctx, WorkflowTypeRequest{Name: "Survey"})
		assert.True(t, apperrors.IsConflict(err))
		repo.AssertNotCalled(t, "CreateWorkflowType", mock.Anything, mock.Anything)
	})

	t.Run("created", func(t *testing.T) {
		svc, repo := newTestService()
		repo.On("WorkflowTypeNameTaken", ctx, "Survey", (*uuid.UUID)(nil)).Return(false, nil)
		repo.On("CreateWorkflowType", ctx, mock.AnythingOfType("*workflows.WorkflowType")).Return(nil)

		wt, err := svc.CreateWorkflowType(ctx, WorkflowTypeRequest{Name: "Survey", Description: "Drone surveys"})
		require.NoError(t, err)
		assert.Equal(t, "Survey", wt.Name)
		repo.AssertExpectations(t)
	})
}

func TestCreateWorkflowRequiresType(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService()
	typeID := uuid.New()

	repo.On("WorkflowNameTaken", ctx, "Approval", (*uuid.UUID)(nil)).Return(false, nil)
	repo.On("GetWorkflowType", ctx, typeID).Return(nil, nil)

	_, err := svc.CreateWorkflow(ctx, WorkflowRequest{Name: "Approval", WorkflowTypeID: typeID}, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCreateStage(t *testing.T) {
	ctx := context.Background()
	role := uuid.New()
	wf := &Workflow{ID: uuid.New()}

	base := func() StageRequest {
		return StageRequest{
			WorkflowID: wf.ID,
			Name:       "Pilot sign-off",
			RoleID:     role,
			NodeStage:  NodeIntermediate,
			StageType:  StageTypeSignature,
		}
	}

	t.Run("unknown role", func(t *testing.T) {
		svc, repo := newTestService()
		repo.On("GetWorkflow", ctx, wf.ID).Return(wf, nil)

		_, err := svc.CreateStage(ctx, base())
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("second start node", func(t *testing.T) {
		svc, repo := newTestService(role)
		repo.On("GetWorkflow", ctx, wf.ID).Return(wf, nil)
		repo.On("CountNodeStage", ctx, wf.ID, NodeStart, (*uuid.UUID)(nil)).Return(int64(1), nil)

		req := base()
		req.NodeStage = NodeStart
		_, err := svc.CreateStage(ctx, req)
		assert.True(t, apperrors.IsConflict(err))
		assert.Equal(t, "Workflow already has a Start node", apperrors.Message(err))
	})

	t.Run("concurrent start node loses on the index", func(t *testing.T) {
		svc, repo := newTestService(role)
		repo.On("GetWorkflow", ctx, wf.ID).Return(wf, nil)
		repo.On("CountNodeStage", ctx, wf.ID, NodeStart, (*uuid.UUID)(nil)).Return(int64(0), nil)
		repo.On("CreateStage", ctx, mock.AnythingOfType("*workflows.Stage")).
			Return(fmt.Errorf("Start node: %w", errDuplicateNode))

		req := base()
		req.NodeStage = NodeStart
		_, err := svc.CreateStage(ctx, req)
		assert.True(t, apperrors.IsConflict(err))
		assert.Equal(t, "Workflow already has a Start node", apperrors.Message(err))
	})

	t.Run("next stage in another workflow", func(t *testing.T) {
		svc, repo := newTestService(role)
		next := &Stage{ID: uuid.New(), WorkflowID: uuid.New()}
		repo.On("GetWorkflow", ctx, wf.ID).Return(wf, nil)
		repo.On("GetStage", ctx, next.ID).Return(next, nil)

		req := base()
		req.NextStageID = &next.ID
		_, err := svc.CreateStage(ctx, req)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("created with default status", func(t *testing.T) {
		svc, repo := newTestService(role)
		repo.On("GetWorkflow", ctx, wf.ID).Return(wf, nil)
		repo.On("CreateStage", ctx, mock.AnythingOfType("*workflows.Stage")).Return(nil)

		st, err := svc.CreateStage(ctx, base())
		require.NoError(t, err)
		assert.Equal(t, wf.ID, st.WorkflowID)
		assert.Equal(t, StageTypeSignature, st.StageType)
		repo.AssertExpectations(t)
	})
}

func TestUpdateStageRejectsSelfLink(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService()
	st := &Stage{ID: uuid.New(), WorkflowID: uuid.New()}
	repo.On("GetStage", ctx, st.ID).Return(st, nil)

	_, err := svc.UpdateStage(ctx, st.ID, StageRequest{WorkflowID: st.WorkflowID, NextStageID: &st.ID})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.UpdateStage(ctx, st.ID, StageRequest{WorkflowID: uuid.New()})
	assert.True(t, apperrors.IsValidation(err))
}

func TestUpdateStagePositionsMapsErrors(t *testing.T) {
	ctx := context.Background()
	updates := []PositionUpdate{{ID: uuid.New(), NodePositionX: "10"}}

	svc, repo := newTestService()
	repo.On("UpdateStagePositions", ctx, updates).Return(errUnknownNextStage).Once()
	err := svc.UpdateStagePositions(ctx, updates)
	assert.True(t, apperrors.IsValidation(err))

	for _, cause := range []error{errForeignNextStage, errSelfLink} {
		repo.On("UpdateStagePositions", ctx, updates).Return(fmt.Errorf("stage: %w", cause)).Once()
		err = svc.UpdateStagePositions(ctx, updates)
		assert.True(t, apperrors.IsValidation(err), cause.Error())
	}

	repo.On("UpdateStagePositions", ctx, updates).Return(errors.New("deadlock")).Once()
	err = svc.UpdateStagePositions(ctx, updates)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))

	err = svc.UpdateStagePositions(ctx, nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestSequenceWorkflow(t *testing.T) {
	ctx := context.Background()

	t.Run("valid path", func(t *testing.T) {
		svc, repo := newTestService()
		stages := chain(NodeStart, NodeIntermediate, NodeEnd)
		wfID := stages[0].WorkflowID
		repo.On("GetWorkflow", ctx, wfID).Return(&Workflow{ID: wfID}, nil)
		repo.On("ListStages", ctx, wfID).Return(stages, nil)

		snap, err := svc.SequenceWorkflow(ctx, wfID)
		require.NoError(t, err)
		assert.Equal(t, 3, snap.Len())
	})

	t.Run("broken path", func(t *testing.T) {
		svc, repo := newTestService()
		stages := chain(NodeStart, NodeIntermediate)
		wfID := stages[0].WorkflowID
		repo.On("GetWorkflow", ctx, wfID).Return(&Workflow{ID: wfID}, nil)
		repo.On("ListStages", ctx, wfID).Return(stages, nil)

		_, err := svc.SequenceWorkflow(ctx, wfID)
		assert.ErrorIs(t, err, ErrMalformedWorkflow)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("unknown workflow", func(t *testing.T) {
		svc, repo := newTestService()
		id := uuid.New()
		repo.On("GetWorkflow", ctx, id).Return(nil, nil)

		_, err := svc.SequenceWorkflow(ctx, id)
		assert.True(t, apperrors.IsNotFound(err))
	})
}
