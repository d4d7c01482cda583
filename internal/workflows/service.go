package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
)

// RoleDirectory resolves roles referenced by stages.
type RoleDirectory interface {
	RoleExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service interface {
	CreateWorkflowType(ctx context.Context, req WorkflowTypeRequest) (*WorkflowType, error)
	GetWorkflowType(ctx context.Context, id uuid.UUID) (*WorkflowType, error)
	UpdateWorkflowType(ctx context.Context, id uuid.UUID, req WorkflowTypeRequest) (*WorkflowType, error)
	DeleteWorkflowType(ctx context.Context, id uuid.UUID) error
	SearchWorkflowTypes(ctx context.Context, filter SearchFilter) ([]WorkflowType, int64, error)

	CreateWorkflow(ctx context.Context, req WorkflowRequest, createdBy uuid.UUID) (*Workflow, error)
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, id uuid.UUID, req WorkflowRequest) (*Workflow, error)
	DeleteWorkflow(ctx context.Context, id uuid.UUID) error
	SearchWorkflows(ctx context.Context, filter SearchFilter) ([]Workflow, int64, error)
	SequenceWorkflow(ctx context.Context, id uuid.UUID) (Snapshot, error)

	CreateStage(ctx context.Context, req StageRequest) (*Stage, error)
	GetStage(ctx context.Context, id uuid.UUID) (*Stage, error)
	UpdateStage(ctx context.Context, id uuid.UUID, req StageRequest) (*Stage, error)
	DeleteStage(ctx context.Context, id uuid.UUID) error
	ListStages(ctx context.Context, workflowID uuid.UUID) ([]Stage, error)
	UpdateStagePositions(ctx context.Context, updates []PositionUpdate) error
}

type WorkflowTypeRequest struct {
	Name        string `json:"name" binding:"required,min=2,max=255"`
	Description string `json:"description"`
}

type WorkflowRequest struct {
	Name           string    `json:"name" binding:"required,min=2,max=255"`
	Description    string    `json:"description"`
	WorkflowTypeID uuid.UUID `json:"workflow_type_id" binding:"required"`
}

type StageRequest struct {
	WorkflowID     uuid.UUID   `json:"workflow_id" binding:"required"`
	Name           string      `json:"name" binding:"required,max=255"`
	Description    string      `json:"description"`
	RoleID         uuid.UUID   `json:"role_id" binding:"required"`
	ActionByID     *uuid.UUID  `json:"action_by_id"`
	NodeStage      NodeStage   `json:"node_stage" binding:"required,oneof=Start Intermediate End"`
	StageType      StageType   `json:"stage_type" binding:"required,oneof=Draft Signature Review Finish"`
	NextStageID    *uuid.UUID  `json:"next_stage_id"`
	NodePositionX  string      `json:"node_position_x"`
	NodePositionY  string      `json:"node_position_y"`
	ActionRequired bool        `json:"action_required"`
	Status         StageStatus `json:"status" binding:"omitempty,oneof=Created Accepted Rejected Review Reviewed Opened Completed"`
}

type workflowService struct {
	repo   Repository
	roles  RoleDirectory
	logger *zap.Logger
}

func NewService(repo Repository, roles RoleDirectory, logger *zap.Logger) Service {
	return &workflowService{
		repo:   repo,
		roles:  roles,
		logger: logger,
	}
}

func (s *workflowService) CreateWorkflowType(ctx context.Context, req WorkflowTypeRequest) (*WorkflowType, error) {
	const op = "workflows.CreateWorkflowType"

	taken, err := s.repo.WorkflowTypeNameTaken(ctx, req.Name, nil)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if taken {
		return nil, apperrors.Conflict(op, "Workflow Type already exists")
	}

	wt := &WorkflowType{Name: req.Name, Description: req.Description}
	if err := s.repo.CreateWorkflowType(ctx, wt); err != nil {
		return nil, apperrors.Internal(op, err)
	}

	s.logger.Info("Workflow type created", zap.String("workflow_type_id", wt.ID.String()), zap.String("name", wt.Name))
	return wt, nil
}

func (s *workflowService) GetWorkflowType(ctx context.Context, id uuid.UUID) (*WorkflowType, error) {
	const op = "workflows.GetWorkflowType"

	wt, err := s.repo.GetWorkflowType(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if wt == nil {
		return nil, apperrors.NotFound(op, "Workflow Type not found")
	}
	return wt, nil
}

func (s *workflowService) UpdateWorkflowType(ctx context.Context, id uuid.UUID, req WorkflowTypeRequest) (*WorkflowType, error) {
	const op = "workflows.UpdateWorkflowType"

	wt, err := s.GetWorkflowType(ctx, id)
	if err != nil {
		return nil, err
	}
	taken, err := s.repo.WorkflowTypeNameTaken(ctx, req.Name, &id)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if taken {
		return nil, apperrors.Conflict(op, "Workflow Type already exists")
	}

	wt.Name = req.Name
	wt.Description = req.Description
	if err := s.repo.UpdateWorkflowType(ctx, wt); err != nil {
		return nil, apperrors.Internal(op, err)
	}
	return wt, nil
}

func (s *workflowService) DeleteWorkflowType(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetWorkflowType(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteWorkflowType(ctx, id); err != nil {
		return apperrors.Internal("workflows.DeleteWorkflowType", err)
	}
	return nil
}

func (s *workflowService) SearchWorkflowTypes(ctx context.Context, filter SearchFilter) ([]WorkflowType, int64, error) {
	types, total, err := s.repo.SearchWorkflowTypes(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.Internal("workflows.SearchWorkflowTypes", err)
	}
	return types, total, nil
}

func (s *workflowService) CreateWorkflow(ctx context.Context, req WorkflowRequest, createdBy uuid.UUID) (*Workflow, error) {
	const op = "workflows.CreateWorkflow"

	if err := s.checkWorkflow(ctx, op, req, nil); err != nil {
		return nil, err
	}

	wf := &Workflow{
		Name:           req.Name,
		Description:    req.Description,
		WorkflowTypeID: req.WorkflowTypeID,
		CreatedByID:    createdBy,
	}
	if err := s.repo.CreateWorkflow(ctx, wf); err != nil {
		return nil, apperrors.Internal(op, err)
	}

	s.logger.Info("Workflow created",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("name", wf.Name),
		zap.String("created_by", createdBy.String()))
	return wf, nil
}

func (s *workflowService) checkWorkflow(ctx context.Context, op string, req WorkflowRequest, exclude *uuid.UUID) error {
	taken, err := s.repo.WorkflowNameTaken(ctx, req.Name, exclude)
	if err != nil {
		return apperrors.Internal(op, err)
	}
	if taken {
		return apperrors.Conflict(op, "Workflow name already exists")
	}

	wt, err := s.repo.GetWorkflowType(ctx, req.WorkflowTypeID)
	if err != nil {
		return apperrors.Internal(op, err)
	}
	if wt == nil {
		return apperrors.NotFound(op, "Workflow Type not found")
	}
	return nil
}

func (s *workflowService) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	const op = "workflows.GetWorkflow"

	wf, err := s.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if wf == nil {
		return nil, apperrors.NotFound(op, "Workflow not found")
	}
	return wf, nil
}

func (s *workflowService) UpdateWorkflow(ctx context.Context, id uuid.UUID, req WorkflowRequest) (*Workflow, error) {
	const op = "workflows.UpdateWorkflow"

	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkWorkflow(ctx, op, req, &id); err != nil {
		return nil, err
	}

	wf.Name = req.Name
	wf.Description = req.Description
	wf.WorkflowTypeID = req.WorkflowTypeID
	if err := s.repo.UpdateWorkflow(ctx, wf); err != nil {
		return nil, apperrors.Internal(op, err)
	}
	return wf, nil
}

func (s *workflowService) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetWorkflow(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteWorkflow(ctx, id); err != nil {
		return apperrors.Internal("workflows.DeleteWorkflow", err)
	}
	s.logger.Info("Workflow deleted", zap.String("workflow_id", id.String()))
	return nil
}

func (s *workflowService) SearchWorkflows(ctx context.Context, filter SearchFilter) ([]Workflow, int64, error) {
	wfs, total, err := s.repo.SearchWorkflows(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.Internal("workflows.SearchWorkflows", err)
	}
	return wfs, total, nil
}

// SequenceWorkflow loads the template and linearizes it into a fresh snapshot.
func (s *workflowService) SequenceWorkflow(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	const op = "workflows.SequenceWorkflow"

	if _, err := s.GetWorkflow(ctx, id); err != nil {
		return nil, err
	}
	stages, err := s.repo.ListStages(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}

	snap, err := Sequence(stages)
	if err != nil {
		s.logger.Warn("Workflow cannot be sequenced",
			zap.String("workflow_id", id.String()),
			zap.Int("stages", len(stages)),
			zap.Error(err))
		return nil, apperrors.E(op, err)
	}
	return snap, nil
}

func (s *workflowService) CreateStage(ctx context.Context, req StageRequest) (*Stage, error) {
	const op = "workflows.CreateStage"

	if err := s.checkStage(ctx, op, req, nil); err != nil {
		return nil, err
	}

	st := &Stage{WorkflowID: req.WorkflowID}
	applyStageRequest(st, req)
	if err := s.repo.CreateStage(ctx, st); err != nil {
		return nil, stageWriteError(op, st, err)
	}

	s.logger.Info("Stage created",
		zap.String("stage_id", st.ID.String()),
		zap.String("workflow_id", st.WorkflowID.String()),
		zap.String("node_stage", string(st.NodeStage)))
	return st, nil
}

func (s *workflowService) GetStage(ctx context.Context, id uuid.UUID) (*Stage, error) {
	const op = "workflows.GetStage"

	st, err := s.repo.GetStage(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if st == nil {
		return nil, apperrors.NotFound(op, "Stage not found")
	}
	return st, nil
}

func (s *workflowService) UpdateStage(ctx context.Context, id uuid.UUID, req StageRequest) (*Stage, error) {
	const op = "workflows.UpdateStage"

	st, err := s.GetStage(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.WorkflowID != st.WorkflowID {
		return nil, apperrors.Validation(op, "stage cannot be moved to another workflow")
	}
	if req.NextStageID != nil && *req.NextStageID == id {
		return nil, apperrors.Validation(op, "stage cannot point to itself")
	}
	if err := s.checkStage(ctx, op, req, &id); err != nil {
		return nil, err
	}

	applyStageRequest(st, req)
	if err := s.repo.UpdateStage(ctx, st); err != nil {
		return nil, stageWriteError(op, st, err)
	}
	return st, nil
}

func (s *workflowService) DeleteStage(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetStage(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteStage(ctx, id); err != nil {
		return apperrors.Internal("workflows.DeleteStage", err)
	}
	return nil
}

func (s *workflowService) ListStages(ctx context.Context, workflowID uuid.UUID) ([]Stage, error) {
	stages, err := s.repo.ListStages(ctx, workflowID)
	if err != nil {
		return nil, apperrors.Internal("workflows.ListStages", err)
	}
	return stages, nil
}

func (s *workflowService) UpdateStagePositions(ctx context.Context, updates []PositionUpdate) error {
	const op = "workflows.UpdateStagePositions"

	if len(updates) == 0 {
		return apperrors.Validation(op, "no stages to update")
	}

	err := s.repo.UpdateStagePositions(ctx, updates)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errUnknownNextStage):
		return apperrors.Wrap(apperrors.KindValidation, op, "next stage does not exist", err)
	case errors.Is(err, errForeignNextStage):
		return apperrors.Wrap(apperrors.KindValidation, op, "next stage must belong to the same workflow", err)
	case errors.Is(err, errSelfLink):
		return apperrors.Wrap(apperrors.KindValidation, op, "stage cannot point to itself", err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.Wrap(apperrors.KindNotFound, op, "Stage not found", err)
	default:
		return apperrors.Internal(op, err)
	}
}

// checkStage enforces referential integrity and the single Start/End rule.
func (s *workflowService) checkStage(ctx context.Context, op string, req StageRequest, exclude *uuid.UUID) error {
	wf, err := s.repo.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return apperrors.Internal(op, err)
	}
	if wf == nil {
		return apperrors.NotFound(op, "Workflow not found")
	}

	ok, err := s.roles.RoleExists(ctx, req.RoleID)
	if err != nil {
		return apperrors.Internal(op, err)
	}
	if !ok {
		return apperrors.NotFound(op, "Role not found")
	}

	if req.NodeStage == NodeStart || req.NodeStage == NodeEnd {
		n, err := s.repo.CountNodeStage(ctx, req.WorkflowID, req.NodeStage, exclude)
		if err != nil {
			return apperrors.Internal(op, err)
		}
		if n > 0 {
			return apperrors.Conflict(op, fmt.Sprintf("Workflow already has a %s node", req.NodeStage))
		}
	}

	if req.NextStageID != nil {
		next, err := s.repo.GetStage(ctx, *req.NextStageID)
		if err != nil {
			return apperrors.Internal(op, err)
		}
		if next == nil || next.WorkflowID != req.WorkflowID {
			return apperrors.Validation(op, "next stage must belong to the same workflow")
		}
	}
	return nil
}

// stageWriteError maps a lost race on the Start/End index to the same
// conflict checkStage reports.
func stageWriteError(op string, st *Stage, err error) error {
	if errors.Is(err, errDuplicateNode) {
		return apperrors.Wrap(apperrors.KindConflict, op, fmt.Sprintf("Workflow already has a %s node", st.NodeStage), err)
	}
	return apperrors.Internal(op, err)
}

func applyStageRequest(st *Stage, req StageRequest) {
	st.Name = req.Name
	st.Description = req.Description
	st.RoleID = req.RoleID
	st.ActionByID = req.ActionByID
	st.NodeStage = req.NodeStage
	st.StageType = req.StageType
	st.NextStageID = req.NextStageID
	st.NodePositionX = req.NodePositionX
	st.NodePositionY = req.NodePositionY
	st.ActionRequired = req.ActionRequired
	if req.Status != "" {
		st.Status = req.Status
	}
}
