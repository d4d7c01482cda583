package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// SearchFilter narrows workflow and workflow type listings.
type SearchFilter struct {
	Name           string
	WorkflowTypeID *uuid.UUID
	CreatedByID    *uuid.UUID
	Page           int
	Limit          int
}

func (f SearchFilter) normalize() SearchFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 10
	}
	return f
}

func (f SearchFilter) offset() int { return (f.Page - 1) * f.Limit }

// PositionUpdate moves one stage on the designer canvas and relinks it.
type PositionUpdate struct {
	ID            uuid.UUID  `json:"id" binding:"required"`
	NodePositionX string     `json:"node_position_x"`
	NodePositionY string     `json:"node_position_y"`
	NextStageID   *uuid.UUID `json:"next_stage_id"`
}

type Repository interface {
	CreateWorkflowType(ctx context.Context, wt *WorkflowType) error
	GetWorkflowType(ctx context.Context, id uuid.UUID) (*WorkflowType, error)
	UpdateWorkflowType(ctx context.Context, wt *WorkflowType) error
	DeleteWorkflowType(ctx context.Context, id uuid.UUID) error
	SearchWorkflowTypes(ctx context.Context, filter SearchFilter) ([]WorkflowType, int64, error)
	WorkflowTypeNameTaken(ctx context.Context, name string, exclude *uuid.UUID) (bool, error)

	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *Workflow) error
	DeleteWorkflow(ctx context.Context, id uuid.UUID) error
	SearchWorkflows(ctx context.Context, filter SearchFilter) ([]Workflow, int64, error)
	WorkflowNameTaken(ctx context.Context, name string, exclude *uuid.UUID) (bool, error)

	CreateStage(ctx context.Context, st *Stage) error
	GetStage(ctx context.Context, id uuid.UUID) (*Stage, error)
	UpdateStage(ctx context.Context, st *Stage) error
	DeleteStage(ctx context.Context, id uuid.UUID) error
	ListStages(ctx context.Context, workflowID uuid.UUID) ([]Stage, error)
	CountNodeStage(ctx context.Context, workflowID uuid.UUID, node NodeStage, exclude *uuid.UUID) (int64, error)
	UpdateStagePositions(ctx context.Context, updates []PositionUpdate) error
}

var (
	errUnknownNextStage = errors.New("next stage does not exist")
	errForeignNextStage = errors.New("next stage belongs to another workflow")
	errSelfLink         = errors.New("stage cannot point to itself")
	errDuplicateNode    = errors.New("workflow already has this boundary node")
)

// uniqueViolation reports whether err is a postgres unique_violation.
func uniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWorkflowType(ctx context.Context, wt *WorkflowType) error {
	return r.db.WithContext(ctx).Create(wt).Error
}

func (r *gormRepository) GetWorkflowType(ctx context.Context, id uuid.UUID) (*WorkflowType, error) {
	var wt WorkflowType
	err := r.db.WithContext(ctx).First(&wt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &wt, err
}

func (r *gormRepository) UpdateWorkflowType(ctx context.Context, wt *WorkflowType) error {
	return r.db.WithContext(ctx).
		Model(wt).
		Select("name", "description").
		Updates(wt).Error
}

func (r *gormRepository) DeleteWorkflowType(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&WorkflowType{}, "id = ?", id).Error
}

func (r *gormRepository) SearchWorkflowTypes(ctx context.Context, filter SearchFilter) ([]WorkflowType, int64, error) {
	filter = filter.normalize()
	q := r.db.WithContext(ctx).Model(&WorkflowType{})
	if filter.Name != "" {
		q = q.Where("name ILIKE ?", "%"+filter.Name+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var types []WorkflowType
	err := q.Order("created_at DESC").Offset(filter.offset()).Limit(filter.Limit).Find(&types).Error
	return types, total, err
}

func (r *gormRepository) WorkflowTypeNameTaken(ctx context.Context, name string, exclude *uuid.UUID) (bool, error) {
	q := r.db.WithContext(ctx).Model(&WorkflowType{}).Where("name = ?", name)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}
	var n int64
	err := q.Count(&n).Error
	return n > 0, err
}

func (r *gormRepository) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	return r.db.WithContext(ctx).Omit("Stages", "WorkflowType").Create(wf).Error
}

func (r *gormRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	var wf Workflow
	err := r.db.WithContext(ctx).
		Preload("WorkflowType").
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&wf, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &wf, err
}

func (r *gormRepository) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	return r.db.WithContext(ctx).
		Model(wf).
		Select("name", "description", "workflow_type_id").
		Updates(wf).Error
}

func (r *gormRepository) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&Workflow{}, "id = ?", id).Error
}

func (r *gormRepository) SearchWorkflows(ctx context.Context, filter SearchFilter) ([]Workflow, int64, error) {
	filter = filter.normalize()
	q := r.db.WithContext(ctx).Model(&Workflow{})
	if filter.Name != "" {
		q = q.Where("name ILIKE ?", "%"+filter.Name+"%")
	}
	if filter.WorkflowTypeID != nil {
		q = q.Where("workflow_type_id = ?", *filter.WorkflowTypeID)
	}
	if filter.CreatedByID != nil {
		q = q.Where("created_by_id = ?", *filter.CreatedByID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var wfs []Workflow
	err := q.Preload("WorkflowType").
		Order("created_at DESC").
		Offset(filter.offset()).
		Limit(filter.Limit).
		Find(&wfs).Error
	return wfs, total, err
}

func (r *gormRepository) WorkflowNameTaken(ctx context.Context, name string, exclude *uuid.UUID) (bool, error) {
	q := r.db.WithContext(ctx).Model(&Workflow{}).Where("name = ?", name)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}
	var n int64
	err := q.Count(&n).Error
	return n > 0, err
}

func (r *gormRepository) CreateStage(ctx context.Context, st *Stage) error {
	err := r.db.WithContext(ctx).Create(st).Error
	if uniqueViolation(err) {
		return fmt.Errorf("%s node: %w", st.NodeStage, errDuplicateNode)
	}
	return err
}

func (r *gormRepository) GetStage(ctx context.Context, id uuid.UUID) (*Stage, error) {
	var st Stage
	err := r.db.WithContext(ctx).First(&st, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &st, err
}

func (r *gormRepository) UpdateStage(ctx context.Context, st *Stage) error {
	err := r.db.WithContext(ctx).Save(st).Error
	if uniqueViolation(err) {
		return fmt.Errorf("%s node: %w", st.NodeStage, errDuplicateNode)
	}
	return err
}

func (r *gormRepository) DeleteStage(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Unlink predecessors so the template never points at a missing node.
		if err := tx.Model(&Stage{}).Where("next_stage_id = ?", id).Update("next_stage_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&Stage{}, "id = ?", id).Error
	})
}

func (r *gormRepository) ListStages(ctx context.Context, workflowID uuid.UUID) ([]Stage, error) {
	var stages []Stage
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC").
		Find(&stages).Error
	return stages, err
}

func (r *gormRepository) CountNodeStage(ctx context.Context, workflowID uuid.UUID, node NodeStage, exclude *uuid.UUID) (int64, error) {
	q := r.db.WithContext(ctx).Model(&Stage{}).
		Where("workflow_id = ? AND node_stage = ?", workflowID, node)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

func (r *gormRepository) UpdateStagePositions(ctx context.Context, updates []PositionUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			var st Stage
			if err := tx.Select("id", "workflow_id").First(&st, "id = ?", u.ID).Error; err != nil {
				return fmt.Errorf("stage %s: %w", u.ID, err)
			}

			if u.NextStageID != nil {
				if *u.NextStageID == u.ID {
					return fmt.Errorf("stage %s: %w", u.ID, errSelfLink)
				}
				var next Stage
				err := tx.Select("id", "workflow_id").First(&next, "id = ?", *u.NextStageID).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("stage %s: %w", u.NextStageID, errUnknownNextStage)
				}
				if err != nil {
					return err
				}
				if next.WorkflowID != st.WorkflowID {
					return fmt.Errorf("stage %s: %w", u.NextStageID, errForeignNextStage)
				}
			}

			err := tx.Model(&Stage{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
				"node_position_x": u.NodePositionX,
				"node_position_y": u.NodePositionY,
				"next_stage_id":   u.NextStageID,
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
