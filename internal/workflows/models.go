package workflows

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NodeStage string

const (
	NodeStart        NodeStage = "Start"
	NodeIntermediate NodeStage = "Intermediate"
	NodeEnd          NodeStage = "End"
)

type StageType string

const (
	StageTypeDraft     StageType = "Draft"
	StageTypeSignature StageType = "Signature"
	StageTypeReview    StageType = "Review"
	StageTypeFinish    StageType = "Finish"
)

type StageStatus string

const (
	StageCreated   StageStatus = "Created"
	StageAccepted  StageStatus = "Accepted"
	StageRejected  StageStatus = "Rejected"
	StageReview    StageStatus = "Review"
	StageReviewed  StageStatus = "Reviewed"
	StageOpened    StageStatus = "Opened"
	StageCompleted StageStatus = "Completed"
)

type WorkflowType struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string         `json:"name" gorm:"size:255;not null;uniqueIndex:idx_workflow_types_name,where:deleted_at IS NULL"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

func (t *WorkflowType) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

type Workflow struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name           string         `json:"name" gorm:"size:255;not null;uniqueIndex:idx_workflows_name,where:deleted_at IS NULL"`
	Description    string         `json:"description"`
	WorkflowTypeID uuid.UUID      `json:"workflow_type_id" gorm:"type:uuid;not null;index"`
	WorkflowType   *WorkflowType  `json:"workflow_type,omitempty"`
	CreatedByID    uuid.UUID      `json:"created_by_id" gorm:"type:uuid;not null;index"`
	Stages         []Stage        `json:"stages,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}

func (w *Workflow) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// Stage is a mutable template node. NextStageID links it to its successor
// within the same workflow. A workflow holds at most one Start and one End.
type Stage struct {
	ID             uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	WorkflowID     uuid.UUID   `json:"workflow_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_stages_boundary_node,where:node_stage <> 'Intermediate'"`
	Name           string      `json:"name" gorm:"size:255;not null"`
	Description    string      `json:"description"`
	RoleID         uuid.UUID   `json:"role_id" gorm:"type:uuid;not null"`
	ActionByID     *uuid.UUID  `json:"action_by_id,omitempty" gorm:"type:uuid"`
	NodeStage      NodeStage   `json:"node_stage" gorm:"size:32;not null;uniqueIndex:idx_stages_boundary_node"`
	StageType      StageType   `json:"stage_type" gorm:"size:32;not null"`
	NextStageID    *uuid.UUID  `json:"next_stage_id,omitempty" gorm:"type:uuid"`
	NodePositionX  string      `json:"node_position_x"`
	NodePositionY  string      `json:"node_position_y"`
	ActionRequired bool        `json:"action_required"`
	Status         StageStatus `json:"status" gorm:"size:32;not null;default:Created"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (s *Stage) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StageCreated
	}
	return nil
}
