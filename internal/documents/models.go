package documents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/igdrones/ig-docs-backend/internal/workflows"
	"github.com/igdrones/ig-docs-backend/pkg/security"
)

type Status string

const (
	StatusDraft        Status = "Draft"
	StatusInTransition Status = "InTransition"
	StatusReview       Status = "Review"
	StatusCompleted    Status = "Completed"
	StatusRejected     Status = "Rejected"
)

// IsFinal reports whether no further versions may be created.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusRejected
}

type FieldType string

const (
	FieldText      FieldType = "Text"
	FieldSignature FieldType = "Signature"
)

// Document is one file travelling through a frozen copy of its workflow.
type Document struct {
	ID             uuid.UUID                                    `json:"id" gorm:"type:uuid;primaryKey"`
	Name           string                                       `json:"name" gorm:"size:255;not null"`
	WorkflowTypeID uuid.UUID                                    `json:"workflow_type_id" gorm:"type:uuid;not null;index"`
	WorkflowID     uuid.UUID                                    `json:"workflow_id" gorm:"type:uuid;not null;index"`
	WorkflowStages datatypes.JSONSlice[workflows.StageSnapshot] `json:"workflow_stages" gorm:"type:jsonb;not null"`
	CurrentStage   int                                          `json:"current_stage" gorm:"not null;default:0"`
	CurrentVersion int                                          `json:"current_version" gorm:"not null;default:0"`
	Status         Status                                       `json:"status" gorm:"size:32;not null;default:Draft;index"`
	FileURL        string                                       `json:"file_url" gorm:"not null"`
	Filename       string                                       `json:"filename"`
	FileSize       int64                                        `json:"file_size"`
	FileType       string                                       `json:"file_type" gorm:"size:128"`
	CreatedByID    uuid.UUID                                    `json:"created_by_id" gorm:"type:uuid;not null;index"`
	Revision       int64                                        `json:"-" gorm:"not null;default:0"`
	CreatedAt      time.Time                                    `json:"created_at"`
	UpdatedAt      time.Time                                    `json:"updated_at"`
	DeletedAt      gorm.DeletedAt                               `json:"-" gorm:"index"`

	Fields []DocumentField `json:"fields,omitempty" gorm:"foreignKey:DocumentID"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Stages views the stored snapshot. Mutations through the view are
// visible on the document.
func (d *Document) Stages() workflows.Snapshot {
	return workflows.Snapshot(d.WorkflowStages)
}

// FieldPlacement positions one fillable field on the document pages.
type FieldPlacement struct {
	FieldName    string      `json:"field_name" binding:"required"`
	FieldLabel   string      `json:"field_label"`
	FieldType    FieldType   `json:"field_type" binding:"required,oneof=Text Signature"`
	PageNumbers  []int       `json:"page_numbers" binding:"required,min=1,dive,min=1"`
	XCoordinates float64     `json:"x_coordinates" binding:"min=0"`
	YCoordinates float64     `json:"y_coordinates" binding:"min=0"`
	FontSize     float64     `json:"font_size"`
	Width        float64     `json:"width"`
	Height       float64     `json:"height"`
	Stages       []uuid.UUID `json:"stages"`
}

// DocumentField holds the placement metadata bound to a document.
type DocumentField struct {
	ID          uuid.UUID                           `json:"id" gorm:"type:uuid;primaryKey"`
	DocumentID  uuid.UUID                           `json:"document_id" gorm:"type:uuid;not null;index"`
	CreatedByID uuid.UUID                           `json:"created_by_id" gorm:"type:uuid;not null"`
	DocData     datatypes.JSONSlice[FieldPlacement] `json:"doc_data" gorm:"type:jsonb;not null"`
	CreatedAt   time.Time                           `json:"created_at"`
	UpdatedAt   time.Time                           `json:"updated_at"`
}

func (f *DocumentField) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// DocumentVersion is one immutable ledger row.
type DocumentVersion struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	DocumentID  uuid.UUID `json:"document_id" gorm:"type:uuid;not null;index:idx_document_versions_doc_version,priority:1"`
	Version     int       `json:"version" gorm:"not null;index:idx_document_versions_doc_version,priority:2"`
	Action      Action    `json:"action" gorm:"size:32"`
	Content     string    `json:"content"`
	FileURL     string    `json:"file_url" gorm:"not null"`
	CreatedByID uuid.UUID `json:"created_by_id" gorm:"type:uuid;not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (v *DocumentVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// DocumentSignature accumulates every signature collected for a document.
type DocumentSignature struct {
	ID            uuid.UUID                                   `json:"id" gorm:"type:uuid;primaryKey"`
	DocumentID    uuid.UUID                                   `json:"document_id" gorm:"type:uuid;not null;uniqueIndex"`
	SignatureData datatypes.JSONSlice[security.SignatureData] `json:"signature_data" gorm:"type:jsonb;not null"`
	CreatedAt     time.Time                                   `json:"created_at"`
	UpdatedAt     time.Time                                   `json:"updated_at"`
}

func (s *DocumentSignature) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// OrphanedBlob is an uploaded object that no committed row references.
type OrphanedBlob struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Key        string     `json:"key" gorm:"not null"`
	Reason     string     `json:"reason"`
	DocumentID *uuid.UUID `json:"document_id" gorm:"type:uuid;index"`
	CreatedAt  time.Time  `json:"created_at"`
	SweptAt    *time.Time `json:"swept_at" gorm:"index"`
}

func (o *OrphanedBlob) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
