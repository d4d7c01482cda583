package documents

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/pkg/security"
)

// SearchFilter narrows document listings.
type SearchFilter struct {
	Name           string
	WorkflowTypeID *uuid.UUID
	WorkflowID     *uuid.UUID
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

// Change is the persisted half of a Transition.
type Change struct {
	To        Counters
	Version   *DocumentVersion
	Signature *security.SignatureData
}

type Repository interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	SearchDocuments(ctx context.Context, filter SearchFilter) ([]Document, int64, error)
	ListAssigned(ctx context.Context, p auth.Principal, filter SearchFilter, currentOnly bool) ([]Document, int64, error)
	UpdateStages(ctx context.Context, doc *Document) error
	ApplyTransition(ctx context.Context, doc *Document, change Change) error

	CreateField(ctx context.Context, field *DocumentField) error
	GetField(ctx context.Context, id uuid.UUID) (*DocumentField, error)
	UpdateField(ctx context.Context, field *DocumentField) error
	ListFields(ctx context.Context, documentID uuid.UUID) ([]DocumentField, error)
	CountFields(ctx context.Context, documentID uuid.UUID) (int64, error)

	LatestVersions(ctx context.Context, documentID uuid.UUID, n int) ([]DocumentVersion, error)
	ListVersions(ctx context.Context, documentID uuid.UUID, page, limit int) ([]DocumentVersion, int64, error)
	GetSignatures(ctx context.Context, documentID uuid.UUID) ([]security.SignatureData, error)

	RecordOrphan(ctx context.Context, orphan *OrphanedBlob) error
	PendingOrphans(ctx context.Context, limit int) ([]OrphanedBlob, error)
	MarkOrphanSwept(ctx context.Context, id uuid.UUID, at time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateDocument(ctx context.Context, doc *Document) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(doc).Error
}

func (r *gormRepository) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &doc, err
}

func (r *gormRepository) SearchDocuments(ctx context.Context, filter SearchFilter) ([]Document, int64, error) {
	filter = filter.normalize()
	q := r.db.WithContext(ctx).Model(&Document{})
	if filter.Name != "" {
		q = q.Where("name ILIKE ?", "%"+filter.Name+"%")
	}
	if filter.WorkflowTypeID != nil {
		q = q.Where("workflow_type_id = ?", *filter.WorkflowTypeID)
	}
	if filter.WorkflowID != nil {
		q = q.Where("workflow_id = ?", *filter.WorkflowID)
	}
	return r.page(q, filter)
}

// ListAssigned finds documents with a snapshot stage bound to p under p's
// role. currentOnly restricts to stages the document is waiting on.
func (r *gormRepository) ListAssigned(ctx context.Context, p auth.Principal, filter SearchFilter, currentOnly bool) ([]Document, int64, error) {
	filter = filter.normalize()
	q := r.db.WithContext(ctx).Model(&Document{})

	if currentOnly {
		q = q.Where(`EXISTS (
			SELECT 1 FROM jsonb_array_elements(documents.workflow_stages) AS s
			WHERE (s->>'sequence')::int = documents.current_stage
			  AND s->>'role_id' = ? AND s->>'action_by_id' = ?)`,
			p.RoleID.String(), p.UserID.String())
	} else {
		match, err := json.Marshal([]map[string]string{{
			"role_id":      p.RoleID.String(),
			"action_by_id": p.UserID.String(),
		}})
		if err != nil {
			return nil, 0, err
		}
		q = q.Where("workflow_stages @> ?::jsonb", string(match))
	}
	if filter.Name != "" {
		q = q.Where("name ILIKE ?", "%"+filter.Name+"%")
	}
	return r.page(q, filter)
}

func (r *gormRepository) page(q *gorm.DB, filter SearchFilter) ([]Document, int64, error) {
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var docs []Document
	err := q.Order("created_at DESC").
		Offset(filter.offset()).
		Limit(filter.Limit).
		Find(&docs).Error
	return docs, total, err
}

// UpdateStages writes the snapshot back if nobody else changed the
// document since it was read.
func (r *gormRepository) UpdateStages(ctx context.Context, doc *Document) error {
	res := r.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND revision = ?", doc.ID, doc.Revision).
		Updates(map[string]interface{}{
			"workflow_stages": doc.WorkflowStages,
			"revision":        gorm.Expr("revision + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentTransition
	}
	doc.Revision++
	return nil
}

// ApplyTransition commits the new counters, the ledger row and any new
// signature atomically. The document row is only updated when its
// revision still matches, so at most one transition wins per revision.
func (r *gormRepository) ApplyTransition(ctx context.Context, doc *Document, change Change) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Document{}).
			Where("id = ? AND revision = ?", doc.ID, doc.Revision).
			Updates(map[string]interface{}{
				"current_stage":   change.To.Stage,
				"current_version": change.To.Version,
				"status":          change.To.Status,
				"revision":        gorm.Expr("revision + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentTransition
		}

		if change.Version != nil {
			if err := tx.Create(change.Version).Error; err != nil {
				return err
			}
		}

		if change.Signature != nil {
			if err := appendSignature(tx, doc.ID, *change.Signature); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	doc.CurrentStage = change.To.Stage
	doc.CurrentVersion = change.To.Version
	doc.Status = change.To.Status
	doc.Revision++
	return nil
}

func appendSignature(tx *gorm.DB, documentID uuid.UUID, sig security.SignatureData) error {
	var set DocumentSignature
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("document_id = ?", documentID).
		First(&set).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		set = DocumentSignature{DocumentID: documentID, SignatureData: []security.SignatureData{sig}}
		return tx.Create(&set).Error
	case err != nil:
		return err
	}
	set.SignatureData = append(set.SignatureData, sig)
	return tx.Model(&set).Update("signature_data", set.SignatureData).Error
}

func (r *gormRepository) CreateField(ctx context.Context, field *DocumentField) error {
	return r.db.WithContext(ctx).Create(field).Error
}

func (r *gormRepository) GetField(ctx context.Context, id uuid.UUID) (*DocumentField, error) {
	var f DocumentField
	err := r.db.WithContext(ctx).First(&f, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &f, err
}

func (r *gormRepository) UpdateField(ctx context.Context, field *DocumentField) error {
	return r.db.WithContext(ctx).Save(field).Error
}

func (r *gormRepository) ListFields(ctx context.Context, documentID uuid.UUID) ([]DocumentField, error) {
	var fields []DocumentField
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&fields).Error
	return fields, err
}

func (r *gormRepository) CountFields(ctx context.Context, documentID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&DocumentField{}).Where("document_id = ?", documentID).Count(&n).Error
	return n, err
}

// LatestVersions returns the n most recent ledger rows. Rows sharing a
// version number are ordered by creation time.
func (r *gormRepository) LatestVersions(ctx context.Context, documentID uuid.UUID, n int) ([]DocumentVersion, error) {
	var versions []DocumentVersion
	q := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("version DESC").
		Order("created_at DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	err := q.Find(&versions).Error
	return versions, err
}

func (r *gormRepository) ListVersions(ctx context.Context, documentID uuid.UUID, page, limit int) ([]DocumentVersion, int64, error) {
	f := SearchFilter{Page: page, Limit: limit}.normalize()
	q := r.db.WithContext(ctx).Model(&DocumentVersion{}).Where("document_id = ?", documentID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var versions []DocumentVersion
	err := q.Order("version DESC").Order("created_at DESC").
		Offset(f.offset()).
		Limit(f.Limit).
		Find(&versions).Error
	return versions, total, err
}

func (r *gormRepository) GetSignatures(ctx context.Context, documentID uuid.UUID) ([]security.SignatureData, error) {
	var set DocumentSignature
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).First(&set).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return set.SignatureData, nil
}

func (r *gormRepository) RecordOrphan(ctx context.Context, orphan *OrphanedBlob) error {
	return r.db.WithContext(ctx).Create(orphan).Error
}

func (r *gormRepository) PendingOrphans(ctx context.Context, limit int) ([]OrphanedBlob, error) {
	var orphans []OrphanedBlob
	err := r.db.WithContext(ctx).
		Where("swept_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&orphans).Error
	return orphans, err
}

func (r *gormRepository) MarkOrphanSwept(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&OrphanedBlob{}).Where("id = ?", id).Update("swept_at", at).Error
}
