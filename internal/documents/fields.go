package documents

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/internal/workflows"
)

type FieldsRequest struct {
	DocumentID uuid.UUID        `json:"document_id" binding:"required"`
	DocData    []FieldPlacement `json:"doc_data" binding:"required,min=1,dive"`
}

type FieldsUpdateRequest struct {
	DocData []FieldPlacement `json:"doc_data" binding:"required,min=1,dive"`
}

// Validate checks the rules that depend on the field type.
func (f FieldPlacement) Validate() error {
	switch f.FieldType {
	case FieldText:
		if f.FontSize <= 0 {
			return fmt.Errorf("field %q: text fields need a font_size", f.FieldName)
		}
	case FieldSignature:
		if f.Width <= 0 || f.Height <= 0 {
			return fmt.Errorf("field %q: signature fields need a width and height", f.FieldName)
		}
	default:
		return fmt.Errorf("field %q: unknown field type %q", f.FieldName, f.FieldType)
	}
	return nil
}

func checkPlacements(op string, placements []FieldPlacement, stages workflows.Snapshot) error {
	for _, p := range placements {
		if err := p.Validate(); err != nil {
			return apperrors.Validation(op, err.Error())
		}
		for _, id := range p.Stages {
			if _, ok := stages.Find(id); !ok {
				return apperrors.Validation(op, fmt.Sprintf("field %q references a stage outside the document's workflow", p.FieldName))
			}
		}
	}
	return nil
}

func (s *documentService) CreateFields(ctx context.Context, req FieldsRequest, p auth.Principal) (*DocumentField, error) {
	const op = "documents.CreateFields"

	doc, err := s.load(ctx, op, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status.IsFinal() {
		return nil, apperrors.E(op, ErrDocumentFinalized)
	}
	if err := checkPlacements(op, req.DocData, doc.Stages()); err != nil {
		return nil, err
	}

	field := &DocumentField{
		DocumentID:  doc.ID,
		CreatedByID: p.UserID,
		DocData:     req.DocData,
	}
	if err := s.repo.CreateField(ctx, field); err != nil {
		return nil, apperrors.Internal(op, err)
	}

	s.logger.Info("Document fields bound",
		zap.String("document_id", doc.ID.String()),
		zap.Int("placements", len(req.DocData)))
	return field, nil
}

func (s *documentService) GetField(ctx context.Context, id uuid.UUID) (*DocumentField, error) {
	const op = "documents.GetField"

	field, err := s.repo.GetField(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if field == nil {
		return nil, apperrors.NotFound(op, "Document field not found")
	}
	return field, nil
}

func (s *documentService) UpdateField(ctx context.Context, id uuid.UUID, req FieldsUpdateRequest) (*DocumentField, error) {
	const op = "documents.UpdateField"

	field, err := s.GetField(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, op, field.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status.IsFinal() {
		return nil, apperrors.E(op, ErrDocumentFinalized)
	}
	if err := checkPlacements(op, req.DocData, doc.Stages()); err != nil {
		return nil, err
	}

	field.DocData = req.DocData
	if err := s.repo.UpdateField(ctx, field); err != nil {
		return nil, apperrors.Internal(op, err)
	}
	return field, nil
}

func (s *documentService) ListFields(ctx context.Context, documentID uuid.UUID) ([]DocumentField, error) {
	const op = "documents.ListFields"

	if _, err := s.load(ctx, op, documentID); err != nil {
		return nil, err
	}
	fields, err := s.repo.ListFields(ctx, documentID)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	return fields, nil
}
