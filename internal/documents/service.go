package documents

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/internal/documents/export"
	"github.com/igdrones/ig-docs-backend/internal/notifications"
	"github.com/igdrones/ig-docs-backend/internal/workflows"
	"github.com/igdrones/ig-docs-backend/pkg/security"
	"github.com/igdrones/ig-docs-backend/pkg/storage"
)

// WorkflowCatalog is the part of the workflow service documents rely on.
type WorkflowCatalog interface {
	GetWorkflowType(ctx context.Context, id uuid.UUID) (*workflows.WorkflowType, error)
	GetWorkflow(ctx context.Context, id uuid.UUID) (*workflows.Workflow, error)
	SequenceWorkflow(ctx context.Context, id uuid.UUID) (workflows.Snapshot, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error)
}

// Notifier receives events after the change they describe has committed.
type Notifier interface {
	Publish(ctx context.Context, ev notifications.Event)
}

type Service interface {
	CreateDocument(ctx context.Context, in CreateDocumentInput, p auth.Principal) (*DocumentView, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*DocumentView, error)
	SearchDocuments(ctx context.Context, filter SearchFilter) ([]Document, int64, error)
	MyStageActions(ctx context.Context, p auth.Principal, filter SearchFilter) ([]Document, int64, error)
	MyStageRequests(ctx context.Context, p auth.Principal, filter SearchFilter) ([]Document, int64, error)

	AssignStage(ctx context.Context, id uuid.UUID, req AssignStageRequest) (*DocumentView, error)
	Submit(ctx context.Context, id uuid.UUID, p auth.Principal) (*TransitionResult, error)
	CreateVersion(ctx context.Context, id uuid.UUID, in VersionInput, p auth.Principal) (*TransitionResult, error)

	ListVersions(ctx context.Context, id uuid.UUID, page, limit int) ([]VersionView, int64, error)
	ExportVersions(ctx context.Context, id uuid.UUID, format export.Format) (*ExportFile, error)

	CreateFields(ctx context.Context, req FieldsRequest, p auth.Principal) (*DocumentField, error)
	GetField(ctx context.Context, id uuid.UUID) (*DocumentField, error)
	UpdateField(ctx context.Context, id uuid.UUID, req FieldsUpdateRequest) (*DocumentField, error)
	ListFields(ctx context.Context, documentID uuid.UUID) ([]DocumentField, error)

	VerifySignatures(ctx context.Context, pdf []byte) ([]security.SignatureInfo, error)
	VerifyStoredSignatures(ctx context.Context, key string) ([]security.SignatureInfo, error)
}

type CreateDocumentInput struct {
	Name           string
	WorkflowTypeID uuid.UUID
	WorkflowID     uuid.UUID
	Filename       string
	ContentType    string
	Content        []byte
}

type VersionInput struct {
	Action      Action
	Content     string
	Filename    string
	ContentType string
	File        []byte
	Signature   []byte
}

type AssignStageRequest struct {
	StageID    uuid.UUID `json:"stage_id" binding:"required"`
	ActionByID uuid.UUID `json:"action_by_id" binding:"required"`
}

// DocumentView is a document plus a link to the file it currently shows.
type DocumentView struct {
	*Document
	DisplayURL string `json:"display_url,omitempty"`
}

type VersionView struct {
	DocumentVersion
	SignedURL string `json:"signed_url,omitempty"`
}

type TransitionResult struct {
	Document *DocumentView `json:"document"`
	Version  *VersionView  `json:"document_version"`
}

type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

type documentService struct {
	repo       Repository
	catalog    WorkflowCatalog
	users      UserDirectory
	storage    *StorageProvider
	signatures *SignatureService
	machine    *StateMachine
	gate       *Gate
	ledger     *Ledger
	notifier   Notifier
	logger     *zap.Logger
}

func NewService(
	repo Repository,
	catalog WorkflowCatalog,
	users UserDirectory,
	store *StorageProvider,
	signatures *SignatureService,
	notifier Notifier,
	logger *zap.Logger,
) Service {
	gate := NewGate()
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &documentService{
		repo:       repo,
		catalog:    catalog,
		users:      users,
		storage:    store,
		signatures: signatures,
		machine:    NewStateMachine(gate),
		gate:       gate,
		ledger:     NewLedger(repo),
		notifier:   notifier,
		logger:     logger,
	}
}

func (s *documentService) CreateDocument(ctx context.Context, in CreateDocumentInput, p auth.Principal) (*DocumentView, error) {
	const op = "documents.CreateDocument"

	if _, err := s.catalog.GetWorkflowType(ctx, in.WorkflowTypeID); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Validation(op, "Invalid workflow type ID")
		}
		return nil, err
	}
	wf, err := s.catalog.GetWorkflow(ctx, in.WorkflowID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Validation(op, "Invalid workflow ID")
		}
		return nil, err
	}
	if wf.WorkflowTypeID != in.WorkflowTypeID {
		return nil, apperrors.Validation(op, "Workflow does not belong to the workflow type")
	}

	snap, err := s.catalog.SequenceWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, err
	}

	key := s.storage.OriginalKey(in.Filename)
	if err := s.storage.Put(ctx, key, in.Content, in.ContentType); err != nil {
		return nil, apperrors.Dependency(op, err)
	}

	doc := &Document{
		Name:           in.Name,
		WorkflowTypeID: in.WorkflowTypeID,
		WorkflowID:     wf.ID,
		WorkflowStages: datatypes.JSONSlice[workflows.StageSnapshot](snap),
		Status:         StatusDraft,
		FileURL:        key,
		Filename:       in.Filename,
		FileSize:       int64(len(in.Content)),
		FileType:       in.ContentType,
		CreatedByID:    p.UserID,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		s.discard(ctx, key, nil, err)
		return nil, apperrors.Internal(op, err)
	}

	s.logger.Info("Document created",
		zap.String("document_id", doc.ID.String()),
		zap.String("workflow_id", doc.WorkflowID.String()),
		zap.Int("stages", len(snap)))
	return s.view(ctx, op, doc)
}

func (s *documentService) GetDocument(ctx context.Context, id uuid.UUID) (*DocumentView, error) {
	const op = "documents.GetDocument"

	doc, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	fields, err := s.repo.ListFields(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	doc.Fields = fields
	return s.view(ctx, op, doc)
}

func (s *documentService) SearchDocuments(ctx context.Context, filter SearchFilter) ([]Document, int64, error) {
	docs, total, err := s.repo.SearchDocuments(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.Internal("documents.SearchDocuments", err)
	}
	return docs, total, nil
}

func (s *documentService) MyStageActions(ctx context.Context, p auth.Principal, filter SearchFilter) ([]Document, int64, error) {
	docs, total, err := s.repo.ListAssigned(ctx, p, filter, false)
	if err != nil {
		return nil, 0, apperrors.Internal("documents.MyStageActions", err)
	}
	return docs, total, nil
}

func (s *documentService) MyStageRequests(ctx context.Context, p auth.Principal, filter SearchFilter) ([]Document, int64, error) {
	docs, total, err := s.repo.ListAssigned(ctx, p, filter, true)
	if err != nil {
		return nil, 0, apperrors.Internal("documents.MyStageRequests", err)
	}
	return docs, total, nil
}

// AssignStage binds a user to one stage of the document's snapshot. The
// user must hold the role the stage requires.
func (s *documentService) AssignStage(ctx context.Context, id uuid.UUID, req AssignStageRequest) (*DocumentView, error) {
	const op = "documents.AssignStage"

	doc, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	assignee, err := s.users.GetUser(ctx, req.ActionByID)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if assignee == nil {
		return nil, apperrors.NotFound(op, "User not found")
	}

	stages := doc.Stages()
	stage, ok := stages.Find(req.StageID)
	if !ok {
		return nil, apperrors.E(op, workflows.ErrStageNotInSnapshot)
	}
	if !s.gate.CanBeAssigned(stage, assignee) {
		return nil, apperrors.E(op, ErrRoleMismatch)
	}
	if err := stages.Assign(stage.ID, assignee.ID); err != nil {
		return nil, apperrors.E(op, err)
	}

	if err := s.repo.UpdateStages(ctx, doc); err != nil {
		return nil, apperrors.E(op, err)
	}

	s.logger.Info("Stage assigned",
		zap.String("document_id", doc.ID.String()),
		zap.String("stage_id", stage.ID.String()),
		zap.Int("sequence", stage.Sequence),
		zap.String("action_by_id", assignee.ID.String()))
	s.publish(ctx, notifications.EventStageAssigned, doc, "", uuid.Nil, assignee.ID)

	return s.view(ctx, op, doc)
}

// Submit moves a document with bound fields onto its first stage.
func (s *documentService) Submit(ctx context.Context, id uuid.UUID, p auth.Principal) (*TransitionResult, error) {
	const op = "documents.Submit"

	doc, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.CountFields(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}

	t, err := s.machine.Submit(doc, n)
	if err != nil {
		return nil, apperrors.E(op, err)
	}

	version := s.ledger.Entry(doc, t, SubmitContent, doc.FileURL, p.UserID)
	if err := s.repo.ApplyTransition(ctx, doc, Change{To: t.To, Version: version}); err != nil {
		return nil, apperrors.E(op, err)
	}

	s.logger.Info("Document submitted",
		zap.String("document_id", doc.ID.String()),
		zap.String("actor_id", p.UserID.String()))
	s.publish(ctx, notifications.EventDocumentSubmitted, doc, t.Action, p.UserID, nextAssignee(doc))

	return s.result(ctx, op, doc, version)
}

// CreateVersion applies an action at the document's current stage. The
// artifact is uploaded first; the document and ledger change commit only
// after the upload is durable. A blob whose commit fails is deleted, or
// recorded for the sweeper when deletion fails too.
func (s *documentService) CreateVersion(ctx context.Context, id uuid.UUID, in VersionInput, p auth.Principal) (*TransitionResult, error) {
	const op = "documents.CreateVersion"

	doc, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}

	t, err := s.machine.Apply(doc, Intent{
		Action:       in.Action,
		Actor:        p,
		HasSignature: len(in.Signature) > 0,
	})
	if err != nil {
		s.logger.Debug("Transition refused",
			zap.String("document_id", doc.ID.String()),
			zap.String("action", string(in.Action)),
			zap.String("actor_id", p.UserID.String()),
			zap.Error(err))
		return nil, apperrors.E(op, err)
	}

	artifact := in.File
	var sig *security.SignatureData
	if t.RequiresSignature() {
		signed := s.signatures.Sign(doc, s.signerName(ctx, p), in.Signature)
		sig = &signed
	}
	if t.EmbedsSignatures() {
		collected, err := s.repo.GetSignatures(ctx, doc.ID)
		if err != nil {
			return nil, apperrors.Internal(op, err)
		}
		if artifact, err = s.signatures.Finalize(in.File, collected, *sig); err != nil {
			return nil, apperrors.Dependency(op, err)
		}
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	key := s.storage.VersionKey(doc.ID, doc.CurrentStage, in.Filename)
	if err := s.storage.Put(ctx, key, artifact, contentType); err != nil {
		return nil, apperrors.Dependency(op, err)
	}

	version := s.ledger.Entry(doc, t, in.Content, key, p.UserID)
	if err := s.repo.ApplyTransition(ctx, doc, Change{To: t.To, Version: version, Signature: sig}); err != nil {
		s.discard(ctx, key, &doc.ID, err)
		if errors.Is(err, ErrConcurrentTransition) {
			s.logger.Warn("Concurrent transition rejected",
				zap.String("document_id", doc.ID.String()),
				zap.String("action", string(t.Action)))
		}
		return nil, apperrors.E(op, err)
	}

	s.logger.Info("Document transitioned",
		zap.String("document_id", doc.ID.String()),
		zap.String("action", string(t.Action)),
		zap.Int("stage", doc.CurrentStage),
		zap.Int("version", doc.CurrentVersion),
		zap.String("status", string(doc.Status)))
	s.publish(ctx, notifications.EventDocumentTransitioned, doc, t.Action, p.UserID, nextAssignee(doc), doc.CreatedByID)

	return s.result(ctx, op, doc, version)
}

func (s *documentService) ListVersions(ctx context.Context, id uuid.UUID, page, limit int) ([]VersionView, int64, error) {
	const op = "documents.ListVersions"

	if _, err := s.load(ctx, op, id); err != nil {
		return nil, 0, err
	}
	rows, total, err := s.ledger.List(ctx, id, page, limit)
	if err != nil {
		return nil, 0, apperrors.Internal(op, err)
	}

	views := make([]VersionView, len(rows))
	for i := range rows {
		v, err := s.versionView(ctx, op, &rows[i])
		if err != nil {
			return nil, 0, err
		}
		views[i] = *v
	}
	return views, total, nil
}

func (s *documentService) ExportVersions(ctx context.Context, id uuid.UUID, format export.Format) (*ExportFile, error) {
	const op = "documents.ExportVersions"

	doc, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	versions, err := s.ledger.All(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}

	names := make(map[uuid.UUID]string)
	rows := make([]export.Row, len(versions))
	for i, v := range versions {
		rows[i] = export.Row{
			Version:   v.Version,
			Action:    string(v.Action),
			Content:   v.Content,
			FileKey:   v.FileURL,
			CreatedBy: s.displayName(ctx, names, v.CreatedByID),
			CreatedAt: v.CreatedAt,
		}
	}

	header := export.Header{
		DocumentID:     doc.ID.String(),
		DocumentName:   doc.Name,
		Status:         string(doc.Status),
		CurrentStage:   doc.CurrentStage,
		CurrentVersion: doc.CurrentVersion,
	}
	data, err := export.Render(format, header, rows)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	return &ExportFile{
		Filename:    export.Filename(header, format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

func (s *documentService) VerifySignatures(ctx context.Context, pdf []byte) ([]security.SignatureInfo, error) {
	const op = "documents.VerifySignatures"

	infos, err := s.signatures.Verify(ctx, bytes.NewReader(pdf))
	if err != nil {
		if errors.Is(err, security.ErrNoSignature) {
			return nil, apperrors.Wrap(apperrors.KindValidation, op, "Document carries no signatures", err)
		}
		return nil, apperrors.Wrap(apperrors.KindValidation, op, "Signature block is malformed", err)
	}
	return infos, nil
}

func (s *documentService) VerifyStoredSignatures(ctx context.Context, key string) ([]security.SignatureInfo, error) {
	const op = "documents.VerifyStoredSignatures"

	if !validKey(key) {
		return nil, apperrors.Validation(op, "Invalid document key")
	}
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, apperrors.NotFound(op, "Stored document not found")
		}
		return nil, apperrors.Dependency(op, err)
	}
	return s.VerifySignatures(ctx, data)
}

func (s *documentService) load(ctx context.Context, op string, id uuid.UUID) (*Document, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if doc == nil {
		return nil, apperrors.NotFound(op, "Document not found")
	}
	return doc, nil
}

func (s *documentService) view(ctx context.Context, op string, doc *Document) (*DocumentView, error) {
	key, err := s.ledger.DisplayFile(ctx, doc)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	url, err := s.storage.SignedURL(ctx, key)
	if err != nil {
		return nil, apperrors.Dependency(op, err)
	}
	return &DocumentView{Document: doc, DisplayURL: url}, nil
}

func (s *documentService) versionView(ctx context.Context, op string, v *DocumentVersion) (*VersionView, error) {
	url, err := s.storage.SignedURL(ctx, v.FileURL)
	if err != nil {
		return nil, apperrors.Dependency(op, err)
	}
	return &VersionView{DocumentVersion: *v, SignedURL: url}, nil
}

func (s *documentService) result(ctx context.Context, op string, doc *Document, v *DocumentVersion) (*TransitionResult, error) {
	dv, err := s.view(ctx, op, doc)
	if err != nil {
		return nil, err
	}
	vv, err := s.versionView(ctx, op, v)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{Document: dv, Version: vv}, nil
}

// discard removes a blob that no committed row will reference.
func (s *documentService) discard(ctx context.Context, key string, documentID *uuid.UUID, cause error) {
	ctx = context.WithoutCancel(ctx)

	err := s.storage.Delete(ctx, key)
	if err == nil {
		return
	}
	s.logger.Warn("Failed to delete uncommitted blob", zap.String("key", key), zap.Error(err))

	orphan := &OrphanedBlob{Key: key, Reason: cause.Error(), DocumentID: documentID}
	if err := s.repo.RecordOrphan(ctx, orphan); err != nil {
		s.logger.Error("Failed to record orphaned blob", zap.String("key", key), zap.Error(err))
	}
}

func (s *documentService) signerName(ctx context.Context, p auth.Principal) string {
	u, err := s.users.GetUser(ctx, p.UserID)
	if err != nil || u == nil || u.Name == "" {
		return p.UserID.String()
	}
	return u.Name
}

func (s *documentService) displayName(ctx context.Context, cache map[uuid.UUID]string, id uuid.UUID) string {
	if name, ok := cache[id]; ok {
		return name
	}
	name := id.String()
	if u, err := s.users.GetUser(ctx, id); err == nil && u != nil && u.Name != "" {
		name = u.Name
	}
	cache[id] = name
	return name
}

func (s *documentService) publish(ctx context.Context, typ notifications.EventType, doc *Document, action Action, actor uuid.UUID, recipients ...uuid.UUID) {
	s.notifier.Publish(ctx, notifications.Event{
		Type:           typ,
		DocumentID:     doc.ID,
		DocumentName:   doc.Name,
		Status:         string(doc.Status),
		Action:         string(action),
		CurrentStage:   doc.CurrentStage,
		CurrentVersion: doc.CurrentVersion,
		ActorID:        actor,
		Recipients:     uniqueIDs(recipients),
	})
}

// nextAssignee is the user bound to the stage the document now waits on.
func nextAssignee(doc *Document) uuid.UUID {
	if doc.Status.IsFinal() {
		return uuid.Nil
	}
	st, ok := doc.Stages().StageAt(doc.CurrentStage)
	if !ok || st.ActionByID == nil {
		return uuid.Nil
	}
	return *st.ActionByID
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, notifications.Event) {}
