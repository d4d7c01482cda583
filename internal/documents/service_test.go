package documents

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/internal/documents/export"
	"github.com/igdrones/ig-docs-backend/internal/notifications"
	"github.com/igdrones/ig-docs-backend/internal/workflows"
	"github.com/igdrones/ig-docs-backend/pkg/security"
	"github.com/igdrones/ig-docs-backend/pkg/storage"
)

const testBucket = "ig-docs-test"

var samplePDF = []byte("%PDF-1.4\n1 0 obj <<>> endobj\ntrailer <<>>\n%%EOF")

type serviceFixture struct {
	repo     *memRepository
	catalog  *MockCatalog
	blobs    *storage.MemoryClient
	notifier *recordingNotifier
	users    fakeUsers
	chain    approvalChain
	svc      Service
}

func newServiceFixture(t *testing.T, stages int, client storage.S3Client) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		repo:     newMemRepository(),
		catalog:  new(MockCatalog),
		blobs:    storage.NewMemoryClient(),
		notifier: &recordingNotifier{},
		users:    fakeUsers{},
		chain:    newApprovalChain(stages),
	}
	for i, id := range f.chain.users {
		f.users[id] = &auth.User{ID: id, Name: "Approver " + string(rune('A'+i)), RoleID: f.chain.roles[i]}
	}
	if client == nil {
		client = f.blobs
	}

	store := NewStorageProvider(client, StorageOptions{Bucket: testBucket})
	signatures := NewSignatureService(security.NewSigner("IG Drones", "IG Drones Document Authority"), security.NewValidator(5<<20))
	f.svc = NewService(f.repo, f.catalog, f.users, store, signatures, f.notifier, zap.NewNop())
	return f
}

// seed stores a draft document with one bound field.
func (f *serviceFixture) seed(t *testing.T) *Document {
	t.Helper()
	ctx := context.Background()

	doc := f.chain.document()
	require.NoError(t, f.repo.CreateDocument(ctx, doc))
	_, err := f.blobs.Upload(ctx, testBucket, doc.FileURL, bytes.NewReader(samplePDF), "application/pdf")
	require.NoError(t, err)
	require.NoError(t, f.repo.CreateField(ctx, &DocumentField{
		DocumentID: doc.ID,
		DocData:    []FieldPlacement{{FieldName: "approver", FieldType: FieldSignature, PageNumbers: []int{1}, Width: 120, Height: 40}},
	}))
	return doc
}

func (f *serviceFixture) version(t *testing.T, docID uuid.UUID, stage int, action Action) (*TransitionResult, error) {
	t.Helper()
	return f.svc.CreateVersion(context.Background(), docID, VersionInput{
		Action:    action,
		Content:   string(action) + " by stage owner",
		Filename:  "report.pdf",
		File:      samplePDF,
		Signature: []byte("png-bytes"),
	}, f.chain.actor(stage))
}

func ledgerVersions(t *testing.T, repo *memRepository, docID uuid.UUID) []int {
	t.Helper()
	rows, err := NewLedger(repo).All(context.Background(), docID)
	require.NoError(t, err)
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.Version
	}
	return out
}

func TestCreateDocument(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 2, nil)
	creator := auth.Principal{UserID: uuid.New()}
	wf := &workflows.Workflow{ID: f.chain.snapshot[0].WorkflowID, WorkflowTypeID: uuid.New()}

	f.catalog.On("GetWorkflowType", mock.Anything, wf.WorkflowTypeID).Return(&workflows.WorkflowType{ID: wf.WorkflowTypeID}, nil)
	f.catalog.On("GetWorkflow", mock.Anything, wf.ID).Return(wf, nil)
	f.catalog.On("SequenceWorkflow", mock.Anything, wf.ID).Return(f.chain.snapshot.Clone(), nil)

	view, err := f.svc.CreateDocument(ctx, CreateDocumentInput{
		Name:           "Survey Report",
		WorkflowTypeID: wf.WorkflowTypeID,
		WorkflowID:     wf.ID,
		Filename:       "Survey.PDF",
		ContentType:    "application/pdf",
		Content:        samplePDF,
	}, creator)
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, view.Status)
	assert.Equal(t, 0, view.CurrentStage)
	assert.Equal(t, 0, view.CurrentVersion)
	assert.Equal(t, creator.UserID, view.CreatedByID)
	assert.Len(t, view.WorkflowStages, 2)
	assert.Regexp(t, `^documents/[0-9a-f-]{36}\.pdf$`, view.FileURL)
	assert.True(t, f.blobs.Has(testBucket, view.FileURL))
	assert.Contains(t, view.DisplayURL, view.FileURL)
	f.catalog.AssertExpectations(t)
}

func TestCreateDocumentRejectsUnknownCatalogEntries(t *testing.T) {
	ctx := context.Background()
	typeID, wfID := uuid.New(), uuid.New()

	t.Run("workflow type", func(t *testing.T) {
		f := newServiceFixture(t, 1, nil)
		f.catalog.On("GetWorkflowType", mock.Anything, typeID).Return(nil, apperrors.NotFound("workflows.GetWorkflowType", "Workflow type not found"))

		_, err := f.svc.CreateDocument(ctx, CreateDocumentInput{WorkflowTypeID: typeID, WorkflowID: wfID, Content: samplePDF}, auth.Principal{UserID: uuid.New()})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Equal(t, "Invalid workflow type ID", apperrors.Message(err))
		assert.Zero(t, f.blobs.Len())
	})

	t.Run("workflow of another type", func(t *testing.T) {
		f := newServiceFixture(t, 1, nil)
		f.catalog.On("GetWorkflowType", mock.Anything, typeID).Return(&workflows.WorkflowType{ID: typeID}, nil)
		f.catalog.On("GetWorkflow", mock.Anything, wfID).Return(&workflows.Workflow{ID: wfID, WorkflowTypeID: uuid.New()}, nil)

		_, err := f.svc.CreateDocument(ctx, CreateDocumentInput{WorkflowTypeID: typeID, WorkflowID: wfID, Content: samplePDF}, auth.Principal{UserID: uuid.New()})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		f.catalog.AssertNotCalled(t, "SequenceWorkflow", mock.Anything, mock.Anything)
	})
}

func TestSubmitRequiresBoundFields(t *testing.T) {
	f := newServiceFixture(t, 2, nil)
	doc := f.chain.document()
	require.NoError(t, f.repo.CreateDocument(context.Background(), doc))

	_, err := f.svc.Submit(context.Background(), doc.ID, auth.Principal{UserID: uuid.New()})
	assert.ErrorIs(t, err, ErrNoFieldsBound)
	assert.True(t, apperrors.IsState(err))
	assert.Empty(t, ledgerVersions(t, f.repo, doc.ID))
}

func TestApprovalLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 2, nil)
	doc := f.seed(t)
	submitter := auth.Principal{UserID: uuid.New()}

	res, err := f.svc.Submit(ctx, doc.ID, submitter)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Document.CurrentStage)
	assert.Equal(t, 1, res.Document.CurrentVersion)
	assert.Equal(t, StatusInTransition, res.Document.Status)
	assert.Equal(t, SubmitContent, res.Version.Content)
	assert.Equal(t, doc.FileURL, res.Version.FileURL)

	res, err = f.version(t, doc.ID, 1, ActionAccepted)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Document.CurrentStage)
	assert.Regexp(t, `^documents/`+doc.ID.String()+`/1/[0-9a-f-]{36}report\.pdf$`, res.Version.FileURL)
	assert.Contains(t, res.Document.DisplayURL, res.Version.FileURL)

	res, err = f.version(t, doc.ID, 2, ActionCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Document.Status)
	assert.Equal(t, 3, res.Document.CurrentStage)
	assert.Equal(t, 3, res.Document.CurrentVersion)

	assert.Equal(t, []int{1, 1, 2}, ledgerVersions(t, f.repo, doc.ID))

	final, err := f.svc.VerifyStoredSignatures(ctx, res.Version.FileURL)
	require.NoError(t, err)
	require.Len(t, final, 2)
	assert.Equal(t, "Approver A", final[0].SignerName)
	assert.Equal(t, "Approver B", final[1].SignerName)

	_, err = f.version(t, doc.ID, 2, ActionAccepted)
	assert.ErrorIs(t, err, ErrDocumentFinalized)

	var types []notifications.EventType
	for _, ev := range f.notifier.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []notifications.EventType{
		notifications.EventDocumentSubmitted,
		notifications.EventDocumentTransitioned,
		notifications.EventDocumentTransitioned,
	}, types)
	assert.Equal(t, []uuid.UUID{f.chain.users[0]}, f.notifier.Events()[0].Recipients)
}

func TestCreateVersionRefusalLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 2, nil)
	doc := f.seed(t)
	_, err := f.svc.Submit(ctx, doc.ID, auth.Principal{UserID: uuid.New()})
	require.NoError(t, err)
	blobs := f.blobs.Len()

	_, err = f.version(t, doc.ID, 2, ActionAccepted)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorizedActor)
	assert.True(t, apperrors.IsForbidden(err))

	assert.Equal(t, blobs, f.blobs.Len())
	assert.Equal(t, []int{1}, ledgerVersions(t, f.repo, doc.ID))
}

func TestCreateVersionConcurrentConflict(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 2, nil)
	doc := f.seed(t)
	_, err := f.svc.Submit(ctx, doc.ID, auth.Principal{UserID: uuid.New()})
	require.NoError(t, err)
	blobs := f.blobs.Len()

	// Another request commits between our read and our write.
	f.repo.beforeApply = func() {
		f.repo.mu.Lock()
		defer f.repo.mu.Unlock()
		stored := f.repo.docs[doc.ID]
		stored.Revision++
		f.repo.docs[doc.ID] = stored
	}

	_, err = f.version(t, doc.ID, 1, ActionAccepted)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrentTransition)
	assert.True(t, apperrors.IsConflict(err))

	assert.Equal(t, blobs, f.blobs.Len(), "the uploaded artifact must be discarded")
	assert.Empty(t, f.repo.orphans)
	assert.Equal(t, []int{1}, ledgerVersions(t, f.repo, doc.ID))
}

func TestCreateVersionUploadFailureMutatesNothing(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewMemoryClient()
	f := newServiceFixture(t, 2, failingUploadClient{blobs})
	f.blobs = blobs
	doc := f.seed(t)
	_, err := f.svc.Submit(ctx, doc.ID, auth.Principal{UserID: uuid.New()})
	require.NoError(t, err)
	before, err := f.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	stored := blobs.Len()

	for _, action := range []Action{ActionAccepted, ActionCompleted} {
		_, err = f.version(t, doc.ID, 1, action)
		require.Error(t, err, action)
		assert.True(t, apperrors.IsDependency(err), action)
	}

	after, err := f.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.CurrentStage)
	assert.Equal(t, 1, after.CurrentVersion)
	assert.Equal(t, StatusInTransition, after.Status)
	assert.Equal(t, before.Revision, after.Revision)

	assert.Equal(t, []int{1}, ledgerVersions(t, f.repo, doc.ID))
	sigs, err := f.repo.GetSignatures(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, sigs)
	assert.Empty(t, f.repo.orphans)
	assert.Equal(t, stored, blobs.Len())
	assert.Len(t, f.notifier.Events(), 1, "only the submission is announced")
}

func TestCreateVersionRecordsOrphanWhenDiscardFails(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewMemoryClient()
	f := newServiceFixture(t, 2, failingDeleteClient{blobs})
	f.blobs = blobs
	doc := f.seed(t)
	_, err := f.svc.Submit(ctx, doc.ID, auth.Principal{UserID: uuid.New()})
	require.NoError(t, err)

	cause := errors.New("connection reset")
	f.repo.applyErr = cause
	_, err = f.version(t, doc.ID, 1, ActionAccepted)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	require.Len(t, f.repo.orphans, 1)
	orphan := f.repo.orphans[0]
	assert.Contains(t, orphan.Key, "documents/"+doc.ID.String()+"/1/")
	assert.Equal(t, "connection reset", orphan.Reason)
	require.NotNil(t, orphan.DocumentID)
	assert.Equal(t, doc.ID, *orphan.DocumentID)
	assert.True(t, blobs.Has(testBucket, orphan.Key))
}

func TestAssignStage(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 2, nil)
	doc := f.seed(t)
	stage := f.chain.snapshot[1]

	t.Run("role mismatch", func(t *testing.T) {
		outsider := &auth.User{ID: uuid.New(), RoleID: uuid.New()}
		f.users[outsider.ID] = outsider

		_, err := f.svc.AssignStage(ctx, doc.ID, AssignStageRequest{StageID: stage.ID, ActionByID: outsider.ID})
		assert.ErrorIs(t, err, ErrRoleMismatch)
	})

	t.Run("unknown stage", func(t *testing.T) {
		_, err := f.svc.AssignStage(ctx, doc.ID, AssignStageRequest{StageID: uuid.New(), ActionByID: f.chain.users[1]})
		assert.ErrorIs(t, err, workflows.ErrStageNotInSnapshot)
	})

	t.Run("binds a user holding the role", func(t *testing.T) {
		deputy := &auth.User{ID: uuid.New(), RoleID: stage.RoleID}
		f.users[deputy.ID] = deputy

		view, err := f.svc.AssignStage(ctx, doc.ID, AssignStageRequest{StageID: stage.ID, ActionByID: deputy.ID})
		require.NoError(t, err)
		st, ok := view.Stages().Find(stage.ID)
		require.True(t, ok)
		assert.Equal(t, deputy.ID, *st.ActionByID)

		stored, err := f.repo.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		st, _ = stored.Stages().Find(stage.ID)
		assert.Equal(t, deputy.ID, *st.ActionByID)

		events := f.notifier.Events()
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, notifications.EventStageAssigned, last.Type)
		assert.Equal(t, []uuid.UUID{deputy.ID}, last.Recipients)
	})
}

func TestMyStageQueries(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 2, nil)
	doc := f.seed(t)
	_, err := f.svc.Submit(ctx, doc.ID, auth.Principal{UserID: uuid.New()})
	require.NoError(t, err)

	actions, total, err := f.svc.MyStageActions(ctx, f.chain.actor(2), SearchFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, actions, 1)

	requests, total, err := f.svc.MyStageRequests(ctx, f.chain.actor(2), SearchFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, requests)

	requests, _, err = f.svc.MyStageRequests(ctx, f.chain.actor(1), SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

func TestListAndExportVersions(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 2, nil)
	doc := f.seed(t)
	_, err := f.svc.Submit(ctx, doc.ID, auth.Principal{UserID: uuid.New()})
	require.NoError(t, err)
	_, err = f.version(t, doc.ID, 1, ActionAccepted)
	require.NoError(t, err)

	views, total, err := f.svc.ListVersions(ctx, doc.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, views, 2)
	assert.Equal(t, ActionAccepted, views[0].Action)
	assert.Contains(t, views[0].SignedURL, views[0].FileURL)

	file, err := f.svc.ExportVersions(ctx, doc.ID, export.FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, "Survey_Report-ledger.xlsx", file.Filename)
	assert.Equal(t, export.FormatXLSX.ContentType(), file.ContentType)
	assert.NotEmpty(t, file.Data)

	_, _, err = f.svc.ListVersions(ctx, uuid.New(), 1, 10)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCreateFields(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 2, nil)
	doc := f.chain.document()
	require.NoError(t, f.repo.CreateDocument(ctx, doc))
	author := auth.Principal{UserID: uuid.New()}

	t.Run("stage outside the snapshot", func(t *testing.T) {
		_, err := f.svc.CreateFields(ctx, FieldsRequest{
			DocumentID: doc.ID,
			DocData: []FieldPlacement{{
				FieldName: "sig", FieldType: FieldSignature, PageNumbers: []int{1},
				Width: 100, Height: 30, Stages: []uuid.UUID{uuid.New()},
			}},
		}, author)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("text field without font size", func(t *testing.T) {
		_, err := f.svc.CreateFields(ctx, FieldsRequest{
			DocumentID: doc.ID,
			DocData:    []FieldPlacement{{FieldName: "title", FieldType: FieldText, PageNumbers: []int{1}}},
		}, author)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("binds placements", func(t *testing.T) {
		field, err := f.svc.CreateFields(ctx, FieldsRequest{
			DocumentID: doc.ID,
			DocData: []FieldPlacement{{
				FieldName: "sig", FieldType: FieldSignature, PageNumbers: []int{1, 2},
				Width: 100, Height: 30, Stages: []uuid.UUID{f.chain.snapshot[0].ID},
			}},
		}, author)
		require.NoError(t, err)
		assert.Equal(t, author.UserID, field.CreatedByID)

		n, err := f.repo.CountFields(ctx, doc.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestVerifyStoredSignaturesRejectsForeignKeys(t *testing.T) {
	f := newServiceFixture(t, 1, nil)

	for _, key := range []string{"", "documents/", "other/file.pdf", "documents/../secrets", "documents//x.pdf"} {
		_, err := f.svc.VerifyStoredSignatures(context.Background(), key)
		assert.True(t, apperrors.IsValidation(err), key)
	}

	_, err := f.svc.VerifyStoredSignatures(context.Background(), "documents/missing.pdf")
	assert.True(t, apperrors.IsNotFound(err))
}
