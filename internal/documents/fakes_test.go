package documents

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"

	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/internal/notifications"
	"github.com/igdrones/ig-docs-backend/internal/workflows"
	"github.com/igdrones/ig-docs-backend/pkg/security"
	"github.com/igdrones/ig-docs-backend/pkg/storage"
)

// memRepository is an in-process Repository with the same revision rules
// as the gorm implementation.
type memRepository struct {
	mu         sync.Mutex
	docs       map[uuid.UUID]Document
	fields     map[uuid.UUID]DocumentField
	versions   []DocumentVersion
	signatures map[uuid.UUID][]security.SignatureData
	orphans    []OrphanedBlob

	// applyErr, when set, fails the next ApplyTransition.
	applyErr error
	// beforeApply runs inside ApplyTransition before the revision check.
	beforeApply func()
	orphanErr   error
}

func newMemRepository() *memRepository {
	return &memRepository{
		docs:       make(map[uuid.UUID]Document),
		fields:     make(map[uuid.UUID]DocumentField),
		signatures: make(map[uuid.UUID][]security.SignatureData),
	}
}

func cloneDocument(d Document) Document {
	d.WorkflowStages = datatypes.JSONSlice[workflows.StageSnapshot](d.Stages().Clone())
	d.Fields = nil
	return d
}

func (r *memRepository) CreateDocument(ctx context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.CreatedAt = time.Now()
	r.docs[doc.ID] = cloneDocument(*doc)
	return nil
}

func (r *memRepository) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	d = cloneDocument(d)
	return &d, nil
}

func (r *memRepository) SearchDocuments(ctx context.Context, filter SearchFilter) ([]Document, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Document
	for _, d := range r.docs {
		if filter.WorkflowID != nil && d.WorkflowID != *filter.WorkflowID {
			continue
		}
		out = append(out, cloneDocument(d))
	}
	return out, int64(len(out)), nil
}

func (r *memRepository) ListAssigned(ctx context.Context, p auth.Principal, filter SearchFilter, currentOnly bool) ([]Document, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Document
	for _, d := range r.docs {
		for _, st := range d.WorkflowStages {
			if st.ActionByID == nil || *st.ActionByID != p.UserID || st.RoleID != p.RoleID {
				continue
			}
			if currentOnly && st.Sequence != d.CurrentStage {
				continue
			}
			out = append(out, cloneDocument(d))
			break
		}
	}
	return out, int64(len(out)), nil
}

func (r *memRepository) UpdateStages(ctx context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.docs[doc.ID]
	if !ok || stored.Revision != doc.Revision {
		return ErrConcurrentTransition
	}
	stored.WorkflowStages = datatypes.JSONSlice[workflows.StageSnapshot](doc.Stages().Clone())
	stored.Revision++
	r.docs[doc.ID] = stored
	doc.Revision++
	return nil
}

func (r *memRepository) ApplyTransition(ctx context.Context, doc *Document, change Change) error {
	if r.beforeApply != nil {
		hook := r.beforeApply
		r.beforeApply = nil
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		err := r.applyErr
		r.applyErr = nil
		return err
	}
	stored, ok := r.docs[doc.ID]
	if !ok || stored.Revision != doc.Revision {
		return ErrConcurrentTransition
	}

	stored.CurrentStage = change.To.Stage
	stored.CurrentVersion = change.To.Version
	stored.Status = change.To.Status
	stored.Revision++
	r.docs[doc.ID] = stored

	if change.Version != nil {
		change.Version.ID = uuid.New()
		change.Version.CreatedAt = time.Now().Add(time.Duration(len(r.versions)) * time.Millisecond)
		r.versions = append(r.versions, *change.Version)
	}
	if change.Signature != nil {
		r.signatures[doc.ID] = append(r.signatures[doc.ID], *change.Signature)
	}

	doc.CurrentStage = change.To.Stage
	doc.CurrentVersion = change.To.Version
	doc.Status = change.To.Status
	doc.Revision++
	return nil
}

func (r *memRepository) CreateField(ctx context.Context, field *DocumentField) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	r.fields[field.ID] = *field
	return nil
}

func (r *memRepository) GetField(ctx context.Context, id uuid.UUID) (*DocumentField, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fields[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (r *memRepository) UpdateField(ctx context.Context, field *DocumentField) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[field.ID] = *field
	return nil
}

func (r *memRepository) ListFields(ctx context.Context, documentID uuid.UUID) ([]DocumentField, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DocumentField
	for _, f := range r.fields {
		if f.DocumentID == documentID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memRepository) CountFields(ctx context.Context, documentID uuid.UUID) (int64, error) {
	fields, _ := r.ListFields(ctx, documentID)
	return int64(len(fields)), nil
}

func (r *memRepository) history(documentID uuid.UUID) []DocumentVersion {
	var out []DocumentVersion
	for _, v := range r.versions {
		if v.DocumentID == documentID {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version > out[j].Version
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *memRepository) LatestVersions(ctx context.Context, documentID uuid.UUID, n int) ([]DocumentVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.history(documentID)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *memRepository) ListVersions(ctx context.Context, documentID uuid.UUID, page, limit int) ([]DocumentVersion, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := SearchFilter{Page: page, Limit: limit}.normalize()
	all := r.history(documentID)
	start := f.offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (r *memRepository) GetSignatures(ctx context.Context, documentID uuid.UUID) ([]security.SignatureData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]security.SignatureData(nil), r.signatures[documentID]...), nil
}

func (r *memRepository) RecordOrphan(ctx context.Context, orphan *OrphanedBlob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.orphanErr != nil {
		return r.orphanErr
	}
	if orphan.ID == uuid.Nil {
		orphan.ID = uuid.New()
	}
	orphan.CreatedAt = time.Now()
	r.orphans = append(r.orphans, *orphan)
	return nil
}

func (r *memRepository) PendingOrphans(ctx context.Context, limit int) ([]OrphanedBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []OrphanedBlob
	for _, o := range r.orphans {
		if o.SweptAt == nil {
			out = append(out, o)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepository) MarkOrphanSwept(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.orphans {
		if r.orphans[i].ID == id {
			t := at
			r.orphans[i].SweptAt = &t
			return nil
		}
	}
	return errors.New("orphan not found")
}

// MockCatalog is a mock implementation of WorkflowCatalog.
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) GetWorkflowType(ctx context.Context, id uuid.UUID) (*workflows.WorkflowType, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*workflows.WorkflowType), args.Error(1)
}

func (m *MockCatalog) GetWorkflow(ctx context.Context, id uuid.UUID) (*workflows.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*workflows.Workflow), args.Error(1)
}

func (m *MockCatalog) SequenceWorkflow(ctx context.Context, id uuid.UUID) (workflows.Snapshot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(workflows.Snapshot), args.Error(1)
}

type fakeUsers map[uuid.UUID]*auth.User

func (f fakeUsers) GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	return f[id], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(ctx context.Context, ev notifications.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

// failingDeleteClient refuses deletes so discarded blobs become orphans.
type failingDeleteClient struct {
	*storage.MemoryClient
}

func (c failingDeleteClient) Delete(ctx context.Context, bucket, key string) error {
	return errors.New("delete refused")
}

// failingUploadClient refuses every upload.
type failingUploadClient struct {
	*storage.MemoryClient
}

func (c failingUploadClient) Upload(ctx context.Context, bucket, key string, body io.Reader, contentType string) (string, error) {
	return "", errors.New("upload refused")
}

// approvalChain builds an n-stage snapshot with one role and one assigned
// user per stage.
type approvalChain struct {
	roles    []uuid.UUID
	users    []uuid.UUID
	snapshot workflows.Snapshot
}

func newApprovalChain(n int) approvalChain {
	c := approvalChain{}
	wf := uuid.New()
	for i := 1; i <= n; i++ {
		role, user := uuid.New(), uuid.New()
		c.roles = append(c.roles, role)
		c.users = append(c.users, user)
		u := user
		c.snapshot = append(c.snapshot, workflows.StageSnapshot{
			ID:         uuid.New(),
			Name:       "Stage",
			RoleID:     role,
			ActionByID: &u,
			WorkflowID: wf,
			Sequence:   i,
		})
	}
	return c
}

// actor returns the principal bound to the given 1-based stage.
func (c approvalChain) actor(sequence int) auth.Principal {
	return auth.Principal{UserID: c.users[sequence-1], RoleID: c.roles[sequence-1]}
}

func (c approvalChain) document() *Document {
	return &Document{
		ID:             uuid.New(),
		Name:           "Survey Report",
		WorkflowID:     c.snapshot[0].WorkflowID,
		WorkflowStages: datatypes.JSONSlice[workflows.StageSnapshot](c.snapshot.Clone()),
		Status:         StatusDraft,
		FileURL:        KeyPrefix + "original.pdf",
	}
}
