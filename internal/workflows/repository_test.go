package workflows

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var repositoryContainer *tcpostgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()
	if repositoryContainer != nil {
		_ = testcontainers.TerminateContainer(repositoryContainer)
	}
	os.Exit(code)
}

func setupRepository(t *testing.T) (Repository, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	if repositoryContainer == nil || !repositoryContainer.IsRunning() {
		var err error
		repositoryContainer, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("igdocs_test"),
			tcpostgres.WithUsername("igdocs"),
			tcpostgres.WithPassword("igdocs"),
			tcpostgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	dsn, err := repositoryContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sqlDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	tables := []interface{}{&WorkflowType{}, &Workflow{}, &Stage{}}
	require.NoError(t, db.Migrator().DropTable(tables...))
	require.NoError(t, db.AutoMigrate(tables...))

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(tables...)
		_ = sqlDB.Close()
	})
	return NewRepository(db), ctx
}

func seedWorkflow(t *testing.T, ctx context.Context, repo Repository) uuid.UUID {
	t.Helper()
	wt := &WorkflowType{Name: "type-" + uuid.NewString()}
	require.NoError(t, repo.CreateWorkflowType(ctx, wt))
	wf := &Workflow{Name: "wf-" + uuid.NewString(), WorkflowTypeID: wt.ID, CreatedByID: uuid.New()}
	require.NoError(t, repo.CreateWorkflow(ctx, wf))
	return wf.ID
}

func seedStage(t *testing.T, ctx context.Context, repo Repository, workflowID uuid.UUID, node NodeStage) *Stage {
	t.Helper()
	st := &Stage{
		WorkflowID: workflowID,
		Name:       string(node),
		RoleID:     uuid.New(),
		NodeStage:  node,
		StageType:  StageTypeSignature,
	}
	require.NoError(t, repo.CreateStage(ctx, st))
	return st
}

func TestRepositoryUpdateStagePositionsKeepsLinksInWorkflow(t *testing.T) {
	repo, ctx := setupRepository(t)

	wf, other := seedWorkflow(t, ctx, repo), seedWorkflow(t, ctx, repo)
	start := seedStage(t, ctx, repo, wf, NodeStart)
	end := seedStage(t, ctx, repo, wf, NodeEnd)
	foreign := seedStage(t, ctx, repo, other, NodeEnd)

	err := repo.UpdateStagePositions(ctx, []PositionUpdate{{ID: start.ID, NodePositionX: "40", NextStageID: &foreign.ID}})
	assert.ErrorIs(t, err, errForeignNextStage)

	err = repo.UpdateStagePositions(ctx, []PositionUpdate{{ID: start.ID, NextStageID: &start.ID}})
	assert.ErrorIs(t, err, errSelfLink)

	missing := uuid.New()
	err = repo.UpdateStagePositions(ctx, []PositionUpdate{{ID: start.ID, NextStageID: &missing}})
	assert.ErrorIs(t, err, errUnknownNextStage)

	err = repo.UpdateStagePositions(ctx, []PositionUpdate{{ID: uuid.New(), NextStageID: &end.ID}})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	got, err := repo.GetStage(ctx, start.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextStageID, "refused batches must not link anything")
	assert.Empty(t, got.NodePositionX)

	require.NoError(t, repo.UpdateStagePositions(ctx, []PositionUpdate{{ID: start.ID, NodePositionX: "40", NextStageID: &end.ID}}))
	got, err = repo.GetStage(ctx, start.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextStageID)
	assert.Equal(t, end.ID, *got.NextStageID)
	assert.Equal(t, "40", got.NodePositionX)

	stages, err := repo.ListStages(ctx, wf)
	require.NoError(t, err)
	snap, err := Sequence(stages)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
}

func TestRepositoryRejectsSecondBoundaryNode(t *testing.T) {
	repo, ctx := setupRepository(t)

	wf := seedWorkflow(t, ctx, repo)
	seedStage(t, ctx, repo, wf, NodeStart)
	seedStage(t, ctx, repo, wf, NodeIntermediate)
	seedStage(t, ctx, repo, wf, NodeIntermediate)

	err := repo.CreateStage(ctx, &Stage{WorkflowID: wf, Name: "again", RoleID: uuid.New(), NodeStage: NodeStart, StageType: StageTypeDraft})
	assert.ErrorIs(t, err, errDuplicateNode)

	// Other workflows keep their own Start.
	seedStage(t, ctx, repo, seedWorkflow(t, ctx, repo), NodeStart)
}
