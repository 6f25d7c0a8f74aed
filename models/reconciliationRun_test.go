package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizeReconciliationRunOnce(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	acc := testutil.SeedProcessorAccount(t, db, nil)

	started := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	run := models.ReconciliationRun{
		RunId:              uuid.NewString(),
		ProcessorAccountId: acc.ID,
		Mode:               models.RunModeIncremental,
		Status:             models.RunStatusRunning,
		TriggeredBy:        models.TriggeredManual,
		MaxEvents:          500,
		StartedAt:          started,
	}
	require.NoError(t, models.CreateReconciliationRun(ctx, db, &run))

	cursor := "evt_2"
	require.NoError(t, models.UpdateRunProgress(db, run.RunId, models.RunCounts{Fetched: 2, Processed: 2}, &cursor))

	err := models.FinalizeReconciliationRun(ctx, db, &run, models.RunOutcome{
		Status:      models.RunStatusSuccess,
		Counts:      models.RunCounts{Fetched: 3, Processed: 2, Ignored: 1},
		CursorAfter: &cursor,
		FinishedAt:  started.Add(1500 * time.Millisecond),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), run.DurationMs)

	err = models.FinalizeReconciliationRun(ctx, db, &run, models.RunOutcome{
		Status:     models.RunStatusFailed,
		FinishedAt: started.Add(time.Hour),
	})
	require.ErrorIs(t, err, models.ErrRunAlreadyFinalized)

	// progress after finalization is ignored
	require.NoError(t, models.UpdateRunProgress(db, run.RunId, models.RunCounts{Fetched: 99}, nil))

	stored, err := models.GetReconciliationRun(ctx, db, run.RunId)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunStatusSuccess, stored.Status)
	assert.Equal(t, 3, stored.Fetched)
	assert.Equal(t, 1, stored.Ignored)
	require.NotNil(t, stored.CursorAfter)
	assert.Equal(t, "evt_2", *stored.CursorAfter)
	require.NotNil(t, stored.FinishedAt)
}

func TestListReconciliationRuns(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	a := testutil.SeedProcessorAccount(t, db, nil)
	b := testutil.SeedProcessorAccount(t, db, nil)

	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i, accId := range []uint{a.ID, a.ID, b.ID} {
		require.NoError(t, models.CreateReconciliationRun(ctx, db, &models.ReconciliationRun{
			RunId:              uuid.NewString(),
			ProcessorAccountId: accId,
			Mode:               models.RunModeIncremental,
			Status:             models.RunStatusRunning,
			StartedAt:          base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := models.ListReconciliationRuns(ctx, db, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, b.ID, all[0].ProcessorAccountId, "newest first")

	onlyA, err := models.ListReconciliationRuns(ctx, db, a.ID, 1)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, a.ID, onlyA[0].ProcessorAccountId)

	missing, err := models.GetReconciliationRun(ctx, db, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProcessorAccountCursor(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	acc := testutil.SeedProcessorAccount(t, db, nil)
	require.NoError(t, db.Create(&models.ProcessorAccount{
		Provider: models.ProcessorProviderStripe,
		Name:     "old",
		Status:   models.ProcessorStatusDisconnected,
	}).Error)

	require.NoError(t, models.AdvanceSyncCursor(db, acc.ID, "evt_9"))
	at := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, models.TouchProcessorSync(ctx, db, acc.ID, at, true))

	got, err := models.GetProcessorAccount(ctx, db, acc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SyncCursor)
	assert.Equal(t, "evt_9", *got.SyncCursor)
	require.NotNil(t, got.LastSuccessSyncAt)
	assert.True(t, at.Equal(*got.LastSuccessSyncAt))

	connected, err := models.ListConnectedProcessorAccounts(ctx, db)
	require.NoError(t, err)
	require.Len(t, connected, 1)
	assert.Equal(t, acc.ID, connected[0].ID)

	_, err = models.GetProcessorAccount(ctx, db, 12345)
	require.ErrorIs(t, err, models.ErrProcessorAccountNotFound)
}
