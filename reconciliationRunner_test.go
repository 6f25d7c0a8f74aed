package main

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/testutil"
	"github.com/mmdatafocus/payrecon_backend/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptySource struct {
	calls atomic.Int32
}

func (s *emptySource) ListEvents(context.Context, models.ProcessorAccount, string, int) (workflow.EventPage, error) {
	s.calls.Add(1)
	return workflow.EventPage{}, nil
}

func TestReconciliationRunnerRunsEveryConnectedAccount(t *testing.T) {
	db := testutil.OpenTestDB(t)
	a := testutil.SeedProcessorAccount(t, db, nil)
	b := testutil.SeedProcessorAccount(t, db, nil)
	disconnected := testutil.SeedProcessorAccount(t, db, nil)
	require.NoError(t, db.Model(&models.ProcessorAccount{}).
		Where("id = ?", disconnected.ID).
		Update("status", models.ProcessorStatusDisconnected).Error)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	src := &emptySource{}
	locker := workflow.NewLocalRunLocker()
	reconciler := &workflow.Reconciler{
		DB:       db,
		Logger:   logger,
		Source:   src,
		Linker:   workflow.EntityLinker{Registry: workflow.GormAccountRegistry{DB: db}, Provider: models.ProcessorProviderStripe},
		Locker:   locker,
		PageSize: 10,
		LockTTL:  time.Minute,
	}
	runner := &ReconciliationRunner{DB: db, Logger: logger, Reconciler: reconciler, Interval: time.Hour, Concurrency: 2}

	assert.Equal(t, 2, runner.runOnce(context.Background()))
	assert.Equal(t, int32(2), src.calls.Load())

	for _, id := range []uint{a.ID, b.ID} {
		runs, err := models.ListReconciliationRuns(context.Background(), db, id, 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, models.TriggeredSystem, runs[0].TriggeredBy)
		assert.Equal(t, models.RunModeIncremental, runs[0].Mode)
	}
	runs, err := models.ListReconciliationRuns(context.Background(), db, disconnected.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	// A held lock skips that account only.
	lease, err := locker.Acquire(context.Background(), a.ID, time.Minute)
	require.NoError(t, err)
	defer lease.Release(context.Background())
	assert.Equal(t, 1, runner.runOnce(context.Background()))
}

func TestReconciliationRunnerStopsOnCancel(t *testing.T) {
	db := testutil.OpenTestDB(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	runner := &ReconciliationRunner{
		DB:         db,
		Logger:     logger,
		Reconciler: &workflow.Reconciler{DB: db, Logger: logger, Source: &emptySource{}, Locker: workflow.NewLocalRunLocker()},
		Interval:   time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
