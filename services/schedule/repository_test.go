package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"waooaw-plant/services/testutil"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	db := testutil.NewTestDB(t, &ScheduledGoalRun{})
	return NewRepository(db)
}

func mustCreate(t *testing.T, repo Repository, id, goalID string, at time.Time) *ScheduledGoalRun {
	t.Helper()
	run := &ScheduledGoalRun{
		ScheduledRunID: id,
		GoalInstanceID: goalID,
		ScheduledTime:  at,
		Status:         StatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), run))
	return run
}

func TestMissedClassification(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	pendingFuture := &ScheduledGoalRun{Status: StatusPending, ScheduledTime: now.Add(time.Hour)}
	require.False(t, pendingFuture.IsMissed(now))

	missed := &ScheduledGoalRun{Status: StatusPending, ScheduledTime: now.Add(-time.Hour)}
	require.True(t, missed.IsMissed(now))
	require.False(t, missed.IsVeryOldMissed(24*time.Hour, now))

	veryOld := &ScheduledGoalRun{Status: StatusPending, ScheduledTime: now.Add(-25 * time.Hour)}
	require.True(t, veryOld.IsMissed(now))
	require.True(t, veryOld.IsVeryOldMissed(24*time.Hour, now))

	// terminal runs are never missed
	done := &ScheduledGoalRun{Status: StatusCompleted, ScheduledTime: now.Add(-48 * time.Hour)}
	require.False(t, done.IsMissed(now))
	require.False(t, done.IsVeryOldMissed(24*time.Hour, now))
}

func TestGetPendingRuns_FIFOByTime(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	mustCreate(t, repo, "s3", "g3", base.Add(3*time.Hour))
	mustCreate(t, repo, "s1", "g1", base.Add(1*time.Hour))
	mustCreate(t, repo, "s2", "g2", base.Add(2*time.Hour))

	runs, err := repo.GetPendingRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, "s1", runs[0].ScheduledRunID)
	require.Equal(t, "s2", runs[1].ScheduledRunID)
	require.Equal(t, "s3", runs[2].ScheduledRunID)
}

func TestGetDueAndMissedRuns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	mustCreate(t, repo, "past", "g1", now.Add(-time.Hour))
	mustCreate(t, repo, "future", "g2", now.Add(time.Hour))
	cancelled := mustCreate(t, repo, "cancelled", "g3", now.Add(-2*time.Hour))
	require.NoError(t, repo.MarkCancelled(ctx, cancelled.ScheduledRunID))

	due, err := repo.GetDueRuns(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "past", due[0].ScheduledRunID)

	missed, err := repo.GetMissedRuns(ctx, now)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	require.Equal(t, "past", missed[0].ScheduledRunID)
}

func TestMarkTerminal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	mustCreate(t, repo, "s1", "g1", now)
	require.NoError(t, repo.MarkCompleted(ctx, "s1"))

	run, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	require.True(t, run.IsTerminal())

	require.Error(t, repo.MarkCancelled(ctx, "missing"))
}

func TestDeleteOldCompleted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

	old := mustCreate(t, repo, "old", "g1", now.AddDate(0, 0, -45))
	require.NoError(t, repo.MarkCompleted(ctx, old.ScheduledRunID))

	recent := mustCreate(t, repo, "recent", "g2", now.AddDate(0, 0, -5))
	require.NoError(t, repo.MarkCompleted(ctx, recent.ScheduledRunID))

	// pending rows are kept regardless of age
	mustCreate(t, repo, "stale-pending", "g3", now.AddDate(0, 0, -60))

	// force completed_at past retention for the old row
	gormDB := repo.(*gormRepository).db
	require.NoError(t, gormDB.Model(&ScheduledGoalRun{}).
		Where("scheduled_run_id = ?", "old").
		Update("completed_at", now.AddDate(0, 0, -40)).Error)

	deleted, err := repo.DeleteOldCompleted(ctx, 30, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	_, err = repo.GetByID(ctx, "old")
	require.Error(t, err)

	_, err = repo.GetByID(ctx, "recent")
	require.NoError(t, err)

	_, err = repo.GetByID(ctx, "stale-pending")
	require.NoError(t, err)
}

func TestNextOccurrence(t *testing.T) {
	after := time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)

	next, err := NextOccurrence("0 9 * * *", after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), next)

	_, err = NextOccurrence("not a cron spec", after)
	require.Error(t, err)
}
