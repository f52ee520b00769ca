package scheduler

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"waooaw-plant/services/testutil"
)

func newTestStateService(t *testing.T) (*StateService, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &SchedulerState{}, &SchedulerActionLog{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	return NewStateService(db, node), db
}

func TestEnsureDefault(t *testing.T) {
	svc, _ := newTestStateService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureDefault(ctx))

	state, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, GlobalStateID, state.StateID)
	require.Equal(t, StateRunning, state.Status)
	require.False(t, svc.IsPaused(ctx))

	// idempotent
	require.NoError(t, svc.EnsureDefault(ctx))
}

func TestPauseAndResume(t *testing.T) {
	svc, db := newTestStateService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureDefault(ctx))

	state, err := svc.Pause(ctx, "ops@waooaw.com", "incident 4211")
	require.NoError(t, err)
	require.Equal(t, StatePaused, state.Status)
	require.Equal(t, "ops@waooaw.com", state.PausedBy)
	require.Equal(t, "incident 4211", state.PauseReason)
	require.NotNil(t, state.PausedAt)
	require.True(t, svc.IsPaused(ctx))

	// double pause is a conflict
	_, err = svc.Pause(ctx, "other@waooaw.com", "")
	require.Error(t, err)

	state, err = svc.Resume(ctx, "ops@waooaw.com")
	require.NoError(t, err)
	require.Equal(t, StateRunning, state.Status)
	require.Equal(t, "ops@waooaw.com", state.ResumedBy)
	require.False(t, svc.IsPaused(ctx))

	// resume while running is a conflict
	_, err = svc.Resume(ctx, "ops@waooaw.com")
	require.Error(t, err)

	// both actions were audited
	var count int64
	require.NoError(t, db.Model(&SchedulerActionLog{}).Count(&count).Error)
	require.Equal(t, int64(2), count)

	actions, err := svc.Actions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, actions, 2)
}

func TestPauseRequiresOperator(t *testing.T) {
	svc, _ := newTestStateService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureDefault(ctx))

	_, err := svc.Pause(ctx, "", "reason")
	require.Error(t, err)

	_, err = svc.Resume(ctx, "")
	require.Error(t, err)
}
