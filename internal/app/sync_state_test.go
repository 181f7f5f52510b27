package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/internal/database"
	testutil "github.com/charlesng35/estatedir/internal/database/testutil"
	"github.com/charlesng35/estatedir/internal/syncer"
)

func TestLastSyncRoundTrip(t *testing.T) {
	db := testutil.OpenDB(t, testutil.Migrated)
	ctx := context.Background()

	at, err := LoadLastSync(ctx, db)
	require.NoError(t, err)
	require.True(t, at.IsZero())

	finished := time.Date(2024, 6, 1, 12, 30, 0, 123000000, time.UTC)
	RecordLastSync(db, zap.NewNop())(ctx, syncer.Result{Processed: 2}, finished)

	at, err = LoadLastSync(ctx, db)
	require.NoError(t, err)
	require.True(t, finished.Equal(at))

	require.NoError(t, database.UpsertSystemSetting(ctx, db, database.LastSyncSetting, "yesterday"))
	_, err = LoadLastSync(ctx, db)
	require.Error(t, err)
}
