package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/charlesng35/estatedir/internal/models"
)

func TestEnqueueAndPendingOrder(t *testing.T) {
	store, _, clock := openTestStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, models.PendingAction{
		Type:   "inquiry",
		Data:   datatypes.JSON(`{"project_id":"p1"}`),
		URL:    "https://example.com/inquiries",
		Method: "post",
	})
	require.NoError(t, err)
	require.Equal(t, clock.Now().UnixMilli(), first.Timestamp)
	require.Equal(t, "POST", first.Method)
	require.False(t, first.Processed)

	clock.Advance(time.Second)
	second, err := store.Enqueue(ctx, models.PendingAction{Type: "favorite", Processed: true, Attempts: 9})
	require.NoError(t, err)
	require.False(t, second.Processed)
	require.Zero(t, second.Attempts)

	_, err = store.Enqueue(ctx, models.PendingAction{Type: "  "})
	require.Error(t, err)

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, second.ID, pending[1].ID)

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestMarkProcessedAndRecordFailure(t *testing.T) {
	store, _, clock := openTestStore(t)
	ctx := context.Background()

	a, err := store.Enqueue(ctx, models.PendingAction{Type: "a"})
	require.NoError(t, err)
	b, err := store.Enqueue(ctx, models.PendingAction{Type: "b"})
	require.NoError(t, err)

	require.NoError(t, store.RecordFailure(ctx, b.ID, errors.New("upstream returned 500")))
	require.NoError(t, store.RecordFailure(ctx, b.ID, errors.New("upstream returned 503")))
	require.NoError(t, store.MarkProcessed(ctx, a.ID, clock.Now()))

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, b.ID, pending[0].ID)
	require.Equal(t, 2, pending[0].Attempts)
	require.Equal(t, "upstream returned 503", pending[0].LastError)

	require.ErrorIs(t, store.MarkProcessed(ctx, 999, clock.Now()), ErrActionNotFound)
	require.ErrorIs(t, store.RecordFailure(ctx, 999, nil), ErrActionNotFound)

	recent, err := store.Actions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, b.ID, recent[0].ID)
	require.True(t, recent[1].Processed)
	require.NotNil(t, recent[1].ProcessedAt)
}

func TestCompactProcessed(t *testing.T) {
	store, _, clock := openTestStore(t)
	ctx := context.Background()

	old, err := store.Enqueue(ctx, models.PendingAction{Type: "old"})
	require.NoError(t, err)
	recent, err := store.Enqueue(ctx, models.PendingAction{Type: "recent"})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, models.PendingAction{Type: "unprocessed"})
	require.NoError(t, err)

	require.NoError(t, store.MarkProcessed(ctx, old.ID, clock.Now().Add(-10*24*time.Hour)))
	require.NoError(t, store.MarkProcessed(ctx, recent.ID, clock.Now().Add(-time.Hour)))

	removed, err := store.CompactProcessed(ctx, clock.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	all, err := store.Actions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMalformedPayloadIsReturnedAsIs(t *testing.T) {
	store, db, _ := openTestStore(t)
	ctx := context.Background()

	action, err := store.Enqueue(ctx, models.PendingAction{Type: "note", Data: datatypes.JSON(`{"ok":true}`)})
	require.NoError(t, err)
	require.NoError(t, db.Exec("UPDATE pending_actions SET data = ? WHERE id = ?", "{broken", action.ID).Error)

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var payload map[string]any
	require.False(t, DecodeActionData(pending[0], &payload))
	require.False(t, DecodeActionData(models.PendingAction{}, &payload))
	require.True(t, DecodeActionData(models.PendingAction{Data: datatypes.JSON(`{"a":1}`)}, &payload))
	require.EqualValues(t, 1, payload["a"])
}
