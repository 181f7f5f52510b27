package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	iauth "github.com/charlesng35/estatedir/internal/auth"
	"github.com/charlesng35/estatedir/internal/cache"
	testutil "github.com/charlesng35/estatedir/internal/database/testutil"
	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/internal/records"
	"github.com/charlesng35/estatedir/internal/syncer"
	"github.com/charlesng35/estatedir/pkg/crypto"
)

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.OpenDB(t, testutil.Migrated)
	ctx := context.Background()
	clock := &fixedClock{current: time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)}

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "cleanup-secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{
		RefreshTokenTTL: time.Hour,
		RefreshLength:   16,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	user := seedUser(t, db, "cleanup-user")

	_, expiredSession, err := sessionSvc.CreateSession(ctx, user, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", expiredSession.ID).
		Update("expires_at", clock.Now().Add(-2*time.Hour)).Error)

	_, activeSession, err := sessionSvc.CreateSession(ctx, user, iauth.SessionMetadata{})
	require.NoError(t, err)

	_, revokedSession, err := sessionSvc.CreateSession(ctx, user, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, sessionSvc.RevokeSession(ctx, revokedSession.ID))

	store := cache.NewMemoryStore(cache.WithMemoryClock(clock.Now))
	c, err := cache.New(store, cache.WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "sheet_companies", []string{"a"}, time.Minute))
	require.NoError(t, c.Set(ctx, "sheet_projects", []string{"b"}, time.Hour))
	require.NoError(t, store.Set(ctx, "ratelimit:1.2.3.4", []byte("3"), time.Minute))

	queue, err := records.Open(ctx, db, records.WithClock(clock.Now))
	require.NoError(t, err)
	old, err := queue.Enqueue(ctx, models.PendingAction{Type: "favorite"})
	require.NoError(t, err)
	require.NoError(t, queue.MarkProcessed(ctx, old.ID, clock.Now().Add(-10*24*time.Hour)))
	recent, err := queue.Enqueue(ctx, models.PendingAction{Type: "favorite"})
	require.NoError(t, err)
	require.NoError(t, queue.MarkProcessed(ctx, recent.ID, clock.Now().Add(-time.Hour)))
	_, err = queue.Enqueue(ctx, models.PendingAction{Type: "favorite"})
	require.NoError(t, err)

	clock.current = clock.current.Add(2 * time.Minute)

	cleaner := NewCleaner(Dependencies{
		Sessions:  sessionSvc,
		Cache:     c,
		Store:     store,
		Compactor: queue,
	},
		WithNow(clock.Now),
		WithRetention(7*24*time.Hour),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	require.NoError(t, cleaner.RunOnce(ctx))

	assertNotFound := func(id string) {
		var s models.Session
		err := db.First(&s, "id = ?", id).Error
		require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	}
	assertNotFound(revokedSession.ID)
	assertNotFound(expiredSession.ID)

	var remaining models.Session
	require.NoError(t, db.First(&remaining, "id = ?", activeSession.ID).Error)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"sheet_projects"}, keys)

	_, found, err := store.Get(ctx, "ratelimit:1.2.3.4")
	require.NoError(t, err)
	require.False(t, found)

	var actions int64
	require.NoError(t, db.Model(&models.PendingAction{}).Count(&actions).Error)
	require.EqualValues(t, 2, actions)
}

func TestCleanerRunOnceAggregatesErrors(t *testing.T) {
	cleaner := NewCleaner(Dependencies{
		Sessions:  failingSessions{err: errors.New("sessions down")},
		Compactor: failingCompactor{err: errors.New("queue down")},
	})

	err := cleaner.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "sessions down")
	require.Contains(t, err.Error(), "queue down")
}

func TestCleanerSchedulesSyncRetry(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &countingSync{}
	cleaner := NewCleaner(Dependencies{Sync: runner}, WithRetrySchedule("@every 1s"))
	require.NoError(t, cleaner.Start())

	require.Eventually(t, func() bool {
		return runner.calls.Load() > 0
	}, 3*time.Second, 20*time.Millisecond)

	<-cleaner.Stop().Done()
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	cleaner := NewCleaner(Dependencies{Sessions: failingSessions{}}, WithSessionSchedule("not a schedule"))
	require.Error(t, cleaner.Start())
}

func TestCleanerWithoutJobsDoesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	cleaner := NewCleaner(Dependencies{})
	require.NoError(t, cleaner.Start())
	require.NoError(t, cleaner.RunOnce(context.Background()))
	<-cleaner.Stop().Done()
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hash, err := crypto.HashPassword("Password123!")
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Password: hash,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

type failingSessions struct{ err error }

func (f failingSessions) CleanupExpired(context.Context) (int64, error) { return 0, f.err }

type failingCompactor struct{ err error }

func (f failingCompactor) CompactProcessed(context.Context, time.Time) (int64, error) {
	return 0, f.err
}

type countingSync struct{ calls atomic.Int32 }

func (s *countingSync) SyncNow(context.Context) syncer.Result {
	s.calls.Add(1)
	return syncer.Result{Skipped: true}
}
