package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/charlesng35/estatedir/internal/database/testutil"
	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/internal/records"
)

type endpoint struct {
	mu     sync.Mutex
	calls  []string
	bodies []string
	fail   map[string]int
}

func (e *endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	e.mu.Lock()
	e.calls = append(e.calls, r.Method+" "+r.URL.Path)
	e.bodies = append(e.bodies, string(body))
	status := e.fail[r.URL.Path]
	e.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *endpoint) snapshot() ([]string, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...), append([]string(nil), e.bodies...)
}

func (e *endpoint) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func openQueue(t *testing.T) *records.Store {
	t.Helper()
	store, err := records.Open(context.Background(), testutil.OpenDB(t, testutil.Empty))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func enqueueHTTP(t *testing.T, store *records.Store, url, path string, payload any) models.PendingAction {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	action, err := store.Enqueue(context.Background(), models.PendingAction{
		Type:   "inquiry",
		Data:   datatypes.JSON(data),
		URL:    url + path,
		Method: http.MethodPost,
	})
	require.NoError(t, err)
	return action
}

func newCoordinator(t *testing.T, store *records.Store, client *http.Client, opts ...Option) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(store, append([]Option{WithHTTPClient(client)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSyncFailureDoesNotBlockLaterActions(t *testing.T) {
	ep := &endpoint{fail: map[string]int{"/two": http.StatusInternalServerError}}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	store := openQueue(t)
	first := enqueueHTTP(t, store, srv.URL, "/one", map[string]int{"n": 1})
	second := enqueueHTTP(t, store, srv.URL, "/two", map[string]int{"n": 2})
	third := enqueueHTTP(t, store, srv.URL, "/three", map[string]int{"n": 3})

	c := newCoordinator(t, store, srv.Client())
	result := c.SyncNow(context.Background())

	require.Equal(t, Result{Processed: 2, Failed: 1}, result)
	calls, bodies := ep.snapshot()
	require.Equal(t, []string{"POST /one", "POST /two", "POST /three"}, calls)
	require.Equal(t, `{"n":1}`, bodies[0])

	pending, err := store.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second.ID, pending[0].ID)
	require.Equal(t, 1, pending[0].Attempts)
	require.Contains(t, pending[0].LastError, "500")

	status := c.Status()
	require.EqualValues(t, 1, status.Pending)
	require.NotNil(t, status.LastSyncAt)
	require.Contains(t, status.LastError, "action 2")
	require.False(t, status.Syncing)

	all, err := store.Actions(context.Background(), 10)
	require.NoError(t, err)
	processed := map[uint]bool{}
	for _, a := range all {
		processed[a.ID] = a.Processed
	}
	require.True(t, processed[first.ID])
	require.True(t, processed[third.ID])
}

func TestSecondPassMakesNoNetworkCalls(t *testing.T) {
	ep := &endpoint{}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	store := openQueue(t)
	enqueueHTTP(t, store, srv.URL, "/a", nil)
	enqueueHTTP(t, store, srv.URL, "/b", nil)

	c := newCoordinator(t, store, srv.Client())
	require.Equal(t, Result{Processed: 2}, c.SyncNow(context.Background()))
	require.Equal(t, 2, ep.callCount())

	require.Equal(t, Result{}, c.SyncNow(context.Background()))
	require.Equal(t, 2, ep.callCount())
	require.Empty(t, c.Status().LastError)
}

func TestHandlersRunForLocalActions(t *testing.T) {
	store := openQueue(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, models.PendingAction{Type: "favorite", Data: datatypes.JSON(`{"project_id":"p1"}`)})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, models.PendingAction{Type: "unknown"})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, models.PendingAction{Type: "broken"})
	require.NoError(t, err)

	c := newCoordinator(t, store, http.DefaultClient)

	var seen []string
	c.RegisterHandler("favorite", func(ctx context.Context, action models.PendingAction) error {
		var payload map[string]string
		require.True(t, records.DecodeActionData(action, &payload))
		seen = append(seen, payload["project_id"])
		return nil
	})
	c.RegisterHandler("broken", func(context.Context, models.PendingAction) error {
		return errors.New("handler exploded")
	})

	result := c.SyncNow(ctx)
	require.Equal(t, Result{Processed: 1, Failed: 2}, result)
	require.Equal(t, []string{"p1"}, seen)

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

type blockingQueue struct {
	*records.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (q *blockingQueue) Pending(ctx context.Context) ([]models.PendingAction, error) {
	q.once.Do(func() { close(q.entered) })
	<-q.release
	return q.Store.Pending(ctx)
}

func TestSyncNowSkipsWhileInFlight(t *testing.T) {
	q := &blockingQueue{Store: openQueue(t), entered: make(chan struct{}), release: make(chan struct{})}
	c, err := NewCoordinator(q)
	require.NoError(t, err)
	defer c.Close()

	done := make(chan Result)
	go func() { done <- c.SyncNow(context.Background()) }()

	<-q.entered
	require.True(t, c.Status().Syncing)
	require.Equal(t, Result{Skipped: true}, c.SyncNow(context.Background()))

	close(q.release)
	require.Equal(t, Result{}, <-done)
	require.False(t, c.Status().Syncing)
}

func TestOfflineSkipsAndReconnectTriggersSync(t *testing.T) {
	ep := &endpoint{}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	store := openQueue(t)
	c := newCoordinator(t, store, srv.Client(), WithInitialOnline(false))

	var (
		mu       sync.Mutex
		statuses []Status
	)
	finished := make(chan struct{}, 1)
	unsubscribe := c.Subscribe(func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
		if s.Online && !s.Syncing && s.LastSyncAt != nil {
			select {
			case finished <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	enqueueHTTP(t, store, srv.URL, "/queued", map[string]string{"msg": "hi"})
	require.Equal(t, Result{Skipped: true}, c.SyncNow(context.Background()))
	require.Equal(t, 0, ep.callCount())

	c.SetOnline(true)

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect did not trigger a sync pass")
	}

	require.Equal(t, 1, ep.callCount())
	require.True(t, c.Online())

	mu.Lock()
	defer mu.Unlock()
	require.True(t, statuses[0].Online)
	require.False(t, statuses[0].Syncing)
}

func TestStatusDeliveriesAreSerialized(t *testing.T) {
	store := openQueue(t)
	c := newCoordinator(t, store, http.DefaultClient, WithInitialOnline(false))

	var (
		inFlight atomic.Int32
		overlap  atomic.Bool
		mu       sync.Mutex
		last     Status
	)
	unsubscribe := c.Subscribe(func(s Status) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		last = s
		mu.Unlock()
		inFlight.Add(-1)
	})
	defer unsubscribe()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.SetOnline(i%2 == 0)
			errs <- c.RefreshPending(context.Background())
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, c.Close())

	require.False(t, overlap.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, c.Status(), last)
}

func TestSetOnlineFalseDoesNotSync(t *testing.T) {
	store := openQueue(t)
	var passes atomic.Int32
	c := newCoordinator(t, store, http.DefaultClient, WithPassHook(func(context.Context, Result, time.Time) {
		passes.Add(1)
	}))

	c.SetOnline(false)
	c.SetOnline(false)
	require.False(t, c.Status().Online)
	require.NoError(t, c.Close())
	require.Zero(t, passes.Load())

	// Closed coordinators ignore further transitions.
	c.SetOnline(true)
	require.False(t, c.Online())
}

func TestRefreshPendingAndLastSyncSeed(t *testing.T) {
	store := openQueue(t)
	seed := time.Date(2024, 2, 2, 2, 2, 2, 0, time.UTC)
	c := newCoordinator(t, store, http.DefaultClient, WithLastSync(seed))

	_, err := store.Enqueue(context.Background(), models.PendingAction{Type: "x"})
	require.NoError(t, err)
	require.NoError(t, c.RefreshPending(context.Background()))

	status := c.Status()
	require.EqualValues(t, 1, status.Pending)
	require.Equal(t, seed, *status.LastSyncAt)
}
