package downloader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/events"
	"github.com/cesargomez89/stripedl/internal/logger"
	"github.com/cesargomez89/stripedl/internal/queue"
)

// fakeRunner records concurrency and finishes items on demand.
type fakeRunner struct {
	bus *events.Bus

	hold        time.Duration // finish after hold; zero waits for release
	release     chan struct{}
	ignoreClose bool // keep running after ctx is cancelled

	mu     sync.Mutex
	active int
	peak   int
	runs   int
	done   chan struct{}
}

func newFakeRunner(bus *events.Bus) *fakeRunner {
	return &fakeRunner{bus: bus, release: make(chan struct{}), done: make(chan struct{}, 100)}
}

func (r *fakeRunner) Run(ctx context.Context, item domain.QueueItem, ctrl *Control) Outcome {
	r.mu.Lock()
	r.active++
	r.runs++
	r.peak = max(r.peak, r.active)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
		r.done <- struct{}{}
	}()

	var finish <-chan time.Time
	if r.hold > 0 {
		finish = time.After(r.hold)
	}
	for {
		if !r.ignoreClose {
			if err := ctrl.Wait(ctx); err != nil {
				return OutcomeCancelled
			}
		}
		select {
		case <-finish:
		case <-r.release:
		case <-ctx.Done():
			if r.ignoreClose {
				time.Sleep(time.Millisecond)
				continue
			}
			return OutcomeCancelled
		case <-time.After(5 * time.Millisecond):
			continue
		}
		break
	}
	r.bus.Publish(events.Event{Topic: events.TopicDownloadCompleted, ItemID: item.ID, Completed: item.TotalTracks})
	return OutcomeCompleted
}

func (r *fakeRunner) stats() (peak, runs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak, r.runs
}

func newEngineFixture(t *testing.T, limit int, configure func(r *fakeRunner)) (*Engine, *queue.Manager, *fakeRunner) {
	t.Helper()
	log := logger.Discard()
	bus := events.NewBus(log)
	q := queue.NewManager(queue.NewFileStore(filepath.Join(t.TempDir(), "queue.json")), bus, log)
	runner := newFakeRunner(bus)
	if configure != nil {
		configure(runner)
	}
	e := NewEngine(q, bus, runner, EngineConfig{
		MaxConcurrent: limit,
		PollInterval:  20 * time.Millisecond,
		StopTimeout:   time.Second,
		FillDebounce:  5 * time.Millisecond,
	}, log)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e, q, runner
}

func addItems(t *testing.T, q *queue.Manager, n int) []domain.QueueItem {
	t.Helper()
	base := time.Now()
	items := make([]domain.QueueItem, n)
	for i := range items {
		item := domain.QueueItem{
			Type:        domain.ItemTypeTrack,
			ProviderID:  fmt.Sprintf("track-%d", i),
			Title:       fmt.Sprintf("Track %d", i),
			Tracks:      []domain.TrackInfo{{TrackID: fmt.Sprintf("%d", i)}},
			TotalTracks: 1,
			CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
		}
		added, err := q.AddItem(item)
		require.NoError(t, err)
		items[i] = added
	}
	return items
}

func stateOf(q *queue.Manager, id string) domain.DownloadState {
	st, _ := q.GetState(id)
	return st.State
}

func TestEngine_NeverExceedsMaxConcurrent(t *testing.T) {
	e, q, runner := newEngineFixture(t, 2, func(r *fakeRunner) { r.hold = 30 * time.Millisecond })
	items := addItems(t, q, 5)

	e.Start()

	require.Eventually(t, func() bool {
		for _, it := range items {
			if stateOf(q, it.ID) != domain.StateCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	peak, runs := runner.stats()
	assert.Equal(t, 2, peak)
	assert.Equal(t, 5, runs)
	assert.Zero(t, e.ActiveCount())
}

func TestEngine_StartsInFIFOOrder(t *testing.T) {
	e, q, _ := newEngineFixture(t, 1, nil)
	items := addItems(t, q, 3)

	e.Start()
	require.Eventually(t, func() bool { return stateOf(q, items[0].ID) == domain.StateDownloading }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StateQueued, stateOf(q, items[1].ID))
	assert.Equal(t, domain.StateQueued, stateOf(q, items[2].ID))
}

func TestEngine_AddedItemStartsWithoutWaitingForTick(t *testing.T) {
	e, q, _ := newEngineFixture(t, 2, nil)
	e.cfg.PollInterval = time.Hour
	e.Start()

	items := addItems(t, q, 1)
	require.Eventually(t, func() bool { return stateOf(q, items[0].ID) == domain.StateDownloading }, time.Second, 5*time.Millisecond)
}

func TestEngine_CancelDownload(t *testing.T) {
	e, q, runner := newEngineFixture(t, 2, nil)
	items := addItems(t, q, 1)
	id := items[0].ID

	var cancelled []string
	e.bus.Subscribe(events.TopicDownloadCancelled, func(ev events.Event) { cancelled = append(cancelled, ev.ItemID) })

	e.Start()
	require.Eventually(t, func() bool { return stateOf(q, id) == domain.StateDownloading }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.CancelDownload(id))
	assert.Equal(t, domain.StateCancelled, stateOf(q, id))
	assert.Equal(t, []string{id}, cancelled)

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	require.Eventually(t, func() bool { return e.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, e.CancelDownload(id), queue.ErrInvalidState)
	assert.ErrorIs(t, e.CancelDownload("missing"), queue.ErrItemNotFound)
}

func TestEngine_PauseAndResumeRunning(t *testing.T) {
	e, q, runner := newEngineFixture(t, 1, nil)
	items := addItems(t, q, 1)
	id := items[0].ID

	e.Start()
	require.Eventually(t, func() bool { return stateOf(q, id) == domain.StateDownloading }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.PauseDownload(id))
	assert.Equal(t, domain.StatePaused, stateOf(q, id))
	assert.True(t, e.handle(id).ctrl.Paused())
	assert.Equal(t, 1, e.ActiveCount(), "a paused item keeps its slot")

	require.NoError(t, e.ResumeDownload(id))
	assert.Equal(t, domain.StateDownloading, stateOf(q, id))

	close(runner.release)
	require.Eventually(t, func() bool { return stateOf(q, id) == domain.StateCompleted }, time.Second, 5*time.Millisecond)
}

func TestEngine_PauseQueuedItem(t *testing.T) {
	e, q, _ := newEngineFixture(t, 1, nil)
	items := addItems(t, q, 1)
	id := items[0].ID

	require.NoError(t, e.PauseDownload(id))
	assert.Equal(t, domain.StatePaused, stateOf(q, id))

	e.Start()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.StatePaused, stateOf(q, id), "paused items are not picked up")

	require.NoError(t, e.ResumeDownload(id))
	require.Eventually(t, func() bool { return stateOf(q, id) == domain.StateDownloading }, time.Second, 5*time.Millisecond)
}

func TestEngine_StopReturnsItemsToQueue(t *testing.T) {
	e, q, _ := newEngineFixture(t, 2, nil)
	items := addItems(t, q, 2)

	e.Start()
	require.Eventually(t, func() bool { return e.ActiveCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop(context.Background()))
	assert.False(t, e.Running())
	for _, it := range items {
		assert.Equal(t, domain.StateQueued, stateOf(q, it.ID))
	}

	e.Start()
	require.Eventually(t, func() bool { return e.ActiveCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestEngine_StopKeepsPausedItemsPaused(t *testing.T) {
	e, q, _ := newEngineFixture(t, 2, nil)
	items := addItems(t, q, 2)
	paused, running := items[0].ID, items[1].ID

	e.Start()
	require.Eventually(t, func() bool { return e.ActiveCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.PauseDownload(paused))

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, domain.StatePaused, stateOf(q, paused))
	assert.Equal(t, domain.StateQueued, stateOf(q, running))

	e.Start()
	require.Eventually(t, func() bool { return stateOf(q, running) == domain.StateDownloading }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.StatePaused, stateOf(q, paused), "restart does not pick up paused items")

	require.NoError(t, e.ResumeDownload(paused))
	require.Eventually(t, func() bool { return stateOf(q, paused) == domain.StateDownloading }, time.Second, 5*time.Millisecond)
}

func TestEngine_StopAbandonsStragglers(t *testing.T) {
	e, q, runner := newEngineFixture(t, 1, func(r *fakeRunner) { r.ignoreClose = true })
	e.cfg.StopTimeout = 30 * time.Millisecond
	items := addItems(t, q, 1)
	id := items[0].ID

	e.Start()
	require.Eventually(t, func() bool { return stateOf(q, id) == domain.StateDownloading }, time.Second, 5*time.Millisecond)

	err := e.Stop(context.Background())
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Equal(t, domain.StateQueued, stateOf(q, id))
	assert.Zero(t, e.ActiveCount())

	// the abandoned worker finishing late must not override the queue
	close(runner.release)
	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("straggler never finished")
	}
	assert.Equal(t, domain.StateQueued, stateOf(q, id))
}

func TestEngine_RemoveCancelsWorker(t *testing.T) {
	e, q, runner := newEngineFixture(t, 1, nil)
	items := addItems(t, q, 1)

	e.Start()
	require.Eventually(t, func() bool { return e.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, q.RemoveItem(items[0].ID))
	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("worker was not cancelled")
	}
	require.Eventually(t, func() bool { return e.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEngine_UpdateConcurrentLimit(t *testing.T) {
	e, q, _ := newEngineFixture(t, 1, nil)
	addItems(t, q, 3)

	assert.Equal(t, 1, e.UpdateConcurrentLimit(0))
	assert.Equal(t, 10, e.UpdateConcurrentLimit(50))

	e.UpdateConcurrentLimit(1)
	e.Start()
	require.Eventually(t, func() bool { return e.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, e.UpdateConcurrentLimit(3))
	require.Eventually(t, func() bool { return e.ActiveCount() == 3 }, time.Second, 5*time.Millisecond)
}

type panickyRunner struct{}

func (panickyRunner) Run(ctx context.Context, item domain.QueueItem, ctrl *Control) Outcome {
	panic("boom")
}

func TestEngine_PanicFailsItem(t *testing.T) {
	log := logger.Discard()
	bus := events.NewBus(log)
	q := queue.NewManager(queue.NewFileStore(filepath.Join(t.TempDir(), "queue.json")), bus, log)
	e := NewEngine(q, bus, panickyRunner{}, EngineConfig{MaxConcurrent: 1, PollInterval: time.Hour}, log)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	items := addItems(t, q, 1)

	e.Start()
	require.Eventually(t, func() bool { return stateOf(q, items[0].ID) == domain.StateFailed }, time.Second, 5*time.Millisecond)

	st, _ := q.GetState(items[0].ID)
	assert.Contains(t, st.ErrorMessage, "boom")
}
