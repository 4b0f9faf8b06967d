package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/cesargomez89/stripedl/internal/constants"
	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/events"
	"github.com/cesargomez89/stripedl/internal/logger"
	"github.com/cesargomez89/stripedl/internal/queue"
)

var ErrStopTimeout = errors.New("workers did not stop in time")

type EngineConfig struct {
	MaxConcurrent int
	PollInterval  time.Duration
	StopTimeout   time.Duration
	FillDebounce  time.Duration
}

type handle struct {
	ctx    context.Context
	cancel context.CancelFunc
	ctrl   *Control
}

type claim struct {
	item domain.QueueItem
	h    *handle
	wg   *sync.WaitGroup
}

// Engine keeps at most MaxConcurrent items downloading. It refills on a
// periodic tick and whenever an item is added or a download ends.
//
// Lock order is Engine.mu then the queue's lock; the queue never calls back
// into the engine while holding its own.
type Engine struct {
	queue  *queue.Manager
	bus    *events.Bus
	runner Runner
	logger *logger.Logger
	cfg    EngineConfig

	mu            sync.Mutex
	handles       map[string]*handle
	maxConcurrent int
	running       bool
	ctx           context.Context
	cancel        context.CancelFunc
	wg            *sync.WaitGroup
	debounce      *time.Timer
}

func NewEngine(q *queue.Manager, bus *events.Bus, runner Runner, cfg EngineConfig, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = constants.DefaultStopTimeout
	}
	if cfg.FillDebounce <= 0 {
		cfg.FillDebounce = constants.DefaultFillDebounce
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = constants.DefaultConcurrency
	}

	e := &Engine{
		queue:         q,
		bus:           bus,
		runner:        runner,
		logger:        log.WithComponent("engine"),
		cfg:           cfg,
		handles:       make(map[string]*handle),
		maxConcurrent: clampConcurrency(cfg.MaxConcurrent),
		wg:            &sync.WaitGroup{},
	}
	e.subscribe()
	return e
}

func clampConcurrency(n int) int {
	return max(constants.MinConcurrency, min(constants.MaxConcurrency, n))
}

func (e *Engine) subscribe() {
	if e.bus == nil {
		return
	}
	e.bus.Subscribe(events.TopicItemAdded, func(events.Event) { e.scheduleFill() })
	e.bus.Subscribe(events.TopicItemRemoved, func(ev events.Event) { e.cancelHandle(ev.ItemID) })
	e.bus.Subscribe(events.TopicQueueCleared, func(ev events.Event) {
		for _, id := range ev.ItemIDs {
			e.cancelHandle(id)
		}
	})
	e.bus.Subscribe(events.TopicDownloadCompleted, e.onCompleted)
	e.bus.Subscribe(events.TopicDownloadFailed, e.onFailed)
}

func (e *Engine) onCompleted(ev events.Event) {
	state := domain.StateCompleted
	progress := 1.0
	completed, failed := ev.Completed, ev.Failed
	empty := ""
	upd := domain.StateUpdate{
		State:           &state,
		Progress:        &progress,
		CompletedTracks: &completed,
		FailedTracks:    &failed,
		ErrorMessage:    &empty,
	}
	if _, ok := e.queue.UpdateStateFrom(ev.ItemID, upd, domain.StateDownloading, domain.StatePaused); ok {
		e.logger.Info("Item completed", "item_id", ev.ItemID, "completed", completed, "failed", failed)
	}
}

func (e *Engine) onFailed(ev events.Event) {
	upd := domain.WithState(domain.StateFailed)
	msg := ev.Message
	upd.ErrorMessage = &msg
	if _, ok := e.queue.UpdateStateFrom(ev.ItemID, upd, domain.StateDownloading, domain.StatePaused); ok {
		e.logger.Warn("Item failed", "item_id", ev.ItemID, "error", msg)
	}
}

// Start begins the poll loop and fills the pool once. Calling Start on a
// running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	ctx := e.ctx
	e.mu.Unlock()

	e.logger.Info("Starting engine", "max_concurrent", e.MaxConcurrent(), "poll_interval", e.cfg.PollInterval)

	go func() {
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Fill()
			}
		}
	}()

	e.Fill()
}

// Stop cancels every running item and waits up to StopTimeout (or ctx) for
// them to return. Items that were downloading go back to queued so the next
// Start resumes them; paused items stay paused until resumed. Stragglers are
// abandoned, not killed.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.cancel()
	if e.debounce != nil {
		e.debounce.Stop()
	}
	wg := e.wg
	ids := lo.Keys(e.handles)
	e.mu.Unlock()

	e.logger.Info("Stopping engine", "active", len(ids))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.cfg.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-done:
	case <-timer.C:
		err = ErrStopTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		e.logger.Warn("Abandoning workers that did not stop", "error", err)
		e.mu.Lock()
		e.handles = make(map[string]*handle)
		e.wg = &sync.WaitGroup{}
		e.mu.Unlock()
	}

	for _, id := range ids {
		e.queue.Transition(id, domain.StateQueued, domain.StateDownloading)
	}
	return err
}

// Fill starts one worker per free slot, oldest queued item first.
func (e *Engine) Fill() {
	for _, c := range e.reserve() {
		if !e.queue.Transition(c.item.ID, domain.StateDownloading, domain.StateQueued) {
			// cancelled, paused or removed since it was picked
			e.drop(c.item.ID, c.h)
			c.h.cancel()
			c.wg.Done()
			continue
		}
		e.launch(c)
	}
}

func (e *Engine) reserve() []claim {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	slots := e.maxConcurrent - len(e.handles)
	if slots <= 0 {
		return nil
	}

	var claims []claim
	for _, item := range e.queue.GetNextQueued(slots + len(e.handles)) {
		if len(claims) == slots {
			break
		}
		if _, busy := e.handles[item.ID]; busy {
			continue
		}
		ctx, cancel := context.WithCancel(e.ctx)
		h := &handle{ctx: ctx, cancel: cancel, ctrl: NewControl()}
		e.handles[item.ID] = h
		claims = append(claims, claim{item: item, h: h, wg: e.wg})
	}
	e.wg.Add(len(claims))
	return claims
}

func (e *Engine) launch(c claim) {
	go func() {
		defer c.wg.Done()
		outcome := e.run(c)
		e.logger.Debug("Worker returned", "item_id", c.item.ID, "outcome", outcome)
		e.drop(c.item.ID, c.h)
		c.h.cancel()
		e.Fill()
	}()
}

func (e *Engine) run(c claim) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic in download", "item_id", c.item.ID, "panic", r)
			if e.bus != nil {
				e.bus.Publish(events.Event{
					Topic:   events.TopicDownloadFailed,
					ItemID:  c.item.ID,
					Message: fmt.Sprintf("panic: %v", r),
				})
			}
			outcome = OutcomeFailed
		}
	}()
	return e.runner.Run(c.h.ctx, c.item, c.h.ctrl)
}

func (e *Engine) drop(id string, h *handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handles[id] == h {
		delete(e.handles, id)
	}
}

func (e *Engine) handle(id string) *handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[id]
}

func (e *Engine) cancelHandle(id string) {
	if h := e.handle(id); h != nil {
		h.cancel()
	}
}

func (e *Engine) scheduleFill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if e.debounce == nil {
		e.debounce = time.AfterFunc(e.cfg.FillDebounce, e.Fill)
		return
	}
	e.debounce.Reset(e.cfg.FillDebounce)
}

// CancelDownload marks the item cancelled before signalling its worker, so a
// worker finishing concurrently cannot overwrite the state.
func (e *Engine) CancelDownload(id string) error {
	if !e.queue.Transition(id, domain.StateCancelled, domain.StateQueued, domain.StateDownloading, domain.StatePaused) {
		return e.stateError(id, "cancel")
	}
	e.cancelHandle(id)
	e.logger.Info("Download cancelled", "item_id", id)
	if e.bus != nil {
		e.bus.Publish(events.Event{Topic: events.TopicDownloadCancelled, ItemID: id, State: domain.StateCancelled})
	}
	return nil
}

// PauseDownload suspends a running item between chunks, or parks a queued
// item so it is not picked up.
func (e *Engine) PauseDownload(id string) error {
	if e.queue.Transition(id, domain.StatePaused, domain.StateDownloading) {
		if h := e.handle(id); h != nil {
			h.ctrl.Pause()
		}
		e.logger.Info("Download paused", "item_id", id)
		return nil
	}
	if e.queue.Transition(id, domain.StatePaused, domain.StateQueued) {
		return nil
	}
	return e.stateError(id, "pause")
}

// ResumeDownload continues a paused worker where it stopped. An item paused
// before it started goes back to the queue.
func (e *Engine) ResumeDownload(id string) error {
	if h := e.handle(id); h != nil && h.ctrl.Paused() {
		if !e.queue.Transition(id, domain.StateDownloading, domain.StatePaused) {
			return e.stateError(id, "resume")
		}
		h.ctrl.Resume()
		e.logger.Info("Download resumed", "item_id", id)
		return nil
	}
	if e.queue.Transition(id, domain.StateQueued, domain.StatePaused) {
		e.scheduleFill()
		return nil
	}
	return e.stateError(id, "resume")
}

func (e *Engine) stateError(id, op string) error {
	st, ok := e.queue.GetState(id)
	if !ok {
		return fmt.Errorf("%w: %s", queue.ErrItemNotFound, id)
	}
	return fmt.Errorf("%w: cannot %s %s item", queue.ErrInvalidState, op, st.State)
}

// UpdateConcurrentLimit clamps n to the allowed range and returns the value
// applied. Running items above a lowered limit finish normally.
func (e *Engine) UpdateConcurrentLimit(n int) int {
	n = clampConcurrency(n)
	e.mu.Lock()
	old := e.maxConcurrent
	e.maxConcurrent = n
	e.mu.Unlock()

	if n != old {
		e.logger.Info("Concurrency changed", "from", old, "to", n)
	}
	if n > old {
		e.Fill()
	}
	return n
}

func (e *Engine) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxConcurrent
}

func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}
