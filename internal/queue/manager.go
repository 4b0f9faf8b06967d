// Package queue holds the authoritative set of queue items and their states and
// mirrors it to a snapshot on disk after every mutation.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/events"
	"github.com/cesargomez89/stripedl/internal/logger"
)

var (
	ErrDuplicateItem = errors.New("item already in queue")
	ErrItemNotFound  = errors.New("item not found")
	ErrInvalidState  = errors.New("invalid state for operation")
)

// Entry pairs an item with its current state.
type Entry struct {
	Item  domain.QueueItem      `json:"item"`
	State domain.QueueItemState `json:"state"`
}

// Manager is safe for concurrent use. Exported methods take mu; helpers with the
// Locked suffix expect it to be held. Events are always published after mu is
// released so handlers can call back into the manager.
type Manager struct {
	store  SnapshotStore
	bus    *events.Bus
	logger *logger.Logger
	now    func() time.Time

	items   map[string]domain.QueueItem
	states  map[string]domain.QueueItemState
	version uint64
	mu      sync.Mutex

	// saveMu serializes snapshot writes; savedVersion is guarded by it.
	savedVersion uint64
	saveMu       sync.Mutex
}

// NewManager loads the snapshot from store. A missing or corrupt snapshot
// yields an empty queue.
func NewManager(store SnapshotStore, bus *events.Bus, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	m := &Manager{
		store:  store,
		bus:    bus,
		logger: log.WithComponent("queue"),
		now:    time.Now,
		items:  make(map[string]domain.QueueItem),
		states: make(map[string]domain.QueueItemState),
	}
	m.Load()
	return m
}

// Load replaces the in-memory queue with the stored snapshot. Items that were
// downloading when the snapshot was written are put back to queued, since no
// worker can still own them.
func (m *Manager) Load() {
	snap, err := m.store.Load()
	if err != nil {
		if errors.Is(err, ErrCorruptSnapshot) {
			m.logger.Warn("Queue snapshot was corrupt, starting empty", "error", err)
		} else {
			m.logger.Error("Failed to load queue snapshot, starting empty", "error", err)
		}
		snap = domain.NewQueueSnapshot()
	}

	now := m.now()
	recovered := 0

	m.mu.Lock()
	m.items = make(map[string]domain.QueueItem, len(snap.Items))
	m.states = make(map[string]domain.QueueItemState, len(snap.Items))
	for id, item := range snap.Items {
		if item.ID == "" {
			item.ID = id
		}
		if err := item.Validate(); err != nil {
			m.logger.Warn("Dropping invalid item from snapshot", "item_id", id, "error", err)
			continue
		}
		state, ok := snap.States[id]
		if !ok || !state.State.Valid() {
			state = domain.NewQueueItemState(now)
		}
		if state.State == domain.StateDownloading {
			state.State = domain.StateQueued
			state.UpdatedAt = now
			recovered++
		}
		m.items[id] = item
		m.states[id] = state
	}
	m.version++
	version := m.version
	count := len(m.items)
	m.mu.Unlock()

	m.saveMu.Lock()
	if recovered == 0 {
		m.savedVersion = version
	} else {
		m.savedVersion = 0
	}
	m.saveMu.Unlock()

	m.logger.Info("Queue loaded", "items", count, "recovered", recovered)
	if recovered > 0 {
		m.Persist()
	}
}

// Persist writes the current snapshot. Failures are logged; the in-memory
// queue stays authoritative and the next successful write catches up.
func (m *Manager) Persist() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	version := m.version
	m.mu.Unlock()

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if version <= m.savedVersion {
		return
	}
	if err := m.store.Save(snap); err != nil {
		m.logger.Error("Failed to persist queue snapshot", "error", err, "version", version)
		return
	}
	m.savedVersion = version
}

func (m *Manager) snapshotLocked() *domain.QueueSnapshot {
	snap := &domain.QueueSnapshot{
		Items:     make(map[string]domain.QueueItem, len(m.items)),
		States:    make(map[string]domain.QueueItemState, len(m.states)),
		CreatedAt: m.now(),
	}
	for id, item := range m.items {
		snap.Items[id] = item.Clone()
	}
	for id, st := range m.states {
		snap.States[id] = st
	}
	return snap
}

// AddItem stores item with a fresh queued state. Items are unique per
// (type, provider id); a duplicate returns the existing item and ErrDuplicateItem.
func (m *Manager) AddItem(item domain.QueueItem) (domain.QueueItem, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.now()
	}
	if err := item.Validate(); err != nil {
		return domain.QueueItem{}, err
	}
	item = item.Clone()

	m.mu.Lock()
	if existing, ok := m.findByProviderLocked(item.Type, item.ProviderID); ok {
		m.mu.Unlock()
		return existing, fmt.Errorf("%w: %s %s", ErrDuplicateItem, item.Type, item.ProviderID)
	}
	if _, ok := m.items[item.ID]; ok {
		m.mu.Unlock()
		return domain.QueueItem{}, fmt.Errorf("%w: id %s", ErrDuplicateItem, item.ID)
	}
	m.items[item.ID] = item
	m.states[item.ID] = domain.NewQueueItemState(m.now())
	m.version++
	m.mu.Unlock()

	m.logger.Info("Item added", "item_id", item.ID, "item_type", item.Type, "provider_id", item.ProviderID, "tracks", item.TotalTracks)
	m.Persist()
	m.publish(events.Event{Topic: events.TopicItemAdded, ItemID: item.ID, State: domain.StateQueued})
	return item.Clone(), nil
}

// RemoveItem deletes an item. A downloading item is moved to cancelled first
// so observers see the transition before the removal.
func (m *Manager) RemoveItem(id string) error {
	m.mu.Lock()
	if _, ok := m.items[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	wasDownloading := m.states[id].State == domain.StateDownloading
	delete(m.items, id)
	delete(m.states, id)
	m.version++
	m.mu.Unlock()

	if wasDownloading {
		m.publish(events.Event{Topic: events.TopicItemStateChanged, ItemID: id, State: domain.StateCancelled})
	}
	m.logger.Info("Item removed", "item_id", id, "was_downloading", wasDownloading)
	m.Persist()
	m.publish(events.Event{Topic: events.TopicItemRemoved, ItemID: id})
	return nil
}

// UpdateState merges upd into the item's state, persists and emits a state
// change even when only progress moved.
func (m *Manager) UpdateState(id string, upd domain.StateUpdate) (domain.QueueItemState, error) {
	m.mu.Lock()
	st, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return domain.QueueItemState{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	st = upd.Apply(st, m.now())
	m.states[id] = st
	m.version++
	m.mu.Unlock()

	m.Persist()
	m.publishState(id, st)
	return st, nil
}

// Transition moves an item to state `to` only if its current state is one of
// from. It reports whether the transition happened.
func (m *Manager) Transition(id string, to domain.DownloadState, from ...domain.DownloadState) bool {
	_, ok := m.UpdateStateFrom(id, domain.WithState(to), from...)
	return ok
}

// UpdateStateFrom applies upd only while the item is in one of the from states.
func (m *Manager) UpdateStateFrom(id string, upd domain.StateUpdate, from ...domain.DownloadState) (domain.QueueItemState, bool) {
	st, ok := m.applyFrom(id, upd, from)
	if !ok {
		return st, false
	}
	m.Persist()
	m.publishState(id, st)
	return st, true
}

// ApplyStateFrom is UpdateStateFrom without the write: the change is visible
// and published at once, and lands on disk with the caller's next Persist.
// Persist skips versions older than the last one saved, so callers may
// persist outside their own locks in any order.
func (m *Manager) ApplyStateFrom(id string, upd domain.StateUpdate, from ...domain.DownloadState) (domain.QueueItemState, bool) {
	st, ok := m.applyFrom(id, upd, from)
	if ok {
		m.publishState(id, st)
	}
	return st, ok
}

func (m *Manager) applyFrom(id string, upd domain.StateUpdate, from []domain.DownloadState) (domain.QueueItemState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok || !lo.Contains(from, st.State) {
		return st, false
	}
	st = upd.Apply(st, m.now())
	m.states[id] = st
	m.version++
	return st, true
}

// GetNextQueued returns up to limit queued items, oldest first.
func (m *Manager) GetNextQueued(limit int) []domain.QueueItem {
	if limit <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	queued := make([]domain.QueueItem, 0)
	for id, st := range m.states {
		if st.State == domain.StateQueued {
			queued = append(queued, m.items[id])
		}
	}
	sortFIFO(queued)

	if len(queued) > limit {
		queued = queued[:limit]
	}
	return lo.Map(queued, func(item domain.QueueItem, _ int) domain.QueueItem { return item.Clone() })
}

func sortFIFO(items []domain.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

// ClearByStates removes every item whose state is in states with a single persist.
// It returns the removed ids.
func (m *Manager) ClearByStates(states ...domain.DownloadState) []string {
	m.mu.Lock()
	var removed []string
	for id, st := range m.states {
		if lo.Contains(states, st.State) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(m.items, id)
		delete(m.states, id)
	}
	if len(removed) > 0 {
		m.version++
	}
	m.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	sort.Strings(removed)

	m.logger.Info("Queue cleared", "states", states, "removed", len(removed))
	m.Persist()
	m.publish(events.Event{Topic: events.TopicQueueCleared, States: states, ItemIDs: removed})
	return removed
}

// RetryFailedItems requeues every failed item, clearing its error and bumping
// its retry count. It returns how many items were requeued.
func (m *Manager) RetryFailedItems() int {
	m.mu.Lock()
	now := m.now()
	var retried []string
	updated := make(map[string]domain.QueueItemState)
	for id, st := range m.states {
		if !st.CanRetry() {
			continue
		}
		st = requeue(st, now)
		m.states[id] = st
		updated[id] = st
		retried = append(retried, id)
	}
	if len(retried) > 0 {
		m.version++
	}
	m.mu.Unlock()

	if len(retried) == 0 {
		return 0
	}
	sort.Strings(retried)

	m.logger.Info("Retrying failed items", "count", len(retried))
	m.Persist()
	for _, id := range retried {
		m.publishState(id, updated[id])
	}
	return len(retried)
}

// RetryItem requeues a single failed or cancelled item.
func (m *Manager) RetryItem(id string) error {
	m.mu.Lock()
	st, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if st.State != domain.StateFailed && st.State != domain.StateCancelled {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot retry %s item", ErrInvalidState, st.State)
	}
	st = requeue(st, m.now())
	m.states[id] = st
	m.version++
	m.mu.Unlock()

	m.Persist()
	m.publishState(id, st)
	return nil
}

func requeue(st domain.QueueItemState, now time.Time) domain.QueueItemState {
	st.State = domain.StateQueued
	st.ErrorMessage = ""
	st.Progress = 0
	st.CompletedTracks = 0
	st.FailedTracks = 0
	st.RetryCount++
	st.UpdatedAt = now
	return st
}

func (m *Manager) GetItem(id string) (domain.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	return item.Clone(), ok
}

func (m *Manager) GetState(id string) (domain.QueueItemState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	return st, ok
}

// Get returns an item together with its state.
func (m *Manager) Get(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{Item: item.Clone(), State: m.states[id]}, true
}

// List returns every entry, oldest first.
func (m *Manager) List() []Entry {
	m.mu.Lock()
	items := lo.Values(m.items)
	sortFIFO(items)
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{Item: item.Clone(), State: m.states[item.ID]})
	}
	m.mu.Unlock()
	return entries
}

func (m *Manager) FindByProvider(itemType domain.ItemType, providerID string) (domain.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByProviderLocked(itemType, providerID)
}

func (m *Manager) findByProviderLocked(itemType domain.ItemType, providerID string) (domain.QueueItem, bool) {
	for _, item := range m.items {
		if item.Type == itemType && item.ProviderID == providerID {
			return item.Clone(), true
		}
	}
	return domain.QueueItem{}, false
}

// Counts returns the number of items per state.
func (m *Manager) Counts() map[domain.DownloadState]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.DownloadState]int)
	for _, st := range m.states {
		counts[st.State]++
	}
	return counts
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Manager) publishState(id string, st domain.QueueItemState) {
	m.publish(events.Event{
		Topic:     events.TopicItemStateChanged,
		ItemID:    id,
		State:     st.State,
		Progress:  st.Progress,
		Completed: st.CompletedTracks,
		Failed:    st.FailedTracks,
		Message:   st.ErrorMessage,
	})
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
