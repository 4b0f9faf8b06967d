package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cesargomez89/stripedl/internal/constants"
	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/logger"
	"github.com/cesargomez89/stripedl/internal/queue"
	"github.com/cesargomez89/stripedl/internal/store"
)

// Controller is the part of the download engine the service drives.
type Controller interface {
	CancelDownload(id string) error
	PauseDownload(id string) error
	ResumeDownload(id string) error
	UpdateConcurrentLimit(n int) int
	MaxConcurrent() int
}

type Settings interface {
	Set(key, value string) error
}

type DownloadHistory interface {
	ListDownloads(limit int) ([]*domain.Download, error)
}

type QueueService struct {
	Queue    *queue.Manager
	Factory  *ItemFactory
	Engine   Controller
	Settings Settings
	History  DownloadHistory
	Logger   *logger.Logger
}

func NewQueueService(q *queue.Manager, factory *ItemFactory, engine Controller, settings Settings, history DownloadHistory, log *logger.Logger) *QueueService {
	if log == nil {
		log = logger.Default()
	}
	return &QueueService{
		Queue:    q,
		Factory:  factory,
		Engine:   engine,
		Settings: settings,
		History:  history,
		Logger:   log.WithComponent("queue_service"),
	}
}

// Enqueue adds the provider item to the queue. When it is already queued the
// existing item is returned and created is false.
func (s *QueueService) Enqueue(ctx context.Context, itemType domain.ItemType, providerID string) (item domain.QueueItem, created bool, err error) {
	if existing, ok := s.Queue.FindByProvider(itemType, providerID); ok {
		s.Logger.Info("Item already queued", "item_id", existing.ID, "provider_id", providerID, "type", itemType)
		return existing, false, nil
	}

	built, err := s.Factory.Build(ctx, itemType, providerID)
	if err != nil {
		return domain.QueueItem{}, false, fmt.Errorf("failed to build %s %s: %w", itemType, providerID, err)
	}

	added, err := s.Queue.AddItem(built)
	if errors.Is(err, queue.ErrDuplicateItem) && added.ID != "" {
		return added, false, nil
	}
	if err != nil {
		return domain.QueueItem{}, false, err
	}
	s.Logger.Info("Item enqueued", "item_id", added.ID, "provider_id", providerID, "type", itemType, "tracks", added.TotalTracks)
	return added, true, nil
}

func (s *QueueService) List() []queue.Entry {
	return s.Queue.List()
}

func (s *QueueService) Get(id string) (queue.Entry, error) {
	entry, ok := s.Queue.Get(id)
	if !ok {
		return queue.Entry{}, fmt.Errorf("%w: %s", queue.ErrItemNotFound, id)
	}
	return entry, nil
}

func (s *QueueService) Remove(id string) error {
	return s.Queue.RemoveItem(id)
}

func (s *QueueService) Cancel(id string) error {
	return s.Engine.CancelDownload(id)
}

func (s *QueueService) Pause(id string) error {
	return s.Engine.PauseDownload(id)
}

func (s *QueueService) Resume(id string) error {
	return s.Engine.ResumeDownload(id)
}

func (s *QueueService) Retry(id string) error {
	if err := s.Queue.RetryItem(id); err != nil {
		return err
	}
	s.Logger.Info("Item retried", "item_id", id)
	return nil
}

func (s *QueueService) RetryFailed() int {
	return s.Queue.RetryFailedItems()
}

// Clear removes items in the given states, defaulting to finished ones.
func (s *QueueService) Clear(states ...domain.DownloadState) []string {
	if len(states) == 0 {
		states = []domain.DownloadState{domain.StateCompleted, domain.StateFailed, domain.StateCancelled}
	}
	return s.Queue.ClearByStates(states...)
}

// SetConcurrency applies a new pool size and stores it so it survives restarts.
func (s *QueueService) SetConcurrency(n int) int {
	applied := s.Engine.UpdateConcurrentLimit(n)
	if s.Settings != nil {
		if err := s.Settings.Set(store.SettingMaxConcurrent, strconv.Itoa(applied)); err != nil {
			s.Logger.Warn("Failed to persist concurrency", "error", err)
		}
	}
	return applied
}

func (s *QueueService) Concurrency() int {
	return s.Engine.MaxConcurrent()
}

func (s *QueueService) Downloads(limit int) ([]*domain.Download, error) {
	if limit <= 0 || limit > constants.MaxHistoryItems {
		limit = constants.MaxHistoryItems
	}
	return s.History.ListDownloads(limit)
}
