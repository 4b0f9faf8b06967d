package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cesargomez89/stripedl/internal/app"
	"github.com/cesargomez89/stripedl/internal/catalog"
	"github.com/cesargomez89/stripedl/internal/constants"
	"github.com/cesargomez89/stripedl/internal/decrypt"
	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/events"
	"github.com/cesargomez89/stripedl/internal/logger"
	"github.com/cesargomez89/stripedl/internal/queue"
	"github.com/cesargomez89/stripedl/internal/storage"
)

// Outcome is how a Run ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return "cancelled"
	}
}

// Runner executes one queue item. The engine owns one Runner for all items.
type Runner interface {
	Run(ctx context.Context, item domain.QueueItem, ctrl *Control) Outcome
}

type StreamFetcher interface {
	OpenStream(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

type TrackFinalizer interface {
	Finalize(ctx context.Context, req app.FinalizeRequest) error
}

type WorkerConfig struct {
	DownloadsDir   string
	TempDir        string
	SubdirTemplate string
	Quality        string
	Secret         []byte
	ParallelTracks int
	TrackStagger   time.Duration
}

// Worker downloads every track of an item: resolve a signed URL, stream the
// encrypted bytes to a partial file, decrypt it in place and hand it to the
// finalizer. A failed track never fails its siblings.
type Worker struct {
	Session   catalog.Session
	Fetcher   StreamFetcher
	Finalizer TrackFinalizer
	Queue     *queue.Manager
	Bus       *events.Bus
	Config    WorkerConfig
	Logger    *logger.Logger
}

func NewWorker(session catalog.Session, fetcher StreamFetcher, finalizer TrackFinalizer, q *queue.Manager, bus *events.Bus, cfg WorkerConfig, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Default()
	}
	if cfg.ParallelTracks < 1 {
		cfg.ParallelTracks = constants.DefaultParallelTracks
	}
	if cfg.SubdirTemplate == "" {
		cfg.SubdirTemplate = constants.DefaultSubdirTemplate
	}
	return &Worker{
		Session:   session,
		Fetcher:   fetcher,
		Finalizer: finalizer,
		Queue:     q,
		Bus:       bus,
		Config:    cfg,
		Logger:    log.WithComponent("worker"),
	}
}

func (w *Worker) Run(ctx context.Context, item domain.QueueItem, ctrl *Control) Outcome {
	log := w.Logger.WithItem(item.ID, string(item.Type))
	log.Info("Starting download", "title", item.Title, "tracks", item.TotalTracks)
	w.publish(events.Event{Topic: events.TopicDownloadStarted, ItemID: item.ID})

	if err := w.Session.RefreshSession(ctx); err != nil {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}
		log.Error("Session refresh failed", "error", err)
		w.publish(events.Event{
			Topic:   events.TopicDownloadFailed,
			ItemID:  item.ID,
			Message: fmt.Sprintf("session refresh failed: %v", err),
		})
		return OutcomeFailed
	}

	tally := &tally{worker: w, item: item}
	session := newItemSession(ctx, w.Session)

	var g errgroup.Group
	g.SetLimit(w.Config.ParallelTracks)
	stagger := rate.NewLimiter(rate.Every(w.Config.TrackStagger), 1)

	for _, track := range item.Tracks {
		if ctrl.Wait(ctx) != nil || stagger.Wait(ctx) != nil {
			break
		}
		track := track
		g.Go(func() error {
			w.runTrack(ctx, session, item, track, ctrl, tally)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		log.Info("Download cancelled")
		return OutcomeCancelled
	}

	completed, failed := tally.counts()
	log.Info("Download finished", "completed", completed, "failed", failed)
	w.publish(events.Event{
		Topic:     events.TopicDownloadCompleted,
		ItemID:    item.ID,
		Progress:  1,
		Completed: completed,
		Failed:    failed,
	})
	return OutcomeCompleted
}

func (w *Worker) runTrack(ctx context.Context, session *itemSession, item domain.QueueItem, track domain.TrackInfo, ctrl *Control, t *tally) {
	if ctrl.Wait(ctx) != nil {
		return
	}
	err := w.downloadTrack(ctx, session, item, track, ctrl)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		w.Logger.WithItem(item.ID, string(item.Type)).WithTrack(track.TrackID, track.Title).Warn("Track failed", "error", err)
	}
	t.record(track, err)
}

func (w *Worker) downloadTrack(ctx context.Context, session *itemSession, item domain.QueueItem, track domain.TrackInfo, ctrl *Control) error {
	dest, err := w.destination(item, track)
	if err != nil {
		return err
	}
	if storage.Exists(dest) {
		w.Logger.Debug("Track already on disk", "track_id", track.TrackID, "path", dest)
		return nil
	}

	url, err := session.resolve(ctx, track.TrackID, w.Config.Quality)
	if err != nil {
		return err
	}

	part := filepath.Join(w.Config.TempDir, item.ID+"-"+track.TrackID+constants.ExtPart)
	if err := w.fetch(ctx, url, part, ctrl); err != nil {
		_ = storage.RemoveFile(part)
		return err
	}

	if err := decrypt.DecryptFile(part, track.TrackID, w.Config.Secret); err != nil {
		_ = storage.RemoveFile(part)
		return fmt.Errorf("decrypt: %w", err)
	}

	err = w.Finalizer.Finalize(ctx, app.FinalizeRequest{
		SourcePath: part,
		DestPath:   dest,
		Track:      track,
		Item:       item,
		Quality:    w.Config.Quality,
	})
	if err != nil {
		_ = storage.RemoveFile(part)
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// itemSession resolves stream URLs for one item. A session that expires
// partway through is renewed once and shared by all of the item's tracks.
type itemSession struct {
	session catalog.Session
	renew   func() error
}

func newItemSession(ctx context.Context, s catalog.Session) *itemSession {
	return &itemSession{
		session: s,
		renew:   sync.OnceValue(func() error { return s.RefreshSession(ctx) }),
	}
}

func (s *itemSession) resolve(ctx context.Context, trackID, quality string) (string, error) {
	url, err := s.session.ResolveTrackURL(ctx, trackID, quality)
	if err == nil || !catalog.IsSessionError(err) {
		return url, err
	}
	if rerr := s.renew(); rerr != nil {
		return "", fmt.Errorf("%w (session refresh failed: %v)", err, rerr)
	}
	return s.session.ResolveTrackURL(ctx, trackID, quality)
}

func (w *Worker) destination(item domain.QueueItem, track domain.TrackInfo) (string, error) {
	artist, collection := track.Artist, ""
	switch item.Type {
	case domain.ItemTypeAlbum:
		collection = item.Title
		if item.Artist != "" {
			artist = item.Artist
		}
	case domain.ItemTypePlaylist:
		collection = item.Title
	}
	data := storage.BuildPathTemplateData(artist, collection, track.DiscNumber, track.TrackNumber, track.Title, track.TrackID)
	return storage.BuildFullPath(w.Config.DownloadsDir, w.Config.SubdirTemplate, data, constants.ExtForQuality(w.Config.Quality))
}

// fetch streams url to path in fixed chunks, honouring cancellation and pause
// between chunks.
func (w *Worker) fetch(ctx context.Context, url, path string, ctrl *Control) error {
	body, _, err := w.Fetcher.OpenStream(ctx, url)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer body.Close()

	if err := storage.EnsureParentDir(path); err != nil {
		return err
	}
	f, err := storage.CreateFile(path)
	if err != nil {
		return err
	}

	buf := make([]byte, constants.StreamChunkSize)
	for {
		if err := ctrl.Wait(ctx); err != nil {
			f.Close()
			return err
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			f.Close()
			return fmt.Errorf("read stream: %w", rerr)
		}
	}
	// the last read may have been in flight when the item was paused
	if err := ctrl.Wait(ctx); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Worker) publish(ev events.Event) {
	if w.Bus != nil {
		w.Bus.Publish(ev)
	}
}

// tally counts finished tracks of one item. mu is held while the state is
// applied and published so the completed ratio observed by subscribers never
// decreases; the snapshot write happens after it is released.
type tally struct {
	worker *Worker
	item   domain.QueueItem

	mu        sync.Mutex
	completed int
	failed    int
}

func (t *tally) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.failed
}

func (t *tally) record(track domain.TrackInfo, err error) {
	if t.report(track, err) {
		t.worker.Queue.Persist()
	}
}

// report reports whether the queue took the update and needs persisting.
func (t *tally) report(track domain.TrackInfo, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err == nil {
		t.completed++
	} else {
		t.failed++
	}

	upd := domain.ProgressUpdate(t.completed, t.failed, t.item.TotalTracks)
	applied := false
	if t.worker.Queue != nil {
		_, applied = t.worker.Queue.ApplyStateFrom(t.item.ID, upd, domain.StateDownloading, domain.StatePaused)
	}
	t.worker.publish(events.Event{
		Topic:     events.TopicDownloadProgress,
		ItemID:    t.item.ID,
		Progress:  *upd.Progress,
		Completed: t.completed,
		Failed:    t.failed,
	})

	if err == nil {
		t.worker.publish(events.Event{Topic: events.TopicTrackCompleted, ItemID: t.item.ID, TrackID: track.TrackID})
	} else {
		t.worker.publish(events.Event{Topic: events.TopicTrackFailed, ItemID: t.item.ID, TrackID: track.TrackID, Message: err.Error()})
	}
	return applied
}
