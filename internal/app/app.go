package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lead_viewer/config"
	"lead_viewer/internal/events"
	"lead_viewer/internal/httpapi"
	"lead_viewer/internal/loader"
	"lead_viewer/internal/session"
	"lead_viewer/internal/store"
	"lead_viewer/internal/watch"
	"lead_viewer/metrics"
	"lead_viewer/query"
	"lead_viewer/queue"
)

// App wires the lead viewer components together.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *store.Store
	session *session.Session
	queue   *queue.Queue
	metrics *metrics.Metrics
	bus     *events.Bus
	watcher *watch.Watcher
	mux     *http.ServeMux

	// runCtx bounds watch-triggered enqueue retries; Run replaces it.
	runCtx      context.Context
	watchWindow time.Duration
}

const (
	defaultWatchWindow = 2 * time.Second
	watchRetryInterval = 50 * time.Millisecond
)

func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	bus := events.NewBus()
	q := queue.New(cfg.ReloadQueueSize, 1, cfg.ReloadTimeoutDuration(), logger)
	q.SetObserver(m)

	sess := session.New(session.Options{
		Source:   cfg.DataSource,
		Dialect:  cfg.Dialect,
		Fetcher:  loader.New(&http.Client{}, cfg.FetchTimeout()),
		History:  st,
		Bus:      bus,
		Recorder: m,
		Logger:   logger,
	})

	a := &App{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		session:     sess,
		queue:       q,
		metrics:     m,
		bus:         bus,
		mux:         http.NewServeMux(),
		runCtx:      context.Background(),
		watchWindow: defaultWatchWindow,
	}
	if cfg.WatchEnabled && !loader.IsRemote(cfg.DataSource) {
		a.watcher = watch.New(cfg.DataSource, watch.DefaultDebounce, func() { a.reloadOnChange() }, logger)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Config:  cfg,
		Session: sess,
		Store:   st,
		Queue:   q,
		Metrics: m,
		Bus:     bus,
		Engine:  query.NewEngine(cfg.Location),
		Reload:  a.EnqueueReload,
		Logger:  logger,
	})
	router.Register(a.mux)
	return a, nil
}

// Run loads the dataset once, then serves HTTP and watches the source until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.runCtx = ctx
	a.queue.Start(ctx)
	if _, err := a.session.Reload(ctx); err != nil {
		a.logger.Warn("initial load failed, serving without data", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	} else {
		a.logger.Info("watcher disabled", zap.String("source", a.session.Source()))
	}

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		a.logger.Info("http listening", zap.String("addr", a.cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		a.queue.Stop(shutdownCtx)
		return nil
	})
	return g.Wait()
}

// EnqueueReload schedules a background reload; false means the queue is full.
func (a *App) EnqueueReload(source string) bool {
	ok := a.queue.Enqueue(a.reloadJob(source))
	a.updateQueueMetrics()
	return ok
}

// reloadOnChange queues a reload for a file change, retrying for a short
// window while the queue is full so the latest save is not lost.
func (a *App) reloadOnChange() bool {
	ok, dropped := a.queue.EnqueueWithRetry(a.runCtx, a.reloadJob("watch"), a.watchWindow, watchRetryInterval)
	a.updateQueueMetrics()
	if dropped {
		a.logger.Warn("file change reload dropped", zap.String("source", a.session.Source()))
	}
	return ok
}

func (a *App) reloadJob(source string) queue.Job {
	return queue.Job{
		ID:     uuid.NewString(),
		Source: source,
		Work: func(ctx context.Context) error {
			_, err := a.session.Reload(ctx)
			return err
		},
		OnFinish: func(error) { a.updateQueueMetrics() },
	}
}

func (a *App) updateQueueMetrics() {
	s := a.queue.Stats()
	a.metrics.UpdateQueue(s.Length, s.Capacity, s.WorkerCount)
}

// Close releases the database.
func (a *App) Close() error { return a.store.Close() }

func (a *App) Session() *session.Session { return a.session }

func (a *App) Mux() *http.ServeMux { return a.mux }
