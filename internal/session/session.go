// Package session owns the currently loaded dataset and swaps it on reload.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lead_viewer/dataset"
	"lead_viewer/internal/events"
)

// ErrNotLoaded is returned by Current before the first successful reload.
var ErrNotLoaded = errors.New("dataset not loaded")

// Fetcher returns the raw bytes of a data source.
type Fetcher interface {
	Fetch(ctx context.Context, source string) ([]byte, error)
}

// History persists load attempts.
type History interface {
	StartLoad(ctx context.Context, source string, ts time.Time) (int64, error)
	FinishLoad(ctx context.Context, id int64, checksum string, records, skipped int, errMsg *string, ts time.Time) error
}

// Recorder receives dataset size metrics.
type Recorder interface {
	RecordDataset(records, skipped int)
}

// Snapshot is one immutable loaded dataset.
type Snapshot struct {
	Dataset  dataset.Dataset `json:"-"`
	Source   string          `json:"source"`
	Checksum string          `json:"checksum"`
	LoadedAt time.Time       `json:"loaded_at"`
	Report   dataset.Report  `json:"report"`
}

// Options configures a Session. Only Source and Fetcher are required.
type Options struct {
	Source   string
	Dialect  dataset.Dialect
	Fetcher  Fetcher
	History  History
	Bus      *events.Bus
	Recorder Recorder
	Logger   *zap.Logger
	Now      func() time.Time
}

// Session serialises reloads and hands out the latest snapshot.
type Session struct {
	opts    Options
	logger  *zap.Logger
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Session{opts: opts, logger: opts.Logger.Named("session")}
}

// Source returns the configured data source.
func (s *Session) Source() string { return s.opts.Source }

// Current returns the latest snapshot.
func (s *Session) Current() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}

// Reload fetches and parses the source and swaps in the result. On failure
// the previous snapshot stays current.
func (s *Session) Reload(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source := s.opts.Source
	started := s.opts.Now()
	runID := s.startRun(ctx, source, started)

	raw, err := s.opts.Fetcher.Fetch(ctx, source)
	if err != nil {
		s.fail(ctx, runID, source, err)
		return nil, err
	}

	sum := sha256.Sum256(raw)
	checksum := hex.EncodeToString(sum[:])
	ds, rep := dataset.Scan(string(raw), dataset.Options{Dialect: s.opts.Dialect})

	snap := &Snapshot{
		Dataset:  ds,
		Source:   source,
		Checksum: checksum,
		LoadedAt: s.opts.Now(),
		Report:   rep,
	}
	prev := s.current.Swap(snap)
	s.finishRun(ctx, runID, checksum, rep, nil)
	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordDataset(rep.Records, rep.Skipped)
	}

	changed := prev == nil || prev.Checksum != checksum
	s.logger.Info("dataset loaded",
		zap.String("source", source),
		zap.Int("records", rep.Records),
		zap.Int("skipped", rep.Skipped),
		zap.Bool("changed", changed),
		zap.Duration("took", snap.LoadedAt.Sub(started)),
	)
	if changed && s.opts.Bus != nil {
		s.opts.Bus.Publish(events.Event{Type: events.TypeReloaded, Data: snap})
	}
	return snap, nil
}

func (s *Session) fail(ctx context.Context, runID int64, source string, err error) {
	s.logger.Warn("dataset reload failed", zap.String("source", source), zap.Error(err))
	msg := err.Error()
	s.finishRun(ctx, runID, "", dataset.Report{}, &msg)
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(events.Event{Type: events.TypeReloadFailed, Data: map[string]string{"source": source, "error": msg}})
	}
}

func (s *Session) startRun(ctx context.Context, source string, ts time.Time) int64 {
	if s.opts.History == nil {
		return 0
	}
	id, err := s.opts.History.StartLoad(ctx, source, ts)
	if err != nil {
		s.logger.Warn("record load start", zap.Error(err))
		return 0
	}
	return id
}

func (s *Session) finishRun(ctx context.Context, id int64, checksum string, rep dataset.Report, errMsg *string) {
	if s.opts.History == nil || id == 0 {
		return
	}
	// history must land even when the reload context was cancelled
	ctx = context.WithoutCancel(ctx)
	if err := s.opts.History.FinishLoad(ctx, id, checksum, rep.Records, rep.Skipped, errMsg, s.opts.Now()); err != nil {
		s.logger.Warn("record load finish", zap.Int64("run", id), zap.Error(err))
	}
}
