package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lead_viewer/dataset"
	"lead_viewer/internal/events"
	"lead_viewer/internal/store"
)

type fakeFetcher struct {
	mu   sync.Mutex
	data string
	err  error
}

func (f *fakeFetcher) set(data string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data, f.err = data, err
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.data), nil
}

type sizes struct{ records, skipped int }

func (s *sizes) RecordDataset(records, skipped int) { s.records, s.skipped = records, skipped }

func TestReloadSwapsSnapshot(t *testing.T) {
	fetch := &fakeFetcher{data: "Name,Source\nA,Web\nB,Referral,extra\n"}
	bus := events.NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()
	rec := &sizes{}
	s := New(Options{Source: "leads.csv", Dialect: dataset.DialectRFC4180, Fetcher: fetch, Bus: bus, Recorder: rec, Logger: zaptest.NewLogger(t)})

	_, err := s.Current()
	require.ErrorIs(t, err, ErrNotLoaded)

	snap, err := s.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Dataset.Len())
	assert.Equal(t, dataset.Report{Lines: 3, Records: 1, Skipped: 1}, snap.Report)
	assert.Len(t, snap.Checksum, 64)
	assert.Equal(t, sizes{records: 1, skipped: 1}, *rec)

	ev := <-ch
	assert.Equal(t, events.TypeReloaded, ev.Type)

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Same(t, snap, cur)
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	fetch := &fakeFetcher{data: "Name\nA\n"}
	bus := events.NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()
	s := New(Options{Source: "leads.csv", Fetcher: fetch, Bus: bus})

	_, err := s.Reload(context.Background())
	require.NoError(t, err)
	_, err = s.Reload(context.Background())
	require.NoError(t, err)

	assert.Len(t, ch, 1)
}

func TestFailedReloadKeepsPrevious(t *testing.T) {
	fetch := &fakeFetcher{data: "Name\nA\n"}
	bus := events.NewBus()
	s := New(Options{Source: "leads.csv", Fetcher: fetch, Bus: bus})
	first, err := s.Reload(context.Background())
	require.NoError(t, err)

	ch, unsub := bus.Subscribe()
	defer unsub()
	fetch.set("", errors.New("connection refused"))
	_, err = s.Reload(context.Background())
	require.Error(t, err)

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Same(t, first, cur)
	ev := <-ch
	assert.Equal(t, events.TypeReloadFailed, ev.Type)
}

func TestReloadRecordsHistory(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer st.Close()

	fetch := &fakeFetcher{data: "Name\nA\nB\n"}
	clock := time.Date(2025, 12, 30, 9, 0, 0, 0, time.UTC)
	s := New(Options{Source: "leads.csv", Fetcher: fetch, History: st, Now: func() time.Time { return clock }})

	_, err = s.Reload(context.Background())
	require.NoError(t, err)
	fetch.set("", errors.New("boom"))
	_, _ = s.Reload(context.Background())

	runs, err := st.ListLoads(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, store.LoadFailed, runs[0].Status)
	assert.Equal(t, store.LoadOK, runs[1].Status)
	assert.Equal(t, 2, runs[1].Records)
}
