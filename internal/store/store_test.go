package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead_viewer/query"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestViewLifecycle(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	ts := time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC)
	params := query.Params{Sources: []string{"Web"}, Start: "2025-12-01", Search: "bob"}

	v, err := st.CreateView(ctx, " web leads ", params, ts)
	require.NoError(t, err)
	_, err = uuid.Parse(v.ID)
	require.NoError(t, err)
	assert.Equal(t, "web leads", v.Name)

	got, err := st.GetView(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, params, got.Params)
	assert.True(t, got.CreatedAt.Equal(ts))

	_, err = st.CreateView(ctx, "web leads", query.Params{}, ts)
	require.ErrorIs(t, err, ErrConflict)

	_, err = st.CreateView(ctx, "all", query.Params{}, ts)
	require.NoError(t, err)
	views, err := st.ListViews(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "all", views[0].Name)

	require.NoError(t, st.DeleteView(ctx, v.ID))
	_, err = st.GetView(ctx, v.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, st.DeleteView(ctx, v.ID), ErrNotFound)
}

func TestCreateViewRequiresName(t *testing.T) {
	st := openTest(t)

	_, err := st.CreateView(context.Background(), "  ", query.Params{}, time.Now())

	require.Error(t, err)
}

func TestLoadRuns(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	ts := time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC)

	first, err := st.StartLoad(ctx, "leads.csv", ts)
	require.NoError(t, err)
	require.NoError(t, st.FinishLoad(ctx, first, "abc", 10, 1, nil, ts.Add(time.Second)))

	second, err := st.StartLoad(ctx, "leads.csv", ts.Add(time.Minute))
	require.NoError(t, err)
	msg := "data source status 500"
	require.NoError(t, st.FinishLoad(ctx, second, "", 0, 0, &msg, ts.Add(time.Minute+time.Second)))

	runs, err := st.ListLoads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, LoadFailed, runs[0].Status)
	require.NotNil(t, runs[0].LastError)
	assert.Equal(t, msg, *runs[0].LastError)

	assert.Equal(t, LoadOK, runs[1].Status)
	assert.Equal(t, "abc", runs[1].Checksum)
	assert.Equal(t, 10, runs[1].Records)
	assert.Equal(t, 1, runs[1].Skipped)
	require.NotNil(t, runs[1].FinishedAt)
	assert.Nil(t, runs[1].LastError)
}

func TestHealth(t *testing.T) {
	st := openTest(t)
	require.NoError(t, st.Health(context.Background()))
}
