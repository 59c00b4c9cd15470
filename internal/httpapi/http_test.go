package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"lead_viewer/config"
	"lead_viewer/dataset"
	"lead_viewer/internal/events"
	"lead_viewer/internal/loader"
	"lead_viewer/internal/session"
	"lead_viewer/internal/store"
	"lead_viewer/metrics"
	"lead_viewer/query"
	"lead_viewer/queue"
)

const leadsCSV = `Name,Source,Status,Tags,Created,Lead Converted date
Alice,Web,New,"A, B","Mon Dec 29, 2025 03:49 pm",
Bob,Referral,Submitted,C,"Tue Dec 30, 2025 11:15 am",
Carol,Web,Contacted,,"Tue Dec 30, 2025 04:00 pm","Wed Dec 31, 2025 09:00 am"
Dave,Event,New,B,not a date,
Erin,Referral,Lost,A,"Thu Jan 1, 2026 12:00 am",
`

type harness struct {
	mux      *http.ServeMux
	router   *Router
	store    *store.Store
	bus      *events.Bus
	queue    *queue.Queue
	reloads  []string
	dataPath string
}

func setupTest(t *testing.T, load bool) *harness {
	t.Helper()
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "leads.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte(leadsCSV), 0o644))

	cfg := config.Config{
		DataSource:     dataPath,
		PageSize:       2,
		Location:       time.UTC,
		Dialect:        dataset.DialectRFC4180,
		ExportFilename: "filtered_data.csv",
	}
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := zaptest.NewLogger(t)
	bus := events.NewBus()
	m := metrics.New()
	sess := session.New(session.Options{
		Source:   dataPath,
		Dialect:  cfg.Dialect,
		Fetcher:  loader.New(nil, time.Second),
		History:  st,
		Bus:      bus,
		Recorder: m,
		Logger:   logger,
	})
	if load {
		_, err := sess.Reload(context.Background())
		require.NoError(t, err)
	}

	q := queue.New(4, 0, time.Second, logger)
	q.Start(context.Background())
	t.Cleanup(func() { q.Stop(context.Background()) })

	h := &harness{store: st, bus: bus, queue: q, dataPath: dataPath}
	h.router = NewRouter(Deps{
		Config:  cfg,
		Session: sess,
		Store:   st,
		Queue:   q,
		Metrics: m,
		Bus:     bus,
		Reload: func(source string) bool {
			h.reloads = append(h.reloads, source)
			return true
		},
		Logger: logger,
	})
	h.mux = http.NewServeMux()
	h.router.Register(h.mux)
	return h
}

func (h *harness) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Buffer
	if body != "" {
		rdr = bytes.NewBufferString(body)
	} else {
		rdr = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, rdr)
	rr := httptest.NewRecorder()
	h.mux.ServeHTTP(rr, req)
	return rr
}

func TestDatasetEndpoint(t *testing.T) {
	h := setupTest(t, true)

	rr := h.do(t, http.MethodGet, "/api/dataset", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Columns []string       `json:"columns"`
		Records int            `json:"records"`
		Report  dataset.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 5, body.Records)
	assert.Equal(t, []string{"Name", "Source", "Status", "Tags", "Created", "Lead Converted date"}, body.Columns)
	assert.Zero(t, body.Report.Skipped)
}

func TestNotLoadedIsUnavailable(t *testing.T) {
	h := setupTest(t, false)

	rr := h.do(t, http.MethodGet, "/api/query", "")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestFacetsEndpoint(t *testing.T) {
	h := setupTest(t, true)

	rr := h.do(t, http.MethodGet, "/api/facets", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var f query.Facets
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &f))
	assert.Equal(t, []string{"Event", "Referral", "Web"}, f.Sources)
	assert.Equal(t, []string{"A", "B", "C"}, f.Tags)
}

func TestQueryEndpoint(t *testing.T) {
	h := setupTest(t, true)

	rr := h.do(t, http.MethodGet, "/api/query?source=Web&source=Referral", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body queryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, query.Stats{Total: 5, Filtered: 4, Converted: 2, ConversionRate: 50}, body.Stats)
	assert.Equal(t, "50.0%", body.Rate)
	assert.Equal(t, 2, body.TotalPages)
	assert.Equal(t, 1, body.Page)
	require.Len(t, body.Rows, 2)
	assert.Equal(t, "Alice", body.Rows[0]["Name"])
	assert.Equal(t, []query.DayCount{
		{Day: "2025-12-29", Label: "Dec 29", Count: 1},
		{Day: "2025-12-30", Label: "Dec 30", Count: 2},
		{Day: "2026-01-01", Label: "Jan 1", Count: 1},
	}, body.Series)
}

func TestQueryPageClamped(t *testing.T) {
	h := setupTest(t, true)

	rr := h.do(t, http.MethodGet, "/api/query?page=99", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body queryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Page)
	assert.Equal(t, 3, body.TotalPages)
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "Erin", body.Rows[0]["Name"])
}

func TestQueryRejectsBadDay(t *testing.T) {
	h := setupTest(t, true)

	rr := h.do(t, http.MethodGet, "/api/query?start=12/30/2025", "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExportEndpoint(t *testing.T) {
	h := setupTest(t, true)

	rr := h.do(t, http.MethodGet, "/api/export?source=Web", "")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="filtered_data.csv"`)
	assert.Equal(t, strings.Join([]string{
		"Name,Source,Status,Tags,Created,Lead Converted date",
		`Alice,Web,New,"A, B","Mon Dec 29, 2025 03:49 pm",`,
		`Carol,Web,Contacted,,"Tue Dec 30, 2025 04:00 pm","Wed Dec 31, 2025 09:00 am"`,
	}, "\n"), rr.Body.String())
}

func TestExportEmptyView(t *testing.T) {
	h := setupTest(t, true)

	rr := h.do(t, http.MethodGet, "/api/export?source=Print", "")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "no data to export")
}

func TestViewsLifecycle(t *testing.T) {
	h := setupTest(t, true)
	saved, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	rr := h.do(t, http.MethodPost, "/api/views", `{"name":"referrals","params":{"sources":["Referral"]}}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var view store.View
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, events.TypeViewSaved, (<-saved).Type)

	rr = h.do(t, http.MethodPost, "/api/views", `{"name":"referrals","params":{}}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = h.do(t, http.MethodGet, "/api/views/"+view.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(t, http.MethodGet, "/api/query?view="+view.ID+"&status=Lost", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body queryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "Erin", body.Rows[0]["Name"])

	rr = h.do(t, http.MethodGet, "/api/views", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []store.View
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rr = h.do(t, http.MethodDelete, "/api/views/"+view.ID, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = h.do(t, http.MethodGet, "/api/views/"+view.ID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = h.do(t, http.MethodGet, "/api/query?view="+view.ID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateViewValidation(t *testing.T) {
	h := setupTest(t, true)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/views", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/views", `{"name":" "}`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/views", `{"name":"x","params":{"end":"soon"}}`).Code)
}

func TestOpsEndpoints(t *testing.T) {
	h := setupTest(t, true)

	rr := h.do(t, http.MethodPost, "/ops/reload", "")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []string{"api"}, h.reloads)

	rr = h.do(t, http.MethodGet, "/ops/health", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = h.do(t, http.MethodGet, "/ops/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status struct {
		Metrics metrics.Snapshot `json:"metrics"`
		Loads   []store.LoadRun  `json:"loads"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.EqualValues(t, 5, status.Metrics.DatasetRecords)
	require.Len(t, status.Loads, 1)
	assert.Equal(t, store.LoadOK, status.Loads[0].Status)

	rr = h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "lead_viewer_dataset_records")
}

func TestHealthReportsStoppedQueue(t *testing.T) {
	h := setupTest(t, true)
	h.queue.Stop(context.Background())

	rr := h.do(t, http.MethodGet, "/ops/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "queue")
}

func TestRouterWithoutStore(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "leads.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte(leadsCSV), 0o644))
	sess := session.New(session.Options{Source: dataPath, Dialect: dataset.DialectRFC4180, Fetcher: loader.New(nil, time.Second)})
	_, err := sess.Reload(context.Background())
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewRouter(Deps{Config: config.Config{PageSize: 10, Location: time.UTC}, Session: sess}).Register(mux)

	do := func(method, target string) int {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
		return rr.Code
	}
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/query"))
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/query?view=abc"))
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/export?view=abc"))
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/views"))
	assert.Equal(t, http.StatusNoContent, do(http.MethodGet, "/ops/health"))
}

func TestRespondLogsEncodeFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRouter(Deps{Logger: zap.New(core)})

	rr := httptest.NewRecorder()
	r.respondJSON(rr, make(chan int))

	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Equal(t, 1, logs.FilterMessage("write json").Len())
}

func TestEventsWebsocket(t *testing.T) {
	h := setupTest(t, true)
	srv := httptest.NewServer(h.mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	h.bus.Publish(events.Event{Type: events.TypeReloaded, Data: map[string]int{"records": 5}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeReloaded, ev.Type)
}
