package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"lead_viewer/config"
	"lead_viewer/dataset"
	"lead_viewer/internal/events"
	"lead_viewer/internal/session"
	"lead_viewer/internal/store"
	"lead_viewer/metrics"
	"lead_viewer/query"
	"lead_viewer/queue"
)

// Deps are the components the router serves from.
type Deps struct {
	Config  config.Config
	Session *session.Session
	Store   *store.Store
	Queue   *queue.Queue
	Metrics *metrics.Metrics
	Bus     *events.Bus
	Engine  *query.Engine
	// Reload schedules a background reload and reports whether it was queued.
	Reload func(source string) bool
	Logger *zap.Logger
}

// Router builds HTTP handlers for /api and /ops.
type Router struct {
	Deps
	logger *zap.Logger
}

func NewRouter(d Deps) *Router {
	if d.Engine == nil {
		d.Engine = query.NewEngine(d.Config.Location)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{Deps: d, logger: logger.Named("http")}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dataset", r.instrument("dataset", r.datasetInfo))
	mux.HandleFunc("GET /api/facets", r.instrument("facets", r.facets))
	mux.HandleFunc("GET /api/query", r.instrument("query", r.query))
	mux.HandleFunc("GET /api/export", r.instrument("export", r.export))
	if r.Store != nil {
		mux.HandleFunc("GET /api/views", r.instrument("views", r.listViews))
		mux.HandleFunc("POST /api/views", r.instrument("views", r.createView))
		mux.HandleFunc("GET /api/views/{id}", r.instrument("view", r.getView))
		mux.HandleFunc("DELETE /api/views/{id}", r.instrument("view", r.deleteView))
	}
	mux.HandleFunc("GET /api/events", r.stream)
	mux.HandleFunc("POST /ops/reload", r.instrument("reload", r.reload))
	mux.HandleFunc("GET /ops/status", r.status)
	mux.HandleFunc("GET /ops/health", r.health)
	mux.Handle("GET /metrics", r.Metrics.Handler())
}

func (r *Router) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.Metrics.RecordRequest(route)
		h(w, req)
	}
}

func (r *Router) snapshot(w http.ResponseWriter) (*session.Snapshot, bool) {
	snap, err := r.Session.Current()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return nil, false
	}
	return snap, true
}

func (r *Router) datasetInfo(w http.ResponseWriter, req *http.Request) {
	snap, ok := r.snapshot(w)
	if !ok {
		return
	}
	r.respondJSON(w, map[string]any{
		"source":    snap.Source,
		"checksum":  snap.Checksum,
		"loaded_at": snap.LoadedAt,
		"columns":   snap.Dataset.Columns,
		"records":   snap.Dataset.Len(),
		"report":    snap.Report,
	})
}

func (r *Router) facets(w http.ResponseWriter, req *http.Request) {
	snap, ok := r.snapshot(w)
	if !ok {
		return
	}
	r.respondJSON(w, query.CollectFacets(snap.Dataset))
}

// filtered resolves the request's filter parameters against the current
// snapshot. It writes the error response itself.
func (r *Router) filtered(w http.ResponseWriter, req *http.Request) (*session.Snapshot, dataset.Dataset, bool) {
	snap, ok := r.snapshot(w)
	if !ok {
		return nil, dataset.Dataset{}, false
	}
	params := query.ParamsFromValues(req.URL.Query())
	if id := req.URL.Query().Get("view"); id != "" {
		if r.Store == nil {
			http.Error(w, "saved views unavailable", http.StatusNotFound)
			return nil, dataset.Dataset{}, false
		}
		view, err := r.Store.GetView(req.Context(), id)
		if err != nil {
			r.storeError(w, err)
			return nil, dataset.Dataset{}, false
		}
		params = view.Params.Merge(params)
	}
	spec, err := params.Spec(r.Engine.Location)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, dataset.Dataset{}, false
	}
	return snap, r.Engine.Filter(snap.Dataset, spec), true
}

type queryResponse struct {
	Stats      query.Stats      `json:"stats"`
	Rate       string           `json:"rate"`
	Series     []query.DayCount `json:"series"`
	Columns    []string         `json:"columns"`
	Rows       []dataset.Record `json:"rows"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

func (r *Router) query(w http.ResponseWriter, req *http.Request) {
	snap, view, ok := r.filtered(w, req)
	if !ok {
		return
	}
	stats := query.ComputeStats(snap.Dataset, view)
	size := r.Config.PageSize
	if size <= 0 {
		size = 50
	}
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	rows, page, total := paginate(view.Records, page, size)
	r.respondJSON(w, queryResponse{
		Stats:      stats,
		Rate:       stats.RateText(),
		Series:     r.Engine.AggregateByDay(view),
		Columns:    view.Columns,
		Rows:       rows,
		Page:       page,
		PageSize:   size,
		TotalPages: total,
	})
}

// paginate clamps page into [1, total] and returns that page of records.
// An empty view has one empty page.
func paginate(records []dataset.Record, page, size int) ([]dataset.Record, int, int) {
	total := (len(records) + size - 1) / size
	if total < 1 {
		total = 1
	}
	if page < 1 {
		page = 1
	}
	if page > total {
		page = total
	}
	start := (page - 1) * size
	end := min(start+size, len(records))
	if start >= end {
		return []dataset.Record{}, page, total
	}
	return records[start:end], page, total
}

func (r *Router) export(w http.ResponseWriter, req *http.Request) {
	_, view, ok := r.filtered(w, req)
	if !ok {
		return
	}
	body, err := dataset.Serialize(view)
	if errors.Is(err, dataset.ErrEmptyDataset) {
		http.Error(w, "no data to export", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.Metrics.RecordExport(view.Len())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+r.Config.ExportFilename+`"`)
	if _, err := w.Write([]byte(body)); err != nil {
		r.logger.Warn("write export", zap.Error(err))
	}
}

func (r *Router) reload(w http.ResponseWriter, req *http.Request) {
	if r.Reload == nil || !r.Reload("api") {
		r.respondStatus(w, http.StatusServiceUnavailable, map[string]any{"status": "queue full"})
		return
	}
	r.respondStatus(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	out := map[string]any{"metrics": r.Metrics.Snapshot()}
	if r.Queue != nil {
		out["queue"] = r.Queue.Stats()
	}
	if r.Store != nil {
		loads, err := r.Store.ListLoads(ctx, 10)
		if err != nil {
			r.logger.Warn("list loads", zap.Error(err))
		}
		out["loads"] = loads
	}
	if snap, err := r.Session.Current(); err == nil {
		out["dataset"] = snap
	}
	r.respondJSON(w, out)
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if r.Queue != nil && !r.Queue.Healthy() {
		http.Error(w, "reload queue not running", http.StatusServiceUnavailable)
		return
	}
	if r.Store != nil {
		if err := r.Store.Health(req.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		r.logger.Error("store", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (r *Router) respondJSON(w http.ResponseWriter, payload any) {
	r.respondStatus(w, http.StatusOK, payload)
}

func (r *Router) respondStatus(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Warn("write json", zap.Error(err))
	}
}
