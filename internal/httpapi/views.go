package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"lead_viewer/internal/events"
	"lead_viewer/query"
)

type createViewRequest struct {
	Name   string       `json:"name"`
	Params query.Params `json:"params"`
}

func (r *Router) listViews(w http.ResponseWriter, req *http.Request) {
	views, err := r.Store.ListViews(req.Context())
	if err != nil {
		r.storeError(w, err)
		return
	}
	r.respondJSON(w, views)
}

func (r *Router) createView(w http.ResponseWriter, req *http.Request) {
	var body createViewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 64<<10)).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// reject bounds the query endpoint would refuse later
	if _, err := body.Params.Spec(r.Engine.Location); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	view, err := r.Store.CreateView(req.Context(), body.Name, body.Params, time.Now())
	if err != nil {
		r.storeError(w, err)
		return
	}
	if r.Bus != nil {
		r.Bus.Publish(events.Event{Type: events.TypeViewSaved, Data: view})
	}
	r.respondStatus(w, http.StatusCreated, view)
}

func (r *Router) getView(w http.ResponseWriter, req *http.Request) {
	view, err := r.Store.GetView(req.Context(), req.PathValue("id"))
	if err != nil {
		r.storeError(w, err)
		return
	}
	r.respondJSON(w, view)
}

func (r *Router) deleteView(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := r.Store.DeleteView(req.Context(), id); err != nil {
		r.storeError(w, err)
		return
	}
	if r.Bus != nil {
		r.Bus.Publish(events.Event{Type: events.TypeViewDeleted, Data: map[string]string{"id": id}})
	}
	w.WriteHeader(http.StatusNoContent)
}
