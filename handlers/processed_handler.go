package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"road-telemetry-hub/hub"
	"road-telemetry-hub/metrics"
	"road-telemetry-hub/models"
	"road-telemetry-hub/store"
)

type RecordStore interface {
	Get(ctx context.Context, id int64) (models.StoredRecord, error)
	List(ctx context.Context) ([]models.StoredRecord, error)
	Update(ctx context.Context, id int64, item models.ProcessedAgentData) (models.StoredRecord, error)
	Delete(ctx context.Context, id int64) (models.StoredRecord, error)
}

type LatestReader interface {
	GetLatest(ctx context.Context, userID int) ([]models.StoredRecord, error)
}

// ProcessedHandler serves the processed_agent_data resource. Creates go
// through the hub so that new rows reach live subscribers.
type ProcessedHandler struct {
	store  RecordStore
	hub    *hub.Hub
	latest LatestReader
}

// NewProcessedHandler returns a handler over st and h. latest may be nil, in
// which case the latest endpoint always answers 404.
func NewProcessedHandler(st RecordStore, h *hub.Hub, latest LatestReader) *ProcessedHandler {
	return &ProcessedHandler{store: st, hub: h, latest: latest}
}

func (h *ProcessedHandler) Create(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var items []models.ProcessedAgentData
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, r, start, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	for i := range items {
		if err := items[i].Validate(); err != nil {
			writeError(w, r, start, http.StatusBadRequest, "item "+strconv.Itoa(i)+": "+err.Error())
			return
		}
	}

	stored, err := h.hub.Publish(r.Context(), items)
	if err != nil {
		writeStoreError(w, r, start, err)
		return
	}
	writeJSON(w, r, start, http.StatusOK, stored)
}

func (h *ProcessedHandler) List(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	records, err := h.store.List(r.Context())
	if err != nil {
		writeStoreError(w, r, start, err)
		return
	}
	writeJSON(w, r, start, http.StatusOK, records)
}

func (h *ProcessedHandler) Get(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id, ok := pathID(w, r, start)
	if !ok {
		return
	}
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, start, err)
		return
	}
	writeJSON(w, r, start, http.StatusOK, rec)
}

func (h *ProcessedHandler) Update(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id, ok := pathID(w, r, start)
	if !ok {
		return
	}
	var item models.ProcessedAgentData
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, r, start, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := item.Validate(); err != nil {
		writeError(w, r, start, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.store.Update(r.Context(), id, item)
	if err != nil {
		writeStoreError(w, r, start, err)
		return
	}
	writeJSON(w, r, start, http.StatusOK, rec)
}

func (h *ProcessedHandler) Delete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id, ok := pathID(w, r, start)
	if !ok {
		return
	}
	rec, err := h.store.Delete(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, start, err)
		return
	}
	writeJSON(w, r, start, http.StatusOK, rec)
}

// Latest returns the last batch published for a user, as cached in Redis.
func (h *ProcessedHandler) Latest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID, err := strconv.Atoi(mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, r, start, http.StatusBadRequest, "user_id must be an integer")
		return
	}
	if h.latest == nil {
		writeError(w, r, start, http.StatusNotFound, "latest cache disabled")
		return
	}

	records, err := h.latest.GetLatest(r.Context(), userID)
	if err != nil {
		slog.Error("latest lookup failed", "user_id", userID, "err", err)
		writeError(w, r, start, http.StatusInternalServerError, "failed to read latest batch")
		return
	}
	if records == nil {
		writeError(w, r, start, http.StatusNotFound, "no batch for user")
		return
	}
	writeJSON(w, r, start, http.StatusOK, records)
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func pathID(w http.ResponseWriter, r *http.Request, start time.Time) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, r, start, http.StatusBadRequest, "id must be an integer")
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, start time.Time, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, r, start, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, start, http.StatusNotFound, "record not found")
	default:
		slog.Error("store request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, r, start, http.StatusInternalServerError, "persistence failure")
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, start time.Time, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response write failed", "path", r.URL.Path, "err", err)
	}
	metrics.ObserveRequest(r.Method, endpoint(r), strconv.Itoa(status), start)
}

func writeError(w http.ResponseWriter, r *http.Request, start time.Time, status int, msg string) {
	writeJSON(w, r, start, status, map[string]string{"error": msg})
}

// endpoint labels a request by its route template to keep metric
// cardinality bounded.
func endpoint(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
