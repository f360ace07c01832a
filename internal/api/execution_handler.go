package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/revittco/toolgate/internal/store"
)

type executionHandler struct {
	store store.ExecutionStore
}

func (h *executionHandler) query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ExecutionFilter{
		Limit:  100,
		Offset: 0,
	}

	if v := q.Get("integration_id"); v != "" {
		filter.IntegrationID = &v
	}
	if v := q.Get("tool"); v != "" {
		filter.ToolName = &v
	}
	if v := q.Get("status"); v != "" {
		filter.Status = &v
	}
	if v := q.Get("after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.After = &t
		}
	}
	if v := q.Get("before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Before = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	records, total, err := h.store.QueryExecutionRecords(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query execution records")
		return
	}
	if records == nil {
		records = []store.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   records,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *executionHandler) stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after, before time.Time
	if v := q.Get("after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			after = t
		}
	}
	if v := q.Get("before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			before = t
		}
	}

	stats, err := h.store.GetExecutionStats(r.Context(), q.Get("integration_id"), after, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute execution stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
