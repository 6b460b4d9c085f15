package audit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/datawave/pkg/httputil"
)

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	store Store
	log   *logrus.Logger
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store, log *logrus.Logger) *Handlers {
	if log == nil {
		log = logrus.New()
	}
	return &Handlers{
		store: store,
		log:   log,
	}
}

// RegisterRoutes registers audit log routes. The static paths are registered
// before /{id} so they are not captured by it.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/rbac/audit-logs/filter", h.listEvents).Methods("GET")
	router.HandleFunc("/rbac/audit-logs/export", h.exportEvents).Methods("GET")
	router.HandleFunc("/rbac/audit-logs/stats", h.getStats).Methods("GET")
	router.HandleFunc("/rbac/audit-logs/{id}", h.getEvent).Methods("GET")
}

// listEvents handles GET /rbac/audit-logs/filter
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		h.internal(w, err, "failed to search audit logs")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEvent handles GET /rbac/audit-logs/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	event, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.internal(w, err, "failed to get audit event")
		return
	}
	if event == nil {
		httputil.WriteErrorCode(w, http.StatusNotFound, "event not found", "not_found")
		return
	}

	httputil.WriteSuccess(w, event)
}

// exportEvents handles GET /rbac/audit-logs/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}
	switch format {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
	default:
		httputil.WriteErrorCode(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format), "invalid_input")
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		h.internal(w, err, "failed to export audit logs")
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	}

	w.Write(data)
}

// getStats handles GET /rbac/audit-logs/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	startTime, err := parseTime(r, "start_time")
	if err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}
	endTime, err := parseTime(r, "end_time")
	if err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}

	stats, err := h.store.GetStats(r.Context(), startTime, endTime)
	if err != nil {
		h.internal(w, err, "failed to get audit stats")
		return
	}

	httputil.WriteSuccess(w, stats)
}

func (h *Handlers) internal(w http.ResponseWriter, err error, msg string) {
	h.log.WithError(err).Error(msg)
	httputil.WriteErrorCode(w, http.StatusInternalServerError, "internal error", "internal_error")
}

func parseTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC3339", key)
	}
	return &t, nil
}

// parseFilter parses the search filter from query parameters
func parseFilter(r *http.Request) (SearchFilter, error) {
	query := r.URL.Query()
	filter := SearchFilter{
		ActorID:       query.Get("actor_id"),
		TargetType:    TargetType(query.Get("target_type")),
		TargetID:      query.Get("target_id"),
		Resource:      query.Get("resource"),
		CorrelationID: query.Get("correlation_id"),
		SortBy:        query.Get("sort_by"),
		SortOrder:     query.Get("sort_order"),
		Limit:         100,
	}

	var err error
	if filter.StartTime, err = parseTime(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTime(r, "end_time"); err != nil {
		return filter, err
	}

	for _, raw := range query["event_type"] {
		for _, et := range strings.Split(raw, ",") {
			if et = strings.TrimSpace(et); et != "" {
				filter.EventTypes = append(filter.EventTypes, EventType(et))
			}
		}
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status := EventStatus(statusStr)
		switch status {
		case EventStatusSuccess, EventStatusFailure, EventStatusDenied:
		default:
			return filter, fmt.Errorf("unknown status %q", statusStr)
		}
		filter.Status = &status
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer")
		}
		if limit > 1000 {
			limit = 1000
		}
		filter.Limit = limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}

	if filter.SortOrder == "" {
		filter.SortOrder = "desc"
	}

	return filter, nil
}
