package web

import (
	"net/http"
	"time"
)

func (h *Handler) reconcileCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, r, "invalid customer id", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, ok := parseQueryTime(raw)
		if !ok {
			writeError(w, r, "as_of must be RFC 3339 or YYYY-MM-DD", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}
		asOf = t
	}
	report, err := h.svc.ReconcileCustomer(r.Context(), id, asOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) repairCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, r, "invalid customer id", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	result, err := h.svc.RepairCustomer(r.Context(), id, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
