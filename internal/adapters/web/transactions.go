package web

import (
	"encoding/json"
	"net/http"
	"time"

	"gasdepot/internal/app"
)

// parseQueryTime parses an optional timestamp query parameter, accepting
// RFC 3339 or a bare calendar date.
func parseQueryTime(raw string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req app.CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	// An idempotency key supplied as a header wins over the body field.
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	txn, err := h.svc.CreateTransaction(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, r, "invalid transaction id", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	txn, err := h.svc.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *Handler) voidTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, r, "invalid transaction id", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	txn, err := h.svc.VoidTransaction(r.Context(), id, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *Handler) listCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, r, "invalid customer id", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	var asOf *time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, ok := parseQueryTime(raw)
		if !ok {
			writeError(w, r, "as_of must be RFC 3339 or YYYY-MM-DD", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}
		asOf = &t
	}
	result, err := h.svc.ListCustomerTransactions(r.Context(), id, asOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
