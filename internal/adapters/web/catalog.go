package web

import (
	"encoding/json"
	"net/http"

	"gasdepot/internal/app"
)

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListStockItems(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) createStockItem(w http.ResponseWriter, r *http.Request) {
	var req app.CreateStockItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	item, err := h.svc.CreateStockItem(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) listMarginCategories(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListMarginCategories(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
