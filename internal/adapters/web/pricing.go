package web

import (
	"encoding/json"
	"net/http"
	"time"

	"gasdepot/internal/app"
)

// quoteDate resolves the optional "date" query parameter, defaulting to now.
func quoteDate(r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return time.Now(), true
	}
	return parseQueryTime(raw)
}

func (h *Handler) customerQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, r, "invalid customer id", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	onDate, ok := quoteDate(r)
	if !ok {
		writeError(w, r, "date must be RFC 3339 or YYYY-MM-DD", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	quote, err := h.svc.QuoteForCustomer(r.Context(), id, onDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// priceQuote prices the catalog from explicit parameters, for what-if quotes
// detached from any customer.
func (h *Handler) priceQuote(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base")
	margin := r.URL.Query().Get("margin")
	if base == "" || margin == "" {
		writeError(w, r, "base and margin query parameters are required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	quote, err := h.svc.QuotePrices(r.Context(), base, margin)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *Handler) originalPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, r, "invalid customer id", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	product := r.URL.Query().Get("product")
	cylinderType := r.URL.Query().Get("cylinder_type")
	result, err := h.svc.ResolveOriginalPrice(r.Context(), id, product, cylinderType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getDailyPrice(w http.ResponseWriter, r *http.Request) {
	onDate, ok := quoteDate(r)
	if !ok {
		writeError(w, r, "date must be RFC 3339 or YYYY-MM-DD", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	price, err := h.svc.GetBasePrice(r.Context(), onDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (h *Handler) setDailyPrice(w http.ResponseWriter, r *http.Request) {
	var req app.SetDailyPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	price, err := h.svc.SetDailyPrice(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}
