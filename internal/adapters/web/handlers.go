package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"gasdepot/internal/app"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc app.ApplicationService
	log *logrus.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, log *logrus.Logger, allowedOrigins []string) http.Handler {
	h := &Handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Actor"},
			AllowCredentials: true,
		}))
	}
	r.Use(RequestBodyLimit(1 << 20)) // 1 MB

	r.Get("/api/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.listCustomers)
			r.Post("/", h.createCustomer)
			r.Get("/{id}", h.getCustomer)
			r.Delete("/{id}", h.deactivateCustomer)
			r.Put("/{id}/margin-category", h.assignMarginCategory)
			r.Get("/{id}/quote", h.customerQuote)
			r.Get("/{id}/original-price", h.originalPrice)
			r.Get("/{id}/transactions", h.listCustomerTransactions)
			r.Get("/{id}/reconciliation", h.reconcileCustomer)
			r.Post("/{id}/reconciliation/repair", h.repairCustomer)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.createTransaction)
			r.Get("/{id}", h.getTransaction)
			r.Post("/{id}/void", h.voidTransaction)
		})

		r.Get("/pricing/quote", h.priceQuote)
		r.Get("/margin-categories", h.listMarginCategories)
		r.Get("/daily-price", h.getDailyPrice)
		r.Put("/daily-price", h.setDailyPrice)

		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.listStock)
			r.Post("/", h.createStockItem)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// urlID parses the {id} path parameter. A non-numeric ID is reported as a
// 400 by the caller.
func urlID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// actorFrom identifies the operator behind a mutating request. Falls back to
// "system" when the header is absent.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "system"
}
