package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	webAdapter "gasdepot/internal/adapters/web"
	"gasdepot/internal/app"
	"gasdepot/internal/config"
	"gasdepot/internal/core"
	"gasdepot/internal/db"
)

func main() {
	_ = godotenv.Load()

	log := config.NewLogger()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer pool.Close()

	pricing := core.NewPricingService(pool)
	history := core.NewHistoryService(pool)
	ledger := core.NewLedgerService(pool, pricing, history)
	customers := core.NewCustomerService(pool)
	stock := core.NewStockService(pool)
	reconcile := core.NewReconciliationService(pool)

	svc := app.NewAppService(customers, pricing, history, ledger, stock, reconcile)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	var allowedOrigins []string
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	handler := webAdapter.NewHandler(svc, log, allowedOrigins)

	log.WithField("port", port).Info("server starting")
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
