package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"purchases/db"
	"purchases/db/migrations"
	"purchases/internal/handlers"
	"purchases/internal/orders"
)

func main() {
	connString := os.Getenv("POSTGRES_CONN")
	if connString == "" {
		log.Fatal("POSTGRES_CONN env variable is not set")
	}

	dbConn, err := sqlx.Connect("postgres", connString)
	if err != nil {
		log.Fatalf("Cannot connect to DB: %v", err)
	}
	defer dbConn.Close()

	migrations.Run()

	store := db.NewStorage(dbConn)
	engine := orders.NewEngine(store, orders.LogNotifier{})
	h := handlers.NewHandler(engine, store)

	// Просроченные поправки убирает периодический обход, вне транзакций движка
	go expireLoop(engine)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)
		// заказы
		r.Post("/orders/new", h.CreateOrderHandler)
		r.Get("/orders", h.ListOrdersHandler)
		r.Get("/orders/{orderId}", h.GetOrderHandler)
		r.Put("/orders/{orderId}/submit", h.SubmitOrderHandler)
		r.Put("/orders/{orderId}/confirm", h.ConfirmOrderHandler)
		r.Put("/orders/{orderId}/approve", h.ApproveConfirmationHandler)
		r.Put("/orders/{orderId}/reject", h.RejectConfirmationHandler)
		r.Put("/orders/{orderId}/decline", h.DeclineOrderHandler)
		r.Patch("/orders/{orderId}/edit", h.EditOrderHandler)
		r.Put("/orders/{orderId}/fulfillment", h.AdvanceFulfillmentHandler)
		r.Put("/orders/{orderId}/cancel", h.CancelOrderHandler)
		r.Get("/orders/{orderId}/discrepancies", h.GetDiscrepanciesHandler)
		// поправки
		r.Post("/orders/{orderId}/amendments", h.ProposeAmendmentHandler)
		r.Get("/orders/{orderId}/amendments", h.ListAmendmentsHandler)
		r.Put("/amendments/{amendmentId}/resolve", h.ResolveAmendmentHandler)
	})

	serverAddr := os.Getenv("SERVER_ADDRESS")
	if serverAddr == "" {
		serverAddr = "0.0.0.0:8080"
	}

	log.Printf("Starting server on %s", serverAddr)
	log.Fatal(http.ListenAndServe(serverAddr, r))
}

func expireLoop(engine *orders.Engine) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := engine.ExpireStale(ctx)
		cancel()
		if err != nil {
			log.Printf("expire sweep failed: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("expired %d stale amendments", n)
		}
	}
}
