package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	"github.com/zibana/backend/internal/config"
	"github.com/zibana/backend/internal/database"
	"github.com/zibana/backend/internal/handlers"
	mW "github.com/zibana/backend/internal/middleware"
	"github.com/zibana/backend/internal/payout"
	"github.com/zibana/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	payoutCfg := config.LoadPayoutConfig()
	payoutSelector := payout.NewSelector(payoutCfg)

	escrowService := services.NewEscrowService(db)
	settlementService := services.NewSettlementService(db, redisClient, escrowService, payoutSelector)
	auditService := services.NewAuditService(db)

	ledgerHandler := handlers.NewLedgerHandler(escrowService, settlementService, auditService)
	webhookHandler := handlers.NewWebhookHandler(settlementService, payoutCfg)

	// Background reconciliation of in-flight transfers
	reconcileCtx, stopReconciler := context.WithCancel(context.Background())
	defer stopReconciler()
	if redisClient != nil {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-reconcileCtx.Done():
					return
				case <-ticker.C:
					settlementService.ProcessReconcileQueue(reconcileCtx)
				}
			}
		}()
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Provider callbacks authenticate with signatures, not JWTs
		r.Post("/webhooks/paystack", webhookHandler.Paystack)
		r.Post("/webhooks/flutterwave", webhookHandler.Flutterwave)
		r.Get("/banks", ledgerHandler.GetBanks)

		// Internal service-to-service endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.ServiceAuth)

			r.Post("/escrows/lock", ledgerHandler.LockFunds)
			r.Post("/escrows/{escrowId}/release", ledgerHandler.ReleaseFunds)
			r.Post("/escrows/{escrowId}/hold", ledgerHandler.HoldForDispute)
			r.Post("/escrows/{escrowId}/refund", ledgerHandler.RefundToRider)
			r.Get("/escrows/ride/{rideId}", ledgerHandler.GetEscrowByRide)

			r.Get("/riders/{riderId}/wallet", ledgerHandler.GetRiderWallet)
			r.Post("/drivers/{driverId}/withdrawable", ledgerHandler.MoveToWithdrawable)
			r.Post("/withdrawals", ledgerHandler.RequestWithdrawal)
			r.Get("/withdrawals/{reference}", ledgerHandler.GetTransfer)

			r.Get("/audit/rides/{rideId}", ledgerHandler.GetRideAudit)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopReconciler()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
