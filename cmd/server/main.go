package main

import (
	"context"
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

	"github.com/boltledger/backend/internal/config"
	"github.com/boltledger/backend/internal/database"
	"github.com/boltledger/backend/internal/handlers"
	mW "github.com/boltledger/backend/internal/middleware"
	"github.com/boltledger/backend/internal/services"
	"github.com/boltledger/backend/internal/settlement"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

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
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	ledgerCfg := config.LoadLedgerConfig()
	settlementCfg := config.LoadSettlementConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	settlementClient := settlement.NewHTTPClient(
		settlementCfg.BaseURL,
		settlementCfg.InvoiceKey,
		settlementCfg.AdminKey,
		settlementCfg.Timeout,
	)

	ledgerService := services.NewLedgerService(db)
	alertService := services.NewAlertService(redisClient)
	invoiceService := services.NewInvoiceService(db, redisClient, settlementClient)
	withdrawalService := services.NewWithdrawalService(ledgerService, settlementClient, alertService, ledgerCfg.WithdrawalFeeSats)
	reconciler := services.NewReconcilerService(settlementClient, ledgerService, invoiceService, alertService, ledgerCfg.PollInterval)

	authService := services.NewAuthService(db)
	if err := authService.EnsureOperator(os.Getenv("ADMIN_USERNAME"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		log.Fatalf("Failed to ensure operator account: %v", err)
	}

	ledgerHandler := handlers.NewLedgerHandler(ledgerService, withdrawalService, invoiceService, settlementClient, ledgerCfg.EntryPageSize)

	// Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authService.Login)
		r.Get("/balance/{accountID}", ledgerHandler.Balance)
		r.Get("/entries/{accountID}", ledgerHandler.Entries)
		r.Post("/transfer", ledgerHandler.Transfer)
		r.Post("/deposit", ledgerHandler.Deposit)
		r.Post("/withdraw", ledgerHandler.Withdraw)

		r.Route("/admin", func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Post("/credit", ledgerHandler.AdminCredit)
			r.Get("/wallet", ledgerHandler.WalletBalance)
		})
	})

	// Deposit reconciler runs for the life of the process
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reconciler.Run(ctx)

	server := &http.Server{
		Addr:         ledgerCfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", ledgerCfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
