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
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/spendwise/backend/docs"
	"github.com/spendwise/backend/internal/database"
	"github.com/spendwise/backend/internal/events"
	"github.com/spendwise/backend/internal/events/kafka"
	"github.com/spendwise/backend/internal/handlers"
	mW "github.com/spendwise/backend/internal/middleware"
	"github.com/spendwise/backend/internal/services"
)

// @title Spendwise Backend API
// @version 1.0
// @description API for personal earnings and spendings tracking
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.auto_migrate", "DATABASE_AUTO_MIGRATE")

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

	viper.BindEnv("events.brokers", "EVENTS_BROKERS")
	viper.BindEnv("events.topic", "EVENTS_TOPIC")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)
	viper.SetDefault("events.topic", "spendwise.earnings")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Spendwise Backend API"
	docs.SwaggerInfo.Description = "API for personal earnings and spendings tracking"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	var publisher events.Publisher
	if brokers := viper.GetStringSlice("events.brokers"); len(brokers) > 0 {
		kafkaPublisher := kafka.NewPublisher(brokers, viper.GetString("events.topic"))
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		log.Printf("[EVENTS] Publishing earning events to %v", brokers)
	}

	earningService := services.NewEarningService(db, publisher)
	categoryService := services.NewCategoryService(db)
	spendingService := services.NewSpendingService(db)
	authService := services.NewAuthService(db, redisClient)
	shareService := services.NewShareService(db, redisClient)
	shareHandler := handlers.NewShareHandler(shareService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

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
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			r.Get("/balances", earningService.GetBalances)

			r.Get("/earning-money", earningService.ListEarnings)
			r.Post("/earning-money", earningService.CreateEarning)
			r.Patch("/earning-money/{earningId}", earningService.UpdateEarning)
			r.Delete("/earning-money/{earningId}", earningService.DeleteEarning)
			r.Post("/earning-money/{earningId}/share", shareHandler.CreateShareCode)
			r.Post("/earning-money/shared", shareHandler.ResolveShareCode)

			r.Get("/categories", categoryService.ListCategories)
			r.Post("/categories", categoryService.CreateCategory)
			r.Get("/categories/{categoryId}", categoryService.GetCategory)
			r.Put("/categories/{categoryId}", categoryService.UpdateCategory)
			r.Delete("/categories/{categoryId}", categoryService.DeleteCategory)
			r.Put("/categories/{categoryId}/paying-limit", categoryService.UpsertPayingLimit)

			r.Get("/spendings", spendingService.ListSpendings)
			r.Post("/spendings", spendingService.CreateSpending)
			r.Patch("/spendings/{spendingId}", spendingService.UpdateSpending)
			r.Delete("/spendings/{spendingId}", spendingService.DeleteSpending)
			r.Get("/spendings/overview", spendingService.MonthlyOverview)
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
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
