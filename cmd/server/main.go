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
	"github.com/messmate/backend/docs"
	"github.com/messmate/backend/internal/config"
	"github.com/messmate/backend/internal/database"
	"github.com/messmate/backend/internal/handlers"
	mW "github.com/messmate/backend/internal/middleware"
	"github.com/messmate/backend/internal/models"
	"github.com/messmate/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Mess Wallet API
// @version 1.0
// @description API for the hostel mess wallet and meal attendance system
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

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
	viper.BindEnv("admin.default_password", "ADMIN_DEFAULT_PASSWORD")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Mess Wallet API"
	docs.SwaggerInfo.Description = "API for the hostel mess wallet and meal attendance system"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	if err := services.EnsureDefaultAdmin(db); err != nil {
		log.Fatalf("Failed to seed default admin: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	refundCfg := config.LoadRefundConfig()
	qrCfg := config.LoadQRConfig()

	ledgerService := services.NewWalletLedgerService(db)
	authService := services.NewAuthService(db, redisClient)
	qrService := services.NewQRService(db, redisClient, qrCfg)
	scanService := services.NewScanService(db, ledgerService)
	mealService := services.NewMealService(db)
	refundService := services.NewRefundService(db, ledgerService, refundCfg)
	studentService := services.NewStudentService(db, ledgerService, qrService)
	reportService := services.NewReportService(db, redisClient)

	scanHandler := handlers.NewScanHandler(scanService, qrService)
	refundHandler := handlers.NewRefundHandler(refundService)

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

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for student QR images
	r.Handle("/static/qr_codes/*", http.StripPrefix("/static/qr_codes/",
		mW.StaticFileServer(qrCfg.CodeFolder)))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/profile", authService.GetProfile)
			r.Post("/auth/change-password", authService.ChangePassword)

			r.Get("/meals/today", mealService.TodayMeals)
			r.Get("/meals/upcoming", mealService.UpcomingMeals)

			// Student endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleStudent))

				r.Get("/wallet/transactions", studentService.WalletHistory)
				r.Get("/attendance", studentService.AttendanceHistory)

				r.Post("/refunds", refundHandler.RequestRefund)
				r.Get("/refunds", refundHandler.MyRefunds)
				r.Get("/refunds/eligible", refundHandler.EligibleAttendances)
			})

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin))

				r.Post("/scan", scanHandler.Scan)
				r.Post("/scan/session", scanHandler.CreateSession)

				r.Post("/admin/students", studentService.RegisterStudent)
				r.Get("/admin/students", studentService.ListStudents)
				r.Get("/admin/students/search", studentService.SearchStudents)
				r.Get("/admin/students/{studentId}", studentService.GetStudent)
				r.Put("/admin/students/{studentId}", studentService.UpdateStudent)
				r.Post("/admin/students/{studentId}/status", studentService.SetStudentStatus)
				r.Post("/admin/students/add-balance", studentService.AddBalance)

				r.Post("/admin/meals", mealService.CreateMeal)
				r.Get("/admin/meals", mealService.ListMeals)
				r.Put("/admin/meals/{mealId}", mealService.UpdateMeal)
				r.Delete("/admin/meals/{mealId}", mealService.DeleteMeal)
				r.Post("/admin/meals/{mealId}/toggle", mealService.ToggleMeal)

				r.Get("/admin/refunds/pending", refundHandler.PendingRefunds)
				r.Get("/admin/refunds/processed", refundHandler.ProcessedRefunds)
				r.Post("/admin/refunds/{requestId}", refundHandler.ResolveRefund)

				r.Get("/admin/dashboard", reportService.Dashboard)
				r.Get("/admin/reports/trends", reportService.Trends)
				r.Get("/admin/reports/range", reportService.RangeReport)
				r.Get("/admin/reports/export", reportService.ExportCSV)
			})
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
