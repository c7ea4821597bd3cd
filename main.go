package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"starQuestAPI/handlers"
	"starQuestAPI/internal/github"
	"starQuestAPI/internal/identity"
	"starQuestAPI/middleware"
	"starQuestAPI/repository"
	"starQuestAPI/services"

	_ "net/http/pprof"
)

var (
	dbPool             *pgxpool.Pool
	achievementService *services.AchievementService
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(clerkSecretKey)
	log.Println("Clerk initialized successfully")

	var (
		achievementRepo repository.AchievementRepository
		unlockRepo      repository.UnlockRepository
	)

	if os.Getenv("MEMORY_STORE") == "true" {
		// Single-process mode, nothing survives a restart. Useful locally.
		store := repository.NewMemoryStore()
		achievementRepo = store
		unlockRepo = store
		log.Println("Using in-memory store")
	} else {
		dbURL := os.Getenv("DATABASE_URL")
		if dbURL == "" {
			log.Fatal("DATABASE_URL environment variable is not set")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poolConfig, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			log.Fatal("Failed to parse database URL:", err)
		}

		poolConfig.MaxConns = 25
		poolConfig.MinConns = 5
		poolConfig.MaxConnLifetime = time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute
		poolConfig.HealthCheckPeriod = time.Minute

		dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			log.Fatal("Failed to create connection pool:", err)
		}

		if err := dbPool.Ping(ctx); err != nil {
			log.Fatal("Failed to ping database:", err)
		}

		log.Println("Successfully connected to database")

		achievementRepo = repository.NewPostgresAchievementRepository(dbPool)
		unlockRepo = repository.NewPostgresUnlockRepository(dbPool)
	}

	var eventEnd time.Time
	if raw := os.Getenv("EVENT_END_DATE"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			log.Fatal("Failed to parse EVENT_END_DATE:", err)
		}
		eventEnd = parsed
		log.Printf("Completion window closes at %s", eventEnd)
	}

	identityProvider := identity.NewClerkProvider(os.Getenv("CLERK_API_URL"), clerkSecretKey)
	starChecker := github.NewClient(os.Getenv("GITHUB_API_URL"))

	achievementService = services.NewAchievementService(achievementRepo, unlockRepo, identityProvider, starChecker, eventEnd)

	middleware.InitPrometheus()
}

func main() {
	defer func() {
		if dbPool != nil {
			log.Println("Closing database connection pool...")
			dbPool.Close()
		}
	}()

	achievementHandler := handlers.NewAchievementHandler(achievementService)
	managerHandler := handlers.NewManagerHandler(achievementService)

	r := mux.NewRouter()

	go middleware.CleanupVisitors()

	r.Use(middleware.RateLimitMiddleware)
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))
	r.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(http.DefaultServeMux))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if dbPool != nil {
			if err := dbPool.Ping(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "starquest-api"}`))
	}).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// -------------------------------------------------------------------------
	// APP ROUTES (REQUIRE CLERK AUTH)
	// -------------------------------------------------------------------------
	app := api.PathPrefix("").Subrouter()
	app.Use(middleware.AuthMiddleware)

	app.HandleFunc("/achievements", achievementHandler.GetAllWithCompletion).Methods("GET")
	app.HandleFunc("/achievements/in-app-secret", achievementHandler.GetInAppSecret).Methods("GET")
	app.HandleFunc("/achievements/secret-code/check", achievementHandler.CheckSecretCode).Methods("POST")
	app.HandleFunc("/achievements/{secretId}/complete", achievementHandler.CompleteBySecretID).Methods("POST")
	app.HandleFunc("/account/github-stars", achievementHandler.GetGithubAchievementsToClaim).Methods("GET")
	app.HandleFunc("/leaderboard", achievementHandler.GetLeaderboard).Methods("GET")

	// -------------------------------------------------------------------------
	// MANAGER ROUTES (REQUIRE MANAGER TOKEN)
	// -------------------------------------------------------------------------
	manager := api.PathPrefix("/manager").Subrouter()
	manager.Use(middleware.ManagerAuthMiddleware)

	manager.HandleFunc("/achievements", managerHandler.GetAll).Methods("GET")
	manager.HandleFunc("/achievements", managerHandler.Create).Methods("POST")
	manager.HandleFunc("/achievements/{id}", managerHandler.GetByID).Methods("GET")
	manager.HandleFunc("/achievements/{id}", managerHandler.UpdateByID).Methods("PUT")
	manager.HandleFunc("/achievements/{id}", managerHandler.DeleteByID).Methods("DELETE")
	manager.HandleFunc("/dashboard/leaderboard", managerHandler.GetLeaderboard).Methods("GET")

	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Manager-Token", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
