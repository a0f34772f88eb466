package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/kenton-clearsky/headachemd-telemetry/database"
	"github.com/kenton-clearsky/headachemd-telemetry/handlers"
	"github.com/kenton-clearsky/headachemd-telemetry/middleware"
	"github.com/kenton-clearsky/headachemd-telemetry/realtime"
	"github.com/kenton-clearsky/headachemd-telemetry/store"
)

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- PostgreSQL (users + user_sessions) ---
	dbClient, err := database.NewPostgresDB()
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
	}
	defer dbClient.Close()

	// --- ClickHouse (user_analytics) ---
	chClient, err := database.NewClickHouseDB()
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse database: %v", err)
	}
	defer chClient.Close()

	// --- Redis (change-notification bus) ---
	rdb, err := database.NewRedisClient()
	if err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer rdb.Close()

	// --- Stores ---
	userStore := store.NewUserStore(dbClient.DB)
	analyticsStore := store.NewAnalyticsStore(chClient, rdb)
	sessionStore := store.NewSessionStore(dbClient.DB, rdb)

	// --- Real-time aggregation service ---
	rtService := realtime.NewService(
		&realtime.StoreSessionSource{Reader: sessionStore, RDB: rdb},
		&realtime.StoreEventSource{Reader: analyticsStore, RDB: rdb},
		sessionStore,
		analyticsStore,
	)
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	if err := rtService.StartMonitoring(monitorCtx); err != nil {
		log.Fatalf("Failed to start realtime monitoring: %v", err)
	}
	defer rtService.StopMonitoring()

	// --- Handlers ---
	authHandlers := handlers.NewAuthHandlers(userStore)
	trackHandlers := handlers.NewTrackHandlers(analyticsStore, sessionStore)
	statsHandlers := handlers.NewStatsHandlers(rtService)
	realtimeHandlers := handlers.NewRealtimeHandlers(rtService)

	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		api.POST("/signup", authHandlers.Signup)
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		protected := api.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			protected.POST("/track", trackHandlers.TrackEvents)
			protected.POST("/sessions", trackHandlers.UpsertSession)
			protected.POST("/sessions/:id/end", trackHandlers.EndSession)

			stats := protected.Group("/stats")
			{
				stats.GET("/pages", statsHandlers.GetPageActivity)
				stats.GET("/features", statsHandlers.GetFeatureActivity)
				stats.GET("/users/:id/behavior", statsHandlers.GetUserBehavior)
				stats.GET("/active-sessions", statsHandlers.GetActiveSessions)
				stats.GET("/recent-events", statsHandlers.GetRecentEvents)
			}

			protected.GET("/realtime/ws", realtimeHandlers.Stream)
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Telemetry API server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Telemetry API server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
