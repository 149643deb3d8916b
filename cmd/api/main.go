package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aurora-backend/cmd"
	"aurora-backend/internal/api"
	"aurora-backend/internal/chat"
	"aurora-backend/internal/config"
	"aurora-backend/internal/database"
	"aurora-backend/internal/identity"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	log.Println("Starting Aurora API Server...")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	bus, err := cmd.CreateChangeBus(cfg)
	if err != nil {
		log.Fatalf("Failed to create change bus: %v", err)
	}
	defer bus.Close()

	hub := chat.NewHub(bus)
	hub.Start()
	defer hub.Close()

	llm, err := cmd.CreateCompletionClient(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to create completion client: %v", err)
	}

	identities := identity.NewService(db, cmd.CreateIdentityProvider(cfg))
	directory := chat.NewDirectory(db, hub)
	messages := chat.NewMessageLog(db, hub)

	// --- Chi Router Setup ---
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	backend := api.NewBackendService(
		identities,
		api.NewChatService(directory, messages, llm),
		api.NewLiveService(directory, messages, llm, identities, cfg.AllowedOrigins),
	)

	r.Route("/api/v1", func(r chi.Router) {
		backend.AddRoutes(r)
	})

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s (model %s)", cfg.Port, llm.Model())
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.Port, err)
	}

	log.Println("Server stopped.")
}
