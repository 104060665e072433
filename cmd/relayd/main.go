package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/walletabi/relaygo/internal/config"
	"github.com/walletabi/relaygo/internal/database"
	"github.com/walletabi/relaygo/internal/handlers"
	"github.com/walletabi/relaygo/internal/janitor"
	"github.com/walletabi/relaygo/internal/models"
	"github.com/walletabi/relaygo/internal/pairing"
	"github.com/walletabi/relaygo/internal/relay"
	"github.com/walletabi/relaygo/internal/store"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Open the embedded database
	db, err := database.Connect(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.Pairing{},
		&models.Message{},
		&models.Event{},
	)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("✅ Schema synchronized successfully")

	// 4. Wire services
	st := store.New(db)
	manager := pairing.NewManager(st, []byte(cfg.HMACSecret), cfg.MaxTTLMs, cfg.PublicWsURL)
	relayServer := relay.NewServer(st, []byte(cfg.HMACSecret))
	router := handlers.NewRouter(manager, relayServer)

	// 5. Start the maintenance sweep
	sweeper := janitor.New(st,
		time.Duration(cfg.JanitorIntervalMs)*time.Millisecond,
		time.Duration(cfg.EventRetentionMs)*time.Millisecond,
	)
	sweeper.Start()
	log.Println("🧹 Janitor started")

	// 6. Start server with graceful shutdown
	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Relay listening on %s (public: %s)\n", cfg.BindAddr, cfg.PublicWsURL)
		var err error
		if cfg.UsesTLS() {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	sweeper.Stop()

	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
