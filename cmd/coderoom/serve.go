package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coderoom-live/coderoom/internal/config"
	"github.com/coderoom-live/coderoom/internal/feed"
	"github.com/coderoom-live/coderoom/internal/launch"
	"github.com/coderoom-live/coderoom/internal/relay"
	"github.com/coderoom-live/coderoom/internal/repometa"
	"github.com/coderoom-live/coderoom/internal/room"
	"github.com/coderoom-live/coderoom/internal/runner"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()

		store, err := room.OpenStore(cfg.DBPath, cfg.SpoolDir)
		if err != nil {
			return fmt.Errorf("failed to open room store: %w", err)
		}
		defer store.Close()

		roomFeed, err := feed.New(store)
		if err != nil {
			return fmt.Errorf("failed to start fallback feed: %w", err)
		}

		dockerRunner, err := runner.NewDocker(cfg.CloneDir)
		if err != nil {
			return fmt.Errorf("failed to connect to docker: %w", err)
		}

		hub := relay.NewHub()
		coordinator := launch.NewCoordinator(store, dockerRunner, hub, repometa.NewLookup(cfg.GitHubToken))
		server := relay.New(hub, store, roomFeed, coordinator)

		addr := fmt.Sprintf(":%d", cfg.Port)
		httpServer := &http.Server{
			Addr:    addr,
			Handler: server.Handler(),
		}

		// Graceful shutdown on signals.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigCh
			log.Println("Shutting down...")
			coordinator.Shutdown()
			roomFeed.Shutdown()
			httpServer.Close()
		}()

		log.Printf("coderoom relay running on http://localhost:%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	},
}
