package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coderoom-live/coderoom/internal/config"
	"github.com/coderoom-live/coderoom/internal/viewer"
)

var watchRepoURL string

var watchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Follow a room's output, optionally launching a run first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		roomID := args[0]

		printer := &transcriptPrinter{}
		view := viewer.NewView(cfg.ServerURL, roomID, printer.update)
		defer view.Close()

		if watchRepoURL != "" {
			repo, err := view.Launch(cmd.Context(), watchRepoURL)
			if err != nil {
				// A dead live relay is not fatal; the fallback feed
				// still converges on the transcript.
				log.Printf("live relay unavailable: %v", err)
			}
			if repo != nil {
				fmt.Printf("running %s/%s (%s)\n", repo.Owner, repo.Name, repo.URL)
			}
		}

		view.FollowFeed()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchRepoURL, "repo", "", "GitHub repository URL to launch in the room")
}

// transcriptPrinter writes transcript growth to stdout. A snapshot that
// rewrites history reprints the whole transcript.
type transcriptPrinter struct {
	mu   sync.Mutex
	seen string
}

func (p *transcriptPrinter) update(transcript string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if strings.HasPrefix(transcript, p.seen) {
		os.Stdout.WriteString(transcript[len(p.seen):])
	} else {
		os.Stdout.WriteString(transcript)
	}
	p.seen = transcript
}
