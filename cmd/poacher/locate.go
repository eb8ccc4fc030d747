package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/poacher-dev/poacher/internal/console"
	"github.com/poacher-dev/poacher/internal/frontier"
	"github.com/poacher-dev/poacher/internal/github"
	"github.com/poacher-dev/poacher/internal/marker"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Print the newest repository ID without starting a session",
	Long: `Locate the newest assigned repository ID starting from the session
marker and print it. The marker is not modified.`,
	Run: func(cmd *cobra.Command, args []string) {
		from, _ := cmd.Flags().GetInt64("from")

		cfg := loadConfig()
		log := newLogger()

		client, err := github.NewClient(github.Options{
			Token:             cfg.GitHubToken,
			BaseURL:           cfg.APIBaseURL,
			RequestsPerSecond: cfg.APIRequestsPerSecond,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		counting := &frontier.CountingProber{Prober: client}
		var id int64
		err = withMarkerStore(cfg, log, func(store marker.Store) (err error) {
			id, err = locate(ctx, counting, store, from, log, time.Now())
			return err
		})
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		log.Log("Located in %d probes", counting.Calls)
		fmt.Println(id)
	},
}

func init() {
	locateCmd.Flags().Int64("from", 0, "Start from this ID instead of the marker")
	rootCmd.AddCommand(locateCmd)
}

// locate runs the growth estimate and the frontier search from the stored
// marker, or from an explicit lower bound when from is positive.
func locate(ctx context.Context, p frontier.Prober, store marker.Store, from int64, log *console.Logger, now time.Time) (int64, error) {
	if from > 0 {
		return frontier.Locate(ctx, p, from, 0, log)
	}
	rec := marker.LoadOrDefault(ctx, store, log, now)
	guess := frontier.PredictGrowth(rec.Timestamp, rec.AveragesSum, rec.NumSessions, now)
	return frontier.Locate(ctx, p, rec.RepoID, guess, log)
}
