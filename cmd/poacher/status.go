package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poacher-dev/poacher/internal/config"
	"github.com/poacher-dev/poacher/internal/console"
	"github.com/poacher-dev/poacher/internal/frontier"
	"github.com/poacher-dev/poacher/internal/marker"
	"github.com/poacher-dev/poacher/internal/storage"
	"github.com/poacher-dev/poacher/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session marker and recent session history",
	Long:  `Display the saved session marker, the predicted newest repository ID, recent sessions and the archived repository count.`,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("sessions")
		ctx := context.Background()

		cfg := loadConfig()
		log := newLogger()

		view, err := loadStatus(ctx, cfg, log, limit, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		view.Print(os.Stdout)
	},
}

func init() {
	statusCmd.Flags().Int("sessions", 5, "Number of recent sessions to show")
	rootCmd.AddCommand(statusCmd)
}

// loadStatus gathers the marker and the history summary. Everything it
// opens is closed before it returns.
func loadStatus(ctx context.Context, cfg *config.Config, log *console.Logger, limit int, now time.Time) (statusView, error) {
	view := statusView{Now: now, HistoryEnabled: cfg.HistoryDB != ""}

	err := withMarkerStore(cfg, log, func(store marker.Store) error {
		rec, err := store.Load(ctx)
		switch {
		case err == nil:
			view.Marker = &rec
		case isNoMarker(err):
		default:
			return fmt.Errorf("failed to read marker: %w", err)
		}
		return nil
	})
	if err != nil {
		return view, err
	}

	history, err := storage.Open(ctx, cfg.HistoryDB)
	if err != nil {
		return view, fmt.Errorf("failed to open history: %w", err)
	}
	defer history.Close()

	if view.Sessions, err = history.RecentSessions(ctx, limit); err != nil {
		return view, err
	}
	if view.Archived, _, err = history.ArchivedCount(ctx, ""); err != nil {
		return view, err
	}
	return view, nil
}

type statusView struct {
	Now            time.Time
	Marker         *marker.Record
	Sessions       []*types.SessionRecord
	Archived       int64
	HistoryEnabled bool
}

// Print writes the status report to w.
func (v statusView) Print(w io.Writer) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== poacher status ==="))

	fmt.Fprintf(w, "%s\n", yellow("Marker:"))
	if v.Marker == nil {
		fmt.Fprintf(w, "  %s\n", gray("No marker saved yet"))
	} else {
		m := v.Marker
		fmt.Fprintf(w, "  Repo ID:   %d\n", m.RepoID)
		fmt.Fprintf(w, "  Saved:     %s (%s ago)\n", console.Timestamp(m.Time()), console.Walltime(v.Now.Sub(m.Time()), false))
		fmt.Fprintf(w, "  Sessions:  %d\n", m.NumSessions)
		if mean, ok := m.MeanRate(); ok {
			guess := frontier.PredictGrowth(m.Timestamp, m.AveragesSum, m.NumSessions, v.Now)
			fmt.Fprintf(w, "  Average:   %d new repos per minute\n", int64(mean))
			fmt.Fprintf(w, "  Predicted: newest repo ID is at least %d\n", m.RepoID+guess)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s\n", yellow("Recent sessions:"))
	switch {
	case !v.HistoryEnabled:
		fmt.Fprintf(w, "  %s\n", gray("History disabled (history_db is empty)"))
	case len(v.Sessions) == 0:
		fmt.Fprintf(w, "  %s\n", gray("No sessions recorded"))
	default:
		for _, s := range v.Sessions {
			reason := green(string(s.ExitReason))
			if s.ExitReason == types.ExitFatal {
				reason = red(string(s.ExitReason))
			}
			fmt.Fprintf(w, "  %s  %s  %d new (%d public), %d/min  %s\n",
				s.EndedAt.Local().Format("2006-01-02 15:04:05"),
				console.Walltime(s.EndedAt.Sub(s.StartedAt), true),
				s.Discovered(), s.ItemsSeen, s.RatePerMin, reason)
		}
	}
	fmt.Fprintln(w)

	if v.HistoryEnabled {
		fmt.Fprintf(w, "%s %d\n\n", yellow("Archived repositories:"), v.Archived)
	}
}
