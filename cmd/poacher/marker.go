package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poacher-dev/poacher/internal/marker"
)

var markerCmd = &cobra.Command{
	Use:   "marker",
	Short: "Inspect or reset the session marker",
}

var markerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored marker",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		log := newLogger()
		var rec marker.Record
		err := withMarkerStore(cfg, log, func(store marker.Store) (err error) {
			rec, err = store.Load(context.Background())
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("repo_id:      %d\n", rec.RepoID)
		fmt.Printf("timestamp:    %.3f\n", rec.Timestamp)
		fmt.Printf("averages_sum: %v\n", rec.AveragesSum)
		fmt.Printf("num_sessions: %d\n", rec.NumSessions)
	},
}

var markerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace the marker with a fresh one",
	Long: `Write a fresh marker starting at --repo-id. The running average is
discarded, so the next session starts without a growth estimate.`,
	Run: func(cmd *cobra.Command, args []string) {
		repoID, _ := cmd.Flags().GetInt64("repo-id")

		cfg := loadConfig()
		log := newLogger()
		var rec marker.Record
		err := withMarkerStore(cfg, log, func(store marker.Store) (err error) {
			rec, err = resetMarker(context.Background(), store, repoID, time.Now())
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Marker reset to repo ID %d\n", green("✓"), rec.RepoID)
	},
}

func init() {
	markerResetCmd.Flags().Int64("repo-id", marker.DefaultRepoID, "Repository ID the next session starts searching from")
	markerCmd.AddCommand(markerShowCmd)
	markerCmd.AddCommand(markerResetCmd)
	rootCmd.AddCommand(markerCmd)
}

func resetMarker(ctx context.Context, store marker.Store, repoID int64, now time.Time) (marker.Record, error) {
	rec := marker.Default(now)
	rec.RepoID = repoID
	if err := rec.Validate(); err != nil {
		return marker.Record{}, err
	}
	if err := store.Save(ctx, rec); err != nil {
		return marker.Record{}, fmt.Errorf("saving marker: %w", err)
	}
	return rec, nil
}

func isNoMarker(err error) bool {
	return errors.Is(err, marker.ErrNoMarker)
}
