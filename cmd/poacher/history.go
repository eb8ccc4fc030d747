package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/poacher-dev/poacher/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage the session history database",
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old session records",
	Long:  `Delete session records that ended before --older-than. Archived repository records are kept.`,
	Run: func(cmd *cobra.Command, args []string) {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --older-than must be positive\n")
			os.Exit(1)
		}

		cfg := loadConfig()
		if cfg.HistoryDB == "" {
			fmt.Fprintf(os.Stderr, "Error: history_db is not configured\n")
			os.Exit(1)
		}

		ctx := context.Background()
		history, err := storage.Open(ctx, cfg.HistoryDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		n, err := history.PruneSessions(ctx, time.Now().Add(-olderThan))
		history.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted %d session records\n", n)
	},
}

var historyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all session and archived repository records",
	Long: `Roll the history schema back and recreate it, deleting every session
and archived repository record. The archive directory and the marker are
not touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Fprintf(os.Stderr, "Error: history reset deletes all records, pass --force to confirm\n")
			os.Exit(1)
		}

		cfg := loadConfig()
		if cfg.HistoryDB == "" {
			fmt.Fprintf(os.Stderr, "Error: history_db is not configured\n")
			os.Exit(1)
		}

		ctx := context.Background()
		history, err := storage.Open(ctx, cfg.HistoryDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		err = history.Reset(ctx)
		history.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("History in %s reset\n", cfg.HistoryDB)
	},
}

func init() {
	historyResetCmd.Flags().Bool("force", false, "Confirm deleting all history")
	historyCmd.AddCommand(historyResetCmd)
	historyPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete sessions that ended longer ago than this")
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}
