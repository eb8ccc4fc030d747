package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/poacher-dev/poacher/internal/archive"
	"github.com/poacher-dev/poacher/internal/config"
	"github.com/poacher-dev/poacher/internal/console"
	"github.com/poacher-dev/poacher/internal/events"
	"github.com/poacher-dev/poacher/internal/git"
	"github.com/poacher-dev/poacher/internal/github"
	"github.com/poacher-dev/poacher/internal/handler"
	"github.com/poacher-dev/poacher/internal/storage"
	"github.com/poacher-dev/poacher/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a discovery session",
	Long: `Start a discovery session.

poacher will:
1. Estimate how far the newest repository ID moved since the last session
2. Locate the exact newest ID with a handful of API probes
3. Poll for repositories created after it
4. Clone each one, run the handler and archive it if the handler matches
5. Continue until stopped with Ctrl+C, then save the session marker`,
	Run: func(cmd *cobra.Command, args []string) {
		maxPolls, _ := cmd.Flags().GetInt("max-polls")
		handlerName, _ := cmd.Flags().GetString("handler")
		monitor, _ := cmd.Flags().GetBool("monitor")

		cfg := loadConfig(runOverrides(handlerName, monitor))

		log := newLogger()
		if verbose {
			fmt.Println(color.New(color.FgRed).Sprint(banner))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts, cleanup, err := buildSession(ctx, cfg, log)
		if err != nil {
			cleanup()
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		opts.maxPolls = maxPolls

		res, err := runSession(ctx, opts)
		cleanup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if res.Reason == types.ExitFatal {
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().Int("max-polls", 0, "Stop after this many feed queries (0 = run until interrupted)")
	runCmd.Flags().String("handler", "", "Handler name or path, overriding repo_handler")
	runCmd.Flags().Bool("monitor", false, "Only track the creation rate, never clone or run the handler")
	rootCmd.AddCommand(runCmd)
}

// runOverrides applies the run flags on top of the config file.
func runOverrides(handlerName string, monitor bool) func(*config.Config) {
	return func(cfg *config.Config) {
		if handlerName != "" {
			cfg.RepoHandler = handlerName
			cfg.MonitorOnly = false
		}
		if monitor {
			cfg.MonitorOnly = true
		}
	}
}

// buildSession wires the production collaborators for cfg. The returned
// cleanup closes everything that was opened.
func buildSession(ctx context.Context, cfg *config.Config, log *console.Logger) (*sessionOptions, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	opts := &sessionOptions{cfg: cfg, log: log}

	if cfg.MonitorOnly {
		log.Write("Monitor Mode (no active handler. keeping track of repository creation rate, nothing more)")
	} else {
		registry := handler.NewBuiltinRegistry(handler.BuiltinOptions{TriageModel: cfg.TriageModel})
		h, err := registry.Resolve(cfg.RepoHandler)
		if err != nil {
			return nil, cleanup, fmt.Errorf("loading handler %s: %w", cfg.RepoHandler, err)
		}
		opts.handler = h
		log.Log("Using handler %s", h.Name())
	}

	if cfg.Clone {
		g, err := git.NewGit(ctx, git.CloneOptions{Quiet: true})
		if err != nil {
			return nil, cleanup, err
		}
		opts.cloner = g
		opts.archiver = archive.New(cfg.ArchiveDirectory, log)
	}

	promptForToken(cfg, log)
	client, err := github.NewClient(github.Options{
		Token:             cfg.GitHubToken,
		BaseURL:           cfg.APIBaseURL,
		RequestsPerSecond: cfg.APIRequestsPerSecond,
	})
	if err != nil {
		return nil, cleanup, err
	}
	opts.client = client

	store, closeStore := openMarkerStore(cfg, log)
	opts.store = store
	closers = append(closers, closeStore)

	history, err := storage.Open(ctx, cfg.HistoryDB)
	if err != nil {
		log.Warn("Session history disabled: %v", err)
		history = storage.Disabled{}
	}
	opts.history = history
	closers = append(closers, func() { history.Close() })

	if cfg.KafkaBroker != "" {
		pub := events.NewPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		opts.publisher = pub
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				log.Warn("Closing Kafka writer: %v", err)
			}
		})
	}

	return opts, cleanup, nil
}

// promptForToken asks for a token on an interactive terminal when none is
// configured. Without a terminal the session runs anonymously.
func promptForToken(cfg *config.Config, log *console.Logger) {
	if cfg.GitHubToken != "" {
		return
	}
	fd := os.Stdin.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		log.Warn("No GitHub token configured, using anonymous API access")
		return
	}

	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "^C",
	})
	if err != nil {
		log.Warn("Cannot prompt for a token: %v", err)
		return
	}
	defer rl.Close()

	token, err := rl.ReadPassword("GitHub token (empty for anonymous access): ")
	if err != nil {
		return
	}
	cfg.GitHubToken = strings.TrimSpace(string(token))
}
