// Command poacher watches GitHub for newly created public repositories and
// runs a handler on each one as soon as it appears.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/poacher-dev/poacher/internal/config"
	"github.com/poacher-dev/poacher/internal/console"
	"github.com/poacher-dev/poacher/internal/marker"
)

const banner = `
::::::::::.     ...       :::.       .,-:::::    ::   .:  .,::::::  :::::::..
 ` + "`" + `;;;` + "```" + `.;;; .;;;;;;;.    ;;` + "`" + `;;    ,;;;'` + "````" + `'   ,;;   ;;, ;;;;''''  ;;;;` + "``" + `;;;;
  ` + "`" + `]]nnn]]' ,[[     \[[, ,[[ '[[,  [[[         ,[[[,,,[[[  [[cccc    [[[,/[[['
   $$$''    $$$,     $$$c$$$cc$$$c $$$         '$$$'''$$$  $$''''    $$$$$$c
   888o     '888,_ _,88P 888   888,` + "`" + `88bo,__,o,  888   '88o 888oo,__  888b '88bo,
   YMMMb      'YMMMMMP'  YMM   ''` + "`" + `   'YUMMMMMP' MMM    YMM '''YUMMM MMMM   'W'
`

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "poacher",
	Short: "Watch GitHub for new repositories and run a handler on each one",
	Long: `poacher finds the newest repository ID on GitHub, then keeps polling
for repositories created after it. Each new repository can be cloned,
handed to a handler and archived when the handler asks for it.

With no handler configured poacher runs in monitor mode and only tracks
the repository creation rate.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show progress lines and the banner")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file or exits. overrides run before the
// mode flags are normalized.
func loadConfig(overrides ...func(*config.Config)) *config.Config {
	cfg, err := config.Load(configPath, overrides...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newLogger() *console.Logger {
	return console.New(os.Stdout, verbose)
}

// openStore is replaced in tests.
var openStore = openMarkerStore

// withMarkerStore runs fn against the configured marker store and releases
// the store before returning, so callers can exit on the result.
func withMarkerStore(cfg *config.Config, log *console.Logger, fn func(marker.Store) error) error {
	store, closeStore := openStore(cfg, log)
	defer closeStore()
	return fn(store)
}

// openMarkerStore returns the file store, mirrored into Redis when an
// address is configured. The returned func releases the Redis client.
func openMarkerStore(cfg *config.Config, log *console.Logger) (marker.Store, func()) {
	file := marker.NewFileStore(cfg.MarkerFile)
	if cfg.MarkerRedisAddr == "" {
		return file, func() {}
	}

	redis := marker.NewRedisStore(cfg.MarkerRedisAddr, cfg.MarkerRedisKey)
	return &marker.Mirror{Primary: file, Secondary: redis, Log: log}, func() {
		if err := redis.Close(); err != nil {
			log.Warn("Closing Redis client: %v", err)
		}
	}
}

