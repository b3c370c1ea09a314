package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-posemusic/internal/config"
	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/pkg/session"
)

// Version is the application version.
const Version = "0.1.0"

var (
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "posemusic",
	Short:         "Play music with your body",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Init(logLevel)
		return nil
	},
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.SessionDB(), "session database path (SESSION_DB)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.LogLevel(), "debug, info, warn or error (LOG_LEVEL)")
}

// openStore opens the session database named by --db.
func openStore() (*session.Store, error) {
	store, err := session.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	return store, nil
}

// resolveSession maps "latest" or an empty id to the newest session.
func resolveSession(ctx context.Context, store *session.Store, id string) (session.Session, error) {
	if id == "" || id == "latest" {
		return store.Latest(ctx)
	}
	return store.Get(ctx, id)
}
