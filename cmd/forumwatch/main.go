package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anoa.com/threadforum/internal/client"
	"anoa.com/threadforum/internal/entity"
	"anoa.com/threadforum/internal/observ"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverURL string
	authToken string
	threadID  string
	backoff   time.Duration
	logLevel  string

	rootCmd = &cobra.Command{
		Use:   "forumwatch",
		Short: "Follow a threadforum server's live change stream",
	}
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Connect to the change stream and keep a local view in sync",
		Long: `Loads the forum listing (and a thread, if one is given), then applies every
change record pushed by the server. The connection is retried with a fixed
backoff; records emitted while disconnected are not replayed.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
)

func init() {
	defaultBackoff := client.DefaultBackoff
	if v := os.Getenv("RECONNECT_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			defaultBackoff = d
		}
	}

	watchCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the threadforum server")
	watchCmd.Flags().StringVar(&authToken, "token", os.Getenv("FORUM_TOKEN"), "Bearer token from /api/auth/login")
	watchCmd.Flags().StringVar(&threadID, "thread", "", "Thread to materialize and focus")
	watchCmd.Flags().DurationVar(&backoff, "backoff", defaultBackoff, "Delay between reconnect attempts")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if authToken == "" {
		return fmt.Errorf("--token is required")
	}

	logger, err := observ.NewLogger("development", logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconciler := client.NewReconciler()
	obs := &client.Observer{
		BaseURL:    serverURL,
		Token:      authToken,
		Backoff:    backoff,
		Reconciler: reconciler,
		Logger:     logger,
		OnRecord:   logRecord(logger),
	}

	if err := obs.Prime(ctx, threadID); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	logger.Info("view loaded",
		zap.Int("forums", len(reconciler.Forums())),
		zap.String("thread", threadID))

	return obs.Run(ctx)
}

func logRecord(logger *zap.Logger) func(entity.ChangeRecord, client.Effect) {
	return func(r entity.ChangeRecord, e client.Effect) {
		fields := []zap.Field{
			zap.String("action", string(r.Action)),
			zap.String("entity", string(r.EntityType)),
			zap.Bool("applied", e.Applied),
		}
		if r.Source != nil {
			fields = append(fields, zap.String("parent", r.Source.ParentID))
		}
		logger.Info("change", fields...)

		if e.Navigate != nil {
			logger.Info("focused entity removed, moving up",
				zap.String("forum", e.Navigate.ForumID),
				zap.String("thread", e.Navigate.ThreadID))
		}
		if e.SessionEnded {
			logger.Warn("session ended by server, log in again")
		}
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
