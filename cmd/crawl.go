package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const closeTimeout = 30 * time.Second

// newCrawlCmd creates the 'crawl' subcommand. Positional arguments are added
// to the configured seeds.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Starts the media crawler",
		Long: `Crawls from the configured seeds (plus any given as arguments) until
the frontier is exhausted, or until interrupted when crawler.exit_when_idle
is false. On exit the progress sinks are flushed and the last archive file is
closed and uploaded.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	if len(e.cfg.Crawler.Seeds)+len(args) == 0 && !e.cfg.PubSub.Enabled && !e.cfg.Server.Enabled {
		return errors.New("no seeds configured and no way to receive any")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appInstance, err := newApp(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := appInstance.Close(closeCtx); cerr != nil {
			e.logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()

	if err := appInstance.Run(ctx, args...); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	e.logger.Info("crawl command finished", zap.Stringer("crawl_id", appInstance.CrawlID()))
	return nil
}
