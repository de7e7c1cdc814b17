package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/mediacrawler/internal/scratch"
	"github.com/JakeFAU/mediacrawler/internal/ytdlp"
)

// newDiscoverCmd creates the 'discover' subcommand, which runs media discovery
// for one page and prints what a crawl would schedule from it.
func newDiscoverCmd() *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "discover <url>",
		Short: "Runs yt-dlp discovery against a single page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			runner := ytdlp.NewRunner(ytdlp.Config{
				Args:        e.cfg.Extractor.YtdlpArgs,
				ExitTimeout: e.cfg.Extractor.ExitTimeout,
				RunTimeout:  e.cfg.Extractor.RunTimeout,
			}, e.logger)
			return runDiscover(cmd, runner, afero.NewOsFs(), e.cfg.Extractor.ScratchDir, args[0], dump)
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "write the raw tool output after the summary")
	return cmd
}

func runDiscover(cmd *cobra.Command, runner *ytdlp.Runner, fs afero.Fs, dir, url string, dump bool) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	buf := scratch.New(fs, dir, "")
	defer func() { _ = buf.Destroy() }()
	if err := buf.Reset(); err != nil {
		return fmt.Errorf("prepare scratch buffer: %w", err)
	}

	results, err := runner.Run(cmd.Context(), url, buf)
	if err != nil {
		return fmt.Errorf("discover %s: %w", url, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d video(s), %d page(s)\n", len(results.VideoURLs), len(results.PageURLs))
	for _, v := range results.VideoURLs {
		fmt.Fprintf(out, "video\t%s\n", v)
	}
	for _, p := range results.PageURLs {
		fmt.Fprintf(out, "page\t%s\n", p)
	}
	if !dump {
		return nil
	}
	payload, err := buf.Payload()
	if err != nil {
		return fmt.Errorf("read tool output: %w", err)
	}
	defer payload.Close()
	if _, err := io.Copy(out, payload); err != nil {
		return fmt.Errorf("dump tool output: %w", err)
	}
	fmt.Fprintln(out)
	return nil
}
