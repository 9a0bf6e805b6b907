package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"TubeDigest/internal/app"
	"TubeDigest/internal/config"
	"TubeDigest/internal/domain"
	"TubeDigest/internal/logging"
	"TubeDigest/internal/proxy"
	"TubeDigest/internal/source"
)

func newProcessCmd() *cobra.Command {
	var (
		download    bool
		forceAudio  bool
		skipSummary bool
		noProxy     bool
		proxyURL    string
	)

	cmd := &cobra.Command{
		Use:   "process <url>",
		Short: "Process a single video link from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.New(cfg.Logging.Level)

			url, ok := source.Default().Extract(args[0])
			if !ok {
				return fmt.Errorf("unrecognized video link: %s", args[0])
			}

			proxies := proxy.NewPolicy(proxy.Config{
				ExplicitURL: cfg.Proxy.URL,
				DisableAll:  cfg.Proxy.DisableAll,
			})
			if proxyURL != "" {
				proxies.SetExplicitURL(proxyURL)
			}
			if noProxy {
				proxies.SetDisableAll(true)
			}

			pipeline, err := app.BuildPipeline(cmd.Context(), cfg, proxies, logger)
			if err != nil {
				return err
			}

			mode := domain.ModeSummarize
			if download {
				mode = domain.ModeDownload
			}
			req := domain.PipelineRequest{
				ID:          uuid.NewString(),
				UserID:      "cli",
				SourceURL:   url,
				Mode:        mode,
				ForceAudio:  forceAudio,
				SkipSummary: skipSummary,
				CreatedAt:   time.Now(),
			}

			result := pipeline.Run(cmd.Context(), req, func(ev domain.ProgressEvent) {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", ev.Stage, ev.Message)
			})
			if result.Status == domain.StatusFailed {
				return fmt.Errorf("processing failed: %s", result.Err.Message)
			}

			if result.Summary != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "\n"+result.Summary)
			}
			for _, art := range result.Artifacts {
				if art.Ref != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", art.Kind, art.Ref)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&download, "download", false, "fetch the raw audio instead of summarizing")
	cmd.Flags().BoolVar(&forceAudio, "force-audio", false, "skip the caption check and transcribe the audio")
	cmd.Flags().BoolVar(&skipSummary, "skip-summary", false, "deliver the raw text without summarizing")
	cmd.Flags().BoolVar(&noProxy, "no-proxy", false, "disable proxies for every outbound call")
	cmd.Flags().StringVar(&proxyURL, "proxy", "", "explicit proxy URL for media-source calls")

	return cmd
}
