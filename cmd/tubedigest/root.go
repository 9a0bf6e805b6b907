package main

import "github.com/spf13/cobra"

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tubedigest",
		Short:         "Telegram bot that turns video links into audio, transcripts and summaries",
		Long:          "tubedigest serves a Telegram bot: send it a video link and it replies with the raw audio, a summary of the spoken content, or an open-ended chat. It can also process a single link from the command line.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newProcessCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
