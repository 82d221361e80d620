package cmd

import "github.com/spf13/cobra"

var (
	rootCmd = &cobra.Command{
		Use:   "strimo",
		Short: "Per-connection SSE sessions with channel subscriptions",
		Long:  `Strimo serves Server-Sent Events sessions whose clients subscribe to channels using MQTT topic filters and wildcards.`,
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
