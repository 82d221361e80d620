package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/strimo-org/strimo/internal/api"
	"github.com/strimo-org/strimo/internal/core"
)

var (
	cfgFile string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the strimo server",

		Run: func(cmd *cobra.Command, args []string) {
			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

			config, err := core.NewConfig(cfgFile)
			if err != nil {
				logger.Fatal().Err(err).Msg("load config")
			}

			app, err := api.New(config, logger)
			if err != nil {
				logger.Fatal().Err(err).Msg("start app")
			}
			defer app.Close()

			logger.Fatal().Err(app.Listen()).Msg("server stopped")
		},
	}
)

func init() {
	serveCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "/etc/config/strimo.yml", "config file (default is /etc/config/strimo.yml)")
}
