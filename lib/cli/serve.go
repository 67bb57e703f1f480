package cli

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-i2p/go-linkd/lib/config"
	"github.com/go-i2p/go-linkd/lib/daemon"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session orchestrator and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.CurrentConfig()
			d, err := daemon.New(cfg, daemon.WithConfigSource(config.CurrentConfig))
			if err != nil {
				return err
			}

			config.WatchConfig(func(ev fsnotify.Event, next config.ConfigDefaults) {
				if err := d.ApplyHandlers(context.Background(), next.Handler); err != nil {
					log.WithError(err).WithFields(logger.Fields{
						"at":   "serve",
						"file": ev.Name,
					}).Error("failed to apply handler configuration")
				}
			})

			return d.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "", "API listen address (overrides api.address)")
	flags.String("transport", "", `transport kind, "gateway" or "sim" (overrides transport.kind)`)
	flags.String("gateway", "", "gateway websocket URL (overrides transport.gateway_url)")
	flags.Bool("no-restore", false, "do not restore stored sessions on start")
	cobra.CheckErr(viper.BindPFlag("api.address", flags.Lookup("listen")))
	cobra.CheckErr(viper.BindPFlag("transport.kind", flags.Lookup("transport")))
	cobra.CheckErr(viper.BindPFlag("transport.gateway_url", flags.Lookup("gateway")))

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if noRestore, _ := cmd.Flags().GetBool("no-restore"); noRestore {
			viper.Set("pool.restore_on_start", false)
		}
	}
	return cmd
}
