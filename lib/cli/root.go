// Package cli implements the linkd command line.
package cli

import (
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"

	"github.com/go-i2p/go-linkd/lib/config"
)

// Version is set at build time.
var Version = "0.1.0"

var log = logger.GetGoI2PLogger()

// NewRootCmd builds the linkd command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "linkd",
		Short: "Chat account link orchestrator",
		Long: `linkd links chat accounts through QR or pairing-code handshakes and
supervises the resulting sessions: capacity, per-actor cooldown, watchdog,
sweep, reconnection and handler reload.

Set DEBUG_I2P=debug (or warn, error) to enable logging.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return config.InitConfig()
		},
	}

	root.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.linkd/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSessionsCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCmd().Execute()
}
