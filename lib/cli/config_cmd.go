package cli

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-i2p/go-linkd/lib/config"
)

// secretKeys are masked by "config show".
var secretKeys = map[string][]string{
	"api":   {"token"},
	"store": {"passphrase"},
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := viper.AllSettings()
			for section, keys := range secretKeys {
				m, ok := settings[section].(map[string]any)
				if !ok {
					continue
				}
				for _, k := range keys {
					if v, _ := m[k].(string); v != "" {
						m[k] = "********"
					}
				}
			}
			out, err := yaml.Marshal(settings)
			if err != nil {
				return oops.Wrapf(err, "encode configuration")
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Validate(config.CurrentConfig()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return err
		},
	})
	return cmd
}
