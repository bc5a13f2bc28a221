package cli

import (
	"path/filepath"

	"github.com/dl-alexandre/cloudmirror/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  "Display the configuration after defaults, config file and environment are merged. Secrets are omitted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			return cc.output().WriteSuccess("config.show", cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show where configuration and state are read from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			configFile := cc.flags.ConfigFile
			if configFile == "" {
				configFile = filepath.Join(cc.configDir, config.ConfigFileName)
			}
			return cc.output().WriteSuccess("config.path", map[string]interface{}{
				"configDir":  cc.configDir,
				"configFile": configFile,
				"stateDir":   cfg.StateDir,
			})
		},
	})

	return cmd
}
