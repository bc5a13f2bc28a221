package cli

import (
	"github.com/dl-alexandre/cloudmirror/internal/contentcache"
	"github.com/dl-alexandre/cloudmirror/internal/server"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newServeCommand(cc *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local mirror over HTTP for development",
		Long: `Serve files from the local mirror and accept reboot requests on /reboot,
so 'cloudmirror run' can be tested end to end without the real content server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.LocalRoot == "" {
				return utils.NewAppError(utils.NewCLIError(utils.ErrCodeConfigInvalid,
					"localRoot is required").Build())
			}
			if err := ensureDir(cfg.LocalRoot); err != nil {
				return err
			}

			cache, err := contentcache.New(afero.NewBasePathFs(cc.fs, cfg.LocalRoot), cfg.ContentCacheSize)
			if err != nil {
				return err
			}
			srv := server.New(server.Config{
				Addr:       addr,
				PassPhrase: cfg.Reboot.PassPhrase,
			}, cache, cc.logger)
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	return cmd
}
