package cli

import (
	"github.com/dl-alexandre/cloudmirror/internal/config"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/mirror"
	"github.com/dl-alexandre/cloudmirror/internal/provider"
	"github.com/dl-alexandre/cloudmirror/internal/reboot"
	syncengine "github.com/dl-alexandre/cloudmirror/internal/sync"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/spf13/cobra"
)

func newRunCommand(cc *commandContext) *cobra.Command {
	var interval int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mirror the remote folder",
		Long: `Fetch remote changes and apply them to the local mirror.

With --interval/-f greater than zero the command keeps polling until interrupted
or until the provider reports an error that retrying cannot fix. Without it a
single pass runs and the exit code reports whether it completed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cfg.IntervalSeconds = interval
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateForSync(); err != nil {
				return err
			}
			return runSync(cmd, cc, cfg)
		},
	}

	cmd.Flags().IntVarP(&interval, "interval", "f", 0, "Seconds between syncs; 0 runs once")
	return cmd
}

func runSync(cmd *cobra.Command, cc *commandContext, cfg *config.Config) error {
	ctx := cmd.Context()
	logger := cc.logger

	p, err := provider.New(ctx, cfg, provider.Deps{
		Auth:   cc.authManager(),
		Logger: logger,
		Debug:  cc.debug,
	})
	if err != nil {
		return err
	}

	if err := ensureDir(cfg.LocalRoot); err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeConfigInvalid,
			"Cannot create local mirror directory").WithContext("localRoot", cfg.LocalRoot).Build(), err)
	}
	writer := mirror.NewOsWriter(cfg.LocalRoot, p, mirror.Options{
		Exclude: cfg.Exclude,
		Logger:  logger,
	})

	opts := syncengine.Options{
		Interval: cfg.Interval(),
		Logger:   logger,
	}
	if endpoints := cfg.Reboot.Endpoints(); len(endpoints) > 0 {
		opts.Notifier = reboot.NewNotifier(reboot.NotifierOptions{
			Endpoints:  endpoints,
			PassPhrase: cfg.Reboot.PassPhrase,
			Timeout:    cfg.GetRebootTimeout(),
			Logger:     logger,
			Debug:      cc.debug,
		})
	}

	db, err := cc.openHistory(cfg)
	if err != nil {
		logger.Warn("Tick history disabled", logging.F("error", err.Error()))
	} else {
		defer func() { _ = db.Close() }()
		opts.Recorder = db
	}

	engine := syncengine.NewEngine(p, cc.cursorStore(cfg), writer, opts)
	return engine.Run(ctx)
}

func newStatusCommand(cc *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cursor and recent sync ticks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			out := cc.output()

			cursors := cc.cursorStore(cfg)
			view := statusView{
				Provider:  cfg.Provider,
				LocalRoot: cfg.LocalRoot,
				StateDir:  cfg.StateDir,
			}
			if cfg.Provider != "" {
				view.CursorFile = cursors.Path(cfg.Provider)
				view.CursorBytes = cursors.Size(cfg.Provider)

				db, err := cc.openHistory(cfg)
				if err != nil {
					out.AddWarning("HISTORY_UNAVAILABLE", err.Error(), "warning")
				} else {
					defer func() { _ = db.Close() }()
					view.Ticks, err = db.Recent(cmd.Context(), cfg.Provider, limit)
					if err != nil {
						return err
					}
				}
			}

			out.Log("Provider: %s  Mirror: %s  Cursor: %d bytes", view.Provider, view.LocalRoot, view.CursorBytes)
			return out.WriteSuccess("status", view)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", utils.DefaultHistoryLimit, "Number of ticks to show")
	return cmd
}

func newResetCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the sync cursor so the next run rebuilds the mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Provider == "" {
				return utils.NewAppError(utils.NewCLIError(utils.ErrCodeProviderMissing,
					"No provider configured").Build())
			}

			if err := cc.cursorStore(cfg).Reset(cfg.Provider); err != nil {
				return err
			}
			db, err := cc.openHistory(cfg)
			if err == nil {
				defer func() { _ = db.Close() }()
				err = db.Clear(cmd.Context(), cfg.Provider)
			}
			if err != nil {
				cc.logger.Warn("Failed to clear tick history", logging.F("error", err.Error()))
			}

			cc.logger.Info("Cursor reset", logging.F("provider", cfg.Provider))
			return cc.output().WriteSuccess("reset", map[string]interface{}{
				"provider": cfg.Provider,
				"reset":    true,
			})
		},
	}
}
