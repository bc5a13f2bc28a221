package cli

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dl-alexandre/cloudmirror/internal/auth"
	"github.com/dl-alexandre/cloudmirror/internal/config"
	"github.com/dl-alexandre/cloudmirror/internal/cursor"
	"github.com/dl-alexandre/cloudmirror/internal/history"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/spf13/afero"
)

const (
	credentialStoreAuto      = "auto"
	credentialStoreEncrypted = "encrypted"
	credentialStorePlain     = "plain"
)

// commandContext holds what commands share: flags, lazily loaded config,
// the logger and the output streams.
type commandContext struct {
	flags   *GlobalFlags
	stdout  io.Writer
	stderr  io.Writer
	fs      afero.Fs
	command string
	// outputSet is true when --output or --json was given explicitly.
	outputSet bool

	configOnce sync.Once
	config     *config.Config
	configDir  string
	configErr  error

	logger logging.Logger
	debug  *logging.DebugTransport
}

func newCommandContext(stdout, stderr io.Writer) *commandContext {
	return &commandContext{
		flags:  &GlobalFlags{},
		stdout: stdout,
		stderr: stderr,
		fs:     afero.NewOsFs(),
		logger: logging.NewNoOpLogger(),
	}
}

// ensureConfig loads the configuration once and sets up logging from it
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		dir := c.flags.ConfigDir
		if dir == "" {
			var err error
			dir, err = config.GetConfigDir()
			if err != nil {
				c.configErr = err
				return
			}
		}
		c.configDir = dir

		cfg, err := config.Load(config.LoadOptions{
			Fs:         c.fs,
			ConfigDir:  dir,
			ConfigFile: c.flags.ConfigFile,
			EnvFile:    c.flags.EnvFile,
		})
		if err != nil {
			c.configErr = err
			return
		}
		if !c.outputSet && cfg.OutputFormat != "" {
			c.flags.OutputFormat = string(cfg.OutputFormat)
		}
		if c.flags.LogFile != "" {
			cfg.LogFile = c.flags.LogFile
		}
		if err := c.setupLogger(cfg); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) setupLogger(cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logging.INFO
	}
	switch {
	case c.flags.Verbose:
		level = logging.DEBUG
	case c.flags.Quiet:
		level = logging.ERROR
	}

	logConfig := logging.DefaultLogConfig()
	logConfig.Level = level
	logConfig.OutputFile = cfg.LogFile
	logConfig.EnableDebug = c.flags.Debug
	logConfig.Fs = c.fs
	logConfig.ConsoleWriter = c.stderr

	logger, debug, err := logging.NewDebugLoggerWithTransport(logConfig)
	if err != nil {
		return err
	}
	c.logger = logger
	c.debug = debug
	return nil
}

func (c *commandContext) output() *config.OutputFormatter {
	return config.NewOutputFormatter(config.OutputOptions{
		Format:      types.OutputFormat(c.flags.OutputFormat),
		Quiet:       c.flags.Quiet,
		Verbose:     c.flags.Verbose,
		Writer:      c.stdout,
		ErrorWriter: c.stderr,
	})
}

func (c *commandContext) authManager() *auth.Manager {
	return auth.NewManagerWithOptions(c.configDir, auth.ManagerOptions{
		ForceEncryptedFile: c.flags.CredentialStore == credentialStoreEncrypted,
		ForcePlainFile:     c.flags.CredentialStore == credentialStorePlain,
		Fs:                 c.fs,
		Logger:             c.logger,
	})
}

func (c *commandContext) cursorStore(cfg *config.Config) *cursor.Store {
	return cursor.NewStore(c.fs, cfg.StateDir)
}

func (c *commandContext) openHistory(cfg *config.Config) (*history.DB, error) {
	return history.Open(filepath.Join(cfg.StateDir, history.FileName))
}

func (c *commandContext) close() {
	if c.logger != nil {
		_ = c.logger.Close()
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
