package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/dl-alexandre/cloudmirror/pkg/version"
	"github.com/spf13/cobra"
)

// GlobalFlags are the persistent flags shared by every command
type GlobalFlags struct {
	ConfigDir       string
	ConfigFile      string
	EnvFile         string
	OutputFormat    string
	JSON            bool
	Quiet           bool
	Verbose         bool
	Debug           bool
	LogFile         string
	CredentialStore string
}

func newRootCommand(cc *commandContext) *cobra.Command {
	flags := cc.flags

	rootCmd := &cobra.Command{
		Use:   "cloudmirror",
		Short: "Mirror a cloud storage folder into a local directory",
		Long: `cloudmirror polls a Dropbox, Google Drive or S3 folder and keeps a local
directory identical to it, so a content server can serve the local copy.

Run 'cloudmirror run -f 60' to sync every minute, or 'cloudmirror run' for a single pass.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cc.command = cmd.CommandPath()
			cc.outputSet = cmd.Flags().Changed("output") || flags.JSON
			return validateGlobalFlags(flags)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.ConfigDir, "config-dir", "", "Configuration directory (default $CLOUDMIRROR_CONFIG_DIR or ~/.config/cloudmirror)")
	pf.StringVar(&flags.ConfigFile, "config", "", "Path to configuration file")
	pf.StringVar(&flags.EnvFile, "env-file", "", "Path to .env file, '-' to skip")
	pf.StringVar(&flags.OutputFormat, "output", string(types.OutputFormatTable), "Output format (json, table)")
	pf.BoolVar(&flags.JSON, "json", false, "Output in JSON format (alias for --output json)")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose logging")
	pf.BoolVar(&flags.Debug, "debug", false, "Log every provider HTTP request")
	pf.StringVar(&flags.LogFile, "log-file", "", "Path to log file")
	pf.StringVar(&flags.CredentialStore, "credential-store", credentialStoreAuto, "Credential storage (auto, encrypted, plain)")

	rootCmd.AddCommand(newRunCommand(cc))
	rootCmd.AddCommand(newStatusCommand(cc))
	rootCmd.AddCommand(newResetCommand(cc))
	rootCmd.AddCommand(newAuthCommand(cc))
	rootCmd.AddCommand(newConfigCommand(cc))
	rootCmd.AddCommand(newServeCommand(cc))
	rootCmd.AddCommand(newVersionCommand(cc))
	return rootCmd
}

func newVersionCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.output().WriteSuccess("version", version.Get())
		},
	}
}

func validateGlobalFlags(flags *GlobalFlags) error {
	if flags.JSON {
		flags.OutputFormat = string(types.OutputFormatJSON)
	}
	switch types.OutputFormat(flags.OutputFormat) {
	case types.OutputFormatJSON, types.OutputFormatTable:
	default:
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid output format: %s", flags.OutputFormat)).Build())
	}
	switch flags.CredentialStore {
	case credentialStoreAuto, credentialStoreEncrypted, credentialStorePlain:
	default:
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid credential store: %s", flags.CredentialStore)).Build())
	}
	return nil
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes the command line in args. Errors are written to stderr as a
// JSON envelope and mapped onto exit codes.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cc := newCommandContext(stdout, stderr)
	defer cc.close()

	cmd := newRootCommand(cc)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return utils.ExitSuccess
	}

	command := cc.command
	if command == "" {
		command = "cloudmirror"
	}
	_ = cc.output().WriteError(command, toCLIError(err))
	return utils.ExitCodeFor(err)
}
