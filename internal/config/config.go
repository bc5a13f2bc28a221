package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.yaml"
	// EnvFileName is loaded from the working directory before env overrides
	EnvFileName = ".env"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "CLOUDMIRROR_"
)

// Supported provider names
const (
	ProviderGoogleDrive = "googledrive"
	ProviderDropbox     = "dropbox"
	ProviderS3          = "s3"
)

// Config holds application configuration
type Config struct {
	// Provider selects the remote storage: googledrive, dropbox or s3.
	Provider string `yaml:"provider" json:"provider"`

	// LocalRoot is the mirror directory the content server reads from.
	LocalRoot string `yaml:"localRoot" json:"localRoot"`

	// StateDir holds cursor files and the sync history database.
	StateDir string `yaml:"stateDir" json:"stateDir"`

	// IntervalSeconds between ticks; 0 runs a single tick.
	IntervalSeconds int `yaml:"intervalSeconds" json:"intervalSeconds"`

	GoogleDrive GoogleDriveConfig `yaml:"googleDrive" json:"googleDrive"`
	Dropbox     DropboxConfig     `yaml:"dropbox" json:"dropbox"`
	S3          S3Config          `yaml:"s3" json:"s3"`
	Reboot      RebootConfig      `yaml:"reboot" json:"reboot"`

	// Exclude lists mirror paths the writer never touches.
	Exclude []string `yaml:"exclude" json:"exclude"`

	// MaxRetries is the maximum number of retries for API calls
	MaxRetries int `yaml:"maxRetries" json:"maxRetries"`

	// RetryBaseDelay is the base delay for exponential backoff in milliseconds
	RetryBaseDelay int `yaml:"retryBaseDelay" json:"retryBaseDelay"`

	// RequestTimeout is the per-request timeout in seconds
	RequestTimeout int `yaml:"requestTimeout" json:"requestTimeout"`

	// LogLevel sets the logging verbosity (quiet, normal, verbose, debug)
	LogLevel string `yaml:"logLevel" json:"logLevel"`

	// LogFile additionally writes JSON log lines to this path
	LogFile string `yaml:"logFile" json:"logFile"`

	OutputFormat types.OutputFormat `yaml:"outputFormat" json:"outputFormat"`

	// ContentCacheSize bounds the files held by the development server
	ContentCacheSize int `yaml:"contentCacheSize" json:"contentCacheSize"`
}

type GoogleDriveConfig struct {
	// Folder is a folder ID or folder name.
	Folder        string `yaml:"folder" json:"folder"`
	DriveID       string `yaml:"driveId" json:"driveId"`
	SkipUnchanged bool   `yaml:"skipUnchanged" json:"skipUnchanged"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	ClientSecret  string `yaml:"clientSecret" json:"-"`
}

type DropboxConfig struct {
	Root       string `yaml:"root" json:"root"`
	AppKey     string `yaml:"appKey" json:"appKey"`
	AppSecret  string `yaml:"appSecret" json:"-"`
	APIURL     string `yaml:"apiURL" json:"apiURL,omitempty"`
	ContentURL string `yaml:"contentURL" json:"contentURL,omitempty"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket" json:"bucket"`
	Prefix       string `yaml:"prefix" json:"prefix"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint" json:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"usePathStyle" json:"usePathStyle"`
}

// RebootConfig describes the content servers told to drop their caches
type RebootConfig struct {
	SiteURL string `yaml:"siteURL" json:"siteURL"`
	// SiteProxies replaces SiteURL when set.
	SiteProxies    []string `yaml:"siteProxies" json:"siteProxies"`
	PassPhrase     string   `yaml:"passPhrase" json:"-"`
	TimeoutSeconds int      `yaml:"timeoutSeconds" json:"timeoutSeconds"`
}

// Endpoints returns the base URLs to notify
func (r RebootConfig) Endpoints() []string {
	var out []string
	for _, p := range r.SiteProxies {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 && strings.TrimSpace(r.SiteURL) != "" {
		out = append(out, strings.TrimSpace(r.SiteURL))
	}
	return out
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       utils.DefaultMaxRetries,
		RetryBaseDelay:   utils.DefaultRetryDelayMs,
		RequestTimeout:   utils.DefaultRequestTimeoutSeconds,
		LogLevel:         "normal",
		OutputFormat:     types.OutputFormatTable,
		ContentCacheSize: utils.DefaultContentCacheSize,
		Reboot: RebootConfig{
			TimeoutSeconds: utils.DefaultRebootTimeoutSeconds,
		},
	}
}

// LoadOptions controls where Load reads from
type LoadOptions struct {
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// ConfigDir defaults to GetConfigDir().
	ConfigDir string
	// ConfigFile overrides <ConfigDir>/config.yaml.
	ConfigFile string
	// EnvFile defaults to .env in the working directory; "-" disables it.
	EnvFile string
}

// Load loads configuration with precedence: env vars > .env file > config file > defaults.
// CLI flags are applied by the caller, which then calls Validate.
func Load(opts LoadOptions) (*Config, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.ConfigDir == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return nil, err
		}
		opts.ConfigDir = dir
	}
	if opts.ConfigFile == "" {
		opts.ConfigFile = filepath.Join(opts.ConfigDir, ConfigFileName)
	}
	if opts.EnvFile == "" {
		opts.EnvFile = EnvFileName
	}

	cfg := DefaultConfig()

	if err := cfg.loadFromFile(opts.Fs, opts.ConfigFile); err != nil {
		if !os.IsNotExist(err) {
			return nil, configError(fmt.Sprintf("failed to load config file %s", opts.ConfigFile), err)
		}
	}

	if opts.EnvFile != "-" {
		if err := loadEnvFile(opts.Fs, opts.EnvFile); err != nil && !os.IsNotExist(err) {
			return nil, configError(fmt.Sprintf("failed to load %s", opts.EnvFile), err)
		}
	}

	cfg.loadFromEnv()

	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(opts.ConfigDir, "state")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// loadEnvFile exports the variables of a dotenv file that are not already set
func loadEnvFile(fs afero.Fs, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	values, err := godotenv.Parse(bufio.NewReader(f))
	if err != nil {
		return err
	}
	for k, v := range values {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	setString(&c.Provider, "PROVIDER")
	setString(&c.LocalRoot, "LOCAL_ROOT")
	setString(&c.StateDir, "STATE_DIR")
	setInt(&c.IntervalSeconds, "INTERVAL")

	setString(&c.GoogleDrive.Folder, "GDRIVE_FOLDER")
	setString(&c.GoogleDrive.DriveID, "GDRIVE_DRIVE_ID")
	setBool(&c.GoogleDrive.SkipUnchanged, "GDRIVE_SKIP_UNCHANGED")
	setString(&c.GoogleDrive.ClientID, "GDRIVE_CLIENT_ID")
	setString(&c.GoogleDrive.ClientSecret, "GDRIVE_CLIENT_SECRET")

	setString(&c.Dropbox.Root, "DROPBOX_ROOT")
	setString(&c.Dropbox.AppKey, "DROPBOX_APP_KEY")
	setString(&c.Dropbox.AppSecret, "DROPBOX_APP_SECRET")

	setString(&c.S3.Bucket, "S3_BUCKET")
	setString(&c.S3.Prefix, "S3_PREFIX")
	setString(&c.S3.Region, "S3_REGION")
	setString(&c.S3.Endpoint, "S3_ENDPOINT")
	setBool(&c.S3.UsePathStyle, "S3_USE_PATH_STYLE")

	setString(&c.Reboot.SiteURL, "SITE_URL")
	setList(&c.Reboot.SiteProxies, "SITE_PROXIES")
	setString(&c.Reboot.PassPhrase, "PASS_PHRASE")
	setInt(&c.Reboot.TimeoutSeconds, "REBOOT_TIMEOUT")

	setList(&c.Exclude, "EXCLUDE")
	setInt(&c.MaxRetries, "MAX_RETRIES")
	setInt(&c.RetryBaseDelay, "RETRY_BASE_DELAY")
	setInt(&c.RequestTimeout, "REQUEST_TIMEOUT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFile, "LOG_FILE")
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.OutputFormat = types.OutputFormat(v)
	}
	setInt(&c.ContentCacheSize, "CONTENT_CACHE_SIZE")
}

func setString(dst *string, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = parseBool(v)
	}
}

func setList(dst *[]string, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}

// Validate checks settings every command depends on
func (c *Config) Validate() error {
	if c.OutputFormat != types.OutputFormatJSON && c.OutputFormat != types.OutputFormatTable {
		return configError(fmt.Sprintf("invalid output format: %s (must be 'json' or 'table')", c.OutputFormat), nil)
	}
	if c.IntervalSeconds < 0 {
		return configError(fmt.Sprintf("interval must be non-negative, got: %d", c.IntervalSeconds), nil)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return configError(fmt.Sprintf("max retries must be between 0 and 10, got: %d", c.MaxRetries), nil)
	}
	if c.RetryBaseDelay < 100 || c.RetryBaseDelay > 60000 {
		return configError(fmt.Sprintf("retry base delay must be between 100ms and 60000ms, got: %d", c.RetryBaseDelay), nil)
	}
	if c.RequestTimeout < 1 || c.RequestTimeout > 3600 {
		return configError(fmt.Sprintf("request timeout must be between 1 and 3600 seconds, got: %d", c.RequestTimeout), nil)
	}
	if c.Reboot.TimeoutSeconds < 1 {
		return configError(fmt.Sprintf("reboot timeout must be positive, got: %d", c.Reboot.TimeoutSeconds), nil)
	}
	if c.ContentCacheSize < 1 {
		return configError(fmt.Sprintf("content cache size must be positive, got: %d", c.ContentCacheSize), nil)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return configError(err.Error(), nil)
	}
	return nil
}

// ValidateForSync checks the settings a sync run needs. A missing or unknown
// provider is PROVIDER_MISSING; anything else wrong is CONFIG_INVALID.
func (c *Config) ValidateForSync() error {
	switch c.Provider {
	case ProviderGoogleDrive:
		if strings.TrimSpace(c.GoogleDrive.Folder) == "" {
			return configError("googleDrive.folder is required for the googledrive provider", nil)
		}
	case ProviderDropbox:
	case ProviderS3:
		if strings.TrimSpace(c.S3.Bucket) == "" {
			return configError("s3.bucket is required for the s3 provider", nil)
		}
	case "":
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeProviderMissing,
			"No provider configured. Set 'provider' to googledrive, dropbox or s3.").Build())
	default:
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeProviderMissing,
			fmt.Sprintf("Unknown provider %q (must be googledrive, dropbox or s3)", c.Provider)).
			WithContext("provider", c.Provider).
			Build())
	}
	if strings.TrimSpace(c.LocalRoot) == "" {
		return configError("localRoot is required", nil)
	}
	if len(c.Reboot.Endpoints()) > 0 && c.Reboot.PassPhrase == "" {
		return configError("reboot.passPhrase is required when a site URL is configured", nil)
	}
	return nil
}

func configError(msg string, cause error) error {
	cliErr := utils.NewCLIError(utils.ErrCodeConfigInvalid, msg).Build()
	if cause != nil {
		return utils.WrapAppError(cliErr, cause)
	}
	return utils.NewAppError(cliErr)
}

// Interval returns the polling interval as a duration
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// GetRetryBaseDelay returns the retry base delay as a duration
func (c *Config) GetRetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetRebootTimeout returns the notifier timeout as a duration
func (c *Config) GetRebootTimeout() time.Duration {
	return time.Duration(c.Reboot.TimeoutSeconds) * time.Second
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "cloudmirror"), nil
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
