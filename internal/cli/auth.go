package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dl-alexandre/cloudmirror/internal/auth"
	"github.com/dl-alexandre/cloudmirror/internal/config"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/spf13/cobra"
)

var authProfiles = []string{auth.ProfileDropbox, auth.ProfileGoogleDrive}

func newAuthCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider credentials",
		Long: `Store, inspect and remove provider tokens.

Tokens are issued outside cloudmirror; 'auth set-token' stores them in the
system keyring or, when no keyring is available, in an encrypted file.`,
	}
	cmd.AddCommand(newAuthSetTokenCommand(cc))
	cmd.AddCommand(newAuthStatusCommand(cc))
	cmd.AddCommand(newAuthLogoutCommand(cc))
	return cmd
}

func newAuthSetTokenCommand(cc *commandContext) *cobra.Command {
	var (
		accessToken  string
		refreshToken string
		expiry       string
	)

	cmd := &cobra.Command{
		Use:       "set-token <dropbox|googledrive>",
		Short:     "Store an access token for a provider",
		Long:      "Store an access token (and optionally a refresh token) for a provider. The sync cursor of that provider is reset.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: authProfiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := parseProfile(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(accessToken) == "" {
				return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
					"--access-token is required").Build())
			}
			expiryDate, err := parseExpiry(expiry, time.Now())
			if err != nil {
				return err
			}

			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			mgr := cc.authManager()
			out := cc.output()
			if warning := mgr.Storage().Warning; warning != "" {
				out.Log("Warning: %s", warning)
			}

			creds := &types.Credentials{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
				ExpiryDate:   expiryDate,
				Type:         types.AuthTypeStatic,
			}
			if refreshToken != "" {
				creds.Type = types.AuthTypeOAuth
			}
			if profile == auth.ProfileGoogleDrive {
				creds.Scopes = utils.ScopesMirror
			}
			if err := mgr.SaveCredentials(profile, creds); err != nil {
				return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthInvalid,
					"Failed to store credentials").WithContext("profile", profile).Build(), err)
			}

			// New credentials may point at a different account.
			if err := cc.cursorStore(cfg).Reset(profile); err != nil {
				cc.logger.Warn("Failed to reset cursor", logging.F("error", err.Error()))
			}

			return out.WriteSuccess("auth.set-token", map[string]interface{}{
				"profile":        profile,
				"type":           string(creds.Type),
				"storageBackend": mgr.Storage().Backend,
				"cursorReset":    true,
			})
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token (required)")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token; needs the app key/secret or client id/secret in config")
	cmd.Flags().StringVar(&expiry, "expiry", "", "Token expiry as RFC3339 time or duration from now (e.g. 4h)")
	return cmd
}

func newAuthStatusCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [profile]",
		Short: "Show stored credentials",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles := authProfiles
			if len(args) == 1 {
				profile, err := parseProfile(args[0])
				if err != nil {
					return err
				}
				profiles = []string{profile}
			}

			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			mgr := cc.authManager()
			list := credentialList{Storage: mgr.Storage()}
			for _, profile := range profiles {
				list.Profiles = append(list.Profiles, describeCredentials(mgr, cfg, profile))
			}
			return cc.output().WriteSuccess("auth.status", list)
		},
	}
}

func newAuthLogoutCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <dropbox|googledrive>",
		Short: "Remove stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := parseProfile(args[0])
			if err != nil {
				return err
			}
			if _, err := cc.ensureConfig(); err != nil {
				return err
			}
			if err := cc.authManager().DeleteCredentials(profile); err != nil {
				return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
					fmt.Sprintf("No stored credentials for %s", profile)).Build(), err)
			}
			return cc.output().WriteSuccess("auth.logout", map[string]interface{}{
				"profile": profile,
				"removed": true,
			})
		},
	}
}

func describeCredentials(mgr *auth.Manager, cfg *config.Config, profile string) credentialView {
	view := credentialView{Profile: profile}
	creds, err := mgr.LoadCredentials(profile)
	if err != nil {
		return view
	}
	view.Type = string(creds.Type)
	if !creds.ExpiryDate.IsZero() {
		view.Expiry = creds.ExpiryDate.Format(time.RFC3339)
	}
	view.Expired = creds.Expired(time.Now())
	view.CanRefresh = creds.Refreshable() && hasOAuthClient(cfg, profile)
	view.Authenticated = !view.Expired || view.CanRefresh
	return view
}

func hasOAuthClient(cfg *config.Config, profile string) bool {
	switch profile {
	case auth.ProfileGoogleDrive:
		return cfg.GoogleDrive.ClientID != ""
	case auth.ProfileDropbox:
		return cfg.Dropbox.AppKey != ""
	}
	return false
}

func parseProfile(s string) (string, error) {
	profile := strings.ToLower(strings.TrimSpace(s))
	for _, p := range authProfiles {
		if p == profile {
			return p, nil
		}
	}
	return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
		fmt.Sprintf("unknown credential profile %q (want one of: %s)", s, strings.Join(authProfiles, ", "))).Build())
}

// parseExpiry accepts an RFC3339 timestamp or a duration relative to now
func parseExpiry(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(d), nil
	}
	return time.Time{}, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
		fmt.Sprintf("invalid --expiry %q: use RFC3339 or a positive duration", s)).Build())
}
