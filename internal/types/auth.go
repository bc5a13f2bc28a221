package types

import "time"

// AuthType identifies how credentials were issued
type AuthType string

const (
	AuthTypeOAuth AuthType = "oauth"
	// AuthTypeStatic tokens are used as-is and never refreshed.
	AuthTypeStatic AuthType = "static"
)

// Credentials are the tokens stored for one provider profile. The JSON form
// is what the credential store keeps.
type Credentials struct {
	Profile      string    `json:"profile"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiryDate   time.Time `json:"expiryDate,omitzero"`
	Scopes       []string  `json:"scopes,omitempty"`
	Type         AuthType  `json:"type"`
}

// Expired reports whether the access token is past its expiry at now.
// Tokens without an expiry never expire.
func (c *Credentials) Expired(now time.Time) bool {
	return !c.ExpiryDate.IsZero() && now.After(c.ExpiryDate)
}

// Refreshable reports whether a refresh token may be exchanged for a new access token
func (c *Credentials) Refreshable() bool {
	return c.RefreshToken != "" && c.Type != AuthTypeStatic
}
