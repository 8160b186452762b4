// ABOUTME: Integrations document model: per-user credentials and OAuth state
// ABOUTME: Stored encrypted as one JSON blob, never persisted in the clear

package user

// Credential is one saved provider credential. Type distinguishes API keys
// from OAuth2 token sets; unused fields stay empty.
type Credential struct {
	ID           string   `json:"id"`
	Provider     string   `json:"provider"`
	Type         string   `json:"type"` // "api_key" | "oauth2"
	Title        string   `json:"title,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`
	AccessToken  string   `json:"access_token,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	ExpiresAt    *int64   `json:"expires_at,omitempty"`
}

// OAuthState is one in-flight OAuth authorization handshake.
type OAuthState struct {
	Token        string   `json:"token"`
	Provider     string   `json:"provider"`
	ExpiresAt    int64    `json:"expires_at"`
	CodeVerifier string   `json:"code_verifier,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// UserIntegrations is the secret-bearing document stored encrypted per user.
// A user who has never written one reads back the zero value.
type UserIntegrations struct {
	Credentials []Credential `json:"credentials"`
	OAuthStates []OAuthState `json:"oauth_states"`
}
