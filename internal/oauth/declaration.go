package oauth

// Declaration describes the OAuth endpoints a provider exposes. AuthorizeURL
// is only needed for the one-off authorization code bootstrap.
type Declaration struct {
	Provider     string
	AuthorizeURL string
	TokenURL     string
	Scope        string
}

// Credentials are the client credentials and the current refresh token as
// read from the persisted config.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}
