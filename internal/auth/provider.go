package auth

import "net/url"

// Provider supplies the OIDC issuer details for API caller authentication.
type Provider interface {
	// GetIssuerURL returns the OIDC issuer URL used for endpoint discovery
	// and token verification.
	GetIssuerURL() string

	// GetLogoutURL returns the provider logout URL.
	// clientID: OAuth client identifier
	// returnTo: URL to redirect to after logout
	GetLogoutURL(clientID, returnTo string) string

	// GetProviderType returns the provider type identifier.
	GetProviderType() string
}

// OIDCProvider is a discovery-based provider. Any issuer with a standard
// /.well-known/openid-configuration works; the logout endpoint is optional.
type OIDCProvider struct {
	IssuerURL string
	// EndSessionURL, when set, receives client_id and post_logout_redirect_uri
	// query parameters on logout. When empty, logout just returns home.
	EndSessionURL string
}

func (p *OIDCProvider) GetIssuerURL() string {
	return p.IssuerURL
}

func (p *OIDCProvider) GetLogoutURL(clientID, returnTo string) string {
	if p.EndSessionURL == "" {
		return returnTo
	}
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("post_logout_redirect_uri", returnTo)
	return p.EndSessionURL + "?" + q.Encode()
}

func (p *OIDCProvider) GetProviderType() string {
	return "oidc"
}
