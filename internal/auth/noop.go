package auth

// NewNoOpAuthenticator returns an Authenticator that lets every request
// through. Local development only; never wire this up in a deployed
// environment. The nil providers double as the NoOp marker.
func NewNoOpAuthenticator() *Authenticator {
	return &Authenticator{}
}

// IsNoOp reports whether this authenticator bypasses authentication.
func (a *Authenticator) IsNoOp() bool {
	return a.oidcProvider == nil && a.oauthProvider == nil
}
