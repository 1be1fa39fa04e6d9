package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/conveyorhq/conveyor/internal/authz"
)

const (
	sessionName = "auth-session"
	stateKey    = "state"
	profileKey  = "profile" // full profile JSON
	tokenKey    = "access_token"
)

// Authenticator runs the OIDC authorization-code flow and maintains the
// cookie session the API middleware checks.
type Authenticator struct {
	oidcProvider  *oidc.Provider
	oauthProvider Provider
	oauth2Config  oauth2.Config
	sessionStore  *sessions.CookieStore
	callbackURL   string
	authorizer    *authz.Authorizer // nil means no allow-list enforcement
}

// Profile is the identity stored in the session after a successful login.
type Profile struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type AuthenticatorInput struct {
	Provider     Provider
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Authorizer   *authz.Authorizer
	SessionKeys  [][]byte
	IsLocalDev   bool // drops the Secure cookie flag for http://localhost
}

func NewAuthenticator(ctx context.Context, input AuthenticatorInput) (*Authenticator, error) {
	logger := zerolog.Ctx(ctx)

	issuerURL := input.Provider.GetIssuerURL()
	logger.Info().Str("issuer_url", issuerURL).Msg("Discovering OIDC provider")

	oidcProvider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed for %s: %w", issuerURL, err)
	}

	// gorilla/sessions signs with the first key and verifies against all of
	// them, so rotated keys keep existing cookies valid until they expire.
	sessionKeys := input.SessionKeys
	if len(sessionKeys) == 0 {
		logger.Warn().Msg("No session keys provided, generating ephemeral fallback key")
		fallbackKey := make([]byte, 32)
		if _, err := rand.Read(fallbackKey); err != nil {
			return nil, fmt.Errorf("failed to generate fallback session key: %w", err)
		}
		sessionKeys = [][]byte{fallbackKey}
	}

	sessionStore := sessions.NewCookieStore(sessionKeys...)
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   !input.IsLocalDev,
		SameSite: http.SameSiteLaxMode,
	}

	logger.Info().Int("session_key_count", len(sessionKeys)).Msg("Authenticator ready")

	return &Authenticator{
		oidcProvider:  oidcProvider,
		oauthProvider: input.Provider,
		sessionStore:  sessionStore,
		callbackURL:   input.CallbackURL,
		authorizer:    input.Authorizer,
		oauth2Config: oauth2.Config{
			ClientID:     input.ClientID,
			ClientSecret: input.ClientSecret,
			RedirectURL:  input.CallbackURL,
			Endpoint:     oidcProvider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// generateState creates the CSRF state nonce for the auth redirect.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HandleLogin starts the authorization-code flow.
func (a *Authenticator) HandleLogin(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if a.IsNoOp() {
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	state, err := generateState()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate state")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Decrypt errors are ignored here: this is the entry point, so an
	// invalid or expired cookie just means a fresh session.
	session, _ := a.sessionStore.Get(r, sessionName)
	session.Values[stateKey] = state
	if err := session.Save(r, w); err != nil {
		logger.Error().Err(err).Msg("Failed to save session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the flow: verifies state, exchanges the code,
// verifies the ID token, applies the allow-list, and establishes the session.
func (a *Authenticator) HandleCallback(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if a.IsNoOp() {
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	session, err := a.sessionStore.Get(r, sessionName)
	if err != nil {
		logger.Warn().Str("error", err.Error()).Msg("Bad session cookie in callback, restarting login")
		http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
		return
	}

	storedState, ok := session.Values[stateKey].(string)
	if !ok || storedState == "" || r.URL.Query().Get("state") != storedState {
		logger.Error().Msg("State missing or mismatched in callback")
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		logger.Error().Msg("Code not found in callback")
		http.Error(w, "Code not found", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), code)
	if err != nil {
		logger.Error().Err(err).Msg("Code exchange failed")
		http.Error(w, "Failed to exchange token", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		logger.Error().Msg("Token response carried no id_token")
		http.Error(w, "No id_token", http.StatusInternalServerError)
		return
	}

	verifier := a.oidcProvider.Verifier(&oidc.Config{ClientID: a.oauth2Config.ClientID})
	idToken, err := verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		logger.Error().Err(err).Msg("ID token verification failed")
		http.Error(w, "Failed to verify token", http.StatusInternalServerError)
		return
	}

	var profile Profile
	if err := idToken.Claims(&profile); err != nil {
		logger.Error().Err(err).Msg("Failed to extract claims")
		http.Error(w, "Failed to extract profile", http.StatusInternalServerError)
		return
	}

	if a.authorizer != nil {
		err := a.authorizer.Authorize(authz.Profile{
			Sub:   profile.Sub,
			Name:  profile.Name,
			Email: profile.Email,
		})
		if err != nil {
			logger.Warn().
				Str("sub", profile.Sub).
				Str("email", profile.Email).
				Err(err).
				Msg("Caller not on the allow list")
			http.Error(w, fmt.Sprintf("Access denied: %v", err), http.StatusForbidden)
			return
		}
	}

	profileJSON, err := json.Marshal(profile)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal profile")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	session.Values[profileKey] = string(profileJSON)
	session.Values[tokenKey] = token.AccessToken
	delete(session.Values, stateKey)

	if err := session.Save(r, w); err != nil {
		logger.Error().Err(err).Msg("Failed to save session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	logger.Info().Str("sub", profile.Sub).Msg("Caller authenticated")
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// HandleLogout drops the session and sends the caller to the issuer's
// end-session endpoint when the provider has one.
func (a *Authenticator) HandleLogout(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if a.IsNoOp() {
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	session, _ := a.sessionStore.Get(r, sessionName)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		logger.Error().Err(err).Msg("Failed to clear session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	callbackURL, err := url.Parse(a.callbackURL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to parse callback URL")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	returnTo := fmt.Sprintf("%s://%s", callbackURL.Scheme, callbackURL.Host)

	http.Redirect(w, r, a.oauthProvider.GetLogoutURL(a.oauth2Config.ClientID, returnTo), http.StatusTemporaryRedirect)
}
