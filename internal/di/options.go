package di

// CallbackURL is the externally reachable OAuth callback URL, injectable so
// server mode can derive it from the custom domain or local port.
type CallbackURL string

// DisableAuth switches the container to the NoOp authenticator.
type DisableAuth bool

// Option configures the container before providers are registered.
type Option func(*options)

type options struct {
	callbackURL CallbackURL
	disableAuth bool
	providers   []any
}

func WithCallbackURL(url string) Option {
	return func(opts *options) {
		opts.callbackURL = CallbackURL(url)
	}
}

func WithDisableAuth(disable bool) Option {
	return func(opts *options) {
		opts.disableAuth = disable
	}
}

// WithProviders registers additional constructors. Constructors declare their
// dependencies as parameters and dig resolves them on demand.
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}
