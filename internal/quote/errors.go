package quote

import "errors"

// Error taxonomy for provider calls. Callers classify with errors.Is;
// wrapped messages carry the provider/symbol context.
var (
	// ErrAuth means token acquisition or validation failed after the
	// full refresh ladder. Terminal for the candidate on that provider.
	ErrAuth = errors.New("quote: authentication failed")

	// ErrRateLimited means the governor budget or the provider's own
	// quota is exhausted. Triggers fallback or candidate skip.
	ErrRateLimited = errors.New("quote: rate limited")

	// ErrProviderUnavailable covers network failures and 5xx responses.
	ErrProviderUnavailable = errors.New("quote: provider unavailable")

	// ErrMalformedResponse covers unexpected payload shapes.
	ErrMalformedResponse = errors.New("quote: malformed response")
)
