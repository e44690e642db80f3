package turn

import "github.com/blackmanai/ted/internal/provider"

// FromProviderError maps a provider.ClassifiedError onto the turn
// engine's own error taxonomy, so the rest of the loop only ever
// branches on turn.Kind rather than reaching back into provider
// internals.
func FromProviderError(ce *provider.ClassifiedError) *Error {
	if ce == nil {
		return nil
	}
	kind := KindTransport
	switch ce.Type {
	case provider.ErrorTypeContextOverflow:
		kind = KindContextTooLong
	case provider.ErrorTypeRateLimit:
		kind = KindRateLimited
	case provider.ErrorTypeAPIError:
		kind = KindServerError
	case provider.ErrorTypeTimeout:
		kind = KindTransport
	case provider.ErrorTypeAuth, provider.ErrorTypeNotFound:
		kind = KindServerError
	}
	return &Error{Kind: kind, Message: ce.Message, Cause: ce}
}
