package remote

import (
	"net/http"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// translateStatus maps a terminal upstream HTTP status to the gateway
// error taxonomy. The rule is shared by every remote adapter: 401 means
// the forwarded credential was rejected, 404 means the addressed object
// does not exist, 409 means a name collision, and anything else is an
// opaque provider failure that keeps the upstream's message.
func translateStatus(status int, upstreamBody string) *provider.Error {
	switch status {
	case http.StatusUnauthorized:
		return provider.Errorf(provider.ErrInvalidCredentials,
			"provider rejected the supplied credential: %s", upstreamBody)
	case http.StatusNotFound:
		return provider.Errorf(provider.ErrNotFound, "provider reports no such resource: %s", upstreamBody)
	case http.StatusConflict:
		return provider.Errorf(provider.ErrFileExists, "provider reports a name collision: %s", upstreamBody)
	default:
		return provider.Errorf(provider.ErrProviderInteraction,
			"provider returned HTTP %d: %s", status, upstreamBody)
	}
}

// isRetryable reports whether the given HTTP status should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
