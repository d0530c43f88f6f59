package ports

import (
	"net/http"
)

// HTTPClient issues outbound requests for the forwarding engine. Transport
// errors surface unwrapped so the engine can apply its retry and breaker
// policy.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
