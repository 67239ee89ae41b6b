package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// NewClient returns an HTTP client for fetching feeds. Unless allowPrivate is
// set, the client refuses private, loopback and link-local destinations and
// any port other than 80 and 443; the check runs after DNS resolution.
func NewClient(timeout time.Duration, allowPrivate bool) *http.Client {
	if allowPrivate {
		return &http.Client{Timeout: timeout}
	}
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(cfg).Client
}
