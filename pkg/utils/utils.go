package utils

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sigweihq/ebookpay/pkg/constants"
)

// CreateHTTPClientWithTimeouts builds a client for external services.
// Redirects are only followed when allowRedirects is set; clients carrying
// credentials should leave it off to prevent redirect-based SSRF.
func CreateHTTPClientWithTimeouts(timeout time.Duration, allowRedirects bool) *http.Client {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
			ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			ExpectContinueTimeout: constants.ExpectContinueTimeout,
		},
	}
	if !allowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// ValidateServiceURL validates that a service URL is secure
// Returns error if URL doesn't use HTTPS (except for localhost/127.0.0.1 for testing)
func ValidateServiceURL(service, url string) error {
	if !strings.HasPrefix(url, "https://") {
		// Allow http://localhost and http://127.0.0.1 for testing
		if strings.HasPrefix(url, "http://localhost") ||
			strings.HasPrefix(url, "http://127.0.0.1") ||
			strings.HasPrefix(url, "http://[::1]") {
			return nil
		}
		return fmt.Errorf("%s URL must use HTTPS: %s", service, url)
	}
	return nil
}
