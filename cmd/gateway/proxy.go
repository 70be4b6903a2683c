package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	internalhttputil "github.com/finvault/gateway/internal/httputil"
	"github.com/finvault/gateway/internal/logging"
)

// newProxy builds the reverse proxy to the upstream platform service. By
// the time a request reaches it, the exchange middleware has replaced the
// API key with an internal bearer credential.
func newProxy(upstream string, logger *logging.Logger) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).
			Error("upstream request failed")
		internalhttputil.WriteErrorResponse(w, r, http.StatusBadGateway,
			"UPSTREAM_UNAVAILABLE", "upstream service unavailable", nil)
	}

	return proxy, nil
}
