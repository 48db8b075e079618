package backend

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"
)

type API int8

const (
	AdminAPI API = iota + 1
	PortalAPI
)

func (a API) String() string {
	switch a {
	case AdminAPI:
		return "admin"
	case PortalAPI:
		return "portal"
	default:
		return "unknown"
	}
}

// TokenSource returns the bearer token of the current session, "" when there
// is none.
type TokenSource func(ctx context.Context) string

// Proxy forwards requests to api with the session's bearer token. Mount it
// behind http.StripPrefix. Any 401 answer runs the unauthorized hook before
// the response reaches the caller.
func (c *Client) Proxy(api API, tokens TokenSource) http.Handler {
	target := c.base(api)
	logger := c.logger.With(zap.Stringer("api", api))

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
			if t := tokens(pr.In.Context()); t != "" {
				pr.Out.Header.Set("Authorization", "Bearer "+t)
			}
		},
		ModifyResponse: func(res *http.Response) error {
			if res.StatusCode == http.StatusUnauthorized {
				logger.Info("backend rejected session token", zap.String("path", res.Request.URL.Path))
				if c.onUnauthorized != nil {
					c.onUnauthorized(res.Request.Context())
				}
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("proxy request failed", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}
}

func (c *Client) base(api API) *url.URL {
	if api == PortalAPI {
		return c.portal
	}
	return c.admin
}
