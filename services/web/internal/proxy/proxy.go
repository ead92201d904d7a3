// Package proxy forwards front-end script calls to the marketplace API with
// the session's access token attached.
package proxy

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	pkghttputil "github.com/TP-Master1-GL/TERRABIA/pkg/httputil"
	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
	"github.com/TP-Master1-GL/TERRABIA/pkg/middleware"
)

// TokenFunc returns the access token of the session behind r.
type TokenFunc func(r *http.Request) (string, bool)

// Config holds the upstream transport settings.
type Config struct {
	TargetURL       string
	Prefix          string
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	IdleTimeout     time.Duration
	MaxIdleConns    int
}

// APIProxy is a reverse proxy to the marketplace API. Browser cookies never
// leave this server; the bearer token comes from the session instead.
type APIProxy struct {
	proxy  *httputil.ReverseProxy
	prefix string
	token  TokenFunc
	logger *slog.Logger
}

// New creates the proxy. Prefix is stripped from the incoming path before it
// is joined to the target URL.
func New(cfg Config, token TokenFunc, log *slog.Logger) (*APIProxy, error) {
	target, err := url.Parse(cfg.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy target %q: %w", cfg.TargetURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("proxy target %q must be an absolute URL", cfg.TargetURL)
	}

	p := &APIProxy{
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
		token:  token,
		logger: log,
	}

	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = p.strip(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()

			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
			if tok, ok := p.token(pr.In); ok {
				pr.Out.Header.Set("Authorization", "Bearer "+tok)
			}
			if id := logger.CorrelationIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set(middleware.CorrelationHeader, id)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Del("Set-Cookie")
			return nil
		},
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          cfg.MaxIdleConns,
			IdleConnTimeout:       cfg.IdleTimeout,
			ResponseHeaderTimeout: cfg.ResponseTimeout,
		},
		ErrorHandler: p.errorHandler,
	}

	log.Info("registered API proxy",
		slog.String("prefix", p.prefix),
		slog.String("target", target.String()),
	)
	return p, nil
}

func (p *APIProxy) strip(path string) string {
	rest := strings.TrimPrefix(path, p.prefix)
	if rest == "" || rest[0] != '/' {
		rest = "/" + rest
	}
	return rest
}

// ServeHTTP forwards the request.
func (p *APIProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}

func (p *APIProxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	logger.WithContext(r.Context(), p.logger).ErrorContext(r.Context(), "proxy error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)

	pkghttputil.WriteJSON(w, http.StatusBadGateway, pkghttputil.Response{
		Error: &pkghttputil.ErrorResponse{
			Code:      "BAD_GATEWAY",
			Message:   "marketplace API unavailable",
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
	})
}
