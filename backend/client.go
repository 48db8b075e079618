// Package backend talks to the AML admin and portal REST APIs on behalf of
// the console session.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const DefaultLoginPath = "/users/login"

var ErrUnavailable = errors.New("backend: auth API unavailable")

type Config struct {
	AdminURL  string        `json:"adminUrl,omitempty" yaml:"adminUrl,omitempty" koanf:"adminUrl" validate:"required,url"`
	PortalURL string        `json:"portalUrl,omitempty" yaml:"portalUrl,omitempty" koanf:"portalUrl" validate:"required,url"`
	LoginPath string        `json:"loginPath,omitempty" yaml:"loginPath,omitempty" koanf:"loginPath" validate:"omitempty,startswith=/"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" koanf:"timeout"`
}

type User struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// APIError is a non-2xx answer of the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("backend: %d %s", e.Status, e.Message)
}

// Unauthorized reports whether err is a 401 answer.
func Unauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUnauthorizedHandler sets the hook run whenever a proxied call is
// answered with 401.
func WithUnauthorizedHandler(fn func(context.Context)) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

type Client struct {
	admin          *url.URL
	portal         *url.URL
	loginPath      string
	http           *http.Client
	logger         *zap.Logger
	breaker        *gobreaker.CircuitBreaker[*LoginResponse]
	onUnauthorized func(context.Context)
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	admin, err := parseBase(cfg.AdminURL)
	if err != nil {
		return nil, fmt.Errorf("backend: admin url: %w", err)
	}
	portal, err := parseBase(cfg.PortalURL)
	if err != nil {
		return nil, fmt.Errorf("backend: portal url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}

	c := &Client{
		admin:     admin,
		portal:    portal,
		loginPath: loginPath,
		http:      &http.Client{Timeout: timeout},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("backend")

	c.breaker = gobreaker.NewCircuitBreaker[*LoginResponse](gobreaker.Settings{
		Name:        "auth-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejected credentials are answers, not outages.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return c, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute url", raw)
	}
	return u, nil
}

// Login exchanges credentials for a bearer token. A 401 here means bad
// credentials and does not trigger the unauthorized hook.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	resp, err := c.breaker.Execute(func() (*LoginResponse, error) {
		return c.login(ctx, username, password)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return resp, err
}

func (c *Client) login(ctx context.Context, username, password string) (*LoginResponse, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}

	endpoint := c.admin.JoinPath(c.loginPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: login request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("backend: read login response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, apiError(res.StatusCode, data)
	}

	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("backend: decode login response: %w", err)
	}
	if out.Token == "" {
		return nil, &APIError{Status: http.StatusBadGateway, Message: "login response carries no token"}
	}
	return &out, nil
}

func apiError(status int, body []byte) *APIError {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return &APIError{Status: status, Message: payload.Message}
		}
		if payload.Error != "" {
			return &APIError{Status: status, Message: payload.Error}
		}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
}
