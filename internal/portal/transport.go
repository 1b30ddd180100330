package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config carries the session-layer settings. The caller maps these from the
// application config so this package stays free of config-file concerns.
type Config struct {
	// LoginURL is the identity-provider login form.
	LoginURL string
	// ProbeURL is a cheap authenticated page used by the activity monitor.
	ProbeURL string

	RequestTimeout      time.Duration
	MaxRetries          int
	MaxReconnectRetries int
	ActivityTimeout     time.Duration
	MonitorInterval     time.Duration

	Backoff Backoff

	// DefaultHeaders are applied to requests that do not already set them.
	DefaultHeaders map[string]string
}

// OutcomeKind classifies one transport exchange.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransient
	OutcomeAuthExpired
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeAuthExpired:
		return "auth-expired"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of a single HTTP exchange. Retry policy is
// a pure decision over this value; the transport never mutates session state.
type Outcome struct {
	Kind   OutcomeKind
	Status int
	Body   []byte
	Header http.Header
	Err    error
}

// Doer executes one classified HTTP call. The session manager depends on this
// interface so its recovery policy is testable without a network.
type Doer interface {
	Do(ctx context.Context, req *http.Request) Outcome
}

// Transport wraps an http.Client with outcome classification. Redirects are
// followed transparently; a request that lands on the login page is reported
// as AuthExpired regardless of HTTP status, because the portal signals expiry
// by content rather than status code.
type Transport struct {
	client   *http.Client
	loginURL *url.URL
	headers  map[string]string
}

func NewTransport(cfg Config) (*Transport, error) {
	loginURL, err := url.Parse(cfg.LoginURL)
	if err != nil {
		return nil, fmt.Errorf("parse login url: %w", err)
	}
	return &Transport{
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		loginURL: loginURL,
		headers:  cfg.DefaultHeaders,
	}, nil
}

type ctxKey int

const noRedirectKey ctxKey = iota

// WithoutRedirects marks requests built under ctx so the transport returns
// the first response instead of following redirects. Some endpoints deliver
// their session cookie on an intermediate 302 that auto-following would
// swallow.
func WithoutRedirects(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRedirectKey, true)
}

func (t *Transport) Do(ctx context.Context, req *http.Request) Outcome {
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	client := t.client
	if noRedirect, _ := req.Context().Value(noRedirectKey).(bool); noRedirect {
		c := *t.client
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &c
	}

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{Kind: OutcomeFatal, Err: ctxErr}
		}
		return Outcome{Kind: OutcomeTransient, Err: fmt.Errorf("%w: %v", ErrTransient, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Kind: OutcomeTransient, Err: fmt.Errorf("%w: read body: %v", ErrTransient, err)}
	}

	out := Outcome{Status: resp.StatusCode, Body: body, Header: resp.Header}
	switch {
	case t.isLoginPage(resp, body):
		out.Kind = OutcomeAuthExpired
		out.Err = ErrAuthExpired
	case resp.StatusCode >= 500:
		out.Kind = OutcomeTransient
		out.Err = fmt.Errorf("%w: upstream status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		out.Kind = OutcomeSuccess
	default:
		out.Kind = OutcomeFatal
		out.Err = fmt.Errorf("%w: status %d", ErrProtocol, resp.StatusCode)
	}
	return out
}

// isLoginPage reports whether the exchange ended on the identity provider's
// login form, either by final URL or by the CAS form markers in the body.
func (t *Transport) isLoginPage(resp *http.Response, body []byte) bool {
	if final := resp.Request.URL; final != nil {
		if final.Host == t.loginURL.Host && strings.HasPrefix(final.Path, t.loginURL.Path) {
			return true
		}
	}
	b := string(body)
	return strings.Contains(b, `name="execution"`) && strings.Contains(b, `name="lt"`)
}
