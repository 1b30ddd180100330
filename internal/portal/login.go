package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Credentials identify one principal against the identity provider. The
// password lives here only for the duration of a handshake; persistence and
// sealing are the credential source's concern.
type Credentials struct {
	Principal string
	Password  string
}

// Token is the session credential produced by a successful handshake. Value
// is the cookie extracted from the redirect chain; Cookies carries every
// cookie observed along the chain, all of which are replayed on subsequent
// requests.
type Token struct {
	Value         string
	Cookies       []*http.Cookie
	EstablishedAt time.Time
}

// Authenticator performs the login handshake for one set of credentials.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (*Token, error)
}

const maxLoginRedirects = 10

var (
	ltPattern        = regexp.MustCompile(`<input[^>]+name="lt"[^>]+value="([^"]*)"`)
	executionPattern = regexp.MustCompile(`<input[^>]+name="execution"[^>]+value="([^"]*)"`)
	tipMsgPattern    = regexp.MustCompile(`(?s)<div[^>]+id="tipMsg"[^>]*>(.*?)</div>`)
)

// CASAuthenticator drives the university's CAS-style login flow: fetch the
// form, encrypt the password with the form's `lt` token, submit, then walk
// the redirect chain by hand. The chain must be walked manually because the
// session cookie is set by an intermediate hop, not the final response.
type CASAuthenticator struct {
	client   *http.Client
	loginURL string
	headers  map[string]string
	now      func() time.Time
}

func NewCASAuthenticator(cfg Config) *CASAuthenticator {
	return &CASAuthenticator{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		loginURL: cfg.LoginURL,
		headers:  cfg.DefaultHeaders,
		now:      time.Now,
	}
}

func (a *CASAuthenticator) Login(ctx context.Context, creds Credentials) (*Token, error) {
	page, err := a.fetchLoginPage(ctx)
	if err != nil {
		return nil, err
	}

	lt := firstMatch(ltPattern, page)
	execution := firstMatch(executionPattern, page)
	if lt == "" || execution == "" {
		return nil, fmt.Errorf("login form tokens missing: %w", ErrProtocol)
	}

	encrypted, err := EncryptPassword(creds.Password, lt)
	if err != nil {
		return nil, fmt.Errorf("encrypt password: %w", err)
	}

	form := url.Values{
		"username":      {creds.Principal},
		"password":      {encrypted},
		"lt":            {lt},
		"execution":     {execution},
		"_eventId":      {"submit"},
		"isQrSubmit":    {"false"},
		"qrValue":       {""},
		"isMobileLogin": {"false"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	a.applyHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", a.loginURL)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: submit login: %v", ErrTransient, err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		// The provider re-renders the form with an error box on bad
		// credentials; no redirect means rejection.
		if msg := strings.TrimSpace(firstMatch(tipMsgPattern, body)); msg != "" {
			return nil, fmt.Errorf("%w: %s", ErrAuthenticationFailed, msg)
		}
		return nil, fmt.Errorf("%w: login not accepted (status %d)", ErrAuthenticationFailed, resp.StatusCode)
	}

	return a.followRedirects(ctx, resp)
}

func (a *CASAuthenticator) fetchLoginPage(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.loginURL, nil)
	if err != nil {
		return "", err
	}
	a.applyHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: fetch login page: %v", ErrTransient, err)
	}
	body, err := readBody(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: login page status %d", ErrTransient, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: login page status %d", ErrProtocol, resp.StatusCode)
	}
	return body, nil
}

// followRedirects walks the redirect chain from the login response,
// collecting cookies from every hop. The session token is the first cookie
// observed anywhere in the chain; the final response deliberately does not
// carry it.
func (a *CASAuthenticator) followRedirects(ctx context.Context, resp *http.Response) (*Token, error) {
	token := &Token{EstablishedAt: a.now()}
	collect := func(r *http.Response) {
		for _, c := range r.Cookies() {
			if token.Value == "" {
				token.Value = c.Value
			}
			token.Cookies = append(token.Cookies, c)
		}
	}
	collect(resp)

	current := resp
	for hop := 0; hop < maxLoginRedirects; hop++ {
		if current.StatusCode < 300 || current.StatusCode >= 400 {
			break
		}
		location := current.Header.Get("Location")
		if location == "" {
			break
		}
		next, err := current.Request.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: bad redirect %q", ErrProtocol, location)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next.String(), nil)
		if err != nil {
			return nil, err
		}
		a.applyHeaders(req)
		for _, c := range token.Cookies {
			req.AddCookie(c)
		}

		current, err = a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: follow redirect: %v", ErrTransient, err)
		}
		if _, err := readBody(current); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		collect(current)
	}

	if token.Value == "" {
		return nil, fmt.Errorf("%w: no session cookie in redirect chain", ErrProtocol)
	}
	return token, nil
}

func (a *CASAuthenticator) applyHeaders(req *http.Request) {
	for k, v := range a.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
}

func readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}

func firstMatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return ""
}
