package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticCreds struct{}

func (staticCreds) Credentials(ctx context.Context, principal string) (Credentials, error) {
	return Credentials{Principal: principal, Password: "hunter2"}, nil
}

// scriptAuth returns canned login results in order, then keeps returning the
// last one.
type scriptAuth struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (a *scriptAuth) Login(ctx context.Context, creds Credentials) (*Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	var err error
	if len(a.results) > 0 {
		err = a.results[0]
		if len(a.results) > 1 {
			a.results = a.results[1:]
		}
	}
	if err != nil {
		return nil, err
	}
	return &Token{
		Value:         fmt.Sprintf("TKT-%d", a.calls),
		Cookies:       []*http.Cookie{{Name: "CASTGC", Value: fmt.Sprintf("TKT-%d", a.calls)}},
		EstablishedAt: time.Now(),
	}, nil
}

func (a *scriptAuth) loginCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// scriptDoer replays a fixed outcome sequence, then repeats the last entry.
type scriptDoer struct {
	mu       sync.Mutex
	outcomes []Outcome
	seen     []*http.Request
}

func (d *scriptDoer) Do(ctx context.Context, req *http.Request) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, req)
	out := d.outcomes[0]
	if len(d.outcomes) > 1 {
		d.outcomes = d.outcomes[1:]
	}
	return out
}

func (d *scriptDoer) requests() []*http.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*http.Request(nil), d.seen...)
}

func testConfig() Config {
	return Config{
		LoginURL:            "https://cas.example.edu/authserver/login",
		ProbeURL:            "https://portal.example.edu/home",
		RequestTimeout:      time.Second,
		MaxRetries:          3,
		MaxReconnectRetries: 2,
		ActivityTimeout:     10 * time.Minute,
		MonitorInterval:     time.Minute,
		Backoff:             Backoff{Base: time.Second, Max: 30 * time.Second, Factor: 2},
	}
}

// recordSleeps swaps the session's backoff wait for a recorder so tests run
// instantly and can assert the exact delay sequence.
func recordSleeps(s *Session) *[]time.Duration {
	var slept []time.Duration
	var mu sync.Mutex
	s.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	return &slept
}

func testOp() Operation {
	return Operation{
		Name: "fetch",
		NewRequest: func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, "https://portal.example.edu/data", nil)
		},
	}
}

func TestExecuteLazyLoginThenSuccess(t *testing.T) {
	auth := &scriptAuth{}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeSuccess, Status: 200, Body: []byte("hello")}}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)

	s := m.Session("alice")
	require.Equal(t, StateUnauthenticated, s.State())

	body, err := m.Execute(context.Background(), "alice", testOp())
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
	require.Equal(t, 1, auth.loginCalls())
	require.Equal(t, StateActive, s.State())

	// The session token rides along as a cookie.
	reqs := doer.requests()
	require.Len(t, reqs, 1)
	c, err := reqs[0].Cookie("CASTGC")
	require.NoError(t, err)
	require.Equal(t, "TKT-1", c.Value)
}

func TestExecuteRetriesTransientWithBackoff(t *testing.T) {
	auth := &scriptAuth{}
	doer := &scriptDoer{outcomes: []Outcome{
		{Kind: OutcomeTransient, Err: ErrTransient},
		{Kind: OutcomeTransient, Err: ErrTransient},
		{Kind: OutcomeSuccess, Status: 200, Body: []byte("ok")},
	}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)
	slept := recordSleeps(m.Session("alice"))

	body, err := m.Execute(context.Background(), "alice", testOp())
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *slept)
}

func TestExecuteExhaustsTransientBudget(t *testing.T) {
	auth := &scriptAuth{}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeTransient, Err: ErrTransient}}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)
	recordSleeps(m.Session("alice"))

	_, err := m.Execute(context.Background(), "alice", testOp())
	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, "fetch", exhausted.Op)
	require.Equal(t, 3, exhausted.Attempts)

	// Exhaustion fails the operation, not the session.
	require.Equal(t, StateActive, m.Session("alice").State())
}

func TestExecuteReconnectsOnExpiryAndReplays(t *testing.T) {
	auth := &scriptAuth{}
	doer := &scriptDoer{outcomes: []Outcome{
		{Kind: OutcomeAuthExpired, Status: 200, Err: ErrAuthExpired},
		{Kind: OutcomeSuccess, Status: 200, Body: []byte("replayed")},
	}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)
	s := m.Session("alice")
	recordSleeps(s)

	body, err := m.Execute(context.Background(), "alice", testOp())
	require.NoError(t, err)
	require.Equal(t, "replayed", string(body))
	require.Equal(t, 2, auth.loginCalls())
	require.Equal(t, StateActive, s.State())

	// The replay carries the fresh token, not the expired one.
	reqs := doer.requests()
	require.Len(t, reqs, 2)
	c, err := reqs[1].Cookie("CASTGC")
	require.NoError(t, err)
	require.Equal(t, "TKT-2", c.Value)
}

func TestExecuteReconnectBudgetExhaustedFailsSession(t *testing.T) {
	auth := &scriptAuth{results: []error{
		nil, // initial login
		fmt.Errorf("handshake: %w", ErrProtocol),
	}}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeAuthExpired, Err: ErrAuthExpired}}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)
	s := m.Session("alice")
	recordSleeps(s)

	_, err := m.Execute(context.Background(), "alice", testOp())
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.Equal(t, StateFailed, s.State())
}

func TestExecuteRejectedCredentialsFailFast(t *testing.T) {
	auth := &scriptAuth{results: []error{
		nil,
		fmt.Errorf("login rejected: %w", ErrAuthenticationFailed),
	}}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeAuthExpired, Err: ErrAuthExpired}}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)
	s := m.Session("alice")
	recordSleeps(s)

	_, err := m.Execute(context.Background(), "alice", testOp())
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.Equal(t, StateFailed, s.State())
	// The rejection short-circuits the remaining reconnect budget.
	require.Equal(t, 2, auth.loginCalls())
}

func TestLoginRetriesTransientHandshake(t *testing.T) {
	auth := &scriptAuth{results: []error{
		fmt.Errorf("cas unreachable: %w", ErrTransient),
		nil,
	}}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeSuccess, Status: 200, Body: []byte("ok")}}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)
	recordSleeps(m.Session("alice"))

	_, err := m.Execute(context.Background(), "alice", testOp())
	require.NoError(t, err)
	require.Equal(t, 2, auth.loginCalls())
}

func TestLoginTransientExhaustionReportsSpentBudget(t *testing.T) {
	auth := &scriptAuth{results: []error{
		fmt.Errorf("cas unreachable: %w", ErrTransient),
	}}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeSuccess, Status: 200, Body: []byte("ok")}}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)
	recordSleeps(m.Session("alice"))

	_, err := m.Execute(context.Background(), "alice", testOp())
	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.ErrorIs(t, err, ErrTransient)
	require.Equal(t, 3, auth.loginCalls())
	require.Equal(t, StateExpired, m.Session("alice").State())
}

func TestConcurrentExecuteSingleHandshake(t *testing.T) {
	auth := &scriptAuth{}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeSuccess, Status: 200, Body: []byte("ok")}}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)
	recordSleeps(m.Session("alice"))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Execute(context.Background(), "alice", testOp())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, auth.loginCalls())
}

func TestSessionsAreIsolatedPerPrincipal(t *testing.T) {
	auth := &scriptAuth{}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeSuccess, Status: 200, Body: []byte("ok")}}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)

	require.NotSame(t, m.Session("alice"), m.Session("bob"))
	require.Same(t, m.Session("alice"), m.Session("alice"))
}

func TestLogoutInvalidatesSession(t *testing.T) {
	auth := &scriptAuth{}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeSuccess, Status: 200, Body: []byte("ok")}}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)

	_, err := m.Execute(context.Background(), "alice", testOp())
	require.NoError(t, err)

	s := m.Session("alice")
	m.Logout("alice")

	require.Equal(t, StateUnauthenticated, s.State())
	require.Error(t, s.Context().Err())
	// A fresh Execute builds a new session and logs in again.
	_, err = m.Execute(context.Background(), "alice", testOp())
	require.NoError(t, err)
	require.Equal(t, 2, auth.loginCalls())
}

func TestExecutePropagatesContextCancellation(t *testing.T) {
	auth := &scriptAuth{}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeFatal, Err: context.Canceled}}}
	m := NewManager(testConfig(), doer, auth, staticCreds{}, nil)

	_, err := m.Execute(context.Background(), "alice", testOp())
	require.True(t, errors.Is(err, context.Canceled))
}

func TestMonitorSweepProbesStaleSessions(t *testing.T) {
	auth := &scriptAuth{}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeSuccess, Status: 200, Body: []byte("ok")}}}
	cfg := testConfig()
	m := NewManager(cfg, doer, auth, staticCreds{}, nil)

	_, err := m.Execute(context.Background(), "alice", testOp())
	require.NoError(t, err)

	s := m.Session("alice")
	mon := NewMonitor(m, cfg, nil)

	// Freshly verified: the sweep leaves it alone.
	before := len(doer.requests())
	mon.Sweep()
	require.Len(t, doer.requests(), before)

	// Age the session past the activity timeout and sweep again.
	s.mu.Lock()
	s.lastVerifiedAt = time.Now().Add(-cfg.ActivityTimeout - time.Minute)
	s.mu.Unlock()
	mon.Sweep()

	reqs := doer.requests()
	require.Len(t, reqs, before+1)
	require.Equal(t, cfg.ProbeURL, reqs[len(reqs)-1].URL.String())
	require.Equal(t, StateActive, s.State())
	require.WithinDuration(t, time.Now(), s.Info().LastVerifiedAt, time.Minute)
}

func TestMonitorSweepSkipsNonActiveSessions(t *testing.T) {
	auth := &scriptAuth{}
	doer := &scriptDoer{outcomes: []Outcome{{Kind: OutcomeSuccess, Status: 200}}}
	cfg := testConfig()
	m := NewManager(cfg, doer, auth, staticCreds{}, nil)

	// Never logged in: nothing to probe.
	m.Session("alice")
	mon := NewMonitor(m, cfg, nil)
	mon.Sweep()
	require.Empty(t, doer.requests())
	require.Equal(t, 0, auth.loginCalls())
}
