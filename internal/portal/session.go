package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// State is the lifecycle state of one authenticated session.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateActive
	StateExpired
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Operation is one logical authenticated request. NewRequest is called for
// every attempt so replays after a reconnect get a fresh request body.
type Operation struct {
	Name       string
	NewRequest func(ctx context.Context) (*http.Request, error)
}

// CredentialSource resolves login credentials for a principal. The session
// layer never persists passwords; it asks for them per handshake.
type CredentialSource interface {
	Credentials(ctx context.Context, principal string) (Credentials, error)
}

// Info is a read-only snapshot of a session's health.
type Info struct {
	Principal      string
	State          State
	EstablishedAt  time.Time
	LastVerifiedAt time.Time
}

// Session owns the authenticated state for exactly one principal. All
// mutation happens here or in the activity monitor acting through Execute;
// nothing else touches session state.
type Session struct {
	principal string
	cfg       Config
	transport Doer
	auth      Authenticator
	creds     CredentialSource
	logger    *slog.Logger

	// sleep is the cancellable backoff wait, injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error

	// authMu excludes operations from an in-flight handshake. Operations
	// hold the read side; the handshake holds the write side, so
	// concurrent Execute calls wait for a running handshake instead of
	// starting a second one.
	authMu sync.RWMutex

	mu             sync.Mutex
	state          State
	token          *Token
	establishedAt  time.Time
	lastVerifiedAt time.Time

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

func newSession(principal string, cfg Config, transport Doer, auth Authenticator, creds CredentialSource, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		principal:  principal,
		cfg:        cfg,
		transport:  transport,
		auth:       auth,
		creds:      creds,
		logger:     logger,
		sleep:      sleepCtx,
		lifeCtx:    ctx,
		lifeCancel: cancel,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Session) Principal() string { return s.principal }

// Context is the session's lifetime context. Probes run under it so that an
// explicit logout cancels any outstanding probe.
func (s *Session) Context() context.Context { return s.lifeCtx }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Principal:      s.principal,
		State:          s.state,
		EstablishedAt:  s.establishedAt,
		LastVerifiedAt: s.lastVerifiedAt,
	}
}

// needsProbe reports whether the activity monitor should exercise this
// session: it is nominally active but has not been verified recently.
func (s *Session) needsProbe(activityTimeout time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive && now.Sub(s.lastVerifiedAt) > activityTimeout
}

// Execute runs op under a valid session and returns the response body.
func (s *Session) Execute(ctx context.Context, op Operation) ([]byte, error) {
	out, err := s.Do(ctx, op)
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Do runs op under a valid session: it logs in when needed, retries
// transient failures within the backoff budget, and re-authenticates on
// expiry within the distinct reconnect budget. The full outcome is returned
// for callers that need response headers.
func (s *Session) Do(ctx context.Context, op Operation) (Outcome, error) {
	if err := s.ensureActive(ctx); err != nil {
		return Outcome{}, err
	}

	transient := 0
	reconnects := 0
	for {
		out := s.attempt(ctx, op)
		switch out.Kind {
		case OutcomeSuccess:
			s.markVerified()
			return out, nil

		case OutcomeTransient:
			transient++
			if transient >= s.cfg.MaxRetries {
				s.logger.Warn("operation retries exhausted",
					"principal", s.principal, "op", op.Name, "attempts", transient)
				return Outcome{}, &RetriesExhaustedError{Op: op.Name, Attempts: transient, Last: out.Err}
			}
			if err := s.sleep(ctx, s.cfg.Backoff.Delay(transient)); err != nil {
				return Outcome{}, err
			}

		case OutcomeAuthExpired:
			s.setState(StateExpired)
			s.logger.Info("session expired upstream", "principal", s.principal, "op", op.Name)
			var err error
			reconnects, err = s.reconnect(ctx, reconnects)
			if err != nil {
				return Outcome{}, err
			}
			// Replay the same operation under the fresh session.

		case OutcomeFatal:
			if out.Err != nil && (errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded)) {
				return Outcome{}, out.Err
			}
			return Outcome{}, fmt.Errorf("%s: %w", op.Name, out.Err)
		}
	}
}

// attempt performs one transport exchange with the current token attached.
// It holds the read side of authMu so it never overlaps a handshake.
func (s *Session) attempt(ctx context.Context, op Operation) Outcome {
	s.authMu.RLock()
	defer s.authMu.RUnlock()

	req, err := op.NewRequest(ctx)
	if err != nil {
		return Outcome{Kind: OutcomeFatal, Err: fmt.Errorf("%w: build request: %v", ErrProtocol, err)}
	}
	for _, c := range s.cookies() {
		req.AddCookie(c)
	}
	return s.transport.Do(ctx, req)
}

func (s *Session) cookies() []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil
	}
	return s.token.Cookies
}

func (s *Session) ensureActive(ctx context.Context) error {
	if s.State() == StateActive {
		return nil
	}
	return s.login(ctx)
}

// reconnect re-runs the handshake after an expiry, consuming the reconnect
// budget. Each attempt pays a backoff delay on its own counter; a failed
// re-login is a different fault class from ordinary network flakiness.
func (s *Session) reconnect(ctx context.Context, used int) (int, error) {
	for {
		used++
		if used > s.cfg.MaxReconnectRetries {
			s.setState(StateFailed)
			return used, fmt.Errorf("principal %s: reconnect budget exhausted: %w", s.principal, ErrAuthenticationFailed)
		}
		if err := s.sleep(ctx, s.cfg.Backoff.Delay(used)); err != nil {
			return used, err
		}
		err := s.login(ctx)
		if err == nil {
			return used, nil
		}
		if ctx.Err() != nil {
			return used, ctx.Err()
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			// The provider rejected the stored credentials; more
			// reconnect attempts cannot help.
			s.setState(StateFailed)
			return used, err
		}
		s.logger.Warn("reconnect attempt failed",
			"principal", s.principal, "attempt", used, "error", err)
	}
}

// login performs the handshake. At most one handshake runs per principal;
// callers that race here wait on authMu and then observe the fresh state.
// Transient handshake failures are retried on a nested budget, independent
// of the reconnect counter.
func (s *Session) login(ctx context.Context) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	if s.State() == StateActive {
		// Another waiter completed the handshake while we blocked.
		return nil
	}
	s.setState(StateAuthenticating)

	creds, err := s.creds.Credentials(ctx, s.principal)
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("%w: credentials unavailable: %v", ErrAuthenticationFailed, err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		token, err := s.auth.Login(ctx, creds)
		if err == nil {
			s.installToken(token)
			s.logger.Info("login handshake complete", "principal", s.principal)
			return nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			break
		}
		if attempt < s.cfg.MaxRetries {
			if serr := s.sleep(ctx, s.cfg.Backoff.Delay(attempt)); serr != nil {
				s.setState(StateExpired)
				return serr
			}
		}
	}

	s.setState(StateExpired)
	if errors.Is(lastErr, ErrTransient) {
		return &RetriesExhaustedError{
			Op:       fmt.Sprintf("login handshake for %s", s.principal),
			Attempts: s.cfg.MaxRetries,
			Last:     lastErr,
		}
	}
	return fmt.Errorf("login handshake for %s: %w", s.principal, lastErr)
}

func (s *Session) installToken(token *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.state = StateActive
	s.establishedAt = token.EstablishedAt
	s.lastVerifiedAt = token.EstablishedAt
}

func (s *Session) markVerified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateActive
	s.lastVerifiedAt = time.Now()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// invalidate tears the session down and cancels everything running under its
// lifetime context, including outstanding monitor probes.
func (s *Session) invalidate() {
	s.lifeCancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateUnauthenticated
	s.token = nil
}

// Manager owns one Session per principal. Sessions are never shared or
// copied across principals.
type Manager struct {
	cfg       Config
	transport Doer
	auth      Authenticator
	creds     CredentialSource
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config, transport Doer, auth Authenticator, creds CredentialSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		transport: transport,
		auth:      auth,
		creds:     creds,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Session returns the principal's session, creating it unauthenticated if it
// does not exist yet. The first Execute pays the handshake.
func (m *Manager) Session(principal string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[principal]; ok {
		return s
	}
	s := newSession(principal, m.cfg, m.transport, m.auth, m.creds, m.logger)
	m.sessions[principal] = s
	return s
}

// Execute runs op under the principal's session.
func (m *Manager) Execute(ctx context.Context, principal string, op Operation) ([]byte, error) {
	return m.Session(principal).Execute(ctx, op)
}

// Do runs op under the principal's session, returning the full outcome.
func (m *Manager) Do(ctx context.Context, principal string, op Operation) (Outcome, error) {
	return m.Session(principal).Do(ctx, op)
}

// Sessions returns all live sessions, for the activity monitor sweep.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Logout invalidates and removes the principal's session.
func (m *Manager) Logout(principal string) {
	m.mu.Lock()
	s, ok := m.sessions[principal]
	delete(m.sessions, principal)
	m.mu.Unlock()
	if ok {
		s.invalidate()
		m.logger.Info("session invalidated", "principal", principal)
	}
}

// Probe exercises the principal's session with a lightweight authenticated
// request.
func (m *Manager) Probe(ctx context.Context, principal string) error {
	op := Operation{
		Name: "probe",
		NewRequest: func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ProbeURL, nil)
		},
	}
	_, err := m.Execute(ctx, principal, op)
	return err
}
