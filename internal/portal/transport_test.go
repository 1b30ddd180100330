package portal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, loginURL string) *Transport {
	t.Helper()
	tr, err := NewTransport(Config{
		LoginURL:       loginURL,
		RequestTimeout: 5 * time.Second,
		DefaultHeaders: map[string]string{"User-Agent": "loveace-test"},
	})
	require.NoError(t, err)
	return tr
}

func TestTransportClassifiesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "loveace-test", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := newTestTransport(t, "https://cas.example.edu/authserver/login")
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	out := tr.Do(context.Background(), req)

	require.Equal(t, OutcomeSuccess, out.Kind)
	require.Equal(t, http.StatusOK, out.Status)
	require.JSONEq(t, `{"ok":true}`, string(out.Body))
	require.NoError(t, out.Err)
}

func TestTransportClassifiesServerErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := newTestTransport(t, "https://cas.example.edu/authserver/login")
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	out := tr.Do(context.Background(), req)

	require.Equal(t, OutcomeTransient, out.Kind)
	require.ErrorIs(t, out.Err, ErrTransient)
}

func TestTransportClassifiesConnectErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	tr := newTestTransport(t, "https://cas.example.edu/authserver/login")
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	out := tr.Do(context.Background(), req)

	require.Equal(t, OutcomeTransient, out.Kind)
	require.ErrorIs(t, out.Err, ErrTransient)
}

func TestTransportDetectsLoginPageByBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A 200 that is actually the CAS form means the session expired.
		w.Write([]byte(`<form id="casLoginForm">
			<input type="hidden" name="lt" value="LT-1234"/>
			<input type="hidden" name="execution" value="e1s1"/>
		</form>`))
	}))
	defer srv.Close()

	tr := newTestTransport(t, "https://cas.example.edu/authserver/login")
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	out := tr.Do(context.Background(), req)

	require.Equal(t, OutcomeAuthExpired, out.Kind)
	require.ErrorIs(t, out.Err, ErrAuthExpired)
}

func TestTransportDetectsLoginPageByFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/portal/data", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/authserver/login?service=portal", http.StatusFound)
	})
	mux.HandleFunc("/authserver/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("please sign in"))
	})

	tr := newTestTransport(t, srv.URL+"/authserver/login")
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/portal/data", nil)
	out := tr.Do(context.Background(), req)

	require.Equal(t, OutcomeAuthExpired, out.Kind)
}

func TestTransportClassifiesClientErrorFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	tr := newTestTransport(t, "https://cas.example.edu/authserver/login")
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	out := tr.Do(context.Background(), req)

	require.Equal(t, OutcomeFatal, out.Kind)
	require.ErrorIs(t, out.Err, ErrProtocol)
}

func TestTransportWithoutRedirectsReturnsFirstResponse(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/go", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc123"})
		http.Redirect(w, r, "/home", http.StatusFound)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("home"))
	})

	tr := newTestTransport(t, "https://cas.example.edu/authserver/login")
	ctx := WithoutRedirects(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/go", nil)
	out := tr.Do(ctx, req)

	require.Equal(t, OutcomeSuccess, out.Kind)
	require.Equal(t, http.StatusFound, out.Status)
	require.Contains(t, out.Header.Get("Set-Cookie"), "JSESSIONID=abc123")
}

func TestTransportCancelledContextFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	tr := newTestTransport(t, "https://cas.example.edu/authserver/login")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	out := tr.Do(ctx, req)

	require.Equal(t, OutcomeFatal, out.Kind)
	require.True(t, errors.Is(out.Err, context.Canceled))
}
