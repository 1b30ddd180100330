package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	sealer, err := NewSealer("master-secret")
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte("portal-password"))
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "portal-password")

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "portal-password", string(opened))
}

func TestSealerRejectsWrongKey(t *testing.T) {
	a, err := NewSealer("secret-a")
	require.NoError(t, err)
	b, err := NewSealer("secret-b")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("data"))
	require.NoError(t, err)

	_, err = b.Open(sealed)
	require.Error(t, err)
}

func TestSealerRejectsTruncated(t *testing.T) {
	s, err := NewSealer("secret")
	require.NoError(t, err)

	_, err = s.Open([]byte("short"))
	require.Error(t, err)
}

func TestJWTAccessTokenRoundTrip(t *testing.T) {
	mgr, err := NewJWTManager("master-secret")
	require.NoError(t, err)

	token, err := mgr.IssueAccessToken("20240001", "device-1")
	require.NoError(t, err)

	claims, err := mgr.VerifyScoped(token, ScopeAccess)
	require.NoError(t, err)
	require.Equal(t, "20240001", claims.Subject)
	require.Equal(t, "device-1", claims.DeviceID)
}

func TestJWTScopeMismatch(t *testing.T) {
	mgr, err := NewJWTManager("master-secret")
	require.NoError(t, err)

	token, err := mgr.IssueInviteToken("INVITE-1")
	require.NoError(t, err)

	_, err = mgr.VerifyScoped(token, ScopeAccess)
	require.Error(t, err)

	claims, err := mgr.VerifyScoped(token, ScopeInvite)
	require.NoError(t, err)
	require.Equal(t, "INVITE-1", claims.Subject)
}

func TestJWTRejectsTamperedToken(t *testing.T) {
	mgr, err := NewJWTManager("master-secret")
	require.NoError(t, err)
	other, err := NewJWTManager("other-secret")
	require.NoError(t, err)

	token, err := other.IssueAccessToken("20240001", "")
	require.NoError(t, err)

	_, err = mgr.VerifyToken(token)
	require.Error(t, err)
}

func TestEmptyMasterSecretRejected(t *testing.T) {
	_, err := NewJWTManager("")
	require.Error(t, err)
	_, err = NewSealer("")
	require.Error(t, err)
}
