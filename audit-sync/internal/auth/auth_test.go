package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubASN1, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubASN1})
}

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestKeyVerifier(t *testing.T) {
	priv, pubPEM := generateKeyPair(t)
	v, err := NewKeyVerifier(pubPEM, "liftcheck")
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodRS256, priv, jwt.MapClaims{
			"iss":   "liftcheck",
			"sub":   "42",
			"roles": []string{models.RoleFieldAuditor},
			"exp":   time.Now().Add(time.Hour).Unix(),
		})
		actor, err := v.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, int64(42), actor.ID)
		assert.Equal(t, []string{models.RoleFieldAuditor}, actor.Roles)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodRS256, priv, jwt.MapClaims{
			"iss": "someone-else", "sub": "42", "exp": time.Now().Add(time.Hour).Unix(),
		})
		_, err := v.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("expired", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodRS256, priv, jwt.MapClaims{
			"iss": "liftcheck", "sub": "42", "exp": time.Now().Add(-time.Hour).Unix(),
		})
		_, err := v.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("other key", func(t *testing.T) {
		other, _ := generateKeyPair(t)
		token := sign(t, jwt.SigningMethodRS256, other, jwt.MapClaims{
			"iss": "liftcheck", "sub": "42", "exp": time.Now().Add(time.Hour).Unix(),
		})
		_, err := v.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("hmac token is refused", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
			"iss": "liftcheck", "sub": "42", "exp": time.Now().Add(time.Hour).Unix(),
		})
		_, err := v.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestNewKeyVerifierNeedsKeys(t *testing.T) {
	_, err := NewKeyVerifier([]byte("not pem"), "")
	assert.Error(t, err)
}

func TestHMACVerifierRejectsNonNumericSubject(t *testing.T) {
	v := NewHMACVerifier([]byte("secret"), "")
	token := sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub": "alice", "exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err := v.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestMiddlewareAndRoles(t *testing.T) {
	secret := []byte("secret")
	v := NewHMACVerifier(secret, "")
	var seen models.Actor
	handler := v.Middleware(RequireAnyRole(models.RoleFieldAuditor, models.RoleAdmin)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = FromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})))

	call := func(authz string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage"))

	viewer := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
		"sub": "5", "roles": []string{"viewer"}, "exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusForbidden, call("Bearer "+viewer))

	admin := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
		"sub": "6", "roles": []string{models.RoleAdmin}, "exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusNoContent, call("bearer "+admin))
	assert.Equal(t, int64(6), seen.ID)
	assert.True(t, seen.IsAdmin())
}
