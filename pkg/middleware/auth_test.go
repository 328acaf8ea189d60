package middleware_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/postqode/agentdeploy/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("a-very-secret-signing-key-of-32b")

func sign(t *testing.T, key interface{}, alg jwa.SignatureAlgorithm, subject string, expires time.Time) string {
	builder := jwt.NewBuilder().Issuer("postqode").Expiration(expires)
	if len(subject) > 0 {
		builder = builder.Subject(subject)
	}
	token, err := builder.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(alg, key))
	require.NoError(t, err)
	return string(signed)
}

// whoami echoes the identified user.
func whoami(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(middleware.GetUserID(r.Context())))
}

func TestHMACMiddleware(t *testing.T) {
	handler := middleware.NewHMACValidator(secret, "postqode").Middleware(http.HandlerFunc(whoami))
	hour := time.Now().Add(time.Hour)

	for _, test := range []struct {
		name          string
		authorization string
		code          int
		body          string
	}{
		{"valid token", "Bearer " + sign(t, secret, jwa.HS256, "user-1", hour), http.StatusOK, "user-1"},
		{"lower case scheme", "bearer " + sign(t, secret, jwa.HS256, "user-2", hour), http.StatusOK, "user-2"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + sign(t, []byte("another-secret-another-secret-xx"), jwa.HS256, "user-1", hour), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + sign(t, secret, jwa.HS256, "user-1", time.Now().Add(-time.Hour)), http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + sign(t, secret, jwa.HS256, "", hour), http.StatusUnauthorized, ""},
	} {
		t.Run(test.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/api/v1/deployments", nil)
			if len(test.authorization) > 0 {
				request.Header.Set("Authorization", test.authorization)
			}
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)

			assert.Equal(t, test.code, recorder.Code)
			if test.code == http.StatusOK {
				assert.Equal(t, test.body, recorder.Body.String())
			} else {
				body := map[string]string{}
				require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
				assert.Equal(t, "credentials required", body["status"])
			}
		})
	}
}

func TestJWKSValidator(t *testing.T) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	private, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, private.Set(jwk.KeyIDKey, "key-1"))
	require.NoError(t, private.Set(jwk.AlgorithmKey, jwa.RS256))
	public, err := jwk.PublicKeyOf(private)
	require.NoError(t, err)

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(set)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	validator, err := middleware.NewJWKSValidator(ctx, server.URL, "postqode")
	require.NoError(t, err)

	user, err := validator.Validate(ctx, sign(t, private, jwa.RS256, "user-1", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "user-1", user)

	_, err = validator.Validate(ctx, sign(t, secret, jwa.HS256, "user-1", time.Now().Add(time.Hour)))
	assert.Error(t, err)
}

func TestHeaderUser(t *testing.T) {
	handler := middleware.HeaderUser(http.HandlerFunc(whoami))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(middleware.UserIDHeader, "user-1")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "user-1", recorder.Body.String())

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRequestLoggerCorrelationID(t *testing.T) {
	var seen string
	handler := middleware.RequestLogger()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetCorrelationID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(middleware.CorrelationIDHeader, "abc-123")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", recorder.Header().Get(middleware.CorrelationIDHeader))

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, recorder.Header().Get(middleware.CorrelationIDHeader))
}
