package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/postqode/agentdeploy/pkg/httperr"
	log "github.com/sirupsen/logrus"
)

const UserIDHeader = "X-User-ID"

var (
	ErrMissingToken   = errors.New("missing bearer token")
	ErrMissingSubject = errors.New("token has no subject")
	ErrMissingUser    = errors.New("missing " + UserIDHeader + " header")
)

// TokenValidator checks bearer tokens, either against a remote key set or a shared secret.
type TokenValidator struct {
	jwkCache *jwk.Cache
	jwksURL  string
	secret   []byte
	issuer   string
}

// NewJWKSValidator validates tokens signed by any key published at jwksURL.
// The key set is refreshed in the background for as long as ctx lives.
func NewJWKSValidator(ctx context.Context, jwksURL, issuer string) (*TokenValidator, error) {
	cache := jwk.NewCache(ctx)
	err := cache.Register(jwksURL, jwk.WithRefreshInterval(time.Hour))
	if err != nil {
		return nil, fmt.Errorf("jwks caching: %w", err)
	}
	_, err = cache.Refresh(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("jwks caching: %w", err)
	}
	return &TokenValidator{
		jwkCache: cache,
		jwksURL:  jwksURL,
		issuer:   issuer,
	}, nil
}

// NewHMACValidator validates HS256 tokens signed with secret.
func NewHMACValidator(secret []byte, issuer string) *TokenValidator {
	return &TokenValidator{
		secret: secret,
		issuer: issuer,
	}
}

func (v *TokenValidator) options(ctx context.Context) ([]jwt.ParseOption, error) {
	opts := []jwt.ParseOption{
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(5 * time.Second),
	}
	if len(v.issuer) > 0 {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.jwkCache == nil {
		return append(opts, jwt.WithKey(jwa.HS256, v.secret)), nil
	}
	keys, err := v.jwkCache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("get jwk from cache: %w", err)
	}
	return append(opts, jwt.WithKeySet(keys, jws.WithInferAlgorithmFromKey(true))), nil
}

// Validate parses token and returns its subject.
func (v *TokenValidator) Validate(ctx context.Context, token string) (string, error) {
	opts, err := v.options(ctx)
	if err != nil {
		return "", err
	}
	t, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return "", fmt.Errorf("invalid JWT token: %w", err)
	}
	if len(t.Subject()) == 0 {
		return "", ErrMissingSubject
	}
	return t.Subject(), nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Middleware rejects requests without a valid bearer token and
// identifies the caller by the token subject.
func (v *TokenValidator) Middleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if len(token) == 0 {
			render.Render(w, r, httperr.ErrUnauthorized(ErrMissingToken))
			return
		}
		user, err := v.Validate(r.Context(), token)
		if err != nil {
			log.WithFields(RequestLogFields(r)).Infof("Rejected token: %s", err)
			render.Render(w, r, httperr.ErrUnauthorized(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), user)))
	}
	return http.HandlerFunc(fn)
}

// HeaderUser identifies the caller by the X-User-ID header. Only for use when
// authentication is handled in front of this service.
func HeaderUser(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if len(user) == 0 {
			render.Render(w, r, httperr.ErrUnauthorized(ErrMissingUser))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), user)))
	}
	return http.HandlerFunc(fn)
}
