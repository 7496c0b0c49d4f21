package chi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// AnonymousAccount is the principal used when authentication is disabled.
const AnonymousAccount = "anonymous"

var (
	errMissingCredentials = errors.New("missing authorization header")
	errBearerScheme       = errors.New("authorization header must use Bearer scheme")
	errInvalidCredentials = errors.New("invalid credentials")
)

// APIKey binds a static bearer key to an account and role.
type APIKey struct {
	Key     string
	Account string
	Role    string
}

// Claims are the JWT claims accepted as bearer credentials.
// The subject is the account id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves bearer credentials to a domain.Principal.
// Static API keys are checked first, then HS256 JWTs when a secret is set.
type Authenticator struct {
	keys   map[string]domain.Principal
	secret []byte
	issuer string
}

// NewAuthenticator creates an Authenticator. Empty keys and secret disable authentication.
func NewAuthenticator(keys []APIKey, jwtSecret, jwtIssuer string) *Authenticator {
	a := &Authenticator{
		keys:   make(map[string]domain.Principal, len(keys)),
		issuer: jwtIssuer,
	}
	for _, k := range keys {
		if k.Key != "" {
			a.keys[k.Key] = domain.Principal{AccountID: k.Account, Role: k.Role}
		}
	}
	if jwtSecret != "" {
		a.secret = []byte(jwtSecret)
	}
	return a
}

// Enabled reports whether any credential source is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.keys) > 0 || len(a.secret) > 0
}

// Authenticate resolves a raw bearer token.
func (a *Authenticator) Authenticate(token string) (domain.Principal, error) {
	if p, ok := a.keys[token]; ok {
		return p, nil
	}
	if len(a.secret) == 0 {
		return domain.Principal{}, errInvalidCredentials
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %w", errInvalidCredentials, err)
	}
	if claims.Subject == "" {
		return domain.Principal{}, fmt.Errorf("%w: token has no subject", errInvalidCredentials)
	}
	return domain.Principal{AccountID: claims.Subject, Role: claims.Role}, nil
}

// IssueToken signs an HS256 JWT for p that expires after ttl.
func IssueToken(secret, issuer string, p domain.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.AccountID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Middleware puts the authenticated principal into the request context.
// When authentication is disabled every request runs as AnonymousAccount.
// WebSocket upgrades may pass the token as the access_token query parameter,
// since browsers cannot set headers on them.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !a.Enabled() {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := domain.ContextWithPrincipal(r.Context(), domain.Principal{AccountID: AnonymousAccount})
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
				return
			}

			p, err := a.Authenticate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, errInvalidCredentials.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(domain.ContextWithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		if t := r.URL.Query().Get("access_token"); t != "" && isUpgrade(r) {
			return t, nil
		}
		return "", errMissingCredentials
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(auth, bearerPrefix) {
		return "", errBearerScheme
	}
	return auth[len(bearerPrefix):], nil
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
