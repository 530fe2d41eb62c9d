package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"todo-api/domain"
)

const defaultKeyCacheTTL = 15 * time.Minute

// adminRole is the roles-claim entry that grants admin privileges.
const adminRole = "Admin"

// Auth validates incoming bearer tokens and resolves the caller identity.
// It verifies either locally issued HS256 tokens against a shared secret or
// RS256 tokens against a JWKS endpoint.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	Secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth verifying RS256 tokens signed by keys from the
// given JWKS.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: defaultKeyCacheTTL,
	}
}

// NewLocalAuth creates an Auth verifying HS256 tokens signed with the shared
// secret, as issued by the account service.
func NewLocalAuth(secret []byte, audience, issuer string) *Auth {
	if len(secret) == 0 {
		panic("api.NewLocalAuth: empty secret")
	}
	return &Auth{
		Audience: audience,
		Issuer:   issuer,
		Secret:   secret,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// CallerFromAuthHeader resolves the caller from an Authorization header.
func (a *Auth) CallerFromAuthHeader(h string) (domain.Caller, error) {
	token, err := bearerToken(h)
	if err != nil {
		return domain.Caller{}, err
	}
	return a.CallerFromBearer(token)
}

// CallerFromBearer resolves the caller from a raw bearer token.
func (a *Auth) CallerFromBearer(token []byte) (domain.Caller, error) {
	if len(token) == 0 {
		return domain.Caller{}, errBadAuthorization
	}

	tokenStr := readOnlyString(token)
	var parsedToken *jwt.Token
	var err error
	if a.Secret != nil {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.Secret, nil
		})
	} else {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return a.keyForToken(t)
		})
	}
	if err != nil {
		return domain.Caller{}, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Caller{}, errors.New("invalid claims")
	}

	// One minute of clock skew is tolerated on the time-based claims.
	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return domain.Caller{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return domain.Caller{}, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return domain.Caller{}, errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return domain.Caller{}, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return domain.Caller{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.Caller{}, errors.New("missing sub")
	}

	return domain.Caller{UserID: sub, IsAdmin: hasAdminRole(claims)}, nil
}

func hasAdminRole(claims jwt.MapClaims) bool {
	roles, ok := claims["roles"].([]any)
	if !ok {
		return false
	}
	for _, r := range roles {
		if s, ok := r.(string); ok && s == adminRole {
			return true
		}
	}
	return false
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
