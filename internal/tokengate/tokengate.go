// Package tokengate is the capability HTTP handlers use to authenticate a
// bearer token: verify its signature, check it against the KVS revocation
// set, and enforce the endpoint's allowed principal kinds. Generalizes the
// teacher's AuthMiddleware (internal/api/handlers/auth.go) from a single
// player_id claim to the full principal-kind claim set.
package tokengate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/playpool/matchcore/internal/kvs"
)

// Principal kinds recognized by the allow-set check.
const (
	KindPlayer  = "player"
	KindAdmin   = "admin"
	KindGame    = "game"
	KindWebAPI  = "webapi"
	KindManager = "manager"
)

var (
	ErrMissing     = errors.New("missing token")
	ErrWrongScheme = errors.New("wrong auth scheme")
	ErrInvalid     = errors.New("invalid token")
	ErrRevoked     = errors.New("revoked token")
	ErrRestricted  = errors.New("restricted")
)

// Claims is the verified, decoded identity of a bearer token.
type Claims struct {
	Issuer   string
	Subject  string
	IssuedAt time.Time
	Expiry   time.Time
	TokenID  string
	Kind     string
	UserID   string
	Nickname string
}

// Gate verifies bearer tokens against a shared HS256 secret and the KVS
// revocation set.
type Gate struct {
	secret []byte
	issuer string
	store  kvs.Store
}

func New(secret, issuer string, store kvs.Store) *Gate {
	return &Gate{secret: []byte(secret), issuer: issuer, store: store}
}

// Issue signs a token for userID/nickname of the given principal kind,
// valid for ttl, returning the signed string and the token id that callers
// must later present to RevokeToken on logout.
func (g *Gate) Issue(userID, nickname, kind string, ttl time.Duration) (string, string, error) {
	now := time.Now()
	tokenID := uuid.New().String()
	claims := jwt.MapClaims{
		"iss":      g.issuer,
		"sub":      userID,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
		"jti":      tokenID,
		"kind":     kind,
		"userid":   userID,
		"nickname": nickname,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", "", err
	}
	return signed, tokenID, nil
}

// Authenticate verifies the Authorization header value and, if allowed is
// non-empty, requires the claimed principal kind to be in that set.
func (g *Gate) Authenticate(ctx context.Context, authHeader string, allowed ...string) (*Claims, error) {
	if authHeader == "" {
		return nil, ErrMissing
	}
	const prefix = "Bearer:"
	var raw string
	switch {
	case strings.HasPrefix(authHeader, "Bearer "):
		raw = strings.TrimPrefix(authHeader, "Bearer ")
	case strings.HasPrefix(authHeader, prefix):
		raw = strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	default:
		return nil, ErrWrongScheme
	}

	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalid
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalid
	}
	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalid
	}

	claims, err := decodeClaims(mapClaims)
	if err != nil {
		return nil, err
	}

	revoked, err := g.store.IsTokenRevoked(ctx, claims.TokenID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevoked
	}

	if len(allowed) > 0 && !contains(allowed, claims.Kind) {
		return nil, ErrRestricted
	}
	return claims, nil
}

func decodeClaims(m jwt.MapClaims) (*Claims, error) {
	str := func(k string) string {
		v, _ := m[k].(string)
		return v
	}
	num := func(k string) float64 {
		v, _ := m[k].(float64)
		return v
	}

	tokenID := str("jti")
	kind := str("kind")
	if tokenID == "" || kind == "" {
		return nil, ErrInvalid
	}

	return &Claims{
		Issuer:   str("iss"),
		Subject:  str("sub"),
		IssuedAt: time.Unix(int64(num("iat")), 0),
		Expiry:   time.Unix(int64(num("exp")), 0),
		TokenID:  tokenID,
		Kind:     kind,
		UserID:   str("userid"),
		Nickname: str("nickname"),
	}, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Revoke records a token id as revoked until its own expiry, after which
// the KVS backend's pruning removes it.
func (g *Gate) Revoke(ctx context.Context, tokenID string, expiry time.Time) error {
	return g.store.RevokeToken(ctx, tokenID, expiry.Unix())
}
