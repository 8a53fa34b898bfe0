package tokengate

import (
	"context"
	"testing"
	"time"

	"github.com/playpool/matchcore/internal/kvs"
	"github.com/playpool/matchcore/internal/msgbus"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	store := kvs.NewMemoryStore(msgbus.NewMemoryBus(), func(ctx context.Context, gameID int) (int, []int, error) {
		return 4, []int{7000}, nil
	}, "127.0.0.1", 20000, 20100)
	return New("test-secret", "matchcore", store)
}

func TestIssueAndAuthenticateRoundTrip(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	token, tokenID, err := gate.Issue("user-1", "alice", KindPlayer, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := gate.Authenticate(ctx, "Bearer "+token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.TokenID != tokenID {
		t.Fatalf("expected token id %s, got %s", tokenID, claims.TokenID)
	}
	if claims.UserID != "user-1" || claims.Kind != KindPlayer {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestAuthenticateMissingToken(t *testing.T) {
	gate := newTestGate(t)
	if _, err := gate.Authenticate(context.Background(), ""); err != ErrMissing {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestAuthenticateWrongScheme(t *testing.T) {
	gate := newTestGate(t)
	if _, err := gate.Authenticate(context.Background(), "Basic abc123"); err != ErrWrongScheme {
		t.Fatalf("expected ErrWrongScheme, got %v", err)
	}
}

func TestAuthenticateMalformedToken(t *testing.T) {
	gate := newTestGate(t)
	if _, err := gate.Authenticate(context.Background(), "Bearer not-a-real-token"); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestAuthenticateRevokedToken(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	token, _, err := gate.Issue("user-2", "bob", KindPlayer, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := gate.Authenticate(ctx, "Bearer "+token)
	if err != nil {
		t.Fatalf("Authenticate before revoke: %v", err)
	}

	if err := gate.Revoke(ctx, claims.TokenID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := gate.Authenticate(ctx, "Bearer "+token); err != ErrRevoked {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestAuthenticateRestrictedPrincipalKind(t *testing.T) {
	ctx := context.Background()
	gate := newTestGate(t)

	token, _, err := gate.Issue("user-3", "carol", KindPlayer, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := gate.Authenticate(ctx, "Bearer "+token, KindAdmin); err != ErrRestricted {
		t.Fatalf("expected ErrRestricted, got %v", err)
	}
	if _, err := gate.Authenticate(ctx, "Bearer "+token, KindPlayer, KindAdmin); err != nil {
		t.Fatalf("expected allowed kind to pass, got %v", err)
	}
}
