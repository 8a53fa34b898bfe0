package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playpool/matchcore/internal/kvs"
	"github.com/playpool/matchcore/internal/rdb"
	"github.com/playpool/matchcore/internal/tokengate"
)

const claimsContextKey = "tokengate_claims"

// AuthMiddleware verifies the bearer token via gate and, if allowed is
// non-empty, restricts the endpoint to the given principal kinds.
func AuthMiddleware(gate *tokengate.Gate, allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := gate.Authenticate(c.Request.Context(), c.GetHeader("Authorization"), allowed...)
		if err != nil {
			status, msg := mapTokenGateError(err)
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *tokengate.Claims {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*tokengate.Claims)
	return claims
}

func mapTokenGateError(err error) (int, string) {
	switch {
	case errors.Is(err, tokengate.ErrMissing):
		return http.StatusUnauthorized, "Missing token"
	case errors.Is(err, tokengate.ErrWrongScheme):
		return http.StatusUnauthorized, "Wrong auth scheme"
	case errors.Is(err, tokengate.ErrInvalid):
		return http.StatusForbidden, "Invalid token"
	case errors.Is(err, tokengate.ErrRevoked):
		return http.StatusForbidden, "Revoked token"
	case errors.Is(err, tokengate.ErrRestricted):
		return http.StatusForbidden, "Restricted"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// mapKVSError classifies session-store errors into the HTTP response
// shape: domain preconditions as 400, not-found variants as 404.
func mapKVSError(err error) (int, string) {
	var wrongState *kvs.ErrWrongGroupState
	switch {
	case errors.As(err, &wrongState):
		return http.StatusBadRequest, wrongState.Error()
	case errors.Is(err, kvs.ErrPlayerInGroupAlready):
		return http.StatusBadRequest, "player already in a group"
	case errors.Is(err, kvs.ErrPlayerNotInGroup):
		return http.StatusBadRequest, "player not in a group"
	case errors.Is(err, kvs.ErrGroupIsFull):
		return http.StatusBadRequest, "group is full"
	case errors.Is(err, kvs.ErrGroupNotReady):
		return http.StatusBadRequest, "group is not ready"
	case errors.Is(err, kvs.ErrGroupDoesntExist):
		return http.StatusNotFound, "group does not exist"
	case errors.Is(err, kvs.ErrGameDoesntExist):
		return http.StatusNotFound, "game does not exist"
	case errors.Is(err, kvs.ErrPartyDoesntExist):
		return http.StatusNotFound, "party does not exist"
	case errors.Is(err, kvs.ErrNotFound):
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// mapRDBError classifies identity-store errors into HTTP status codes.
func mapRDBError(err error) (int, string) {
	switch {
	case errors.Is(err, rdb.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, rdb.ErrConstraintViolation):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusServiceUnavailable, "backend unavailable"
	}
}
