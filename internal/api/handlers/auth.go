// Package handlers adapts the core (rdb, kvs, matchmaker, msgbus,
// stream, tokengate) onto the HTTP surface. Handlers are
// thin: validation and status-code mapping live here, state-machine and
// packing logic stays in internal/matchmaker and internal/kvs.
package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/playpool/matchcore/internal/config"
	"github.com/playpool/matchcore/internal/matchmaker"
	"github.com/playpool/matchcore/internal/rdb"
	"github.com/playpool/matchcore/internal/stream"
	"github.com/playpool/matchcore/internal/tokengate"
)

// Register implements POST /v1/auth/register.
func Register(identity rdb.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username, email and password are required"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("[AUTH] hash password failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		user, err := identity.CreateUser(c.Request.Context(), req.Username, req.Email, string(hash))
		if err != nil {
			status, msg := mapRDBError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userid": user.ID})
	}
}

// Login implements POST /v1/auth/.
func Login(identity rdb.Store, gate *tokengate.Gate, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Login    string `json:"login" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "login and password are required"})
			return
		}

		user, err := identity.GetUserByLogin(c.Request.Context(), strings.TrimSpace(req.Login))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		kind := tokengate.KindPlayer
		if user.IsAdmin {
			kind = tokengate.KindAdmin
		}
		token, _, err := gate.Issue(user.ID, user.Name, kind, cfg.JWTExpiration)
		if err != nil {
			log.Printf("[AUTH] issue token failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// Logout implements DELETE /v1/auth/: revokes the presented token and kicks
// the user from any user:<id> stream and from their current group.
func Logout(gate *tokengate.Gate, mm *matchmaker.Matchmaker, mux *stream.Multiplexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			return
		}

		if err := gate.Revoke(c.Request.Context(), claims.TokenID, claims.Expiry); err != nil {
			log.Printf("[AUTH] revoke token failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		mux.Kick("user", claims.UserID)
		if err := mm.Kick(c.Request.Context(), claims.UserID); err != nil {
			log.Printf("[AUTH] logout kick for %s: %v", claims.UserID, err)
		}
		c.Status(http.StatusNoContent)
	}
}
