package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/playpool/matchcore/internal/matchmaker"
)

// CreateGroup implements POST /v1/groups/create/<gameid:int>.
func CreateGroup(mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID, err := strconv.Atoi(c.Param("gameid"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
			return
		}
		claims := claimsFrom(c)
		groupID, err := mm.CreateGroup(c.Request.Context(), claims.UserID, gameID)
		if err != nil {
			status, msg := mapKVSError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{"groupid": groupID})
	}
}

// GetGroup implements GET /v1/groups/ for the caller's own group.
func GetGroup(mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		view, err := mm.Group(c.Request.Context(), claims.UserID)
		if err != nil {
			status, msg := mapKVSError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// JoinGroup implements POST /v1/groups/join/<groupid>.
func JoinGroup(mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if err := mm.JoinGroup(c.Request.Context(), c.Param("groupid"), claims.UserID); err != nil {
			status, msg := mapKVSError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Invite implements POST /v1/groups/invite/by{id,name}/<x>. kind is baked
// in at route-registration time since gin path matching can't express the
// "by{id,name}" alternation the HTTP surface table uses as shorthand.
func Invite(kind string, mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		target, err := mm.ResolveInvitee(c.Request.Context(), kind, c.Param("value"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		if err := mm.Invite(c.Request.Context(), claims.UserID, target); err != nil {
			status, msg := mapKVSError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// LeaveGroup implements DELETE /v1/groups/leave.
func LeaveGroup(mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if err := mm.LeaveGroup(c.Request.Context(), claims.UserID); err != nil {
			status, msg := mapKVSError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// KickGroup implements DELETE /v1/groups/kick/<userid> (admin only).
func KickGroup(mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := mm.Kick(c.Request.Context(), c.Param("userid")); err != nil {
			status, msg := mapKVSError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// MarkReady implements POST /v1/groups/ready.
func MarkReady(mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if err := mm.MarkReady(c.Request.Context(), claims.UserID); err != nil {
			status, msg := mapKVSError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// MarkNotReady implements DELETE /v1/groups/ready.
func MarkNotReady(mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if err := mm.MarkNotReady(c.Request.Context(), claims.UserID); err != nil {
			status, msg := mapKVSError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// StartQueue implements POST /v1/groups/start: the caller's group enters
// the matchmaking queue for its game.
func StartQueue(mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if err := mm.StartQueue(c.Request.Context(), claims.UserID); err != nil {
			status, msg := mapKVSError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
