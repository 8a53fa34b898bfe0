package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playpool/matchcore/internal/kvs"
	"github.com/playpool/matchcore/internal/stream"
)

// StreamUser implements GET /v1/msgqueues/user: subscribes to the caller's
// own user:<id> topic.
func StreamUser(mux *stream.Multiplexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		topic := "user:" + claims.UserID
		if err := mux.Serve(c.Request.Context(), c.Writer, "user", claims.UserID, topic); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

// StreamGroup implements GET /v1/msgqueues/group: subscribes to the
// group:<id> topic of the caller's current group.
func StreamGroup(store kvs.Store, mux *stream.Multiplexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		sess, err := store.GetUser(c.Request.Context(), claims.UserID)
		if err != nil || sess.GroupID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "player not in a group"})
			return
		}
		topic := "group:" + sess.GroupID
		if err := mux.Serve(c.Request.Context(), c.Writer, "group", claims.UserID, topic); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

// StreamParty implements GET /v1/msgqueues/party: subscribes to the
// party:<id> topic of the caller's current party.
func StreamParty(store kvs.Store, mux *stream.Multiplexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		sess, err := store.GetUser(c.Request.Context(), claims.UserID)
		if err != nil || sess.PartyID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "player not in a party"})
			return
		}
		topic := "party:" + sess.PartyID
		if err := mux.Serve(c.Request.Context(), c.Writer, "party", claims.UserID, topic); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

// KickFromQueue implements DELETE /v1/msgqueues/kick/<userid>/from/<kind>
// (admin only): closes every live stream of that kind for the user.
func KickFromQueue(mux *stream.Multiplexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		mux.Kick(c.Param("kind"), c.Param("userid"))
		c.Status(http.StatusNoContent)
	}
}
