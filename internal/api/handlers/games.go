package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/playpool/matchcore/internal/rdb"
)

// CreateGame implements POST /v1/games/create (admin only). Image and
// internal ports are accepted as optional fields beyond the {name,
// capacity} the HTTP surface table names, since the identity store cannot
// register a launchable game without them.
func CreateGame(identity rdb.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name          string `json:"name" binding:"required"`
			Capacity      int    `json:"capacity" binding:"required"`
			Image         string `json:"image"`
			InternalPorts []int  `json:"internalports"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Capacity < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and capacity (>=1) are required"})
			return
		}

		claims := claimsFrom(c)
		gameID, err := identity.CreateGame(c.Request.Context(), req.Name, claims.UserID, req.Capacity, req.Image, req.InternalPorts)
		if err != nil {
			status, msg := mapRDBError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{"gameid": gameID})
	}
}

// GetGameByID implements GET /v1/games/byid/<int>.
func GetGameByID(identity rdb.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
			return
		}
		game, err := identity.GetGameByID(c.Request.Context(), id)
		if err != nil {
			status, msg := mapRDBError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, game)
	}
}

// GetGameByName implements GET /v1/games/byname/<str>.
func GetGameByName(identity rdb.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		game, err := identity.GetGameByName(c.Request.Context(), c.Param("name"))
		if err != nil {
			status, msg := mapRDBError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, game)
	}
}

// GetAllGames implements GET /v1/games/.
func GetAllGames(identity rdb.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		games, err := identity.GetAllGames(c.Request.Context())
		if err != nil {
			status, msg := mapRDBError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, games)
	}
}
