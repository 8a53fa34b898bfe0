package api

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/playpool/matchcore/internal/api/handlers"
	"github.com/playpool/matchcore/internal/config"
	"github.com/playpool/matchcore/internal/kvs"
	"github.com/playpool/matchcore/internal/matchmaker"
	"github.com/playpool/matchcore/internal/rdb"
	"github.com/playpool/matchcore/internal/stream"
	"github.com/playpool/matchcore/internal/tokengate"
)

// SetupRoutes wires the full HTTP surface onto router.
func SetupRoutes(router *gin.Engine, identity rdb.Store, store kvs.Store, mm *matchmaker.Matchmaker, gate *tokengate.Gate, mux *stream.Multiplexer, cfg *config.Config) {
	router.GET("/status", handlers.Status)
	router.GET("/health", handlers.HealthCheck)

	playerOrAdmin := handlers.AuthMiddleware(gate, tokengate.KindPlayer, tokengate.KindAdmin)
	adminOnly := handlers.AuthMiddleware(gate, tokengate.KindAdmin)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/register", handlers.Register(identity))
			auth.POST("/", handlers.Login(identity, gate, cfg))
			auth.DELETE("/", playerOrAdmin, handlers.Logout(gate, mm, mux))
		}

		games := v1.Group("/games")
		{
			games.POST("/create", adminOnly, handlers.CreateGame(identity))
			games.GET("/byid/:id", handlers.GetGameByID(identity))
			games.GET("/byname/:name", handlers.GetGameByName(identity))
			games.GET("/", handlers.GetAllGames(identity))
		}

		groups := v1.Group("/groups")
		{
			groups.POST("/create/:gameid", playerOrAdmin, handlers.CreateGroup(mm))
			groups.GET("/", playerOrAdmin, handlers.GetGroup(mm))
			groups.POST("/join/:groupid", playerOrAdmin, handlers.JoinGroup(mm))
			groups.POST("/invite/byid/:value", playerOrAdmin, handlers.Invite("byid", mm))
			groups.POST("/invite/byname/:value", playerOrAdmin, handlers.Invite("byname", mm))
			groups.DELETE("/leave", playerOrAdmin, handlers.LeaveGroup(mm))
			groups.DELETE("/kick/:userid", adminOnly, handlers.KickGroup(mm))
			groups.POST("/ready", playerOrAdmin, handlers.MarkReady(mm))
			groups.DELETE("/ready", playerOrAdmin, handlers.MarkNotReady(mm))
			groups.POST("/start", playerOrAdmin, handlers.StartQueue(mm))
		}

		msgqueues := v1.Group("/msgqueues")
		{
			msgqueues.GET("/user", playerOrAdmin, handlers.StreamUser(mux))
			msgqueues.GET("/group", playerOrAdmin, handlers.StreamGroup(store, mux))
			msgqueues.GET("/party", playerOrAdmin, handlers.StreamParty(store, mux))
			msgqueues.DELETE("/kick/:userid/from/:kind", adminOnly, handlers.KickFromQueue(mux))
		}
	}

	log.Printf("[ROUTES] matchcore HTTP surface registered")
}
