package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/playpool/matchcore/internal/api"
	"github.com/playpool/matchcore/internal/config"
	"github.com/playpool/matchcore/internal/ctr"
	"github.com/playpool/matchcore/internal/database"
	"github.com/playpool/matchcore/internal/kvs"
	"github.com/playpool/matchcore/internal/matchmaker"
	"github.com/playpool/matchcore/internal/middleware"
	"github.com/playpool/matchcore/internal/migrations"
	"github.com/playpool/matchcore/internal/msgbus"
	"github.com/playpool/matchcore/internal/rdb"
	matchcoreredis "github.com/playpool/matchcore/internal/redis"
	"github.com/playpool/matchcore/internal/stream"
	"github.com/playpool/matchcore/internal/tokengate"
)

func main() {
	var migrateOnStart bool

	v := viper.New()
	v.SetEnvPrefix("MATCHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "matchcore-server",
		Short:         "Runs the matchmaking and live-messaging HTTP server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(migrateOnStart)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.BoolVar(&migrateOnStart, "migrate-on-start", os.Getenv("MIGRATE_ON_START") == "true", "run pending schema migrations before serving (env: MATCHCORE_MIGRATE_ON_START)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cobra.CheckErr(cmd.Execute())
}

func run(migrateOnStart bool) error {
	cfg := config.Load()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if migrateOnStart {
		log.Println("[SERVER] running pending migrations")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	var identity rdb.Store
	if cfg.RDBBackend == "memory" {
		log.Println("[SERVER] identity store: in-process memory backend")
		identity = rdb.NewMemoryStore()
	} else {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		identity = rdb.NewPostgresStore(db)
		log.Println("[SERVER] identity store: postgres backend")
	}

	capacityLookup := func(ctx context.Context, gameID int) (int, []int, error) {
		game, err := identity.GetGameByID(ctx, gameID)
		if err != nil {
			return 0, nil, err
		}
		return game.Capacity, int64PortsToInt(game.InternalPorts), nil
	}

	var bus msgbus.Bus
	var store kvs.Store
	if cfg.KVSBackend == "memory" {
		log.Println("[SERVER] message bus and session store: in-process memory backend")
		bus = msgbus.NewMemoryBus()
		store = kvs.NewMemoryStore(bus, capacityLookup, cfg.GameHost, cfg.GamePortRangeStart, cfg.GamePortRangeStop)
	} else {
		rc, err := matchcoreredis.Connect(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		bus = msgbus.NewRedisBus(rc)
		store = kvs.NewRedisStore(rc, bus, capacityLookup, cfg.GameHost, cfg.GamePortRangeStart, cfg.GamePortRangeStop)
		log.Println("[SERVER] message bus and session store: redis backend")
	}

	mm := matchmaker.New(store, identity, bus)

	// Cancelled at shutdown so every launcher stops waiting on its container.
	launchCtx, cancelLaunches := context.WithCancel(context.Background())
	defer cancelLaunches()

	if hookable, ok := store.(kvs.LaunchHookSetter); ok {
		dockerCli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			log.Printf("[SERVER] docker client unavailable, container launch disabled: %v", err)
		} else {
			launcher := ctr.New(dockerCli, bus, mm.EndGame)
			hookable.SetLaunchHook(func(ctx context.Context, gameID int, party *kvs.Party) {
				game, err := identity.GetGameByID(ctx, gameID)
				if err != nil {
					log.Printf("[SERVER] launch hook: resolve game %d: %v", gameID, err)
					return
				}
				launcher.Launch(launchCtx, ctr.Spec{
					PartyID:       party.PartyID,
					Image:         game.Image,
					Host:          party.Host,
					InternalPorts: int64PortsToInt(game.InternalPorts),
					ExternalPorts: party.ExternalPorts,
					ContainerName: "matchcore-" + party.PartyID,
				})
			})
			log.Println("[SERVER] container launcher wired")
		}
	}

	gate := tokengate.New(cfg.JWTSecret, "matchcore", store)
	mux := stream.New(bus, cfg.HeartbeatInterval, cfg.GreetingDelay)

	router := gin.Default()
	middleware.TrustedProxies(router, cfg.ReverseProxyIPs)
	router.Use(middleware.CORS())
	api.SetupRoutes(router, identity, store, mm, gate, mux, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("[SERVER] listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[SERVER] listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("[SERVER] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mux.Shutdown()
	cancelLaunches()
	return srv.Shutdown(shutdownCtx)
}

func int64PortsToInt(ports pq.Int64Array) []int {
	out := make([]int, len(ports))
	for i, p := range ports {
		out[i] = int(p)
	}
	return out
}
