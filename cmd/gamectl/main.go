// Command gamectl registers a launchable game against the identity store
// without a running HTTP server, for deploy-time provisioning.
package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/playpool/matchcore/internal/config"
	"github.com/playpool/matchcore/internal/database"
	"github.com/playpool/matchcore/internal/rdb"
)

func main() {
	var name, ownerID, image string
	var capacity int
	var ports []int

	v := viper.New()
	v.SetEnvPrefix("MATCHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "gamectl",
		Short:         "Registers a launchable game in the identity store.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || capacity < 1 || image == "" || ownerID == "" {
				return fmt.Errorf("--name, --owner-id, --image and --capacity (>=1) are all required")
			}
			return run(name, ownerID, image, capacity, ports)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, n string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(n, "_", "-"))
	})
	fs.StringVar(&name, "name", "", "unique game name (env: MATCHCORE_NAME)")
	fs.StringVar(&ownerID, "owner-id", "", "id of the user the game belongs to (env: MATCHCORE_OWNER_ID)")
	fs.StringVar(&image, "image", "", "container image to launch per party (env: MATCHCORE_IMAGE)")
	fs.IntVar(&capacity, "capacity", 0, "players per slot before launch (env: MATCHCORE_CAPACITY)")
	fs.IntSliceVar(&ports, "internal-port", nil, "container port to expose, repeatable (env: MATCHCORE_INTERNAL_PORT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cobra.CheckErr(cmd.Execute())
}

func run(name, ownerID, image string, capacity int, ports []int) error {
	cfg := config.Load()

	var identity rdb.Store
	if cfg.RDBBackend == "memory" {
		identity = rdb.NewMemoryStore()
	} else {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		identity = rdb.NewPostgresStore(db)
	}

	gameID, err := identity.CreateGame(context.Background(), name, ownerID, capacity, image, ports)
	if err != nil {
		return fmt.Errorf("create game: %w", err)
	}

	log.Printf("[GAMECTL] registered game %q as id=%d capacity=%d image=%s ports=%v", name, gameID, capacity, image, ports)
	return nil
}
