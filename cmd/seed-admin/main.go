// Command seed-admin bootstraps an administrator identity directly in the
// identity store, bypassing the HTTP registration endpoint (which never
// grants admin).
package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/playpool/matchcore/internal/config"
	"github.com/playpool/matchcore/internal/database"
	"github.com/playpool/matchcore/internal/rdb"
)

func main() {
	var name, email, password string

	v := viper.New()
	v.SetEnvPrefix("MATCHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "seed-admin",
		Short:         "Creates or promotes an administrator account in the identity store.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || email == "" || password == "" {
				return fmt.Errorf("--name, --email and --password are all required")
			}
			return run(name, email, password)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, n string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(n, "_", "-"))
	})
	fs.StringVar(&name, "name", "", "admin display name (env: MATCHCORE_NAME)")
	fs.StringVar(&email, "email", "", "admin login email (env: MATCHCORE_EMAIL)")
	fs.StringVar(&password, "password", "", "admin password (env: MATCHCORE_PASSWORD)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cobra.CheckErr(cmd.Execute())
}

func run(name, email, password string) error {
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

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	ctx := context.Background()
	user, err := identity.CreateUser(ctx, name, email, string(hash))
	if err != nil {
		existing, getErr := identity.GetUserByLogin(ctx, email)
		if getErr != nil {
			return fmt.Errorf("create user: %w", err)
		}
		user = existing
		log.Printf("[SEED-ADMIN] user %s already exists, promoting", email)
	}

	if err := identity.SetUserAdmin(ctx, user.ID, true); err != nil {
		return fmt.Errorf("promote to admin: %w", err)
	}

	log.Printf("[SEED-ADMIN] admin ready: userid=%s email=%s", user.ID, email)
	return nil
}
