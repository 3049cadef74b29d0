package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// adminCommand is a one-shot operator task run against the database
type adminCommand func(ctx context.Context, args []string) error

var adminCommands = map[string]adminCommand{
	"keygen":     keygen,
	"seed-roles": seedRoles,
}

func runAdmin(cmd adminCommand, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return cmd(ctx, args)
}

// adminFlags returns a flag set carrying the shared connection flag
func adminFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	postgresURL := fs.String("postgres-url", os.Getenv("GATEHOUSE_POSTGRES_URL"), "PostgreSQL connection URL")
	return fs, postgresURL
}

func openAdminDB(ctx context.Context, postgresURL string) (*sql.DB, error) {
	if postgresURL == "" {
		return nil, errors.New("postgres URL is required (-postgres-url or GATEHOUSE_POSTGRES_URL)")
	}
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = postgresURL
	cfg.PostgresMaxConns = 2
	cfg.PostgresMinConns = 1
	return storage.OpenPostgres(ctx, cfg)
}

// keygen issues an API key for a tenant and prints it once
func keygen(ctx context.Context, args []string) error {
	fs, postgresURL := adminFlags("keygen")
	orgID := fs.String("org", "", "tenant orgId")
	moduleName := fs.String("module", string(tenant.ModuleAuth), "key module: auth or logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *orgID == "" {
		return errors.New("-org is required")
	}
	module, err := tenant.ParseModule(*moduleName)
	if err != nil {
		return err
	}

	db, err := openAdminDB(ctx, *postgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	resolver := tenant.NewResolver(tenant.NewPostgresStore(db), auditLogger, metrics, false)

	key, err := resolver.IssueAPIKey(ctx, *orgID, module)
	if errors.Is(err, tenant.ErrKeyExists) {
		return fmt.Errorf("tenant %s already has a %s key; keys cannot be rotated in place", *orgID, module)
	}
	if err != nil {
		return err
	}

	fmt.Println(key)
	return nil
}

// seedRoles creates the built-in Admin and User roles for a tenant
func seedRoles(ctx context.Context, args []string) error {
	fs, postgresURL := adminFlags("seed-roles")
	orgID := fs.String("org", "", "tenant orgId")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *orgID == "" {
		return errors.New("-org is required")
	}

	db, err := openAdminDB(ctx, *postgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	t, err := tenant.NewPostgresStore(db).GetByOrgID(ctx, *orgID)
	if err != nil {
		return err
	}
	if err := rbac.NewSQLStore(db).SeedSystemRoles(ctx, t.ID); err != nil {
		return err
	}

	fmt.Printf("seeded system roles for %s (tenant %d)\n", t.OrgID, t.ID)
	return nil
}
