package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"trustmesh.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("TRUSTMESH_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TRUSTMESH_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|verify|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "verify":
		err = verifyTrustCatalog(ctx, db)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// verifyTrustCatalog checks the seeded trust-level catalog: all five
// builtin tiers active and exactly one marked as the system default.
func verifyTrustCatalog(ctx context.Context, db *sql.DB) error {
	for _, name := range []string{"None", "Low", "Medium", "High", "Complete"} {
		var active bool
		err := db.QueryRowContext(ctx,
			`select is_active from trust_levels where name = $1`, name).Scan(&active)
		if err != nil {
			return fmt.Errorf("trust level %q: %w", name, err)
		}
		if !active {
			return fmt.Errorf("trust level %q is inactive", name)
		}
	}
	var defaults int
	err := db.QueryRowContext(ctx,
		`select count(*) from trust_levels where is_system_default`).Scan(&defaults)
	if err != nil {
		return fmt.Errorf("system default lookup: %w", err)
	}
	if defaults != 1 {
		return fmt.Errorf("expected exactly one system default trust level, found %d", defaults)
	}
	fmt.Println("trust level catalog verified")
	return nil
}
