package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"trustmesh.org/internal/cache"
	"trustmesh.org/internal/httpapi"
	"trustmesh.org/internal/obs"
	"trustmesh.org/internal/trust"
	"trustmesh.org/internal/trust/pg"
	"trustmesh.org/internal/validate"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	httpAddr := envOr("TRUSTMESH_HTTP_ADDR", ":8080")
	grpcAddr := envOr("TRUSTMESH_GRPC_ADDR", ":9090")

	// Persistent store when a DSN is configured; in-memory otherwise so the
	// service still runs for local development and smoke tests.
	var (
		store   trust.Store
		pgStore *pg.Store
	)
	if dsn := os.Getenv("TRUSTMESH_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	} else {
		log.Print("TRUSTMESH_PG_DSN not set, using in-memory store")
		store = trust.NewInMemory()
	}

	svc, err := trust.NewService(store)
	if err != nil {
		log.Fatalf("trust service: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure trust levels: %v", err)
	}
	cancel()

	counters := cache.NewInMemory()
	defer counters.Close()

	security := validate.NewSecurityValidator(counters, store)
	validator, err := validate.NewValidator(security, store, svc)
	if err != nil {
		log.Fatalf("validator: %v", err)
	}

	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	requireAuth := os.Getenv("TRUSTMESH_AUTH_SECRET") != ""
	api := httpapi.New(probe, version, validator, svc,
		httpapi.WithAuthRequired(requireAuth))

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	httpapi.RegisterGRPC(grpcSrv, probe)

	log.Printf("Starting trustmesh-api %s on %s (grpc %s)", version, httpAddr, grpcAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	// Relationship validity windows are enforced lazily on resolve; the
	// sweeper keeps stored rows and dashboards consistent.
	sweeperDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweeperDone:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if n, err := svc.ExpireDueRelationships(ctx); err != nil {
					obs.LogEntry("warn", "expire sweep failed", map[string]any{"error": err.Error()})
				} else if n > 0 {
					obs.LogEntry("info", "relationships expired", map[string]any{"count": n})
				}
				cancel()
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	close(sweeperDone)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
