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

	"konsol.org/internal/config"
	"konsol.org/internal/directory"
	"konsol.org/internal/health"
	"konsol.org/internal/httpapi"
	"konsol.org/internal/identity"
	"konsol.org/internal/obs"
	"konsol.org/internal/reconcile"
	"konsol.org/internal/secrets"
	"konsol.org/internal/store/pg"
)

// commit is injected at build time via -ldflags.
var commit = "unknown"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.InitBuildInfo(cfg.Version, commit)

	// Storage: Postgres when a DSN is supplied, in-memory otherwise.
	var (
		users    identity.UserStore
		auditLog identity.AuditStore
		dbProbe  health.Pinger
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		users, auditLog, dbProbe = store, store, store
	} else {
		log.Printf("KONSOL_PG_DSN not set, using in-memory store")
		mem := identity.NewMemoryStore()
		users, auditLog = mem, mem
	}

	// Directory: real client behind bounded retries, or the local no-op.
	var dirClient directory.Client
	if cfg.DirectoryConfigured() {
		rest, err := directory.NewRESTClient(cfg.DirectoryURL, cfg.DirectoryToken,
			directory.WithHTTPClient(&http.Client{Timeout: cfg.DirectoryTimeout}))
		if err != nil {
			log.Fatalf("directory client: %v", err)
		}
		dirClient = directory.NewRetrier(rest, directory.DefaultRetryPolicy())
	} else {
		log.Printf("KONSOL_DIRECTORY_URL not set, directory sync is local only")
		dirClient = directory.Nop{}
	}
	syncer, err := directory.NewAdapter(dirClient)
	if err != nil {
		log.Fatalf("directory adapter: %v", err)
	}

	svc, err := identity.NewService(users, auditLog, syncer)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	var dirProbe health.Pinger
	if cfg.DirectoryConfigured() {
		dirProbe = dirClient
	}
	sec := secrets.NewClient(cfg.SecretsURL, cfg.SecretsToken)

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: dbProbe}, dirProbe, sec, httpapi.Options{
		Version:         cfg.Version,
		TokenTTL:        cfg.AuthTokenTTL,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		RateLimitPerSec: cfg.RateLimitPerSec,
		RateLimitBurst:  cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// gRPC health endpoint for infrastructure probes.
	var grpcSrv *httpapi.GRPCServer
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = httpapi.NewGRPCServer(httpapi.ReadyProbe{DB: dbProbe})
		go func() {
			if err := grpcSrv.Serve(rootCtx, lis); err != nil {
				log.Printf("grpc serve: %v", err)
			}
		}()
	}

	// Background reconciler re-drives accounts with pending directory state.
	var rec *reconcile.Reconciler
	if cfg.ReconcileCron != "" {
		rec, err = reconcile.New(users, syncer, cfg.ReconcileBatch)
		if err != nil {
			log.Fatalf("reconciler: %v", err)
		}
		if err := rec.Start(cfg.ReconcileCron); err != nil {
			log.Fatalf("reconciler schedule: %v", err)
		}
	}

	log.Printf("Starting konsol-api %s on %s", cfg.Version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if rec != nil {
		rec.Stop()
	}
	log.Println("Stopped")
}
