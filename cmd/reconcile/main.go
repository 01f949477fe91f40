// Command reconcile runs one directory reconciliation sweep and exits. It is
// meant for cron jobs and manual remediation; the api binary runs the same
// sweep on a schedule in process.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"konsol.org/internal/config"
	"konsol.org/internal/directory"
	"konsol.org/internal/reconcile"
	"konsol.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		batch   = flag.Int("batch", 0, "Max accounts per sweep (default from KONSOL_RECONCILE_BATCH)")
		timeout = flag.Duration("timeout", 5*time.Minute, "Overall sweep timeout")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("KONSOL_PG_DSN is required")
	}
	if !cfg.DirectoryConfigured() {
		log.Fatal("KONSOL_DIRECTORY_URL is required")
	}
	if *batch <= 0 {
		*batch = cfg.ReconcileBatch
	}

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	rest, err := directory.NewRESTClient(cfg.DirectoryURL, cfg.DirectoryToken,
		directory.WithHTTPClient(&http.Client{Timeout: cfg.DirectoryTimeout}))
	if err != nil {
		log.Fatalf("directory client: %v", err)
	}
	syncer, err := directory.NewAdapter(directory.NewRetrier(rest, directory.DefaultRetryPolicy()))
	if err != nil {
		log.Fatalf("directory adapter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rec, err := reconcile.New(store, syncer, *batch)
	if err != nil {
		log.Fatalf("reconciler: %v", err)
	}
	repaired, err := rec.RunOnce(ctx)
	if err != nil {
		log.Fatalf("sweep: %v", err)
	}
	log.Printf("sweep complete: %d repaired", repaired)
}
