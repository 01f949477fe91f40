// Package reconcile re-drives directory synchronization for accounts whose
// local state committed but whose directory mirror never confirmed.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"konsol.org/internal/identity"
	"konsol.org/internal/obs"
)

// Reconciler sweeps accounts flagged directory-pending and replays their
// sync. It is safe to run concurrently with live traffic: replaying an
// already-synced account is a no-op on the directory side.
type Reconciler struct {
	users identity.UserStore
	dir   identity.DirectorySyncer
	batch int

	cron *cron.Cron
}

// New builds a reconciler sweeping up to batch accounts per run.
func New(users identity.UserStore, dir identity.DirectorySyncer, batch int) (*Reconciler, error) {
	if users == nil {
		return nil, errors.New("reconcile: user store is required")
	}
	if dir == nil {
		return nil, errors.New("reconcile: directory syncer is required")
	}
	if batch <= 0 {
		batch = 100
	}
	return &Reconciler{users: users, dir: dir, batch: batch}, nil
}

// RunOnce performs one sweep and reports how many accounts were repaired.
// Accounts that still fail stay flagged and are retried on the next sweep.
func (r *Reconciler) RunOnce(ctx context.Context) (repaired int, err error) {
	pending, err := r.users.ListDirectoryPending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	for _, account := range pending {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		if err := r.replay(ctx, account); err != nil {
			obs.LogRequest(map[string]any{
				"level": "warn", "msg": "reconcile_replay_failed",
				"user_id": account.ID, "error": err.Error(),
			})
			continue
		}
		repaired++
	}
	obs.LogRequest(map[string]any{
		"level": "info", "msg": "reconcile_sweep",
		"pending": len(pending), "repaired": repaired,
	})
	return repaired, nil
}

func (r *Reconciler) replay(ctx context.Context, account *identity.UserAccount) error {
	extID := account.ExternalID
	if extID == "" {
		created, err := r.dir.CreateMapping(ctx, account)
		if err != nil {
			return err
		}
		extID = created
	} else {
		if err := r.dir.SyncRole(ctx, extID, account.Role); err != nil {
			return err
		}
	}
	return r.users.SetDirectoryState(ctx, account.ID, extID, false)
}

// Start schedules periodic sweeps using the given cron spec and returns
// immediately. Stop must be called on shutdown.
func (r *Reconciler) Start(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			obs.LogRequest(map[string]any{
				"level": "error", "msg": "reconcile_sweep_failed", "error": err.Error(),
			})
		}
	})
	if err != nil {
		return err
	}
	r.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}
