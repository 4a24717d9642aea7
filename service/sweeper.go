package service

import (
	"bitwise74/clip-ingest/db"
	"bitwise74/clip-ingest/storage"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// OrphanSweeper removes payloads that never got a record, which happens only
// if the compensating delete after a failed insert failed as well.
// Objects younger than Grace are left alone since their upload may still be
// between the write and the insert
type OrphanSweeper struct {
	Store  storage.Store
	Videos db.VideoRepository
	Grace  time.Duration
	Now    func() time.Time
}

func NewOrphanSweeper(s storage.Store, r db.VideoRepository, grace time.Duration) *OrphanSweeper {
	return &OrphanSweeper{
		Store:  s,
		Videos: r,
		Grace:  grace,
		Now:    time.Now,
	}
}

// Sweep runs one pass and returns how many objects were removed
func (s *OrphanSweeper) Sweep(ctx context.Context) (int, error) {
	objects, err := s.Store.List(ctx, storage.VideoPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list stored videos, %w", err)
	}

	var removed atomic.Int32
	cutoff := s.Now().Add(-s.Grace)

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(4)

	for _, o := range objects {
		if o.ModTime.After(cutoff) {
			continue
		}

		id, ok := storage.IDFromKey(o.Key)
		if !ok {
			continue
		}

		p.Go(func(ctx context.Context) error {
			exists, err := s.Videos.Exists(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to check record %s, %w", id, err)
			}
			if exists {
				return nil
			}

			if err := s.Store.Delete(ctx, o.Key); err != nil {
				return fmt.Errorf("failed to delete orphan %s, %w", o.Key, err)
			}

			zap.L().Info("Removed orphaned payload", zap.String("key", o.Key), zap.Int64("size", o.Size))
			removed.Add(1)
			return nil
		})
	}

	err = p.Wait()
	return int(removed.Load()), err
}

// Schedule runs Sweep on the given cron spec until the returned cron is stopped
func (s *OrphanSweeper) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		n, err := s.Sweep(ctx)
		if err != nil {
			zap.L().Error("Orphan sweep failed", zap.Error(err))
			return
		}

		zap.L().Debug("Orphan sweep finished", zap.Int("removed", n))
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q, %w", spec, err)
	}

	zap.L().Debug("Orphan sweeper attached", zap.String("schedule", spec))

	c.Start()
	return c, nil
}
