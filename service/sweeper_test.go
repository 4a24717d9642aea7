package service

import (
	"bitwise74/clip-ingest/storage"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrphanSweeper(t *testing.T) {
	ctx := context.Background()
	ing, store, repo := newTestIngestor(t)

	kept, err := ing.Ingest(ctx, upload("kept.mp4", []byte("kept")))
	require.NoError(t, err)

	orphan := storage.VideoKey("orphan", "video/mp4")
	require.NoError(t, store.Put(ctx, orphan, bytes.NewReader([]byte("lost")), 4, "video/mp4"))

	s := NewOrphanSweeper(store, repo, time.Hour)

	// Everything is fresh, nothing is touched
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	s.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Stat(ctx, orphan)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Stat(ctx, kept.StorageKey)
	assert.NoError(t, err)
}

func TestOrphanSweeperSchedule(t *testing.T) {
	_, store, repo := newTestIngestor(t)
	s := NewOrphanSweeper(store, repo, time.Hour)

	_, err := s.Schedule("not a schedule")
	assert.Error(t, err)

	c, err := s.Schedule("@every 1h")
	require.NoError(t, err)
	c.Stop()
}
