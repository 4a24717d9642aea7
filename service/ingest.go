// Package service contains the ingestion pipeline and the background work
// around it
package service

import (
	"bitwise74/clip-ingest/db"
	"bitwise74/clip-ingest/model"
	"bitwise74/clip-ingest/storage"
	"bitwise74/clip-ingest/validators"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMissingPayload        = errors.New("no file provided")
	ErrStorageWriteFailed    = errors.New("failed to store video")
	ErrMetadataPersistFailed = errors.New("failed to save video record")
)

const cleanupTimeout = 30 * time.Second

// Upload is a single transfer as received by the endpoint
type Upload struct {
	Filename    string
	ContentType string
	Size        int64 // Declared size, -1 if unknown
	Body        io.Reader
}

// Ingestor writes a payload to storage and registers its record. A record
// only ever exists for a payload that was fully written
type Ingestor struct {
	Store  storage.Store
	Videos db.VideoRepository
	Policy validators.Policy

	Now   func() time.Time
	NewID func() string
}

func NewIngestor(s storage.Store, r db.VideoRepository, p validators.Policy) *Ingestor {
	return &Ingestor{
		Store:  s,
		Videos: r,
		Policy: p,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Ingest stores the upload and returns the created record. The ceiling is
// enforced on the bytes actually read, not only on the declared size
func (i *Ingestor) Ingest(ctx context.Context, u Upload) (*model.Video, error) {
	if u.Body == nil {
		return nil, ErrMissingPayload
	}

	if err := validators.ValidateCandidate(i.Policy, u.ContentType, u.Size); err != nil {
		return nil, err
	}

	id := i.NewID()
	key := storage.VideoKey(id, u.ContentType)
	log := zap.L().With(zap.String("video_id", id))

	h := sha256.New()
	cr := &countingReader{r: io.LimitReader(u.Body, i.Policy.MaxSize+1)}

	now := time.Now()
	log.Debug("Writing video payload", zap.String("key", key), zap.Int64("declared_size", u.Size))

	err := i.Store.Put(ctx, key, io.TeeReader(cr, h), u.Size, u.ContentType)
	if err != nil {
		if !errors.Is(err, storage.ErrExists) {
			i.cleanup(key)
		}

		return nil, fmt.Errorf("%w, %w", ErrStorageWriteFailed, err)
	}

	if cr.n > i.Policy.MaxSize {
		i.cleanup(key)
		return nil, &validators.ValidationError{
			Reason:      validators.TooLarge,
			ContentType: u.ContentType,
			Size:        cr.n,
			Limit:       i.Policy.MaxSize,
		}
	}

	if u.Size >= 0 && cr.n != u.Size {
		i.cleanup(key)
		return nil, fmt.Errorf("%w, wrote %d of %d declared bytes", ErrStorageWriteFailed, cr.n, u.Size)
	}

	log.Debug("Video payload written", zap.Duration("took", time.Since(now)), zap.Int64("size", cr.n))

	v := &model.Video{
		ID:          id,
		Filename:    u.Filename,
		StorageKey:  key,
		ContentType: u.ContentType,
		Size:        cr.n,
		Checksum:    hex.EncodeToString(h.Sum(nil)),
		CreatedAt:   i.Now().UnixMilli(),
	}

	if err := i.Videos.Create(ctx, v); err != nil {
		i.cleanup(key)
		return nil, fmt.Errorf("%w, %w", ErrMetadataPersistFailed, err)
	}

	return v, nil
}

// cleanup removes a payload that has no record. The request context may be
// gone already so it runs on its own deadline
func (i *Ingestor) cleanup(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := i.Store.Delete(ctx, key); err != nil {
		zap.L().Error("Failed to cleanup after failed upload", zap.String("key", key), zap.Error(err))
		return
	}

	zap.L().Debug("Cleaned up after failed upload", zap.String("key", key))
}
