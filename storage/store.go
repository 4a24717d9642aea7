// Package storage places video payloads in durable storage. Payloads are
// addressed by opaque keys that never leave the server
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrExists     = errors.New("object already exists")
	ErrInvalidKey = errors.New("invalid object key")
)

// VideoPrefix is the namespace all video payloads live under
const VideoPrefix = "videos/"

type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is a durable blob store. Writes to distinct keys are independent of
// each other and Put never replaces an existing object
type Store interface {
	// Put writes the whole reader under key. size is a hint and may be -1
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Presigner is implemented by stores that can hand out temporary direct URLs
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var extensions = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"video/x-msvideo": ".avi",
}

// VideoKey returns the storage key for a video. It depends only on the
// generated ID and the validated content type, never on the client's filename
func VideoKey(id, contentType string) string {
	return VideoPrefix + id + extensions[contentType]
}

// IDFromKey is the inverse of VideoKey
func IDFromKey(key string) (string, bool) {
	name, ok := strings.CutPrefix(key, VideoPrefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}

	return strings.TrimSuffix(name, path.Ext(name)), true
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}
