package db

import (
	"bitwise74/clip-ingest/model"
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("video not found")
	ErrDuplicate = errors.New("video already exists")
)

// VideoRepository is the metadata store for video records. Every Create is
// an independent insert, implementations never update an existing record
type VideoRepository interface {
	Create(ctx context.Context, v *model.Video) error
	Get(ctx context.Context, id string) (*model.Video, error)
	Exists(ctx context.Context, id string) (bool, error)
}
