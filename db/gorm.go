package db

import (
	"bitwise74/clip-ingest/model"
	"context"
	"errors"

	"gorm.io/gorm"
)

type GormVideoRepository struct {
	db *gorm.DB
}

func (r *GormVideoRepository) Create(ctx context.Context, v *model.Video) error {
	err := r.db.
		WithContext(ctx).
		Create(v).
		Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}

	return err
}

func (r *GormVideoRepository) Get(ctx context.Context, id string) (*model.Video, error) {
	var v model.Video

	err := r.db.
		WithContext(ctx).
		Where("id = ?", id).
		First(&v).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return &v, nil
}

func (r *GormVideoRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64

	err := r.db.
		WithContext(ctx).
		Model(model.Video{}).
		Where("id = ?", id).
		Count(&count).
		Error

	return count > 0, err
}
