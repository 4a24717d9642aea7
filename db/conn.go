// Package db contains the metadata store for video records
package db

import (
	"bitwise74/clip-ingest/aws"
	"bitwise74/clip-ingest/config"
	"bitwise74/clip-ingest/model"
	"bitwise74/clip-ingest/util"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New opens the metadata store selected by db.driver
func New(ctx context.Context, c *config.Config) (VideoRepository, error) {
	switch c.DB.Driver {
	case "sqlite":
		// If running in a docker container don't allow the sqlite file to be created.
		// The host should instead mount it using volumes
		if util.IsRunningInDocker() {
			if _, err := os.Stat(c.DB.DSN); errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("SQLite database file not mounted, please use docker volumes to mount it to /app/%s", c.DB.DSN)
			}
		}

		return Open(sqlite.Open(c.DB.DSN))
	case "postgres":
		return Open(postgres.Open(c.DB.DSN))
	case "dynamodb":
		cfg, err := aws.NewConfig(ctx, c.AWS)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config, %w", err)
		}

		client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if c.AWS.Endpoint != "" {
				o.BaseEndpoint = &c.AWS.Endpoint
			}
		})

		return NewDynamoVideoRepository(client, c.DB.Table), nil
	case "memory":
		return NewMemoryVideoRepository(), nil
	}

	return nil, fmt.Errorf("unsupported database driver %q", c.DB.Driver)
}

// Open connects gorm through the given dialector and migrates the schema
func Open(d gorm.Dialector) (*GormVideoRepository, error) {
	db, err := gorm.Open(d, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database, %w", err)
	}

	err = db.AutoMigrate(model.Video{})
	if err != nil {
		return nil, fmt.Errorf("failed to automigrate tables, %w", err)
	}

	return &GormVideoRepository{db: db}, nil
}
