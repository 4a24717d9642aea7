package db

import (
	"bitwise74/clip-ingest/model"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := in.Item["id"].(*types.AttributeValueMemberS).Value
	if _, ok := f.items[id]; ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}

	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := in.Key["id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

func sampleVideo(id string) *model.Video {
	return &model.Video{
		ID:          id,
		Filename:    "same.mp4",
		StorageKey:  "videos/" + id + ".mp4",
		ContentType: "video/mp4",
		Size:        1024,
		Checksum:    "abc",
		CreatedAt:   time.Now().UnixMilli(),
	}
}

func repositories(t *testing.T) map[string]VideoRepository {
	t.Helper()

	gormRepo, err := Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)

	return map[string]VideoRepository{
		"gorm":   gormRepo,
		"memory": NewMemoryVideoRepository(),
		"dynamo": NewDynamoVideoRepository(newFakeDynamo(), "videos"),
	}
}

func TestRepositories(t *testing.T) {
	ctx := context.Background()

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			ok, err := repo.Exists(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			a := sampleVideo("11111111-1111-1111-1111-111111111111")
			b := sampleVideo("22222222-2222-2222-2222-222222222222")
			require.NoError(t, repo.Create(ctx, a))
			require.NoError(t, repo.Create(ctx, b))

			got, err := repo.Get(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, a, got)

			ok, err = repo.Exists(ctx, b.ID)
			require.NoError(t, err)
			assert.True(t, ok)

			// Same filename is fine, same ID is not
			err = repo.Create(ctx, sampleVideo(a.ID))
			assert.ErrorIs(t, err, ErrDuplicate)
		})
	}
}

func TestDynamoAttributeNames(t *testing.T) {
	fake := newFakeDynamo()
	repo := NewDynamoVideoRepository(fake, "videos")

	v := sampleVideo("33333333-3333-3333-3333-333333333333")
	require.NoError(t, repo.Create(context.Background(), v))

	item := fake.items[v.ID]
	for _, key := range []string{"id", "filename", "storageKey", "contentType", "size", "checksum", "createdAt"} {
		assert.Contains(t, item, key)
	}
}
