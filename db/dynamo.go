package db

import (
	"bitwise74/clip-ingest/model"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the part of the DynamoDB client the repository needs
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoVideoRepository stores one item per video keyed by "id"
type DynamoVideoRepository struct {
	c     DynamoAPI
	table *string
}

func NewDynamoVideoRepository(c DynamoAPI, table string) *DynamoVideoRepository {
	return &DynamoVideoRepository{
		c:     c,
		table: aws.String(table),
	}
}

func (r *DynamoVideoRepository) Create(ctx context.Context, v *model.Video) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("failed to marshal video, %w", err)
	}

	_, err = r.c.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           r.table,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicate
		}

		return fmt.Errorf("failed to put video item, %w", err)
	}

	return nil
}

func (r *DynamoVideoRepository) Get(ctx context.Context, id string) (*model.Video, error) {
	out, err := r.c.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      r.table,
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get video item, %w", err)
	}

	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var v model.Video
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video, %w", err)
	}

	return &v, nil
}

func (r *DynamoVideoRepository) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	return err == nil, err
}
