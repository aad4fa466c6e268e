package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type cacheRecord struct {
	CacheKey  string `dynamodbav:"cacheKey"`
	Value     string `dynamodbav:"value"`
	ExpiresAt int64  `dynamodbav:"expiresAt,omitempty"`
}

// DynamoStore keeps cache entries in a DynamoDB table keyed by "cacheKey".
// The table's TTL attribute is "expiresAt"; expired rows are treated as misses
// until DynamoDB removes them.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string) *DynamoStore {
	if client == nil {
		panic("cachestore: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("cachestore: table name cannot be empty")
	}
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func (s *DynamoStore) Get(ctx context.Context, key string, dest any) error {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"cacheKey": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("cachestore: dynamodb get: %w", err)
	}
	if out.Item == nil {
		return ErrCacheMiss
	}
	var rec cacheRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return fmt.Errorf("cachestore: decode record %s: %w", key, err)
	}
	if rec.ExpiresAt > 0 && rec.ExpiresAt <= s.now().Unix() {
		return ErrCacheMiss
	}
	if err := json.Unmarshal([]byte(rec.Value), dest); err != nil {
		return fmt.Errorf("cachestore: decode %s: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cachestore: encode %s: %w", key, err)
	}
	rec := cacheRecord{CacheKey: key, Value: string(data)}
	if ttl > 0 {
		rec.ExpiresAt = s.now().Add(ttl).Unix()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("cachestore: marshal record: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("cachestore: dynamodb put: %w", err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"cacheKey": &types.AttributeValueMemberS{Value: key},
			},
		}); err != nil {
			return fmt.Errorf("cachestore: dynamodb delete: %w", err)
		}
	}
	return nil
}
