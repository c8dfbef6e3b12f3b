package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zhifu/donation-flow/models"
)

// DynamoAPI 用到的 DynamoDB 操作，*dynamodb.Client 满足该接口
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// NewDynamoClient 按默认凭证链创建客户端
func NewDynamoClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// DynamoRestorationStore 多实例部署时的快照存储，过期由表的 TTL(expires_at) 清理
type DynamoRestorationStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// NewDynamoRestorationStore 创建 DynamoDB 快照存储
func NewDynamoRestorationStore(client DynamoAPI, tableName string) *DynamoRestorationStore {
	return &DynamoRestorationStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

func (r *DynamoRestorationStore) key(key string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"session_key": &dynamodbtypes.AttributeValueMemberS{Value: key},
	}
}

func (r *DynamoRestorationStore) Put(ctx context.Context, snap models.RestorationSnapshot) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}
	if snap.Key == "" {
		return ErrMissingKey
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = r.now()
	}

	item, err := attributevalue.MarshalMap(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal restoration snapshot: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save restoration snapshot to DynamoDB: %w", err)
	}
	log.Printf("DEBUG: restoration snapshot saved to DynamoDB: %s", snap.Key)
	return nil
}

func (r *DynamoRestorationStore) Get(ctx context.Context, key string) (models.RestorationSnapshot, bool, error) {
	if r.client == nil {
		return models.RestorationSnapshot{}, false, fmt.Errorf("DynamoDB client not initialized")
	}
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.RestorationSnapshot{}, false, fmt.Errorf("failed to get restoration snapshot: %w", err)
	}
	if result.Item == nil {
		return models.RestorationSnapshot{}, false, nil
	}

	var snap models.RestorationSnapshot
	if err := attributevalue.UnmarshalMap(result.Item, &snap); err != nil {
		return models.RestorationSnapshot{}, false, fmt.Errorf("failed to unmarshal restoration snapshot: %w", err)
	}
	// TTL 删除有延迟，过期项按不存在处理
	if snap.ExpiresAt > 0 && r.now().Unix() >= snap.ExpiresAt {
		return models.RestorationSnapshot{}, false, nil
	}
	return snap, true, nil
}

func (r *DynamoRestorationStore) Clear(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete restoration snapshot: %w", err)
	}
	return nil
}
