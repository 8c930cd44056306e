package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/registry"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoDBKVStore implements the core.KVStore interface using AWS DynamoDB.
// Items use a string partition key "key", a binary "value" and an optional numeric "ttl".
type DynamoDBKVStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *zap.SugaredLogger
	closed    bool
}

// NewDynamoDBKVStore loads AWS configuration and verifies that the table exists.
func NewDynamoDBKVStore(region, tableName, endpoint, accessKeyID, secretAccessKey string, logger *zap.SugaredLogger) (*DynamoDBKVStore, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if accessKeyID != "" && secretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
	}

	var clientOptions []func(*dynamodb.Options)
	if endpoint != "" {
		// Custom endpoint (e.g., LocalStack)
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	client := dynamodb.NewFromConfig(cfg, clientOptions...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", tableName, err)
	}

	return NewDynamoDBKVStoreWithClient(client, tableName, logger), nil
}

// NewDynamoDBKVStoreWithClient wraps an existing client.
func NewDynamoDBKVStoreWithClient(client DynamoDBAPI, tableName string, logger *zap.SugaredLogger) *DynamoDBKVStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &DynamoDBKVStore{client: client, tableName: tableName, logger: logger}
}

// Get retrieves a value by key from the store.
func (d *DynamoDBKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if d.closed {
		return nil, ErrStoreClosed
	}

	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		d.logger.Errorw("get failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if result.Item == nil || itemExpired(result.Item) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}

	valueMember, ok := result.Item["value"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("invalid value format for key %s", key)
	}

	d.logger.Debugw("get", "key", key, "bytes", len(valueMember.Value))
	return valueMember.Value, nil
}

// Set stores a key-value pair with an optional TTL.
func (d *DynamoDBKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if d.closed {
		return ErrStoreClosed
	}

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      dynamoItem(key, value, ttl),
	})
	if err != nil {
		d.logger.Errorw("set failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	d.logger.Debugw("set", "key", key, "bytes", len(value), "ttl", ttl)
	return nil
}

// Delete removes a key from the store.
func (d *DynamoDBKVStore) Delete(ctx context.Context, key string) error {
	if d.closed {
		return ErrStoreClosed
	}

	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}},
	})
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (d *DynamoDBKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if d.closed {
		return false, ErrStoreClosed
	}

	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(d.tableName),
		Key:                      map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}},
		ProjectionExpression:     aws.String("#k, #t"),
		ExpressionAttributeNames: map[string]string{"#k": "key", "#t": "ttl"},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return result.Item != nil && !itemExpired(result.Item), nil
}

// BatchSet writes all items in a single TransactWriteItems call so the pending
// queue and history never diverge on partial failure. DynamoDB caps a
// transaction at 100 items.
func (d *DynamoDBKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if d.closed {
		return ErrStoreClosed
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) > 100 {
		return fmt.Errorf("batch of %d items exceeds the DynamoDB transaction limit", len(items))
	}

	writes := make([]types.TransactWriteItem, 0, len(items))
	for key, value := range items {
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(d.tableName),
				Item:      dynamoItem(key, value, ttl),
			},
		})
	}

	if _, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		return fmt.Errorf("failed to batch set keys: %w", err)
	}
	return nil
}

// Close marks the store closed. The DynamoDB client holds no connection to release.
func (d *DynamoDBKVStore) Close() error {
	d.closed = true
	return nil
}

func dynamoItem(key string, value []byte, ttl time.Duration) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"key":        &types.AttributeValueMemberS{Value: key},
		"value":      &types.AttributeValueMemberB{Value: value},
		"updated_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	if ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)}
	}
	return item
}

// itemExpired reports whether the item's ttl attribute lies in the past.
// DynamoDB deletes expired items lazily, so reads must check it.
func itemExpired(item map[string]types.AttributeValue) bool {
	ttlMember, ok := item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlMember.Value, 10, 64)
	if err != nil {
		return false
	}
	return time.Now().Unix() > ttl
}

// DynamoDBKVStoreFactory implements the KVStoreFactory interface for DynamoDB.
type DynamoDBKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *DynamoDBKVStoreFactory) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB-specific configuration.
func (f *DynamoDBKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	}
	if config.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if config.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	return nil
}

// Create creates a new DynamoDB KV store instance based on the provided configuration.
func (f *DynamoDBKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	dynamoStore, err := NewDynamoDBKVStore(
		config.Region,
		config.TableName,
		config.Endpoint,
		config.AccessKeyID,
		config.SecretAccessKey,
		config.logger().Named("kvstore.dynamodb"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB KV store: %w", err)
	}
	return dynamoStore, nil
}

// DynamoDBConfigValidator implements the ConfigValidator interface for DynamoDB.
type DynamoDBConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *DynamoDBConfigValidator) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB-specific configuration in the internal config.
func (v *DynamoDBConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	kvConfig := config.KVStore
	if kvConfig.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB validator: %s", kvConfig.Type)
	}
	if kvConfig.DynamoDBConfig.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if kvConfig.DynamoDBConfig.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}

	return validateTimeouts(kvConfig)
}

// init auto-registers the DynamoDB factory and validator on package initialization.
func init() {
	RegisterFactory(&DynamoDBKVStoreFactory{})
	registry.RegisterValidator(&DynamoDBConfigValidator{})
}
