package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoTables names the three tables the store reads and writes
type DynamoTables struct {
	Util   string // rate limit + active prompt id
	Prompt string
	Audit  string
}

// DynamoStore implements Store on DynamoDB using the item layout the
// dashboards already read
type DynamoStore struct {
	client DynamoAPI
	tables DynamoTables
}

// NewDynamoStore creates a new DynamoDB-backed store
func NewDynamoStore(client DynamoAPI, tables DynamoTables) *DynamoStore {
	return &DynamoStore{client: client, tables: tables}
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

// getItem reads one item; a missing item is ErrNotFound
func (d *DynamoStore) getItem(ctx context.Context, table, id string) (map[string]types.AttributeValue, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       idKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, id, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

// getString reads one string attribute; a missing item or attribute is ErrNotFound
func (d *DynamoStore) getString(ctx context.Context, table, id, attr string) (string, error) {
	item, err := d.getItem(ctx, table, id)
	if err != nil {
		return "", err
	}
	value, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", ErrNotFound
	}
	return value.Value, nil
}

func (d *DynamoStore) putStrings(ctx context.Context, table string, item map[string]string) error {
	av := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		av[k] = &types.AttributeValueMemberS{Value: v}
	}
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", table, item["id"], err)
	}
	return nil
}

func (d *DynamoStore) GetRateLimit(ctx context.Context) (*RateLimitState, error) {
	item, err := d.getItem(ctx, d.tables.Util, RateLimitID)
	if err != nil {
		return nil, err
	}

	switch v := item["timestamp"].(type) {
	case *types.AttributeValueMemberS:
		at, err := ParseTimestamp(v.Value)
		if err != nil {
			return malformedRateLimit(v.Value, err)
		}
		return &RateLimitState{LastInvokedAt: at, Revision: v.Value}, nil
	case nil:
		return malformedRateLimit("", errors.New("timestamp attribute missing"))
	default:
		// Only string attributes can be compared against :prev
		return malformedRateLimit("", fmt.Errorf("timestamp attribute has type %T", v))
	}
}

func (d *DynamoStore) PutRateLimit(ctx context.Context, at time.Time, prev *RateLimitState) error {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(d.tables.Util),
		Item: map[string]types.AttributeValue{
			"id":        &types.AttributeValueMemberS{Value: RateLimitID},
			"timestamp": &types.AttributeValueMemberS{Value: FormatTimestamp(at)},
		},
	}
	switch {
	case prev == nil:
		input.ConditionExpression = aws.String("attribute_not_exists(id)")
	case prev.Malformed:
		// Unconditional overwrite repairs the record
	default:
		input.ConditionExpression = aws.String("#ts = :prev")
		input.ExpressionAttributeNames = map[string]string{"#ts": "timestamp"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberS{Value: prev.Revision},
		}
	}

	if _, err := d.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConditionFailed
		}
		return fmt.Errorf("failed to put rate limit: %w", err)
	}
	return nil
}

func (d *DynamoStore) GetActivePromptID(ctx context.Context) (string, error) {
	return d.getString(ctx, d.tables.Util, ActivePromptID, "prompt_id")
}

func (d *DynamoStore) PutActivePromptID(ctx context.Context, id string) error {
	return d.putStrings(ctx, d.tables.Util, map[string]string{"id": ActivePromptID, "prompt_id": id})
}

func (d *DynamoStore) GetPrompt(ctx context.Context, id string) (string, error) {
	return d.getString(ctx, d.tables.Prompt, id, "prompt")
}

func (d *DynamoStore) PutPrompt(ctx context.Context, id, text string) error {
	return d.putStrings(ctx, d.tables.Prompt, map[string]string{"id": id, "prompt": text})
}

func (d *DynamoStore) PutAudit(ctx context.Context, rec AuditRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tables.Audit),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put audit record: %w", err)
	}
	return nil
}

func (d *DynamoStore) GetAudit(ctx context.Context, id string) (*AuditRecord, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tables.Audit),
		Key:       idKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var rec AuditRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit record: %w", err)
	}
	return &rec, nil
}
