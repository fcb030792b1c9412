package persist

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"loxvm/internal/value"
)

// DynamoDB persists one session's globals as one item per
// (SessionID, Name), wired up the same way the teacher's standalone
// DynamoDB plugin wires up a client: config.LoadDefaultConfig,
// dynamodb.NewFromConfig, attributevalue for marshaling.
type DynamoDB struct {
	client *dynamodb.Client
	table  string
}

type dynamoItem struct {
	SessionID string `dynamodbav:"SessionID"`
	Name      string `dynamodbav:"Name"`
	ValueType string `dynamodbav:"ValueType"`
	ValueBool bool   `dynamodbav:"ValueBool"`
	ValueNum  float64 `dynamodbav:"ValueNum"`
	ValueStr  string `dynamodbav:"ValueStr"`
}

func OpenDynamoDB(ctx context.Context, region, table string) (*DynamoDB, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("persist: load aws config: %w", err)
	}
	return &DynamoDB{client: dynamodb.NewFromConfig(cfg), table: table}, nil
}

func (d *DynamoDB) Load(session string, intern func(string) *value.ObjString) ([]Global, error) {
	ctx := context.Background()

	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("SessionID = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: session},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("persist: query session %q: %w", session, err)
	}

	globals := make([]Global, 0, len(out.Items))
	for _, item := range out.Items {
		var row dynamoItem
		if err := attributevalue.UnmarshalMap(item, &row); err != nil {
			return nil, fmt.Errorf("persist: unmarshal item: %w", err)
		}
		v, err := decodeValue(encodedValue{
			Type: row.ValueType,
			Bool: row.ValueBool,
			Num:  row.ValueNum,
			Str:  row.ValueStr,
		}, intern)
		if err != nil {
			return nil, err
		}
		globals = append(globals, Global{Name: row.Name, Value: v})
	}
	return globals, nil
}

func (d *DynamoDB) Save(session string, globals []Global) error {
	ctx := context.Background()

	for _, g := range globals {
		enc := encodeValue(g.Value)
		row := dynamoItem{
			SessionID: session,
			Name:      g.Name,
			ValueType: enc.Type,
			ValueBool: enc.Bool,
			ValueNum:  enc.Num,
			ValueStr:  enc.Str,
		}
		av, err := attributevalue.MarshalMap(row)
		if err != nil {
			return fmt.Errorf("persist: marshal global %q: %w", g.Name, err)
		}
		_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(d.table),
			Item:      av,
		})
		if err != nil {
			return fmt.Errorf("persist: put global %q: %w", g.Name, err)
		}
	}
	return nil
}

func (d *DynamoDB) Close() error {
	return nil
}
