package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of *dynamodb.Client the store uses.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoClient keeps commands and telemetry in DynamoDB. The commands table
// needs a GSI with partition key status and sort key created_at.
type DynamoClient struct {
	Client         DynamoAPI
	CommandsTable  string
	StatusIndex    string
	TelemetryTable string
	TelemetryTTL   time.Duration
	now            func() time.Time
}

func NewDynamoClient(ctx context.Context, cfg config.DynamoDBConfig) (*DynamoClient, error) {
	if cfg.CommandsTable == "" || cfg.TelemetryTable == "" {
		return nil, fmt.Errorf("dynamodb commands_table and telemetry_table must be set")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewDynamoClientWithAPI(client, cfg), nil
}

func NewDynamoClientWithAPI(api DynamoAPI, cfg config.DynamoDBConfig) *DynamoClient {
	return &DynamoClient{
		Client:         api,
		CommandsTable:  cfg.CommandsTable,
		StatusIndex:    cfg.StatusIndex,
		TelemetryTable: cfg.TelemetryTable,
		TelemetryTTL:   cfg.TelemetryTTL,
		now:            time.Now,
	}
}

func (d *DynamoClient) FetchPendingCommand(ctx context.Context) (*types.Command, error) {
	out, err := d.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.CommandsTable),
		IndexName:              aws.String(d.StatusIndex),
		KeyConditionExpression: aws.String("#s = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pending": &ddbtypes.AttributeValueMemberS{Value: string(types.CommandPending)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pending commands: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNoPendingCommand
	}

	var item commandItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}

	cmd := item.command()
	return &cmd, nil
}

func (d *DynamoClient) MarkCommandExecuted(ctx context.Context, id string) error {
	_, err := d.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.CommandsTable),
		Key: map[string]ddbtypes.AttributeValue{
			"id": &ddbtypes.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET #s = :executed, executed_at = :now"),
		ConditionExpression: aws.String("#s = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":executed": &ddbtypes.AttributeValueMemberS{Value: string(types.CommandExecuted)},
			":pending":  &ddbtypes.AttributeValueMemberS{Value: string(types.CommandPending)},
			":now":      &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(d.now().UnixMilli(), 10)},
		},
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
		}
		return fmt.Errorf("failed to mark command executed: %w", err)
	}
	return nil
}

func (d *DynamoClient) InsertTelemetry(ctx context.Context, s types.TelemetrySample) error {
	item, err := attributevalue.MarshalMap(newTelemetryItem(s, d.now(), d.TelemetryTTL))
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	_, err = d.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.TelemetryTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store telemetry in dynamodb: %w", err)
	}
	return nil
}
