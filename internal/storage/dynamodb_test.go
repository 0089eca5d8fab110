package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeDynamo struct {
	queryIn  *dynamodb.QueryInput
	updateIn *dynamodb.UpdateItemInput
	putIn    *dynamodb.PutItemInput

	items     []map[string]ddbtypes.AttributeValue
	updateErr error
	err       error
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.QueryOutput{Items: f.items}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateIn = in
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.PutItemOutput{}, nil
}

func testDynamo(api DynamoAPI) *DynamoClient {
	d := NewDynamoClientWithAPI(api, config.DynamoDBConfig{
		CommandsTable:  "commands",
		StatusIndex:    "status-created_at-index",
		TelemetryTable: "telemetry",
		TelemetryTTL:   24 * time.Hour,
	})
	d.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return d
}

func TestDynamo_FetchPendingCommand(t *testing.T) {
	value := 40.0
	item, err := attributevalue.MarshalMap(commandItem{
		ID: "c-42", Type: "grip", Value: &value, Status: "pending", CreatedAt: 1_699_999_999_000,
	})
	if err != nil {
		t.Fatal(err)
	}

	api := &fakeDynamo{items: []map[string]ddbtypes.AttributeValue{item}}
	cmd, err := testDynamo(api).FetchPendingCommand(context.Background())
	if err != nil {
		t.Fatalf("FetchPendingCommand() error = %v", err)
	}

	if cmd.ID != "c-42" || cmd.Kind != types.CommandGrip || cmd.TargetPressure() != 40 {
		t.Errorf("command = %+v", cmd)
	}
	if cmd.Origin != types.OriginQueue || !cmd.CreatedAt.Equal(time.UnixMilli(1_699_999_999_000)) {
		t.Errorf("origin/created_at = %s/%s", cmd.Origin, cmd.CreatedAt)
	}

	in := api.queryIn
	if aws.ToString(in.IndexName) != "status-created_at-index" {
		t.Errorf("IndexName = %s", aws.ToString(in.IndexName))
	}
	if in.ScanIndexForward == nil || *in.ScanIndexForward {
		t.Error("query must be newest first")
	}
	if aws.ToInt32(in.Limit) != 1 {
		t.Errorf("Limit = %d, want 1", aws.ToInt32(in.Limit))
	}
}

func TestDynamo_FetchPendingCommandEmpty(t *testing.T) {
	_, err := testDynamo(&fakeDynamo{}).FetchPendingCommand(context.Background())
	if !errors.Is(err, ErrNoPendingCommand) {
		t.Errorf("error = %v, want ErrNoPendingCommand", err)
	}
}

func TestDynamo_MarkCommandExecuted(t *testing.T) {
	api := &fakeDynamo{}
	if err := testDynamo(api).MarkCommandExecuted(context.Background(), "c-42"); err != nil {
		t.Fatal(err)
	}

	key, ok := api.updateIn.Key["id"].(*ddbtypes.AttributeValueMemberS)
	if !ok || key.Value != "c-42" {
		t.Errorf("Key = %v", api.updateIn.Key)
	}
	if aws.ToString(api.updateIn.ConditionExpression) != "#s = :pending" {
		t.Errorf("ConditionExpression = %s", aws.ToString(api.updateIn.ConditionExpression))
	}

	api.updateErr = &ddbtypes.ConditionalCheckFailedException{Message: aws.String("already executed")}
	err := testDynamo(api).MarkCommandExecuted(context.Background(), "c-42")
	if !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("error = %v, want ErrCommandNotFound", err)
	}
}

func TestDynamo_InsertTelemetry(t *testing.T) {
	api := &fakeDynamo{}
	temp := 21.5

	sample := types.TelemetrySample{
		DeviceID:      "grip-1",
		GripPressure:  50,
		MotorCurrent:  0.25,
		Temperature:   &temp,
		PowerLevel:    100,
		ActuatorState: "engaging",
		Faults:        []types.Fault{types.FaultOverPressure},
	}
	if err := testDynamo(api).InsertTelemetry(context.Background(), sample); err != nil {
		t.Fatal(err)
	}

	var got telemetryItem
	if err := attributevalue.UnmarshalMap(api.putIn.Item, &got); err != nil {
		t.Fatal(err)
	}
	if got.DeviceID != "grip-1" || got.GripPressure != 50 || got.ActuatorState != "engaging" {
		t.Errorf("item = %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 21.5 || got.Humidity != nil {
		t.Errorf("environment = %v/%v", got.Temperature, got.Humidity)
	}
	if len(got.Faults) != 1 || got.Faults[0] != "over_pressure" {
		t.Errorf("faults = %v", got.Faults)
	}
	if got.ExpiresAt != 1_700_000_000+24*3600 {
		t.Errorf("expires_at = %d", got.ExpiresAt)
	}
}

func TestDynamo_TransportError(t *testing.T) {
	api := &fakeDynamo{err: errors.New("connection reset")}
	if _, err := testDynamo(api).FetchPendingCommand(context.Background()); err == nil || errors.Is(err, ErrNoPendingCommand) {
		t.Errorf("error = %v", err)
	}
	if err := testDynamo(api).InsertTelemetry(context.Background(), types.TelemetrySample{}); err == nil {
		t.Error("InsertTelemetry() swallowed transport error")
	}
}
