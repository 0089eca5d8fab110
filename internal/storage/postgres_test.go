package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Runs against a scratch database when GRIP_TEST_DATABASE_URL is set.
func testPostgres(t *testing.T) *PostgresClient {
	t.Helper()
	dsn := os.Getenv("GRIP_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GRIP_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	p := &PostgresClient{pool: pool}
	t.Cleanup(p.Close)

	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE commands, telemetry`); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPostgres_CommandQueue(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()

	if _, err := p.FetchPendingCommand(ctx); !errors.Is(err, ErrNoPendingCommand) {
		t.Fatalf("empty queue error = %v", err)
	}

	now := time.Now()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO commands (id, type, value, created_at) VALUES
		('old', 'RELEASE', NULL, $1),
		('new', 'GRIP', 60, $2)
	`, now.Add(-time.Minute), now)
	if err != nil {
		t.Fatal(err)
	}

	cmd, err := p.FetchPendingCommand(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.ID != "new" || cmd.Kind != types.CommandGrip || cmd.TargetPressure() != 60 {
		t.Errorf("command = %+v", cmd)
	}

	if err := p.MarkCommandExecuted(ctx, "new"); err != nil {
		t.Fatal(err)
	}
	if err := p.MarkCommandExecuted(ctx, "new"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("second ack error = %v, want ErrCommandNotFound", err)
	}

	cmd, err = p.FetchPendingCommand(ctx)
	if err != nil || cmd.ID != "old" {
		t.Errorf("next pending = %+v, %v", cmd, err)
	}
}

func TestPostgres_InsertTelemetry(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()

	err := p.InsertTelemetry(ctx, types.TelemetrySample{
		DeviceID:      "grip-1",
		GripPressure:  12,
		MotorCurrent:  -0.02,
		PowerLevel:    100,
		ActuatorState: "idle",
		Faults:        []types.Fault{types.FaultCurrentSensor},
	})
	if err != nil {
		t.Fatal(err)
	}

	var faults []string
	var temperature *float64
	if err := p.pool.QueryRow(ctx, `SELECT faults, temperature FROM telemetry`).Scan(&faults, &temperature); err != nil {
		t.Fatal(err)
	}
	if len(faults) != 1 || faults[0] != "current_sensor_fault" || temperature != nil {
		t.Errorf("row = %v, %v", faults, temperature)
	}
}

func TestNewPostgresClient_Lazy(t *testing.T) {
	p, err := NewPostgresClient(context.Background(), config.DatabaseConfig{
		Host: "127.0.0.1", Port: 1, Database: "gripper", User: "gripper", SSLMode: "disable",
	})
	if err != nil {
		t.Fatalf("NewPostgresClient() error = %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Ping(ctx); err == nil {
		t.Error("Ping() against closed port succeeded")
	}
}
