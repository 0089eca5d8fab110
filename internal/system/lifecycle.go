package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/actuator"
	"github.com/KevinKickass/OpenGripCore/internal/api/rest"
	"github.com/KevinKickass/OpenGripCore/internal/api/websocket"
	"github.com/KevinKickass/OpenGripCore/internal/auth"
	"github.com/KevinKickass/OpenGripCore/internal/commands"
	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/control"
	"github.com/KevinKickass/OpenGripCore/internal/devices"
	"github.com/KevinKickass/OpenGripCore/internal/interfaces"
	"github.com/KevinKickass/OpenGripCore/internal/link"
	"github.com/KevinKickass/OpenGripCore/internal/sensor"
	"github.com/KevinKickass/OpenGripCore/internal/storage"
	"github.com/KevinKickass/OpenGripCore/internal/telemetry"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const localCommandBuffer = 8

// LifecycleManager builds the gripper from config, runs the control loop and
// the operator surfaces, and tears everything down in reverse order.
type LifecycleManager struct {
	config    *config.Config
	deviceID  string
	startedAt time.Time
	logger    *zap.Logger

	deviceManager *devices.Manager
	actuator      *actuator.Actuator
	link          *link.Supervisor
	commands      *commands.Source
	publisher     *telemetry.Publisher
	loop          *control.Loop

	postgres *storage.PostgresClient
	dynamo   *storage.DynamoClient
	mqtt     *telemetry.MQTTSink

	authService *auth.AuthService
	wsHub       *websocket.Hub
	health      *HealthReporter
	restServer  *rest.Server
	grpcServer  *grpc.Server

	stateMu      sync.RWMutex
	currentState SystemState

	// cancel stops the control loop, hubCancel the console hub
	cancel       context.CancelFunc
	hubCancel    context.CancelFunc
	loopDone     chan struct{}
	shutdownOnce sync.Once
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

// NewLifecycleManager brings up the hardware first. If the I/O cannot be
// opened or the motor outputs cannot be forced off, an error is returned and
// nothing else is started. Storage and network may be unreachable at this
// point, the control loop copes with that.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	deviceID := cfg.Device.ID
	if deviceID == "" {
		deviceID = uuid.NewString()
		logger.Warn("No device.id configured, using generated instance id", zap.String("device_id", deviceID))
	}

	lm := &LifecycleManager{
		config:       cfg,
		deviceID:     deviceID,
		logger:       logger,
		currentState: StateInitializing,
		health:       NewHealthReporter(),
		loopDone:     make(chan struct{}),
	}

	sampler, err := lm.initHardware(ctx)
	if err != nil {
		return nil, err
	}

	queue, store, audit, err := lm.initStorage(ctx)
	if err != nil {
		lm.closeHardware(ctx)
		return nil, err
	}

	if err := lm.initLink(); err != nil {
		lm.closeStorage()
		lm.closeHardware(ctx)
		return nil, err
	}

	lm.authService = auth.NewAuthService(cfg.Auth, deviceID, audit, lm.logger)
	lm.wsHub = websocket.NewHub(lm.logger, lm.authService)
	lm.wsHub.SetStatusProvider(lm)

	lm.commands = commands.NewSource(queue, localCommandBuffer, lm.logger)
	lm.initTelemetry(store)

	lm.loop, err = control.NewLoop(deviceID, cfg.Loop.Period, control.Components{
		Link:      lm.link,
		Sampler:   sampler,
		Actuator:  lm.actuator,
		Commands:  lm.commands,
		Publisher: lm.publisher,
	}, lm.logger)
	if err != nil {
		lm.closeStorage()
		lm.closeHardware(ctx)
		return nil, err
	}

	lm.link.OnChange(func(state, previous types.LinkState) {
		lm.health.SetLink(state)
		lm.wsHub.BroadcastLinkState(state, previous)
	})
	lm.actuator.OnStateChange(lm.wsHub.BroadcastActuatorState)
	lm.loop.OnCommand(lm.wsHub.BroadcastCommand)

	return lm, nil
}

func (lm *LifecycleManager) initHardware(ctx context.Context) (*sensor.Sampler, error) {
	deviceManager, err := devices.NewManager(lm.config.Hardware.SearchPaths, lm.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create device manager: %w", err)
	}

	backend, profile, err := deviceManager.Open(ctx, lm.config.Hardware)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize hardware: %w", err)
	}
	lm.deviceManager = deviceManager

	act, err := actuator.New(ctx, backend, lm.config.Actuator, lm.logger)
	if err != nil {
		lm.closeHardware(ctx)
		return nil, fmt.Errorf("failed to initialize actuator: %w", err)
	}
	lm.actuator = act

	return sensor.NewSampler(backend, sensor.NewCalibration(profile.Calibration), lm.logger), nil
}

// initStorage returns nil interfaces, not typed nils, for missing parts.
func (lm *LifecycleManager) initStorage(ctx context.Context) (commands.Queue, telemetry.Store, auth.AuditLog, error) {
	switch lm.config.Storage.Backend {
	case "postgres":
		pg, err := storage.NewPostgresClient(ctx, lm.config.Storage.Postgres)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create postgres client: %w", err)
		}
		lm.postgres = pg

		if lm.config.Storage.Postgres.Migrate {
			migrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := pg.EnsureSchema(migrateCtx); err != nil {
				lm.logger.Warn("Schema not applied, database unreachable", zap.Error(err))
			}
			cancel()
		}

		lm.logger.Info("Storage configured",
			zap.String("backend", "postgres"),
			zap.String("host", lm.config.Storage.Postgres.Host))
		return pg, pg, pg, nil

	case "dynamodb":
		dc, err := storage.NewDynamoClient(ctx, lm.config.Storage.DynamoDB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create dynamodb client: %w", err)
		}
		lm.dynamo = dc

		lm.logger.Info("Storage configured",
			zap.String("backend", "dynamodb"),
			zap.String("commands_table", lm.config.Storage.DynamoDB.CommandsTable))
		return dc, dc, nil, nil

	default:
		lm.logger.Warn("No storage backend, commands come from the operator API only")
		return nil, nil, nil, nil
	}
}

func (lm *LifecycleManager) initLink() error {
	linkCfg := lm.config.Link

	// Ohne Adresse wird der Datenbank-Host geprobt
	if linkCfg.Backend == "probe" && linkCfg.ProbeAddress == "" && lm.postgres != nil {
		pg := lm.config.Storage.Postgres
		linkCfg.ProbeAddress = net.JoinHostPort(pg.Host, strconv.Itoa(pg.Port))
	}

	backend, err := link.NewBackend(linkCfg, lm.logger)
	if err != nil {
		return fmt.Errorf("failed to create link backend: %w", err)
	}
	lm.link = link.NewSupervisor(backend, linkCfg, lm.logger)
	return nil
}

func (lm *LifecycleManager) initTelemetry(store telemetry.Store) {
	var sinks []telemetry.Sink
	if store != nil {
		sinks = append(sinks, telemetry.NewStoreSink(lm.config.Storage.Backend, store))
	}
	if lm.config.Telemetry.MQTT.Enabled {
		lm.mqtt = telemetry.NewMQTTSink(lm.config.Telemetry.MQTT, lm.deviceID, lm.logger)
		sinks = append(sinks, lm.mqtt)
	}
	sinks = append(sinks, telemetry.NewLocalSink("console", lm.wsHub))

	lm.publisher = telemetry.NewPublisher(lm.config.Telemetry.PublishTimeout, lm.logger, sinks...)
}

// Start launches the operator surfaces and the control loop.
func (lm *LifecycleManager) Start() error {
	if err := lm.transition(StateInitializing, StateRunning); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel

	go lm.wsHub.Run(runCtx)

	if lm.mqtt != nil {
		lm.mqtt.Connect(5 * time.Second)
	}

	if lm.config.Server.Enabled {
		if err := lm.startServers(); err != nil {
			lm.setState(StateError)
			return err
		}
	}

	loopCtx, loopCancel := context.WithCancel(runCtx)
	lm.cancel = loopCancel
	go func() {
		defer close(lm.loopDone)
		if err := lm.loop.Run(loopCtx); err != nil {
			lm.logger.Error("Control loop failed", zap.Error(err))
		}
	}()

	lm.health.SetRunning(true)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Duration("period", lm.config.Loop.Period),
		zap.String("hardware", lm.config.Hardware.Backend),
		zap.String("storage", lm.config.Storage.Backend),
		zap.String("link", lm.config.Link.Backend),
		zap.Bool("server_enabled", lm.config.Server.Enabled))

	return nil
}

func (lm *LifecycleManager) startServers() error {
	if err := lm.startGRPCServer(); err != nil {
		return fmt.Errorf("failed to start gRPC: %w", err)
	}
	if err := lm.startRESTServer(); err != nil {
		return fmt.Errorf("failed to start REST API: %w", err)
	}
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	lm.health.Register(lm.grpcServer)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// Shutdown stops the control loop first so the motor is halted while the
// hardware is still open, then the servers, then the backends.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()
		lm.health.Shutdown()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	if lm.cancel != nil {
		lm.cancel()
		select {
		case <-lm.loopDone:
		case <-ctx.Done():
			errs = append(errs, errors.New("control loop did not stop before shutdown timeout"))
		}
	}

	if lm.restServer != nil {
		if err := lm.restServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
	}

	if lm.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			lm.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			lm.logger.Warn("Shutdown timeout, forcing gRPC stop")
			lm.grpcServer.Stop()
		}
	}

	if lm.hubCancel != nil {
		lm.hubCancel()
	}

	if lm.mqtt != nil {
		lm.mqtt.Disconnect()
	}

	if err := lm.closeHardware(ctx); err != nil {
		errs = append(errs, fmt.Errorf("hardware close failed: %w", err))
	}

	lm.closeStorage()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) closeHardware(ctx context.Context) error {
	if lm.deviceManager == nil {
		return nil
	}
	return lm.deviceManager.Close(ctx)
}

func (lm *LifecycleManager) closeStorage() {
	if lm.postgres != nil {
		lm.postgres.Close()
	}
}

func (lm *LifecycleManager) transition(from, to SystemState) error {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if lm.currentState != from {
		return fmt.Errorf("cannot enter %s: system is %s", to, lm.currentState)
	}
	if err := ValidateTransition(from, to); err != nil {
		return err
	}
	lm.currentState = to
	if to == StateRunning {
		lm.startedAt = time.Now()
	}
	return nil
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	started := lm.startedAt
	lm.stateMu.RUnlock()

	st := interfaces.SystemStatus{
		State:        state.String(),
		DeviceID:     lm.deviceID,
		StartedAt:    started,
		Link:         lm.link.Status(),
		Actuator:     lm.actuator.Status(),
		Loop:         lm.loop.Status(),
		Publish:      lm.publisher.Stats(),
		PendingLocal: lm.commands.PendingLocal(),
	}
	if p := lm.deviceManager.Profile(); p != nil {
		st.HardwareProfile = p.HardwareProfile.ID
	}
	if out, ok := lm.deviceManager.Outputs(); ok {
		st.Outputs = &out
	}
	return st
}

// GetStatus feeds the console snapshot sent after authentication.
func (lm *LifecycleManager) GetStatus() any {
	return lm.GetCurrentStatus()
}

func (lm *LifecycleManager) LastTelemetry() (types.TelemetrySample, bool) {
	return lm.publisher.Last()
}

func (lm *LifecycleManager) HardwareProfile() *types.HardwareProfile {
	return lm.deviceManager.Profile()
}

func (lm *LifecycleManager) HardwareProfiles() []devices.ProfileSummary {
	return lm.deviceManager.Profiles()
}

// SubmitCommand queues an operator command. The control loop picks it up in
// its next cycle.
func (lm *LifecycleManager) SubmitCommand(rawType string, value *float64) (types.Command, error) {
	if state := lm.State(); state != StateRunning {
		return types.Command{}, fmt.Errorf("system is %s", state)
	}
	return lm.commands.Submit(rawType, value)
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) DeviceID() string {
	return lm.deviceID
}

// HealthReporter is exposed for the in-process health check.
func (lm *LifecycleManager) Health() *HealthReporter {
	return lm.health
}
