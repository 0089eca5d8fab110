package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Device    DeviceConfig    `mapstructure:"device"`
	Loop      LoopConfig      `mapstructure:"loop"`
	Link      LinkConfig      `mapstructure:"link"`
	Actuator  ActuatorConfig  `mapstructure:"actuator"`
	Hardware  HardwareConfig  `mapstructure:"hardware"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type DeviceConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type LoopConfig struct {
	Period time.Duration `mapstructure:"period"`
}

// LinkConfig carries the network identity and the reconnection budget of a
// single EnsureLink call.
type LinkConfig struct {
	Backend        string        `mapstructure:"backend"` // nmcli, probe, static
	Interface      string        `mapstructure:"interface"`
	SSID           string        `mapstructure:"ssid"`
	Secret         string        `mapstructure:"secret"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay  time.Duration `mapstructure:"max_retry_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	ProbeAddress   string        `mapstructure:"probe_address"`
}

type ActuatorConfig struct {
	EngageHold      time.Duration `mapstructure:"engage_hold"`
	ReleaseHold     time.Duration `mapstructure:"release_hold"`
	StepPulse       time.Duration `mapstructure:"step_pulse"`
	HighDuty        float64       `mapstructure:"high_duty"`
	StepDuty        float64       `mapstructure:"step_duty"`
	PressureCeiling int           `mapstructure:"pressure_ceiling"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type HardwareConfig struct {
	Backend     string   `mapstructure:"backend"` // modbus, sim
	Profile     string   `mapstructure:"profile"`
	SearchPaths []string `mapstructure:"search_paths"`
}

type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // postgres, dynamodb, none
	Postgres DatabaseConfig `mapstructure:"postgres"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"sslmode"`
	MaxConnections int    `mapstructure:"max_connections"`
	Migrate        bool   `mapstructure:"migrate"`
}

type DynamoDBConfig struct {
	Region         string        `mapstructure:"region"`
	Endpoint       string        `mapstructure:"endpoint"`
	CommandsTable  string        `mapstructure:"commands_table"`
	StatusIndex    string        `mapstructure:"status_index"`
	TelemetryTable string        `mapstructure:"telemetry_table"`
	TelemetryTTL   time.Duration `mapstructure:"telemetry_ttl"`
}

type TelemetryConfig struct {
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	MQTT           MQTTConfig    `mapstructure:"mqtt"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv         string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	OperatorUsername     string        `mapstructure:"operator_username"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash"`
	MachineTokenHashes   []string      `mapstructure:"machine_token_hashes"`
	MaxFailedLogins      int           `mapstructure:"max_failed_logins"`
	LockoutDuration      time.Duration `mapstructure:"lockout_duration"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.id", "")
	v.SetDefault("device.name", "gripper")

	v.SetDefault("loop.period", "1s")

	v.SetDefault("link.backend", "probe")
	v.SetDefault("link.interface", "wlan0")
	v.SetDefault("link.ssid", "")
	v.SetDefault("link.secret", "")
	v.SetDefault("link.max_attempts", 3)
	v.SetDefault("link.retry_delay", "500ms")
	v.SetDefault("link.max_retry_delay", "2s")
	v.SetDefault("link.attempt_timeout", "15s")
	v.SetDefault("link.probe_address", "")

	v.SetDefault("actuator.engage_hold", "2s")
	v.SetDefault("actuator.release_hold", "2s")
	v.SetDefault("actuator.step_pulse", "220ms")
	v.SetDefault("actuator.high_duty", 0.9)
	v.SetDefault("actuator.step_duty", 0.5)
	v.SetDefault("actuator.pressure_ceiling", 85)
	v.SetDefault("actuator.poll_interval", "10ms")

	v.SetDefault("hardware.backend", "sim")
	v.SetDefault("hardware.profile", "")
	v.SetDefault("hardware.search_paths", []string{"configs/profiles"})

	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.database", "gripper")
	v.SetDefault("storage.postgres.user", "gripper")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.max_connections", 2)
	v.SetDefault("storage.postgres.migrate", false)
	v.SetDefault("storage.dynamodb.region", "eu-central-1")
	v.SetDefault("storage.dynamodb.endpoint", "")
	v.SetDefault("storage.dynamodb.commands_table", "commands")
	v.SetDefault("storage.dynamodb.status_index", "status-created_at-index")
	v.SetDefault("storage.dynamodb.telemetry_table", "telemetry")
	v.SetDefault("storage.dynamodb.telemetry_ttl", "168h")

	v.SetDefault("telemetry.publish_timeout", "300ms")
	v.SetDefault("telemetry.mqtt.enabled", false)
	v.SetDefault("telemetry.mqtt.broker", "localhost:1883")
	v.SetDefault("telemetry.mqtt.client_id", "")
	v.SetDefault("telemetry.mqtt.username", "")
	v.SetDefault("telemetry.mqtt.password", "")
	v.SetDefault("telemetry.mqtt.topic_prefix", "gripper")
	v.SetDefault("telemetry.mqtt.qos", 0)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("auth.jwt_secret_env", "GRIP_JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.operator_username", "operator")
	v.SetDefault("auth.operator_password_hash", "")
	v.SetDefault("auth.machine_token_hashes", []string{})
	v.SetDefault("auth.max_failed_logins", 5)
	v.SetDefault("auth.lockout_duration", "5m")
}

// Load reads the YAML file at path (skipped when path is empty) and overlays
// GRIP_* environment variables, e.g. GRIP_LINK_SECRET for link.secret.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GRIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate rejects values the control loop cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Loop.Period <= 0 {
		errs = append(errs, errors.New("loop.period must be positive"))
	}

	switch c.Link.Backend {
	case "nmcli", "probe", "static":
	default:
		errs = append(errs, fmt.Errorf("unknown link.backend %q", c.Link.Backend))
	}
	if c.Link.MaxAttempts < 1 {
		errs = append(errs, errors.New("link.max_attempts must be at least 1"))
	}
	if c.Link.RetryDelay <= 0 || c.Link.MaxRetryDelay < c.Link.RetryDelay {
		errs = append(errs, errors.New("link.retry_delay must be positive and not above link.max_retry_delay"))
	}

	a := c.Actuator
	if a.EngageHold <= 0 || a.ReleaseHold <= 0 || a.StepPulse <= 0 || a.PollInterval <= 0 {
		errs = append(errs, errors.New("actuator durations must be positive"))
	}
	if a.HighDuty <= 0 || a.HighDuty > 1 || a.StepDuty <= 0 || a.StepDuty > 1 {
		errs = append(errs, errors.New("actuator duties must be in (0, 1]"))
	}
	if a.PressureCeiling < 1 || a.PressureCeiling > 100 {
		errs = append(errs, errors.New("actuator.pressure_ceiling must be in [1, 100]"))
	}

	switch c.Hardware.Backend {
	case "modbus", "sim":
	default:
		errs = append(errs, fmt.Errorf("unknown hardware.backend %q", c.Hardware.Backend))
	}
	if c.Hardware.Backend == "modbus" && c.Hardware.Profile == "" {
		errs = append(errs, errors.New("hardware.profile is required for the modbus backend"))
	}

	switch c.Storage.Backend {
	case "postgres", "dynamodb", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if c.Telemetry.PublishTimeout <= 0 {
		errs = append(errs, errors.New("telemetry.publish_timeout must be positive"))
	}
	if c.Telemetry.MQTT.QoS > 2 {
		errs = append(errs, errors.New("telemetry.mqtt.qos must be 0, 1 or 2"))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode)
}

// HasIdentity reports whether a network name is configured at all.
func (l *LinkConfig) HasIdentity() bool {
	return strings.TrimSpace(l.SSID) != ""
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "GRIP_JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devJWTSecret
	}
	return secret
}

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

// IsProductionReady is false while the development JWT fallback is in use.
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
