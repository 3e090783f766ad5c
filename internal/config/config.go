package config

import (
	"fmt"
	"time"

	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "globe_engine.cfg.json"

// EngineConfig holds the tunables of the message pipeline.
type EngineConfig struct {
	WindowSize         int
	QueueSize          int
	PrivacyRadius      float64
	ProximityThreshold float64
	Zoom               ZoomConfig
	Profile            ProfileConfig
}

// ZoomConfig controls the camera move issued on marker activation.
type ZoomConfig struct {
	ThresholdAltitude float64       `json:"thresholdAltitude" mapstructure:"thresholdAltitude"`
	TargetAltitude    float64       `json:"targetAltitude" mapstructure:"targetAltitude"`
	Duration          time.Duration `json:"duration" mapstructure:"duration"`
}

// ProfileConfig controls author profile lookups.
type ProfileConfig struct {
	Limit   int           `json:"limit" mapstructure:"limit"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	PollInterval time.Duration `json:"pollInterval" mapstructure:"pollInterval"`
}

// PostgresConfig holds PostgreSQL storage backend settings. Connection
// parameters live under db.*.
type PostgresConfig struct {
	PollInterval time.Duration `json:"pollInterval" mapstructure:"pollInterval"`
}

// WebsocketConfig holds settings for the push feed server.
type WebsocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// RedisConfig holds Redis storage backend settings
type RedisConfig struct {
	URL       string `json:"url" mapstructure:"url"`
	Key       string `json:"key" mapstructure:"key"`
	Channel   string `json:"channel" mapstructure:"channel"`
	Retention int    `json:"retention" mapstructure:"retention"`
}

// StorageConfig holds storage backend selection and settings
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	SQLite    SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	Postgres  PostgresConfig  `json:"postgres" mapstructure:"postgres"`
	Websocket WebsocketConfig `json:"websocket" mapstructure:"websocket"`
	Redis     RedisConfig     `json:"redis" mapstructure:"redis"`
}

// DBConfig holds PostgreSQL connection parameters.
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.Username, c.Password, c.Database,
	)
}

// ViewerConfig selects how the viewer's location is obtained.
type ViewerConfig struct {
	Source    string `json:"source" mapstructure:"source"`
	Location  string `json:"location" mapstructure:"location"`
	HTTPURL   string `json:"httpUrl" mapstructure:"httpUrl"`
	GeoIPPath string `json:"geoipPath" mapstructure:"geoipPath"`
	IP        string `json:"ip" mapstructure:"ip"`
	Obfuscate bool   `json:"obfuscate" mapstructure:"obfuscate"`
}

// RenderConfig selects the render adapter.
type RenderConfig struct {
	Adapter string `json:"adapter" mapstructure:"adapter"`
	Address string `json:"address" mapstructure:"address"`
	FPS     int    `json:"fps" mapstructure:"fps"`
}

// SessionConfig is the identity of the local user. An empty UID means
// unauthenticated.
type SessionConfig struct {
	UID         string `json:"uid" mapstructure:"uid"`
	DisplayName string `json:"displayName" mapstructure:"displayName"`
	AvatarURL   string `json:"avatarUrl" mapstructure:"avatarUrl"`
}

// Identity returns the session author, if any.
func (c SessionConfig) Identity() (core.AuthorRef, bool) {
	if c.UID == "" {
		return core.AuthorRef{}, false
	}
	return core.AuthorRef{UID: c.UID, DisplayName: c.DisplayName, AvatarURL: c.AvatarURL}, true
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// MonitorConfig controls periodic engine sampling.
type MonitorConfig struct {
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("session.uid", "")
	viper.SetDefault("session.displayName", "")
	viper.SetDefault("session.avatarUrl", "")

	viper.SetDefault("engine.windowSize", 60)
	viper.SetDefault("engine.queueSize", 1024)
	viper.SetDefault("privacy.radiusDegrees", 0.02)
	viper.SetDefault("proximity.thresholdDegrees", 0.05)

	viper.SetDefault("zoom.thresholdAltitude", 1.5)
	viper.SetDefault("zoom.targetAltitude", 0.6)
	viper.SetDefault("zoom.duration", time.Second)

	viper.SetDefault("profile.limit", 5)
	viper.SetDefault("profile.timeout", 10*time.Second)

	viper.SetDefault("render.adapter", "websocket")
	viper.SetDefault("render.address", ":8090")
	viper.SetDefault("render.fps", 30)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.sqlite.path", "globe_engine.db")
	viper.SetDefault("storage.sqlite.pollInterval", 2*time.Second)
	viper.SetDefault("storage.postgres.pollInterval", 2*time.Second)
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/feed")
	viper.SetDefault("storage.websocket.secret", "")
	viper.SetDefault("storage.redis.url", "redis://localhost:6379/0")
	viper.SetDefault("storage.redis.key", "globe:messages")
	viper.SetDefault("storage.redis.channel", "globe:messages:changed")
	viper.SetDefault("storage.redis.retention", 1000)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "globe")

	viper.SetDefault("viewer.source", "none")
	viper.SetDefault("viewer.location", "")
	viper.SetDefault("viewer.httpUrl", "http://ip-api.com")
	viper.SetDefault("viewer.geoipPath", "")
	viper.SetDefault("viewer.ip", "")
	viper.SetDefault("viewer.obfuscate", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "globe-engine")
	viper.SetDefault("influx.bucket", "engine")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "globe-engine")
	viper.SetDefault("otel.batchTimeout", 5*time.Second)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.interval", 5*time.Second)
	viper.SetDefault("monitor.statusFile", "")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.address", ":9102")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetEngineConfig returns the pipeline tunables.
func GetEngineConfig() EngineConfig {
	cfg := EngineConfig{
		WindowSize:         viper.GetInt("engine.windowSize"),
		QueueSize:          viper.GetInt("engine.queueSize"),
		PrivacyRadius:      viper.GetFloat64("privacy.radiusDegrees"),
		ProximityThreshold: viper.GetFloat64("proximity.thresholdDegrees"),
	}
	_ = viper.UnmarshalKey("zoom", &cfg.Zoom)
	_ = viper.UnmarshalKey("profile", &cfg.Profile)
	return cfg
}

// GetStorageConfig returns storage configuration.
func GetStorageConfig() StorageConfig {
	var cfg StorageConfig
	_ = viper.UnmarshalKey("storage", &cfg)
	return cfg
}

// GetDBConfig returns PostgreSQL connection parameters.
func GetDBConfig() DBConfig {
	var cfg DBConfig
	_ = viper.UnmarshalKey("db", &cfg)
	return cfg
}

// GetViewerConfig returns viewer location configuration.
func GetViewerConfig() ViewerConfig {
	var cfg ViewerConfig
	_ = viper.UnmarshalKey("viewer", &cfg)
	return cfg
}

// GetRenderConfig returns render adapter configuration.
func GetRenderConfig() RenderConfig {
	var cfg RenderConfig
	_ = viper.UnmarshalKey("render", &cfg)
	return cfg
}

// GetSessionConfig returns the local user's identity.
func GetSessionConfig() SessionConfig {
	var cfg SessionConfig
	_ = viper.UnmarshalKey("session", &cfg)
	return cfg
}

// GetInfluxConfig returns InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	var cfg InfluxConfig
	_ = viper.UnmarshalKey("influx", &cfg)
	return cfg
}

// GetOTelConfig returns OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	var cfg OTelConfig
	_ = viper.UnmarshalKey("otel", &cfg)
	return cfg
}

// GetMetricsConfig returns Prometheus endpoint configuration.
func GetMetricsConfig() MetricsConfig {
	var cfg MetricsConfig
	_ = viper.UnmarshalKey("metrics", &cfg)
	return cfg
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetMonitorConfig returns engine sampling configuration.
func GetMonitorConfig() MonitorConfig {
	var cfg MonitorConfig
	_ = viper.UnmarshalKey("monitor", &cfg)
	return cfg
}
