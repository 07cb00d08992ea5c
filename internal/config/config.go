package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "ar_recorder.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. ARREC_UPLOAD_SERVERURL.
const EnvPrefix = "ARREC"

// CaptureConfig holds frame sampling and session layout settings
type CaptureConfig struct {
	OutputDir      string        `json:"outputDir" mapstructure:"outputDir"`
	Interval       time.Duration `json:"interval" mapstructure:"interval"`
	MaxImageWidth  int           `json:"maxImageWidth" mapstructure:"maxImageWidth"`
	JPEGQuality    int           `json:"jpegQuality" mapstructure:"jpegQuality"`
	Workers        int           `json:"workers" mapstructure:"workers"`
	QueueSize      int           `json:"queueSize" mapstructure:"queueSize"`
	AnchorDistance float64       `json:"anchorDistance" mapstructure:"anchorDistance"`
}

// StabilityConfig holds the tracking stability gate settings
type StabilityConfig struct {
	Window time.Duration `json:"window" mapstructure:"window"`
}

// UploadConfig holds processing service settings
type UploadConfig struct {
	ServerURL        string        `json:"serverUrl" mapstructure:"serverUrl"`
	ConnectTimeout   time.Duration `json:"connectTimeout" mapstructure:"connectTimeout"`
	ResponseTimeout  time.Duration `json:"responseTimeout" mapstructure:"responseTimeout"`
	TempDir          string        `json:"tempDir" mapstructure:"tempDir"`
	RemoveSessionDir bool          `json:"removeSessionDir" mapstructure:"removeSessionDir"`
}

// MemoryConfig holds in-memory/JSON catalog backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite catalog backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// StorageConfig holds session catalog settings
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Database DatabaseConfig `json:"db" mapstructure:"db"`
}

// InfluxConfig holds InfluxDB telemetry settings
type InfluxConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Host      string `json:"host" mapstructure:"host"`
	Port      string `json:"port" mapstructure:"port"`
	Protocol  string `json:"protocol" mapstructure:"protocol"`
	Token     string `json:"token" mapstructure:"token"`
	Org       string `json:"org" mapstructure:"org"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	BackupDir string `json:"backupDir" mapstructure:"backupDir"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled         bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName     string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout    time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	MetricsInterval time.Duration `json:"metricsInterval" mapstructure:"metricsInterval"`
	Endpoint        string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure        bool          `json:"insecure" mapstructure:"insecure"`
}

// DisplayConfig holds live display settings
type DisplayConfig struct {
	Mode   string `json:"mode" mapstructure:"mode"`
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// RelayConfig holds relay server settings
type RelayConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	MaxUploadSize  int64         `json:"maxUploadSize" mapstructure:"maxUploadSize"`
	Command        []string      `json:"command" mapstructure:"command"`
	WorkDir        string        `json:"workDir" mapstructure:"workDir"`
	ProcessTimeout time.Duration `json:"processTimeout" mapstructure:"processTimeout"`
	CORSOrigins    []string      `json:"corsOrigins" mapstructure:"corsOrigins"`
}

// Addr returns host:port for the relay listener.
func (c RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetDefaults registers every default value. Load calls it; callers that
// run without a config file call it directly.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./arlogs")
	viper.SetDefault("recorderId", "ar-recorder")

	viper.SetDefault("capture.outputDir", "./sessions")
	viper.SetDefault("capture.interval", "200ms")
	viper.SetDefault("capture.maxImageWidth", 0)
	viper.SetDefault("capture.jpegQuality", 90)
	viper.SetDefault("capture.workers", 2)
	viper.SetDefault("capture.queueSize", 8)
	viper.SetDefault("capture.anchorDistance", 0.5)

	viper.SetDefault("stability.window", "2s")

	viper.SetDefault("upload.serverUrl", "http://localhost:8000")
	viper.SetDefault("upload.connectTimeout", "10s")
	viper.SetDefault("upload.responseTimeout", "10m")
	viper.SetDefault("upload.tempDir", "")
	viper.SetDefault("upload.removeSessionDir", false)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./sessions")
	viper.SetDefault("storage.memory.compressOutput", false)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "ar_sessions")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "ar-metrics")
	viper.SetDefault("influx.bucket", "ar_sessions")
	viper.SetDefault("influx.backupDir", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "ar-recorder")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricsInterval", "30s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("display.mode", "log")
	viper.SetDefault("display.url", "")
	viper.SetDefault("display.secret", "")

	viper.SetDefault("relay.host", "0.0.0.0")
	viper.SetDefault("relay.port", 8000)
	viper.SetDefault("relay.maxUploadSize", 100*1024*1024)
	viper.SetDefault("relay.command", []string{})
	viper.SetDefault("relay.workDir", "")
	viper.SetDefault("relay.processTimeout", "15m")
	viper.SetDefault("relay.corsOrigins", []string{"*"})

	viper.SetDefault("monitor.interval", "10s")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
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

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetCaptureConfig returns the frame capture configuration.
func GetCaptureConfig() CaptureConfig {
	return CaptureConfig{
		OutputDir:      viper.GetString("capture.outputDir"),
		Interval:       viper.GetDuration("capture.interval"),
		MaxImageWidth:  viper.GetInt("capture.maxImageWidth"),
		JPEGQuality:    viper.GetInt("capture.jpegQuality"),
		Workers:        viper.GetInt("capture.workers"),
		QueueSize:      viper.GetInt("capture.queueSize"),
		AnchorDistance: viper.GetFloat64("capture.anchorDistance"),
	}
}

// GetStabilityConfig returns the stability gate configuration.
func GetStabilityConfig() StabilityConfig {
	return StabilityConfig{Window: viper.GetDuration("stability.window")}
}

// GetUploadConfig returns the processing service configuration.
func GetUploadConfig() UploadConfig {
	return UploadConfig{
		ServerURL:        viper.GetString("upload.serverUrl"),
		ConnectTimeout:   viper.GetDuration("upload.connectTimeout"),
		ResponseTimeout:  viper.GetDuration("upload.responseTimeout"),
		TempDir:          viper.GetString("upload.tempDir"),
		RemoveSessionDir: viper.GetBool("upload.removeSessionDir"),
	}
}

// GetStorageConfig returns the catalog configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
	}
}

// GetInfluxConfig returns the telemetry configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Protocol:  viper.GetString("influx.protocol"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		Bucket:    viper.GetString("influx.bucket"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:         viper.GetBool("otel.enabled"),
		ServiceName:     viper.GetString("otel.serviceName"),
		BatchTimeout:    viper.GetDuration("otel.batchTimeout"),
		MetricsInterval: viper.GetDuration("otel.metricsInterval"),
		Endpoint:        viper.GetString("otel.endpoint"),
		Insecure:        viper.GetBool("otel.insecure"),
	}
}

// GetDisplayConfig returns the live display configuration.
func GetDisplayConfig() DisplayConfig {
	return DisplayConfig{
		Mode:   viper.GetString("display.mode"),
		URL:    viper.GetString("display.url"),
		Secret: viper.GetString("display.secret"),
	}
}

// GetRelayConfig returns the relay server configuration.
func GetRelayConfig() RelayConfig {
	return RelayConfig{
		Host:           viper.GetString("relay.host"),
		Port:           viper.GetInt("relay.port"),
		MaxUploadSize:  viper.GetInt64("relay.maxUploadSize"),
		Command:        viper.GetStringSlice("relay.command"),
		WorkDir:        viper.GetString("relay.workDir"),
		ProcessTimeout: viper.GetDuration("relay.processTimeout"),
		CORSOrigins:    viper.GetStringSlice("relay.corsOrigins"),
	}
}
