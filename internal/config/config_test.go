package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"capture": { "interval": "100ms", "anchorDistance": 0.75 },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 100*time.Millisecond, viper.GetDuration("capture.interval"))
	assert.Equal(t, 0.75, viper.GetFloat64("capture.anchorDistance"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./arlogs", viper.GetString("logsDir"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "log", viper.GetString("display.mode"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, "ar_sessions", viper.GetString("influx.bucket"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "ar-recorder", viper.GetString("otel.serviceName"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	// Defaults remain usable after a failed load.
	assert.Equal(t, 200*time.Millisecond, GetCaptureConfig().Interval)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("ARREC_UPLOAD_SERVERURL", "http://gpu-box:9000")
	t.Setenv("ARREC_STABILITY_WINDOW", "5s")

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "http://gpu-box:9000", GetUploadConfig().ServerURL)
	assert.Equal(t, 5*time.Second, GetStabilityConfig().Window)
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetCaptureConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetCaptureConfig()
	assert.Equal(t, "./sessions", cfg.OutputDir)
	assert.Equal(t, 200*time.Millisecond, cfg.Interval)
	assert.Equal(t, 0, cfg.MaxImageWidth)
	assert.Equal(t, 90, cfg.JPEGQuality)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 8, cfg.QueueSize)
	assert.Equal(t, 0.5, cfg.AnchorDistance)
	assert.Equal(t, 2*time.Second, GetStabilityConfig().Window)
}

func TestGetUploadConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetUploadConfig()
	assert.Equal(t, "http://localhost:8000", cfg.ServerURL)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ResponseTimeout)
	assert.False(t, cfg.RemoveSessionDir)
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "./sessions", cfg.Memory.OutputDir)
	assert.Equal(t, false, cfg.Memory.CompressOutput)
	assert.Equal(t, 3*time.Minute, cfg.SQLite.DumpInterval)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "ar_sessions", cfg.Database.Database)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": true },
			"sqlite": { "dumpInterval": "10m", "dumpPath": "/tmp/catalog.db" }
		}
	}`)
	require.NoError(t, Load(dir))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, true, sc.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
	assert.Equal(t, "/tmp/catalog.db", sc.SQLite.DumpPath)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"metricsInterval": "1m",
			"endpoint": "localhost:4318",
			"insecure": false
		}
	}`)
	require.NoError(t, Load(dir))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, time.Minute, oc.MetricsInterval)
	assert.Equal(t, "localhost:4318", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetRelayConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"relay": {
			"port": 9100,
			"command": ["python3", "infer.py"],
			"corsOrigins": ["https://viewer.example"]
		}
	}`)
	require.NoError(t, Load(dir))

	rc := GetRelayConfig()
	assert.Equal(t, "0.0.0.0:9100", rc.Addr())
	assert.Equal(t, int64(100*1024*1024), rc.MaxUploadSize)
	assert.Equal(t, []string{"python3", "infer.py"}, rc.Command)
	assert.Equal(t, []string{"https://viewer.example"}, rc.CORSOrigins)
	assert.Equal(t, 15*time.Minute, rc.ProcessTimeout)
}

func TestGetDisplayConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{"display": {"mode": "websocket", "url": "ws://viewer/ws"}}`)))

	dc := GetDisplayConfig()
	assert.Equal(t, "websocket", dc.Mode)
	assert.Equal(t, "ws://viewer/ws", dc.URL)
}
