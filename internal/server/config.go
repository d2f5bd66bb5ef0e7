package server

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mgebhard/boltwood-dash/internal/boltwood"
	"github.com/mgebhard/boltwood-dash/internal/influx"
)

// Config holds all daemon configuration.
type Config struct {
	// Serial link to the sensor head.
	Sensor boltwood.Config `yaml:"sensor" json:"sensor"`

	// Averaging / history.
	Average AverageConfig `yaml:"average" json:"average"`

	// Time-series export.
	Influx influx.Config `yaml:"influx" json:"influx"`

	// Web dashboard.
	Server ServerConfig `yaml:"server" json:"server"`

	// Logging.
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

type AverageConfig struct {
	IntervalMin int    `yaml:"interval_min" json:"intervalMin"` // minutes between averages
	LogFile     string `yaml:"log_file" json:"logFile"`         // CSV history, empty disables
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn, error
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Sensor: boltwood.Config{
			PortPath:   "/dev/ttyUSB0",
			BaudRate:   4800,
			DataBits:   8,
			Parity:     "N",
			StopBits:   1,
			TimeoutSec: 10,
		},
		Average: AverageConfig{
			IntervalMin: 5,
		},
		Server: ServerConfig{
			ListenAddr: ":8888",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment variable overrides. Falls back to defaults if the YAML is
// missing or malformed.
func LoadConfig(path string, log *slog.Logger) *Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info("no config file, using defaults", "path", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Error("config parse failed, using defaults", "path", path, "error", err)
		cfg = DefaultConfig()
	} else {
		log.Info("config loaded", "path", path)
	}

	// Load .env from the config directory or the CWD; real env wins.
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: BW2_PORT, BW2_BAUD, BW2_PARITY, BW2_TIMEOUT_S, LISTEN_ADDR,
// LOG_LEVEL, AVG_INTERVAL_MIN, AVG_LOG_FILE, INFLUX_URL, INFLUX_TOKEN,
// INFLUX_ORG, INFLUX_BUCKET.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BW2_PORT"); v != "" {
		c.Sensor.PortPath = v
	}
	if v := os.Getenv("BW2_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sensor.BaudRate = n
		}
	}
	if v := os.Getenv("BW2_PARITY"); v != "" {
		c.Sensor.Parity = v
	}
	if v := os.Getenv("BW2_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sensor.TimeoutSec = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AVG_INTERVAL_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Average.IntervalMin = n
		}
	}
	if v := os.Getenv("AVG_LOG_FILE"); v != "" {
		c.Average.LogFile = v
	}
	if v := os.Getenv("INFLUX_URL"); v != "" {
		c.Influx.URL = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		c.Influx.Token = v
	}
	if v := os.Getenv("INFLUX_ORG"); v != "" {
		c.Influx.Org = v
	}
	if v := os.Getenv("INFLUX_BUCKET"); v != "" {
		c.Influx.Bucket = v
	}
}

// ToJSON serializes the config for the API; the Influx token is excluded
// via its json tag.
func (c *Config) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}
